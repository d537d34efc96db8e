// Command clockctl is an interactive controller for match clock devices.
//
// It discovers devices over mDNS, keeps a websocket per device with
// automatic reconnection, mirrors the master clock, and fans commands out
// to every connected device.
//
// Usage:
//
//	clockctl [flags]
//
// Flags:
//
//	-id string          Controller id (default: generated)
//	-log-level string   Log level: debug, info, warn, error (default "warn")
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/matchclock-protocol/matchclock-go/cmd/clockctl/interactive"
	"github.com/matchclock-protocol/matchclock-go/pkg/controller"
	"github.com/matchclock-protocol/matchclock-go/pkg/version"
	"github.com/matchclock-protocol/matchclock-go/pkg/wire"
)

func main() {
	var (
		controllerID string
		logLevel     string
	)
	flag.StringVar(&controllerID, "id", "", "Controller id (default: generated)")
	flag.StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	flag.Parse()

	if controllerID == "" {
		controllerID = "clockctl-" + uuid.NewString()[:8]
	}

	if err := run(controllerID, logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "clockctl: %v\n", err)
		os.Exit(1)
	}
}

func run(controllerID, logLevel string) error {
	// The UI is created after the orchestrator it drives, so the callbacks
	// are late-bound through this pointer.
	var ui *interactive.Controller

	config := controller.Config{
		ControllerID: controllerID,
		OnMasterState: func(deviceID string, state wire.TimerStatePayload) {
			ui.NotifyMasterState(deviceID, state)
		},
		OnDeviceChange: func(device controller.Device) {
			ui.NotifyDeviceChange(device)
		},
		OnAuthStatus: func(deviceID string, status controller.AuthStatus) {
			ui.NotifyAuthStatus(deviceID, status)
		},
	}

	orch, err := controller.New(config)
	if err != nil {
		return err
	}
	defer orch.Close()

	ui, err = interactive.New(orch)
	if err != nil {
		return err
	}
	fmt.Fprintf(ui.Stdout(), "clockctl %s (protocol %s)\n", version.App, version.Current)

	// Log output reaches the terminal through readline's writer so it does
	// not mangle the prompt.
	lvl, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		lvl = zerolog.WarnLevel
	}
	orch.SetLogger(zerolog.New(zerolog.ConsoleWriter{Out: ui.Stdout()}).Level(lvl).With().Timestamp().Logger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	ui.Run(ctx, cancel)
	return nil
}
