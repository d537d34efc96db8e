// Command clockd runs a match clock timer device.
//
// The daemon owns the authoritative local countdown, serves the command
// and broadcast protocol on a websocket, and advertises itself over mDNS
// so controllers can discover it.
//
// Usage:
//
//	clockd [flags]
//
// Flags:
//
//	-id string          Device id (default: generated)
//	-name string        Device display name (default "Match Clock")
//	-port int           Listen port (default 8080)
//	-data string        Data directory (default "./clockd-data")
//	-config string      YAML configuration file path
//	-log-level string   Log level: debug, info, warn, error (default "info")
//	-no-mdns            Disable mDNS advertisement
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/matchclock-protocol/matchclock-go/pkg/asset"
	"github.com/matchclock-protocol/matchclock-go/pkg/device"
	"github.com/matchclock-protocol/matchclock-go/pkg/discovery"
	"github.com/matchclock-protocol/matchclock-go/pkg/persistence"
	"github.com/matchclock-protocol/matchclock-go/pkg/session"
	"github.com/matchclock-protocol/matchclock-go/pkg/timer"
	"github.com/matchclock-protocol/matchclock-go/pkg/version"
)

// Config holds the device configuration.
type Config struct {
	DeviceID   string `yaml:"device_id"`
	DeviceName string `yaml:"device_name"`
	Port       int    `yaml:"port"`
	DataDir    string `yaml:"data_dir"`
	LogLevel   string `yaml:"log_level"`
	NoMDNS     bool   `yaml:"no_mdns"`
}

func main() {
	var (
		config     Config
		configFile string
	)

	flag.StringVar(&config.DeviceID, "id", "", "Device id (default: generated)")
	flag.StringVar(&config.DeviceName, "name", "Match Clock", "Device display name")
	flag.IntVar(&config.Port, "port", 8080, "Listen port")
	flag.StringVar(&config.DataDir, "data", "./clockd-data", "Data directory")
	flag.StringVar(&configFile, "config", "", "YAML configuration file path")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.BoolVar(&config.NoMDNS, "no-mdns", false, "Disable mDNS advertisement")
	flag.Parse()

	if configFile != "" {
		if err := loadConfigFile(configFile, &config); err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
	}
	if config.DeviceID == "" {
		config.DeviceID = uuid.NewString()[:8]
	}

	logger := newLogger(config.LogLevel)

	if err := run(config, logger); err != nil {
		logger.Fatal().Err(err).Msg("clockd failed")
	}
}

func run(config Config, logger zerolog.Logger) error {
	settingsStore := persistence.NewSettingsStore(filepath.Join(config.DataDir, "settings.json"))
	sessionStore := persistence.NewSessionStore(filepath.Join(config.DataDir, "session.json"))
	assetStore := asset.NewStore(filepath.Join(config.DataDir, "audio"), logger)

	settings, err := settingsStore.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	engine, err := timer.NewEngine(timer.EngineConfig{
		Settings: settings,
		Logger:   logger.With().Str("component", "engine").Logger(),
	})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	authority, err := session.NewAuthority(session.AuthorityConfig{
		Store:  sessionStore,
		Logger: logger.With().Str("component", "session").Logger(),
	})
	if err != nil {
		return fmt.Errorf("create session authority: %w", err)
	}

	server, err := device.NewServer(device.ServerConfig{
		DeviceID:   config.DeviceID,
		DeviceName: config.DeviceName,
		Address:    fmt.Sprintf(":%d", config.Port),
		Engine:     engine,
		Authority:  authority,
		Settings:   settingsStore,
		Assets:     assetStore,
		Logger:     logger.With().Str("component", "server").Logger(),
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine.Run(ctx)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	defer server.Stop()

	if !config.NoMDNS {
		advertiser := discovery.NewAdvertiser(discovery.AdvertiserConfig{})
		if err := advertiser.Register(config.Port, config.DeviceID, config.DeviceName); err != nil {
			logger.Warn().Err(err).Msg("mdns registration failed, continuing without discovery")
		} else {
			defer advertiser.Unregister()
		}
	}

	logger.Info().Str("device_id", config.DeviceID).Int("port", config.Port).Str("version", version.App).Msg("clockd running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	cancel()
	engine.Wait()
	return nil
}

func loadConfigFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, config)
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()
}
