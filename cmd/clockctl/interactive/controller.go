// Package interactive provides the interactive command-line interface
// for the match clock controller.
package interactive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/matchclock-protocol/matchclock-go/pkg/asset"
	"github.com/matchclock-protocol/matchclock-go/pkg/controller"
	"github.com/matchclock-protocol/matchclock-go/pkg/discovery"
	"github.com/matchclock-protocol/matchclock-go/pkg/wire"
)

// Controller handles interactive mode for clockctl.
type Controller struct {
	orch *controller.Orchestrator
	rl   *readline.Instance
}

// New creates a new interactive controller handler.
func New(orch *controller.Orchestrator) (*Controller, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "clockctl> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	return &Controller{orch: orch, rl: rl}, nil
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Controller) Stdout() io.Writer {
	return c.rl.Stdout()
}

// NotifyMasterState prints a master clock update above the prompt.
func (c *Controller) NotifyMasterState(deviceID string, state wire.TimerStatePayload) {
	status := "stopped"
	if state.IsRunning {
		status = "running"
	}
	if state.IsPaused {
		status = "paused"
	}
	fmt.Fprintf(c.rl.Stdout(), "\n[%s] %s: %s %s %s\n",
		time.Now().Format("15:04:05"),
		deviceID,
		state.Phase,
		formatClock(state.TimeLeftSeconds),
		status)
	c.rl.Refresh()
}

// NotifyDeviceChange prints a device connectivity change above the prompt.
func (c *Controller) NotifyDeviceChange(device controller.Device) {
	status := "disconnected"
	if device.Connected {
		status = "connected"
	}
	fmt.Fprintf(c.rl.Stdout(), "\n[%s] Device %s (%s): %s\n",
		time.Now().Format("15:04:05"),
		device.ID, device.Name, status)
	c.rl.Refresh()
}

// NotifyAuthStatus prints an authorization result above the prompt.
func (c *Controller) NotifyAuthStatus(deviceID string, status controller.AuthStatus) {
	verdict := "denied"
	if status.Authorized {
		verdict = "authorized"
	}
	fmt.Fprintf(c.rl.Stdout(), "\n[%s] Device %s: %s\n",
		time.Now().Format("15:04:05"), deviceID, verdict)
	c.rl.Refresh()
}

// Run starts the interactive command loop.
func (c *Controller) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "discover", "d":
			c.cmdDiscover(ctx)

		case "connect":
			c.cmdConnect(ctx, args)

		case "disconnect":
			c.cmdDisconnect(args)

		case "devices", "ls":
			c.cmdDevices()

		case "master":
			c.cmdMaster(args)

		case "start":
			c.printFanOut(c.orch.SendTimerCommand(ctx, controller.CommandStart))

		case "pause":
			c.printFanOut(c.orch.SendTimerCommand(ctx, controller.CommandPause))

		case "resume":
			c.printFanOut(c.orch.SendTimerCommand(ctx, controller.CommandResume))

		case "restart":
			c.printFanOut(c.orch.SendTimerCommand(ctx, controller.CommandRestart))

		case "emergency":
			c.cmdEmergency(ctx, args)

		case "mode":
			c.cmdMode(ctx, args)

		case "settings":
			c.cmdSettings(ctx, args)

		case "sync":
			c.cmdSync(ctx)

		case "session":
			c.cmdSession(ctx, args)

		case "auth":
			c.cmdAuth(args)

		case "upload":
			c.cmdUpload(ctx, args)

		case "delete-audio":
			c.cmdDeleteAudio(ctx, args)

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Controller) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
Match Clock Controller Commands:
  Devices:
    discover                  - Browse the network for clock devices (5s)
    connect <addr> <port> [id] [name] - Connect to a device
    disconnect <device-id>    - Disconnect from a device
    devices                   - List known devices
    master [device-id]        - Show or reassign the master device

  Clock:
    start / pause / resume / restart - Send a clock command to all devices
    emergency <min> <sec>     - Override remaining time on all devices
    mode <centralized|independent> - Set the sync mode on all devices

  Settings:
    settings                  - Show cached master settings
    settings <key> <value>    - Update one master setting (e.g. matchMinutes 45)
    sync                      - Push master settings and clock to followers

  Session:
    session create [password] [owner] - Create a session on the master
    session end               - End the session on the master
    session status            - Request session status from the master
    auth <device-id> <password> - Authenticate against a device

  Audio:
    upload <start|end> <file> - Replicate an MP3 cue to all devices
    delete-audio <start|end>  - Remove a cue from all devices

  General:
    help                      - Show this help
    quit                      - Exit controller`)
}

// cmdDiscover browses mDNS for a few seconds and lists what answered.
func (c *Controller) cmdDiscover(ctx context.Context) {
	browseCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	records, err := discovery.Browse(browseCtx)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Discovery failed: %v\n", err)
		return
	}

	fmt.Fprintln(c.rl.Stdout(), "Browsing for devices (5s)...")
	found := 0
	for rec := range records {
		found++
		fmt.Fprintf(c.rl.Stdout(), "  %s (%s) at %s:%d\n", rec.DeviceID, rec.DeviceName, rec.Addr(), rec.Port)
	}
	if found == 0 {
		fmt.Fprintln(c.rl.Stdout(), "No devices found")
	}
}

// cmdConnect handles the connect command.
func (c *Controller) cmdConnect(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: connect <addr> <port> [id] [name]")
		return
	}

	port, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Invalid port: %v\n", err)
		return
	}

	device := controller.Device{Address: args[0], Port: port}
	if len(args) > 2 {
		device.ID = args[2]
	} else {
		device.ID = fmt.Sprintf("%s:%d", args[0], port)
	}
	if len(args) > 3 {
		device.Name = strings.Join(args[3:], " ")
	} else {
		device.Name = device.ID
	}

	if err := c.orch.Connect(ctx, device); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Connect failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "Connected to %s\n", device.ID)
}

// cmdDisconnect handles the disconnect command.
func (c *Controller) cmdDisconnect(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: disconnect <device-id>")
		return
	}
	c.orch.Disconnect(args[0])
	fmt.Fprintln(c.rl.Stdout(), "Disconnected")
}

// cmdDevices lists all known devices.
func (c *Controller) cmdDevices() {
	devices := c.orch.Devices()
	if len(devices) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "No devices")
		return
	}

	masterID := c.orch.MasterDeviceID()
	fmt.Fprintf(c.rl.Stdout(), "\nDevices (%d):\n", len(devices))
	fmt.Fprintln(c.rl.Stdout(), "-------------------------------------------")
	for _, d := range devices {
		status := "disconnected"
		if d.Connected {
			status = "connected"
		}
		role := ""
		if d.ID == masterID {
			role = " [master]"
		}
		fmt.Fprintf(c.rl.Stdout(), "  %s (%s) %s:%d %s%s\n", d.ID, d.Name, d.Address, d.Port, status, role)
	}
	fmt.Fprintln(c.rl.Stdout())
}

// cmdMaster shows or reassigns the master device.
func (c *Controller) cmdMaster(args []string) {
	if len(args) == 0 {
		masterID := c.orch.MasterDeviceID()
		if masterID == "" {
			fmt.Fprintln(c.rl.Stdout(), "No master device")
			return
		}
		fmt.Fprintf(c.rl.Stdout(), "Master: %s\n", masterID)
		if state := c.orch.LastKnownState(); state != nil {
			fmt.Fprintf(c.rl.Stdout(), "  Clock: %s %s\n", state.Phase, formatClock(state.TimeLeftSeconds))
		}
		return
	}

	if err := c.orch.SetMaster(args[0]); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Failed to set master: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "Master set to %s\n", args[0])
}

// cmdEmergency handles the emergency time command.
func (c *Controller) cmdEmergency(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: emergency <minutes> <seconds>")
		return
	}

	minutes, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Invalid minutes: %v\n", err)
		return
	}
	seconds, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Invalid seconds: %v\n", err)
		return
	}

	c.printFanOut(c.orch.SetEmergencyTime(ctx, minutes, seconds))
}

// cmdMode sets the sync mode on all devices.
func (c *Controller) cmdMode(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: mode <centralized|independent>")
		return
	}

	mode := wire.SyncMode(args[0])
	if !mode.IsValid() {
		fmt.Fprintf(c.rl.Stdout(), "Invalid mode: %s\n", args[0])
		return
	}

	c.printFanOut(c.orch.SetSyncMode(ctx, mode))
}

// cmdSettings shows cached settings or updates a single field on the master.
func (c *Controller) cmdSettings(ctx context.Context, args []string) {
	if len(args) == 0 {
		settings := c.orch.LastKnownSettings()
		if settings == nil {
			masterID := c.orch.MasterDeviceID()
			if masterID == "" {
				fmt.Fprintln(c.rl.Stdout(), "No master device")
				return
			}
			_ = c.orch.RequestSettings(masterID)
			fmt.Fprintln(c.rl.Stdout(), "Settings not cached yet, requested from master; retry shortly")
			return
		}
		c.printSettings(*settings)
		return
	}

	if len(args) < 2 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: settings <key> <value>")
		fmt.Fprintln(c.rl.Stdout(), "  Keys: warmupMinutes, matchMinutes, breakMinutes, timerFontSize, phaseFontSize, timerColor, backgroundColor")
		return
	}

	update, err := settingsUpdate(args[0], strings.Join(args[1:], " "))
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}

	if err := c.orch.UpdateMasterSettings(ctx, update); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Update failed: %v\n", err)
		return
	}
	fmt.Fprintln(c.rl.Stdout(), "OK")
}

// cmdSync pushes master settings and clock state to the followers.
func (c *Controller) cmdSync(ctx context.Context) {
	result, err := c.orch.SyncSettingsFromMaster(ctx)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Sync failed: %v\n", err)
		return
	}
	c.printFanOut(result)
}

// cmdSession handles the session subcommands against the master device.
func (c *Controller) cmdSession(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: session <create|end|status> [password] [owner]")
		return
	}

	masterID := c.orch.MasterDeviceID()
	if masterID == "" {
		fmt.Fprintln(c.rl.Stdout(), "No master device")
		return
	}

	switch args[0] {
	case "create":
		password, owner := "", ""
		if len(args) > 1 {
			password = args[1]
		}
		if len(args) > 2 {
			owner = strings.Join(args[2:], " ")
		}
		if err := c.orch.CreateSession(ctx, masterID, password, owner); err != nil {
			fmt.Fprintf(c.rl.Stdout(), "Create failed: %v\n", err)
			return
		}
		fmt.Fprintln(c.rl.Stdout(), "Session created")

	case "end":
		if err := c.orch.EndSession(ctx, masterID); err != nil {
			fmt.Fprintf(c.rl.Stdout(), "End failed: %v\n", err)
			return
		}
		fmt.Fprintln(c.rl.Stdout(), "Session ended")

	case "status":
		if err := c.orch.RequestSessionStatus(masterID); err != nil {
			fmt.Fprintf(c.rl.Stdout(), "Status request failed: %v\n", err)
			return
		}
		fmt.Fprintln(c.rl.Stdout(), "Status requested (arrives as an event)")

	default:
		fmt.Fprintf(c.rl.Stdout(), "Unknown session command: %s\n", args[0])
	}
}

// cmdAuth authenticates against one device.
func (c *Controller) cmdAuth(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: auth <device-id> <password>")
		return
	}

	if err := c.orch.Authenticate(args[0], args[1]); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Auth request failed: %v\n", err)
		return
	}
	fmt.Fprintln(c.rl.Stdout(), "Auth requested (result arrives as an event)")
}

// cmdUpload replicates an MP3 cue to all devices.
func (c *Controller) cmdUpload(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: upload <start|end> <file.mp3>")
		return
	}

	audioType, ok := parseAudioType(args[0])
	if !ok {
		fmt.Fprintf(c.rl.Stdout(), "Invalid audio type: %s\n", args[0])
		return
	}

	path := args[1]
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Read failed: %v\n", err)
		return
	}

	info, err := c.orch.ValidateAudio(filepath.Base(path), data)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Validation failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "Uploading %s (%d bytes, %ds)...\n", filepath.Base(path), info.Size, info.DurationSeconds)

	result, err := c.orch.UploadAudioToAll(ctx, audioType, filepath.Base(path), data)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Upload failed: %v\n", err)
		return
	}
	c.printFanOut(result)
}

// cmdDeleteAudio removes a cue from all devices.
func (c *Controller) cmdDeleteAudio(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: delete-audio <start|end>")
		return
	}

	audioType, ok := parseAudioType(args[0])
	if !ok {
		fmt.Fprintf(c.rl.Stdout(), "Invalid audio type: %s\n", args[0])
		return
	}

	result, err := c.orch.DeleteAudioFromAll(ctx, audioType)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Delete failed: %v\n", err)
		return
	}
	c.printFanOut(result)
}

// printFanOut renders a multi-device result.
func (c *Controller) printFanOut(result controller.FanOutResult) {
	if result.Total() == 0 {
		fmt.Fprintln(c.rl.Stdout(), "No connected devices")
		return
	}
	fmt.Fprintln(c.rl.Stdout(), result.Summary())
	if result.AllFailed() && result.FirstError != nil {
		fmt.Fprintf(c.rl.Stdout(), "  Reason: %v\n", result.FirstError)
	}
}

// printSettings renders the cached master settings.
func (c *Controller) printSettings(s wire.SettingsPayload) {
	fmt.Fprintln(c.rl.Stdout(), "\nMaster Settings:")
	fmt.Fprintln(c.rl.Stdout(), "-------------------------------------------")
	printIntSetting(c.rl.Stdout(), "warmupMinutes", s.WarmupMinutes)
	printIntSetting(c.rl.Stdout(), "matchMinutes", s.MatchMinutes)
	printIntSetting(c.rl.Stdout(), "breakMinutes", s.BreakMinutes)
	printStrSetting(c.rl.Stdout(), "startSoundUri", s.StartSoundURI)
	printIntSetting(c.rl.Stdout(), "startSoundDurationSeconds", s.StartSoundDurationSeconds)
	printStrSetting(c.rl.Stdout(), "endSoundUri", s.EndSoundURI)
	printIntSetting(c.rl.Stdout(), "endSoundDurationSeconds", s.EndSoundDurationSeconds)
	printIntSetting(c.rl.Stdout(), "timerFontSize", s.TimerFontSize)
	printIntSetting(c.rl.Stdout(), "phaseFontSize", s.PhaseFontSize)
	printStrSetting(c.rl.Stdout(), "timerColor", s.TimerColor)
	printStrSetting(c.rl.Stdout(), "backgroundColor", s.BackgroundColor)
	fmt.Fprintln(c.rl.Stdout())
}

func printIntSetting(w io.Writer, name string, v *int) {
	if v == nil {
		fmt.Fprintf(w, "  %-26s (unset)\n", name)
		return
	}
	fmt.Fprintf(w, "  %-26s %d\n", name, *v)
}

func printStrSetting(w io.Writer, name string, v *string) {
	if v == nil || *v == "" {
		fmt.Fprintf(w, "  %-26s (unset)\n", name)
		return
	}
	fmt.Fprintf(w, "  %-26s %s\n", name, *v)
}

// settingsUpdate builds a single-field partial settings payload.
func settingsUpdate(key, value string) (wire.SettingsPayload, error) {
	var update wire.SettingsPayload

	switch key {
	case "warmupMinutes", "matchMinutes", "breakMinutes", "timerFontSize", "phaseFontSize":
		n, err := strconv.Atoi(value)
		if err != nil {
			return update, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		switch key {
		case "warmupMinutes":
			update.WarmupMinutes = &n
		case "matchMinutes":
			update.MatchMinutes = &n
		case "breakMinutes":
			update.BreakMinutes = &n
		case "timerFontSize":
			update.TimerFontSize = &n
		case "phaseFontSize":
			update.PhaseFontSize = &n
		}

	case "timerColor":
		update.TimerColor = &value
	case "backgroundColor":
		update.BackgroundColor = &value

	default:
		return update, fmt.Errorf("unknown setting: %s", key)
	}

	return update, nil
}

func parseAudioType(s string) (asset.AudioType, bool) {
	switch strings.ToLower(s) {
	case "start":
		return asset.AudioStart, true
	case "end":
		return asset.AudioEnd, true
	default:
		return "", false
	}
}

func formatClock(totalSeconds int) string {
	if totalSeconds < 0 {
		totalSeconds = 0
	}
	return fmt.Sprintf("%02d:%02d", totalSeconds/60, totalSeconds%60)
}
