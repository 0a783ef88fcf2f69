package infra

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/eliteGoblin/focusd/nightmode/internal/domain"
)

const (
	// LaunchdLabel names the LaunchAgent.
	LaunchdLabel = "com.nightmode.agent"

	// SystemdUnitName names the systemd user unit.
	SystemdUnitName = "nightmode.service"
)

// ErrAutostartUnsupported is returned on platforms without a login hook.
var ErrAutostartUnsupported = errors.New("autostart is not supported on this platform")

// LaunchAgent plist template (runs as user)
var launchAgentTemplate = template.Must(template.New("plist").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
        <string>start</string>
    </array>

    <key>RunAtLoad</key>
    <true/>

    <key>StandardOutPath</key>
    <string>{{.LogPath}}</string>

    <key>StandardErrorPath</key>
    <string>{{.LogPath}}</string>

    <key>ProcessType</key>
    <string>Interactive</string>
</dict>
</plist>
`))

// systemd user unit template. `start` spawns detached daemons and exits.
var systemdUnitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=Night mode - dims the screen for selected apps
After=graphical-session.target

[Service]
Type=oneshot
RemainAfterExit=yes
ExecStart={{.ExecutablePath}} start
ExecStop={{.ExecutablePath}} stop

[Install]
WantedBy=default.target
`))

type unitConfig struct {
	Label          string
	ExecutablePath string
	LogPath        string
}

// commandRunner runs an external command, returning its error.
type commandRunner func(name string, args ...string) error

func runCommand(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

// UnitFile is a login entry rendered from a template and registered with a
// service manager.
type UnitFile struct {
	path     string
	tmpl     *template.Template
	config   unitConfig
	register func(run commandRunner, path string) error
	remove   func(run commandRunner, path string)
	run      commandRunner
}

// Render returns the unit content for execPath.
func (u *UnitFile) Render(execPath string) ([]byte, error) {
	cfg := u.config
	cfg.ExecutablePath = execPath

	var buf bytes.Buffer
	if err := u.tmpl.Execute(&buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", filepath.Base(u.path), err)
	}
	return buf.Bytes(), nil
}

// Install writes the unit and registers it.
func (u *UnitFile) Install(execPath string) error {
	if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
		execPath = resolved
	}
	content, err := u.Render(execPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(u.path), 0755); err != nil {
		return fmt.Errorf("could not create %s: %w", filepath.Dir(u.path), err)
	}
	if err := os.WriteFile(u.path, content, 0644); err != nil {
		return fmt.Errorf("could not write %s: %w", u.path, err)
	}
	return u.register(u.run, u.path)
}

// Uninstall deregisters and removes the unit.
func (u *UnitFile) Uninstall() error {
	u.remove(u.run, u.path)
	if err := os.Remove(u.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not remove %s: %w", u.path, err)
	}
	return nil
}

// IsInstalled checks if the unit file exists.
func (u *UnitFile) IsInstalled() bool {
	_, err := os.Stat(u.path)
	return err == nil
}

// Path returns the unit file location.
func (u *UnitFile) Path() string {
	return u.path
}

// NewLaunchAgent manages ~/Library/LaunchAgents/<label>.plist.
func NewLaunchAgent(home string, paths *Paths) *UnitFile {
	return &UnitFile{
		path: filepath.Join(home, "Library", "LaunchAgents", LaunchdLabel+".plist"),
		tmpl: launchAgentTemplate,
		config: unitConfig{
			Label:   LaunchdLabel,
			LogPath: paths.LogPath,
		},
		register: func(run commandRunner, path string) error {
			// Replacing a loaded agent requires unloading it first.
			_ = run("launchctl", "unload", path)
			if err := run("launchctl", "load", path); err != nil {
				return fmt.Errorf("launchctl load: %w", err)
			}
			return nil
		},
		remove: func(run commandRunner, path string) {
			_ = run("launchctl", "unload", path)
		},
		run: runCommand,
	}
}

// NewSystemdUnit manages ~/.config/systemd/user/nightmode.service.
func NewSystemdUnit(home string) *UnitFile {
	return &UnitFile{
		path: filepath.Join(home, ".config", "systemd", "user", SystemdUnitName),
		tmpl: systemdUnitTemplate,
		register: func(run commandRunner, _ string) error {
			if err := run("systemctl", "--user", "daemon-reload"); err != nil {
				return fmt.Errorf("could not reload systemd: %w", err)
			}
			if err := run("systemctl", "--user", "enable", SystemdUnitName); err != nil {
				return fmt.Errorf("could not enable service: %w", err)
			}
			return nil
		},
		remove: func(run commandRunner, _ string) {
			_ = run("systemctl", "--user", "disable", SystemdUnitName)
			_ = run("systemctl", "--user", "daemon-reload")
		},
		run: runCommand,
	}
}

// unsupportedAutostart reports ErrAutostartUnsupported.
type unsupportedAutostart struct{}

func (unsupportedAutostart) Install(string) error { return ErrAutostartUnsupported }
func (unsupportedAutostart) Uninstall() error     { return nil }
func (unsupportedAutostart) IsInstalled() bool    { return false }

var (
	_ domain.AutostartManager = (*UnitFile)(nil)
	_ domain.AutostartManager = unsupportedAutostart{}
)
