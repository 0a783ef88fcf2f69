// Package main is the CLI entry point for nightmode.
package main

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/nightmode/internal/daemon"
	"github.com/eliteGoblin/focusd/nightmode/internal/domain"
	"github.com/eliteGoblin/focusd/nightmode/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

// ErrNotRunning is returned by commands that need a live service.
var ErrNotRunning = errors.New("nightmode is not running")

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nightmode",
	Short: "Per-application night mode - dims the screen for chosen apps",
	Long: `nightmode is a background service that dims the screen while
selected applications are in the foreground, always, or during a daily
time window. A guardian daemon restarts the service if it dies.

Preferences are kept in an encrypted store under ~/.nightmode.`,
	Version:      Version,
	SilenceUsage: true,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the night mode service and its guardian",
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the night mode service and its guardian",
	RunE:  runStop,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon state and current preferences",
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

// Hidden daemon command - used for self-exec when spawning daemons
var daemonCmd = &cobra.Command{
	Use:    "daemon",
	Hidden: true,
	RunE:   runDaemon,
}

var (
	daemonRole string
	jsonOutput bool
)

func init() {
	daemonCmd.Flags().StringVar(&daemonRole, "role", "", "Daemon role (service/guardian)")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
}

// openStore opens the encrypted store for the invoking user.
func openStore() (*infra.EncryptedStore, *infra.Paths, domain.ProcessManager, error) {
	paths := infra.DetectPaths()
	if err := paths.Ensure(); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	pm := infra.NewProcessManager()
	store, err := infra.OpenStore(paths.DataDir, pm)
	if err != nil {
		return nil, nil, nil, err
	}
	return store, paths, pm, nil
}

// executablePath returns the installed binary if present, else the running one.
func executablePath(paths *infra.Paths) (string, error) {
	if _, err := os.Stat(paths.BinaryPath); err == nil {
		return paths.BinaryPath, nil
	}
	path, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	return path, nil
}

func runStart(cmd *cobra.Command, args []string) error {
	store, paths, pm, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	entry, _ := store.GetAll()
	serviceAlive, guardianAlive := liveness(pm, entry)
	if serviceAlive && guardianAlive {
		fmt.Println("nightmode is already running")
		return nil
	}

	binaryPath, err := executablePath(paths)
	if err != nil {
		return err
	}

	// The guardian exits on its own while this is false.
	if err := store.SetServiceRunning(true); err != nil {
		return fmt.Errorf("failed to mark service running: %w", err)
	}

	switch {
	case !serviceAlive && !guardianAlive:
		if err := daemon.StartBothDaemons(binaryPath); err != nil {
			return fmt.Errorf("failed to start daemons: %w", err)
		}
	case !serviceAlive:
		if err := daemon.StartDaemonWithPath(binaryPath, domain.RoleService); err != nil {
			return err
		}
	default:
		if err := daemon.StartDaemonWithPath(binaryPath, domain.RoleGuardian); err != nil {
			return err
		}
	}

	// Wait a moment for daemons to register
	time.Sleep(500 * time.Millisecond)

	fmt.Println("\n=== nightmode Started ===")
	fmt.Printf("Binary: %s\n", binaryPath)
	fmt.Printf("Log: %s\n", paths.LogPath)
	fmt.Println("=========================")
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	store, _, pm, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SetServiceRunning(false); err != nil {
		return fmt.Errorf("failed to mark service stopped: %w", err)
	}

	entry, _ := store.GetAll()
	serviceAlive, guardianAlive := liveness(pm, entry)
	if !serviceAlive && !guardianAlive {
		fmt.Println("nightmode is not running")
		return nil
	}

	// Guardian first so it cannot restart the service in between.
	if guardianAlive {
		if err := pm.Signal(entry.GuardianPID, syscall.SIGTERM); err != nil {
			fmt.Printf("Warning: could not stop guardian: %v\n", err)
		}
	}
	if serviceAlive {
		if err := pm.Signal(entry.ServicePID, syscall.SIGTERM); err != nil {
			return fmt.Errorf("failed to stop service: %w", err)
		}
	}

	fmt.Println("nightmode stopped")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, paths, pm, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Println("\n=== nightmode Status ===")

	entry, _ := store.GetAll()
	serviceAlive, guardianAlive := liveness(pm, entry)
	switch {
	case serviceAlive && guardianAlive:
		fmt.Println("Status: RUNNING")
	case serviceAlive || guardianAlive:
		fmt.Println("Status: DEGRADED")
		if !serviceAlive {
			fmt.Println("        Service is down (will be restarted by guardian)")
		}
		if !guardianAlive {
			fmt.Println("        Guardian is down")
		}
	default:
		fmt.Println("Status: NOT RUNNING")
	}

	if entry != nil && entry.LastHeartbeat > 0 {
		lastBeat := time.Unix(entry.LastHeartbeat, 0)
		fmt.Printf("Last heartbeat: %s ago\n", time.Since(lastBeat).Round(time.Second))
	}

	prefs, err := store.LoadPreferences()
	if err != nil {
		return fmt.Errorf("failed to load preferences: %w", err)
	}
	fmt.Println()
	printPreferences(prefs)

	autostart := infra.NewAutostartManager(paths)
	fmt.Printf("Autostart entry: %s\n", onOff(autostart.IsInstalled()))
	fmt.Printf("Store: %s\n", store.Path())
	fmt.Println("========================")
	return nil
}

func printPreferences(p domain.Preferences) {
	fmt.Printf("Mode: %s\n", p.Mode)
	fmt.Printf("Whitelist: %s\n", orNone(p.Whitelist))
	if p.ScheduleEnabled {
		fmt.Printf("Schedule: %s\n", p.TimeBuckets)
	} else {
		fmt.Println("Schedule: off")
	}
	fmt.Printf("Alpha: %.2f\n", p.Alpha)
	fmt.Printf("Color: 0x%08X\n", p.Color)
	fmt.Printf("Notification: %s\n", onOff(p.Notification))
	fmt.Printf("Float widget: %s\n", onOff(p.FloatWidget))
	fmt.Printf("Autostart: %s\n", onOff(p.AutoStart))
	fmt.Printf("Service wanted: %s\n", onOff(p.ServiceRunning))
}

// liveness reports whether each registered daemon is still running.
func liveness(pm domain.ProcessManager, entry *domain.RegistryEntry) (service, guardian bool) {
	if entry == nil {
		return false, false
	}
	return pm.IsRunning(entry.ServicePID), pm.IsRunning(entry.GuardianPID)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func createLogger(logPath string, level zapcore.Level) *zap.Logger {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.OutputPaths = []string{logPath}
	config.ErrorOutputPaths = []string{logPath}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		// Fallback to stdout if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("nightmode %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
