package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/nightmode/internal/config"
	"github.com/eliteGoblin/focusd/nightmode/internal/domain"
	"github.com/eliteGoblin/focusd/nightmode/internal/infra"
	"github.com/eliteGoblin/focusd/nightmode/internal/usecase"
)

var setCmd = &cobra.Command{
	Use:   "set <preference> <value>...",
	Short: "Change a preference and notify the running service",
	Long: `Changes one preference in the encrypted store and asks the running
service to reload it.

Preferences:
  mode          auto | night | normal
  whitelist     APP... (empty clears the whitelist)
  schedule      off | START END   (e.g. "22:00 06:00")
  alpha         0.0 - 1.0
  color         #RRGGBB | 0xAARRGGBB
  notification  on | off
  float-widget  on | off
  autostart     on | off`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSet,
}

var checkCmd = &cobra.Command{
	Use:   "check [app]",
	Short: "Show whether the screen would be dimmed for an app",
	Long: `Decides whether the screen would be dimmed right now for the given app,
or for the current foreground app when none is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

func runSet(cmd *cobra.Command, args []string) error {
	store, paths, pm, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	prefs, err := store.LoadPreferences()
	if err != nil {
		return fmt.Errorf("failed to load preferences: %w", err)
	}

	tag, err := applyPreference(&prefs, args[0], args[1:])
	if err != nil {
		return err
	}
	if err := store.SavePreference(tag, prefs); err != nil {
		return fmt.Errorf("failed to save %s: %w", tag, err)
	}
	fmt.Printf("%s updated\n", tag)

	err = reloadService(store, pm)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotRunning) {
		return err
	}

	// Nobody else will sync the login entry while the service is down.
	if tag == domain.TagAutoStart {
		return syncAutostart(paths, prefs.AutoStart)
	}
	fmt.Println("Service not running; the change applies on next start.")
	return nil
}

// reloadService sends SIGHUP to the live service.
func reloadService(registry domain.DaemonRegistry, pm domain.ProcessManager) error {
	entry, _ := registry.GetAll()
	serviceAlive, _ := liveness(pm, entry)
	if !serviceAlive {
		return ErrNotRunning
	}
	if err := pm.Signal(entry.ServicePID, syscall.SIGHUP); err != nil {
		return fmt.Errorf("failed to notify service: %w", err)
	}
	return nil
}

func syncAutostart(paths *infra.Paths, enabled bool) error {
	autostart := infra.NewAutostartManager(paths)
	if !enabled {
		return autostart.Uninstall()
	}
	execPath, err := executablePath(paths)
	if err != nil {
		return err
	}
	if err := autostart.Install(execPath); err != nil {
		return fmt.Errorf("failed to install autostart: %w", err)
	}
	fmt.Println("Autostart installed")
	return nil
}

// applyPreference parses values for the named preference into p and returns
// the tag to persist.
func applyPreference(p *domain.Preferences, name string, values []string) (domain.PreferenceTag, error) {
	switch strings.ToLower(name) {
	case "mode":
		if err := expectValues(name, values, 1); err != nil {
			return "", err
		}
		mode, err := domain.ParseMode(values[0])
		if err != nil {
			return "", err
		}
		p.Mode = mode
		return domain.TagMode, nil

	case "whitelist":
		p.Whitelist = usecase.FormatWhitelist(values)
		return domain.TagWhitelist, nil

	case "schedule":
		if len(values) == 1 && strings.EqualFold(values[0], "off") {
			p.ScheduleEnabled = false
			return domain.TagSchedule, nil
		}
		if err := expectValues(name, values, 2); err != nil {
			return "", err
		}
		buckets, err := formatSchedule(values[0], values[1])
		if err != nil {
			return "", err
		}
		p.ScheduleEnabled = true
		p.TimeBuckets = buckets
		return domain.TagSchedule, nil

	case "alpha":
		if err := expectValues(name, values, 1); err != nil {
			return "", err
		}
		alpha, err := parseAlpha(values[0])
		if err != nil {
			return "", err
		}
		p.Alpha = alpha
		return domain.TagAlpha, nil

	case "color":
		if err := expectValues(name, values, 1); err != nil {
			return "", err
		}
		color, err := parseColor(values[0])
		if err != nil {
			return "", err
		}
		p.Color = color
		return domain.TagColor, nil

	case "notification", "float-widget", "autostart":
		if err := expectValues(name, values, 1); err != nil {
			return "", err
		}
		on, err := parseSwitch(values[0])
		if err != nil {
			return "", err
		}
		switch strings.ToLower(name) {
		case "notification":
			p.Notification = on
			return domain.TagNotification, nil
		case "float-widget":
			p.FloatWidget = on
			return domain.TagFloatWidget, nil
		default:
			p.AutoStart = on
			return domain.TagAutoStart, nil
		}
	}
	return "", fmt.Errorf("unknown preference %q", name)
}

func expectValues(name string, values []string, n int) error {
	if len(values) != n {
		return fmt.Errorf("%s takes %d value(s), got %d", name, n, len(values))
	}
	return nil
}

// formatSchedule validates both ends and returns the stored "HH:MM|HH:MM" form.
func formatSchedule(start, end string) (string, error) {
	s, err := domain.ParseTimeOfDay(start)
	if err != nil {
		return "", err
	}
	e, err := domain.ParseTimeOfDay(end)
	if err != nil {
		return "", err
	}
	if s == e {
		return "", fmt.Errorf("schedule start and end are both %s", s)
	}
	return s.String() + "|" + e.String(), nil
}

func parseAlpha(s string) (float64, error) {
	alpha, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid alpha %q", s)
	}
	if alpha < 0 || alpha > 1 {
		return 0, fmt.Errorf("alpha %v out of range [0, 1]", alpha)
	}
	return alpha, nil
}

// parseColor accepts "#RRGGBB" (opaque) or "0xAARRGGBB".
func parseColor(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "#") && len(s) == 7:
		rgb, err := strconv.ParseUint(s[1:], 16, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid color %q", s)
		}
		return 0xFF000000 | uint32(rgb), nil

	case (strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) && len(s) == 10:
		argb, err := strconv.ParseUint(s[2:], 16, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid color %q", s)
		}
		return uint32(argb), nil
	}
	return 0, fmt.Errorf("invalid color %q (want #RRGGBB or 0xAARRGGBB)", s)
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func runCheck(cmd *cobra.Command, args []string) error {
	store, paths, pm, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	prefs, err := store.LoadPreferences()
	if err != nil {
		return fmt.Errorf("failed to load preferences: %w", err)
	}

	app := domain.AppUnknown
	if len(args) == 1 {
		app = domain.AppIdentity(args[0])
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		app, err = infra.NewForegroundQuery(pm).Current(ctx)
		if err != nil {
			logger.Debug("foreground query failed", zap.Error(err))
			app = domain.AppUnknown
		}
	}

	cfgManager := config.NewManager(paths.DataDir)
	if err := cfgManager.Load(); err != nil {
		logger.Warn("failed to load config, using defaults", zap.Error(err))
	}
	exempt := cfgManager.Get().Monitor.ExemptApps

	modeCfg, windowActive, err := usecase.EffectiveModeConfig(prefs, time.Now())
	if err != nil {
		logger.Warn("schedule ignored", zap.Error(err))
	}

	ids := make([]domain.AppIdentity, 0, len(exempt))
	for _, e := range exempt {
		ids = append(ids, domain.AppIdentity(e))
	}
	dimmed := usecase.NewModeDecider(logger, ids...).Decide(app, modeCfg)

	fmt.Printf("App: %s\n", orNone(string(app)))
	fmt.Printf("Mode: %s\n", prefs.Mode)
	if windowActive {
		fmt.Println("Schedule window: active (forces night)")
	}
	if dimmed {
		fmt.Println("Decision: DIM")
	} else {
		fmt.Println("Decision: NORMAL")
	}
	return nil
}
