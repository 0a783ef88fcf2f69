package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eliteGoblin/focusd/nightmode/internal/config"
	"github.com/eliteGoblin/focusd/nightmode/internal/daemon"
	"github.com/eliteGoblin/focusd/nightmode/internal/domain"
	"github.com/eliteGoblin/focusd/nightmode/internal/infra"
	"github.com/eliteGoblin/focusd/nightmode/internal/schedule"
)

func runDaemon(cmd *cobra.Command, args []string) error {
	if daemonRole == "" {
		return fmt.Errorf("--role is required")
	}
	role := domain.DaemonRole(daemonRole)

	paths := infra.DetectPaths()
	if err := paths.Ensure(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	cfgManager := config.NewManager(paths.DataDir)
	cfgErr := cfgManager.Load()
	cfg := cfgManager.Get()

	// Set up logger (writes to <data dir>/nightmode.log)
	logger := createLogger(paths.LogPath, cfg.LogLevel()).With(zap.String("role", string(role)))
	defer func() { _ = logger.Sync() }()
	if cfgErr != nil {
		logger.Warn("failed to load config, using defaults", zap.Error(cfgErr))
	}
	cfgManager.SetLogger(logger)

	pm := infra.NewProcessManager()
	d := domain.Daemon{
		PID:        pm.GetCurrentPID(),
		Role:       role,
		StartedAt:  time.Now(),
		AppVersion: Version,
	}

	store, err := infra.OpenStore(paths.DataDir, pm)
	if err != nil {
		logger.Error("failed to open store", zap.Error(err))
		return err
	}
	defer store.Close()

	execPath, err := executablePath(paths)
	if err != nil {
		return err
	}

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	switch role {
	case domain.RoleService:
		return runService(ctx, cancel, cfgManager, store, pm, paths, execPath, d, logger)

	case domain.RoleGuardian:
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		go func() {
			select {
			case <-sigChan:
				logger.Info("received shutdown signal")
				cancel()
			case <-ctx.Done():
			}
		}()

		guardian := daemon.NewGuardian(
			cfg.Guardian(),
			store,
			store,
			func() error { return daemon.StartDaemonWithPath(execPath, domain.RoleService) },
			d,
			logger,
		)
		return ignoreCanceled(guardian.Run(ctx))

	default:
		return fmt.Errorf("unknown role: %s", role)
	}
}

func runService(
	ctx context.Context,
	cancel context.CancelFunc,
	cfgManager *config.Manager,
	store *infra.EncryptedStore,
	pm domain.ProcessManager,
	paths *infra.Paths,
	execPath string,
	d domain.Daemon,
	logger *zap.Logger,
) error {
	cfg := cfgManager.Get()

	// Alarm and tray callbacks post into the service, which needs them at construction.
	var svc *daemon.Service

	// Close runs the final dim_out queued by shutdown before the process exits.
	overlay := infra.NewCommandOverlay(cfg.OverlayHooks(), logger)
	defer overlay.Close()
	alarms := schedule.NewAlarmClock(func(tag string) { svc.AlarmFired(tag) }, logger)
	defer alarms.Close()

	svc = daemon.NewService(
		cfg.Service(execPath),
		daemon.ServiceDeps{
			Store:     store,
			Registry:  store,
			Query:     infra.NewForegroundQuery(pm),
			Overlay:   overlay,
			Schedule:  alarms,
			Notifier:  infra.NewNotificationSink(logger),
			Widget:    infra.NewTrayWidget(func() { svc.Toggle() }, logger),
			Autostart: infra.NewAutostartManager(paths),
		},
		d,
		logger,
	)

	cfgManager.OnConfigChange(func(updated *config.Config) {
		overlay.SetHooks(updated.OverlayHooks())
		svc.UpdateConfig(updated.Service(execPath))
	})
	if err := cfgManager.Watch(); err != nil {
		logger.Warn("config hot reload disabled", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(svc.Run(gctx))
	})

	g.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		for {
			select {
			case <-gctx.Done():
				return nil
			case sig := <-sigChan:
				if sig == syscall.SIGHUP {
					logger.Info("reloading preferences")
					svc.Reload()
					continue
				}
				logger.Info("received shutdown signal", zap.String("signal", sig.String()))
				cancel()
				return nil
			}
		}
	})

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
