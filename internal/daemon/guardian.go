package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/nightmode/internal/domain"
)

// GuardianConfig holds guardian daemon configuration.
type GuardianConfig struct {
	ServiceCheckInterval time.Duration // How often to check the service
	HeartbeatInterval    time.Duration // How often to update heartbeat
}

// DefaultGuardianConfig returns default guardian configuration.
func DefaultGuardianConfig() GuardianConfig {
	return GuardianConfig{
		ServiceCheckInterval: 10 * time.Second,
		HeartbeatInterval:    30 * time.Second,
	}
}

// ServiceStarter spawns the service daemon.
type ServiceStarter func() error

// Guardian restarts the service daemon when it dies while the user still
// wants it running. It exits on its own once the service is switched off.
type Guardian struct {
	config   GuardianConfig
	registry domain.DaemonRegistry
	store    domain.ConfigStore
	starter  ServiceStarter
	logger   *zap.Logger
	daemon   domain.Daemon
}

// NewGuardian creates a new guardian daemon.
func NewGuardian(
	config GuardianConfig,
	registry domain.DaemonRegistry,
	store domain.ConfigStore,
	starter ServiceStarter,
	daemon domain.Daemon,
	logger *zap.Logger,
) *Guardian {
	return &Guardian{
		config:   config,
		registry: registry,
		store:    store,
		starter:  starter,
		daemon:   daemon,
		logger:   logger,
	}
}

// Run starts the guardian daemon loop.
// This blocks until context is canceled or the service is switched off.
func (g *Guardian) Run(ctx context.Context) error {
	if err := g.registry.Register(g.daemon); err != nil {
		g.logger.Error("failed to register guardian", zap.Error(err))
		return err
	}
	defer func() {
		if err := g.registry.Unregister(domain.RoleGuardian); err != nil {
			g.logger.Warn("failed to unregister guardian", zap.Error(err))
		}
	}()

	g.logger.Info("guardian daemon started", zap.Int("pid", g.daemon.PID))

	serviceCheckTicker := time.NewTicker(g.config.ServiceCheckInterval)
	heartbeatTicker := time.NewTicker(g.config.HeartbeatInterval)

	defer func() {
		serviceCheckTicker.Stop()
		heartbeatTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("guardian daemon stopping")
			return ctx.Err()

		case <-serviceCheckTicker.C:
			if !g.CheckService() {
				g.logger.Info("service switched off, guardian exiting")
				return nil
			}

		case <-heartbeatTicker.C:
			if err := g.registry.UpdateHeartbeat(domain.RoleGuardian); err != nil {
				g.logger.Warn("failed to update heartbeat", zap.Error(err))
			}
		}
	}
}

// CheckService restarts the service if it is wanted but not alive.
// Returns false once the user no longer wants the service running.
func (g *Guardian) CheckService() bool {
	prefs, err := g.store.LoadPreferences()
	if err != nil {
		g.logger.Warn("failed to read service state", zap.Error(err))
		return true
	}
	if !prefs.ServiceRunning {
		return false
	}

	alive, err := g.registry.IsPartnerAlive(domain.RoleGuardian)
	if err != nil {
		g.logger.Debug("service liveness unknown", zap.Error(err))
		return true
	}
	if alive {
		return true
	}

	g.logger.Info("service not running, restarting...")
	if err := g.starter(); err != nil {
		g.logger.Error("failed to restart service", zap.Error(err))
	} else {
		g.logger.Info("service restarted successfully")
	}
	return true
}
