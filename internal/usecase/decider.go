// Package usecase contains application business logic.
package usecase

import (
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/nightmode/internal/domain"
)

// DecisionState caches the last evaluation of the decider.
// It is only ever written by ModeDecider.Apply.
type DecisionState struct {
	Decided bool
	Dimmed  bool
	App     domain.AppIdentity
}

// ModeDecider decides whether the screen should be dimmed and drives the overlay.
type ModeDecider struct {
	exempt map[domain.AppIdentity]struct{}
	state  DecisionState
	logger *zap.Logger
}

// NewModeDecider creates a decider. extraExempt apps are never dimmed,
// in addition to domain.PackageInstaller.
func NewModeDecider(logger *zap.Logger, extraExempt ...domain.AppIdentity) *ModeDecider {
	d := &ModeDecider{logger: logger}
	d.SetExempt(extraExempt...)
	return d
}

// SetExempt replaces the extra exempt apps.
func (d *ModeDecider) SetExempt(apps ...domain.AppIdentity) {
	exempt := make(map[domain.AppIdentity]struct{}, len(apps)+1)
	exempt[domain.PackageInstaller] = struct{}{}
	for _, app := range apps {
		if app != domain.AppUnknown {
			exempt[app] = struct{}{}
		}
	}
	d.exempt = exempt
}

// Decide is the pure decision function.
func (d *ModeDecider) Decide(app domain.AppIdentity, cfg domain.ModeConfig) bool {
	if app == domain.AppStopped {
		return false
	}
	if _, ok := d.exempt[app]; ok {
		return false
	}

	switch cfg.Mode {
	case domain.ModeNight:
		return true
	case domain.ModeNormal:
		return false
	case domain.ModeAuto:
		return cfg.Whitelist.Contains(app)
	default:
		return false
	}
}

// Apply decides and issues the matching transition. Every call reaches the sink,
// redundant levels included; suppression is the sink's business.
func (d *ModeDecider) Apply(app domain.AppIdentity, cfg domain.ModeConfig, sink domain.TransitionSink) bool {
	dim := d.Decide(app, cfg)

	if d.state.Decided && d.state.Dimmed != dim {
		d.logger.Info("night mode switched",
			zap.String("app", string(app)),
			zap.String("mode", cfg.Mode.String()),
			zap.Bool("dimmed", dim))
	}
	d.state = DecisionState{Decided: true, Dimmed: dim, App: app}

	if dim {
		sink.DimIn()
	} else {
		sink.DimOut()
	}
	return dim
}

// State returns the cached last decision.
func (d *ModeDecider) State() DecisionState {
	return d.state
}

// Reset marks the decider undecided (service start).
func (d *ModeDecider) Reset() {
	d.state = DecisionState{}
}
