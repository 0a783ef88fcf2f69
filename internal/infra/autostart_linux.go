//go:build linux

package infra

import "github.com/eliteGoblin/focusd/nightmode/internal/domain"

// NewAutostartManager returns the systemd user unit manager.
func NewAutostartManager(_ *Paths) domain.AutostartManager {
	return NewSystemdUnit(GetRealUserHome())
}
