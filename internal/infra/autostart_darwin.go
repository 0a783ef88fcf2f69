//go:build darwin

package infra

import "github.com/eliteGoblin/focusd/nightmode/internal/domain"

// NewAutostartManager returns the LaunchAgent manager.
func NewAutostartManager(paths *Paths) domain.AutostartManager {
	return NewLaunchAgent(GetRealUserHome(), paths)
}
