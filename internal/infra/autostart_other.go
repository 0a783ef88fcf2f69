//go:build !darwin && !linux

package infra

import "github.com/eliteGoblin/focusd/nightmode/internal/domain"

// NewAutostartManager returns a manager that always reports unsupported.
func NewAutostartManager(_ *Paths) domain.AutostartManager {
	return unsupportedAutostart{}
}
