//go:build linux

package infra

import "github.com/eliteGoblin/focusd/nightmode/internal/domain"

// NewForegroundQuery returns the X11 query.
func NewForegroundQuery(pm domain.ProcessManager) domain.ForegroundQuery {
	return NewXpropQuery(pm)
}
