//go:build darwin

package infra

import "github.com/eliteGoblin/focusd/nightmode/internal/domain"

// NewForegroundQuery returns the lsappinfo query.
func NewForegroundQuery(_ domain.ProcessManager) domain.ForegroundQuery {
	return NewLsappinfoQuery()
}
