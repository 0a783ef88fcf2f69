//go:build !linux && !darwin

package infra

import "github.com/eliteGoblin/focusd/nightmode/internal/domain"

// NewForegroundQuery returns a query that always reports unknown.
func NewForegroundQuery(_ domain.ProcessManager) domain.ForegroundQuery {
	return unsupportedQuery{}
}
