//go:build linux

package infra

import (
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/nightmode/internal/domain"
)

// NewNotificationSink returns the desktop notification sink.
func NewNotificationSink(logger *zap.Logger) domain.NotificationSink {
	return NewDBusNotifier(logger)
}
