//go:build !linux

package infra

import (
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/nightmode/internal/domain"
)

// NewNotificationSink returns a log-only sink.
func NewNotificationSink(logger *zap.Logger) domain.NotificationSink {
	return NewLogNotifier(logger)
}
