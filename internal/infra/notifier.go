package infra

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/nightmode/internal/domain"
)

const (
	notificationsDest   = "org.freedesktop.Notifications"
	notificationsPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	notificationsNotify = notificationsDest + ".Notify"
	notificationsClose  = notificationsDest + ".CloseNotification"

	notificationSummary = "Night mode is on"
	notificationBody    = "The screen is dimmed for selected apps."
)

// dbusCaller is the part of dbus.BusObject the notifier uses.
type dbusCaller interface {
	Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// DBusNotifier implements domain.NotificationSink with a resident desktop
// notification over org.freedesktop.Notifications.
type DBusNotifier struct {
	logger  *zap.Logger
	connect func() (dbusCaller, error)

	mu  sync.Mutex
	obj dbusCaller
	id  uint32 // 0 when hidden
}

// NewDBusNotifier creates a notifier on the session bus. The bus is dialed on first use.
func NewDBusNotifier(logger *zap.Logger) *DBusNotifier {
	return &DBusNotifier{
		logger: logger,
		connect: func() (dbusCaller, error) {
			conn, err := dbus.SessionBus()
			if err != nil {
				return nil, err
			}
			return conn.Object(notificationsDest, notificationsPath), nil
		},
	}
}

// Show implements domain.NotificationSink. Showing twice replaces in place.
func (n *DBusNotifier) Show() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	obj, err := n.objectLocked()
	if err != nil {
		return err
	}

	hints := map[string]dbus.Variant{
		"resident":  dbus.MakeVariant(true),
		"transient": dbus.MakeVariant(false),
		"urgency":   dbus.MakeVariant(byte(0)),
	}
	var id uint32
	call := obj.Call(notificationsNotify, 0,
		"nightmode", n.id, "weather-clear-night", notificationSummary, notificationBody,
		[]string{}, hints, int32(0))
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	n.id = id
	n.logger.Debug("notification shown", zap.Uint32("id", id))
	return nil
}

// Hide implements domain.NotificationSink.
func (n *DBusNotifier) Hide() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.id == 0 {
		return nil
	}
	obj, err := n.objectLocked()
	if err != nil {
		return err
	}
	if call := obj.Call(notificationsClose, 0, n.id); call.Err != nil {
		return fmt.Errorf("close notification: %w", call.Err)
	}
	n.logger.Debug("notification hidden", zap.Uint32("id", n.id))
	n.id = 0
	return nil
}

func (n *DBusNotifier) objectLocked() (dbusCaller, error) {
	if n.obj != nil {
		return n.obj, nil
	}
	obj, err := n.connect()
	if err != nil {
		return nil, fmt.Errorf("session bus: %w", err)
	}
	n.obj = obj
	return obj, nil
}

// LogNotifier implements domain.NotificationSink by logging only.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Show() error {
	n.logger.Info("notification: " + notificationSummary)
	return nil
}

func (n *LogNotifier) Hide() error {
	n.logger.Debug("notification hidden")
	return nil
}

var (
	_ domain.NotificationSink = (*DBusNotifier)(nil)
	_ domain.NotificationSink = (*LogNotifier)(nil)
)
