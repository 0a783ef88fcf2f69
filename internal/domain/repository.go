package domain

import (
	"context"
	"syscall"
)

// ForegroundQuery reports the application currently in the foreground.
// Platform-specific and unreliable; callers treat any error as AppUnknown.
type ForegroundQuery interface {
	Current(ctx context.Context) (AppIdentity, error)
}

// TransitionSink renders the overlay. Calls are levels, not edges:
// implementations must tolerate redundant calls.
type TransitionSink interface {
	DimIn()
	DimOut()
}

// MatteStyler is optionally implemented by a TransitionSink to restyle the overlay.
type MatteStyler interface {
	SetAlpha(alpha float64)
	SetColor(argb uint32)
}

// ConfigStore persists preferences to durable key/value storage.
type ConfigStore interface {
	// LoadPreferences returns stored preferences, defaults for missing keys.
	LoadPreferences() (Preferences, error)

	// SavePreferences writes every preference key.
	SavePreferences(p Preferences) error

	// SavePreference writes only the key(s) behind tag, taken from p.
	SavePreference(tag PreferenceTag, p Preferences) error

	// SetServiceRunning records whether the user wants the service running.
	SetServiceRunning(running bool) error
}

// ScheduleTimer is a daily alarm facility.
type ScheduleTimer interface {
	// Arm schedules a daily alarm at tod identified by tag, replacing any alarm with the same tag.
	Arm(tod TimeOfDay, tag string)

	// Disarm cancels the alarm with tag (no-op if not armed).
	Disarm(tag string)
}

// NotificationSink shows or hides the persistent "night mode" notification.
type NotificationSink interface {
	Show() error
	Hide() error
}

// FloatingWidgetSink attaches or detaches the quick toggle widget.
type FloatingWidgetSink interface {
	Attach() error
	Detach() error
}

// ToggleIndicator is optionally implemented by a FloatingWidgetSink to show
// whether the screen is currently dimmed.
type ToggleIndicator interface {
	SetChecked(checked bool)
}

// AutostartManager installs the service into the login session.
type AutostartManager interface {
	// Install registers execPath to run "start" on login.
	Install(execPath string) error

	// Uninstall removes the login entry.
	Uninstall() error

	// IsInstalled checks if the login entry exists.
	IsInstalled() bool
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// NameOf returns the executable name of pid.
	NameOf(pid int) (string, error)

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// Signal delivers sig to pid.
	Signal(pid int, sig syscall.Signal) error

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// DaemonRegistry provides daemon discovery and registration.
// The service and guardian find each other via PIDs stored in the encrypted store.
type DaemonRegistry interface {
	// Register saves the daemon's PID.
	Register(daemon Daemon) error

	// Unregister removes the daemon's row (clean shutdown).
	Unregister(role DaemonRole) error

	// GetPartner returns the partner daemon info (service<->guardian).
	GetPartner(role DaemonRole) (*Daemon, error)

	// UpdateHeartbeat updates timestamp for liveness check.
	UpdateHeartbeat(role DaemonRole) error

	// IsPartnerAlive checks if partner daemon is running via PID.
	IsPartnerAlive(role DaemonRole) (bool, error)

	// GetAll returns full registry state (for status command).
	GetAll() (*RegistryEntry, error)
}

// KeyProvider abstracts the source of the store encryption key.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}
