// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AppIdentity identifies the foreground application (package, bundle id or process name).
// Compared by equality only.
type AppIdentity string

const (
	// AppUnknown is returned when the foreground query fails. Never emitted as a change.
	AppUnknown AppIdentity = ""

	// AppStopped means the service is shutting down; always un-dims.
	AppStopped AppIdentity = "stop"

	// PackageInstaller is always exempt so permission dialogs stay readable.
	PackageInstaller AppIdentity = "com.android.packageinstaller"
)

// Mode is the user-selected night mode.
type Mode int

const (
	ModeAuto   Mode = 0 // Dim only for whitelisted apps
	ModeNight  Mode = 1 // Always dim
	ModeNormal Mode = 2 // Never dim
)

// String returns the lowercase mode name.
func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeNight:
		return "night"
	case ModeNormal:
		return "normal"
	default:
		return "unknown"
	}
}

// ParseMode accepts "auto", "night", "normal" or their persisted integer values.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto", "0":
		return ModeAuto, nil
	case "night", "1":
		return ModeNight, nil
	case "normal", "2":
		return ModeNormal, nil
	}
	return ModeAuto, fmt.Errorf("unknown mode %q", s)
}

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// String formats as "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// Next returns the first instant strictly after `after` at this time of day.
func (t TimeOfDay) Next(after time.Time) time.Time {
	next := time.Date(after.Year(), after.Month(), after.Day(), t.Hour, t.Minute, 0, 0, after.Location())
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// Whitelist is the set of apps Auto mode dims for.
type Whitelist map[AppIdentity]struct{}

// Contains reports membership.
func (w Whitelist) Contains(app AppIdentity) bool {
	_, ok := w[app]
	return ok
}

// ModeConfig is the decider's read-only view of the preferences.
// Replaced wholesale on reload, never mutated in place.
type ModeConfig struct {
	Mode            Mode
	Whitelist       Whitelist
	ScheduleEnabled bool
	WindowStart     TimeOfDay
	WindowEnd       TimeOfDay
}

// Preferences is the persisted preference shape.
type Preferences struct {
	Mode            Mode
	Whitelist       string  // "|"-delimited app identities
	TimeBuckets     string  // "HH:MM|HH:MM"
	ScheduleEnabled bool    // Arms the window start/end alarms
	Alpha           float64 // Matte alpha, 0..1
	Color           uint32  // Packed ARGB
	Notification    bool
	FloatWidget     bool
	AutoStart       bool
	ServiceRunning  bool
}

// Preference defaults.
const (
	DefaultAlpha       = 0.5
	DefaultColor       = uint32(0xFF000000)
	DefaultTimeBuckets = "22:00|06:00"
)

// DefaultPreferences returns the preferences used when nothing is stored yet.
func DefaultPreferences() Preferences {
	return Preferences{
		Mode:         ModeAuto,
		TimeBuckets:  DefaultTimeBuckets,
		Alpha:        DefaultAlpha,
		Color:        DefaultColor,
		Notification: true,
	}
}

// PreferenceTag identifies which preference changed.
type PreferenceTag string

const (
	TagMode         PreferenceTag = "mode"
	TagWhitelist    PreferenceTag = "whitelist"
	TagAlpha        PreferenceTag = "alpha"
	TagColor        PreferenceTag = "color"
	TagNotification PreferenceTag = "notification"
	TagFloatWidget  PreferenceTag = "float_widget"
	TagSchedule     PreferenceTag = "schedule"
	TagAutoStart    PreferenceTag = "auto_start"
)

// Alarm tags for the schedule window.
const (
	AlarmWindowStart = "night_start"
	AlarmWindowEnd   = "night_end"
)

// DaemonRole identifies the type of daemon process.
type DaemonRole string

const (
	RoleService  DaemonRole = "service"
	RoleGuardian DaemonRole = "guardian"
)

// Daemon represents a running daemon process.
type Daemon struct {
	PID        int
	Role       DaemonRole
	StartedAt  time.Time
	AppVersion string
}

// RegistryEntry is the state of both daemons, for discovery and status.
type RegistryEntry struct {
	ServicePID    int
	GuardianPID   int
	LastHeartbeat int64
	AppVersion    string
}
