package usecase

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eliteGoblin/focusd/nightmode/internal/domain"
)

// ListSeparator delimits whitelist entries and schedule bounds.
const ListSeparator = "|"

// ErrMalformedSchedule is returned for time buckets that are not "HH:MM|HH:MM".
var ErrMalformedSchedule = errors.New("malformed schedule")

// ParseWhitelist splits a "|"-delimited list into a set, dropping empty entries.
func ParseWhitelist(raw string) domain.Whitelist {
	wl := make(domain.Whitelist)
	for _, entry := range strings.Split(raw, ListSeparator) {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		wl[domain.AppIdentity(entry)] = struct{}{}
	}
	return wl
}

// FormatWhitelist joins apps back into the persisted form.
func FormatWhitelist(apps []string) string {
	kept := make([]string, 0, len(apps))
	for _, a := range apps {
		if a = strings.TrimSpace(a); a != "" {
			kept = append(kept, a)
		}
	}
	return strings.Join(kept, ListSeparator)
}

// ParseTimeBuckets parses "HH:MM|HH:MM" into the window start and end.
func ParseTimeBuckets(raw string) (start, end domain.TimeOfDay, err error) {
	parts := strings.Split(raw, ListSeparator)
	if len(parts) < 2 {
		return start, end, fmt.Errorf("%w: %q: missing separator", ErrMalformedSchedule, raw)
	}
	if start, err = domain.ParseTimeOfDay(parts[0]); err != nil {
		return start, end, fmt.Errorf("%w: %v", ErrMalformedSchedule, err)
	}
	if end, err = domain.ParseTimeOfDay(parts[1]); err != nil {
		return start, end, fmt.Errorf("%w: %v", ErrMalformedSchedule, err)
	}
	return start, end, nil
}

// NewModeConfig builds the decider's config from stored preferences.
// A malformed schedule disables the schedule and is returned for logging;
// the config is usable either way.
func NewModeConfig(p domain.Preferences) (domain.ModeConfig, error) {
	cfg := domain.ModeConfig{
		Mode:      p.Mode,
		Whitelist: ParseWhitelist(p.Whitelist),
	}
	if !p.ScheduleEnabled {
		return cfg, nil
	}

	start, end, err := ParseTimeBuckets(p.TimeBuckets)
	if err != nil {
		return cfg, err
	}
	cfg.ScheduleEnabled = true
	cfg.WindowStart = start
	cfg.WindowEnd = end
	return cfg, nil
}

// EffectiveModeConfig is NewModeConfig with the schedule window applied at
// now: inside the window the mode is forced to Night. windowActive reports
// whether that happened.
func EffectiveModeConfig(p domain.Preferences, now time.Time) (cfg domain.ModeConfig, windowActive bool, err error) {
	cfg, err = NewModeConfig(p)
	if cfg.ScheduleEnabled && InWindow(now, cfg.WindowStart, cfg.WindowEnd) {
		cfg.Mode = domain.ModeNight
		windowActive = true
	}
	return cfg, windowActive, err
}

// InWindow reports whether now falls in [start, end). Windows may cross midnight.
// start == end is an empty window.
func InWindow(now time.Time, start, end domain.TimeOfDay) bool {
	m := now.Hour()*60 + now.Minute()
	s, e := start.Minutes(), end.Minutes()
	if s == e {
		return false
	}
	if s < e {
		return m >= s && m < e
	}
	return m >= s || m < e
}

// DiffPreferences lists the tags whose values differ between old and updated.
// ServiceRunning is lifecycle state and never produces a tag.
func DiffPreferences(old, updated domain.Preferences) []domain.PreferenceTag {
	var tags []domain.PreferenceTag
	if old.Mode != updated.Mode {
		tags = append(tags, domain.TagMode)
	}
	if old.Whitelist != updated.Whitelist {
		tags = append(tags, domain.TagWhitelist)
	}
	if old.Alpha != updated.Alpha {
		tags = append(tags, domain.TagAlpha)
	}
	if old.Color != updated.Color {
		tags = append(tags, domain.TagColor)
	}
	if old.Notification != updated.Notification {
		tags = append(tags, domain.TagNotification)
	}
	if old.FloatWidget != updated.FloatWidget {
		tags = append(tags, domain.TagFloatWidget)
	}
	if old.ScheduleEnabled != updated.ScheduleEnabled || old.TimeBuckets != updated.TimeBuckets {
		tags = append(tags, domain.TagSchedule)
	}
	if old.AutoStart != updated.AutoStart {
		tags = append(tags, domain.TagAutoStart)
	}
	return tags
}
