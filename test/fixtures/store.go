package fixtures

import (
	"sync"

	"github.com/eliteGoblin/focusd/nightmode/internal/domain"
)

// MemoryStore is a ConfigStore kept in memory.
type MemoryStore struct {
	mu    sync.Mutex
	prefs domain.Preferences
	saves []domain.PreferenceTag

	// LoadErr, if set, is returned by LoadPreferences.
	LoadErr error
}

// NewMemoryStore creates a store holding prefs.
func NewMemoryStore(prefs domain.Preferences) *MemoryStore {
	return &MemoryStore{prefs: prefs}
}

// LoadPreferences implements domain.ConfigStore.
func (s *MemoryStore) LoadPreferences() (domain.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return domain.Preferences{}, s.LoadErr
	}
	return s.prefs, nil
}

// SavePreferences implements domain.ConfigStore.
func (s *MemoryStore) SavePreferences(p domain.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs = p
	s.saves = append(s.saves, "")
	return nil
}

// SavePreference implements domain.ConfigStore.
func (s *MemoryStore) SavePreference(tag domain.PreferenceTag, p domain.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch tag {
	case domain.TagMode:
		s.prefs.Mode = p.Mode
	case domain.TagWhitelist:
		s.prefs.Whitelist = p.Whitelist
	case domain.TagAlpha:
		s.prefs.Alpha = p.Alpha
	case domain.TagColor:
		s.prefs.Color = p.Color
	case domain.TagNotification:
		s.prefs.Notification = p.Notification
	case domain.TagFloatWidget:
		s.prefs.FloatWidget = p.FloatWidget
	case domain.TagSchedule:
		s.prefs.ScheduleEnabled = p.ScheduleEnabled
		s.prefs.TimeBuckets = p.TimeBuckets
	case domain.TagAutoStart:
		s.prefs.AutoStart = p.AutoStart
	}
	s.saves = append(s.saves, tag)
	return nil
}

// SetServiceRunning implements domain.ConfigStore.
func (s *MemoryStore) SetServiceRunning(running bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs.ServiceRunning = running
	return nil
}

// Update mutates the stored preferences, as the CLI would.
func (s *MemoryStore) Update(fn func(p *domain.Preferences)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.prefs)
}

// Prefs returns the stored preferences.
func (s *MemoryStore) Prefs() domain.Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

// Saves returns the tags passed to SavePreference, "" for full saves.
func (s *MemoryStore) Saves() []domain.PreferenceTag {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PreferenceTag, len(s.saves))
	copy(out, s.saves)
	return out
}
