package main

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/nightmode/internal/domain"
)

func TestApplyPreference(t *testing.T) {
	tests := []struct {
		name    string
		pref    string
		values  []string
		wantTag domain.PreferenceTag
		check   func(t *testing.T, p domain.Preferences)
		wantErr bool
	}{
		{
			name: "mode by name", pref: "mode", values: []string{"night"}, wantTag: domain.TagMode,
			check: func(t *testing.T, p domain.Preferences) { assert.Equal(t, domain.ModeNight, p.Mode) },
		},
		{name: "unknown mode", pref: "mode", values: []string{"dusk"}, wantErr: true},
		{name: "mode needs a value", pref: "mode", wantErr: true},
		{
			name: "whitelist joins apps", pref: "whitelist", values: []string{"kitty", "firefox"}, wantTag: domain.TagWhitelist,
			check: func(t *testing.T, p domain.Preferences) { assert.Equal(t, "kitty|firefox", p.Whitelist) },
		},
		{
			name: "empty whitelist clears", pref: "whitelist", wantTag: domain.TagWhitelist,
			check: func(t *testing.T, p domain.Preferences) { assert.Empty(t, p.Whitelist) },
		},
		{
			name: "schedule window", pref: "schedule", values: []string{"21:30", "7:05"}, wantTag: domain.TagSchedule,
			check: func(t *testing.T, p domain.Preferences) {
				assert.True(t, p.ScheduleEnabled)
				assert.Equal(t, "21:30|07:05", p.TimeBuckets)
			},
		},
		{
			name: "schedule off keeps buckets", pref: "schedule", values: []string{"off"}, wantTag: domain.TagSchedule,
			check: func(t *testing.T, p domain.Preferences) {
				assert.False(t, p.ScheduleEnabled)
				assert.Equal(t, domain.DefaultTimeBuckets, p.TimeBuckets)
			},
		},
		{name: "schedule bad time", pref: "schedule", values: []string{"25:00", "06:00"}, wantErr: true},
		{name: "schedule empty window", pref: "schedule", values: []string{"06:00", "06:00"}, wantErr: true},
		{
			name: "alpha", pref: "alpha", values: []string{"0.75"}, wantTag: domain.TagAlpha,
			check: func(t *testing.T, p domain.Preferences) { assert.InDelta(t, 0.75, p.Alpha, 1e-9) },
		},
		{name: "alpha out of range", pref: "alpha", values: []string{"1.5"}, wantErr: true},
		{
			name: "color rgb is opaque", pref: "color", values: []string{"#336699"}, wantTag: domain.TagColor,
			check: func(t *testing.T, p domain.Preferences) { assert.Equal(t, uint32(0xFF336699), p.Color) },
		},
		{
			name: "color argb", pref: "color", values: []string{"0x80112233"}, wantTag: domain.TagColor,
			check: func(t *testing.T, p domain.Preferences) { assert.Equal(t, uint32(0x80112233), p.Color) },
		},
		{name: "color garbage", pref: "color", values: []string{"#zzzzzz"}, wantErr: true},
		{name: "color short", pref: "color", values: []string{"#fff"}, wantErr: true},
		{
			name: "notification off", pref: "notification", values: []string{"off"}, wantTag: domain.TagNotification,
			check: func(t *testing.T, p domain.Preferences) { assert.False(t, p.Notification) },
		},
		{
			name: "float widget on", pref: "float-widget", values: []string{"on"}, wantTag: domain.TagFloatWidget,
			check: func(t *testing.T, p domain.Preferences) { assert.True(t, p.FloatWidget) },
		},
		{
			name: "autostart yes", pref: "autostart", values: []string{"yes"}, wantTag: domain.TagAutoStart,
			check: func(t *testing.T, p domain.Preferences) { assert.True(t, p.AutoStart) },
		},
		{name: "switch garbage", pref: "autostart", values: []string{"maybe"}, wantErr: true},
		{name: "unknown preference", pref: "brightness", values: []string{"1"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := domain.DefaultPreferences()
			tag, err := applyPreference(&p, tt.pref, tt.values)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTag, tag)
			tt.check(t, p)
		})
	}
}

type stubRegistry struct {
	domain.DaemonRegistry
	entry *domain.RegistryEntry
}

func (r *stubRegistry) GetAll() (*domain.RegistryEntry, error) { return r.entry, nil }

type stubProcesses struct {
	domain.ProcessManager
	running map[int]bool
	signals map[int]syscall.Signal
}

func (p *stubProcesses) IsRunning(pid int) bool { return p.running[pid] }

func (p *stubProcesses) Signal(pid int, sig syscall.Signal) error {
	p.signals[pid] = sig
	return nil
}

func TestReloadService(t *testing.T) {
	t.Run("signals a live service", func(t *testing.T) {
		pm := &stubProcesses{running: map[int]bool{42: true}, signals: map[int]syscall.Signal{}}
		registry := &stubRegistry{entry: &domain.RegistryEntry{ServicePID: 42, GuardianPID: 43}}

		require.NoError(t, reloadService(registry, pm))
		assert.Equal(t, syscall.SIGHUP, pm.signals[42])
		assert.NotContains(t, pm.signals, 43)
	})

	t.Run("dead service is not running", func(t *testing.T) {
		pm := &stubProcesses{running: map[int]bool{}, signals: map[int]syscall.Signal{}}
		registry := &stubRegistry{entry: &domain.RegistryEntry{ServicePID: 42}}

		assert.ErrorIs(t, reloadService(registry, pm), ErrNotRunning)
		assert.Empty(t, pm.signals)
	})

	t.Run("nothing registered", func(t *testing.T) {
		pm := &stubProcesses{signals: map[int]syscall.Signal{}}
		assert.ErrorIs(t, reloadService(&stubRegistry{}, pm), ErrNotRunning)
	})
}
