package daemon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/nightmode/internal/domain"
	"github.com/eliteGoblin/focusd/nightmode/test/fixtures"
)

const (
	waitFor = time.Second
	tick    = time.Millisecond
)

type serviceHarness struct {
	svc       *Service
	store     *fixtures.MemoryStore
	query     *fixtures.ScriptedQuery
	overlay   *fixtures.RecordingOverlay
	registry  *fakeRegistry
	schedule  *fakeSchedule
	notifier  *fakeToggle
	widget    *fakeToggle
	autostart *fakeAutostart

	cancel context.CancelFunc
	errCh  chan error
}

func at(hour, minute int) func() time.Time {
	return func() time.Time {
		return time.Date(2026, 3, 14, hour, minute, 0, 0, time.Local)
	}
}

func newHarness(prefs domain.Preferences, apps ...domain.AppIdentity) *serviceHarness {
	h := &serviceHarness{
		store:     fixtures.NewMemoryStore(prefs),
		query:     fixtures.NewScriptedQuery(apps...),
		overlay:   fixtures.NewRecordingOverlay(),
		registry:  newFakeRegistry(),
		schedule:  newFakeSchedule(),
		notifier:  &fakeToggle{},
		widget:    &fakeToggle{},
		autostart: &fakeAutostart{},
	}

	config := DefaultServiceConfig()
	config.PollInterval = testInterval
	config.ExecPath = "/home/test/.local/bin/nightmode"

	h.svc = NewService(config, ServiceDeps{
		Store:     h.store,
		Registry:  h.registry,
		Query:     h.query,
		Overlay:   h.overlay,
		Schedule:  h.schedule,
		Notifier:  h.notifier,
		Widget:    h.widget,
		Autostart: h.autostart,
	}, domain.Daemon{PID: 4242, Role: domain.RoleService}, zap.NewNop())
	h.svc.now = at(12, 0)
	return h
}

func (h *serviceHarness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.errCh = make(chan error, 1)
	go func() { h.errCh <- h.svc.Run(ctx) }()
	t.Cleanup(func() { h.shutdown(t) })
}

func (h *serviceHarness) shutdown(t *testing.T) error {
	t.Helper()
	if h.cancel == nil {
		return nil
	}
	h.cancel()
	h.cancel = nil
	select {
	case err := <-h.errCh:
		return err
	case <-time.After(waitFor):
		t.Fatal("service did not stop")
		return nil
	}
}

func (h *serviceHarness) eventuallyLast(t *testing.T, want string, msg string) {
	t.Helper()
	require.Eventually(t, func() bool { return h.overlay.Last() == want }, waitFor, tick, msg)
}

func autoPrefs(whitelist string) domain.Preferences {
	p := domain.DefaultPreferences()
	p.Mode = domain.ModeAuto
	p.Whitelist = whitelist
	return p
}

func TestService_AutoModeFollowsForeground(t *testing.T) {
	h := newHarness(autoPrefs("com.x"), "com.x", "com.x", "com.y", "com.x")
	h.run(t)

	want := []string{fixtures.CallDimIn, fixtures.CallDimIn, fixtures.CallDimOut, fixtures.CallDimIn}
	require.Eventually(t, func() bool { return len(h.overlay.Calls()) >= len(want) }, waitFor, tick)

	// Let the watcher hold on the last app for a while; nothing more is emitted.
	polls := h.query.Polls()
	require.Eventually(t, func() bool { return h.query.Polls() > polls+5 }, waitFor, tick)
	assert.Equal(t, want, h.overlay.Calls())
}

func TestService_RegistersAndMarksRunning(t *testing.T) {
	h := newHarness(autoPrefs(""), "com.y")
	h.run(t)

	h.eventuallyLast(t, fixtures.CallDimOut, "initial decision")
	assert.True(t, h.registry.registered(domain.RoleService))
	assert.True(t, h.store.Prefs().ServiceRunning)
}

func TestService_NightModeThenReloadNormal(t *testing.T) {
	prefs := autoPrefs("")
	prefs.Mode = domain.ModeNight
	h := newHarness(prefs, "com.y")
	h.run(t)

	h.eventuallyLast(t, fixtures.CallDimIn, "night mode dims every app")

	h.store.Update(func(p *domain.Preferences) { p.Mode = domain.ModeNormal })
	h.svc.Reload()

	h.eventuallyLast(t, fixtures.CallDimOut, "normal mode never dims")
}

func TestService_WhitelistChangeReapplies(t *testing.T) {
	h := newHarness(autoPrefs(""), "com.x")
	h.run(t)
	h.eventuallyLast(t, fixtures.CallDimOut, "empty whitelist")

	h.store.Update(func(p *domain.Preferences) { p.Whitelist = "com.a|com.x|" })
	h.svc.Reload()

	h.eventuallyLast(t, fixtures.CallDimIn, "whitelisted app dims")
}

func TestService_ScheduleWindowForcesNight(t *testing.T) {
	prefs := autoPrefs("")
	prefs.Mode = domain.ModeNormal
	prefs.ScheduleEnabled = true
	prefs.TimeBuckets = "22:00|06:00"
	h := newHarness(prefs, "com.y")
	h.run(t)

	h.eventuallyLast(t, fixtures.CallDimOut, "outside the window")
	require.Eventually(t, func() bool {
		_, ok := h.schedule.get(domain.AlarmWindowEnd)
		return ok
	}, waitFor, tick)
	start, ok := h.schedule.get(domain.AlarmWindowStart)
	require.True(t, ok)
	assert.Equal(t, domain.TimeOfDay{Hour: 22}, start)
	end, _ := h.schedule.get(domain.AlarmWindowEnd)
	assert.Equal(t, domain.TimeOfDay{Hour: 6}, end)

	h.svc.AlarmFired(domain.AlarmWindowStart)
	h.eventuallyLast(t, fixtures.CallDimIn, "window start forces night")

	h.svc.AlarmFired(domain.AlarmWindowEnd)
	h.eventuallyLast(t, fixtures.CallDimOut, "window end restores the user mode")
	assert.Equal(t, domain.ModeNormal, h.store.Prefs().Mode, "schedule never rewrites the stored mode")
}

func TestService_StartsInsideWindow(t *testing.T) {
	prefs := autoPrefs("")
	prefs.Mode = domain.ModeNormal
	prefs.ScheduleEnabled = true
	prefs.TimeBuckets = "22:00|06:00"
	h := newHarness(prefs, "com.y")
	h.svc.now = at(23, 30)
	h.run(t)

	h.eventuallyLast(t, fixtures.CallDimIn, "inside the window at start")
}

func TestService_ExplicitModeEndsWindow(t *testing.T) {
	prefs := autoPrefs("")
	prefs.ScheduleEnabled = true
	prefs.TimeBuckets = "22:00|06:00"
	h := newHarness(prefs, "com.y")
	h.svc.now = at(1, 0)
	h.run(t)
	h.eventuallyLast(t, fixtures.CallDimIn, "inside the window")

	h.store.Update(func(p *domain.Preferences) { p.Mode = domain.ModeNormal })
	h.svc.Reload()

	h.eventuallyLast(t, fixtures.CallDimOut, "explicit mode wins over the window")
}

func TestService_MalformedScheduleIsDisabled(t *testing.T) {
	prefs := autoPrefs("")
	prefs.Mode = domain.ModeNormal
	prefs.ScheduleEnabled = true
	prefs.TimeBuckets = "2200"
	h := newHarness(prefs, "com.y")
	h.svc.now = at(23, 0)
	h.run(t)

	h.eventuallyLast(t, fixtures.CallDimOut, "schedule ignored")
	_, armed := h.schedule.get(domain.AlarmWindowStart)
	assert.False(t, armed)

	h.svc.AlarmFired(domain.AlarmWindowStart)
	calls := len(h.overlay.Calls())
	require.Eventually(t, func() bool { return len(h.overlay.Calls()) > calls }, waitFor, tick)
	assert.Equal(t, fixtures.CallDimOut, h.overlay.Last(), "stray alarm re-applies without forcing night")
}

func TestService_Toggle(t *testing.T) {
	prefs := autoPrefs("")
	prefs.Mode = domain.ModeNight
	h := newHarness(prefs, "com.y")
	h.run(t)
	h.eventuallyLast(t, fixtures.CallDimIn, "night mode")

	h.svc.Toggle()
	h.eventuallyLast(t, fixtures.CallDimOut, "toggle off")
	require.Eventually(t, func() bool { return h.store.Prefs().Mode == domain.ModeNormal }, waitFor, tick)

	h.svc.Toggle()
	h.eventuallyLast(t, fixtures.CallDimIn, "toggle on")
	require.Eventually(t, func() bool { return h.store.Prefs().Mode == domain.ModeNight }, waitFor, tick)
}

func TestService_WidgetShowsDecision(t *testing.T) {
	prefs := autoPrefs("")
	prefs.Mode = domain.ModeNight
	prefs.FloatWidget = true
	h := newHarness(prefs, "com.y")
	h.run(t)

	h.eventuallyLast(t, fixtures.CallDimIn, "night mode")
	require.Eventually(t, h.widget.isChecked, waitFor, tick, "checked from the start in night mode")

	h.svc.Toggle()
	h.eventuallyLast(t, fixtures.CallDimOut, "toggle off")
	require.Eventually(t, func() bool { return !h.widget.isChecked() }, waitFor, tick)

	h.store.Update(func(p *domain.Preferences) { p.Mode = domain.ModeNight })
	h.svc.Reload()
	require.Eventually(t, h.widget.isChecked, waitFor, tick, "follows a mode set elsewhere")
}

func TestService_StyleApplied(t *testing.T) {
	prefs := autoPrefs("")
	prefs.Alpha = 0.7
	prefs.Color = 0xFF112233
	h := newHarness(prefs, "com.y")
	h.run(t)
	h.eventuallyLast(t, fixtures.CallDimOut, "started")

	alpha, color := h.overlay.Style()
	assert.Equal(t, 0.7, alpha)
	assert.Equal(t, uint32(0xFF112233), color)

	h.store.Update(func(p *domain.Preferences) { p.Alpha = 0.3 })
	h.svc.Reload()
	require.Eventually(t, func() bool {
		a, _ := h.overlay.Style()
		return a == 0.3
	}, waitFor, tick)
}

func TestService_Affordances(t *testing.T) {
	prefs := autoPrefs("")
	prefs.Notification = true
	prefs.FloatWidget = false
	h := newHarness(prefs, "com.y")
	h.run(t)

	require.Eventually(t, h.notifier.isOn, waitFor, tick)
	assert.False(t, h.widget.isOn())

	h.store.Update(func(p *domain.Preferences) {
		p.FloatWidget = true
		p.Notification = false
		p.AutoStart = true
	})
	h.svc.Reload()

	require.Eventually(t, h.widget.isOn, waitFor, tick)
	require.Eventually(t, func() bool { return !h.notifier.isOn() }, waitFor, tick)
	require.Eventually(t, h.autostart.IsInstalled, waitFor, tick)
	assert.Equal(t, "/home/test/.local/bin/nightmode", h.autostart.installedPath())
}

func TestService_ExemptAppsFromConfig(t *testing.T) {
	prefs := autoPrefs("")
	prefs.Mode = domain.ModeNight
	h := newHarness(prefs, "kitty")
	h.run(t)
	h.eventuallyLast(t, fixtures.CallDimIn, "night mode")

	config := DefaultServiceConfig()
	config.PollInterval = 2 * testInterval
	config.ExemptApps = []string{"kitty"}
	h.svc.UpdateConfig(config)

	h.eventuallyLast(t, fixtures.CallDimOut, "exempt app is never dimmed")
}

func TestService_PackageInstallerNeverDimmed(t *testing.T) {
	prefs := autoPrefs("")
	prefs.Mode = domain.ModeNight
	h := newHarness(prefs, domain.PackageInstaller)
	h.run(t)

	h.eventuallyLast(t, fixtures.CallDimOut, "installer is exempt")
}

func TestService_Shutdown(t *testing.T) {
	prefs := autoPrefs("com.x")
	prefs.FloatWidget = true
	prefs.Notification = true
	prefs.ScheduleEnabled = true
	h := newHarness(prefs, "com.x")
	h.run(t)

	h.eventuallyLast(t, fixtures.CallDimIn, "whitelisted app")
	require.Eventually(t, h.widget.isOn, waitFor, tick)

	err := h.shutdown(t)
	assert.True(t, errors.Is(err, context.Canceled))

	assert.Equal(t, fixtures.CallDimOut, h.overlay.Last(), "overlay is removed on stop")
	assert.False(t, h.widget.isOn())
	assert.False(t, h.notifier.isOn())
	assert.False(t, h.registry.registered(domain.RoleService))
	_, armed := h.schedule.get(domain.AlarmWindowStart)
	assert.False(t, armed)
	assert.Contains(t, h.store.Saves(), domain.TagMode)

	// Posting after stop must not block.
	done := make(chan struct{})
	go func() {
		h.svc.AppChanged("com.x")
		h.svc.Reload()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("posting to a stopped service blocked")
	}
}

func TestService_LoadFailureUsesDefaults(t *testing.T) {
	h := newHarness(autoPrefs("com.x"), "com.x")
	h.store.LoadErr = errors.New("disk on fire")
	h.run(t)

	// Defaults have an empty whitelist, so nothing is dimmed.
	h.eventuallyLast(t, fixtures.CallDimOut, "defaults applied")
}
