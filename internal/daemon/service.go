// Package daemon implements the night mode service and its guardian.
package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/nightmode/internal/domain"
	"github.com/eliteGoblin/focusd/nightmode/internal/usecase"
)

// EventKind identifies what an Event carries.
type EventKind int

const (
	EventAppChanged        EventKind = iota // Foreground app changed (App)
	EventPreferenceChanged                  // One preference changed (Tag)
	EventStatusChanged                      // Schedule alarm fired (Alarm)
	EventReload                             // Reload every preference from the store
	EventToggle                             // Quick toggle from the floating widget
	EventConfigChanged                      // Daemon config reloaded (Config)
)

// Event is a unit of work for the service's consumer loop.
type Event struct {
	Kind   EventKind
	App    domain.AppIdentity
	Tag    domain.PreferenceTag
	Alarm  string
	Config *ServiceConfig
}

// ServiceConfig holds service daemon configuration.
type ServiceConfig struct {
	PollInterval      time.Duration // Foreground poll interval (default 100ms)
	HeartbeatInterval time.Duration // How often to update heartbeat
	ExemptApps        []string      // Apps never dimmed, besides the package installer
	ExecPath          string        // Binary registered for autostart
}

// DefaultServiceConfig returns default service configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		PollInterval:      DefaultPollInterval,
		HeartbeatInterval: 30 * time.Second,
	}
}

// ServiceDeps are the collaborators of the service. Schedule, Notifier,
// Widget and Autostart may be nil.
type ServiceDeps struct {
	Store     domain.ConfigStore
	Registry  domain.DaemonRegistry
	Query     domain.ForegroundQuery
	Overlay   domain.TransitionSink
	Schedule  domain.ScheduleTimer
	Notifier  domain.NotificationSink
	Widget    domain.FloatingWidgetSink
	Autostart domain.AutostartManager
}

const (
	eventQueueSize     = 64
	watcherExitTimeout = time.Second
)

// Service is the night mode daemon. Every event is handled on the Run
// goroutine, so preferences, mode config and decision state need no locks.
type Service struct {
	config  ServiceConfig
	deps    ServiceDeps
	decider *usecase.ModeDecider
	monitor *Monitor
	daemon  domain.Daemon
	logger  *zap.Logger
	now     func() time.Time

	events chan Event
	quit   chan struct{}

	// Owned by the Run goroutine.
	prefs        domain.Preferences
	modeCfg      domain.ModeConfig
	app          domain.AppIdentity
	windowActive bool
}

// NewService creates the service daemon.
func NewService(config ServiceConfig, deps ServiceDeps, daemon domain.Daemon, logger *zap.Logger) *Service {
	s := &Service{
		config:  config,
		deps:    deps,
		decider: usecase.NewModeDecider(logger, toIdentities(config.ExemptApps)...),
		daemon:  daemon,
		logger:  logger,
		now:     time.Now,
		events:  make(chan Event, eventQueueSize),
		quit:    make(chan struct{}),
	}
	s.monitor = NewMonitor(deps.Query, s.AppChanged, logger)
	return s
}

// Run starts the service and consumes events until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	defer close(s.quit)

	if s.deps.Registry != nil {
		if err := s.deps.Registry.Register(s.daemon); err != nil {
			s.logger.Error("failed to register service", zap.Error(err))
			return err
		}
	}

	s.logger.Info("night mode service started", zap.Int("pid", s.daemon.PID))
	s.start(ctx)

	heartbeatTicker := time.NewTicker(s.heartbeatInterval())
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("night mode service stopping")
			s.shutdown()
			return ctx.Err()

		case ev := <-s.events:
			s.handle(ctx, ev)

		case <-heartbeatTicker.C:
			if s.deps.Registry == nil {
				continue
			}
			if err := s.deps.Registry.UpdateHeartbeat(domain.RoleService); err != nil {
				s.logger.Warn("failed to update heartbeat", zap.Error(err))
			}
		}
	}
}

// AppChanged queues a foreground change. Safe from any goroutine.
func (s *Service) AppChanged(app domain.AppIdentity) {
	s.post(Event{Kind: EventAppChanged, App: app})
}

// PreferenceChanged queues handling of one preference tag.
func (s *Service) PreferenceChanged(tag domain.PreferenceTag) {
	s.post(Event{Kind: EventPreferenceChanged, Tag: tag})
}

// AlarmFired queues a schedule status change.
func (s *Service) AlarmFired(tag string) {
	s.post(Event{Kind: EventStatusChanged, Alarm: tag})
}

// Reload queues a full preference reload from the store.
func (s *Service) Reload() {
	s.post(Event{Kind: EventReload})
}

// Toggle queues a quick night/normal toggle.
func (s *Service) Toggle() {
	s.post(Event{Kind: EventToggle})
}

// UpdateConfig queues a daemon config change.
func (s *Service) UpdateConfig(cfg ServiceConfig) {
	s.post(Event{Kind: EventConfigChanged, Config: &cfg})
}

// post enqueues ev, dropping it once the service has stopped.
func (s *Service) post(ev Event) {
	select {
	case s.events <- ev:
	case <-s.quit:
	}
}

// start mirrors service start: load preferences, start monitoring, sync affordances.
func (s *Service) start(ctx context.Context) {
	prefs, err := s.deps.Store.LoadPreferences()
	if err != nil {
		s.logger.Warn("failed to load preferences, using defaults", zap.Error(err))
		prefs = domain.DefaultPreferences()
	}
	prefs.ServiceRunning = true
	if err := s.deps.Store.SetServiceRunning(true); err != nil {
		s.logger.Warn("failed to persist service state", zap.Error(err))
	}

	s.decider.Reset()
	s.prefs = prefs
	s.rebuildConfig()

	if styler, ok := s.deps.Overlay.(domain.MatteStyler); ok {
		styler.SetAlpha(prefs.Alpha)
		styler.SetColor(prefs.Color)
	}

	s.syncWidget()
	s.syncNotification()
	s.syncSchedule()

	if app, err := s.deps.Query.Current(ctx); err == nil && app != domain.AppUnknown {
		s.app = app
	}
	s.apply()

	s.monitor.Start(ctx, s.config.PollInterval)
}

// shutdown mirrors service destroy: persist, stop monitoring, un-dim, tear down affordances.
func (s *Service) shutdown() {
	s.monitor.Stop()
	waitCtx, cancel := context.WithTimeout(context.Background(), watcherExitTimeout)
	s.monitor.Wait(waitCtx)
	cancel()

	if err := s.deps.Store.SavePreference(domain.TagMode, s.prefs); err != nil {
		s.logger.Warn("failed to persist preferences", zap.Error(err))
	}

	s.decider.Apply(domain.AppStopped, s.modeCfg, s.deps.Overlay)

	if s.deps.Schedule != nil {
		s.deps.Schedule.Disarm(domain.AlarmWindowStart)
		s.deps.Schedule.Disarm(domain.AlarmWindowEnd)
	}
	if s.deps.Widget != nil {
		if err := s.deps.Widget.Detach(); err != nil {
			s.logger.Warn("failed to detach float widget", zap.Error(err))
		}
	}
	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.Hide(); err != nil {
			s.logger.Warn("failed to hide notification", zap.Error(err))
		}
	}
	if s.deps.Registry != nil {
		if err := s.deps.Registry.Unregister(domain.RoleService); err != nil {
			s.logger.Warn("failed to unregister service", zap.Error(err))
		}
	}
}

func (s *Service) handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventAppChanged:
		s.app = ev.App
		s.apply()

	case EventPreferenceChanged:
		s.onPreferenceChanged(ev.Tag)

	case EventStatusChanged:
		s.onAlarm(ev.Alarm)

	case EventReload:
		s.reload()

	case EventToggle:
		s.toggle()

	case EventConfigChanged:
		s.onConfigChanged(ctx, *ev.Config)
	}
}

// apply re-evaluates the decision for the current app and config.
func (s *Service) apply() {
	s.decider.Apply(s.app, s.modeCfg, s.deps.Overlay)
	if indicator, ok := s.deps.Widget.(domain.ToggleIndicator); ok {
		indicator.SetChecked(s.decider.State().Dimmed)
	}
}

// rebuildConfig derives the mode config from preferences and the schedule window.
func (s *Service) rebuildConfig() {
	cfg, err := usecase.NewModeConfig(s.prefs)
	if err != nil {
		s.logger.Warn("schedule disabled for this cycle",
			zap.String("time_buckets", s.prefs.TimeBuckets),
			zap.Error(err))
	}
	if !cfg.ScheduleEnabled {
		s.windowActive = false
	}
	if s.windowActive {
		cfg.Mode = domain.ModeNight
	}
	s.modeCfg = cfg
}

func (s *Service) reload() {
	updated, err := s.deps.Store.LoadPreferences()
	if err != nil {
		s.logger.Warn("failed to reload preferences", zap.Error(err))
		return
	}

	tags := usecase.DiffPreferences(s.prefs, updated)
	updated.ServiceRunning = s.prefs.ServiceRunning
	s.prefs = updated

	s.logger.Info("preferences reloaded", zap.Int("changed", len(tags)))
	for _, tag := range tags {
		s.onPreferenceChanged(tag)
	}
}

func (s *Service) onPreferenceChanged(tag domain.PreferenceTag) {
	s.logger.Debug("preference changed", zap.String("tag", string(tag)))

	switch tag {
	case domain.TagMode:
		// An explicit mode choice overrides an active schedule window.
		s.windowActive = false
		s.rebuildConfig()
		s.apply()

	case domain.TagWhitelist:
		s.rebuildConfig()
		s.apply()

	case domain.TagAlpha:
		if styler, ok := s.deps.Overlay.(domain.MatteStyler); ok {
			styler.SetAlpha(s.prefs.Alpha)
		}

	case domain.TagColor:
		if styler, ok := s.deps.Overlay.(domain.MatteStyler); ok {
			styler.SetColor(s.prefs.Color)
		}

	case domain.TagNotification:
		s.syncNotification()

	case domain.TagFloatWidget:
		s.syncWidget()

	case domain.TagSchedule:
		s.rebuildConfig()
		s.syncSchedule()
		s.apply()

	case domain.TagAutoStart:
		s.syncAutostart()
	}
}

// onAlarm handles the schedule window edges, then re-applies with whatever app
// is current (possibly stale).
func (s *Service) onAlarm(alarm string) {
	if s.modeCfg.ScheduleEnabled {
		switch alarm {
		case domain.AlarmWindowStart:
			s.logger.Info("night window started")
			s.windowActive = true
		case domain.AlarmWindowEnd:
			s.logger.Info("night window ended")
			s.windowActive = false
		default:
			s.logger.Warn("unknown alarm", zap.String("alarm", alarm))
		}
		s.rebuildConfig()
	}
	s.apply()
}

// toggle flips between dimmed and not dimmed by switching the user mode.
func (s *Service) toggle() {
	if s.decider.State().Dimmed {
		s.prefs.Mode = domain.ModeNormal
	} else {
		s.prefs.Mode = domain.ModeNight
	}
	if err := s.deps.Store.SavePreference(domain.TagMode, s.prefs); err != nil {
		s.logger.Warn("failed to persist toggled mode", zap.Error(err))
	}
	s.logger.Info("night mode toggled", zap.String("mode", s.prefs.Mode.String()))
	s.onPreferenceChanged(domain.TagMode)
}

func (s *Service) onConfigChanged(ctx context.Context, cfg ServiceConfig) {
	restart := cfg.PollInterval != s.config.PollInterval
	s.config = cfg
	s.decider.SetExempt(toIdentities(cfg.ExemptApps)...)

	if restart && s.monitor.Running() {
		s.monitor.Start(ctx, cfg.PollInterval)
	}
	s.apply()
}

func (s *Service) syncSchedule() {
	if s.deps.Schedule == nil {
		return
	}
	if !s.modeCfg.ScheduleEnabled {
		s.deps.Schedule.Disarm(domain.AlarmWindowStart)
		s.deps.Schedule.Disarm(domain.AlarmWindowEnd)
		return
	}

	s.deps.Schedule.Arm(s.modeCfg.WindowStart, domain.AlarmWindowStart)
	s.deps.Schedule.Arm(s.modeCfg.WindowEnd, domain.AlarmWindowEnd)

	s.windowActive = usecase.InWindow(s.now(), s.modeCfg.WindowStart, s.modeCfg.WindowEnd)
	s.rebuildConfig()
}

func (s *Service) syncNotification() {
	if s.deps.Notifier == nil {
		return
	}
	var err error
	if s.prefs.Notification {
		err = s.deps.Notifier.Show()
	} else {
		err = s.deps.Notifier.Hide()
	}
	if err != nil {
		s.logger.Warn("notification update failed", zap.Error(err))
	}
}

func (s *Service) syncWidget() {
	if s.deps.Widget == nil {
		return
	}
	var err error
	if s.prefs.FloatWidget {
		err = s.deps.Widget.Attach()
	} else {
		err = s.deps.Widget.Detach()
	}
	if err != nil {
		s.logger.Warn("float widget update failed", zap.Error(err))
	}
}

func (s *Service) syncAutostart() {
	if s.deps.Autostart == nil {
		return
	}
	if s.prefs.AutoStart {
		if s.deps.Autostart.IsInstalled() {
			return
		}
		if err := s.deps.Autostart.Install(s.config.ExecPath); err != nil {
			s.logger.Warn("failed to install autostart", zap.Error(err))
		}
		return
	}
	if !s.deps.Autostart.IsInstalled() {
		return
	}
	if err := s.deps.Autostart.Uninstall(); err != nil {
		s.logger.Warn("failed to remove autostart", zap.Error(err))
	}
}

func (s *Service) heartbeatInterval() time.Duration {
	if s.config.HeartbeatInterval <= 0 {
		return DefaultServiceConfig().HeartbeatInterval
	}
	return s.config.HeartbeatInterval
}

func toIdentities(apps []string) []domain.AppIdentity {
	ids := make([]domain.AppIdentity, 0, len(apps))
	for _, a := range apps {
		ids = append(ids, domain.AppIdentity(a))
	}
	return ids
}
