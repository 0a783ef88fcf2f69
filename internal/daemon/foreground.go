package daemon

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/nightmode/internal/domain"
)

// DefaultPollInterval trades responsiveness to app switches against polling overhead.
const DefaultPollInterval = 100 * time.Millisecond

// ForegroundWatcher polls the foreground app and reports changes only.
// One watcher runs one loop; use Monitor to restart.
type ForegroundWatcher struct {
	query  domain.ForegroundQuery
	logger *zap.Logger

	stop    atomic.Bool
	last    domain.AppIdentity // Only touched by the Run goroutine
	emitted domain.AppIdentity // Last app handed to onChange
	done    chan struct{}
}

// NewForegroundWatcher creates a watcher over query.
func NewForegroundWatcher(query domain.ForegroundQuery, logger *zap.Logger) *ForegroundWatcher {
	return &ForegroundWatcher{
		query:  query,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// PollOnce asks the query for the foreground app.
// Failures are swallowed and reported as AppUnknown.
func (w *ForegroundWatcher) PollOnce(ctx context.Context) domain.AppIdentity {
	app, err := w.query.Current(ctx)
	if err != nil {
		w.logger.Debug("foreground query failed", zap.Error(err))
		return domain.AppUnknown
	}
	return app
}

// Run polls every interval until ctx is done or Stop is called,
// invoking onChange for each new foreground app. Blocks; closes Done on return.
func (w *ForegroundWatcher) Run(ctx context.Context, interval time.Duration, onChange func(domain.AppIdentity)) {
	defer close(w.done)

	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if w.stop.Load() {
			return
		}

		app := w.PollOnce(ctx)
		if app != domain.AppUnknown {
			if app != w.last && !w.stop.Load() {
				onChange(app)
				w.emitted = app
			}
			w.last = app
		}

		if w.stop.Load() {
			return
		}
		timer.Reset(interval)
	}
}

// Seed sets the last delivered app before Run starts, so a successor watcher
// does not re-emit what its predecessor already reported.
func (w *ForegroundWatcher) Seed(app domain.AppIdentity) {
	w.last = app
	w.emitted = app
}

// LastEmitted returns the last app handed to onChange. An app seen by a poll
// that Stop suppressed is not included, so a successor seeded from it still
// delivers that app. Only valid before Run or after Done is closed.
func (w *ForegroundWatcher) LastEmitted() domain.AppIdentity {
	return w.emitted
}

// Stop asks the loop to exit. No onChange fires after the current poll completes.
func (w *ForegroundWatcher) Stop() {
	w.stop.Store(true)
}

// Stopped reports whether Stop was called.
func (w *ForegroundWatcher) Stopped() bool {
	return w.stop.Load()
}

// Done is closed when Run returns.
func (w *ForegroundWatcher) Done() <-chan struct{} {
	return w.done
}
