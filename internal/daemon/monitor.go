package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/nightmode/internal/domain"
)

// Monitor owns at most one running ForegroundWatcher.
// Restarting stops the current watcher and waits for it to exit before the
// successor starts, so two watchers never poll in parallel.
type Monitor struct {
	query    domain.ForegroundQuery
	onChange func(domain.AppIdentity)
	logger   *zap.Logger

	mu         sync.Mutex
	current    *ForegroundWatcher
	generation string
}

// NewMonitor creates a monitor delivering changes to onChange.
func NewMonitor(query domain.ForegroundQuery, onChange func(domain.AppIdentity), logger *zap.Logger) *Monitor {
	return &Monitor{
		query:    query,
		onChange: onChange,
		logger:   logger,
	}
}

// Start launches a watcher polling at interval, replacing any running one.
// The successor's goroutine waits for its predecessor to exit before its first
// poll, so Start never blocks the caller on a watcher that is mid-emission.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.current
	if prev != nil {
		prev.Stop()
		m.logger.Debug("foreground watcher replaced", zap.String("generation", m.generation))
	}

	w := NewForegroundWatcher(m.query, m.logger)
	m.current = w
	m.generation = uuid.NewString()

	m.logger.Info("foreground watcher started",
		zap.String("generation", m.generation),
		zap.Duration("interval", interval))

	go func() {
		if prev != nil {
			select {
			case <-prev.Done():
				w.Seed(prev.LastEmitted())
			case <-ctx.Done():
				close(w.done)
				return
			}
		}
		w.Run(ctx, interval, m.onChange)
	}()
}

// Stop signals the running watcher. It returns without waiting; the watcher
// exits within one poll interval and emits nothing further.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.current.Stop()
		m.logger.Info("foreground watcher stopping", zap.String("generation", m.generation))
	}
}

// Wait blocks until the current watcher (if any) has exited or ctx is done.
func (m *Monitor) Wait(ctx context.Context) {
	m.mu.Lock()
	w := m.current
	m.mu.Unlock()

	if w == nil {
		return
	}
	select {
	case <-w.Done():
	case <-ctx.Done():
	}
}

// Running reports whether a watcher is active and not asked to stop.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.Stopped() {
		return false
	}
	select {
	case <-m.current.Done():
		return false
	default:
		return true
	}
}
