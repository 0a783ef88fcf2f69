// Package schedule provides the daily alarms that open and close the night window.
package schedule

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/nightmode/internal/domain"
)

// AlarmClock fires tagged daily alarms. Each armed alarm re-arms itself for
// the next day after firing until disarmed.
type AlarmClock struct {
	fire   func(tag string)
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	alarms map[string]*alarm
	closed bool
}

type alarm struct {
	tod   domain.TimeOfDay
	at    time.Time
	timer *time.Timer
}

// NewAlarmClock creates a clock delivering alarms to fire.
// fire runs on a timer goroutine and must not block.
func NewAlarmClock(fire func(tag string), logger *zap.Logger) *AlarmClock {
	return &AlarmClock{
		fire:   fire,
		logger: logger,
		now:    time.Now,
		alarms: make(map[string]*alarm),
	}
}

// Arm implements domain.ScheduleTimer.
func (c *AlarmClock) Arm(tod domain.TimeOfDay, tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.cancelLocked(tag)
	c.armLocked(tod, tag, c.now())
}

// Disarm implements domain.ScheduleTimer.
func (c *AlarmClock) Disarm(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelLocked(tag) {
		c.logger.Debug("alarm disarmed", zap.String("tag", tag))
	}
}

// Next returns when the alarm with tag fires next.
func (c *AlarmClock) Next(tag string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.alarms[tag]
	if !ok {
		return time.Time{}, false
	}
	return a.at, true
}

// Close disarms every alarm. Arm is a no-op afterwards.
func (c *AlarmClock) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for tag := range c.alarms {
		c.cancelLocked(tag)
	}
	c.closed = true
}

func (c *AlarmClock) armLocked(tod domain.TimeOfDay, tag string, from time.Time) {
	a := &alarm{tod: tod, at: tod.Next(from)}
	a.timer = time.AfterFunc(a.at.Sub(c.now()), func() { c.ring(tag, a) })
	c.alarms[tag] = a

	c.logger.Debug("alarm armed",
		zap.String("tag", tag),
		zap.String("time", tod.String()),
		zap.Time("at", a.at))
}

func (c *AlarmClock) cancelLocked(tag string) bool {
	a, ok := c.alarms[tag]
	if !ok {
		return false
	}
	a.timer.Stop()
	delete(c.alarms, tag)
	return true
}

// ring fires a and re-arms it for the following day, unless it was replaced
// or disarmed while the timer was pending.
func (c *AlarmClock) ring(tag string, a *alarm) {
	c.mu.Lock()
	if c.alarms[tag] != a {
		c.mu.Unlock()
		return
	}
	from := c.now()
	if from.Before(a.at) {
		from = a.at
	}
	c.armLocked(a.tod, tag, from)
	c.mu.Unlock()

	c.logger.Info("alarm fired", zap.String("tag", tag), zap.String("time", a.tod.String()))
	c.fire(tag)
}
