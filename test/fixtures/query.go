// Package fixtures provides in-memory collaborators for service tests.
package fixtures

import (
	"context"
	"errors"
	"sync"

	"github.com/eliteGoblin/focusd/nightmode/internal/domain"
)

// ErrQueryFailed is returned by a ScriptedQuery step marked as failing.
var ErrQueryFailed = errors.New("foreground query failed")

// Step is one scripted answer of a ScriptedQuery.
type Step struct {
	App domain.AppIdentity
	Err error
}

// ScriptedQuery answers Current from a script, one step per call.
// Once the script is exhausted it keeps answering the last step.
type ScriptedQuery struct {
	mu    sync.Mutex
	steps []Step
	polls int

	// OnPoll, if set, runs before each answer with the 1-based poll number.
	OnPoll func(poll int)
}

// NewScriptedQuery scripts a sequence of foreground apps.
func NewScriptedQuery(apps ...domain.AppIdentity) *ScriptedQuery {
	q := &ScriptedQuery{}
	for _, app := range apps {
		q.steps = append(q.steps, Step{App: app})
	}
	return q
}

// NewScriptedQuerySteps scripts a sequence that may include failures.
func NewScriptedQuerySteps(steps ...Step) *ScriptedQuery {
	return &ScriptedQuery{steps: steps}
}

// Current implements domain.ForegroundQuery.
func (q *ScriptedQuery) Current(_ context.Context) (domain.AppIdentity, error) {
	q.mu.Lock()
	q.polls++
	poll := q.polls
	hook := q.OnPoll
	var step Step
	switch {
	case len(q.steps) == 0:
		step = Step{Err: ErrQueryFailed}
	case len(q.steps) == 1:
		step = q.steps[0]
	default:
		step = q.steps[0]
		q.steps = q.steps[1:]
	}
	q.mu.Unlock()

	if hook != nil {
		hook(poll)
	}
	return step.App, step.Err
}

// Set replaces the remaining script with a single app held forever.
func (q *ScriptedQuery) Set(app domain.AppIdentity) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.steps = []Step{{App: app}}
}

// Polls returns how many times Current was called.
func (q *ScriptedQuery) Polls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.polls
}

// Remaining returns how many scripted steps are left before the last one repeats.
func (q *ScriptedQuery) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.steps) == 0 {
		return 0
	}
	return len(q.steps) - 1
}
