package fixtures

import (
	"sync"
)

// Overlay call names recorded by RecordingOverlay.
const (
	CallDimIn  = "in"
	CallDimOut = "out"
)

// RecordingOverlay records every transition and style change.
type RecordingOverlay struct {
	mu    sync.Mutex
	calls []string
	alpha float64
	color uint32
}

// NewRecordingOverlay creates an empty recorder.
func NewRecordingOverlay() *RecordingOverlay {
	return &RecordingOverlay{}
}

func (o *RecordingOverlay) DimIn() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, CallDimIn)
}

func (o *RecordingOverlay) DimOut() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, CallDimOut)
}

func (o *RecordingOverlay) SetAlpha(alpha float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.alpha = alpha
}

func (o *RecordingOverlay) SetColor(argb uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.color = argb
}

// Calls returns a copy of the recorded transitions.
func (o *RecordingOverlay) Calls() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.calls))
	copy(out, o.calls)
	return out
}

// Last returns the most recent transition, or "" if none.
func (o *RecordingOverlay) Last() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.calls) == 0 {
		return ""
	}
	return o.calls[len(o.calls)-1]
}

// Style returns the last alpha and color applied.
func (o *RecordingOverlay) Style() (float64, uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.alpha, o.color
}
