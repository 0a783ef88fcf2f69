package infra

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordedHooks struct {
	mu       sync.Mutex
	commands []string
	fail     bool
	gate     chan struct{} // If set, each hook waits for a receive
	waiting  int
}

func (r *recordedHooks) run(_ context.Context, command string) ([]byte, error) {
	r.mu.Lock()
	gate := r.gate
	r.mu.Unlock()
	if gate != nil {
		r.mu.Lock()
		r.waiting++
		r.mu.Unlock()
		<-gate
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, command)
	if r.fail {
		return []byte("no display"), errors.New("exit status 1")
	}
	return nil, nil
}

func (r *recordedHooks) setFail(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fail
}

// blocked returns how many hooks reached the gate.
func (r *recordedHooks) blocked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

func (r *recordedHooks) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.commands))
	copy(out, r.commands)
	return out
}

func newTestOverlay(t *testing.T, hooks OverlayHooks) (*CommandOverlay, *recordedHooks) {
	t.Helper()
	rec := &recordedHooks{}
	o := NewCommandOverlay(hooks, zap.NewNop())
	o.run = rec.run
	t.Cleanup(o.Close)
	return o, rec
}

func flush(t *testing.T, o *CommandOverlay) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, o.Flush(ctx))
}

var testHooks = OverlayHooks{
	DimIn:  "brightness {{.Brightness}}",
	DimOut: "brightness 1",
	Style:  "tint {{.Color}}",
}

func TestCommandOverlay_SuppressesRedundantLevels(t *testing.T) {
	o, rec := newTestOverlay(t, testHooks)

	for _, dim := range []bool{true, true, false, false, true} {
		if dim {
			o.DimIn()
		} else {
			o.DimOut()
		}
		flush(t, o)
	}

	assert.Equal(t, []string{"brightness 0.5", "brightness 1", "brightness 0.5"}, rec.get())
	assert.True(t, o.Dimmed())
}

func TestCommandOverlay_FailedHookRetries(t *testing.T) {
	o, rec := newTestOverlay(t, testHooks)
	rec.setFail(true)

	o.DimIn()
	flush(t, o)
	assert.False(t, o.Dimmed())

	rec.setFail(false)
	o.DimIn()
	flush(t, o)
	assert.True(t, o.Dimmed())
	assert.Len(t, rec.get(), 2)
}

func TestCommandOverlay_StyleReappliesWhileDimmed(t *testing.T) {
	o, rec := newTestOverlay(t, testHooks)

	o.SetAlpha(0.75)
	flush(t, o)
	o.DimIn()
	flush(t, o)
	o.SetColor(0xFF112233)
	flush(t, o)
	o.SetColor(0xFF112233)
	flush(t, o)

	assert.Equal(t, []string{
		"tint #000000",
		"brightness 0.25",
		"tint #112233",
		"brightness 0.25",
	}, rec.get())
}

func TestCommandOverlay_AlphaClamped(t *testing.T) {
	o, rec := newTestOverlay(t, OverlayHooks{DimIn: "a={{.Alpha}}"})

	o.SetAlpha(3)
	o.DimIn()
	flush(t, o)

	assert.Equal(t, []string{"a=1"}, rec.get())
}

func TestCommandOverlay_EmptyHooksOnlyTrackLevel(t *testing.T) {
	o, rec := newTestOverlay(t, OverlayHooks{})

	o.DimIn()
	flush(t, o)
	assert.True(t, o.Dimmed())
	o.DimOut()
	flush(t, o)
	assert.False(t, o.Dimmed())
	assert.Empty(t, rec.get())
}

func TestCommandOverlay_SetHooksResetsLevel(t *testing.T) {
	o, rec := newTestOverlay(t, testHooks)
	o.DimIn()
	flush(t, o)

	o.SetHooks(OverlayHooks{DimIn: "gamma 0.8", DimOut: "gamma 1"})
	o.DimIn()
	flush(t, o)

	assert.Equal(t, []string{"brightness 0.5", "gamma 0.8"}, rec.get())
}

func TestCommandOverlay_SlowHookDoesNotBlockCaller(t *testing.T) {
	o, rec := newTestOverlay(t, testHooks)
	gate := make(chan struct{})
	rec.gate = gate
	release := sync.OnceFunc(func() { close(gate) })
	t.Cleanup(release)

	o.DimIn()
	require.Eventually(t, func() bool { return rec.blocked() == 1 }, time.Second, time.Millisecond)

	returned := make(chan struct{})
	go func() {
		o.DimOut()
		o.DimIn()
		o.DimOut()
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("caller waited for a running hook")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, o.Flush(ctx), context.DeadlineExceeded, "hook is still running")

	// Requests made while the hook ran coalesce into the latest level.
	release()
	flush(t, o)
	assert.Equal(t, []string{"brightness 0.5", "brightness 1"}, rec.get())
	assert.False(t, o.Dimmed())
}

func TestCommandOverlay_CloseRunsOutstandingHooks(t *testing.T) {
	rec := &recordedHooks{}
	o := NewCommandOverlay(testHooks, zap.NewNop())
	o.run = rec.run

	o.DimIn()
	o.Close()
	o.Close()

	assert.Equal(t, []string{"brightness 0.5"}, rec.get())
}

func TestRenderHook(t *testing.T) {
	tests := []struct {
		name    string
		hook    string
		want    string
		wantErr bool
	}{
		{"plain", "xcalib -clear", "xcalib -clear", false},
		{"fields", "{{.Alpha}} {{.Brightness}} {{.Color}} {{printf \"%08X\" .ARGB}}", "0.4 0.6 #FF8800 80FF8800", false},
		{"bad syntax", "{{.Alpha", "", true},
		{"unknown field", "{{.Gamma}}", "", true},
	}

	data := HookData{Alpha: 0.4, Brightness: 0.6, Color: "#FF8800", ARGB: 0x80FF8800}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RenderHook(tt.hook, data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
