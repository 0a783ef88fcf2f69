package infra

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/nightmode/internal/domain"
)

const defaultHookTimeout = 5 * time.Second

// OverlayHooks are shell commands rendering the overlay. Each is a
// text/template over HookData; an empty hook only logs.
type OverlayHooks struct {
	DimIn   string
	DimOut  string
	Style   string
	Timeout time.Duration
}

// HookData is the template data for overlay hooks.
type HookData struct {
	Alpha      float64 // Matte opacity, 0..1
	Brightness float64 // 1 - Alpha, for brightness-style tools
	Color      string  // "#RRGGBB"
	ARGB       uint32
}

type overlayLevel int

const (
	levelUnknown overlayLevel = iota
	levelIn
	levelOut
)

// hookRunner executes a rendered hook.
type hookRunner func(ctx context.Context, command string) ([]byte, error)

func runShell(ctx context.Context, command string) ([]byte, error) {
	return exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
}

// CommandOverlay implements domain.TransitionSink and domain.MatteStyler by
// running shell hooks on its own goroutine. Calls only record the requested
// level and matte and return at once; the worker coalesces them and runs
// hooks for the latest request. It remembers the applied level so redundant
// requests do nothing; a failed hook leaves the level unknown so the next
// request retries.
type CommandOverlay struct {
	logger *zap.Logger
	run    hookRunner

	mu      sync.Mutex
	hooks   OverlayHooks
	epoch   int          // Bumped by SetHooks
	want    overlayLevel // Requested
	level   overlayLevel // Applied
	style   matte        // Requested
	styled  matte        // Applied
	pending bool
	busy    bool
	idle    chan struct{} // Closed while nothing is pending or running

	wake      chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type matte struct {
	alpha float64
	color uint32
}

// NewCommandOverlay creates an overlay with the default matte and starts its
// worker. Call Close to run outstanding hooks and stop it.
func NewCommandOverlay(hooks OverlayHooks, logger *zap.Logger) *CommandOverlay {
	idle := make(chan struct{})
	close(idle)

	def := matte{alpha: domain.DefaultAlpha, color: domain.DefaultColor}
	o := &CommandOverlay{
		logger: logger,
		run:    runShell,
		hooks:  hooks,
		style:  def,
		styled: def,
		idle:   idle,
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go o.loop()
	return o
}

// SetHooks swaps the hooks. The next transition runs with the new set.
func (o *CommandOverlay) SetHooks(hooks OverlayHooks) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if hooks != o.hooks {
		o.hooks = hooks
		o.epoch++
		o.level = levelUnknown
		o.logger.Info("overlay hooks updated")
	}
}

// DimIn implements domain.TransitionSink.
func (o *CommandOverlay) DimIn() {
	o.request(func() { o.want = levelIn })
}

// DimOut implements domain.TransitionSink.
func (o *CommandOverlay) DimOut() {
	o.request(func() { o.want = levelOut })
}

// SetAlpha implements domain.MatteStyler.
func (o *CommandOverlay) SetAlpha(alpha float64) {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	o.request(func() { o.style.alpha = alpha })
}

// SetColor implements domain.MatteStyler.
func (o *CommandOverlay) SetColor(argb uint32) {
	o.request(func() { o.style.color = argb })
}

// Dimmed reports whether the last applied level is dimmed.
func (o *CommandOverlay) Dimmed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.level == levelIn
}

// Flush blocks until every request made so far has been applied or ctx is done.
func (o *CommandOverlay) Flush(ctx context.Context) error {
	o.mu.Lock()
	idle := o.idle
	o.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close runs outstanding hooks and stops the worker. The overlay must not be
// used afterwards.
func (o *CommandOverlay) Close() {
	o.closeOnce.Do(func() { close(o.quit) })
	<-o.done
}

func (o *CommandOverlay) request(update func()) {
	o.mu.Lock()
	update()
	o.pending = true
	if !o.busy {
		o.busy = true
		o.idle = make(chan struct{})
	}
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *CommandOverlay) loop() {
	defer close(o.done)
	for {
		select {
		case <-o.wake:
			for o.step() {
			}
		case <-o.quit:
			for o.step() {
			}
			return
		}
	}
}

// step applies the latest request and reports whether another arrived meanwhile.
func (o *CommandOverlay) step() bool {
	o.mu.Lock()
	if !o.pending {
		o.mu.Unlock()
		return false
	}
	o.pending = false
	hooks, epoch := o.hooks, o.epoch
	want, level := o.want, o.level
	style, styled := o.style, o.styled
	o.mu.Unlock()

	data := hookData(style)
	if style != styled {
		if err := o.runHook(hooks, "style", hooks.Style, data); err != nil {
			o.logger.Warn("overlay hook failed", zap.String("hook", "style"), zap.Error(err))
		}
		// Re-apply the matte with the new style.
		if level == levelIn {
			level = levelUnknown
		}
	}

	if want != levelUnknown && want != level {
		hook, name := hooks.DimOut, "dim_out"
		if want == levelIn {
			hook, name = hooks.DimIn, "dim_in"
		}
		level = want
		if err := o.runHook(hooks, name, hook, data); err != nil {
			level = levelUnknown
			o.logger.Warn("overlay hook failed", zap.String("hook", name), zap.Error(err))
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.styled = style
	if o.epoch == epoch {
		o.level = level
	}
	if o.pending {
		return true
	}
	o.busy = false
	close(o.idle)
	return false
}

func (o *CommandOverlay) runHook(hooks OverlayHooks, name, hook string, data HookData) error {
	if strings.TrimSpace(hook) == "" {
		o.logger.Debug("overlay hook not configured", zap.String("hook", name))
		return nil
	}

	command, err := RenderHook(hook, data)
	if err != nil {
		return err
	}

	timeout := hooks.Timeout
	if timeout <= 0 {
		timeout = defaultHookTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out, err := o.run(ctx, command)
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	o.logger.Debug("overlay hook ran", zap.String("hook", name), zap.String("command", command))
	return nil
}

func hookData(m matte) HookData {
	return HookData{
		Alpha:      m.alpha,
		Brightness: 1 - m.alpha,
		Color:      fmt.Sprintf("#%06X", m.color&0xFFFFFF),
		ARGB:       m.color,
	}
}

// RenderHook expands a hook template.
func RenderHook(hook string, data HookData) (string, error) {
	tmpl, err := template.New("hook").Option("missingkey=error").Parse(hook)
	if err != nil {
		return "", fmt.Errorf("invalid hook template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render hook: %w", err)
	}
	return buf.String(), nil
}

var (
	_ domain.TransitionSink = (*CommandOverlay)(nil)
	_ domain.MatteStyler    = (*CommandOverlay)(nil)
)
