package infra

import (
	_ "embed"
	"sync"

	"fyne.io/systray"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/nightmode/internal/domain"
)

//go:embed tray.png
var trayIconData []byte

// trayBackend draws the tray icon and its menu.
type trayBackend interface {
	Start(onToggle func(), checked bool)
	SetChecked(checked bool)
	Stop()
}

// TrayWidget implements domain.FloatingWidgetSink as a system tray icon with
// a "Night mode" checkbox. Clicking it calls toggle; the checkbox only follows
// SetChecked, so it always shows the service's decision.
type TrayWidget struct {
	backend trayBackend
	toggle  func()
	logger  *zap.Logger

	mu       sync.Mutex
	attached bool
	checked  bool
}

// NewTrayWidget creates a tray widget calling toggle on click.
func NewTrayWidget(toggle func(), logger *zap.Logger) *TrayWidget {
	return &TrayWidget{
		backend: &systrayBackend{},
		toggle:  toggle,
		logger:  logger,
	}
}

// Attach implements domain.FloatingWidgetSink.
func (w *TrayWidget) Attach() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.attached {
		return nil
	}
	w.backend.Start(w.onClick, w.checked)
	w.attached = true
	w.logger.Info("tray widget attached")
	return nil
}

// Detach implements domain.FloatingWidgetSink.
func (w *TrayWidget) Detach() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.attached {
		return nil
	}
	w.backend.Stop()
	w.attached = false
	w.logger.Info("tray widget detached")
	return nil
}

// SetChecked implements domain.ToggleIndicator.
func (w *TrayWidget) SetChecked(checked bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if checked == w.checked {
		return
	}
	w.checked = checked
	if w.attached {
		w.backend.SetChecked(checked)
	}
}

// Checked reports the state the checkbox shows.
func (w *TrayWidget) Checked() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.checked
}

// Attached reports whether the icon is shown.
func (w *TrayWidget) Attached() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attached
}

func (w *TrayWidget) onClick() {
	w.logger.Debug("tray toggle clicked")
	if w.toggle != nil {
		w.toggle()
	}
}

// systrayBackend runs fyne.io/systray without owning the main loop.
type systrayBackend struct {
	end  func()
	quit chan struct{}

	mu      sync.Mutex
	item    *systray.MenuItem
	checked bool
}

func (b *systrayBackend) Start(onToggle func(), checked bool) {
	quit := make(chan struct{})
	b.quit = quit
	b.mu.Lock()
	b.checked = checked
	b.mu.Unlock()

	start, end := systray.RunWithExternalLoop(func() {
		systray.SetIcon(trayIconData)
		systray.SetTooltip("Night mode")

		b.mu.Lock()
		item := systray.AddMenuItemCheckbox("Night mode", "Toggle night mode", b.checked)
		b.item = item
		b.mu.Unlock()

		go func() {
			for {
				select {
				case <-item.ClickedCh:
					onToggle()
				case <-quit:
					return
				}
			}
		}()
	}, func() {})

	b.end = end
	start()
}

func (b *systrayBackend) SetChecked(checked bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checked = checked
	if b.item == nil {
		return
	}
	if checked {
		b.item.Check()
	} else {
		b.item.Uncheck()
	}
}

func (b *systrayBackend) Stop() {
	if b.quit != nil {
		close(b.quit)
		b.quit = nil
	}
	b.mu.Lock()
	b.item = nil
	b.mu.Unlock()
	if b.end != nil {
		b.end()
		b.end = nil
	}
}

var (
	_ domain.FloatingWidgetSink = (*TrayWidget)(nil)
	_ domain.ToggleIndicator    = (*TrayWidget)(nil)
)
