package infra

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/eliteGoblin/focusd/nightmode/internal/domain"
)

// ErrNoForeground is returned when no application has focus.
var ErrNoForeground = errors.New("no foreground application")

// outputRunner runs a command and returns its stdout.
type outputRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

var (
	activeWindowRe = regexp.MustCompile(`window id # (0x[0-9a-fA-F]+)`)
	wmPIDRe        = regexp.MustCompile(`_NET_WM_PID\(CARDINAL\) = (\d+)`)
	lsappASNRe     = regexp.MustCompile(`(ASN:0x[0-9a-fA-F]+-0x[0-9a-fA-F]+:)`)
	bundleIDRe     = regexp.MustCompile(`"CFBundleIdentifier"\s*=\s*"([^"]*)"`)
)

// XpropQuery reports the focused X11 window's process name, resolved through
// _NET_ACTIVE_WINDOW and _NET_WM_PID.
type XpropQuery struct {
	pm  domain.ProcessManager
	run outputRunner
}

// NewXpropQuery creates an X11 foreground query.
func NewXpropQuery(pm domain.ProcessManager) *XpropQuery {
	return &XpropQuery{pm: pm, run: runOutput}
}

// Current implements domain.ForegroundQuery.
func (q *XpropQuery) Current(ctx context.Context) (domain.AppIdentity, error) {
	out, err := q.run(ctx, "xprop", "-root", "_NET_ACTIVE_WINDOW")
	if err != nil {
		return domain.AppUnknown, fmt.Errorf("xprop root: %w", err)
	}
	window, err := parseActiveWindow(string(out))
	if err != nil {
		return domain.AppUnknown, err
	}

	out, err = q.run(ctx, "xprop", "-id", window, "_NET_WM_PID")
	if err != nil {
		return domain.AppUnknown, fmt.Errorf("xprop window %s: %w", window, err)
	}
	pid, err := parseWMPID(string(out))
	if err != nil {
		return domain.AppUnknown, err
	}

	name, err := q.pm.NameOf(pid)
	if err != nil {
		return domain.AppUnknown, err
	}
	return domain.AppIdentity(name), nil
}

func parseActiveWindow(out string) (string, error) {
	m := activeWindowRe.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("unexpected xprop output %q", strings.TrimSpace(out))
	}
	if id, err := strconv.ParseUint(m[1], 0, 64); err != nil || id == 0 {
		return "", ErrNoForeground
	}
	return m[1], nil
}

func parseWMPID(out string) (int, error) {
	m := wmPIDRe.FindStringSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("window has no _NET_WM_PID")
	}
	return strconv.Atoi(m[1])
}

// LsappinfoQuery reports the frontmost macOS application's bundle id.
type LsappinfoQuery struct {
	run outputRunner
}

// NewLsappinfoQuery creates a macOS foreground query.
func NewLsappinfoQuery() *LsappinfoQuery {
	return &LsappinfoQuery{run: runOutput}
}

// Current implements domain.ForegroundQuery.
func (q *LsappinfoQuery) Current(ctx context.Context) (domain.AppIdentity, error) {
	out, err := q.run(ctx, "lsappinfo", "front")
	if err != nil {
		return domain.AppUnknown, fmt.Errorf("lsappinfo front: %w", err)
	}
	m := lsappASNRe.FindStringSubmatch(string(out))
	if m == nil {
		return domain.AppUnknown, ErrNoForeground
	}

	out, err = q.run(ctx, "lsappinfo", "info", "-only", "bundleid", m[1])
	if err != nil {
		return domain.AppUnknown, fmt.Errorf("lsappinfo info: %w", err)
	}
	b := bundleIDRe.FindStringSubmatch(string(out))
	if b == nil || b[1] == "" {
		return domain.AppUnknown, fmt.Errorf("no bundle id for %s", m[1])
	}
	return domain.AppIdentity(b[1]), nil
}

// unsupportedQuery always fails, so the watcher never reports a change.
type unsupportedQuery struct{}

func (unsupportedQuery) Current(context.Context) (domain.AppIdentity, error) {
	return domain.AppUnknown, errors.New("foreground query is not supported on this platform")
}

var (
	_ domain.ForegroundQuery = (*XpropQuery)(nil)
	_ domain.ForegroundQuery = (*LsappinfoQuery)(nil)
	_ domain.ForegroundQuery = unsupportedQuery{}
)
