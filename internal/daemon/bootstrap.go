package daemon

import (
	"fmt"
	"os/exec"
	"syscall"

	"github.com/eliteGoblin/focusd/nightmode/internal/domain"
)

// StartDaemonWithPath spawns `<binary> daemon --role <role>` in its own session.
func StartDaemonWithPath(binaryPath string, role domain.DaemonRole) error {
	cmd := DaemonCommand(binaryPath, role)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s daemon: %w", role, err)
	}
	// Reap in the background so the child never lingers as a zombie.
	go func() { _ = cmd.Wait() }()
	return nil
}

// DaemonCommand builds the detached self-exec command for role.
func DaemonCommand(binaryPath string, role domain.DaemonRole) *exec.Cmd {
	cmd := exec.Command(binaryPath, "daemon", "--role", string(role))

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	// No stdin/stdout/stderr - fully detached
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd
}

// StartBothDaemons starts the service and its guardian.
func StartBothDaemons(binaryPath string) error {
	if err := StartDaemonWithPath(binaryPath, domain.RoleService); err != nil {
		return err
	}
	return StartDaemonWithPath(binaryPath, domain.RoleGuardian)
}
