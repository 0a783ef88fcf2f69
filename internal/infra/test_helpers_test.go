package infra

import (
	"os"
	"syscall"
)

// mockProcessManager is a test double for domain.ProcessManager
type mockProcessManager struct {
	runningPIDs map[int]bool
	names       map[int]string
	signals     map[int][]syscall.Signal
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{
		runningPIDs: make(map[int]bool),
		names:       make(map[int]string),
		signals:     make(map[int][]syscall.Signal),
	}
}

func (m *mockProcessManager) NameOf(pid int) (string, error) {
	name, ok := m.names[pid]
	if !ok {
		return "", os.ErrNotExist
	}
	return name, nil
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	return m.runningPIDs[pid]
}

func (m *mockProcessManager) Signal(pid int, sig syscall.Signal) error {
	m.signals[pid] = append(m.signals[pid], sig)
	return nil
}

func (m *mockProcessManager) GetCurrentPID() int {
	return os.Getpid()
}

func (m *mockProcessManager) SetRunning(pid int, running bool) {
	m.runningPIDs[pid] = running
}
