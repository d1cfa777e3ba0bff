// Package pidfile guards against running two daemon instances at once
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile tracks the on-disk PID file for the current process
type PIDFile struct {
	path string
	pid  int
}

func New(path string) *PIDFile {
	return &PIDFile{path: path, pid: os.Getpid()}
}

// CheckRunning reports whether another live instance owns the PID file.
// A stale file (dead process) reports not running.
func (p *PIDFile) CheckRunning() (bool, int, error) {
	existingPID, err := p.read()
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("failed to read pid file: %w", err)
	}
	return processAlive(existingPID), existingPID, nil
}

// Create writes the current PID, removing a stale file if one is left over
func (p *PIDFile) Create() error {
	if existingPID, err := p.read(); err == nil {
		if processAlive(existingPID) {
			return fmt.Errorf("daemon already running with pid %d", existingPID)
		}
		if err := os.Remove(p.path); err != nil {
			return fmt.Errorf("failed to remove stale pid file: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create pid file directory: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(fmt.Sprintf("%d\n", p.pid)), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

// Remove deletes the PID file if this process owns it
func (p *PIDFile) Remove() error {
	existingPID, err := p.read()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return os.Remove(p.path)
	}
	if existingPID != p.pid {
		return fmt.Errorf("pid file owned by pid %d, not removing", existingPID)
	}
	return os.Remove(p.path)
}

// ForceRemove deletes the PID file regardless of ownership
func (p *PIDFile) ForceRemove() error {
	return os.Remove(p.path)
}

func (p *PIDFile) Path() string {
	return p.path
}

func (p *PIDFile) read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file contents: %q", strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// processAlive probes the PID with signal 0
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
