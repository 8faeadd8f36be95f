// Package pidfile guards the dev server against concurrent instances by
// recording its PID in the state directory.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// File is a PID file owned by at most one live process at a time.
type File struct {
	path string
}

// New creates a PID file handle at path.
func New(path string) *File {
	return &File{path: path}
}

// DefaultPath returns the default PID file location in the state directory.
func DefaultPath() string {
	if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
		return filepath.Join(stateHome, "deskbridge", "devserver.pid")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".local", "state", "deskbridge", "devserver.pid")
}

// Path returns the PID file location.
func (f *File) Path() string {
	return f.path
}

// Acquire claims the PID file for the current process. A file left behind
// by a dead process is replaced; a live owner makes Acquire fail.
func (f *File) Acquire() error {
	if pid, err := f.read(); err == nil && alive(pid) {
		return fmt.Errorf("dev server already running (pid %d)", pid)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create pidfile directory: %w", err)
	}
	if err := os.WriteFile(f.path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("failed to write pidfile: %w", err)
	}
	return nil
}

// Release removes the PID file. Releasing an absent file is a no-op.
func (f *File) Release() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pidfile: %w", err)
	}
	return nil
}

func (f *File) read() (int, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in pidfile: %w", err)
	}
	return pid, nil
}

// alive reports whether a process with the given PID exists. Signal 0
// performs the existence check without delivering anything.
func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
