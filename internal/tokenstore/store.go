// Package tokenstore persists the backend auth token in a single durable
// slot on disk.
//
// The token is an opaque string. It may arrive from an explicit source
// (flag, environment, launch URL) or from the persisted slot; an explicit
// token is persisted on first resolution and the explicit source is
// consumed, so later resolutions read the slot. A token rejected by the
// backend is cleared from the slot.
package tokenstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/codefionn/deskbridge/internal/logger"
)

// Store holds the last-known-good auth token in a single file.
type Store struct {
	mu   sync.Mutex
	path string
}

// New creates a store backed by the file at path.
func New(path string) *Store {
	return &Store{path: path}
}

// DefaultPath returns the default token slot location in the state directory.
func DefaultPath() string {
	if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
		return filepath.Join(stateHome, "deskbridge", "token")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".local", "state", "deskbridge", "token")
}

// Load returns the persisted token, or "" if the slot is empty.
func (s *Store) Load() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Save writes the token to the slot. The file is created with 0600 since
// the token grants full backend access.
func (s *Store) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to persist token: %w", err)
	}
	return nil
}

// Clear removes the token from the slot. Clearing an empty slot is a no-op.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear token: %w", err)
	}
	return nil
}

// Watch reports changes to the token slot until stop is called. It is used
// to notice a human supplying a fresh token after a terminal auth failure.
// The callback receives the new slot contents ("" when cleared).
func (s *Store) Watch(onChange func(token string)) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create token watcher: %w", err)
	}

	// Watch the directory: the slot file may not exist yet, and editors
	// replace files rather than rewriting them in place.
	dir := filepath.Dir(s.path)
	if mkErr := os.MkdirAll(dir, 0700); mkErr != nil {
		watcher.Close()
		return nil, mkErr
	}
	if addErr := watcher.Add(dir); addErr != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch token directory: %w", addErr)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != s.path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					onChange(s.Load())
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Token watcher error: %v", werr)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			watcher.Close()
		})
	}, nil
}
