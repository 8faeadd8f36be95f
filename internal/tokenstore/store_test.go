package tokenstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmptySlot(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "token"))
	assert.Equal(t, "", s.Load())
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deskbridge", "token")
	s := New(path)

	require.NoError(t, s.Save("abc123"))
	assert.Equal(t, "abc123", s.Load())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoadTrimsWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("  abc123 \n"), 0600))

	s := New(path)
	assert.Equal(t, "abc123", s.Load())
}

func TestSaveOverwrites(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "token"))

	require.NoError(t, s.Save("old"))
	require.NoError(t, s.Save("new"))
	assert.Equal(t, "new", s.Load())
}

func TestClear(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "token"))

	require.NoError(t, s.Save("abc"))
	require.NoError(t, s.Clear())
	assert.Equal(t, "", s.Load())

	// Clearing an empty slot is a no-op.
	require.NoError(t, s.Clear())
}

func TestDefaultPathHonorsXDGStateHome(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/tmp/xdg-state")
	assert.Equal(t, filepath.Join("/tmp/xdg-state", "deskbridge", "token"), DefaultPath())
}

func waitToken(t *testing.T, ch <-chan string, timeout time.Duration) string {
	t.Helper()
	select {
	case tok := <-ch:
		return tok
	case <-time.After(timeout):
		t.Fatal("no token change observed")
		return ""
	}
}

func TestWatchSeesSaveAndClear(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "token"))

	changes := make(chan string, 8)
	stop, err := s.Watch(func(tok string) { changes <- tok })
	require.NoError(t, err)
	defer stop()

	require.NoError(t, s.Save("fresh"))
	assert.Equal(t, "fresh", waitToken(t, changes, 2*time.Second))

	require.NoError(t, s.Clear())
	// A remove may be reported as several events; drain until empty.
	deadline := time.Now().Add(2 * time.Second)
	tok := waitToken(t, changes, 2*time.Second)
	for tok != "" && time.Now().Before(deadline) {
		tok = waitToken(t, changes, 2*time.Second)
	}
	assert.Equal(t, "", tok)
}

func TestWatchIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "token"))

	changes := make(chan string, 8)
	stop, err := s.Watch(func(tok string) { changes <- tok })
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other"), []byte("x"), 0600))

	select {
	case tok := <-changes:
		t.Fatalf("unexpected change for sibling file: %q", tok)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatchStopIdempotent(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "token"))

	stop, err := s.Watch(func(string) {})
	require.NoError(t, err)

	stop()
	assert.NotPanics(t, stop)
}
