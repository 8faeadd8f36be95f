package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"none", LevelNone},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "input %q", tt.input)
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "NONE", LevelNone.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := New(LevelWarn, path, "")
	require.NoError(t, err)
	defer l.Close()

	l.Debug("dropped debug")
	l.Info("dropped info")
	l.Warn("kept warn")
	l.Error("kept error")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept warn")
	assert.Contains(t, out, "kept error")
}

func TestWithPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := New(LevelInfo, path, "conn")
	require.NoError(t, err)
	defer l.Close()

	l.WithPrefix("pump").Info("hello %d", 7)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[conn:pump] hello 7")
}

func TestSetLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := New(LevelError, path, "")
	require.NoError(t, err)
	defer l.Close()

	l.Info("before")
	l.SetLevel(LevelDebug)
	assert.Equal(t, LevelDebug, l.GetLevel())
	l.Info("after")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.TrimSpace(string(data))
	assert.NotContains(t, lines, "before")
	assert.Contains(t, lines, "after")
}

func TestNewWriter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(LevelDebug, &buf, "test")

	l.Debug("hello %s", "world")

	out := buf.String()
	assert.Contains(t, out, "[DEBUG]")
	assert.Contains(t, out, "[test] hello world")
}

func TestDisabledWithoutPath(t *testing.T) {
	l, err := New(LevelDebug, "", "")
	require.NoError(t, err)
	defer l.Close()

	// Must not panic or write anywhere.
	l.Error("nowhere to go")
}
