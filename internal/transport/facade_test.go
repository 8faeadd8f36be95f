package transport

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/deskbridge/internal/devserver"
	"github.com/codefionn/deskbridge/internal/remote"
	"github.com/codefionn/deskbridge/internal/tokenstore"
)

// fakeBridge is an in-process Bridge with canned handlers and a local
// event bus.
type fakeBridge struct {
	mu       sync.Mutex
	calls    []string
	handlers map[string][]func(json.RawMessage)
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{handlers: make(map[string][]func(json.RawMessage))}
}

func (b *fakeBridge) Call(ctx context.Context, command string, args map[string]interface{}) (json.RawMessage, error) {
	b.mu.Lock()
	b.calls = append(b.calls, command)
	b.mu.Unlock()
	if command == "fail" {
		return nil, errors.New("bridge failure")
	}
	return json.RawMessage(`{"via":"bridge"}`), nil
}

func (b *fakeBridge) Subscribe(event string, handler func(json.RawMessage)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], handler)
	return func() {}, nil
}

func (b *fakeBridge) emit(event string, payload json.RawMessage) {
	b.mu.Lock()
	handlers := append([]func(json.RawMessage){}, b.handlers[event]...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
}

func (b *fakeBridge) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func TestInvokeRoutesToBridgeWhenEmbedded(t *testing.T) {
	bridge := newFakeBridge()
	f := New(bridge, nil)

	require.True(t, f.Probe().Embedded())

	data, err := f.Invoke(context.Background(), "list_projects", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"via":"bridge"}`, string(data))
	assert.Equal(t, 1, bridge.callCount())
}

func TestInvokeBridgeErrorPassesThrough(t *testing.T) {
	bridge := newFakeBridge()
	f := New(bridge, nil)

	_, err := f.Invoke(context.Background(), "fail", nil)
	require.Error(t, err)
	assert.Equal(t, "bridge failure", err.Error())
}

func TestListenRoutesToBridgeWhenEmbedded(t *testing.T) {
	bridge := newFakeBridge()
	f := New(bridge, nil)

	got := make(chan string, 1)
	unsub, err := f.Listen("session_updated", func(payload json.RawMessage) {
		got <- string(payload)
	})
	require.NoError(t, err)
	defer unsub()

	bridge.emit("session_updated", json.RawMessage(`{"id":"s1"}`))
	select {
	case payload := <-got:
		assert.JSONEq(t, `{"id":"s1"}`, payload)
	case <-time.After(time.Second):
		t.Fatal("event not delivered via bridge")
	}
}

func TestNoBridgeNoConnIsUnreachable(t *testing.T) {
	f := New(nil, nil)

	_, err := f.Invoke(context.Background(), "x", nil)
	require.Error(t, err)
	assert.Equal(t, remote.KindBackendUnreachable, remote.KindOf(err))

	_, err = f.Listen("x", func(json.RawMessage) {})
	require.Error(t, err)
	assert.Equal(t, remote.KindBackendUnreachable, remote.KindOf(err))

	assert.Equal(t, remote.StateDisconnected, f.Status().State)
}

func TestEnvOverrideForcesRemote(t *testing.T) {
	t.Setenv("DESKBRIDGE_EMBEDDED", "0")

	bridge := newFakeBridge()
	f := New(bridge, nil)

	assert.False(t, f.Probe().Embedded())

	// With remote forced and no connection configured, calls fail rather
	// than silently falling back to the bridge.
	_, err := f.Invoke(context.Background(), "x", nil)
	require.Error(t, err)
	assert.Equal(t, remote.KindBackendUnreachable, remote.KindOf(err))
	assert.Equal(t, 0, bridge.callCount())
}

func TestEnvOverrideForcesEmbedded(t *testing.T) {
	t.Setenv("DESKBRIDGE_EMBEDDED", "true")

	p := DetectProbe(nil)
	assert.True(t, p.Embedded())
}

func TestRemoteConnectionTakesOverFromBridge(t *testing.T) {
	srv := devserver.New("secret")
	srv.Handle("echo", func(args map[string]interface{}) (interface{}, error) {
		return args, nil
	})
	require.NoError(t, srv.Start("127.0.0.1:0"))
	defer srv.Stop()

	store := tokenstore.New(filepath.Join(t.TempDir(), "token"))
	require.NoError(t, store.Save("secret"))
	conn := remote.New(&remote.Config{
		BaseURL:           srv.URL(),
		ConnectTimeout:    2 * time.Second,
		RequestTimeout:    time.Second,
		ReconnectDelay:    30 * time.Millisecond,
		ReconnectMaxDelay: 200 * time.Millisecond,
	}, store)
	defer conn.Close()

	bridge := newFakeBridge()
	f := New(bridge, conn)

	statuses := make(chan remote.Status, 16)
	f.OnStatus(func(st remote.Status) { statuses <- st })

	// While the socket is down, calls go through the bridge.
	data, err := f.Invoke(context.Background(), "echo", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"via":"bridge"}`, string(data))

	// Nudge the socket path directly and wait for the takeover.
	unsub := conn.Listen("noop", func(json.RawMessage) {})
	defer unsub()

	deadline := time.After(2 * time.Second)
	for f.Status().State != remote.StateConnected {
		select {
		case <-statuses:
		case <-deadline:
			t.Fatal("remote connection never reached Connected")
		}
	}

	// The probe flipped; subsequent calls route to the socket.
	assert.False(t, f.Probe().Embedded())
	data, err = f.Invoke(context.Background(), "echo", map[string]interface{}{"n": 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(data))
	assert.Equal(t, 1, bridge.callCount())
}

func TestMarkRemoteFlipsRouting(t *testing.T) {
	bridge := newFakeBridge()
	f := New(bridge, nil)

	require.True(t, f.Probe().Embedded())
	f.Probe().MarkRemote()
	assert.False(t, f.Probe().Embedded())

	// MarkRemote is one-way.
	f.Probe().MarkRemote()
	assert.False(t, f.Probe().Embedded())
}
