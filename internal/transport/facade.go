// Package transport is the single entry point UI code uses to talk to the
// backend: Invoke for commands, Listen for backend-pushed events. The
// Facade routes each call to either the in-process native bridge or the
// remote socket connection; callers never know which.
package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/codefionn/deskbridge/internal/remote"
)

// Bridge is the native in-process path. It is an opaque collaborator:
// correlation, retry, and backoff are its own business, and it is assumed
// reliable and always available when running embedded.
type Bridge interface {
	// Call invokes a backend command and returns its result
	Call(ctx context.Context, command string, args map[string]interface{}) (json.RawMessage, error)
	// Subscribe registers handler for a backend-pushed event and returns
	// an unsubscribe function
	Subscribe(event string, handler func(json.RawMessage)) (unsubscribe func(), err error)
}

// Facade dispatches Invoke/Listen to the bridge or the remote connection.
// The mode decision is made per call by consulting the probe, never
// cached across calls.
type Facade struct {
	probe  *Probe
	bridge Bridge
	conn   *remote.Conn

	mu       sync.RWMutex
	statusCb func(remote.Status)
}

// New creates the facade. Either bridge or conn may be nil when the
// corresponding mode is not available in this process.
func New(bridge Bridge, conn *remote.Conn) *Facade {
	f := &Facade{
		probe:  DetectProbe(bridge),
		bridge: bridge,
		conn:   conn,
	}
	if conn != nil {
		conn.SetStateCallback(func(st remote.Status) {
			if st.State == remote.StateConnected {
				f.probe.MarkRemote()
			}
			f.mu.RLock()
			cb := f.statusCb
			f.mu.RUnlock()
			if cb != nil {
				cb(st)
			}
		})
	}
	return f
}

// Probe returns the facade's environment probe
func (f *Facade) Probe() *Probe {
	return f.probe
}

// OnStatus registers the observer for remote connection status, used by
// the UI to render "reconnecting" and terminal auth failures
func (f *Facade) OnStatus(fn func(remote.Status)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCb = fn
}

// Status returns the current remote connection status
func (f *Facade) Status() remote.Status {
	if f.conn == nil {
		return remote.Status{State: remote.StateDisconnected}
	}
	return f.conn.Status()
}

// Invoke runs a backend command and returns its raw result
func (f *Facade) Invoke(ctx context.Context, command string, args map[string]interface{}) (json.RawMessage, error) {
	if f.useBridge() {
		return f.bridge.Call(ctx, command, args)
	}
	if f.conn == nil {
		return nil, remote.NewError(remote.KindBackendUnreachable, "no remote connection configured")
	}
	return f.conn.Invoke(ctx, command, args)
}

// Listen subscribes handler to a backend-pushed event. The returned
// unsubscribe function is idempotent.
func (f *Facade) Listen(event string, handler func(json.RawMessage)) (unsubscribe func(), err error) {
	if f.useBridge() {
		return f.bridge.Subscribe(event, handler)
	}
	if f.conn == nil {
		return nil, remote.NewError(remote.KindBackendUnreachable, "no remote connection configured")
	}
	return f.conn.Listen(event, handler), nil
}

func (f *Facade) useBridge() bool {
	return f.bridge != nil && f.probe.Embedded()
}
