// Package remote implements the socket path of the transport layer: a
// single logical connection to the backend with token pre-flight,
// WebSocket lifecycle, capped exponential backoff reconnection, a FIFO
// queue for commands issued before the socket is open, and a correlation
// table matching asynchronous responses to their originating requests.
//
// All connection state is owned by one run-loop goroutine. Socket pumps,
// HTTP pre-flight goroutines, and timers never touch state directly; they
// post closures into the loop, which serializes every transition.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codefionn/deskbridge/internal/logger"
	"github.com/codefionn/deskbridge/internal/tokenstore"
	"github.com/codefionn/deskbridge/internal/wire"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Outbound frame buffer per connection epoch.
	sendBuffer = 256

	// Backoff shifts are capped well before the delay cap bites.
	maxBackoffShift = 16
)

// Config holds connection configuration
type Config struct {
	// BaseURL is the backend origin, e.g. "http://127.0.0.1:8936"
	BaseURL string
	// Token is the explicit token source (query parameter, flag, env).
	// It is consumed on first resolution and persisted to the store.
	Token string
	// ConnectTimeout bounds the pre-flight request and the WebSocket dial
	ConnectTimeout time.Duration
	// RequestTimeout is the fixed per-request expiry; every invoke
	// settles within this bound no matter what the connection does
	RequestTimeout time.Duration
	// ReconnectDelay is the backoff base
	ReconnectDelay time.Duration
	// ReconnectMaxDelay caps the backoff
	ReconnectMaxDelay time.Duration
	// HTTPClient is used for the pre-flight check; defaults to a client
	// with ConnectTimeout
	HTTPClient *http.Client
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           "http://127.0.0.1:8936",
		ConnectTimeout:    10 * time.Second,
		RequestTimeout:    30 * time.Second,
		ReconnectDelay:    2 * time.Second,
		ReconnectMaxDelay: 30 * time.Second,
	}
}

// outFrame is one serialized message handed to the socket writer
type outFrame struct {
	payload   []byte
	onFlushed func()
}

// queuedSend is a command issued before the socket was open. The queue is
// flushed to the socket in FIFO arrival order, exactly once, when the
// connection reaches Connected. A frame whose request settles while still
// queued is pruned, so the queue never outlives its callers.
type queuedSend struct {
	id        string
	payload   []byte
	onFlushed func()
}

// Conn owns the single logical connection to the backend. Construct one
// per process and inject it where needed; it is safe for concurrent use.
type Conn struct {
	cfg        *Config
	store      *tokenstore.Store
	events     *EventMux
	httpClient *http.Client

	actions chan func()
	done    chan struct{}

	// Run-loop owned state. Only the run loop reads or writes these.
	state         State
	attempt       int
	epoch         int
	rejectedToken string
	ws            *websocket.Conn
	writeCh       chan outFrame
	table         *table
	queue         []queuedSend
	stateCb       func(Status)
	closed        bool

	// Snapshot of the last transition for Status(); the only state
	// readable outside the loop.
	statusMu sync.RWMutex
	status   Status
}

// New creates a connection. No traffic is emitted until the first Invoke
// or Listen call nudges the state machine out of Disconnected.
func New(cfg *Config, store *tokenstore.Store) *Conn {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.ConnectTimeout}
	}

	c := &Conn{
		cfg:        cfg,
		store:      store,
		events:     NewEventMux(),
		httpClient: httpClient,
		actions:    make(chan func(), 64),
		done:       make(chan struct{}),
		state:      StateDisconnected,
		table:      newTable(),
	}
	go c.run()
	return c
}

// run is the single writer for all connection state
func (c *Conn) run() {
	for {
		select {
		case fn := <-c.actions:
			fn()
		case <-c.done:
			return
		}
	}
}

// do posts fn to the run loop. Safe to call from any goroutine; a closed
// connection drops the action.
func (c *Conn) do(fn func()) {
	select {
	case c.actions <- fn:
	case <-c.done:
	}
}

// SetStateCallback registers the observer for state transitions. The
// callback runs on the connection's run loop and must not block or call
// back into the connection synchronously.
func (c *Conn) SetStateCallback(fn func(Status)) {
	c.do(func() { c.stateCb = fn })
}

// Status returns a snapshot of the last state transition
func (c *Conn) Status() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

// Invoke sends a command to the backend and waits for its correlated
// response. Calls issued while disconnected are queued and flushed in
// FIFO order when the socket opens; the response still settles
// independently via the correlation table. Every call settles within the
// configured request timeout.
func (c *Conn) Invoke(ctx context.Context, command string, args map[string]interface{}) (json.RawMessage, error) {
	env := wire.NewInvoke(command, args)
	payload, err := env.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode invoke %q: %w", command, err)
	}

	resCh := make(chan result, 1)
	c.do(func() {
		if c.closed {
			resCh <- result{err: NewError(KindBackendUnreachable, "connection closed")}
			return
		}
		timeout := c.cfg.RequestTimeout
		timer := time.AfterFunc(timeout, func() {
			c.do(func() {
				c.table.settle(env.ID, result{err: NewError(KindTimedOut,
					fmt.Sprintf("no response to %q within %s", command, timeout))})
				c.dropQueued(env.ID)
			})
		})
		c.table.add(env.ID, resCh, timer)
		c.ensureConnecting()
		c.send(env.ID, payload, nil)
	})

	select {
	case r := <-resCh:
		return r.data, r.err
	case <-ctx.Done():
		// The pending entry stays registered and settles into its
		// buffered channel when the timer fires.
		return nil, wrapError(KindBackendUnreachable, ctx.Err())
	case <-c.done:
		return nil, NewError(KindBackendUnreachable, "connection closed")
	}
}

// Listen subscribes handler to backend-pushed events with the given name
// and returns an idempotent unsubscribe function. Listening emits no
// traffic but implies intent to receive pushes, so it nudges the state
// machine out of Disconnected.
func (c *Conn) Listen(event string, handler func(json.RawMessage)) (unsubscribe func()) {
	unsub := c.events.Subscribe(event, handler)
	c.do(func() {
		if !c.closed {
			c.ensureConnecting()
		}
	})
	return unsub
}

// Connect nudges the state machine toward Connected without emitting any
// traffic. After a terminal auth failure it re-enters validation once a
// fresh token is resolvable, so a token watcher can drive recovery without
// the caller retrying.
func (c *Conn) Connect() {
	c.do(func() {
		if !c.closed {
			c.ensureConnecting()
		}
	})
}

// Close shuts the connection down. Pending requests settle immediately
// with a backend-unreachable error.
func (c *Conn) Close() error {
	c.do(func() {
		if c.closed {
			return
		}
		c.closed = true
		c.epoch++
		if c.ws != nil {
			c.ws.Close()
			c.ws = nil
		}
		c.writeCh = nil
		c.queue = nil
		c.table.settleAll(result{err: NewError(KindBackendUnreachable, "connection closed")})
		c.transition(Status{State: StateDisconnected})
		close(c.done)
	})
	return nil
}

// --- run-loop internals; every function below runs on the loop ---

// transition records the new state and notifies the observer
func (c *Conn) transition(st Status) {
	c.state = st.State

	c.statusMu.Lock()
	c.status = st
	c.statusMu.Unlock()

	logger.Debug("Connection state: %s", st.State)
	if c.stateCb != nil {
		c.stateCb(st)
	}
}

// send writes payload to the open socket, or queues it for the FIFO
// flush if the socket is not open yet
func (c *Conn) send(id string, payload []byte, onFlushed func()) {
	if c.state == StateConnected && c.writeCh != nil {
		select {
		case c.writeCh <- outFrame{payload: payload, onFlushed: onFlushed}:
		default:
			// The request will settle via its expiry timer.
			logger.Warn("Outbound buffer full, dropping frame")
		}
		return
	}
	c.queue = append(c.queue, queuedSend{id: id, payload: payload, onFlushed: onFlushed})
}

// dropQueued removes the queued frame for a settled request, so a much
// later connect does not flush traffic nobody is waiting on
func (c *Conn) dropQueued(id string) {
	for i, q := range c.queue {
		if q.id == id {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return
		}
	}
}

// ensureConnecting nudges the state machine out of Disconnected. A
// terminal auth failure re-enters validation only once the resolvable
// token differs from the rejected one.
func (c *Conn) ensureConnecting() {
	switch c.state {
	case StateDisconnected:
		c.beginValidating()
	case StateAuthFailed:
		if tok := c.peekToken(); tok != "" && tok != c.rejectedToken {
			c.beginValidating()
		}
	default:
		// Validation, dial, backoff, or an open socket is already in
		// progress.
	}
}

// peekToken reports the token a validation attempt would use, without
// consuming the explicit source
func (c *Conn) peekToken() string {
	if c.cfg.Token != "" {
		return c.cfg.Token
	}
	if c.store != nil {
		return c.store.Load()
	}
	return ""
}

// resolveToken returns the token for this attempt. An explicit token is
// persisted and its source consumed, so revisiting the source later is a
// no-op (one-way, idempotent strip).
func (c *Conn) resolveToken() string {
	if c.cfg.Token != "" {
		tok := c.cfg.Token
		c.cfg.Token = ""
		if c.store != nil {
			if err := c.store.Save(tok); err != nil {
				logger.Warn("Failed to persist token: %v", err)
			}
		}
		return tok
	}
	if c.store != nil {
		return c.store.Load()
	}
	return ""
}

// beginValidating starts a new connection epoch with the auth pre-flight
func (c *Conn) beginValidating() {
	c.epoch++
	epoch := c.epoch

	tok := c.resolveToken()
	if tok == "" {
		c.rejectedToken = ""
		c.transition(Status{State: StateAuthFailed, Kind: KindNoToken, Message: "no token"})
		return
	}

	c.transition(Status{State: StateValidatingToken})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		defer cancel()
		ok, msg, err := validateToken(ctx, c.httpClient, c.cfg.BaseURL, tok)
		c.do(func() {
			if epoch != c.epoch || c.state != StateValidatingToken {
				return
			}
			if err != nil {
				// Could not reach the backend at all; not an auth failure.
				logger.Debug("Token pre-flight unreachable: %v", err)
				c.scheduleReconnect()
				return
			}
			if !ok {
				c.authFailed(tok, msg)
				return
			}
			c.transition(Status{State: StateSocketConnecting})
			c.startDial(epoch, tok)
		})
	}()
}

// authFailed enters the terminal auth-failure state and clears the
// persisted token
func (c *Conn) authFailed(tok, message string) {
	c.rejectedToken = tok
	if c.store != nil {
		if err := c.store.Clear(); err != nil {
			logger.Warn("Failed to clear rejected token: %v", err)
		}
	}
	logger.Error("Authentication rejected: %s", message)
	c.transition(Status{State: StateAuthFailed, Kind: KindAuthRejected, Message: message})
}

// startDial opens the WebSocket for the current epoch
func (c *Conn) startDial(epoch int, tok string) {
	go func() {
		wsURL, err := websocketURL(c.cfg.BaseURL, tok)
		var ws *websocket.Conn
		var status int
		if err == nil {
			dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}
			var resp *http.Response
			ws, resp, err = dialer.Dial(wsURL, nil)
			if resp != nil {
				status = resp.StatusCode
				if err != nil {
					resp.Body.Close()
				}
			}
		}
		c.do(func() {
			if epoch != c.epoch || c.state != StateSocketConnecting {
				if ws != nil {
					ws.Close()
				}
				return
			}
			if err != nil {
				if status == http.StatusUnauthorized || status == http.StatusForbidden {
					// Token revoked between pre-flight and dial.
					c.authFailed(tok, "token rejected at socket upgrade")
					return
				}
				logger.Debug("Socket dial failed: %v", err)
				c.scheduleReconnect()
				return
			}
			c.onSocketOpen(epoch, ws)
		})
	}()
}

// onSocketOpen transitions to Connected: start the pumps, flush the
// queued sends in FIFO order, reset the attempt counter
func (c *Conn) onSocketOpen(epoch int, ws *websocket.Conn) {
	c.ws = ws
	ch := make(chan outFrame, sendBuffer)
	c.writeCh = ch
	c.attempt = 0

	go c.readPump(epoch, ws)
	go c.writePump(epoch, ws, ch)

	for _, q := range c.queue {
		select {
		case ch <- outFrame{payload: q.payload, onFlushed: q.onFlushed}:
		default:
			logger.Warn("Outbound buffer full, dropping queued send")
		}
	}
	c.queue = nil

	logger.Info("Connected to %s", c.cfg.BaseURL)
	c.transition(Status{State: StateConnected})
}

// onSocketClosed handles a close or error reported by either pump.
// Pending requests are deliberately left to their own expiry timers: a
// response may already have been in flight when the socket dropped, so
// failing them here would produce false negatives. The cost is that
// failure detection for in-flight calls takes up to the request timeout.
func (c *Conn) onSocketClosed(epoch int, err error) {
	if epoch != c.epoch {
		return
	}
	if c.state != StateConnected && c.state != StateSocketConnecting {
		return
	}
	logger.Info("Socket closed: %v", err)
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	c.writeCh = nil
	c.scheduleReconnect()
}

// scheduleReconnect enters ReconnectPending and arms the backoff timer.
// The attempt counter is incremented when the timer fires (the
// ReconnectPending -> ValidatingToken edge) and reset only on Connected.
func (c *Conn) scheduleReconnect() {
	delay := c.backoffDelay()
	epoch := c.epoch
	c.transition(Status{State: StateReconnectPending, Kind: KindNetworkUnreachable, Attempt: c.attempt, Delay: delay})

	time.AfterFunc(delay, func() {
		c.do(func() {
			if epoch != c.epoch || c.state != StateReconnectPending {
				return
			}
			c.attempt++
			c.beginValidating()
		})
	})
}

// backoffDelay computes min(base * 2^attempt, cap)
func (c *Conn) backoffDelay() time.Duration {
	shift := c.attempt
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	delay := c.cfg.ReconnectDelay << uint(shift)
	if delay > c.cfg.ReconnectMaxDelay || delay <= 0 {
		delay = c.cfg.ReconnectMaxDelay
	}
	return delay
}

// dispatch routes one inbound message. Correlation is by id, not epoch: a
// late response from a previous socket still settles its request.
func (c *Conn) dispatch(env *wire.Envelope) {
	switch env.Type {
	case wire.TypeResponse:
		if !c.table.settle(env.ID, result{data: env.Data}) {
			logger.Debug("Dropping response for settled id %s", env.ID)
		}
	case wire.TypeError:
		if !c.table.settle(env.ID, result{err: NewError(KindRemoteError, env.Error)}) {
			logger.Debug("Dropping error for settled id %s", env.ID)
		}
	case wire.TypeEvent:
		c.events.Dispatch(env.Event, env.Payload)
	default:
		logger.Warn("Dropping message with unknown type %q", env.Type)
	}
}

// readPump reads messages from the socket and posts them to the run loop
func (c *Conn) readPump(epoch int, ws *websocket.Conn) {
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.do(func() { c.onSocketClosed(epoch, err) })
			return
		}
		env, perr := wire.Parse(data)
		if perr != nil {
			// Malformed messages are dropped; they do not tear down the
			// connection.
			logger.Warn("Dropping malformed message: %v", perr)
			continue
		}
		c.do(func() { c.dispatch(env) })
	}
}

// writePump writes outbound frames and keepalive pings to the socket.
// Frames handed to it preserve program order on the wire.
func (c *Conn) writePump(epoch int, ws *websocket.Conn, ch chan outFrame) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case frame := <-ch:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame.payload); err != nil {
				c.do(func() { c.onSocketClosed(epoch, err) })
				return
			}
			if frame.onFlushed != nil {
				frame.onFlushed()
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.do(func() { c.onSocketClosed(epoch, err) })
				return
			}
		case <-c.done:
			return
		}
	}
}

// websocketURL derives the socket URL from the backend origin
func websocketURL(baseURL, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
