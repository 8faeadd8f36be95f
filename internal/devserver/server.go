// Package devserver is a stand-in backend exposing the same surface as
// the real one: a token validation endpoint, a bootstrap init endpoint,
// and the WebSocket invoke/event channel. It backs `deskbridge -serve`
// and the transport integration tests.
package devserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/codefionn/deskbridge/internal/logger"
	"github.com/codefionn/deskbridge/internal/wire"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	authTokenLength = 32
)

// HandlerFunc handles one dispatched command
type HandlerFunc func(args map[string]interface{}) (interface{}, error)

// Server serves the backend surface over HTTP and WebSocket
type Server struct {
	token      string
	router     *httprouter.Router
	httpServer *http.Server
	listener   net.Listener
	upgrader   websocket.Upgrader

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	clients  map[*client]bool
	initData func() map[string]interface{}
}

// client is one connected WebSocket peer
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// GenerateToken generates a random auth token
func GenerateToken() (string, error) {
	bytes := make([]byte, authTokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// New creates a server requiring token on every endpoint
func New(token string) *Server {
	s := &Server{
		token:    token,
		router:   httprouter.New(),
		handlers: make(map[string]HandlerFunc),
		clients:  make(map[*client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // local development
			},
		},
	}
	s.router.GET("/api/auth", s.handleAuth)
	s.router.GET("/api/init", s.handleInit)
	s.router.GET("/ws", s.handleWebSocket)
	return s
}

// Handle registers fn for command
func (s *Server) Handle(command string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[command] = fn
}

// SetInitData sets the provider for the bootstrap snapshot
func (s *Server) SetInitData(fn func() map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initData = fn
}

// Start binds addr (":0" picks a free port) and serves in the background
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{Handler: s.router}

	go func() {
		logger.Info("Dev server listening on %s", listener.Addr())
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error("Dev server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// URL returns the server origin
func (s *Server) URL() string {
	return "http://" + s.Addr()
}

// Stop shuts the server down and drops all clients
func (s *Server) Stop() error {
	s.mu.Lock()
	for c := range s.clients {
		c.conn.Close()
		delete(s.clients, c)
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// Broadcast pushes an unsolicited event to every connected client
func (s *Server) Broadcast(event string, payload interface{}) error {
	env, err := wire.NewEvent(event, payload)
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			logger.Warn("Client send buffer full, dropping event %q", event)
		}
	}
	return nil
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) checkToken(r *http.Request) bool {
	return r.URL.Query().Get("token") == s.token
}

// handleAuth is the token pre-flight endpoint
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	if !s.checkToken(r) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "error": "Invalid token"})
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
}

// handleInit serves the bootstrap snapshot
func (s *Server) handleInit(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if !s.checkToken(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	s.mu.RLock()
	provider := s.initData
	s.mu.RUnlock()

	data := map[string]interface{}{}
	if provider != nil {
		data = provider()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode init snapshot: %v", err)
	}
}

// handleWebSocket upgrades the connection and runs the pumps
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if !s.checkToken(r) {
		logger.Warn("WebSocket connection rejected: invalid auth token")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade WebSocket: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 256)}
	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()

	go s.writePump(c)
	go s.readPump(c)
}

func (s *Server) readPump(c *client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	c.conn.SetPingHandler(func(appData string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("WebSocket read error: %v", err)
			}
			return
		}

		env, err := wire.Parse(data)
		if err != nil {
			logger.Warn("Failed to parse client message: %v", err)
			continue
		}
		if env.Type != wire.TypeInvoke {
			continue
		}

		// Dispatch concurrently: command latency must not serialize
		// responses, and clients correlate by id anyway.
		go s.dispatch(c, env)
	}
}

func (s *Server) dispatch(c *client, env *wire.Envelope) {
	s.mu.RLock()
	fn, ok := s.handlers[env.Command]
	s.mu.RUnlock()

	var reply *wire.Envelope
	if !ok {
		reply = wire.NewError(env.ID, fmt.Sprintf("unknown command: %s", env.Command))
	} else if res, err := fn(env.Args); err != nil {
		reply = wire.NewError(env.ID, err.Error())
	} else {
		var encErr error
		reply, encErr = wire.NewResponse(env.ID, res)
		if encErr != nil {
			reply = wire.NewError(env.ID, encErr.Error())
		}
	}

	data, err := reply.Encode()
	if err != nil {
		logger.Error("Failed to encode reply: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
		logger.Warn("Client send buffer full, dropping reply for %s", env.ID)
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
