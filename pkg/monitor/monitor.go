// Package monitor streams queue status and lifecycle events to websocket
// clients and serves the latest snapshot over plain HTTP.
package monitor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"

	"klipper-go-movequeue/pkg/heater"
	"klipper-go-movequeue/pkg/log"
	"klipper-go-movequeue/pkg/movequeue"
	"klipper-go-movequeue/pkg/safety"
)

// Snapshot is the status document sent to clients.
type Snapshot struct {
	Time     float64          `json:"time"`
	Queue    movequeue.Status `json:"queue"`
	Heaters  []heater.Status  `json:"heaters,omitempty"`
	Safety   safety.Status    `json:"safety"`
	Position map[string]int64 `json:"position,omitempty"`
}

// Source produces a fresh snapshot on demand.
type Source func() Snapshot

// EventMessage is the wire form of a queue lifecycle event.
type EventMessage struct {
	Type      string `json:"type"`
	Seq       uint64 `json:"seq,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Index     uint32 `json:"index"`
	Occupancy int    `json:"occupancy"`
	Tick      uint64 `json:"tick"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      any    `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      any       `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// Server broadcasts snapshots every Interval and forwards queue events as
// they happen.
type Server struct {
	cfg      Config
	source   Source
	upgrader websocket.Upgrader
	server   *http.Server
	log      *log.Logger
	start    time.Time

	events chan EventMessage
	done   chan struct{}
	once   sync.Once

	clientsMu sync.RWMutex
	clients   map[int64]*client
	nextID    atomic.Int64

	listener net.Listener
	estop    func(msg string) error
}

// New creates a server. source must not block.
func New(cfg Config, source Source) *Server {
	s := &Server{
		cfg:     cfg,
		source:  source,
		log:     log.GetLogger("monitor"),
		start:   time.Now(),
		events:  make(chan EventMessage, 256),
		done:    make(chan struct{}),
		clients: make(map[int64]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/websocket", s.handleWebSocket)
	mux.HandleFunc("/status", s.handleStatus)
	s.server = &http.Server{Handler: mux}
	go s.broadcastLoop()
	return s
}

// SetEmergencyStop enables the queue.emergency_stop method. Call before Start.
func (s *Server) SetEmergencyStop(fn func(msg string) error) { s.estop = fn }

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start binds the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	s.log.Info("serving status on %s", ln.Addr())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("monitor server stopped")
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown closes every client and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.once.Do(func() { close(s.done) })
	s.clientsMu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.clients = make(map[int64]*client)
	s.clientsMu.Unlock()
	return s.server.Shutdown(ctx)
}

// Observe implements movequeue.Observer. Events are dropped when the
// broadcast backlog is full.
func (s *Server) Observe(ev movequeue.Event) {
	msg := EventMessage{
		Type:      ev.Type.String(),
		Seq:       ev.Seq,
		Index:     ev.Index,
		Occupancy: ev.Occupancy,
		Tick:      ev.Tick,
	}
	if ev.Seq != 0 {
		msg.Kind = ev.Kind.String()
	}
	select {
	case s.events <- msg:
	default:
	}
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) snapshot() Snapshot {
	snap := s.source()
	snap.Time = time.Since(s.start).Seconds()
	return snap
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, err := sonnet.Marshal(s.snapshot())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := newClient(s.nextID.Add(1), conn, s)
	s.clientsMu.Lock()
	s.clients[c.id] = c
	s.clientsMu.Unlock()
	s.log.WithField("client", c.id).Debug("client connected")

	go c.writePump()
	c.send(notification{JSONRPC: "2.0", Method: "notify_status_update", Params: s.snapshot()})
	c.readPump()
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c.id)
	s.clientsMu.Unlock()
	s.log.WithField("client", c.id).Debug("client disconnected")
}

func (s *Server) broadcast(msg any) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, c := range s.clients {
		c.send(msg)
	}
}

func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			s.broadcast(notification{JSONRPC: "2.0", Method: "notify_queue_event", Params: ev})
		case <-ticker.C:
			if s.ClientCount() > 0 {
				s.broadcast(notification{JSONRPC: "2.0", Method: "notify_status_update", Params: s.snapshot()})
			}
		}
	}
}

func (s *Server) dispatch(req rpcRequest) (any, *rpcError) {
	switch req.Method {
	case "queue.status":
		return s.snapshot(), nil
	case "queue.emergency_stop":
		if s.estop == nil {
			return nil, &rpcError{Code: -32601, Message: "Method not found"}
		}
		s.log.Warn("emergency stop requested by client")
		if err := s.estop("emergency stop requested by client"); err != nil {
			return nil, &rpcError{Code: -32000, Message: err.Error()}
		}
		return "ok", nil
	case "server.info":
		return map[string]any{
			"clients": s.ClientCount(),
			"uptime":  time.Since(s.start).Seconds(),
		}, nil
	default:
		return nil, &rpcError{Code: -32601, Message: "Method not found"}
	}
}
