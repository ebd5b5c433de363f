// Package dashboard streams live task and sync activity over WebSocket.
//
// Connected clients receive a JSON message whenever a task changes locally
// or a sync cycle finishes, which makes it easy to watch a daemon converge
// without tailing its log file.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/taskweave/taskweave/internal/engine"
	"github.com/taskweave/taskweave/internal/task"
)

// MessageType identifies what a broadcast message carries.
type MessageType string

const (
	// MessageTypeTaskUpdate indicates a task was created, updated, or deleted.
	MessageTypeTaskUpdate MessageType = "task_update"

	// MessageTypeCycleComplete indicates a reconciliation cycle finished.
	MessageTypeCycleComplete MessageType = "cycle_complete"

	// MessageTypeStatus carries a point-in-time daemon status snapshot.
	MessageTypeStatus MessageType = "status"
)

// Message is the envelope every client receives.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// TaskUpdateData describes a local task mutation.
type TaskUpdateData struct {
	LocalID  string `json:"local_id"`
	ServerID string `json:"server_id,omitempty"`
	Action   string `json:"action"` // created, updated, deleted
	Title    string `json:"title,omitempty"`
	Status   string `json:"status,omitempty"`
	Synced   bool   `json:"synced"`
}

// CycleCompleteData describes the outcome of one sync cycle.
type CycleCompleteData struct {
	Uploaded   int    `json:"uploaded"`
	Downloaded int    `json:"downloaded"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// StatusData is the snapshot sent to a client that just connected.
type StatusData struct {
	Clients int `json:"clients"`
}

// Server manages WebSocket connections and fans out broadcast messages.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a dashboard server that will listen on the given port.
func NewServer(port int, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[dashboard] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      fmt.Sprintf(":%d", port),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Start begins listening and serving WebSocket upgrades.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("serve error: %v", err)
		}
	}()

	return nil
}

// Stop closes every client connection and shuts the server down.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.wg.Wait()
	s.logger.Printf("stopped")
	return nil
}

// BroadcastTaskUpdate announces a local task mutation to all clients.
func (s *Server) BroadcastTaskUpdate(action string, t *task.Task) {
	data, err := json.Marshal(TaskUpdateData{
		LocalID:  t.LocalID,
		ServerID: t.ServerID,
		Action:   action,
		Title:    t.Title,
		Status:   string(t.Status),
		Synced:   t.Synced,
	})
	if err != nil {
		return
	}
	s.Broadcast(Message{Type: MessageTypeTaskUpdate, Data: data})
}

// BroadcastCycle announces the outcome of a finished sync cycle.
func (s *Server) BroadcastCycle(rep engine.Report, cycleErr error, elapsed time.Duration) {
	out := CycleCompleteData{
		Uploaded:   rep.Uploaded,
		Downloaded: rep.Downloaded,
		DurationMs: elapsed.Milliseconds(),
	}
	if cycleErr != nil {
		out.Error = cycleErr.Error()
	}
	data, err := json.Marshal(out)
	if err != nil {
		return
	}
	s.Broadcast(Message{Type: MessageTypeCycleComplete, Data: data})
}

// Broadcast queues a message for delivery to all connected clients.
// A full queue drops the message rather than blocking the caller.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Printf("broadcast queue full, dropping %s message", msg.Type)
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.clientsMu.RUnlock()

			// Write outside the lock so a slow client cannot stall adds.
			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("client connected (total: %d)", count)

	status, _ := json.Marshal(StatusData{Clients: count})
	welcome, _ := json.Marshal(Message{
		Type:      MessageTypeStatus,
		Timestamp: time.Now(),
		Data:      status,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = conn.Write(ctx, websocket.MessageText, welcome)
	cancel()

	go s.readLoop(conn)
}

// readLoop drains client frames so pings are answered and closes register.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, ok := s.clients[conn]; !ok {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	count := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("client disconnected (total: %d)", count)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	count := len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": count,
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>taskweave</title>
</head>
<body>
    <h1>taskweave daemon</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Health check: <a href="/health">/health</a></p>
</body>
</html>`, r.Host)
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
