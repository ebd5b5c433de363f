package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/taskweave/taskweave/internal/task"
)

// Server exposes a Collection over the sync REST surface:
//
//	GET    /tasks          full listing
//	POST   /tasks          create one task
//	GET    /tasks/{id}     fetch one task
//	PUT    /tasks/{id}     replace one task
//	DELETE /tasks/{id}     delete one task
//	POST   /tasks/sync     batch push, returns {synced_ids, tasks, complete}
type Server struct {
	collection *Collection
	httpServer *http.Server
	listener   net.Listener
	logger     *log.Logger
}

// New creates a backend server around the given collection. If logger
// is nil, a default logger writing to stderr is used.
func New(collection *Collection, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(os.Stderr, "[server] ", log.LstdFlags)
	}
	return &Server{
		collection: collection,
		logger:     logger,
	}
}

// Handler returns the route table. Exposed separately so tests can
// mount it on an httptest server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tasks", s.handleList)
	mux.HandleFunc("POST /tasks", s.handleCreate)
	mux.HandleFunc("GET /tasks/{id}", s.handleGet)
	mux.HandleFunc("PUT /tasks/{id}", s.handleUpdate)
	mux.HandleFunc("DELETE /tasks/{id}", s.handleDelete)
	mux.HandleFunc("POST /tasks/sync", s.handleSync)
	return mux
}

// Start begins listening on the given port. Port 0 picks a free port;
// use Addr to discover it.
func (s *Server) Start(port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	s.logger.Printf("Listening on %s", listener.Addr())
	return nil
}

// Addr returns the bound address, or empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.collection.List())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	t, err := s.collection.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	t, err := s.readTask(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	created, err := s.collection.Create(t)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	t, err := s.readTask(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	updated, err := s.collection.Update(r.PathValue("id"), t)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.collection.Delete(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type syncResponse struct {
	SyncedIDs []string     `json:"synced_ids"`
	Tasks     []*task.Task `json:"tasks"`
	Complete  bool         `json:"complete"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, fmt.Errorf("read request: %w", err))
		return
	}

	var envelope struct {
		Tasks []json.RawMessage `json:"tasks"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		s.writeError(w, fmt.Errorf("decode request: %w", err))
		return
	}

	incoming := make([]*task.Task, 0, len(envelope.Tasks))
	for i, raw := range envelope.Tasks {
		t, err := task.Decode(raw)
		if err != nil {
			s.writeError(w, fmt.Errorf("decode task %d: %w", i, err))
			return
		}
		incoming = append(incoming, t)
	}

	syncedIDs, snapshot := s.collection.SyncBatch(incoming)
	s.logger.Printf("Sync batch: %d in, %d acknowledged, %d total", len(incoming), len(syncedIDs), len(snapshot))

	s.writeJSON(w, http.StatusOK, syncResponse{
		SyncedIDs: syncedIDs,
		Tasks:     snapshot,
		Complete:  true,
	})
}

func (s *Server) readTask(r *http.Request) (*task.Task, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	return task.Decode(body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("Failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, task.ErrNotFound) {
		status = http.StatusNotFound
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
