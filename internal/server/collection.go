// Package server provides the reference backend for the task sync
// protocol: a REST surface over a mutex-guarded in-memory collection.
//
// The backend owns server identity. Records are keyed by a
// server-generated UUID; the local_id a client sends is echoed back so
// the client can correlate acknowledgements, but it is never used as a
// key on this side.
package server

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskweave/taskweave/internal/task"
)

// Collection holds the server-side task set in memory, protected by a
// mutex. State lives for the duration of the process; persistence is
// the local store's concern, this side exists to be synced against.
type Collection struct {
	mu    sync.RWMutex
	tasks map[string]*task.Task // server id -> record
	now   func() time.Time
}

// NewCollection creates an empty collection.
func NewCollection() *Collection {
	return &Collection{
		tasks: make(map[string]*task.Task),
		now:   time.Now,
	}
}

// List returns every task ordered by created_at. Records are copies;
// callers can mutate them freely.
func (c *Collection) List() []*task.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*task.Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ServerID < out[j].ServerID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Get returns a copy of the task with the given server id.
func (c *Collection) Get(serverID string) (*task.Task, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.tasks[serverID]
	if !ok {
		return nil, task.ErrNotFound
	}
	return t.Clone(), nil
}

// Create validates and inserts a new task, assigning a server id.
// Empty timestamps are coerced to now.
func (c *Collection) Create(t *task.Task) (*task.Task, error) {
	rec := t.Clone()
	rec.ServerID = uuid.NewString()
	rec.LocalID = ""
	rec.Synced = false
	rec.SetDefaults(c.now())

	if err := rec.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.tasks[rec.ServerID] = rec
	c.mu.Unlock()
	return rec.Clone(), nil
}

// Update replaces the mutable fields of an existing task and refreshes
// updated_at.
func (c *Collection) Update(serverID string, t *task.Task) (*task.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.tasks[serverID]
	if !ok {
		return nil, task.ErrNotFound
	}

	rec := existing.Clone()
	rec.Title = t.Title
	rec.Description = t.Description
	rec.Status = t.Status
	if t.ScheduledAt != nil {
		at := *t.ScheduledAt
		rec.ScheduledAt = &at
	} else {
		rec.ScheduledAt = nil
	}
	rec.Touch(c.now())

	if err := rec.Validate(); err != nil {
		return nil, err
	}

	c.tasks[serverID] = rec
	return rec.Clone(), nil
}

// Delete removes a task. Returns task.ErrNotFound for unknown ids.
func (c *Collection) Delete(serverID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tasks[serverID]; !ok {
		return task.ErrNotFound
	}
	delete(c.tasks, serverID)
	return nil
}

// SyncBatch applies a client's unsynced tasks. For each incoming task:
// if it carries no server id (or an unknown one), a new record is
// created; otherwise updated_at decides: the newer side wins, and the
// server writes back only when the incoming task is newer. Every task
// the client sent is acknowledged by local id.
//
// The returned snapshot is the complete listing, so the client can skip
// a follow-up pull.
func (c *Collection) SyncBatch(incoming []*task.Task) (syncedIDs []string, snapshot []*task.Task) {
	c.mu.Lock()
	for _, in := range incoming {
		rec := in.Clone()
		rec.LocalID = ""
		rec.SetDefaults(c.now())
		if rec.Validate() != nil {
			// Malformed entries are skipped, not acknowledged; the
			// client keeps them unsynced and surfaces the problem on
			// its side.
			continue
		}

		existing, ok := c.tasks[rec.ServerID]
		if rec.ServerID == "" || !ok {
			rec.ServerID = uuid.NewString()
			rec.Synced = false
			c.tasks[rec.ServerID] = rec
		} else if rec.UpdatedAt.After(existing.UpdatedAt) {
			applied := existing.Clone()
			applied.Title = rec.Title
			applied.Description = rec.Description
			applied.Status = rec.Status
			applied.ScheduledAt = rec.ScheduledAt
			applied.UpdatedAt = rec.UpdatedAt
			c.tasks[existing.ServerID] = applied
		}
		// Older or equal incoming state: the server copy stands, and
		// the snapshot below carries it back to the client.

		if in.LocalID != "" {
			syncedIDs = append(syncedIDs, in.LocalID)
		}
	}
	c.mu.Unlock()

	return syncedIDs, c.List()
}
