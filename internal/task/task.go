// Package task provides the task data model shared by the local store,
// the remote adapter, and the reconciliation engine.
//
// A task lives in two places at once: the on-device SQLite table (keyed by
// LocalID) and the server-side collection (keyed by ServerID). The fields
// here are flat with last-write-wins semantics; UpdatedAt is the sole
// signal used to order conflicting writes.
package task

import (
	"fmt"
	"strings"
	"time"
)

// Field length limits enforced on every write path.
const (
	MaxTitleLen       = 100
	MaxDescriptionLen = 500
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// ValidStatus reports whether s is one of the known status values.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Task is the strict internal representation of a task.
//
// LocalID is generated on-device and is stable for the life of the local
// record. ServerID is assigned by the remote store on first successful
// push; once set it never changes. A task with a non-empty ServerID is
// "linked". Synced is true iff the local record's last-known state has
// been acknowledged by the remote store.
type Task struct {
	LocalID     string     `json:"local_id"`
	ServerID    string     `json:"id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Synced      bool       `json:"synced,omitempty"`
}

// Linked reports whether this task has been assigned a server identity.
func (t *Task) Linked() bool {
	return t.ServerID != ""
}

// Validate checks the task's field values. It returns a *ValidationError
// describing the first violation found.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if len(t.Title) > MaxTitleLen {
		return &ValidationError{Field: "title", Reason: fmt.Sprintf("must be %d characters or less (got %d)", MaxTitleLen, len(t.Title))}
	}
	if len(t.Description) > MaxDescriptionLen {
		return &ValidationError{Field: "description", Reason: fmt.Sprintf("must be %d characters or less (got %d)", MaxDescriptionLen, len(t.Description))}
	}
	if !ValidStatus(t.Status) {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", t.Status)}
	}
	if t.CreatedAt.IsZero() {
		return &ValidationError{Field: "created_at", Reason: "must not be empty"}
	}
	if t.UpdatedAt.IsZero() {
		return &ValidationError{Field: "updated_at", Reason: "must not be empty"}
	}
	return nil
}

// SetDefaults fills in omitted optional fields. Empty timestamps are
// replaced with now rather than propagated as zero values, which would
// otherwise violate the NOT NULL constraints in the local store.
func (t *Task) SetDefaults(now time.Time) {
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
}

// Touch refreshes UpdatedAt. Called on every local mutation.
func (t *Task) Touch(now time.Time) {
	t.UpdatedAt = now
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	if t.ScheduledAt != nil {
		at := *t.ScheduledAt
		c.ScheduledAt = &at
	}
	return &c
}
