// Package engine implements bidirectional reconciliation between the
// on-device task store and the server-side collection.
//
// A cycle is push-then-pull: unsynced local tasks are pushed in one
// batch, the returned snapshots are linked back to their local records
// immediately, the remote listing is pulled (reusing the push response
// when it is a complete listing), orphaned links are healed, and the
// remote set is merged into the local store under last-write-wins.
//
// The cycle mutates the local store incrementally rather than inside a
// transaction. A failure mid-cycle leaves the store partially updated;
// that state is recoverable because the next cycle re-derives all of
// its work from the synced/server_id flags, not from cycle-local
// scratch state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/taskweave/taskweave/internal/remote"
	"github.com/taskweave/taskweave/internal/store"
	"github.com/taskweave/taskweave/internal/task"
)

// RemoteStore is the server-side collection as the engine consumes it.
// Implemented by *remote.Client; faked in tests.
type RemoteStore interface {
	// ListAll fetches the full remote task listing.
	ListAll(ctx context.Context) ([]*task.Task, error)

	// SyncBatch pushes unsynced local tasks and returns the
	// acknowledged local ids plus authoritative snapshots.
	SyncBatch(ctx context.Context, tasks []*task.Task) (*remote.SyncResult, error)

	// Delete removes a remote task. Used for best-effort cleanup when
	// a linked task is deleted locally.
	Delete(ctx context.Context, serverID string) error
}

// Report summarizes one cycle: Uploaded counts local records the push
// acknowledged, Downloaded counts remote tasks that changed local state
// (linked, created, or overwritten). A cycle over converged stores
// reports {0, 0}.
type Report struct {
	Uploaded   int
	Downloaded int
}

// Engine orchestrates sync cycles over one local store and one remote.
type Engine struct {
	local  *store.Store
	remote RemoteStore
	logger *log.Logger

	// OnApply, when set, is invoked for every remote-driven change a
	// cycle applies to the local store. Action is one of "linked",
	// "created", "overwritten", or "unlinked", and t is the task after
	// the change. Called synchronously from RunCycle; set it before
	// the first cycle and keep it fast.
	OnApply func(action string, t *task.Task)

	// mu serializes cycles: a concurrent RunCycle queues behind the
	// in-flight one rather than interleaving with it.
	mu sync.Mutex
}

// New creates an engine. If logger is nil, a default logger writing to
// stderr is used.
func New(local *store.Store, remote RemoteStore, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Engine{
		local:  local,
		remote: remote,
		logger: logger,
	}
}

// RunCycle performs one full reconciliation pass. Safe to invoke
// concurrently; overlapping calls run back to back, never interleaved.
//
// A push failure aborts the cycle before the pull, so the error
// propagates to the caller and the next scheduled cycle retries from
// the flags left in the store.
func (e *Engine) RunCycle(ctx context.Context) (Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var rep Report

	if err := e.local.Init(ctx); err != nil {
		return rep, err
	}

	unsynced, err := e.local.ListUnsynced(ctx)
	if err != nil {
		return rep, err
	}

	var remoteTasks []*task.Task
	if len(unsynced) > 0 {
		res, err := e.remote.SyncBatch(ctx, unsynced)
		if err != nil {
			return rep, fmt.Errorf("push failed: %w", err)
		}

		if err := e.local.MarkSynced(ctx, res.SyncedIDs); err != nil {
			return rep, err
		}
		rep.Uploaded = len(res.SyncedIDs)

		linked, err := e.linkPushed(ctx, unsynced, res.Tasks)
		if err != nil {
			return rep, err
		}
		rep.Downloaded += linked

		// Reuse the push response as the pull set when it is a
		// complete listing. Beyond saving a round trip, this avoids a
		// race where a stale re-fetch misses a task this same cycle
		// just created and step 7 duplicates it.
		if res.Complete {
			remoteTasks = res.Tasks
		}
	}

	if remoteTasks == nil {
		remoteTasks, err = e.remote.ListAll(ctx)
		if err != nil {
			return rep, fmt.Errorf("pull failed: %w", err)
		}
	}

	if err := e.healOrphans(ctx, remoteTasks); err != nil {
		return rep, err
	}

	downloaded, err := e.mergeRemoteIntoLocal(ctx, remoteTasks)
	if err != nil {
		return rep, err
	}
	rep.Downloaded += downloaded

	e.logger.Printf("Cycle complete: uploaded=%d downloaded=%d", rep.Uploaded, rep.Downloaded)
	return rep, nil
}

// linkPushed writes server identities back to the local records that
// produced the push snapshots. This must happen before the merge pass:
// an unlinked snapshot reaching the merge would be taken for a new
// remote task and duplicated locally.
//
// Snapshots are matched first by an existing server id link, then by
// the identity heuristic restricted to the tasks just pushed. Returns
// the number of records newly linked.
func (e *Engine) linkPushed(ctx context.Context, pushed []*task.Task, snapshots []*task.Task) (int, error) {
	candidates := make([]*task.Task, 0, len(pushed))
	for _, p := range pushed {
		if !p.Linked() {
			candidates = append(candidates, p)
		}
	}

	linked := 0
	for _, snap := range snapshots {
		if snap.ServerID == "" {
			continue
		}

		_, err := e.local.GetByServerID(ctx, snap.ServerID)
		if err == nil {
			continue // already linked
		}
		if !errors.Is(err, task.ErrNotFound) {
			return linked, err
		}

		m, n := task.FindMatch(snap, candidates)
		if m == nil {
			continue
		}
		if n > 1 {
			e.logger.Printf("Warning: %d pushed tasks match snapshot %s %q, linking earliest-created",
				n, snap.ServerID, snap.Title)
		}
		if err := e.local.Link(ctx, m.LocalID, snap.ServerID); err != nil {
			return linked, err
		}
		linked++
		e.notifyApply("linked", linkedView(m, snap.ServerID))
		candidates = removeTask(candidates, m)
	}

	return linked, nil
}

// healOrphans clears the link on any local task whose server id does
// not appear in the current remote listing. Absence from the listing is
// not authoritative for deletion, so the record is not removed; it is
// unlinked and re-pushed on the next cycle. A false positive costs one
// redundant remote write, a false negative would leave the task stuck
// forever.
func (e *Engine) healOrphans(ctx context.Context, remoteTasks []*task.Task) error {
	remoteIDs := make(map[string]bool, len(remoteTasks))
	for _, r := range remoteTasks {
		if r.ServerID != "" {
			remoteIDs[r.ServerID] = true
		}
	}

	locals, err := e.local.ListAll(ctx, store.Filter{})
	if err != nil {
		return err
	}

	for _, l := range locals {
		if !l.Linked() || remoteIDs[l.ServerID] {
			continue
		}
		e.logger.Printf("Orphaned link: %s -> %s missing remotely, clearing for re-push", l.LocalID, l.ServerID)
		if err := e.local.Unlink(ctx, l.LocalID); err != nil {
			return err
		}
		e.notifyApply("unlinked", linkedView(l, ""))
	}

	return nil
}

// mergeRemoteIntoLocal applies the remote snapshot set to the local
// store: link where the identity heuristic finds an unlinked local
// counterpart, create where the task is genuinely new, and resolve
// conflicts on linked pairs by updated_at with ties favoring local.
// Returns the number of remote tasks that changed local state.
func (e *Engine) mergeRemoteIntoLocal(ctx context.Context, remoteTasks []*task.Task) (int, error) {
	locals, err := e.local.ListAll(ctx, store.Filter{})
	if err != nil {
		return 0, err
	}
	var unlinked []*task.Task
	for _, l := range locals {
		if !l.Linked() {
			unlinked = append(unlinked, l)
		}
	}

	downloaded := 0
	for _, r := range remoteTasks {
		if r.ServerID == "" {
			continue
		}

		local, err := e.local.GetByServerID(ctx, r.ServerID)
		if errors.Is(err, task.ErrNotFound) {
			if m, n := task.FindMatch(r, unlinked); m != nil {
				if n > 1 {
					e.logger.Printf("Warning: %d unlinked local tasks match remote %s %q, linking earliest-created",
						n, r.ServerID, r.Title)
				}
				if err := e.local.Link(ctx, m.LocalID, r.ServerID); err != nil {
					return downloaded, err
				}
				unlinked = removeTask(unlinked, m)
				downloaded++
				e.notifyApply("linked", linkedView(m, r.ServerID))
				continue
			}

			// Genuinely new remote-originated task: created locally
			// with the remote's own timestamps.
			created, err := e.local.CreateFromRemote(ctx, r)
			if err != nil {
				if task.IsValidation(err) {
					e.logger.Printf("Warning: skipping invalid remote task %s: %v", r.ServerID, err)
					continue
				}
				return downloaded, err
			}
			downloaded++
			e.notifyApply("created", created)
			continue
		}
		if err != nil {
			return downloaded, err
		}

		// Linked pair: last write wins, ties never overwrite.
		if r.UpdatedAt.After(local.UpdatedAt) {
			updated, err := e.local.OverwriteFromRemote(ctx, local.LocalID, r)
			if err != nil {
				return downloaded, err
			}
			downloaded++
			e.notifyApply("overwritten", updated)
		}
	}

	return downloaded, nil
}

// DeleteTask deletes a task locally and, when it is linked, attempts a
// best-effort remote deletion. A failed remote delete is logged, not
// returned: the local deletion stands either way.
func (e *Engine) DeleteTask(ctx context.Context, localID string) (bool, error) {
	t, err := e.local.GetByID(ctx, localID)
	if errors.Is(err, task.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	deleted, err := e.local.Delete(ctx, localID)
	if err != nil || !deleted {
		return deleted, err
	}

	if t.Linked() {
		if err := e.remote.Delete(ctx, t.ServerID); err != nil {
			e.logger.Printf("Warning: best-effort remote delete of %s failed: %v", t.ServerID, err)
		}
	}
	return true, nil
}

func (e *Engine) notifyApply(action string, t *task.Task) {
	if e.OnApply != nil {
		e.OnApply(action, t)
	}
}

// linkedView returns a copy of t reflecting a link change that was
// written to the store but not to the in-memory record.
func linkedView(t *task.Task, serverID string) *task.Task {
	out := t.Clone()
	out.ServerID = serverID
	out.Synced = serverID != ""
	return out
}

func removeTask(tasks []*task.Task, target *task.Task) []*task.Task {
	out := tasks[:0]
	for _, t := range tasks {
		if t != target {
			out = append(out, t)
		}
	}
	return out
}
