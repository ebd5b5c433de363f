// Package scheduler drives the reconciliation engine on a fixed cadence.
//
// The scheduler is an explicit two-state machine: Idle when no cycle is in
// flight, Running while one is. Ticks and manual triggers that arrive while
// a cycle is Running are dropped, never queued, so slow cycles can never
// pile up behind each other.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/taskweave/taskweave/internal/engine"
)

// DefaultInterval is the cadence used when the config does not set one.
const DefaultInterval = 30 * time.Second

// ErrBusy is returned by SyncNow when a cycle is already in flight.
var ErrBusy = errors.New("sync cycle already in flight")

// State reports whether a cycle is currently in flight.
type State int32

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// CycleFunc runs one full reconciliation cycle.
type CycleFunc func(ctx context.Context) (engine.Report, error)

// Scheduler runs a CycleFunc immediately on Start and then on every tick.
type Scheduler struct {
	interval time.Duration
	cycle    CycleFunc
	logger   *log.Logger

	// OnCycle, when set, observes the outcome of every completed cycle,
	// including failed ones. Errors never stop the timer.
	OnCycle func(engine.Report, error)

	mu     sync.Mutex
	cron   *rcron.Cron
	cancel context.CancelFunc

	runMu sync.Mutex // held for the duration of a cycle
	state atomic.Int32
}

func New(cycle CycleFunc, interval time.Duration, logger *log.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[scheduler] ", log.LstdFlags)
	}
	return &Scheduler{
		interval: interval,
		cycle:    cycle,
		logger:   logger,
	}
}

// State returns the current machine state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Start registers the periodic job and fires one cycle right away, so a
// freshly launched daemon converges without waiting out the first interval.
func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.cron != nil {
		s.mu.Unlock()
		cancel()
		return errors.New("scheduler already started")
	}
	c := rcron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.tick(runCtx)
	}); err != nil {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("failed to register sync job: %w", err)
	}
	s.cron = c
	s.cancel = cancel
	s.mu.Unlock()

	c.Start()
	s.logger.Printf("started, syncing every %s", s.interval)

	go s.tick(runCtx)

	go func() {
		<-runCtx.Done()
		s.Stop()
	}()

	return nil
}

// SyncNow triggers a cycle outside the timer and waits for its result.
// It shares the in-flight guard with the timer, so a manual trigger during
// a running cycle returns ErrBusy instead of overlapping it.
func (s *Scheduler) SyncNow(ctx context.Context) (engine.Report, error) {
	if !s.runMu.TryLock() {
		return engine.Report{}, ErrBusy
	}
	defer s.runMu.Unlock()
	return s.runLocked(ctx)
}

// tick is the timer entry point. A tick that lands mid-cycle is dropped.
func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !s.runMu.TryLock() {
		s.logger.Printf("cycle still running, skipping tick")
		return
	}
	defer s.runMu.Unlock()
	s.runLocked(ctx)
}

func (s *Scheduler) runLocked(ctx context.Context) (engine.Report, error) {
	s.state.Store(int32(StateRunning))
	defer s.state.Store(int32(StateIdle))

	rep, err := s.cycle(ctx)
	if err != nil {
		s.logger.Printf("sync cycle failed: %v", err)
	} else if rep.Uploaded > 0 || rep.Downloaded > 0 {
		s.logger.Printf("sync cycle done: uploaded=%d downloaded=%d", rep.Uploaded, rep.Downloaded)
	}
	if s.OnCycle != nil {
		s.OnCycle(rep, err)
	}
	return rep, err
}

// Stop halts the timer and waits briefly for an in-flight cycle to finish.
// Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	cancel := s.cancel
	s.cron = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c == nil {
		return
	}

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		s.logger.Printf("stop timed out waiting for running cycle")
	}
	s.logger.Printf("stopped")
}
