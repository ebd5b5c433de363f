package scheduler

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/taskweave/taskweave/internal/engine"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "[test] ", 0)
}

func TestStartRunsImmediateCycle(t *testing.T) {
	ran := make(chan struct{}, 1)
	s := New(func(ctx context.Context) (engine.Report, error) {
		ran <- struct{}{}
		return engine.Report{}, nil
	}, time.Hour, testLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("no cycle ran on start")
	}
}

func TestPeriodicTicks(t *testing.T) {
	var count atomic.Int32
	// The @every schedule is second-granular, so this is the fastest cadence.
	s := New(func(ctx context.Context) (engine.Report, error) {
		count.Add(1)
		return engine.Report{}, nil
	}, time.Second, testLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for count.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected at least 3 cycles, got %d", count.Load())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSyncNowDroppedWhileRunning(t *testing.T) {
	started := make(chan struct{})
	var startedOnce sync.Once
	release := make(chan struct{})
	s := New(func(ctx context.Context) (engine.Report, error) {
		startedOnce.Do(func() { close(started) })
		<-release
		return engine.Report{Uploaded: 1}, nil
	}, time.Hour, testLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	<-started
	if got := s.State(); got != StateRunning {
		t.Errorf("state = %v, want running", got)
	}

	if _, err := s.SyncNow(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("overlapping SyncNow = %v, want ErrBusy", err)
	}

	close(release)

	// Once the in-flight cycle finishes, manual sync works again.
	deadline := time.Now().Add(2 * time.Second)
	for {
		rep, err := s.SyncNow(context.Background())
		if err == nil {
			if rep.Uploaded != 1 {
				t.Errorf("report = %+v, want uploaded 1", rep)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("SyncNow never succeeded: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.State(); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
}

func TestErrorsNeverStopTimer(t *testing.T) {
	var count atomic.Int32
	var reported atomic.Int32
	s := New(func(ctx context.Context) (engine.Report, error) {
		count.Add(1)
		return engine.Report{}, errors.New("remote unavailable")
	}, time.Second, testLogger())
	s.OnCycle = func(rep engine.Report, err error) {
		if err != nil {
			reported.Add(1)
		}
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for count.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("timer stalled after errors, got %d cycles", count.Load())
		}
		time.Sleep(20 * time.Millisecond)
	}
	if reported.Load() < 3 {
		t.Errorf("OnCycle saw %d errors, want at least 3", reported.Load())
	}
}

func TestStopHaltsTicks(t *testing.T) {
	var count atomic.Int32
	s := New(func(ctx context.Context) (engine.Report, error) {
		count.Add(1)
		return engine.Report{}, nil
	}, time.Second, testLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for count.Load() == 0 {
		time.Sleep(20 * time.Millisecond)
	}
	s.Stop()

	at := count.Load()
	time.Sleep(1500 * time.Millisecond)
	if got := count.Load(); got > at+1 {
		t.Errorf("cycles kept firing after Stop: %d -> %d", at, got)
	}
}

func TestDoubleStartRejected(t *testing.T) {
	s := New(func(ctx context.Context) (engine.Report, error) {
		return engine.Report{}, nil
	}, time.Hour, testLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
}
