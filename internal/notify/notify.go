// Package notify provides the reminder collaborator consumed by the
// local task store. The store schedules a reminder whenever a task
// gains a scheduled time and cancels it when that time changes or the
// task is deleted; delivery itself is out of scope here.
package notify

import (
	"log"
	"os"
	"sync"
	"time"
)

// Notifier schedules and cancels task reminders.
type Notifier interface {
	// ScheduleReminder arms (or re-arms) a reminder for the task.
	// Scheduling again for the same task replaces the previous reminder.
	ScheduleReminder(taskID string, when time.Time, title string) error

	// CancelReminder disarms any pending reminder for the task.
	// Cancelling a task with no reminder is a no-op.
	CancelReminder(taskID string)
}

// Nop is a Notifier that does nothing. Useful when reminders are
// disabled or in tests that don't care about them.
type Nop struct{}

func (Nop) ScheduleReminder(string, time.Time, string) error { return nil }
func (Nop) CancelReminder(string)                            {}

// Service is an in-process Notifier backed by timers. When a reminder
// fires, the OnFire callback runs on the timer goroutine.
type Service struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	logger *log.Logger

	// OnFire is invoked when a reminder comes due. Nil means log only.
	OnFire func(taskID, title string)
}

// NewService creates a timer-backed reminder service. If logger is nil,
// a default logger writing to stderr is used.
func NewService(logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(os.Stderr, "[notify] ", log.LstdFlags)
	}
	return &Service{
		timers: make(map[string]*time.Timer),
		logger: logger,
	}
}

// ScheduleReminder implements Notifier. A reminder in the past fires
// immediately.
func (s *Service) ScheduleReminder(taskID string, when time.Time, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[taskID]; ok {
		t.Stop()
	}

	delay := time.Until(when)
	if delay < 0 {
		delay = 0
	}

	s.timers[taskID] = time.AfterFunc(delay, func() {
		s.fire(taskID, title)
	})

	s.logger.Printf("Scheduled reminder for %s at %s", taskID, when.Format(time.RFC3339))
	return nil
}

// CancelReminder implements Notifier.
func (s *Service) CancelReminder(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[taskID]; ok {
		t.Stop()
		delete(s.timers, taskID)
		s.logger.Printf("Cancelled reminder for %s", taskID)
	}
}

// Close stops all pending reminders.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *Service) fire(taskID, title string) {
	s.mu.Lock()
	delete(s.timers, taskID)
	onFire := s.OnFire
	s.mu.Unlock()

	s.logger.Printf("Reminder due: %s (%s)", taskID, title)
	if onFire != nil {
		onFire(taskID, title)
	}
}
