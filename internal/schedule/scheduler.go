package schedule

import (
	"log/slog"
	"sync"

	"github.com/gyaneshwarpardhi/affix/internal/metrics"
)

// TaskID identifies a scheduled action for cancellation.
type TaskID uint64

type task struct {
	id        TaskID
	remaining int64
	fn        func()
}

// Scheduler runs actions after a number of ticks.
//
// Tick decrements every pending task and fires those reaching zero. Due
// tasks are collected under the lock and run after it is released, so an
// action may schedule or cancel other tasks (including itself) while the
// scheduler is iterating.
type Scheduler struct {
	mu      sync.Mutex
	next    TaskID
	pending map[TaskID]*task
	order   []TaskID
	logger  *slog.Logger
}

// New creates an empty Scheduler. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{pending: make(map[TaskID]*task), logger: logger}
}

// Schedule runs fn once delay ticks have elapsed. A delay below one fires on
// the next Tick.
func (s *Scheduler) Schedule(delay int64, fn func()) TaskID {
	if delay < 1 {
		delay = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := s.next
	s.pending[id] = &task{id: id, remaining: delay, fn: fn}
	s.order = append(s.order, id)
	metrics.ScheduledTasks.Set(float64(len(s.pending)))
	return id
}

// Cancel removes a pending task. It reports whether the task was pending.
func (s *Scheduler) Cancel(id TaskID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; !ok {
		return false
	}
	delete(s.pending, id)
	metrics.ScheduledTasks.Set(float64(len(s.pending)))
	return true
}

// Pending returns the number of tasks waiting to fire.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Tick advances every pending task by one tick and runs those that are due,
// in scheduling order. A panicking action is logged and does not stop the
// others.
func (s *Scheduler) Tick() int {
	s.mu.Lock()
	var due []*task
	kept := s.order[:0]
	for _, id := range s.order {
		t, ok := s.pending[id]
		if !ok {
			continue // cancelled
		}
		t.remaining--
		if t.remaining <= 0 {
			due = append(due, t)
			delete(s.pending, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	metrics.ScheduledTasks.Set(float64(len(s.pending)))
	s.mu.Unlock()

	for _, t := range due {
		s.run(t)
	}
	return len(due)
}

func (s *Scheduler) run(t *task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("scheduled action panicked", "task", t.id, "panic", r)
		}
	}()
	t.fn()
}
