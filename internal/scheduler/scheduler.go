package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type task struct {
	name     string
	interval time.Duration
	fn       func(context.Context)

	// busy prevents overlapping runs of the same task. Ticks that arrive
	// while a run is still in flight are skipped, not queued.
	busy sync.Mutex
}

// Scheduler drives independently-timed repeating tasks. Different tasks run
// concurrently; the same task never overlaps itself. A cancelled context
// stops new ticks but does not interrupt in-flight runs.
type Scheduler struct {
	tasks []*task
	log   *slog.Logger
}

// New creates an empty Scheduler.
func New(log *slog.Logger) *Scheduler {
	return &Scheduler{log: log}
}

// Add registers a repeating task. Must be called before Run.
func (s *Scheduler) Add(name string, interval time.Duration, fn func(context.Context)) {
	s.tasks = append(s.tasks, &task{name: name, interval: interval, fn: fn})
}

// Run starts all task loops and blocks until ctx is cancelled and every loop
// has stopped ticking.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range s.tasks {
		wg.Add(1)
		go func(t *task) {
			defer wg.Done()
			s.loop(ctx, t)
		}(t)
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, t *task) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			go s.runOnce(ctx, t)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, t *task) {
	if !t.busy.TryLock() {
		s.log.Debug("tick skipped, previous run still in flight", "task", t.name)
		return
	}
	defer t.busy.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panicked, skipping tick", "task", t.name, "panic", r)
		}
	}()

	t.fn(ctx)
}
