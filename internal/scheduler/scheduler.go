// Package scheduler runs named recurring maintenance jobs with startup
// jitter, overlap suppression, distributed locking, and per-run timeouts.
package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/engramdb/engram/internal/lock"
	"github.com/engramdb/engram/internal/model"
)

// lockMargin extends the distributed-lock TTL past the task timeout so the
// lock outlives a run that takes the whole timeout.
const lockMargin = 5 * time.Second

// jitterFraction bounds the randomized initial delay applied at
// registration to avoid synchronized startup bursts across instances.
const jitterFraction = 0.1

// drainPoll is the Stop polling cadence while waiting for running tasks.
const drainPoll = 50 * time.Millisecond

// TaskFunc is a maintenance callback. It must observe ctx cooperatively;
// cancellation cannot abort backend I/O already in flight.
type TaskFunc func(ctx context.Context) error

type task struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	fn       TaskFunc
	stop     chan struct{}

	mu      sync.Mutex
	running bool
	stats   model.TaskStats
}

// Scheduler owns the registered tasks for one process. Multiple cooperating
// processes coordinate through the shared Locker: the same named task never
// runs concurrently across instances.
type Scheduler struct {
	locker lock.Locker
	log    zerolog.Logger

	mu      sync.Mutex
	tasks   map[string]*task
	stopped bool
	wg      sync.WaitGroup
}

func New(locker lock.Locker, log zerolog.Logger) *Scheduler {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &Scheduler{
		locker: locker,
		log:    log.With().Str("component", "scheduler").Logger(),
		tasks:  make(map[string]*task),
	}
}

// Register adds a recurring task. The first run fires after a randomized
// delay of up to 10% of the interval; subsequent runs fire every interval.
func (s *Scheduler) Register(name string, interval, timeout time.Duration, fn TaskFunc) error {
	if name == "" || fn == nil {
		return errors.New("task requires a name and a callback")
	}
	if interval <= 0 || timeout <= 0 {
		return errors.Errorf("task %s: interval and timeout must be positive", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.New("scheduler stopped")
	}
	if _, dup := s.tasks[name]; dup {
		return errors.Errorf("task %s already registered", name)
	}

	t := &task{
		name:     name,
		interval: interval,
		timeout:  timeout,
		fn:       fn,
		stop:     make(chan struct{}),
		stats:    model.TaskStats{Name: name, Interval: interval},
	}
	s.tasks[name] = t

	jitter := time.Duration(rand.Float64() * jitterFraction * float64(interval))
	s.wg.Add(1)
	go s.loop(t, jitter)
	s.log.Info().Str("task", name).Dur("interval", interval).Dur("initial_delay", jitter).Msg("task registered")
	return nil
}

func (s *Scheduler) loop(t *task, initialDelay time.Duration) {
	defer s.wg.Done()
	timer := time.NewTimer(initialDelay)
	defer timer.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-timer.C:
			s.run(t)
			timer.Reset(t.interval)
		}
	}
}

// run executes one guarded tick: local running flag, then the distributed
// lock, then the callback under its timeout. An overlapping tick or a lost
// lock race is a silent skip.
func (s *Scheduler) run(t *task) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.stats.Running = true
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.running = false
		t.stats.Running = false
		t.mu.Unlock()
	}()

	lockName := "engram:task:" + t.name
	acquired, err := s.locker.Acquire(context.Background(), lockName, t.timeout+lockMargin)
	if err != nil {
		s.log.Warn().Err(err).Str("task", t.name).Msg("lock acquire failed")
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := s.locker.Release(context.Background(), lockName); err != nil {
			s.log.Warn().Err(err).Str("task", t.name).Msg("lock release failed")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	start := time.Now()
	runErr := t.fn(ctx)
	elapsed := time.Since(start)

	t.mu.Lock()
	t.stats.Runs++
	t.stats.LastRun = start.UTC()
	t.stats.LastDuration = elapsed
	if runErr != nil {
		t.stats.Failures++
		t.stats.ConsecutiveFailures++
		t.stats.LastError = runErr.Error()
	} else {
		t.stats.ConsecutiveFailures = 0
		t.stats.LastError = ""
	}
	t.mu.Unlock()

	if runErr != nil {
		s.log.Warn().Err(runErr).Str("task", t.name).Dur("duration", elapsed).Msg("task run failed")
	} else {
		s.log.Debug().Str("task", t.name).Dur("duration", elapsed).Msg("task run complete")
	}
}

// Trigger runs the named task immediately, under the same running-flag and
// lock guards as a scheduled tick.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return errors.Errorf("unknown task: %s", name)
	}
	s.run(t)
	return nil
}

// Unregister stops and removes one task. Safe to call for unknown names.
func (s *Scheduler) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[name]; ok {
		close(t.stop)
		delete(s.tasks, name)
	}
}

// Stats returns a snapshot for every registered task.
func (s *Scheduler) Stats() []model.TaskStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.TaskStats, 0, len(s.tasks))
	for _, t := range s.tasks {
		t.mu.Lock()
		out = append(out, t.stats)
		t.mu.Unlock()
	}
	return out
}

// StatsFor returns one task's snapshot.
func (s *Scheduler) StatsFor(name string) (model.TaskStats, bool) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return model.TaskStats{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats, true
}

// Stop cancels all timers, then polls until no task reports running or ctx
// expires. Best-effort drain: a callback ignoring its timeout can still be
// abandoned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		close(t.stop)
		tasks = append(tasks, t)
	}
	s.tasks = make(map[string]*task)
	s.mu.Unlock()

	for {
		busy := false
		for _, t := range tasks {
			t.mu.Lock()
			if t.running {
				busy = true
			}
			t.mu.Unlock()
		}
		if !busy {
			s.wg.Wait()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(drainPoll):
		}
	}
}
