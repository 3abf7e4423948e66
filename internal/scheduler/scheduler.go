// Package scheduler implements the cooperative task runtime described in
// spec.md §4.1 (C1): one dispatcher goroutine stands in for the "single
// event loop"; all task bodies run on it, one at a time, so per-subsystem
// callers (the Reporter, in particular) never observe interleaving. Pool
// jobs and subprocesses suspend off the dispatcher and report completion
// back onto it, the Go analogue of an await point.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nodeops/healthagent/internal/events"
)

// Handle identifies a task submitted to the scheduler.
type Handle struct {
	ID   string
	Name string

	ctl  *TaskControl
	done chan struct{}
	err  error
	mu   sync.Mutex
}

// Wait blocks until a one-shot task completes, or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) finish(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// Scheduler is a single-dispatcher cooperative task runtime. All task
// bodies submitted via Submit/SubmitPeriodic run serially on the dispatcher
// goroutine; SubmitPool and SubmitSubprocess isolate blocking work off of
// it and hand completion back through the same channel.
type Scheduler struct {
	log      zerolog.Logger
	state    atomic.Int32
	work     chan func()
	stopped  chan struct{}
	wg       sync.WaitGroup
	history  HistoryRecorder
	readyReg *readinessRegistry
	bus      *events.Bus
}

// SetEventBus attaches bus; task bodies that return an error emit
// events.SchedulerTaskFailed on it. Optional — a Scheduler with no bus
// behaves exactly as before.
func (s *Scheduler) SetEventBus(bus *events.Bus) {
	s.bus = bus
}

// New creates a Scheduler in the "init" state. Call Start before submitting
// work.
func New(log zerolog.Logger, history HistoryRecorder) *Scheduler {
	if history == nil {
		history = noopHistory{}
	}
	s := &Scheduler{
		log:      log.With().Str("component", "scheduler").Logger(),
		work:     make(chan func(), 64),
		history:  history,
		readyReg: newReadinessRegistry(log),
	}
	s.state.Store(int32(StateInit))
	return s
}

// Start transitions init -> running and launches the dispatcher goroutine.
// Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	if !s.state.CompareAndSwap(int32(StateInit), int32(StateRunning)) {
		return
	}
	s.stopped = make(chan struct{})
	s.wg.Add(1)
	go s.dispatch()
	s.readyReg.start(s)
}

// Stop transitions running -> stopped. In-flight task bodies are not
// forcibly interrupted; new submissions and periodic reschedules are
// refused from this point on.
func (s *Scheduler) Stop() {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateStopped)) {
		return
	}
	close(s.stopped)
	s.readyReg.stop()
	close(s.work)
	s.wg.Wait()
}

// RegisterReader arranges for handler to run on the dispatcher goroutine
// whenever fd becomes readable, per spec.md §4.5's kernel-log monitor design
// (a poll(2)-backed analogue of an event loop's add_reader). fd must already
// be in non-blocking mode. Safe to call before or after Start.
func (s *Scheduler) RegisterReader(fd int, handler ReadinessHandler) {
	s.readyReg.Register(fd, handler)
}

// State reports the scheduler's current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) running() bool {
	return State(s.state.Load()) == StateRunning
}

func (s *Scheduler) dispatch() {
	defer s.wg.Done()
	for fn := range s.work {
		s.runGuarded(fn)
	}
}

// runGuarded executes fn on the dispatcher goroutine, recovering and
// logging any panic so a single misbehaving task never kills the loop
// (spec.md §7: "no exception is allowed to escape the event loop").
func (s *Scheduler) runGuarded(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("task panicked")
		}
	}()
	fn()
}

// Submit runs fn once, on the dispatcher goroutine. If the scheduler has
// been stopped, Submit is a no-op and returns nil, matching spec.md §4.1:
// "If the global stop flag is set, return nothing and perform no work."
func (s *Scheduler) Submit(name string, fn func(ctx context.Context) error) *Handle {
	if !s.running() {
		return nil
	}

	h := &Handle{ID: uuid.NewString(), Name: name, done: make(chan struct{})}
	s.enqueue(func() {
		start := time.Now()
		err := runCatchingPanic(func() error { return fn(context.Background()) })
		status := "success"
		if err != nil {
			status = "failed"
			s.log.Error().Err(err).Str("task", name).Msg("task failed")
			if s.bus != nil {
				s.bus.Emit(events.SchedulerTaskFailed, name, map[string]interface{}{"error": err.Error()})
			}
		}
		if recErr := s.history.RecordExecution(name, start, time.Since(start), status); recErr != nil {
			s.log.Warn().Err(recErr).Str("task", name).Msg("failed to record task execution")
		}
		h.finish(err)
	})
	return h
}

// enqueue sends fn to the dispatcher, silently dropping it if the scheduler
// has stopped concurrently (close(s.work) races with send are avoided via
// the running() check plus a recover, mirroring the "send on closed
// channel" guard idiom).
func (s *Scheduler) enqueue(fn func()) {
	defer func() { recover() }() //nolint:errcheck
	if !s.running() {
		return
	}
	s.work <- fn
}

func runCatchingPanic(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
