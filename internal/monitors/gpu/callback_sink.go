package gpu

import (
	"context"

	"github.com/nodeops/healthagent/internal/scheduler"
)

// callbackSink is the thread-safe handoff point spec.md §5 requires: the
// vendor library's native callback thread calls Push, which does nothing
// but marshal the payload onto the scheduler's work channel (itself
// already safe for concurrent senders); the actual onViolation logic runs
// on the dispatcher goroutine like everything else.
type callbackSink struct {
	sched   *scheduler.Scheduler
	deliver func(Violation)
}

func newCallbackSink(sched *scheduler.Scheduler, deliver func(Violation)) *callbackSink {
	return &callbackSink{sched: sched, deliver: deliver}
}

// Push is safe to call from any goroutine, including one the vendor
// library owns. It performs no logic beyond scheduling.
func (s *callbackSink) Push(v Violation) {
	s.sched.Submit("gpu:violation_callback", func(ctx context.Context) error {
		s.deliver(v)
		return nil
	})
}
