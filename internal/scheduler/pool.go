package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// PoolWorkerFlag is the hidden flag the agent binary recognizes on startup
// to run in "pool worker" mode instead of its normal agent role. main()
// must check for this flag before doing anything else and, if present,
// call RunPoolWorker and exit — see cmd/healthagentd.
const PoolWorkerFlag = "-pool-worker"

// PoolJob is a unit of work that may block the caller for a long time
// (minutes) or misbehave in ways that would be dangerous to run on the
// dispatcher goroutine — GPU vendor diagnostics chief among them
// (spec.md §4.1 rationale). Each PoolJob has a stable Name used to select
// it in the spawned child process; payload/result are opaque byte slices
// so callers can use whatever encoding fits (MessagePack, in this repo).
type PoolJob interface {
	Name() string
	Run(ctx context.Context, payload []byte) ([]byte, error)
}

// PoolRegistry maps job names to implementations. The same registry must
// be constructed identically in the parent process and in pool-worker
// mode, since the worker is just this same binary re-executed.
type PoolRegistry struct {
	jobs map[string]PoolJob
}

// NewPoolRegistry creates an empty registry.
func NewPoolRegistry() *PoolRegistry {
	return &PoolRegistry{jobs: make(map[string]PoolJob)}
}

// Register adds job to the registry, keyed by job.Name().
func (r *PoolRegistry) Register(job PoolJob) {
	r.jobs[job.Name()] = job
}

func (r *PoolRegistry) get(name string) (PoolJob, bool) {
	j, ok := r.jobs[name]
	return j, ok
}

// PoolFuture resolves to a pool job's result once its worker process exits.
type PoolFuture struct {
	resultCh chan poolOutcome
}

type poolOutcome struct {
	output []byte
	err    error
}

// Wait blocks until the pool job's child process completes, or ctx is
// done.
func (f *PoolFuture) Wait(ctx context.Context) ([]byte, error) {
	select {
	case o := <-f.resultCh:
		return o.output, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubmitPool runs job in a freshly spawned single-worker child process
// (spawn semantics: the child is a brand new process image, not a forked
// copy, so it never inherits event-loop file descriptors or GPU library
// state). The pool owning this submission is torn down as soon as the
// child exits — there is no pooling across submissions, per spec.md §4.1.
//
// Returns nil if the scheduler is stopped.
func (s *Scheduler) SubmitPool(name string, job PoolJob, payload []byte) *PoolFuture {
	if !s.running() {
		return nil
	}

	f := &PoolFuture{resultCh: make(chan poolOutcome, 1)}
	s.enqueue(func() {
		start := time.Now()
		exe, err := os.Executable()
		if err != nil {
			s.recordSubprocess(name, start, "spawn_failed")
			f.resultCh <- poolOutcome{err: fmt.Errorf("resolve agent binary: %w", err)}
			return
		}

		cmd := exec.Command(exe, PoolWorkerFlag, job.Name())
		cmd.Stdin = bytes.NewReader(payload)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Start(); err != nil {
			s.recordSubprocess(name, start, "spawn_failed")
			f.resultCh <- poolOutcome{err: fmt.Errorf("spawn pool worker %s: %w", job.Name(), err)}
			return
		}

		go func() {
			waitErr := cmd.Wait()
			if waitErr != nil {
				s.log.Error().Err(waitErr).Str("job", job.Name()).Str("stderr", stderr.String()).
					Msg("pool worker exited with error")
				s.recordSubprocess(name, start, "failed")
				f.resultCh <- poolOutcome{err: fmt.Errorf("pool worker %s: %w: %s", job.Name(), waitErr, stderr.String())}
				return
			}
			s.recordSubprocess(name, start, "success")
			out := make([]byte, stdout.Len())
			copy(out, stdout.Bytes())
			f.resultCh <- poolOutcome{output: out}
		}()
	})
	return f
}

// RunPoolWorker is the pool-worker-mode entry point: read the payload from
// stdin, run the named job from registry, write the result to stdout. It
// returns the process exit code, which main() passes to os.Exit.
// Termination signals (SIGINT/SIGTERM) are handled by the Go
// runtime's default behavior in this process, matching spec.md §5's "the
// child re-raises termination signals via the default handler so the
// parent can terminate children when shutting down" — we simply never
// install custom handlers here.
func RunPoolWorker(registry *PoolRegistry, jobName string, stdin io.Reader, stdout, stderr io.Writer) int {
	job, ok := registry.get(jobName)
	if !ok {
		fmt.Fprintf(stderr, "pool worker: unknown job %q\n", jobName)
		return 1
	}

	payload, err := io.ReadAll(stdin)
	if err != nil {
		fmt.Fprintf(stderr, "pool worker: read payload: %v\n", err)
		return 1
	}

	result, err := job.Run(context.Background(), payload)
	if err != nil {
		fmt.Fprintf(stderr, "pool worker: job %q failed: %v\n", jobName, err)
		return 1
	}

	if _, err := stdout.Write(result); err != nil {
		fmt.Fprintf(stderr, "pool worker: write result: %v\n", err)
		return 1
	}
	return 0
}
