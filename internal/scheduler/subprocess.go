package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// SubprocessSpec carries the argv for an external command, with stdout and
// stderr captured by default (spec.md §4.1/§6).
type SubprocessSpec struct {
	Argv []string
}

// Subprocess builds a SubprocessSpec for argv. It does not spawn anything
// by itself; submit it via SubmitSubprocess to actually run it.
func Subprocess(argv ...string) SubprocessSpec {
	return SubprocessSpec{Argv: append([]string(nil), argv...)}
}

// SubprocessResult is delivered once the child process exits.
type SubprocessResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// SubprocessHandle lets a caller await a spawned subprocess's completion,
// the Go analogue of the asyncio "communicate()" await point.
type SubprocessHandle struct {
	resultCh chan subprocessOutcome
}

type subprocessOutcome struct {
	result SubprocessResult
	err    error
}

// Communicate blocks until the subprocess exits (or ctx is done) and
// returns its captured stdout/stderr and exit code. A non-zero exit code
// is not itself an error (spec.md §4.1: "Subprocess failures surface as a
// non-zero exit code on the returned handle"); err is reserved for spawn
// failures.
func (h *SubprocessHandle) Communicate(ctx context.Context) (SubprocessResult, error) {
	select {
	case o := <-h.resultCh:
		return o.result, o.err
	case <-ctx.Done():
		return SubprocessResult{}, ctx.Err()
	}
}

// SubmitSubprocess spawns spec.Argv asynchronously. Spawning (cmd.Start)
// happens on the dispatcher goroutine so submission order is preserved;
// waiting for exit happens off the dispatcher so a slow child never blocks
// other scheduled work, matching the per-iteration isolation the rest of
// the scheduler provides. Returns nil if the scheduler is stopped.
func (s *Scheduler) SubmitSubprocess(name string, spec SubprocessSpec) *SubprocessHandle {
	if !s.running() {
		return nil
	}
	if len(spec.Argv) == 0 {
		panic("scheduler: subprocess requires a non-empty argv")
	}

	h := &SubprocessHandle{resultCh: make(chan subprocessOutcome, 1)}
	s.enqueue(func() {
		start := time.Now()
		cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Start(); err != nil {
			s.log.Error().Err(err).Strs("argv", spec.Argv).Msg("failed to spawn subprocess")
			s.recordSubprocess(name, start, "spawn_failed")
			h.resultCh <- subprocessOutcome{err: fmt.Errorf("spawn %s: %w", spec.Argv[0], err)}
			return
		}

		go func() {
			waitErr := cmd.Wait()
			exitCode := 0
			if waitErr != nil {
				if exitErr, ok := waitErr.(*exec.ExitError); ok {
					exitCode = exitErr.ExitCode()
				} else {
					s.log.Error().Err(waitErr).Strs("argv", spec.Argv).Msg("subprocess wait failed")
					s.recordSubprocess(name, start, "wait_failed")
					h.resultCh <- subprocessOutcome{err: waitErr}
					return
				}
			}
			status := "success"
			if exitCode != 0 {
				status = "nonzero_exit"
			}
			s.recordSubprocess(name, start, status)
			h.resultCh <- subprocessOutcome{result: SubprocessResult{
				Stdout:   stdout.Bytes(),
				Stderr:   stderr.Bytes(),
				ExitCode: exitCode,
			}}
		}()
	})
	return h
}

func (s *Scheduler) recordSubprocess(name string, start time.Time, status string) {
	if err := s.history.RecordExecution(name, start, time.Since(start), status); err != nil {
		s.log.Warn().Err(err).Str("task", name).Msg("failed to record subprocess execution")
	}
}
