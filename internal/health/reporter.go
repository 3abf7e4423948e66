package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodeops/healthagent/internal/events"
	"github.com/nodeops/healthagent/internal/scheduler"
)

// Subprocessor is the scheduler surface Reporter needs to fire the external
// notifier. *scheduler.Scheduler satisfies it; tests substitute a fake.
type Subprocessor interface {
	SubmitSubprocess(name string, spec scheduler.SubprocessSpec) *scheduler.SubprocessHandle
}

// Reporter is the per-module store from spec.md §4.3: name -> Report, with
// debounced change detection and a best-effort external notifier call on
// every genuine transition.
type Reporter struct {
	mu              sync.Mutex
	store           map[string]Report
	publishExternal bool
	notifierPath    string
	sched           Subprocessor
	bus             *events.Bus
	log             zerolog.Logger
}

// New creates an empty Reporter. notifierPath is the resolved path to the
// external notifier CLI, or "" if none was found — publishExternal is
// forced false in that case regardless of the requested value, matching
// spec.md §4.3 ("disabled automatically when the external notifier binary
// is absent").
func New(sched Subprocessor, notifierPath string, publishExternal bool, log zerolog.Logger) *Reporter {
	if notifierPath == "" {
		publishExternal = false
	}
	return &Reporter{
		store:           make(map[string]Report),
		publishExternal: publishExternal,
		notifierPath:    notifierPath,
		sched:           sched,
		log:             log.With().Str("component", "reporter").Logger(),
	}
}

// SetBus attaches an event bus; UpdateReport emits events.HealthStateChanged
// on it for every genuine transition. Optional — a Reporter with no bus
// behaves exactly as before.
func (r *Reporter) SetBus(bus *events.Bus) {
	r.mu.Lock()
	r.bus = bus
	r.mu.Unlock()
}

// GetReport returns a deep copy of the stored report under name, and
// whether one was present.
func (r *Reporter) GetReport(name string) (Report, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.store[name]
	if !ok {
		return Report{}, false
	}
	return rep.Clone(), true
}

// Summarize returns name -> View() for every stored report.
func (r *Reporter) Summarize() map[string]map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]map[string]interface{}, len(r.store))
	for name, rep := range r.store {
		out[name] = rep.View()
	}
	return out
}

// Names returns the set of subsystem names currently tracked, in no
// particular order.
func (r *Reporter) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.store))
	for name := range r.store {
		names = append(names, name)
	}
	return names
}

// UpdateReport stores report under name, stamping LastUpdate and applying
// the default-message rule, then enqueues an external-notifier subprocess
// iff the new report differs from what was stored (per-field equality,
// §3) or the name is new. If only LastUpdate would differ, the store is
// still refreshed but no notifier call is made — the debounce invariant
// from spec.md §4.3/§8.
func (r *Reporter) UpdateReport(name string, report Report) error {
	if name == "" {
		return fmt.Errorf("health: update_report requires a non-empty name")
	}

	if report.Status == StatusWarning || report.Status == StatusError {
		if report.Message == "" {
			verb := "warnings"
			if report.Status == StatusError {
				verb = "errors"
			}
			report.Message = fmt.Sprintf("%s reports %s", name, verb)
		}
	}
	report.LastUpdate = time.Now().UTC()
	if report.CustomFields == nil {
		report.CustomFields = map[string]Value{}
	}

	r.mu.Lock()
	prev, existed := r.store[name]
	changed := !existed || !prev.Equal(report)
	r.store[name] = report
	bus := r.bus
	r.mu.Unlock()

	if !changed {
		return nil
	}
	if bus != nil {
		bus.Emit(events.HealthStateChanged, name, map[string]interface{}{"status": string(report.Status)})
	}
	r.notify(name, report)
	return nil
}

// ClearAllErrors overwrites every stored report with a fresh OK report,
// provided age is zero or now-LastUpdate exceeds it. Each overwrite goes
// through UpdateReport so it debounces normally (an already-OK report with
// no message/description/details produces no notifier call).
func (r *Reporter) ClearAllErrors(age time.Duration) {
	r.mu.Lock()
	names := make([]string, 0, len(r.store))
	now := time.Now().UTC()
	for name, rep := range r.store {
		if age <= 0 || now.Sub(rep.LastUpdate) > age {
			names = append(names, name)
		}
	}
	r.mu.Unlock()

	for _, name := range names {
		_ = r.UpdateReport(name, NewOK())
	}
}

// LoadReporterObj replaces this Reporter's store with old's store,
// discarding old's other fields — the version-aware migration point
// spec.md §4.3/§9 calls for. Intended to be fed a Reporter decoded from an
// older persisted ReporterStore version.
func (r *Reporter) LoadReporterObj(old *Reporter) {
	if old == nil {
		return
	}
	old.mu.Lock()
	store := make(map[string]Report, len(old.store))
	for k, v := range old.store {
		store[k] = v
	}
	old.mu.Unlock()

	r.mu.Lock()
	r.store = store
	r.mu.Unlock()
}

func (r *Reporter) notify(name string, report Report) {
	if !r.publishExternal || r.sched == nil {
		return
	}

	argv := []string{r.notifierPath, "condition", "set", "-n", name, "-s", string(report.Status)}
	if report.Status != StatusOK {
		if report.Message != "" {
			argv = append(argv, "-m", report.Message)
		}
		if report.Description != "" {
			argv = append(argv, "-d", report.Description)
		}
		if report.Recommendations != "" {
			argv = append(argv, "-r", report.Recommendations)
		}
		if report.Details != "" {
			argv = append(argv, "--details", report.Details)
		}
	}

	handle := r.sched.SubmitSubprocess("notifier:"+name, scheduler.Subprocess(argv...))
	if handle == nil {
		return
	}
	// Fire-and-forget from the Reporter's perspective (spec.md §4.3): we
	// still drain the handle so the scheduler's subprocess bookkeeping
	// (history, logging of a non-zero exit) runs, but nothing here waits
	// on the outcome.
	go func() {
		res, err := handle.Communicate(context.Background())
		if err != nil {
			r.log.Warn().Err(err).Str("subsystem", name).Msg("notifier invocation failed to spawn")
			return
		}
		if res.ExitCode != 0 {
			r.log.Warn().
				Str("subsystem", name).
				Int("exit_code", res.ExitCode).
				Str("stderr", string(res.Stderr)).
				Msg("notifier exited non-zero")
		}
	}()
}
