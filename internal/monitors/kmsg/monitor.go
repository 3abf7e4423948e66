package kmsg

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodeops/healthagent/internal/agent"
	"github.com/nodeops/healthagent/internal/health"
	"github.com/nodeops/healthagent/internal/scheduler"
)

const (
	reportName       = "kernel_log"
	maxEntryAge      = time.Hour
	clearErrorPeriod = 300 * time.Second
)

// Monitor implements agent.Monitor for the kernel ring buffer (C7). It
// registers its source's fd with the scheduler's readiness facility and
// drains whatever is pending each time it becomes readable, keeping only
// entries at or above severity (numerically at or below) crit and younger
// than an hour, per spec.md §4.5.
type Monitor struct {
	source   KernelLogSource
	bootTime time.Time
	reporter *health.Reporter
	sched    *scheduler.Scheduler
	log      zerolog.Logger

	mu   sync.Mutex
	kept []keptEntry
}

type keptEntry struct {
	entry Entry
	seen  time.Time
}

var _ agent.Monitor = (*Monitor)(nil)

// New builds a kernel log monitor over source, whose records are timestamped
// relative to bootTime (use BootTime() in production; tests inject a fixed
// value for determinism).
func New(source KernelLogSource, bootTime time.Time, reporter *health.Reporter, sched *scheduler.Scheduler, log zerolog.Logger) *Monitor {
	return &Monitor{
		source:   source,
		bootTime: bootTime,
		reporter: reporter,
		sched:    sched,
		log:      log.With().Str("monitor", reportName).Logger(),
	}
}

// Create registers the source's fd with the scheduler's readiness facility
// and starts the periodic error-clearing sweep.
func (m *Monitor) Create(ctx context.Context) error {
	m.sched.RegisterReader(m.source.Fd(), m.onReadable)

	m.sched.SubmitPeriodic("kmsg:clear_errors", clearErrorPeriod, func(ctx context.Context, ctl *scheduler.TaskControl) error {
		m.reporter.ClearAllErrors(maxEntryAge)
		return nil
	})

	return nil
}

// onReadable runs on the dispatcher goroutine (via RegisterReader's
// handoff). It drains every currently-available record, parses it, and
// updates the report exactly once for the whole batch — mirroring spec.md
// §4.5's "drain available lines, then schedule a single update_report".
func (m *Monitor) onReadable() {
	var gotAny bool
	for {
		raw, err := m.source.ReadLine()
		if err != nil {
			m.log.Warn().Err(err).Msg("kmsg read failed")
			return
		}
		if raw == "" {
			break
		}
		entry, err := ParseLine(raw)
		if err != nil {
			m.log.Debug().Err(err).Str("raw", raw).Msg("discarding malformed kmsg line")
			continue
		}
		if m.keep(entry) {
			gotAny = true
		}
	}
	if !gotAny {
		return
	}

	report := m.buildReport()
	if err := m.reporter.UpdateReport(reportName, report); err != nil {
		m.log.Error().Err(err).Msg("failed to update report after kmsg batch")
	}
}

// keep applies the level/age filter and records the entry if it passes.
// Returns whether it was kept.
func (m *Monitor) keep(entry Entry) bool {
	if entry.Level > maxKeptLevel {
		return false
	}
	wall := entry.WallTime(m.bootTime)
	if time.Since(wall) > maxEntryAge {
		return false
	}

	m.mu.Lock()
	m.kept = append(m.kept, keptEntry{entry: entry, seen: time.Now()})
	m.pruneLocked()
	m.mu.Unlock()
	return true
}

// pruneLocked drops entries that have aged out since they were recorded.
// Caller holds m.mu.
func (m *Monitor) pruneLocked() {
	cutoff := time.Now().Add(-maxEntryAge)
	kept := m.kept[:0]
	for _, k := range m.kept {
		if k.seen.After(cutoff) {
			kept = append(kept, k)
		}
	}
	m.kept = kept
}

func (m *Monitor) buildReport() health.Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.kept) == 0 {
		return health.NewOK()
	}

	r := health.New(health.StatusError)
	lines := make([]string, 0, len(m.kept))
	for _, k := range m.kept {
		lines = append(lines, fmt.Sprintf("[level %d, seq %d] %s", k.entry.Level, k.entry.Sequence, k.entry.Message))
	}
	r.Details = strings.Join(lines, "\n")
	r.Description = fmt.Sprintf("%d critical kernel log entries in the last hour", len(m.kept))
	return r
}

func (m *Monitor) Name() string               { return reportName }
func (m *Monitor) Reporter() *health.Reporter { return m.reporter }

func (m *Monitor) StatusHandlers() map[string]agent.StatusHandler {
	return map[string]agent.StatusHandler{
		"summary": func() (map[string]interface{}, error) {
			rep, _ := m.reporter.GetReport(reportName)
			return rep.View(), nil
		},
	}
}

func (m *Monitor) EpilogHandlers() map[string]agent.EpilogHandler { return nil }
