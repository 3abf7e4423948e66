package gpu

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodeops/healthagent/internal/agent"
	"github.com/nodeops/healthagent/internal/health"
	"github.com/nodeops/healthagent/internal/scheduler"
)

const (
	healthCheckInterval = 60 * time.Second
	reportName          = "gpu"
)

// Monitor implements agent.Monitor for the GPU subsystem (C5). It
// registers one ViolationPolicy per watched condition, maintains the
// two-level custom_fields[condition][gpu_id] accumulation spec.md §4.5
// describes, and runs epilog diagnostics in a pool worker.
type Monitor struct {
	client   Client
	reporter *health.Reporter
	sched    *scheduler.Scheduler
	log      zerolog.Logger

	poolJob PoolDiagnosticsJob

	mu         sync.Mutex
	violations map[string]map[string]Violation // condition -> gpu_id -> latest
	reconnects int
}

// WatchedConditions is the fixed set of policy conditions this monitor
// subscribes to; spec.md leaves the concrete counters unspecified (§1:
// "probe-specific content ... is specified only at the interface level"),
// so this is the minimal realistic DCGM policy set.
var WatchedConditions = []string{"xid_error", "thermal_violation", "power_violation", "nvlink_error"}

// New builds a GPU monitor over client, reporting through reporter and
// scheduling periodics/epilog via sched. poolJob runs the out-of-process
// epilog diagnostics; pass nil to disable epilog support.
func New(client Client, reporter *health.Reporter, sched *scheduler.Scheduler, poolJob PoolDiagnosticsJob, log zerolog.Logger) *Monitor {
	return &Monitor{
		client:     client,
		reporter:   reporter,
		sched:      sched,
		poolJob:    poolJob,
		log:        log.With().Str("monitor", reportName).Logger(),
		violations: make(map[string]map[string]Violation),
	}
}

var _ agent.Monitor = (*Monitor)(nil)

// Create connects the client, registers policy callbacks for every watched
// condition across every known GPU, and starts the 60s health-check
// periodic.
func (m *Monitor) Create(ctx context.Context) error {
	if err := m.client.Connect(ctx); err != nil {
		return fmt.Errorf("gpu monitor: connect: %w", err)
	}

	sink := newCallbackSink(m.sched, m.onViolation)
	for _, gpuID := range m.client.GPUIDs() {
		for _, cond := range WatchedConditions {
			policy := ViolationPolicy{Condition: cond, GPUID: gpuID}
			if err := m.client.RegisterPolicy(policy, sink.Push); err != nil {
				return fmt.Errorf("gpu monitor: register policy %s/%s: %w", cond, gpuID, err)
			}
		}
	}

	m.sched.SubmitPeriodic("gpu:health_check", healthCheckInterval, func(ctx context.Context, ctl *scheduler.TaskControl) error {
		return m.runHealthCheck(ctx, ctl)
	})

	return nil
}

// onViolation runs on the dispatcher goroutine (handed off from the
// foreign-thread callback by the sink): it records v, rebuilds details,
// and pushes an updated report.
func (m *Monitor) onViolation(v Violation) {
	m.mu.Lock()
	if m.violations[v.Condition] == nil {
		m.violations[v.Condition] = make(map[string]Violation)
	}
	m.violations[v.Condition][v.GPUID] = v
	snapshot := m.cloneViolations()
	m.mu.Unlock()

	report := buildReport(snapshot)
	if err := m.reporter.UpdateReport(reportName, report); err != nil {
		m.log.Error().Err(err).Msg("failed to update report after GPU violation")
	}
}

func (m *Monitor) cloneViolations() map[string]map[string]Violation {
	out := make(map[string]map[string]Violation, len(m.violations))
	for cond, byGPU := range m.violations {
		inner := make(map[string]Violation, len(byGPU))
		for gpuID, v := range byGPU {
			inner[gpuID] = v
		}
		out[cond] = inner
	}
	return out
}

// buildReport rebuilds `details` by concatenating per-entry details lines,
// and custom_fields[condition][gpu_id] accumulated so far, per spec.md
// §4.5. An empty violation set yields a fresh OK report.
func buildReport(violations map[string]map[string]Violation) health.Report {
	if len(violations) == 0 {
		return health.NewOK()
	}

	r := health.New(health.StatusError)
	var detailLines []string

	conditions := make([]string, 0, len(violations))
	for cond := range violations {
		conditions = append(conditions, cond)
	}
	sort.Strings(conditions)

	for _, cond := range conditions {
		byGPU := violations[cond]
		gpuIDs := make([]string, 0, len(byGPU))
		for id := range byGPU {
			gpuIDs = append(gpuIDs, id)
		}
		sort.Strings(gpuIDs)

		fields := make(map[string]health.Value, len(byGPU))
		for _, gpuID := range gpuIDs {
			v := byGPU[gpuID]
			fields[gpuID] = health.String(v.Details)
			if v.Details != "" {
				detailLines = append(detailLines, fmt.Sprintf("[%s/%s] %s", cond, gpuID, v.Details))
			}
		}
		r.CustomFields[cond] = health.Map(fields)
	}

	r.Details = strings.Join(detailLines, "\n")
	r.Description = "GPU policy violations detected"
	return r
}

// runHealthCheck calls the client's HealthCheck; on a "connection not
// valid" failure it attempts exactly one reconnect (still returning the
// failure), and if the next check fails the same way before any check has
// succeeded it logs at error level and self-cancels so the periodic stops
// spamming, per spec.md §4.5/§7. A successful check clears the counter.
func (m *Monitor) runHealthCheck(ctx context.Context, ctl *scheduler.TaskControl) error {
	err := m.client.HealthCheck(ctx)
	if err == nil {
		m.mu.Lock()
		m.reconnects = 0
		m.mu.Unlock()
		return nil
	}

	if !strings.Contains(err.Error(), "connection not valid") {
		m.log.Warn().Err(err).Msg("GPU health check failed")
		return err
	}

	m.mu.Lock()
	m.reconnects++
	attempt := m.reconnects
	m.mu.Unlock()

	if attempt > 1 {
		m.log.Error().Err(err).Msg("GPU connection persistently invalid after reconnect; disabling health check")
		ctl.Cancel()
		return err
	}

	m.log.Warn().Err(err).Msg("GPU connection invalid; attempting reconnect")
	if rerr := m.client.Connect(ctx); rerr != nil {
		m.log.Error().Err(rerr).Msg("GPU reconnect failed")
		ctl.Cancel()
		return rerr
	}
	return err
}

func (m *Monitor) Name() string { return reportName }

func (m *Monitor) Reporter() *health.Reporter { return m.reporter }

func (m *Monitor) StatusHandlers() map[string]agent.StatusHandler {
	return map[string]agent.StatusHandler{
		"summary": func() (map[string]interface{}, error) {
			rep, _ := m.reporter.GetReport(reportName)
			return rep.View(), nil
		},
	}
}

func (m *Monitor) EpilogHandlers() map[string]agent.EpilogHandler {
	if m.poolJob == nil {
		return nil
	}
	return map[string]agent.EpilogHandler{
		"diagnostics": m.runEpilogDiagnostics,
	}
}

// runEpilogDiagnostics submits the epilog pool job and blocks until its
// isolated process exits, per spec.md §4.5 ("Its epilog entry runs in a
// pool worker ... and returns a single HealthReport").
func (m *Monitor) runEpilogDiagnostics(ctx context.Context) (map[string]interface{}, error) {
	future := m.sched.SubmitPool("gpu:epilog", m.poolJob, nil)
	if future == nil {
		return nil, fmt.Errorf("gpu monitor: scheduler not accepting work")
	}
	output, err := future.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("gpu monitor: epilog diagnostics: %w", err)
	}

	report, err := decodeEpilogReport(output)
	if err != nil {
		return nil, err
	}
	if err := m.reporter.UpdateReport(reportName+"_epilog", report); err != nil {
		m.log.Error().Err(err).Msg("failed to update report after epilog diagnostics")
	}
	return report.View(), nil
}
