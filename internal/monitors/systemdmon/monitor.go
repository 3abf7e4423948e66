package systemdmon

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nodeops/healthagent/internal/agent"
	"github.com/nodeops/healthagent/internal/health"
	"github.com/nodeops/healthagent/internal/scheduler"
)

const reportName = "systemd"

// Monitor implements agent.Monitor for the allowlisted systemd services
// (C6). It performs one initial read per service, then reacts only to the
// two transitions spec.md §4.5 calls out: any state ending in "failed"
// (-> ERROR) and specifically failed -> active/running (-> OK). All other
// transitions are ignored, including a unit's first appearance (that only
// seeds lastState, it never itself emits a report).
type Monitor struct {
	client   Client
	services []string
	reporter *health.Reporter
	sched    *scheduler.Scheduler
	log      zerolog.Logger

	mu        sync.Mutex
	lastState map[string]string
}

var _ agent.Monitor = (*Monitor)(nil)

// New builds a systemd monitor watching services.
func New(client Client, services []string, reporter *health.Reporter, sched *scheduler.Scheduler, log zerolog.Logger) *Monitor {
	return &Monitor{
		client:    client,
		services:  append([]string(nil), services...),
		reporter:  reporter,
		sched:     sched,
		log:       log.With().Str("monitor", reportName).Logger(),
		lastState: make(map[string]string),
	}
}

func (m *Monitor) Create(ctx context.Context) error {
	if err := m.client.Connect(ctx); err != nil {
		return fmt.Errorf("systemd monitor: connect: %w", err)
	}

	for _, svc := range m.services {
		uc, err := m.client.InitialState(ctx, svc)
		if err != nil {
			m.log.Warn().Err(err).Str("service", svc).Msg("failed to read initial unit state")
			continue
		}
		if !uc.NewlyLoaded {
			m.mu.Lock()
			m.lastState[svc] = uc.ActiveState
			m.mu.Unlock()
		}
	}

	updates, errs := m.client.Subscribe(ctx)
	go m.drain(updates, errs)

	return nil
}

func (m *Monitor) drain(updates <-chan UnitChange, errs <-chan error) {
	for {
		select {
		case uc, ok := <-updates:
			if !ok {
				return
			}
			change := uc
			m.sched.Submit("systemd:unit_change", func(ctx context.Context) error {
				m.handleChange(change)
				return nil
			})
		case err, ok := <-errs:
			if !ok {
				continue
			}
			m.log.Warn().Err(err).Msg("systemd subscription error")
		}
	}
}

// handleChange implements the transition filter from spec.md §4.5. It runs
// on the dispatcher goroutine (handed off via Submit), so lastState needs
// no separate locking against report mutation — only against Create's
// initial-read goroutine, hence the mutex.
func (m *Monitor) handleChange(uc UnitChange) {
	m.mu.Lock()
	prev, hadPrev := m.lastState[uc.Service]
	m.lastState[uc.Service] = uc.ActiveState
	m.mu.Unlock()

	if !hadPrev {
		// First observation of a previously-unloaded unit: attach
		// monitoring retroactively, but do not itself report a transition.
		return
	}

	switch {
	case uc.ActiveState == "failed":
		report := health.New(health.StatusError)
		report.Description = fmt.Sprintf("%s entered failed state", uc.Service)
		if err := m.reporter.UpdateReport(serviceReportName(uc.Service), report); err != nil {
			m.log.Error().Err(err).Str("service", uc.Service).Msg("failed to update report")
		}
	case prev == "failed" && uc.ActiveState == "active" && uc.SubState == "running":
		if err := m.reporter.UpdateReport(serviceReportName(uc.Service), health.NewOK()); err != nil {
			m.log.Error().Err(err).Str("service", uc.Service).Msg("failed to update report")
		}
	default:
		// Every other transition is ignored per spec.md §4.5.
	}
}

func serviceReportName(service string) string {
	return reportName + ":" + service
}

func (m *Monitor) Name() string               { return reportName }
func (m *Monitor) Reporter() *health.Reporter { return m.reporter }

func (m *Monitor) StatusHandlers() map[string]agent.StatusHandler {
	return map[string]agent.StatusHandler{
		"services": func() (map[string]interface{}, error) {
			out := make(map[string]interface{}, len(m.services))
			for _, svc := range m.services {
				if rep, ok := m.reporter.GetReport(serviceReportName(svc)); ok {
					out[svc] = rep.View()
				}
			}
			return out, nil
		},
	}
}

func (m *Monitor) EpilogHandlers() map[string]agent.EpilogHandler { return nil }
