package network

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/nodeops/healthagent/internal/agent"
	"github.com/nodeops/healthagent/internal/health"
	"github.com/nodeops/healthagent/internal/scheduler"
)

const (
	reportName    = "network"
	probeInterval = 60 * time.Second
	windowSamples = 60 // 60 samples @ 60s cadence == a 1h window
	flapWarnPerHr = 1
)

// Monitor implements agent.Monitor for per-interface link health (C8): a
// periodic sysfs probe, a SlidingStore tracking carrier_down_count so the
// flap rate can be read off as "how many carrier-down events in the last
// hour", and a gonum/stat pass over the same window for descriptive
// enrichment (mean/stddev) carried as extra custom fields.
type Monitor struct {
	source   SysfsSource
	reporter *health.Reporter
	sched    *scheduler.Scheduler
	log      zerolog.Logger

	probeInterval time.Duration
	flapWarnPerHr float64
	flaps         *SlidingStore
}

var _ agent.Monitor = (*Monitor)(nil)

// New builds a network monitor over source, using the package defaults for
// sampling interval, window size and flap threshold.
func New(source SysfsSource, reporter *health.Reporter, sched *scheduler.Scheduler, log zerolog.Logger) *Monitor {
	return NewWithWindow(source, reporter, sched, log, windowSamples, probeInterval, flapWarnPerHr)
}

// NewWithWindow builds a network monitor with an explicit window size,
// sampling interval and flap threshold, so deployments can override the
// defaults via internal/config's NetworkOverrides (spec.md §9's Open
// Question: sampling interval and window size jointly define "events per
// hour", so both must move together).
func NewWithWindow(source SysfsSource, reporter *health.Reporter, sched *scheduler.Scheduler, log zerolog.Logger, window int, interval time.Duration, flapWarnPerHour int) *Monitor {
	if window <= 0 {
		window = windowSamples
	}
	if interval <= 0 {
		interval = probeInterval
	}
	if flapWarnPerHour <= 0 {
		flapWarnPerHour = flapWarnPerHr
	}
	return &Monitor{
		source:        source,
		reporter:      reporter,
		sched:         sched,
		log:           log.With().Str("monitor", reportName).Logger(),
		probeInterval: interval,
		flapWarnPerHr: float64(flapWarnPerHour),
		flaps:         NewSlidingStore(window),
	}
}

// Create starts the sysfs probe periodic at the configured interval.
func (m *Monitor) Create(ctx context.Context) error {
	m.sched.SubmitPeriodic("network:probe", m.probeInterval, func(ctx context.Context, ctl *scheduler.TaskControl) error {
		return m.probe()
	})
	return nil
}

func (m *Monitor) probe() error {
	names, err := m.source.Interfaces()
	if err != nil {
		return fmt.Errorf("network monitor: enumerate interfaces: %w", err)
	}
	sort.Strings(names)

	states := make(map[string]InterfaceState, len(names))
	for _, name := range names {
		states[name] = m.source.Read(name)
	}

	report := m.buildReport(states)
	if err := m.reporter.UpdateReport(reportName, report); err != nil {
		m.log.Error().Err(err).Msg("failed to update report after network probe")
	}
	return nil
}

// buildReport applies the two rules from spec.md §4.5: any interface not
// OperState "up" raises ERROR; otherwise a flap rate of >= 1 carrier-down
// event across the last hour's samples raises WARNING. Each interface gets
// its own custom-field subtree.
func (m *Monitor) buildReport(states map[string]InterfaceState) health.Report {
	worst := health.StatusOK
	var descriptions []string

	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make(map[string]health.Value, len(states))
	for _, name := range names {
		state := states[name]
		m.flaps.Put(name, float64(state.CarrierDownCount))
		rate := m.flaps.Rate(name)

		ifaceStatus := health.StatusOK
		switch {
		case state.OperState != "up":
			ifaceStatus = health.StatusError
			descriptions = append(descriptions, fmt.Sprintf("%s operstate=%s", name, state.OperState))
		case rate >= m.flapWarnPerHr:
			ifaceStatus = health.StatusWarning
			descriptions = append(descriptions, fmt.Sprintf("%s carrier flapped %.0f time(s) in the last hour", name, rate))
		}
		if ifaceStatus.MoreSevere(worst) {
			worst = ifaceStatus
		}

		ifaceFields := map[string]health.Value{
			"operstate":          health.String(state.OperState),
			"carrier":            health.Int(int64(state.Carrier)),
			"type":               health.String(state.Type),
			"carrier_changes":    health.Int(state.CarrierChanges),
			"carrier_down_count": health.Int(state.CarrierDownCount),
			"flap_rate_1h":       health.Float(rate),
		}
		if mean, stddev, ok := windowStats(m.flaps, name); ok {
			ifaceFields["flap_window_mean"] = health.Float(mean)
			ifaceFields["flap_window_stddev"] = health.Float(stddev)
		}
		fields[name] = health.Map(ifaceFields)
	}

	r := health.New(worst)
	r.CustomFields = fields
	if len(descriptions) > 0 {
		r.Description = "interface issues detected"
		r.Details = joinLines(descriptions)
	}
	return r
}

// windowStats reports the mean and sample standard deviation of the
// retained carrier_down_count window for name, via gonum/stat — a
// descriptive-statistics enrichment on top of the plain last-first rate
// calculation SlidingStore.Rate performs. Returns ok=false until at least
// two samples have been recorded.
func windowStats(store *SlidingStore, name string) (mean, stddev float64, ok bool) {
	samples := store.snapshot(name)
	if len(samples) < 2 {
		return 0, 0, false
	}
	mean = stat.Mean(samples, nil)
	stddev = stat.StdDev(samples, nil)
	return mean, stddev, true
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

func (m *Monitor) Name() string               { return reportName }
func (m *Monitor) Reporter() *health.Reporter { return m.reporter }

func (m *Monitor) StatusHandlers() map[string]agent.StatusHandler {
	return map[string]agent.StatusHandler{
		"interfaces": func() (map[string]interface{}, error) {
			rep, _ := m.reporter.GetReport(reportName)
			return rep.View(), nil
		},
	}
}

func (m *Monitor) EpilogHandlers() map[string]agent.EpilogHandler { return nil }
