package systemdmon

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeops/healthagent/internal/health"
	"github.com/nodeops/healthagent/internal/scheduler"
)

func testLogger() zerolog.Logger { return zerolog.New(nil).Level(zerolog.Disabled) }

func testScheduler() *scheduler.Scheduler {
	s := scheduler.New(testLogger(), nil)
	s.Start()
	return s
}

func TestMonitor_FailedTransitionRaisesError(t *testing.T) {
	sched := testScheduler()
	defer sched.Stop()

	fake := NewFakeClient(map[string]UnitChange{
		"docker.service": {Service: "docker.service", ActiveState: "active", SubState: "running"},
	})
	reporter := health.New(sched, "", false, testLogger())
	m := New(fake, []string{"docker.service"}, reporter, sched, testLogger())
	require.NoError(t, m.Create(context.Background()))

	fake.Push(UnitChange{Service: "docker.service", ActiveState: "failed", SubState: "failed"})

	require.Eventually(t, func() bool {
		rep, ok := reporter.GetReport(serviceReportName("docker.service"))
		return ok && rep.Status == health.StatusError
	}, time.Second, 10*time.Millisecond)
}

func TestMonitor_FailedToRunningTransitionClearsError(t *testing.T) {
	sched := testScheduler()
	defer sched.Stop()

	fake := NewFakeClient(map[string]UnitChange{
		"sshd.service": {Service: "sshd.service", ActiveState: "failed", SubState: "failed"},
	})
	reporter := health.New(sched, "", false, testLogger())
	m := New(fake, []string{"sshd.service"}, reporter, sched, testLogger())
	require.NoError(t, m.Create(context.Background()))

	fake.Push(UnitChange{Service: "sshd.service", ActiveState: "active", SubState: "running"})

	require.Eventually(t, func() bool {
		rep, ok := reporter.GetReport(serviceReportName("sshd.service"))
		return ok && rep.Status == health.StatusOK
	}, time.Second, 10*time.Millisecond)
}

func TestMonitor_IrrelevantTransitionsAreIgnored(t *testing.T) {
	sched := testScheduler()
	defer sched.Stop()

	fake := NewFakeClient(map[string]UnitChange{
		"kubelet.service": {Service: "kubelet.service", ActiveState: "active", SubState: "running"},
	})
	reporter := health.New(sched, "", false, testLogger())
	m := New(fake, []string{"kubelet.service"}, reporter, sched, testLogger())
	require.NoError(t, m.Create(context.Background()))

	fake.Push(UnitChange{Service: "kubelet.service", ActiveState: "activating", SubState: "start"})

	// Give the dispatcher a beat to process, then assert nothing was
	// reported (the service was never added to the reporter).
	time.Sleep(100 * time.Millisecond)
	_, ok := reporter.GetReport(serviceReportName("kubelet.service"))
	assert.False(t, ok)
}

func TestMonitor_NewlyLoadedUnitAttachesWithoutReporting(t *testing.T) {
	sched := testScheduler()
	defer sched.Stop()

	// No initial state provided: InitialState returns NewlyLoaded=true.
	fake := NewFakeClient(map[string]UnitChange{})
	reporter := health.New(sched, "", false, testLogger())
	m := New(fake, []string{"late.service"}, reporter, sched, testLogger())
	require.NoError(t, m.Create(context.Background()))

	fake.Push(UnitChange{Service: "late.service", ActiveState: "active", SubState: "running"})

	time.Sleep(100 * time.Millisecond)
	_, ok := reporter.GetReport(serviceReportName("late.service"))
	assert.False(t, ok, "the unit's first appearance only seeds lastState, it does not report")

	fake.Push(UnitChange{Service: "late.service", ActiveState: "failed", SubState: "failed"})
	require.Eventually(t, func() bool {
		rep, ok := reporter.GetReport(serviceReportName("late.service"))
		return ok && rep.Status == health.StatusError
	}, time.Second, 10*time.Millisecond)
}

func TestMonitor_StatusHandlerListsKnownServices(t *testing.T) {
	sched := testScheduler()
	defer sched.Stop()

	fake := NewFakeClient(map[string]UnitChange{
		"docker.service": {Service: "docker.service", ActiveState: "active", SubState: "running"},
	})
	reporter := health.New(sched, "", false, testLogger())
	m := New(fake, []string{"docker.service"}, reporter, sched, testLogger())
	require.NoError(t, m.Create(context.Background()))
	require.NoError(t, reporter.UpdateReport(serviceReportName("docker.service"), health.NewOK()))

	handlers := m.StatusHandlers()
	out, err := handlers["services"]()
	require.NoError(t, err)
	assert.Contains(t, out, "docker.service")
}
