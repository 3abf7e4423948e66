package gpu

import (
	"context"
	"errors"
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

func TestBuildReport_EmptyIsOK(t *testing.T) {
	r := buildReport(map[string]map[string]Violation{})
	assert.Equal(t, health.StatusOK, r.Status)
}

func TestBuildReport_AggregatesAcrossGPUsAndConditions(t *testing.T) {
	violations := map[string]map[string]Violation{
		"xid_error": {
			"0": {Condition: "xid_error", GPUID: "0", Details: "xid 79 on gpu0"},
		},
		"thermal_violation": {
			"1": {Condition: "thermal_violation", GPUID: "1", Details: "95C sustained"},
		},
	}

	r := buildReport(violations)
	assert.Equal(t, health.StatusError, r.Status)
	assert.Contains(t, r.Details, "xid 79 on gpu0")
	assert.Contains(t, r.Details, "95C sustained")

	xid := r.CustomFields["xid_error"].AsMap()
	require.Contains(t, xid, "0")
	s, _ := xid["0"].AsString()
	assert.Equal(t, "xid 79 on gpu0", s)
}

func TestMonitor_OnViolationPushesErrorReport(t *testing.T) {
	sched := testScheduler()
	defer sched.Stop()

	fake := NewFakeClient("0")
	reporter := health.New(sched, "", false, testLogger())
	m := New(fake, reporter, sched, nil, testLogger())

	require.NoError(t, m.Create(context.Background()))

	fake.Fire(Violation{Condition: "xid_error", GPUID: "0", Details: "xid 79"})

	require.Eventually(t, func() bool {
		rep, ok := reporter.GetReport(reportName)
		return ok && rep.Status == health.StatusError
	}, time.Second, 10*time.Millisecond)

	rep, _ := reporter.GetReport(reportName)
	assert.Contains(t, rep.Details, "xid 79")
}

func TestMonitor_HealthCheckReconnectsOnceThenCancels(t *testing.T) {
	sched := testScheduler()
	defer sched.Stop()

	fake := NewFakeClient("0")
	reporter := health.New(sched, "", false, testLogger())
	m := New(fake, reporter, sched, nil, testLogger())
	require.NoError(t, m.Create(context.Background()))

	fake.SetHealthErr(errors.New("connection not valid"))

	ctl := &scheduler.TaskControl{}
	err := m.runHealthCheck(context.Background(), ctl)
	require.Error(t, err)
	assert.False(t, ctl.Cancelled())
	assert.True(t, fake.IsConnected(), "reconnect should have restored the connection")

	ctl2 := &scheduler.TaskControl{}
	err = m.runHealthCheck(context.Background(), ctl2)
	require.Error(t, err)
	assert.True(t, ctl2.Cancelled(), "persistent failure must cancel the periodic")
}

func TestMonitor_HealthCheckOKClearsReconnectCounter(t *testing.T) {
	sched := testScheduler()
	defer sched.Stop()

	fake := NewFakeClient("0")
	reporter := health.New(sched, "", false, testLogger())
	m := New(fake, reporter, sched, nil, testLogger())
	require.NoError(t, m.Create(context.Background()))

	ctl := &scheduler.TaskControl{}
	require.NoError(t, m.runHealthCheck(context.Background(), ctl))
	assert.False(t, ctl.Cancelled())
}

func TestEpilogJob_RunEncodesHealthyResult(t *testing.T) {
	fake := NewFakeClient("0")
	fake.SetEpilogResult(EpilogResult{Healthy: true, Details: "all clear"}, nil)

	job := NewEpilogJob(func() (Client, error) { return fake, nil })
	out, err := job.Run(context.Background(), nil)
	require.NoError(t, err)

	report, err := decodeEpilogReport(out)
	require.NoError(t, err)
	assert.Equal(t, health.StatusOK, report.Status)
	assert.Equal(t, "all clear", report.Details)
}

func TestEpilogJob_RunEncodesUnhealthyResult(t *testing.T) {
	fake := NewFakeClient("0")
	fake.SetEpilogResult(EpilogResult{Healthy: false, Details: "GPU not available"}, nil)

	job := NewEpilogJob(func() (Client, error) { return fake, nil })
	out, err := job.Run(context.Background(), nil)
	require.NoError(t, err)

	report, err := decodeEpilogReport(out)
	require.NoError(t, err)
	assert.Equal(t, health.StatusError, report.Status)
	assert.Equal(t, "GPU not available", report.Details)
}

func TestMonitor_StatusHandlerReflectsReporter(t *testing.T) {
	sched := testScheduler()
	defer sched.Stop()

	fake := NewFakeClient("0")
	reporter := health.New(sched, "", false, testLogger())
	m := New(fake, reporter, sched, nil, testLogger())
	require.NoError(t, m.Create(context.Background()))
	require.NoError(t, reporter.UpdateReport(reportName, health.NewOK()))

	handlers := m.StatusHandlers()
	require.Contains(t, handlers, "summary")
	view, err := handlers["summary"]()
	require.NoError(t, err)
	assert.Equal(t, "OK", view["status"])
}
