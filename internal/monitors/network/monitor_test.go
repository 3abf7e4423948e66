package network

import (
	"context"
	"testing"

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

// fakeSysfsSource serves a fixed, test-controlled interface list/state map
// in place of the real /sys/class/net tree.
type fakeSysfsSource struct {
	names  []string
	states map[string]InterfaceState
}

func (f *fakeSysfsSource) Interfaces() ([]string, error) { return f.names, nil }
func (f *fakeSysfsSource) Read(name string) InterfaceState {
	return f.states[name]
}

func TestMonitor_AllInterfacesUpYieldsOK(t *testing.T) {
	sched := testScheduler()
	defer sched.Stop()

	src := &fakeSysfsSource{
		names: []string{"eth0"},
		states: map[string]InterfaceState{
			"eth0": {Name: "eth0", OperState: "up", Carrier: 1, Type: "1", CarrierDownCount: 0},
		},
	}
	reporter := health.New(sched, "", false, testLogger())
	m := New(src, reporter, sched, testLogger())
	require.NoError(t, m.probe())

	rep, ok := reporter.GetReport(reportName)
	require.True(t, ok)
	assert.Equal(t, health.StatusOK, rep.Status)
}

func TestMonitor_InterfaceDownRaisesError(t *testing.T) {
	sched := testScheduler()
	defer sched.Stop()

	src := &fakeSysfsSource{
		names: []string{"eth0"},
		states: map[string]InterfaceState{
			"eth0": {Name: "eth0", OperState: "down", Carrier: 0},
		},
	}
	reporter := health.New(sched, "", false, testLogger())
	m := New(src, reporter, sched, testLogger())
	require.NoError(t, m.probe())

	rep, ok := reporter.GetReport(reportName)
	require.True(t, ok)
	assert.Equal(t, health.StatusError, rep.Status)
	assert.Contains(t, rep.Details, "eth0")
}

func TestMonitor_CarrierFlapRaisesWarning(t *testing.T) {
	sched := testScheduler()
	defer sched.Stop()

	reporter := health.New(sched, "", false, testLogger())
	states := map[string]InterfaceState{"eth0": {Name: "eth0", OperState: "up"}}
	src := &fakeSysfsSource{names: []string{"eth0"}, states: states}
	m := New(src, reporter, sched, testLogger())

	states["eth0"] = InterfaceState{Name: "eth0", OperState: "up", CarrierDownCount: 0}
	require.NoError(t, m.probe())
	states["eth0"] = InterfaceState{Name: "eth0", OperState: "up", CarrierDownCount: 1}
	require.NoError(t, m.probe())

	rep, ok := reporter.GetReport(reportName)
	require.True(t, ok)
	assert.Equal(t, health.StatusWarning, rep.Status)
}

func TestMonitor_ErrorTakesPrecedenceOverWarning(t *testing.T) {
	sched := testScheduler()
	defer sched.Stop()

	reporter := health.New(sched, "", false, testLogger())
	states := map[string]InterfaceState{
		"eth0": {Name: "eth0", OperState: "up", CarrierDownCount: 0},
		"eth1": {Name: "eth1", OperState: "down"},
	}
	src := &fakeSysfsSource{names: []string{"eth0", "eth1"}, states: states}
	m := New(src, reporter, sched, testLogger())
	require.NoError(t, m.probe())
	states["eth0"] = InterfaceState{Name: "eth0", OperState: "up", CarrierDownCount: 1}
	require.NoError(t, m.probe())

	rep, ok := reporter.GetReport(reportName)
	require.True(t, ok)
	assert.Equal(t, health.StatusError, rep.Status)
}

func TestMonitor_CustomFieldsCarryPerInterfaceDetail(t *testing.T) {
	sched := testScheduler()
	defer sched.Stop()

	reporter := health.New(sched, "", false, testLogger())
	src := &fakeSysfsSource{
		names: []string{"eth0"},
		states: map[string]InterfaceState{
			"eth0": {Name: "eth0", OperState: "up", Carrier: 1, Type: "1", CarrierChanges: 2, CarrierDownCount: 0},
		},
	}
	m := New(src, reporter, sched, testLogger())
	require.NoError(t, m.probe())

	rep, _ := reporter.GetReport(reportName)
	view := rep.View()
	eth0, ok := view["eth0"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "up", eth0["operstate"])
	assert.EqualValues(t, 2, eth0["carrier_changes"])
}

func TestMonitor_StatusHandlerReflectsReporter(t *testing.T) {
	sched := testScheduler()
	defer sched.Stop()

	reporter := health.New(sched, "", false, testLogger())
	src := &fakeSysfsSource{names: nil, states: map[string]InterfaceState{}}
	m := New(src, reporter, sched, testLogger())
	ctx := context.Background()
	require.NoError(t, m.Create(ctx))
	require.NoError(t, reporter.UpdateReport(reportName, health.NewOK()))

	handlers := m.StatusHandlers()
	out, err := handlers["interfaces"]()
	require.NoError(t, err)
	assert.Equal(t, "OK", out["status"])
}
