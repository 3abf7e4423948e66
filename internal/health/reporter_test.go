package health

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeops/healthagent/internal/events"
	"github.com/nodeops/healthagent/internal/scheduler"
)

// fakeSubprocessor counts SubmitSubprocess calls instead of spawning
// anything, so the debounce invariant can be checked without touching the
// real OS process table.
type fakeSubprocessor struct {
	mu    sync.Mutex
	calls []scheduler.SubprocessSpec
}

func (f *fakeSubprocessor) SubmitSubprocess(name string, spec scheduler.SubprocessSpec) *scheduler.SubprocessHandle {
	f.mu.Lock()
	f.calls = append(f.calls, spec)
	f.mu.Unlock()

	s := scheduler.New(zerolog.New(nil).Level(zerolog.Disabled), nil)
	s.Start()
	defer s.Stop()
	return s.SubmitSubprocess(name, scheduler.Subprocess("/bin/true"))
}

func (f *fakeSubprocessor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testLogger() zerolog.Logger { return zerolog.New(nil).Level(zerolog.Disabled) }

func TestReport_EqualityIgnoresLastUpdate(t *testing.T) {
	a := New(StatusWarning)
	a.Message = "disk filling up"
	b := a
	b.LastUpdate = a.LastUpdate.Add(time.Hour)

	assert.True(t, a.Equal(b))
}

func TestReport_View_DropsNullFieldsKeepsEmptyStrings(t *testing.T) {
	r := New(StatusOK)
	r.Message = "" // empty string, distinct from null per spec
	r.CustomFields["populated"] = String("value")
	r.CustomFields["absent"] = Null()

	view := r.View()
	assert.Contains(t, view, "message")
	assert.Equal(t, "", view["message"])
	assert.Equal(t, "value", view["populated"])
	assert.NotContains(t, view, "absent")
}

func TestReport_View_Idempotent(t *testing.T) {
	r := New(StatusWarning)
	r.CustomFields["gpu_id"] = Int(3)
	first := r.View()
	// Re-viewing the resulting plain map is meaningless (it is already
	// JSON-safe); idempotency here means viewing the same Report twice
	// yields identical output.
	second := r.View()
	assert.Equal(t, first, second)
}

func TestReporter_DebouncedErrorThenOK(t *testing.T) {
	fake := &fakeSubprocessor{}
	r := New(fake, "/usr/bin/condition-notifier", true, testLogger())

	errReport := New(StatusError)
	errReport.Description = "epilog failures"
	errReport.Details = "GPU not available"

	require.NoError(t, r.UpdateReport("epilog_test", errReport))
	assert.Equal(t, 1, fake.count())

	require.NoError(t, r.UpdateReport("epilog_test", errReport))
	assert.Equal(t, 1, fake.count(), "identical report must not re-notify")

	require.NoError(t, r.UpdateReport("epilog_test", NewOK()))
	assert.Equal(t, 2, fake.count())

	r.ClearAllErrors(0)
	assert.Equal(t, 2, fake.count(), "already-OK report must not re-notify")
}

func TestReporter_ClearAllErrors_AgeBounded(t *testing.T) {
	fake := &fakeSubprocessor{}
	r := New(fake, "/usr/bin/condition-notifier", true, testLogger())

	errReport := New(StatusError)
	errReport.Message = "bad"
	require.NoError(t, r.UpdateReport("svc", errReport))
	assert.Equal(t, 1, fake.count())

	r.ClearAllErrors(time.Hour)
	assert.Equal(t, 1, fake.count(), "recent report must not be cleared by a 1h age bound")
}

func TestReporter_PublishDisabledWithoutNotifierPath(t *testing.T) {
	fake := &fakeSubprocessor{}
	r := New(fake, "", true, testLogger())

	require.NoError(t, r.UpdateReport("svc", New(StatusError)))
	assert.Equal(t, 0, fake.count(), "notifier must be disabled when no binary was located")
}

func TestReporter_DefaultMessageForWarningAndError(t *testing.T) {
	fake := &fakeSubprocessor{}
	r := New(fake, "/usr/bin/condition-notifier", true, testLogger())

	require.NoError(t, r.UpdateReport("gpu0", New(StatusWarning)))
	rep, ok := r.GetReport("gpu0")
	require.True(t, ok)
	assert.Equal(t, "gpu0 reports warnings", rep.Message)
}

func TestReporter_GetReportReturnsDeepCopy(t *testing.T) {
	fake := &fakeSubprocessor{}
	r := New(fake, "", false, testLogger())

	orig := New(StatusOK)
	orig.CustomFields["count"] = Int(1)
	require.NoError(t, r.UpdateReport("svc", orig))

	got, ok := r.GetReport("svc")
	require.True(t, ok)
	got.CustomFields["count"] = Int(99)

	again, _ := r.GetReport("svc")
	assert.Equal(t, int64(1), again.CustomFields["count"].i)
}

func TestReporter_SaveAndLoadStoreRoundTrips(t *testing.T) {
	fake := &fakeSubprocessor{}
	r := New(fake, "", false, testLogger())

	rep := New(StatusWarning)
	rep.Message = "flaky nic"
	rep.CustomFields["iface"] = String("eth0")
	rep.CustomFields["carrier_changes"] = Int(4)
	rep.CustomFields["observed_at"] = Timestamp(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, r.UpdateReport("network", rep))

	path := t.TempDir() + "/network.bin"
	require.NoError(t, r.SaveStore(path))

	loaded := New(fake, "", false, testLogger())
	require.NoError(t, loaded.LoadStore(path))

	got, ok := loaded.GetReport("network")
	require.True(t, ok)
	assert.Equal(t, StatusWarning, got.Status)
	assert.Equal(t, "flaky nic", got.Message)
	assert.Equal(t, "eth0", got.CustomFields["iface"].s)
	assert.Equal(t, int64(4), got.CustomFields["carrier_changes"].i)
}

func TestReporter_LoadStoreMissingFileIsNotAnError(t *testing.T) {
	fake := &fakeSubprocessor{}
	r := New(fake, "", false, testLogger())
	err := r.LoadStore(t.TempDir() + "/does-not-exist.bin")
	assert.NoError(t, err)
}

func TestReporter_LoadReporterObjMigratesStoreOnly(t *testing.T) {
	fake := &fakeSubprocessor{}
	old := New(fake, "", false, testLogger())
	require.NoError(t, old.UpdateReport("svc", New(StatusError)))

	fresh := New(fake, "", false, testLogger())
	fresh.LoadReporterObj(old)

	got, ok := fresh.GetReport("svc")
	require.True(t, ok)
	assert.Equal(t, StatusError, got.Status)
}

func TestReporter_NotifierArgvCarriesDetailsOnlyWhenNonOK(t *testing.T) {
	fake := &fakeSubprocessor{}
	r := New(fake, "/usr/bin/condition-notifier", true, testLogger())

	ok := NewOK()
	require.NoError(t, r.UpdateReport("svc", ok))
	require.Len(t, fake.calls, 1)
	assert.NotContains(t, fake.calls[0].Argv, "-m")

	errReport := New(StatusError)
	errReport.Message = "boom"
	errReport.Details = "stack trace here"
	require.NoError(t, r.UpdateReport("svc", errReport))
	require.Len(t, fake.calls, 2)
	assert.Contains(t, fake.calls[1].Argv, "-m")
	assert.Contains(t, fake.calls[1].Argv, "--details")
}

func TestReporter_SetBusEmitsHealthStateChangedOnTransition(t *testing.T) {
	fake := &fakeSubprocessor{}
	r := New(fake, "", false, testLogger())
	bus := events.NewBus(testLogger())
	r.SetBus(bus)

	received := make(chan events.Event, 1)
	bus.Subscribe(events.HealthStateChanged, func(e *events.Event) { received <- *e })

	require.NoError(t, r.UpdateReport("gpu", New(StatusError)))

	select {
	case e := <-received:
		assert.Equal(t, events.HealthStateChanged, e.Type)
		assert.Equal(t, "gpu", e.Module)
	case <-time.After(time.Second):
		t.Fatal("expected HealthStateChanged event")
	}
}

func TestReporter_SetBusDoesNotEmitOnDebounce(t *testing.T) {
	fake := &fakeSubprocessor{}
	r := New(fake, "", false, testLogger())
	bus := events.NewBus(testLogger())
	r.SetBus(bus)

	var count int32
	bus.Subscribe(events.HealthStateChanged, func(*events.Event) { atomic.AddInt32(&count, 1) })

	require.NoError(t, r.UpdateReport("gpu", New(StatusError)))
	require.NoError(t, r.UpdateReport("gpu", New(StatusError)))
	time.Sleep(50 * time.Millisecond)

	assert.EqualValues(t, 1, atomic.LoadInt32(&count))
}
