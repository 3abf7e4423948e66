package kmsg

import (
	"context"
	"sync"
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

// fakeSource feeds ReadLine from a queue of canned raw lines. Its fd is
// never opened; tests call the monitor's onReadable directly instead of
// going through the scheduler's RegisterReader path.
type fakeSource struct {
	mu    sync.Mutex
	lines []string
	fd    int
}

func (f *fakeSource) Fd() int { return f.fd }

func (f *fakeSource) ReadLine() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.lines) == 0 {
		return "", nil
	}
	line := f.lines[0]
	f.lines = f.lines[1:]
	return line, nil
}

func (f *fakeSource) push(line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, line)
}

func (f *fakeSource) Close() error { return nil }

func rawLine(level int, seq uint64, usec uint64, msg string) string {
	return toHeader(level, seq, usec) + ";" + msg + "\n"
}

func toHeader(level int, seq, usec uint64) string {
	return itoa(level) + "," + utoa(seq) + "," + utoa(usec) + ",-"
}

func itoa(i int) string { return utoa(uint64(i)) }

func utoa(u uint64) string {
	if u == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for u > 0 {
		pos--
		buf[pos] = byte('0' + u%10)
		u /= 10
	}
	return string(buf[pos:])
}

func TestMonitor_OnReadableKeepsCriticalRecentEntries(t *testing.T) {
	sched := testScheduler()
	defer sched.Stop()

	boot := time.Now().Add(-24 * time.Hour)
	src := &fakeSource{}
	reporter := health.New(sched, "", false, testLogger())
	m := New(src, boot, reporter, sched, testLogger())
	require.NoError(t, m.Create(context.Background()))

	src.push(rawLine(1, 1, uint64(24*time.Hour/time.Microsecond), "emergency condition on GPU 0"))
	m.onReadable()

	rep, ok := reporter.GetReport(reportName)
	require.True(t, ok)
	assert.Equal(t, health.StatusError, rep.Status)
	assert.Contains(t, rep.Details, "emergency condition on GPU 0")
}

func TestMonitor_OnReadableDropsLowSeverity(t *testing.T) {
	sched := testScheduler()
	defer sched.Stop()

	boot := time.Now().Add(-time.Hour)
	src := &fakeSource{}
	reporter := health.New(sched, "", false, testLogger())
	m := New(src, boot, reporter, sched, testLogger())
	require.NoError(t, m.Create(context.Background()))

	// level 6 (info) is below the crit threshold and must be dropped.
	src.push(rawLine(6, 1, uint64(30*time.Minute/time.Microsecond), "routine notice"))
	m.onReadable()

	_, ok := reporter.GetReport(reportName)
	assert.False(t, ok, "low-severity entries must not produce a report")
}

func TestMonitor_OnReadableDropsStaleEntries(t *testing.T) {
	sched := testScheduler()
	defer sched.Stop()

	boot := time.Now().Add(-48 * time.Hour)
	src := &fakeSource{}
	reporter := health.New(sched, "", false, testLogger())
	m := New(src, boot, reporter, sched, testLogger())
	require.NoError(t, m.Create(context.Background()))

	// boot is 48h ago; 46h since boot puts the entry's wall time 2h in the
	// past, outside the 1h retention window.
	staleUsec := uint64((46 * time.Hour) / time.Microsecond)
	src.push(rawLine(0, 1, staleUsec, "old emergency"))
	m.onReadable()

	_, ok := reporter.GetReport(reportName)
	assert.False(t, ok, "entries older than the retention window must not produce a report")
}

func TestMonitor_OnReadableIgnoresMalformedLines(t *testing.T) {
	sched := testScheduler()
	defer sched.Stop()

	boot := time.Now()
	src := &fakeSource{}
	reporter := health.New(sched, "", false, testLogger())
	m := New(src, boot, reporter, sched, testLogger())
	require.NoError(t, m.Create(context.Background()))

	src.push("garbage no semicolon")
	m.onReadable()

	_, ok := reporter.GetReport(reportName)
	assert.False(t, ok)
}

func TestMonitor_StatusHandlerReflectsReporter(t *testing.T) {
	sched := testScheduler()
	defer sched.Stop()

	src := &fakeSource{}
	reporter := health.New(sched, "", false, testLogger())
	m := New(src, time.Now(), reporter, sched, testLogger())
	require.NoError(t, reporter.UpdateReport(reportName, health.NewOK()))

	handlers := m.StatusHandlers()
	out, err := handlers["summary"]()
	require.NoError(t, err)
	assert.Equal(t, "OK", out["status"])
}
