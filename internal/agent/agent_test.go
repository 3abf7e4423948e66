package agent

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeops/healthagent/internal/config"
	"github.com/nodeops/healthagent/internal/health"
	"github.com/nodeops/healthagent/internal/scheduler"
)

func testScheduler() *scheduler.Scheduler {
	s := scheduler.New(zerolog.New(nil).Level(zerolog.Disabled), nil)
	s.Start()
	return s
}

type fakeMonitor struct {
	name     string
	reporter *health.Reporter
}

func newFakeMonitor(name string) *fakeMonitor {
	s := testScheduler()
	return &fakeMonitor{name: name, reporter: health.New(s, "", false, testLogger())}
}

func (m *fakeMonitor) Name() string                     { return m.name }
func (m *fakeMonitor) Create(ctx context.Context) error { return nil }
func (m *fakeMonitor) Reporter() *health.Reporter       { return m.reporter }

func (m *fakeMonitor) StatusHandlers() map[string]StatusHandler {
	return map[string]StatusHandler{
		"ping": func() (map[string]interface{}, error) {
			return map[string]interface{}{"ok": true}, nil
		},
	}
}

func (m *fakeMonitor) EpilogHandlers() map[string]EpilogHandler {
	return map[string]EpilogHandler{
		"diag": func(ctx context.Context) (map[string]interface{}, error) {
			return map[string]interface{}{"checked": true}, nil
		},
	}
}

func testLogger() zerolog.Logger { return zerolog.New(nil).Level(zerolog.Disabled) }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Workdir:    dir,
		Rundir:     dir + "/run",
		SocketPath: dir + "/run/health.sock",
	}
}

func TestAgent_StatusAggregatesRegisteredMonitors(t *testing.T) {
	a := New(testConfig(t), testLogger(), nil)
	a.RegisterMonitor(context.Background(), newFakeMonitor("gpu"))
	a.RegisterMonitor(context.Background(), newFakeMonitor("network"))

	status := a.Status()
	require.Contains(t, status, "gpu")
	require.Contains(t, status, "network")

	gpu := status["gpu"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"ok": true}, gpu["ping"])
}

func TestAgent_EpilogAggregatesRegisteredMonitors(t *testing.T) {
	a := New(testConfig(t), testLogger(), nil)
	a.RegisterMonitor(context.Background(), newFakeMonitor("gpu"))

	epilog := a.Epilog(context.Background())
	gpu := epilog["gpu"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"checked": true}, gpu["diag"])
}

func TestAgent_Version(t *testing.T) {
	a := New(testConfig(t), testLogger(), nil)
	assert.Equal(t, Version, a.Version())
}

// TestAgent_ClientProtocol exercises spec.md §8 scenario 8: connect, send a
// command, half-close, read until EOF, parse as JSON.
func TestAgent_ClientProtocol(t *testing.T) {
	a := New(testConfig(t), testLogger(), nil)
	a.RegisterMonitor(context.Background(), newFakeMonitor("gpu"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = a.Run(ctx)
		close(done)
	}()

	// Give Run a moment to bind the socket.
	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("unix", a.cfg.SocketPath)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)

	_, err = conn.Write([]byte("status"))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.UnixConn).CloseWrite())

	body, err := io.ReadAll(conn)
	require.NoError(t, err)
	conn.Close()

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &parsed))
	assert.Contains(t, parsed, "gpu")

	cancel()
	<-done
}

func TestAgent_InvalidCommandClosesWithoutResponse(t *testing.T) {
	a := New(testConfig(t), testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = a.Run(ctx)
		close(done)
	}()

	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("unix", a.cfg.SocketPath)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, err)

	_, err = conn.Write([]byte("not-a-real-command"))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.UnixConn).CloseWrite())

	body, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Empty(t, body)
	conn.Close()

	cancel()
	<-done
}
