package gpu

import (
	"context"
	"fmt"
	"sync"
)

// FakeClient is an in-process stand-in for the vendor library, used by
// tests and by DCGM_TEST_MODE-style local runs where no GPU hardware is
// present. It never touches a foreign thread; RegisterPolicy's callback is
// invoked synchronously from whatever goroutine calls Fire.
type FakeClient struct {
	mu           sync.Mutex
	connected    bool
	gpuIDs       []string
	policies     map[string]PolicyCallback // keyed by Condition+GPUID
	healthErr    error
	epilogResult EpilogResult
	epilogErr    error
	connectErr   error
}

var _ Client = (*FakeClient)(nil)

// NewFakeClient builds a fake reporting the given GPU IDs. It is not
// connected until Connect is called.
func NewFakeClient(gpuIDs ...string) *FakeClient {
	return &FakeClient{
		gpuIDs:       gpuIDs,
		policies:     make(map[string]PolicyCallback),
		epilogResult: EpilogResult{Healthy: true},
	}
}

func policyKey(p ViolationPolicy) string { return p.Condition + "/" + p.GPUID }

func (f *FakeClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *FakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *FakeClient) RegisterPolicy(policy ViolationPolicy, cb PolicyCallback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return fmt.Errorf("gpu: fake client not connected")
	}
	f.policies[policyKey(policy)] = cb
	return nil
}

func (f *FakeClient) HealthCheck(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}

func (f *FakeClient) RunEpilogDiagnostics(ctx context.Context) (EpilogResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.epilogResult, f.epilogErr
}

func (f *FakeClient) GPUIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.gpuIDs...)
}

// Fire simulates the vendor library invoking a registered policy's
// callback, as if from a foreign thread. Tests use it to drive the
// monitor's aggregation logic deterministically.
func (f *FakeClient) Fire(v Violation) {
	f.mu.Lock()
	cb, ok := f.policies[policyKey(ViolationPolicy{Condition: v.Condition, GPUID: v.GPUID})]
	f.mu.Unlock()
	if ok {
		cb(v)
	}
}

// SetHealthErr controls what HealthCheck returns.
func (f *FakeClient) SetHealthErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthErr = err
}

// SetConnectErr controls what Connect returns.
func (f *FakeClient) SetConnectErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
}

// SetEpilogResult controls RunEpilogDiagnostics's return value.
func (f *FakeClient) SetEpilogResult(res EpilogResult, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.epilogResult = res
	f.epilogErr = err
}

// IsConnected reports the fake's current connection state, for assertions.
func (f *FakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
