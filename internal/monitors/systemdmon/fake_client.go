package systemdmon

import (
	"context"
	"sync"
)

// FakeClient drives the monitor's state-transition logic deterministically
// in tests, without a real DBus connection.
type FakeClient struct {
	mu      sync.Mutex
	initial map[string]UnitChange
	updates chan UnitChange
	errs    chan error
}

var _ Client = (*FakeClient)(nil)

// NewFakeClient builds a fake with the given initial per-service states.
func NewFakeClient(initial map[string]UnitChange) *FakeClient {
	return &FakeClient{
		initial: initial,
		updates: make(chan UnitChange, 32),
		errs:    make(chan error, 1),
	}
}

func (f *FakeClient) Connect(ctx context.Context) error { return nil }
func (f *FakeClient) Close() error                      { close(f.updates); return nil }

func (f *FakeClient) InitialState(ctx context.Context, service string) (UnitChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if uc, ok := f.initial[service]; ok {
		return uc, nil
	}
	return UnitChange{Service: service, NewlyLoaded: true}, nil
}

func (f *FakeClient) Subscribe(ctx context.Context) (<-chan UnitChange, <-chan error) {
	return f.updates, f.errs
}

// Push delivers uc as though it arrived over DBus.
func (f *FakeClient) Push(uc UnitChange) {
	f.updates <- uc
}
