package health

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// persistedStoreVersion is bumped whenever the on-disk shape of
// persistedStore changes incompatibly. It is written with every store;
// LoadStore does not check it, ignores fields it does not know, and returns
// an error for a blob that does not decode.
const persistedStoreVersion = 1

// persistedValue mirrors Value in a msgpack-friendly shape; Value itself
// keeps its fields unexported so it can enforce the tagged-variant
// invariant, which means persistence needs an explicit bridge rather than
// relying on struct tags.
type persistedValue struct {
	Kind  Kind                      `msgpack:"kind"`
	Bool  bool                      `msgpack:"bool,omitempty"`
	Int   int64                     `msgpack:"int,omitempty"`
	Float float64                   `msgpack:"float,omitempty"`
	Str   string                    `msgpack:"str,omitempty"`
	List  []persistedValue          `msgpack:"list,omitempty"`
	Map   map[string]persistedValue `msgpack:"map,omitempty"`
	Time  time.Time                 `msgpack:"time,omitempty"`
}

func toPersisted(v Value) persistedValue {
	switch v.kind {
	case KindBool:
		return persistedValue{Kind: v.kind, Bool: v.b}
	case KindInt:
		return persistedValue{Kind: v.kind, Int: v.i}
	case KindFloat:
		return persistedValue{Kind: v.kind, Float: v.f}
	case KindString:
		return persistedValue{Kind: v.kind, Str: v.s}
	case KindTimestamp:
		return persistedValue{Kind: v.kind, Time: v.ts}
	case KindList:
		out := make([]persistedValue, len(v.list))
		for i, item := range v.list {
			out[i] = toPersisted(item)
		}
		return persistedValue{Kind: v.kind, List: out}
	case KindMap:
		out := make(map[string]persistedValue, len(v.m))
		for k, item := range v.m {
			out[k] = toPersisted(item)
		}
		return persistedValue{Kind: v.kind, Map: out}
	default:
		return persistedValue{Kind: KindNull}
	}
}

func fromPersisted(p persistedValue) Value {
	switch p.Kind {
	case KindBool:
		return Bool(p.Bool)
	case KindInt:
		return Int(p.Int)
	case KindFloat:
		return Float(p.Float)
	case KindString:
		return String(p.Str)
	case KindTimestamp:
		return Timestamp(p.Time)
	case KindList:
		items := make([]Value, len(p.List))
		for i, item := range p.List {
			items[i] = fromPersisted(item)
		}
		return List(items...)
	case KindMap:
		m := make(map[string]Value, len(p.Map))
		for k, item := range p.Map {
			m[k] = fromPersisted(item)
		}
		return Map(m)
	default:
		return Null()
	}
}

type persistedReport struct {
	Status          Status                    `msgpack:"status"`
	Message         string                    `msgpack:"message,omitempty"`
	Description     string                    `msgpack:"description,omitempty"`
	Details         string                    `msgpack:"details,omitempty"`
	Recommendations string                    `msgpack:"recommendations,omitempty"`
	CustomFields    map[string]persistedValue `msgpack:"custom_fields,omitempty"`
	LastUpdate      time.Time                 `msgpack:"last_update"`
}

type persistedStore struct {
	Version int                        `msgpack:"version"`
	Reports map[string]persistedReport `msgpack:"reports"`
}

// SaveStore serializes r's store to path using MessagePack, the stable
// versioned binary encoding spec.md §9 asks for in place of opaque
// pickling. The write targets a temp file in the same directory and
// renames over path, so a crash mid-write never corrupts the previous
// snapshot.
func (r *Reporter) SaveStore(path string) error {
	r.mu.Lock()
	reports := make(map[string]persistedReport, len(r.store))
	for name, rep := range r.store {
		fields := make(map[string]persistedValue, len(rep.CustomFields))
		for k, v := range rep.CustomFields {
			fields[k] = toPersisted(v)
		}
		reports[name] = persistedReport{
			Status:          rep.Status,
			Message:         rep.Message,
			Description:     rep.Description,
			Details:         rep.Details,
			Recommendations: rep.Recommendations,
			CustomFields:    fields,
			LastUpdate:      rep.LastUpdate,
		}
	}
	r.mu.Unlock()

	blob, err := msgpack.Marshal(persistedStore{Version: persistedStoreVersion, Reports: reports})
	if err != nil {
		return fmt.Errorf("health: encode store: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".reporter-*.tmp")
	if err != nil {
		return fmt.Errorf("health: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("health: write store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("health: close store: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("health: rename store into place: %w", err)
	}
	return nil
}

// LoadStore reads path and replaces r's store with its contents. A missing
// file is not an error (the caller starts with an empty Reporter); a
// corrupt or unreadable file returns an error so the caller can log and
// fall back to a fresh Reporter, per spec.md §7 ("Persistence load failure
// ... start the module with a fresh Reporter").
func (r *Reporter) LoadStore(path string) error {
	blob, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("health: read store: %w", err)
	}

	var decoded persistedStore
	if err := msgpack.Unmarshal(blob, &decoded); err != nil {
		return fmt.Errorf("health: decode store: %w", err)
	}

	store := make(map[string]Report, len(decoded.Reports))
	for name, pr := range decoded.Reports {
		fields := make(map[string]Value, len(pr.CustomFields))
		for k, v := range pr.CustomFields {
			fields[k] = fromPersisted(v)
		}
		store[name] = Report{
			Status:          pr.Status,
			Message:         pr.Message,
			Description:     pr.Description,
			Details:         pr.Details,
			Recommendations: pr.Recommendations,
			CustomFields:    fields,
			LastUpdate:      pr.LastUpdate,
		}
	}

	r.mu.Lock()
	r.store = store
	r.mu.Unlock()
	return nil
}
