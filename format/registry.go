package format

import (
	"sort"
	"strings"
	"sync"

	"github.com/robodata/rdm/errors"
)

// The process-wide adapter registry. Adapters register from init
// functions or early in main; after startup the registry is read-only,
// so lookups during a batch run need no locking guarantees beyond the
// RWMutex here.

// Registry holds format adapters keyed by descriptor id. The zero value
// is not usable; use NewRegistry. Tests create their own registries so
// the global one stays untouched.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. Registering a duplicate id is an error:
// the registry is append-only.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := a.Descriptor().ID
	if id == "" {
		return errors.Configurationf("adapter has empty format id")
	}
	if _, exists := r.adapters[id]; exists {
		return errors.Configurationf("format already registered: %s", id)
	}
	r.adapters[id] = a
	return nil
}

// Lookup returns the adapter for a format id. An unknown id is a
// configuration error: it propagates to the caller as a failed
// top-level call, never as a per-file failure.
func (r *Registry) Lookup(id string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[id]
	if !ok {
		return nil, errors.Configurationf("unsupported format id: %s", id)
	}
	return a, nil
}

// List returns registered format ids in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Detect resolves a path to the adapter whose descriptor claims its
// extension. Directory-store formats register extension-less ids like
// ".zarr" that still match via suffix.
func (r *Registry) Detect(path string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lower := strings.ToLower(path)
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		for _, ext := range r.adapters[id].Descriptor().Extensions {
			if strings.HasSuffix(lower, ext) {
				return r.adapters[id], nil
			}
		}
	}
	return nil, errors.Configurationf("cannot detect format for path: %s", path)
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry, for wiring into
// the conversion engine.
func DefaultRegistry() *Registry { return defaultRegistry }

// Register adds an adapter to the process-wide registry.
func Register(a Adapter) error { return defaultRegistry.Register(a) }

// Lookup resolves a format id against the process-wide registry.
func Lookup(id string) (Adapter, error) { return defaultRegistry.Lookup(id) }

// List returns the process-wide registry's format ids.
func List() []string { return defaultRegistry.List() }

// Detect resolves a path against the process-wide registry.
func Detect(path string) (Adapter, error) { return defaultRegistry.Detect(path) }
