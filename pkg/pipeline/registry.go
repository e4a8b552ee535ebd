package pipeline

import (
	"fmt"
	"slices"
	"sync"

	"krakensync/pkg/core"
	"krakensync/pkg/futures"
)

// Registry is a thread-safe set of extractors keyed by resource. A resource
// whose extractor could not be built keeps its construction error so the run
// can report it as a failed job.
type Registry struct {
	mu         sync.RWMutex
	extractors map[core.Resource]futures.Extractor
	failures   map[core.Resource]error
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		extractors: make(map[core.Resource]futures.Extractor),
		failures:   make(map[core.Resource]error),
	}
}

// BuildRegistry constructs an extractor for every resource using getter.
func BuildRegistry(getter futures.Getter, resources []core.Resource, opts ...futures.ResourceOption) *Registry {
	r := NewRegistry()
	for _, resource := range resources {
		ex, err := futures.New(resource, getter, opts...)
		if err != nil {
			r.Fail(resource, err)
			continue
		}
		r.Register(ex)
	}
	return r
}

// Register adds ex under its resource, replacing any previous entry.
func (r *Registry) Register(ex futures.Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[ex.Resource()] = ex
	delete(r.failures, ex.Resource())
}

// Fail records that resource could not be set up.
func (r *Registry) Fail(resource core.Resource, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[resource] = err
	delete(r.extractors, resource)
}

// Get returns the extractor for resource, or the reason it is unavailable.
func (r *Registry) Get(resource core.Resource) (futures.Extractor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err, failed := r.failures[resource]; failed {
		return nil, err
	}
	ex, exists := r.extractors[resource]
	if !exists {
		return nil, fmt.Errorf("%w: %q not registered", core.ErrUnknownResource, resource)
	}
	return ex, nil
}

// Resources returns every registered or failed resource in extraction order.
func (r *Registry) Resources() []core.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]core.Resource, 0, len(r.extractors)+len(r.failures))
	for _, resource := range core.AllResources {
		_, ok := r.extractors[resource]
		_, failed := r.failures[resource]
		if ok || failed {
			out = append(out, resource)
		}
	}
	return out
}

// Exists checks whether resource has a usable extractor.
func (r *Registry) Exists(resource core.Resource) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.extractors[resource]
	return exists
}

// Unregister removes resource from the registry.
func (r *Registry) Unregister(resource core.Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.extractors, resource)
	delete(r.failures, resource)
}

// Failures returns the resources that could not be set up, sorted by name.
func (r *Registry) Failures() []core.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Resource, 0, len(r.failures))
	for resource := range r.failures {
		out = append(out, resource)
	}
	slices.Sort(out)
	return out
}
