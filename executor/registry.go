package executor

import (
	"fmt"
	"slices"
	"sync"

	"github.com/xraph/mediaflow"
	"github.com/xraph/mediaflow/job"
)

// Registry maps job types to executors. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	executors map[job.Type]Executor
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[job.Type]Executor)}
}

// Register sets the executor for t, replacing any previous one.
func (r *Registry) Register(t job.Type, e Executor) error {
	if !t.Valid() {
		return fmt.Errorf("executor: register: unknown job type %q", t)
	}
	if e == nil {
		return fmt.Errorf("executor: register %s: nil executor", t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[t] = e
	return nil
}

// Get returns the executor for t, or ErrUnknownJobType.
func (r *Registry) Get(t job.Type) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", mediaflow.ErrUnknownJobType, t)
	}
	return e, nil
}

// Types returns the registered job types in pipeline order.
func (r *Registry) Types() []job.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]job.Type, 0, len(r.executors))
	for _, t := range job.Types() {
		if _, ok := r.executors[t]; ok {
			types = append(types, t)
		}
	}
	return slices.Clip(types)
}
