package services

import (
	"context"
	"sort"
	"sync"
	"time"
)

// defaultCheckTimeout bounds a single dependency health check
const defaultCheckTimeout = 5 * time.Second

// Registry tracks the dependencies reported by readiness checks
type Registry struct {
	mu           sync.RWMutex
	dependencies map[string]Dependency
	timeout      time.Duration
}

// NewRegistry creates a new dependency registry
func NewRegistry() *Registry {
	return &Registry{
		dependencies: make(map[string]Dependency),
		timeout:      defaultCheckTimeout,
	}
}

// Register adds a dependency under name, replacing any previous one
func (r *Registry) Register(name string, dep Dependency) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dependencies[name] = dep
}

// Get retrieves a dependency by name
func (r *Registry) Get(name string) Dependency {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dependencies[name]
}

// List returns all registered dependency names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.dependencies))
	for name := range r.dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister removes a dependency from the registry
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dependencies, name)
}

// HealthCheckAll checks every dependency concurrently. The result has one
// entry per registered name; nil means healthy.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	deps := make(map[string]Dependency, len(r.dependencies))
	for name, dep := range r.dependencies {
		deps[name] = dep
	}
	timeout := r.timeout
	r.mu.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]error, len(deps))
	)
	for name, dep := range deps {
		wg.Add(1)
		go func(name string, dep Dependency) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			err := dep.HealthCheck(checkCtx)

			mu.Lock()
			results[name] = err
			mu.Unlock()
		}(name, dep)
	}
	wg.Wait()

	return results
}

// Healthy reports whether every result in a HealthCheckAll map is nil
func Healthy(results map[string]error) bool {
	for _, err := range results {
		if err != nil {
			return false
		}
	}
	return true
}
