package process

import (
	"context"
	"sort"
	"sync"
)

// Service represents a named in-process collaborator an internal_service
// step can be dispatched to.
type Service interface {

	// Name returns the name of the Service
	Name() string

	// Invoke the Service synchronously with the step input.
	Invoke(ctx context.Context, input map[string]any) (map[string]any, error)
}

// ServiceFunc is a function adapter for Service
type ServiceFunc struct {
	name string
	fn   func(ctx context.Context, input map[string]any) (map[string]any, error)
}

// NewServiceFunc creates a new ServiceFunc
func NewServiceFunc(name string, fn func(ctx context.Context, input map[string]any) (map[string]any, error)) *ServiceFunc {
	return &ServiceFunc{name: name, fn: fn}
}

func (s *ServiceFunc) Name() string {
	return s.name
}

func (s *ServiceFunc) Invoke(ctx context.Context, input map[string]any) (map[string]any, error) {
	return s.fn(ctx, input)
}

// ServiceRegistry maps service names to services. It is safe for concurrent
// registration and lookup.
type ServiceRegistry struct {
	mutex    sync.RWMutex
	services map[string]Service
}

// NewServiceRegistry creates a registry containing the given services.
func NewServiceRegistry(services ...Service) *ServiceRegistry {
	r := &ServiceRegistry{services: map[string]Service{}}
	for _, service := range services {
		r.services[service.Name()] = service
	}
	return r
}

// Register adds or replaces a service by name.
func (r *ServiceRegistry) Register(service Service) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.services[service.Name()] = service
}

// Get returns a service by name
func (r *ServiceRegistry) Get(name string) (Service, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	service, ok := r.services[name]
	return service, ok
}

// Invoke looks up and invokes a named service with the given input.
func (r *ServiceRegistry) Invoke(ctx context.Context, name string, input map[string]any) (map[string]any, error) {
	service, ok := r.Get(name)
	if !ok {
		return nil, NewProcessError(ErrorTypeStepExecution, "service "+name+" not registered")
	}
	return service.Invoke(ctx, input)
}

// Names returns the names of all registered services, sorted.
func (r *ServiceRegistry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
