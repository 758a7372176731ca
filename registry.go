package process

import (
	"io"
	"log/slog"
	"sort"
	"sync"
)

// Registry stores named process definitions. Registration is last-write-wins:
// re-registering an ID overwrites the prior definition with a logged warning,
// never an error.
type Registry struct {
	mutex       sync.RWMutex
	definitions map[string]*ProcessDefinition
	logger      *slog.Logger
}

// NewRegistry creates an empty process definition registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		definitions: map[string]*ProcessDefinition{},
		logger:      logger,
	}
}

// Register validates and stores a definition. A definition that fails
// validation is rejected and the registry is left unchanged.
func (r *Registry) Register(def *ProcessDefinition) error {
	if def == nil {
		return NewValidationError("process definition required")
	}
	if err := def.Validate(); err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.definitions[def.ID]; exists {
		r.logger.Warn("overwriting process definition",
			"process_id", def.ID,
			"process_name", def.Name)
	}
	r.definitions[def.ID] = def
	return nil
}

// Get returns the definition registered under id.
func (r *Registry) Get(id string) (*ProcessDefinition, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	def, ok := r.definitions[id]
	if !ok {
		return nil, NewNotFoundError("process %q not registered", id)
	}
	return def, nil
}

// IDs returns the IDs of all registered definitions, sorted.
func (r *Registry) IDs() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ids := make([]string, 0, len(r.definitions))
	for id := range r.definitions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
