package flows

import (
	"fmt"
	"sort"
	"sync"

	"github.com/saraichinwag/data-machine-sub002/internal/interfaces"
)

// StepTypeNotFoundError is returned when no implementation is registered for a step type
type StepTypeNotFoundError struct {
	StepType string
}

func (e *StepTypeNotFoundError) Error() string {
	return fmt.Sprintf("step type not found: %s", e.StepType)
}

// StepTypeRegistry maps step type names to implementations
type StepTypeRegistry struct {
	mu    sync.RWMutex
	types map[string]interfaces.StepType
}

// NewStepTypeRegistry creates an empty registry
func NewStepTypeRegistry() *StepTypeRegistry {
	return &StepTypeRegistry{types: make(map[string]interfaces.StepType)}
}

// Register adds a step type. Registering a name twice is an error.
func (r *StepTypeRegistry) Register(name string, stepType interfaces.StepType) error {
	if name == "" {
		return fmt.Errorf("step type name is required")
	}
	if stepType == nil {
		return fmt.Errorf("step type %s has no implementation", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[name]; exists {
		return fmt.Errorf("step type %s already registered", name)
	}
	r.types[name] = stepType
	return nil
}

// Resolve returns the implementation for name or a *StepTypeNotFoundError
func (r *StepTypeRegistry) Resolve(name string) (interfaces.StepType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stepType, ok := r.types[name]
	if !ok {
		return nil, &StepTypeNotFoundError{StepType: name}
	}
	return stepType, nil
}

// Names lists the registered step types
func (r *StepTypeRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
