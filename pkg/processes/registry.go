package processes

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dukex/portal-processes/pkg/models"
)

// Registry maps executable step types to their handlers.
type Registry struct {
	table    *models.LegalityTable
	mu       sync.RWMutex
	handlers map[models.ProcessStepType]Handler
}

// NewRegistry creates an empty registry validating against table.
func NewRegistry(table *models.LegalityTable) *Registry {
	return &Registry{
		table:    table,
		handlers: make(map[models.ProcessStepType]Handler),
	}
}

// Register binds handler to stepType.
func (r *Registry) Register(stepType models.ProcessStepType, handler Handler) error {
	if !r.table.IsExecutable(stepType) {
		return fmt.Errorf("%w: %s", ErrNotExecutable, stepType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[stepType]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerAlreadyRegistered, stepType)
	}

	r.handlers[stepType] = handler

	return nil
}

// RegisterFunc binds a function to stepType.
func (r *Registry) RegisterFunc(stepType models.ProcessStepType, fn func(ctx context.Context, step StepContext) (StepResult, error)) error {
	return r.Register(stepType, HandlerFunc(fn))
}

// Handler returns the handler registered for stepType.
func (r *Registry) Handler(stepType models.ProcessStepType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[stepType]

	return handler, ok
}

// StepTypes returns the registered step types, sorted.
func (r *Registry) StepTypes() []models.ProcessStepType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stepTypes := make([]models.ProcessStepType, 0, len(r.handlers))
	for stepType := range r.handlers {
		stepTypes = append(stepTypes, stepType)
	}

	slices.Sort(stepTypes)

	return stepTypes
}
