// Package persistence provides the storage contract for processes, process steps and checklist entries.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/portal-processes/pkg/models"
)

// DueProcess is a process that has runnable steps and no live lease.
type DueProcess struct {
	Process models.Process
	// StepIDs are the due TODO steps, oldest first.
	StepIDs []string
}

// StepTransition is the outcome of one step applied atomically by ApplyStepResult.
type StepTransition struct {
	StepID  string
	Status  models.ProcessStepStatus
	Message *string
	// NextSteps are created as TODO. Types that already have an open step are skipped.
	NextSteps []models.ProcessStepType
	// Checklist entries are inserted or replaced, keyed by (ExternalID, Type).
	Checklist []models.ChecklistEntry
}

// ProcessRepository is the contract the engine runs on. Every mutation of a process row
// is gated by the version the caller last observed.
type ProcessRepository interface {
	// CreateProcess inserts a process with a fresh version and no lease, together with a TODO
	// step per initial step type. Nothing is written when any initial step is illegal.
	CreateProcess(ctx context.Context, processType models.ProcessType, externalID string, initialSteps ...models.ProcessStepType) (string, error)

	// CreateStep inserts a step after checking it against the legality table and the
	// single-open-step invariant.
	CreateStep(ctx context.Context, processID string, stepType models.ProcessStepType, status models.ProcessStepStatus) (string, error)

	// FindDueSteps returns up to limit unleased processes of processType with TODO steps of
	// the given types, oldest step first.
	FindDueSteps(ctx context.Context, processType models.ProcessType, stepTypes []models.ProcessStepType, limit int) ([]DueProcess, error)

	// TryAcquireLease sets the lease expiry to now+leaseDuration when the stored version
	// equals expectedVersion and no live lease exists. Returns ErrConflict otherwise.
	TryAcquireLease(ctx context.Context, processID string, expectedVersion int64, leaseDuration time.Duration) (int64, error)

	// ApplyStepResult records a step outcome, creates next steps, upserts checklist entries
	// and clears the lease in one atomic, version-gated write.
	ApplyStepResult(ctx context.Context, processID string, expectedVersion int64, transition StepTransition) (int64, error)

	// ReleaseLease clears the lease without recording a step outcome.
	ReleaseLease(ctx context.Context, processID string, expectedVersion int64) (int64, error)

	ProcessByID(ctx context.Context, processID string) (*models.Process, error)
	// StepsByProcess returns every step of the process, oldest first.
	StepsByProcess(ctx context.Context, processID string) ([]models.ProcessStep, error)
	// CountOpenSteps counts TODO and IN_PROGRESS steps across all processes.
	CountOpenSteps(ctx context.Context) (map[models.ProcessStepStatus]int64, error)
}

// ChecklistRepository reads checklist entries touched by checklist handlers.
type ChecklistRepository interface {
	ChecklistEntries(ctx context.Context, externalID string) ([]models.ChecklistEntry, error)
}

// Persistence is a complete storage backend.
type Persistence interface {
	ProcessRepository
	ChecklistRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
