// Package memory provides an in-process implementation of the process repository.
//
// Every mutation is applied to a copy of the state and swapped in only when it fully
// succeeds, which gives the same all-or-nothing behaviour as a database transaction.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dukex/portal-processes/pkg/models"
	"github.com/dukex/portal-processes/pkg/persistence"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Fault stages passed to a FaultInjector.
const (
	StageApplyStep      = "apply.step"
	StageApplyNextStep  = "apply.next_step"
	StageApplyChecklist = "apply.checklist"
	StageCommit         = "commit"
)

// FaultInjector is called at write stages; a non-nil error aborts the write.
type FaultInjector func(op, stage string) error

// CommitHook observes the state a mutation is about to commit. Returning an error aborts it.
type CommitHook func(snapshot Snapshot) error

type checklistKey struct {
	externalID string
	entryType  models.ChecklistEntryType
}

type state struct {
	processes map[string]models.Process
	steps     map[string]models.ProcessStep
	stepOrder []string
	checklist map[checklistKey]models.ChecklistEntry
}

func newState() *state {
	return &state{
		processes: make(map[string]models.Process),
		steps:     make(map[string]models.ProcessStep),
		checklist: make(map[checklistKey]models.ChecklistEntry),
	}
}

func (s *state) clone() *state {
	return &state{
		processes: maps.Clone(s.processes),
		steps:     maps.Clone(s.steps),
		stepOrder: slices.Clone(s.stepOrder),
		checklist: maps.Clone(s.checklist),
	}
}

// Store is a concurrency-safe in-memory persistence.Persistence.
type Store struct {
	mu     sync.RWMutex
	state  *state
	clock  clockwork.Clock
	table  *models.LegalityTable
	fault  FaultInjector
	commit CommitHook
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for timestamps and lease expiry.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// WithLegalityTable sets the table CreateStep and ApplyStepResult validate against.
func WithLegalityTable(table *models.LegalityTable) Option {
	return func(s *Store) { s.table = table }
}

// WithFaultInjector installs a hook that can fail writes at given stages.
func WithFaultInjector(fault FaultInjector) Option {
	return func(s *Store) { s.fault = fault }
}

// WithCommitHook installs a hook run with the post-write snapshot before it is committed.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) { s.commit = hook }
}

// WithSnapshot seeds the store with previously captured state.
func WithSnapshot(snapshot Snapshot) Option {
	return func(s *Store) { s.state = snapshot.toState() }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	store := &Store{
		state: newState(),
		clock: clockwork.NewRealClock(),
		table: models.DefaultLegalityTable(),
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.snapshot()
}

// HealthCheck always succeeds for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store) Close(_ context.Context) error {
	return nil
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *Store) inject(op, stage string) error {
	if s.fault == nil {
		return nil
	}

	return s.fault(op, stage)
}

// mutate runs fn against a copy of the state and swaps it in when fn and the hooks succeed.
func (s *Store) mutate(op string, fn func(next *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()

	err := fn(next)
	if err != nil {
		return err
	}

	err = s.inject(op, StageCommit)
	if err != nil {
		return err
	}

	if s.commit != nil {
		err = s.commit(next.snapshot())
		if err != nil {
			return fmt.Errorf("failed to commit %s: %w", op, err)
		}
	}

	s.state = next

	return nil
}

// CreateProcess inserts a process with version 1 and no lease, plus its initial TODO steps.
func (s *Store) CreateProcess(_ context.Context, processType models.ProcessType, externalID string, initialSteps ...models.ProcessStepType) (string, error) {
	if !s.table.IsKnownProcessType(processType) {
		return "", persistence.NewProcessError("CreateProcess", "", fmt.Errorf("unknown process type %s", processType))
	}

	process := models.Process{
		ID:          uuid.NewString(),
		Type:        processType,
		ExternalID:  externalID,
		Version:     1,
		DateCreated: s.now(),
	}

	err := s.mutate("CreateProcess", func(next *state) error {
		next.processes[process.ID] = process

		for _, stepType := range initialSteps {
			err := s.table.Check(processType, stepType)
			if err != nil {
				return err
			}

			if !next.hasOpenStep(process.ID, stepType) {
				next.addStep(process.ID, stepType, models.ProcessStepStatusTodo, process.DateCreated)
			}
		}

		return nil
	})
	if err != nil {
		return "", persistence.NewProcessError("CreateProcess", process.ID, err)
	}

	return process.ID, nil
}

// CreateStep inserts a step of a legal type when no open step of that type exists.
func (s *Store) CreateStep(_ context.Context, processID string, stepType models.ProcessStepType, status models.ProcessStepStatus) (string, error) {
	if !status.IsValid() {
		return "", persistence.NewProcessError("CreateStep", processID, persistence.ErrInvalidStatus)
	}

	var stepID string

	err := s.mutate("CreateStep", func(next *state) error {
		process, ok := next.processes[processID]
		if !ok {
			return persistence.ErrProcessNotFound
		}

		err := s.table.Check(process.Type, stepType)
		if err != nil {
			return err
		}

		if !status.IsTerminal() && next.hasOpenStep(processID, stepType) {
			return persistence.ErrStepAlreadyOpen
		}

		stepID = next.addStep(processID, stepType, status, s.now())

		return nil
	})
	if err != nil {
		return "", persistence.NewProcessError("CreateStep", processID, err)
	}

	return stepID, nil
}

// FindDueSteps returns unleased processes with TODO steps of the given types, oldest step first.
func (s *Store) FindDueSteps(_ context.Context, processType models.ProcessType, stepTypes []models.ProcessStepType, limit int) ([]persistence.DueProcess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	index := make(map[string]int)

	var due []persistence.DueProcess

	for _, stepID := range s.state.stepOrder {
		step := s.state.steps[stepID]
		if step.Status != models.ProcessStepStatusTodo || !slices.Contains(stepTypes, step.Type) {
			continue
		}

		process := s.state.processes[step.ProcessID]
		if process.Type != processType || process.IsLeased(now) {
			continue
		}

		position, seen := index[process.ID]
		if !seen {
			if limit > 0 && len(due) >= limit {
				continue
			}

			position = len(due)
			index[process.ID] = position
			due = append(due, persistence.DueProcess{Process: cloneProcess(process)})
		}

		due[position].StepIDs = append(due[position].StepIDs, step.ID)
	}

	return due, nil
}

// TryAcquireLease leases the process when the version matches and no live lease exists.
func (s *Store) TryAcquireLease(_ context.Context, processID string, expectedVersion int64, leaseDuration time.Duration) (int64, error) {
	var version int64

	err := s.mutate("TryAcquireLease", func(next *state) error {
		process, ok := next.processes[processID]
		if !ok {
			return persistence.ErrProcessNotFound
		}

		now := s.now()
		if process.Version != expectedVersion || process.IsLeased(now) {
			return persistence.ErrConflict
		}

		expiry := now.Add(leaseDuration)
		process.LockExpiryDate = &expiry
		process.Version++
		next.processes[processID] = process
		version = process.Version

		return nil
	})
	if err != nil {
		return 0, persistence.NewProcessError("TryAcquireLease", processID, err)
	}

	return version, nil
}

// ApplyStepResult records the transition, its next steps and checklist entries atomically.
func (s *Store) ApplyStepResult(_ context.Context, processID string, expectedVersion int64, transition persistence.StepTransition) (int64, error) {
	const op = "ApplyStepResult"

	if !transition.Status.IsValid() {
		return 0, persistence.NewProcessError(op, processID, persistence.ErrInvalidStatus)
	}

	var version int64

	err := s.mutate(op, func(next *state) error {
		process, ok := next.processes[processID]
		if !ok {
			return persistence.ErrProcessNotFound
		}

		if process.Version != expectedVersion {
			return persistence.ErrConflict
		}

		step, ok := next.steps[transition.StepID]
		if !ok || step.ProcessID != processID {
			return persistence.ErrStepNotFound
		}

		if !step.IsOpen() {
			return fmt.Errorf("%w: step %s is already %s", persistence.ErrConflict, step.ID, step.Status)
		}

		for _, stepType := range transition.NextSteps {
			err := s.table.Check(process.Type, stepType)
			if err != nil {
				return err
			}
		}

		err := s.inject(op, StageApplyStep)
		if err != nil {
			return err
		}

		now := s.now()
		step.Status = transition.Status
		step.Message = cloneString(transition.Message)
		step.DateLastChanged = &now
		next.steps[step.ID] = step

		for _, stepType := range transition.NextSteps {
			if next.hasOpenStep(processID, stepType) {
				continue
			}

			err := s.inject(op, StageApplyNextStep)
			if err != nil {
				return err
			}

			next.addStep(processID, stepType, models.ProcessStepStatusTodo, now)
		}

		for _, entry := range transition.Checklist {
			err := s.inject(op, StageApplyChecklist)
			if err != nil {
				return err
			}

			key := checklistKey{externalID: entry.ExternalID, entryType: entry.Type}
			if existing, found := next.checklist[key]; found {
				entry.DateCreated = existing.DateCreated
			} else if entry.DateCreated.IsZero() {
				entry.DateCreated = now
			}

			entry.DateLastChanged = &now
			next.checklist[key] = entry
		}

		process.LockExpiryDate = nil
		process.Version++
		next.processes[processID] = process
		version = process.Version

		return nil
	})
	if err != nil {
		return 0, persistence.NewProcessError(op, processID, err)
	}

	return version, nil
}

// ReleaseLease clears the lease when the version matches.
func (s *Store) ReleaseLease(_ context.Context, processID string, expectedVersion int64) (int64, error) {
	var version int64

	err := s.mutate("ReleaseLease", func(next *state) error {
		process, ok := next.processes[processID]
		if !ok {
			return persistence.ErrProcessNotFound
		}

		if process.Version != expectedVersion {
			return persistence.ErrConflict
		}

		process.LockExpiryDate = nil
		process.Version++
		next.processes[processID] = process
		version = process.Version

		return nil
	})
	if err != nil {
		return 0, persistence.NewProcessError("ReleaseLease", processID, err)
	}

	return version, nil
}

// ProcessByID returns a copy of the process.
func (s *Store) ProcessByID(_ context.Context, processID string) (*models.Process, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	process, ok := s.state.processes[processID]
	if !ok {
		return nil, persistence.NewProcessError("ProcessByID", processID, persistence.ErrProcessNotFound)
	}

	process = cloneProcess(process)

	return &process, nil
}

// StepsByProcess returns the steps of the process in creation order.
func (s *Store) StepsByProcess(_ context.Context, processID string) ([]models.ProcessStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.state.processes[processID]; !ok {
		return nil, persistence.NewProcessError("StepsByProcess", processID, persistence.ErrProcessNotFound)
	}

	var steps []models.ProcessStep

	for _, stepID := range s.state.stepOrder {
		step := s.state.steps[stepID]
		if step.ProcessID == processID {
			steps = append(steps, cloneStep(step))
		}
	}

	return steps, nil
}

// CountOpenSteps counts TODO and IN_PROGRESS steps.
func (s *Store) CountOpenSteps(_ context.Context) (map[models.ProcessStepStatus]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := map[models.ProcessStepStatus]int64{
		models.ProcessStepStatusTodo:       0,
		models.ProcessStepStatusInProgress: 0,
	}

	for _, step := range s.state.steps {
		if step.IsOpen() {
			counts[step.Status]++
		}
	}

	return counts, nil
}

// ChecklistEntries returns the checklist entries of the business entity.
func (s *Store) ChecklistEntries(_ context.Context, externalID string) ([]models.ChecklistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []models.ChecklistEntry

	for key, entry := range s.state.checklist {
		if key.externalID == externalID {
			entries = append(entries, entry)
		}
	}

	slices.SortFunc(entries, func(a, b models.ChecklistEntry) int {
		return a.DateCreated.Compare(b.DateCreated)
	})

	return entries, nil
}

func (s *state) hasOpenStep(processID string, stepType models.ProcessStepType) bool {
	for _, step := range s.steps {
		if step.ProcessID == processID && step.Type == stepType && step.IsOpen() {
			return true
		}
	}

	return false
}

func (s *state) addStep(processID string, stepType models.ProcessStepType, status models.ProcessStepStatus, now time.Time) string {
	step := models.ProcessStep{
		ID:          uuid.NewString(),
		ProcessID:   processID,
		Type:        stepType,
		Status:      status,
		DateCreated: now,
	}

	s.steps[step.ID] = step
	s.stepOrder = append(s.stepOrder, step.ID)

	return step.ID
}

func cloneProcess(process models.Process) models.Process {
	if process.LockExpiryDate != nil {
		expiry := *process.LockExpiryDate
		process.LockExpiryDate = &expiry
	}

	return process
}

func cloneStep(step models.ProcessStep) models.ProcessStep {
	step.Message = cloneString(step.Message)

	if step.DateLastChanged != nil {
		changed := *step.DateLastChanged
		step.DateLastChanged = &changed
	}

	return step
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}

	copied := *value

	return &copied
}
