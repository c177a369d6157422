package processes

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dukex/portal-processes/pkg/eventbus"
	"github.com/dukex/portal-processes/pkg/events"
	"github.com/dukex/portal-processes/pkg/models"
	"github.com/dukex/portal-processes/pkg/persistence"
	"github.com/jonboulle/clockwork"
)

// Outcome is an externally reported result of a manual or handed-off step.
type Outcome struct {
	Status    models.ProcessStepStatus
	Message   string
	Next      []models.ProcessStepType
	Retryable bool
	Checklist *ChecklistMutation
}

// RetriggerResult is the open step a retrigger resolved to.
type RetriggerResult struct {
	Step models.ProcessStep
	// Created is false when an equivalent open step already existed.
	Created bool
}

// CompletionResult describes a committed external completion.
type CompletionResult struct {
	StepID    string
	Status    models.ProcessStepStatus
	NextSteps []models.ProcessStepType
	Version   int64
}

// ProcessView is a process with its steps and checklist.
type ProcessView struct {
	Process   models.Process
	Steps     []models.ProcessStep
	Checklist []models.ChecklistEntry
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithFollowUps sets the steps scheduled when a step type is completed DONE without explicit next steps.
func WithFollowUps(followUps map[models.ProcessStepType][]models.ProcessStepType) GatewayOption {
	return func(g *Gateway) { g.followUps = followUps }
}

func WithGatewayPublisher(publisher eventbus.EventPublisher) GatewayOption {
	return func(g *Gateway) { g.publisher = publisher }
}

func WithGatewayClock(clock clockwork.Clock) GatewayOption {
	return func(g *Gateway) { g.clock = clock }
}

// Gateway is the operator and integration entry point: it starts processes, retriggers
// steps and completes steps that wait for the outside world.
type Gateway struct {
	store     Store
	scheduler *Scheduler
	leases    *LeaseManager
	table     *models.LegalityTable
	logger    *slog.Logger
	followUps map[models.ProcessStepType][]models.ProcessStepType
	publisher eventbus.EventPublisher
	clock     clockwork.Clock
}

func NewGateway(store Store, scheduler *Scheduler, leases *LeaseManager, logger *slog.Logger, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		store:     store,
		scheduler: scheduler,
		leases:    leases,
		table:     scheduler.Table(),
		logger:    logger.With("module", "gateway"),
		publisher: eventbus.NoopPublisher{},
		clock:     clockwork.NewRealClock(),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Start creates a process of processType with the given initial TODO steps.
// The process and its steps are written in one repository call.
func (g *Gateway) Start(ctx context.Context, processType models.ProcessType, externalID string, initialSteps ...models.ProcessStepType) (ProcessView, error) {
	if len(initialSteps) == 0 {
		return ProcessView{}, ErrNoInitialSteps
	}

	var planned []models.ProcessStepType

	for _, stepType := range initialSteps {
		err := g.table.Check(processType, stepType)
		if err != nil {
			return ProcessView{}, err
		}

		if !slices.Contains(planned, stepType) {
			planned = append(planned, stepType)
		}
	}

	processID, err := g.store.CreateProcess(ctx, processType, externalID, planned...)
	if err != nil {
		return ProcessView{}, fmt.Errorf("failed to create process: %w", err)
	}

	view, err := g.Describe(ctx, processID)
	if err != nil {
		return ProcessView{}, err
	}

	g.logger.InfoContext(ctx, "process started",
		"process_id", processID,
		"process_type", processType,
		"external_id", externalID,
		"steps", planned,
	)

	g.publish(ctx, processID, events.NewProcessStarted(view.Process, planned, g.clock.Now().UTC()))

	return view, nil
}

// Describe returns the process with all of its steps and checklist entries.
func (g *Gateway) Describe(ctx context.Context, processID string) (ProcessView, error) {
	process, err := g.store.ProcessByID(ctx, processID)
	if err != nil {
		return ProcessView{}, fmt.Errorf("failed to load process: %w", err)
	}

	steps, err := g.store.StepsByProcess(ctx, processID)
	if err != nil {
		return ProcessView{}, fmt.Errorf("failed to load steps: %w", err)
	}

	view := ProcessView{Process: *process, Steps: steps}

	if process.ExternalID != "" {
		view.Checklist, err = g.store.ChecklistEntries(ctx, process.ExternalID)
		if err != nil {
			return ProcessView{}, fmt.Errorf("failed to load checklist: %w", err)
		}
	}

	return view, nil
}

// Retrigger schedules stepType again. Failed steps are left untouched; the new step is the
// retrigger variant of stepType when one exists. Retriggering while an equivalent step is
// open returns that step.
func (g *Gateway) Retrigger(ctx context.Context, processID string, stepType models.ProcessStepType) (RetriggerResult, error) {
	process, err := g.store.ProcessByID(ctx, processID)
	if err != nil {
		return RetriggerResult{}, fmt.Errorf("failed to load process: %w", err)
	}

	target, err := g.scheduler.RetriggerTarget(process.Type, stepType)
	if err != nil {
		return RetriggerResult{}, err
	}

	logger := g.logger.With("process_id", processID, "step_type", stepType, "target_step_type", target)

	steps, err := g.store.StepsByProcess(ctx, processID)
	if err != nil {
		return RetriggerResult{}, fmt.Errorf("failed to load steps: %w", err)
	}

	if existing, found := g.openEquivalent(steps, target); found {
		if process.IsLeased(g.clock.Now()) {
			return RetriggerResult{}, persistence.NewProcessError("Retrigger", processID, ErrStepInProgress)
		}

		logger.InfoContext(ctx, "retrigger resolved to open step", "step_id", existing.ID)

		return RetriggerResult{Step: existing}, nil
	}

	stepID, err := g.store.CreateStep(ctx, processID, target, models.ProcessStepStatusTodo)
	if persistence.IsStepAlreadyOpen(err) {
		steps, err = g.store.StepsByProcess(ctx, processID)
		if err != nil {
			return RetriggerResult{}, fmt.Errorf("failed to load steps: %w", err)
		}

		if existing, found := g.openEquivalent(steps, target); found {
			return RetriggerResult{Step: existing}, nil
		}

		return RetriggerResult{}, persistence.NewProcessError("Retrigger", processID, persistence.ErrConflict)
	}

	if err != nil {
		return RetriggerResult{}, fmt.Errorf("failed to create retrigger step: %w", err)
	}

	steps, err = g.store.StepsByProcess(ctx, processID)
	if err != nil {
		return RetriggerResult{}, fmt.Errorf("failed to load steps: %w", err)
	}

	idx := slices.IndexFunc(steps, func(step models.ProcessStep) bool { return step.ID == stepID })
	if idx < 0 {
		return RetriggerResult{}, persistence.NewProcessError("Retrigger", processID, persistence.ErrStepNotFound)
	}

	created := steps[idx]

	logger.InfoContext(ctx, "step retriggered", "step_id", created.ID)
	g.publish(ctx, processID, events.NewProcessStepRetriggered(*process, created, stepType, true, g.clock.Now().UTC()))

	return RetriggerResult{Step: created, Created: true}, nil
}

// openEquivalent finds an open step of target or of the step type target re-enters.
func (g *Gateway) openEquivalent(steps []models.ProcessStep, target models.ProcessStepType) (models.ProcessStep, bool) {
	if step, found := models.OpenStepOfType(steps, target); found {
		return step, true
	}

	original, ok := g.table.RetriggeredStepOf(target)
	if !ok {
		return models.ProcessStep{}, false
	}

	return models.OpenStepOfType(steps, original)
}

// Complete records the outcome of the open step of stepType. Only manual steps and steps a
// handler left IN_PROGRESS can be completed this way.
func (g *Gateway) Complete(ctx context.Context, processID string, stepType models.ProcessStepType, outcome Outcome) (CompletionResult, error) {
	if !outcome.Status.IsValid() || !outcome.Status.IsTerminal() {
		return CompletionResult{}, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome.Status)
	}

	process, err := g.store.ProcessByID(ctx, processID)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("failed to load process: %w", err)
	}

	err = g.table.Check(process.Type, stepType)
	if err != nil {
		return CompletionResult{}, err
	}

	next := outcome.Next
	if outcome.Status == models.ProcessStepStatusDone && len(next) == 0 {
		next = g.followUps[stepType]
	}

	for _, nextType := range next {
		err = g.table.Check(process.Type, nextType)
		if err != nil {
			return CompletionResult{}, err
		}
	}

	steps, err := g.store.StepsByProcess(ctx, processID)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("failed to load steps: %w", err)
	}

	step, found := models.OpenStepOfType(steps, stepType)
	if !found {
		return CompletionResult{}, persistence.NewProcessError("Complete", processID, persistence.ErrStepNotFound)
	}

	if !g.table.IsManual(stepType) && step.Status != models.ProcessStepStatusInProgress {
		return CompletionResult{}, fmt.Errorf("%w: %s is %s", ErrStepNotCompletable, stepType, step.Status)
	}

	lease, err := g.leases.Acquire(ctx, *process)
	if err != nil {
		return CompletionResult{}, err
	}

	process.Version = lease.Version

	result := StepResult{
		Status:    outcome.Status,
		Next:      next,
		Retryable: outcome.Retryable,
		Checklist: outcome.Checklist,
	}
	if outcome.Message != "" {
		result = result.WithMessage(outcome.Message)
	}

	transition, err := g.scheduler.Plan(*process, step, result, steps)
	if err != nil {
		g.release(ctx, lease)

		return CompletionResult{}, err
	}

	if outcome.Checklist != nil && process.ExternalID != "" {
		entries, err := g.store.ChecklistEntries(ctx, process.ExternalID)
		if err != nil {
			g.release(ctx, lease)

			return CompletionResult{}, fmt.Errorf("failed to load checklist: %w", err)
		}

		transition.Checklist = checklistEntries(process.ExternalID, entries, outcome.Checklist, g.clock.Now().UTC())
	}

	version, err := g.store.ApplyStepResult(ctx, processID, lease.Version, transition)
	if err != nil {
		if !persistence.IsConflict(err) {
			g.release(ctx, lease)
		}

		return CompletionResult{}, fmt.Errorf("failed to complete step: %w", err)
	}

	now := g.clock.Now().UTC()

	g.logger.InfoContext(ctx, "step completed externally",
		"process_id", processID,
		"step_id", step.ID,
		"step_type", stepType,
		"status", transition.Status,
		"next_steps", transition.NextSteps,
	)

	g.publish(ctx, processID, events.NewProcessStepFinished(*process, step, transition.Status, transition.Message, transition.NextSteps, now, now.Sub(step.DateCreated)))

	return CompletionResult{
		StepID:    step.ID,
		Status:    transition.Status,
		NextSteps: transition.NextSteps,
		Version:   version,
	}, nil
}

func (g *Gateway) release(ctx context.Context, lease Lease) {
	err := g.leases.Release(context.WithoutCancel(ctx), lease)
	if err != nil {
		g.logger.WarnContext(ctx, "failed to release lease", "process_id", lease.ProcessID, "error", err)
	}
}

func (g *Gateway) publish(ctx context.Context, key string, event eventbus.Event) {
	err := g.publisher.Publish(ctx, key, event)
	if err != nil {
		g.logger.WarnContext(ctx, "failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
