package processes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dukex/portal-processes/pkg/eventbus"
	"github.com/dukex/portal-processes/pkg/events"
	"github.com/dukex/portal-processes/pkg/log"
	"github.com/dukex/portal-processes/pkg/models"
	"github.com/dukex/portal-processes/pkg/otelhelper"
	"github.com/dukex/portal-processes/pkg/persistence"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultBatchSize    = 20
	DefaultPollInterval = 5 * time.Second
	DefaultMaxBackoff   = time.Minute
)

// Store is the part of the persistence layer the engine runs on.
type Store interface {
	persistence.ProcessRepository
	persistence.ChecklistRepository
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithProcessTypes limits the dispatcher to the given process types.
func WithProcessTypes(processTypes ...models.ProcessType) DispatcherOption {
	return func(d *Dispatcher) { d.processTypes = processTypes }
}

// WithBatchSize sets how many due processes are fetched per process type and cycle.
func WithBatchSize(size int) DispatcherOption {
	return func(d *Dispatcher) { d.batchSize = size }
}

// WithPollInterval sets the idle wait between cycles.
func WithPollInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.pollInterval = interval }
}

// WithMaxBackoff caps the wait after failed cycles.
func WithMaxBackoff(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.maxBackoff = interval }
}

// WithPublisher publishes an event for every committed step outcome.
func WithPublisher(publisher eventbus.EventPublisher) DispatcherOption {
	return func(d *Dispatcher) { d.publisher = publisher }
}

func WithMetrics(metrics *Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = metrics }
}

func WithTracer(tracer trace.Tracer) DispatcherOption {
	return func(d *Dispatcher) { d.tracer = tracer }
}

func WithClock(clock clockwork.Clock) DispatcherOption {
	return func(d *Dispatcher) { d.clock = clock }
}

// WithWorkerID names the worker in logs, spans and events.
func WithWorkerID(workerID string) DispatcherOption {
	return func(d *Dispatcher) { d.workerID = workerID }
}

// Dispatcher polls for due steps and runs them one process at a time.
type Dispatcher struct {
	store     Store
	registry  *Registry
	leases    *LeaseManager
	scheduler *Scheduler
	table     *models.LegalityTable
	logger    *slog.Logger

	processTypes []models.ProcessType
	stepTypes    map[models.ProcessType][]models.ProcessStepType
	batchSize    int
	pollInterval time.Duration
	maxBackoff   time.Duration
	publisher    eventbus.EventPublisher
	metrics      *Metrics
	tracer       trace.Tracer
	clock        clockwork.Clock
	workerID     string
}

// NewDispatcher creates a dispatcher serving every process type of the scheduler's table
// unless WithProcessTypes narrows it.
func NewDispatcher(store Store, registry *Registry, leases *LeaseManager, scheduler *Scheduler, logger *slog.Logger, opts ...DispatcherOption) (*Dispatcher, error) {
	d := &Dispatcher{
		store:        store,
		registry:     registry,
		leases:       leases,
		scheduler:    scheduler,
		table:        scheduler.Table(),
		logger:       logger.With("module", "dispatcher"),
		batchSize:    DefaultBatchSize,
		pollInterval: DefaultPollInterval,
		maxBackoff:   DefaultMaxBackoff,
		publisher:    eventbus.NoopPublisher{},
		tracer:       otelhelper.NoopTracer(),
		clock:        clockwork.NewRealClock(),
	}

	for _, opt := range opts {
		opt(d)
	}

	if len(d.processTypes) == 0 {
		d.processTypes = d.table.ProcessTypes()
	}

	if d.pollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", d.pollInterval)
	}

	d.maxBackoff = max(d.maxBackoff, d.pollInterval)

	d.stepTypes = make(map[models.ProcessType][]models.ProcessStepType, len(d.processTypes))
	for _, processType := range d.processTypes {
		if !d.table.IsKnownProcessType(processType) {
			return nil, fmt.Errorf("unknown process type %s", processType)
		}

		d.stepTypes[processType] = slices.Concat(
			d.table.ExecutableStepTypesFor(processType),
			d.table.RetriggerStepTypesFor(processType),
		)
	}

	if d.workerID != "" {
		d.logger = d.logger.With("worker_id", d.workerID)
	}

	return d, nil
}

// ProcessTypes returns the served process types.
func (d *Dispatcher) ProcessTypes() []models.ProcessType {
	return slices.Clone(d.processTypes)
}

// RunOnce runs one cycle over every served process type and returns how many steps it finished.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	var (
		handled int
		errs    []error
	)

	for _, processType := range d.processTypes {
		due, err := d.store.FindDueSteps(ctx, processType, d.stepTypes[processType], d.batchSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to find due steps of %s: %w", processType, err))

			continue
		}

		for _, candidate := range due {
			if ctx.Err() != nil {
				return handled, errors.Join(errs...)
			}

			finished, err := d.dispatch(ctx, candidate.Process)
			if err != nil {
				errs = append(errs, err)

				continue
			}

			if finished {
				handled++
			}
		}
	}

	return handled, errors.Join(errs...)
}

// Run repeats cycles until ctx is cancelled. Failed cycles back off exponentially; a cycle
// that finished steps is followed immediately by the next one.
func (d *Dispatcher) Run(ctx context.Context) error {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = d.pollInterval
	retry.MaxInterval = d.maxBackoff
	retry.Reset()

	d.logger.InfoContext(ctx, "dispatcher started", "process_types", d.processTypes, "poll_interval", d.pollInterval)

	for {
		handled, err := d.RunOnce(ctx)
		if ctx.Err() != nil {
			d.logger.InfoContext(ctx, "dispatcher stopped")

			return nil
		}

		wait := d.withJitter(d.pollInterval)

		if err != nil {
			d.logger.ErrorContext(ctx, "dispatch cycle failed", "error", err)
			d.countPollError()

			wait = retry.NextBackOff()
		} else {
			retry.Reset()

			if handled > 0 {
				continue
			}
		}

		select {
		case <-ctx.Done():
			d.logger.InfoContext(ctx, "dispatcher stopped")

			return nil
		case <-d.clock.After(wait):
		}
	}
}

// RunLoops runs n dispatch loops sharing this dispatcher until ctx is cancelled.
func (d *Dispatcher) RunLoops(ctx context.Context, n int) error {
	var wg sync.WaitGroup

	for range max(n, 1) {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_ = d.Run(ctx)
		}()
	}

	wg.Wait()

	return nil
}

func (d *Dispatcher) withJitter(interval time.Duration) time.Duration {
	spread := interval / 5
	if spread <= 0 {
		return interval
	}

	return interval + rand.N(spread)
}

// dispatch leases process, runs its oldest runnable step and commits the outcome.
// It reports whether a step outcome was committed.
func (d *Dispatcher) dispatch(ctx context.Context, process models.Process) (bool, error) {
	logger := d.logger.With("process_id", process.ID, "process_type", process.Type)

	lease, err := d.leases.Acquire(ctx, process)
	if persistence.IsConflict(err) {
		logger.DebugContext(ctx, "process is leased by another worker")
		d.countLeaseConflict(process.Type)

		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to lease process %s: %w", process.ID, err)
	}

	process.Version = lease.Version
	process.LockExpiryDate = &lease.ExpiresAt

	steps, err := d.store.StepsByProcess(ctx, process.ID)
	if err != nil {
		d.release(ctx, logger, lease)

		return false, fmt.Errorf("failed to load steps of process %s: %w", process.ID, err)
	}

	step, ok := d.nextStep(process.Type, steps)
	if !ok {
		logger.DebugContext(ctx, "no runnable step left after leasing")
		d.release(ctx, logger, lease)

		return false, nil
	}

	var checklist []models.ChecklistEntry
	if process.ExternalID != "" {
		checklist, err = d.store.ChecklistEntries(ctx, process.ExternalID)
		if err != nil {
			d.release(ctx, logger, lease)

			return false, fmt.Errorf("failed to load checklist of %s: %w", process.ExternalID, err)
		}
	}

	logger = logger.With("step_id", step.ID, "step_type", step.Type)

	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "process.step.dispatch",
		attribute.String(otelhelper.ProcessIDKey, process.ID),
		attribute.String(otelhelper.ProcessTypeKey, string(process.Type)),
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepTypeKey, string(step.Type)),
		attribute.String(otelhelper.WorkerIDKey, d.workerID),
	)
	defer span.End()

	sc := StepContext{
		Process:   process,
		Step:      step,
		History:   steps,
		Checklist: checklist,
		Logger:    logger,
	}

	started := d.clock.Now()
	result := d.execute(log.ContextWithLogger(ctx, logger), sc)
	elapsed := d.clock.Since(started)

	if d.metrics != nil {
		d.metrics.observeHandler(step.Type, elapsed)
	}

	if ctx.Err() != nil {
		logger.WarnContext(ctx, "abandoning step on shutdown, lease will expire")

		return false, nil
	}

	transition := d.plan(ctx, sc, result)

	_, err = d.store.ApplyStepResult(ctx, process.ID, lease.Version, transition)
	if persistence.IsConflict(err) {
		logger.WarnContext(ctx, "step outcome lost to a concurrent write", "error", err)
		d.countLeaseConflict(process.Type)

		return false, nil
	}

	if err != nil {
		otelhelper.SetError(span, err)
		d.release(ctx, logger, lease)

		return false, fmt.Errorf("failed to apply result of step %s: %w", step.ID, err)
	}

	span.SetAttributes(attribute.String(otelhelper.StepStatusKey, string(transition.Status)))

	if d.metrics != nil {
		d.metrics.stepExecuted(step.Type, transition.Status)
	}

	logger.InfoContext(ctx, "step finished",
		"status", transition.Status,
		"next_steps", transition.NextSteps,
		"duration", elapsed,
	)

	event := events.NewProcessStepFinished(process, step, transition.Status, transition.Message, transition.NextSteps, d.clock.Now().UTC(), elapsed)
	event.WorkerID = d.workerID

	err = d.publisher.Publish(ctx, process.ID, event)
	if err != nil {
		logger.WarnContext(ctx, "failed to publish step finished event", "error", err)
	}

	return true, nil
}

// nextStep returns the oldest TODO step of a type this dispatcher serves.
func (d *Dispatcher) nextStep(processType models.ProcessType, steps []models.ProcessStep) (models.ProcessStep, bool) {
	served := d.stepTypes[processType]

	for _, step := range steps {
		if step.Status == models.ProcessStepStatusTodo && slices.Contains(served, step.Type) {
			return step, true
		}
	}

	return models.ProcessStep{}, false
}

func (d *Dispatcher) execute(ctx context.Context, sc StepContext) StepResult {
	if d.table.IsRetrigger(sc.Step.Type) {
		original, ok := d.table.RetriggeredStepOf(sc.Step.Type)
		if !ok {
			return failedResult(fmt.Sprintf("retrigger step type %s re-enters no step type", sc.Step.Type), false)
		}

		return Done(original)
	}

	handler, ok := d.registry.Handler(sc.Step.Type)
	if !ok {
		return failedResult(fmt.Sprintf("no handler registered for step type %s", sc.Step.Type), false)
	}

	return invoke(ctx, handler, sc)
}

func invoke(ctx context.Context, handler Handler, sc StepContext) (result StepResult) {
	defer func() {
		if r := recover(); r != nil {
			sc.Logger.ErrorContext(ctx, "step handler panicked", "panic", r)
			result = failedResult(fmt.Sprintf("handler panicked: %v", r), false)
		}
	}()

	result, err := handler.Handle(ctx, sc)
	if err != nil {
		sc.Logger.WarnContext(ctx, "step handler failed", "error", err)

		failed := failedResult(err.Error(), Retryable(err) || (result.Retryable && !isPermanent(err)))
		failed.Checklist = result.Checklist

		return failed
	}

	return result
}

// plan turns result into the transition to store. A panicking result mutator fails the step.
func (d *Dispatcher) plan(ctx context.Context, sc StepContext, result StepResult) (transition persistence.StepTransition) {
	defer func() {
		if r := recover(); r != nil {
			sc.Logger.ErrorContext(ctx, "step result mutator panicked", "panic", r)
			transition = failedTransition(sc.Step, fmt.Sprintf("step result panicked: %v", r))
		}
	}()

	transition, err := d.scheduler.Plan(sc.Process, sc.Step, result, sc.History)
	if err != nil {
		transition = failedTransition(sc.Step, err.Error())
	}

	transition.Checklist = checklistEntries(sc.Process.ExternalID, sc.Checklist, result.Checklist, d.clock.Now().UTC())

	return transition
}

func failedResult(message string, retryable bool) StepResult {
	result := StepResult{Status: models.ProcessStepStatusFailed, Retryable: retryable}

	return result.WithMessage(message)
}

// release gives a lease back without an outcome. Failures only delay the next run until expiry.
func (d *Dispatcher) release(ctx context.Context, logger *slog.Logger, lease Lease) {
	err := d.leases.Release(context.WithoutCancel(ctx), lease)
	if err != nil {
		logger.WarnContext(ctx, "failed to release lease", "error", err)
	}
}

func (d *Dispatcher) countLeaseConflict(processType models.ProcessType) {
	if d.metrics != nil {
		d.metrics.leaseConflict(processType)
	}
}

func (d *Dispatcher) countPollError() {
	if d.metrics != nil {
		d.metrics.pollError()
	}
}
