package processes

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/portal-processes/pkg/models"
	"github.com/dukex/portal-processes/pkg/persistence"
	"github.com/robfig/cron/v3"
)

// DefaultReportSchedule reports open steps every minute.
const DefaultReportSchedule = "* * * * *"

// Reporter periodically publishes the number of open steps into the metrics.
type Reporter struct {
	repo     persistence.ProcessRepository
	metrics  *Metrics
	logger   *slog.Logger
	schedule string

	mutex  sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewReporter validates schedule, a standard five-field cron expression.
func NewReporter(repo persistence.ProcessRepository, metrics *Metrics, logger *slog.Logger, schedule string) (*Reporter, error) {
	if schedule == "" {
		schedule = DefaultReportSchedule
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid report schedule '%s': %w", schedule, err)
	}

	return &Reporter{
		repo:     repo,
		metrics:  metrics,
		logger:   logger.With("module", "reporter"),
		schedule: schedule,
	}, nil
}

// Report counts open steps once.
func (r *Reporter) Report(ctx context.Context) (map[models.ProcessStepStatus]int64, error) {
	counts, err := r.repo.CountOpenSteps(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count open steps: %w", err)
	}

	if counts == nil {
		counts = make(map[models.ProcessStepStatus]int64, 2)
	}

	for _, status := range []models.ProcessStepStatus{models.ProcessStepStatusTodo, models.ProcessStepStatusInProgress} {
		if _, ok := counts[status]; !ok {
			counts[status] = 0
		}
	}

	if r.metrics != nil {
		r.metrics.setOpenSteps(counts)
	}

	r.logger.DebugContext(ctx, "open steps reported",
		"todo", counts[models.ProcessStepStatusTodo],
		"in_progress", counts[models.ProcessStepStatusInProgress],
	)

	return counts, nil
}

func (r *Reporter) Start(ctx context.Context) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.cron != nil {
		return nil
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	r.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	entryID, err := r.cron.AddFunc(r.schedule, r.run)
	if err != nil {
		r.cancel()
		r.cron = nil

		return fmt.Errorf("failed to add report job: %w", err)
	}

	r.cron.Start()
	r.logger.InfoContext(ctx, "reporter started", "schedule", r.schedule, "entry_id", entryID)

	return nil
}

func (r *Reporter) run() {
	_, err := r.Report(r.ctx)
	if err != nil {
		r.logger.ErrorContext(r.ctx, "failed to report open steps", "error", err)
	}
}

// Stop stops the schedule and waits for a running report to finish.
func (r *Reporter) Stop() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.cron == nil {
		return
	}

	r.cancel()
	<-r.cron.Stop().Done()
	r.cron = nil

	r.logger.Info("reporter stopped")
}
