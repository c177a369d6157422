package main

import (
	"context"
	"log/slog"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dukex/portal-processes/pkg/persistence"
	"github.com/dukex/portal-processes/pkg/processes"
	"github.com/dukex/portal-processes/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// WorkerManager runs the dispatcher loops of one worker together with the open-step
// reporter and the metrics endpoint.
type WorkerManager struct {
	id          string
	logger      *slog.Logger
	persistence persistence.Persistence
	dispatcher  *processes.Dispatcher
	reporter    *processes.Reporter
	gatherer    prometheus.Gatherer
	concurrency int
	metricsPort int
}

func NewWorkerManager(
	id string,
	persistence persistence.Persistence,
	dispatcher *processes.Dispatcher,
	reporter *processes.Reporter,
	gatherer prometheus.Gatherer,
	logger *slog.Logger,
	concurrency int,
	metricsPort int,
) *WorkerManager {
	return &WorkerManager{
		id:          id,
		logger:      logger.With("worker_id", id),
		persistence: persistence,
		dispatcher:  dispatcher,
		reporter:    reporter,
		gatherer:    gatherer,
		concurrency: max(concurrency, 1),
		metricsPort: metricsPort,
	}
}

// Start blocks until ctx is cancelled or the process receives SIGINT or SIGTERM.
func (w *WorkerManager) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w.logger.InfoContext(ctx, "Starting worker manager",
		"process_types", w.dispatcher.ProcessTypes(),
		"concurrency", w.concurrency,
	)

	if w.reporter != nil {
		err := w.reporter.Start(ctx)
		if err != nil {
			return err
		}

		defer w.reporter.Stop()
	}

	if w.metricsPort > 0 {
		app := w.metricsApp()

		go func() {
			err := app.Listen(":"+strconv.Itoa(w.metricsPort), fiber.ListenConfig{DisableStartupMessage: true})
			if err != nil {
				w.logger.ErrorContext(ctx, "Metrics server stopped", "error", err)
			}
		}()

		defer func() {
			err := app.Shutdown()
			if err != nil {
				w.logger.ErrorContext(ctx, "Failed to shutdown metrics server", "error", err)
			}
		}()
	}

	err := w.dispatcher.RunLoops(ctx, w.concurrency)
	if err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Shutting down worker...")

	return nil
}

func (w *WorkerManager) metricsApp() *fiber.App {
	app := fiber.New()

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, func(c fiber.Ctx) error {
		err := w.persistence.HealthCheck(c.Context())
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).SendString(err.Error())
		}

		return c.SendStatus(fiber.StatusOK)
	})
	app.Get("/metrics", web.MetricsHandler(w.gatherer))

	return app
}
