package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dukex/portal-processes/pkg/cmd"
	"github.com/dukex/portal-processes/pkg/log"
	"github.com/dukex/portal-processes/pkg/models"
	"github.com/dukex/portal-processes/pkg/otelhelper"
	"github.com/dukex/portal-processes/pkg/processes"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName        = "process-worker"
	defaultMetricsPort = 9092
	defaultConcurrency = 4
)

func main() {
	app := &cli.Command{
		Name:                  serviceName,
		EnableShellCompletion: true,
		Usage:                 "Poll and execute due process steps",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (postgres://, file://, memory://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "process-types",
				Usage:   "Comma separated process types to serve (all if empty)",
				Sources: cli.EnvVars("PROCESS_TYPES"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "Wait between polls when no step is due",
				Value:   processes.DefaultPollInterval,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "lease-duration",
				Usage:   "How long a worker owns a process while running one step",
				Value:   processes.DefaultLeaseDuration,
				Sources: cli.EnvVars("LEASE_DURATION"),
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Maximum number of processes fetched per poll and process type",
				Value:   processes.DefaultBatchSize,
				Sources: cli.EnvVars("BATCH_SIZE"),
			},
			&cli.IntFlag{
				Name:    "max-retries",
				Usage:   "Failed attempts of a step type before retriggering stops (0 for unlimited)",
				Value:   0,
				Sources: cli.EnvVars("MAX_RETRIES"),
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Number of dispatcher loops",
				Value:   defaultConcurrency,
				Sources: cli.EnvVars("CONCURRENCY"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "report-schedule",
				Usage:   "Cron schedule of the open step report",
				Value:   processes.DefaultReportSchedule,
				Sources: cli.EnvVars("REPORT_SCHEDULE"),
			},
			&cli.IntFlag{
				Name:    "metrics-port",
				Usage:   "Port of the metrics and health endpoints (0 disables them)",
				Value:   defaultMetricsPort,
				Sources: cli.EnvVars("METRICS_PORT"),
			},
			&cli.BoolFlag{
				Name:    "tracing-enabled",
				Usage:   "Export spans over OTLP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: run,
	}

	err := app.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.SetupWithFormat(command.String("log-level"), command.String("log-format"))

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule(serviceName)

	logger.InfoContext(ctx, "Initializing process worker", "worker_id", workerID)

	var tracer trace.Tracer = otelhelper.NoopTracer()

	if command.Bool("tracing-enabled") {
		otelTracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		defer func() {
			err := shutdown(context.WithoutCancel(ctx))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
			}
		}()

		tracer = otelTracer
	}

	clock := clockwork.NewRealClock()
	table := models.DefaultLegalityTable()

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"), clock)
	if err != nil {
		return fmt.Errorf("failed to initialize persistence: %w", err)
	}

	defer func() {
		err := persistence.Close(context.WithoutCancel(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), serviceName, logger)
	if err != nil {
		return err
	}

	defer func() {
		err := eventBus.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	registry, err := cmd.NewRegistry(logger, table)
	if err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metrics := processes.NewMetrics(promRegistry)
	scheduler := processes.NewScheduler(table, command.Int("max-retries"))
	leases := processes.NewLeaseManager(persistence, clock, command.Duration("lease-duration"))

	opts := []processes.DispatcherOption{
		processes.WithBatchSize(command.Int("batch-size")),
		processes.WithPollInterval(command.Duration("poll-interval")),
		processes.WithPublisher(eventBus),
		processes.WithMetrics(metrics),
		processes.WithTracer(tracer),
		processes.WithClock(clock),
		processes.WithWorkerID(workerID),
	}

	processTypes := parseProcessTypes(command.String("process-types"))
	if len(processTypes) > 0 {
		opts = append(opts, processes.WithProcessTypes(processTypes...))
	}

	dispatcher, err := processes.NewDispatcher(persistence, registry, leases, scheduler, logger, opts...)
	if err != nil {
		return err
	}

	reporter, err := processes.NewReporter(persistence, metrics, logger, command.String("report-schedule"))
	if err != nil {
		return err
	}

	worker := NewWorkerManager(
		workerID,
		persistence,
		dispatcher,
		reporter,
		promRegistry,
		logger,
		command.Int("concurrency"),
		command.Int("metrics-port"),
	)

	return worker.Start(ctx)
}

// parseProcessTypes splits a comma separated list, upper-casing entries and dropping empty ones.
func parseProcessTypes(value string) []models.ProcessType {
	var processTypes []models.ProcessType

	for _, entry := range strings.Split(value, ",") {
		entry = strings.ToUpper(strings.TrimSpace(entry))
		if entry != "" {
			processTypes = append(processTypes, models.ProcessType(entry))
		}
	}

	return processTypes
}
