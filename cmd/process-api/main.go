package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/portal-processes/pkg/cmd"
	"github.com/dukex/portal-processes/pkg/config"
	"github.com/dukex/portal-processes/pkg/log"
	"github.com/dukex/portal-processes/pkg/models"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	cli "github.com/urfave/cli/v3"
)

const (
	serviceName = "process-api"
	defaultPort = 9091
)

func main() {
	app := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Start, inspect, retrigger and complete processes over HTTP",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
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
			&cli.DurationFlag{
				Name:    "lease-duration",
				Usage:   "How long a completion owns a process",
				Sources: cli.EnvVars("LEASE_DURATION"),
			},
			&cli.IntFlag{
				Name:    "max-retries",
				Usage:   "Failed attempts of a step type before retriggering stops (0 for unlimited)",
				Sources: cli.EnvVars("MAX_RETRIES"),
			},
			&cli.StringFlag{
				Name:    "process-config",
				Usage:   "YAML file overriding initial steps and follow-ups",
				Sources: cli.EnvVars("PROCESS_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule(serviceName)

			logger.InfoContext(ctx, "Initializing process API")

			clock := clockwork.NewRealClock()

			processConfig, err := config.Load(command.String("process-config"), models.DefaultLegalityTable())
			if err != nil {
				return err
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"), clock)
			if err != nil {
				return fmt.Errorf("failed to initialize persistence: %w", err)
			}

			defer func() {
				err := persistence.Close(ctx)
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

			registry := prometheus.NewRegistry()
			registry.MustRegister(collectors.NewGoCollector())

			gateway := cmd.NewGateway(persistence, eventBus, logger, clock,
				command.Int("max-retries"), command.Duration("lease-duration"), processConfig.FollowUps)

			api := NewAPI(logger, persistence, gateway, processConfig.InitialStepsFor, registry)

			err = api.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start process API", "error", err)
			}

			return nil
		},
	}

	err := app.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
