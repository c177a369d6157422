package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dukex/portal-processes/pkg/cmd"
	"github.com/dukex/portal-processes/pkg/config"
	"github.com/dukex/portal-processes/pkg/eventbus"
	"github.com/dukex/portal-processes/pkg/events"
	"github.com/dukex/portal-processes/pkg/log"
	"github.com/dukex/portal-processes/pkg/models"
	"github.com/dukex/portal-processes/pkg/persistence"
	"github.com/dukex/portal-processes/pkg/processes"
	"github.com/jonboulle/clockwork"
	cli "github.com/urfave/cli/v3"
)

var errMissingArgument = errors.New("missing argument")

// environment holds the backends opened for one admin command.
type environment struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	gateway     *processes.Gateway
	config      config.ProcessConfig
	out         io.Writer
}

func openEnvironment(ctx context.Context, command *cli.Command) (*environment, error) {
	log.Setup(command.String("log-level"))

	logger := log.WithModule(serviceName)
	clock := clockwork.NewRealClock()

	processConfig, err := config.Load(command.String("process-config"), models.DefaultLegalityTable())
	if err != nil {
		return nil, err
	}

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"), clock)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize persistence: %w", err)
	}

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), serviceName, logger)
	if err != nil {
		_ = persistence.Close(ctx)

		return nil, err
	}

	return &environment{
		logger:      logger,
		persistence: persistence,
		eventBus:    eventBus,
		gateway:     cmd.NewGateway(persistence, eventBus, logger, clock, command.Int("max-retries"), 0, processConfig.FollowUps),
		config:      processConfig,
		out:         command.Root().Writer,
	}, nil
}

func (e *environment) close(ctx context.Context) {
	err := e.eventBus.Close()
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
	}

	err = e.persistence.Close(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
	}
}

func (e *environment) print(value any) error {
	encoder := json.NewEncoder(e.out)
	encoder.SetIndent("", "  ")

	return encoder.Encode(value)
}

// withEnvironment opens the backends around action.
func withEnvironment(action func(ctx context.Context, command *cli.Command, env *environment) error) cli.ActionFunc {
	return func(ctx context.Context, command *cli.Command) error {
		env, err := openEnvironment(ctx, command)
		if err != nil {
			return err
		}

		defer env.close(ctx)

		return action(ctx, command, env)
	}
}

func requireArgs(command *cli.Command, names ...string) ([]string, error) {
	args := command.Args().Slice()
	if len(args) < len(names) {
		return nil, fmt.Errorf("%w: usage %s %s", errMissingArgument, command.Name, strings.Join(names, " "))
	}

	return args, nil
}

func NewCreateCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Start a process",
		ArgsUsage: "<process-type> [external-id]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "step",
				Usage: "Initial step type, repeatable (defaults to the process type's initial steps)",
			},
		},
		Action: withEnvironment(func(ctx context.Context, command *cli.Command, env *environment) error {
			args, err := requireArgs(command, "<process-type>")
			if err != nil {
				return err
			}

			processType := models.ProcessType(strings.ToUpper(args[0]))
			externalID := command.Args().Get(1)

			steps := toStepTypes(command.StringSlice("step"))
			if len(steps) == 0 {
				steps = env.config.InitialStepsFor(processType)
			}

			view, err := env.gateway.Start(ctx, processType, externalID, steps...)
			if err != nil {
				return err
			}

			return env.print(view)
		}),
	}
}

func NewShowCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print a process with its steps and checklist",
		ArgsUsage: "<process-id>",
		Action: withEnvironment(func(ctx context.Context, command *cli.Command, env *environment) error {
			args, err := requireArgs(command, "<process-id>")
			if err != nil {
				return err
			}

			view, err := env.gateway.Describe(ctx, args[0])
			if err != nil {
				return err
			}

			return env.print(view)
		}),
	}
}

func NewRetriggerCommand() *cli.Command {
	return &cli.Command{
		Name:      "retrigger",
		Usage:     "Re-enter a step of a process",
		ArgsUsage: "<process-id> <step-type>",
		Action: withEnvironment(func(ctx context.Context, command *cli.Command, env *environment) error {
			args, err := requireArgs(command, "<process-id>", "<step-type>")
			if err != nil {
				return err
			}

			result, err := env.gateway.Retrigger(ctx, args[0], models.ProcessStepType(strings.ToUpper(args[1])))
			if err != nil {
				return err
			}

			return env.print(result)
		}),
	}
}

func NewCompleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "complete",
		Usage:     "Report the outcome of a manual or handed-off step",
		ArgsUsage: "<process-id> <step-type>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "status",
				Usage: "Outcome status (DONE, FAILED, SKIPPED, DUPLICATE)",
				Value: string(models.ProcessStepStatusDone),
			},
			&cli.StringFlag{
				Name:  "message",
				Usage: "Message stored on the step",
			},
			&cli.StringSliceFlag{
				Name:  "next",
				Usage: "Next step type, repeatable (defaults to the step's follow-ups)",
			},
			&cli.BoolFlag{
				Name:  "retryable",
				Usage: "Schedule the retrigger variant of a failed step",
			},
		},
		Action: withEnvironment(func(ctx context.Context, command *cli.Command, env *environment) error {
			args, err := requireArgs(command, "<process-id>", "<step-type>")
			if err != nil {
				return err
			}

			result, err := env.gateway.Complete(ctx, args[0], models.ProcessStepType(strings.ToUpper(args[1])), processes.Outcome{
				Status:    models.ProcessStepStatus(strings.ToUpper(command.String("status"))),
				Message:   command.String("message"),
				Next:      toStepTypes(command.StringSlice("next")),
				Retryable: command.Bool("retryable"),
			})
			if err != nil {
				return err
			}

			return env.print(result)
		}),
	}
}

func NewWatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Print step events until interrupted",
		Action: withEnvironment(func(ctx context.Context, _ *cli.Command, env *environment) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err := watch(ctx, env.eventBus, env.print)
			if err != nil {
				return err
			}

			<-ctx.Done()

			return nil
		}),
	}
}

// watch registers printEvent for every step event type and subscribes.
func watch(ctx context.Context, bus eventbus.EventSubscriber, printEvent func(any) error) error {
	for _, eventType := range []events.EventType{
		events.ProcessStartedEvent,
		events.ProcessStepFinishedEvent,
		events.ProcessStepRetriggeredEvent,
	} {
		err := bus.Handle(eventType, func(_ context.Context, event any) error {
			return printEvent(event)
		})
		if err != nil {
			return err
		}
	}

	return bus.Subscribe(ctx)
}

func toStepTypes(values []string) []models.ProcessStepType {
	var stepTypes []models.ProcessStepType

	for _, value := range values {
		value = strings.ToUpper(strings.TrimSpace(value))
		if value != "" {
			stepTypes = append(stepTypes, models.ProcessStepType(value))
		}
	}

	return stepTypes
}
