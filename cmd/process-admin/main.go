package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
)

const serviceName = "process-admin"

func main() {
	err := newRootCommand().Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:                  serviceName,
		Usage:                 "Operate processes from the command line",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
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
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			NewCreateCommand(),
			NewShowCommand(),
			NewRetriggerCommand(),
			NewCompleteCommand(),
			NewWatchCommand(),
		},
	}
}
