package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/amhsctl/pkg/config"
	cli "github.com/urfave/cli/v3"
)

func main() {
	if err := newRootCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	defaults := config.Defaults()

	return &cli.Command{
		Name:                  "amhsctl",
		Usage:                 "Edit the AMHS layout seed and drive the layout generation pipeline",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML settings file",
				Sources: cli.EnvVars("AMHS_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Base URL of the layout server",
				Value:   defaults.ServerURL,
				Sources: cli.EnvVars("AMHS_SERVER_URL"),
			},
			&cli.StringSliceFlag{
				Name:    "header",
				Usage:   "Extra request header sent to the layout server (Name=value)",
				Sources: cli.EnvVars("AMHS_HEADERS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   defaults.LogLevel,
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   defaults.LogFormat,
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
			&cli.StringFlag{
				Name:    "pipeline-file",
				Usage:   "YAML pipeline definition; the built-in pipeline is used when empty",
				Sources: cli.EnvVars("AMHS_PIPELINE_FILE"),
			},
			&cli.StringFlag{
				Name:    "schema-file",
				Usage:   "JSON schema every saved seed must satisfy",
				Sources: cli.EnvVars("AMHS_SCHEMA_FILE"),
			},
			&cli.DurationFlag{
				Name:    "pause",
				Usage:   "Pause between pipeline steps",
				Sources: cli.EnvVars("AMHS_PAUSE"),
			},
			&cli.DurationFlag{
				Name:    "step-timeout",
				Usage:   "Default timeout of a remote step",
				Sources: cli.EnvVars("AMHS_STEP_TIMEOUT"),
			},
			&cli.IntFlag{
				Name:    "side-effect-attempts",
				Usage:   "Attempts of the post-step side effect",
				Sources: cli.EnvVars("AMHS_SIDE_EFFECT_ATTEMPTS"),
			},
			&cli.DurationFlag{
				Name:    "side-effect-delay",
				Usage:   "Delay between side effect attempts",
				Sources: cli.EnvVars("AMHS_SIDE_EFFECT_DELAY"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (none, gochannel, kafka)",
				Value:   defaults.EventBus,
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the shared pipeline lock; a local lock is used when empty",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.DurationFlag{
				Name:    "lock-ttl",
				Usage:   "Expiry of the shared pipeline lock",
				Sources: cli.EnvVars("AMHS_LOCK_TTL"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OpenTelemetry traces over OTLP/HTTP",
				Sources: cli.EnvVars("AMHS_TRACING"),
			},
		},
		Commands: []*cli.Command{
			NewServeCommand(),
			NewSeedCommand(),
			NewPipelineCommand(),
		},
	}
}
