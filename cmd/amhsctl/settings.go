package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/amhsctl/pkg/channels/kafka"
	"github.com/dukex/amhsctl/pkg/config"
	cli "github.com/urfave/cli/v3"
)

var ErrInvalidHeader = errors.New("header must be Name=value")

// loadSettings reads the settings file and applies every flag or
// environment variable that was explicitly set.
func loadSettings(command *cli.Command) (config.Settings, error) {
	settings, err := config.Load(command.String("config"))
	if err != nil {
		return settings, err
	}

	setString := func(name string, target *string) {
		if command.IsSet(name) {
			*target = command.String(name)
		}
	}

	setString("server-url", &settings.ServerURL)
	setString("log-level", &settings.LogLevel)
	setString("log-format", &settings.LogFormat)
	setString("pipeline-file", &settings.PipelineFile)
	setString("schema-file", &settings.SchemaFile)
	setString("event-bus", &settings.EventBus)
	setString("redis-url", &settings.RedisURL)

	if command.IsSet("schedule") {
		settings.Schedule = command.String("schedule")
	}

	if command.IsSet("port") {
		settings.Port = command.Int("port")
	}

	if command.IsSet("kafka-brokers") {
		settings.KafkaBrokers = kafka.ParseBrokers(command.String("kafka-brokers"))
	}

	if command.IsSet("lock-ttl") {
		settings.LockTTL = command.Duration("lock-ttl")
	}

	if command.IsSet("tracing") {
		settings.Tracing = command.Bool("tracing")
	}

	if command.IsSet("header") {
		if settings.Headers == nil {
			settings.Headers = make(map[string]string)
		}

		for _, header := range command.StringSlice("header") {
			name, value, ok := strings.Cut(header, "=")
			if !ok || strings.TrimSpace(name) == "" {
				return settings, fmt.Errorf("%w: %q", ErrInvalidHeader, header)
			}

			settings.Headers[strings.TrimSpace(name)] = value
		}
	}

	applyPipelineOverrides(command, &settings.Pipeline)

	return settings, settings.Validate()
}

func applyPipelineOverrides(command *cli.Command, overrides *config.PipelineOverrides) {
	if command.IsSet("pause") {
		pause := command.Duration("pause")
		overrides.Pause = &pause
	}

	if command.IsSet("step-timeout") {
		timeout := command.Duration("step-timeout")
		overrides.StepTimeout = &timeout
	}

	if command.IsSet("side-effect-attempts") {
		attempts := uint(max(command.Int("side-effect-attempts"), 0))
		overrides.SideEffectAttempts = &attempts
	}

	if command.IsSet("side-effect-delay") {
		delay := command.Duration("side-effect-delay")
		overrides.SideEffectDelay = &delay
	}
}
