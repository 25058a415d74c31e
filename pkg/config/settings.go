// Package config holds the settings shared by every amhsctl command.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var ErrInvalidSettings = errors.New("invalid settings")

// Settings is read from an optional YAML file and then overridden by flags
// and environment variables.
type Settings struct {
	ServerURL string            `yaml:"server_url" validate:"required,http_url"`
	Headers   map[string]string `yaml:"headers"`

	Port      int    `yaml:"port" validate:"min=1,max=65535"`
	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"oneof=text json"`

	PipelineFile string `yaml:"pipeline_file"`
	SchemaFile   string `yaml:"schema_file"`
	Schedule     string `yaml:"schedule"`

	Pipeline PipelineOverrides `yaml:"pipeline"`

	EventBus     string   `yaml:"event_bus" validate:"oneof=none gochannel kafka"`
	KafkaBrokers []string `yaml:"kafka_brokers" validate:"required_if=EventBus kafka,dive,hostname_port"`

	RedisURL string        `yaml:"redis_url" validate:"omitempty,url"`
	LockTTL  time.Duration `yaml:"lock_ttl" validate:"min=0"`

	Tracing bool `yaml:"tracing"`
}

// PipelineOverrides replace values of the pipeline definition when set.
type PipelineOverrides struct {
	Pause              *time.Duration `yaml:"pause" validate:"omitempty,min=0"`
	StepTimeout        *time.Duration `yaml:"step_timeout" validate:"omitempty,min=0"`
	SideEffectAttempts *uint          `yaml:"side_effect_attempts" validate:"omitempty,min=1,max=10"`
	SideEffectDelay    *time.Duration `yaml:"side_effect_delay" validate:"omitempty,min=0"`
}

func Defaults() Settings {
	return Settings{
		ServerURL: "http://localhost:8080",
		Port:      9099,
		LogLevel:  "info",
		LogFormat: "text",
		EventBus:  "none",
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Settings, error) {
	settings := Defaults()

	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return settings, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return settings, nil
}

func (s Settings) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}

	return nil
}
