package pipeline

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dukex/amhsctl/pkg/registry"
	"github.com/dukex/amhsctl/pkg/retry"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed default_pipeline.yaml
var defaultDefinition []byte

var ErrInvalidDefinition = errors.New("invalid pipeline definition")

const (
	DefaultSideEffectAttempts = 3
	DefaultSideEffectDelay    = time.Second
	DefaultSideEffectTimeout  = 30 * time.Second
)

// Definition is the YAML form of a pipeline.
type Definition struct {
	Name        string                `yaml:"name" validate:"required"`
	Pause       time.Duration         `yaml:"pause" validate:"min=0"`
	StepTimeout time.Duration         `yaml:"step_timeout" validate:"min=0"`
	SideEffect  *SideEffectDefinition `yaml:"side_effect"`
	Steps       []StepDefinition      `yaml:"steps" validate:"required,min=1,unique=ID,dive"`
}

type StepDefinition struct {
	ID       string        `yaml:"id" validate:"required,excludesall=."`
	Name     string        `yaml:"name"`
	Endpoint string        `yaml:"endpoint" validate:"required_without=Local,excluded_with=Local"`
	Method   string        `yaml:"method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	Local    string        `yaml:"local"`
	Body     any           `yaml:"body" validate:"excluded_with=BodyFrom"`
	BodyFrom string        `yaml:"body_from"`
	Timeout  time.Duration `yaml:"timeout" validate:"min=0"`
}

type SideEffectDefinition struct {
	AfterStep string        `yaml:"after_step" validate:"required"`
	Endpoint  string        `yaml:"endpoint" validate:"required,startswith=/"`
	Method    string        `yaml:"method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	Attempts  uint          `yaml:"attempts" validate:"max=10"`
	Delay     time.Duration `yaml:"delay" validate:"min=0"`
	Timeout   time.Duration `yaml:"timeout" validate:"min=0"`
}

// Plan is a compiled definition ready to run.
type Plan struct {
	Name       string
	Steps      []StepDescriptor
	SideEffect *SideEffect
	Pause      time.Duration
	Timeout    time.Duration
}

// Options turns the plan settings into orchestrator options.
func (p *Plan) Options() []Option {
	opts := []Option{
		WithName(p.Name),
		WithPause(p.Pause),
		WithStepTimeout(p.Timeout),
	}

	if p.SideEffect != nil {
		opts = append(opts, WithSideEffect(*p.SideEffect))
	}

	return opts
}

// DefaultDefinition returns the built-in pipeline.
func DefaultDefinition() (*Definition, error) {
	return ParseDefinition(defaultDefinition)
}

func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline definition %s: %w", path, err)
	}

	return ParseDefinition(data)
}

func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition

	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	for i := range def.Steps {
		def.Steps[i].Method = strings.ToUpper(def.Steps[i].Method)
	}

	if def.SideEffect != nil {
		def.SideEffect.Method = strings.ToUpper(def.SideEffect.Method)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	return &def, nil
}

// Validate checks field rules and the references between steps.
func (d *Definition) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	for _, step := range d.Steps {
		if step.Local != "" && (step.Body != nil || step.BodyFrom != "") {
			return fmt.Errorf("%w: local step %s cannot have a body", ErrInvalidDefinition, step.ID)
		}

		if step.Endpoint != "" && !strings.HasPrefix(step.Endpoint, "/") {
			return fmt.Errorf("%w: endpoint of step %s must start with /", ErrInvalidDefinition, step.ID)
		}
	}

	if d.SideEffect != nil && !d.hasStep(d.SideEffect.AfterStep) {
		return fmt.Errorf("%w: side effect follows unknown step %s", ErrInvalidDefinition, d.SideEffect.AfterStep)
	}

	return nil
}

func (d *Definition) hasStep(id string) bool {
	for _, step := range d.Steps {
		if step.ID == id {
			return true
		}
	}

	return false
}

// Compile resolves local steps and body builders against reg.
func (d *Definition) Compile(reg *registry.Registry) (*Plan, error) {
	plan := &Plan{
		Name:    d.Name,
		Steps:   make([]StepDescriptor, 0, len(d.Steps)),
		Pause:   d.Pause,
		Timeout: d.StepTimeout,
	}

	for _, step := range d.Steps {
		descriptor, err := compileStep(step, reg)
		if err != nil {
			return nil, err
		}

		plan.Steps = append(plan.Steps, descriptor)
	}

	if se := d.SideEffect; se != nil {
		attempts := se.Attempts
		if attempts == 0 {
			attempts = DefaultSideEffectAttempts
		}

		delay := se.Delay
		if delay == 0 {
			delay = DefaultSideEffectDelay
		}

		timeout := se.Timeout
		if timeout == 0 {
			timeout = DefaultSideEffectTimeout
		}

		plan.SideEffect = &SideEffect{
			AfterStep: se.AfterStep,
			Endpoint:  se.Endpoint,
			Method:    se.Method,
			Timeout:   timeout,
			Policy:    retry.Policy{MaxAttempts: attempts, Delay: delay},
		}
	}

	return plan, nil
}

func compileStep(step StepDefinition, reg *registry.Registry) (StepDescriptor, error) {
	descriptor := StepDescriptor{
		ID:          step.ID,
		DisplayName: step.Name,
		Endpoint:    step.Endpoint,
		Method:      step.Method,
		Timeout:     step.Timeout,
	}

	if step.Local != "" {
		fn, err := reg.Step(step.Local)
		if err != nil {
			return descriptor, fmt.Errorf("step %s: %w", step.ID, err)
		}

		descriptor.Local = LocalFunc(fn)
		descriptor.IsSynchronousLocalStep = true

		return descriptor, nil
	}

	switch {
	case step.BodyFrom != "":
		fn, err := reg.Body(step.BodyFrom)
		if err != nil {
			return descriptor, fmt.Errorf("step %s: %w", step.ID, err)
		}

		descriptor.RequestBody = BodyBuilder(fn)
	case step.Body != nil:
		body := step.Body
		descriptor.RequestBody = func(context.Context) (any, error) {
			return body, nil
		}
	}

	return descriptor, nil
}
