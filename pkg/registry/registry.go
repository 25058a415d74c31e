// Package registry maps names used in pipeline definitions to Go functions:
// local steps and request body builders.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

var (
	ErrNotRegistered     = errors.New("not registered")
	ErrAlreadyRegistered = errors.New("already registered")
)

// StepFunc runs a local step and returns a short message for the run log.
type StepFunc func(ctx context.Context) (string, error)

// BodyFunc builds the JSON body of a remote step.
type BodyFunc func(ctx context.Context) (any, error)

type Registry struct {
	logger *slog.Logger

	mu     sync.RWMutex
	steps  map[string]StepFunc
	bodies map[string]BodyFunc
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}

	return &Registry{
		logger: log.With("module", "registry"),
		steps:  make(map[string]StepFunc),
		bodies: make(map[string]BodyFunc),
	}
}

func (r *Registry) RegisterStep(name string, fn StepFunc) error {
	return register(r, r.steps, "step", name, fn)
}

func (r *Registry) RegisterBody(name string, fn BodyFunc) error {
	return register(r, r.bodies, "body", name, fn)
}

func (r *Registry) Step(name string) (StepFunc, error) {
	return lookup(r, r.steps, "step", name)
}

func (r *Registry) Body(name string) (BodyFunc, error) {
	return lookup(r, r.bodies, "body", name)
}

// Steps returns the registered local step names, sorted.
func (r *Registry) Steps() []string {
	return names(r, r.steps)
}

// Bodies returns the registered body builder names, sorted.
func (r *Registry) Bodies() []string {
	return names(r, r.bodies)
}

func register[T any](r *Registry, target map[string]T, kind, name string, fn T) error {
	if name == "" {
		return fmt.Errorf("%s name is required", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := target[name]; exists {
		return fmt.Errorf("%s '%s' %w", kind, name, ErrAlreadyRegistered)
	}

	target[name] = fn

	r.logger.Debug("Registered "+kind, "name", name)

	return nil
}

func lookup[T any](r *Registry, source map[string]T, kind, name string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := source[name]
	if !ok {
		var zero T

		return zero, fmt.Errorf("%s '%s' %w", kind, name, ErrNotRegistered)
	}

	return fn, nil
}

func names[T any](r *Registry, source map[string]T) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(source))
	for name := range source {
		out = append(out, name)
	}

	slices.Sort(out)

	return out
}
