// Package pipeline runs an ordered list of layout generation steps one at a
// time and reports each outcome as it settles.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/amhsctl/pkg/remote"
)

var (
	ErrRunInProgress = errors.New("a pipeline run is already in progress")
	ErrInvalidStep   = errors.New("invalid step")
)

// LocalFunc is the action of a synchronous local step.
type LocalFunc func(ctx context.Context) (string, error)

// BodyBuilder produces the JSON body of a remote step at the time it runs.
type BodyBuilder func(ctx context.Context) (any, error)

// StepDescriptor describes one step. Remote steps call Endpoint with the body
// built by RequestBody; local steps run Local in the caller's goroutine.
type StepDescriptor struct {
	ID                     string
	DisplayName            string
	Endpoint               string
	Method                 string
	RequestBody            BodyBuilder
	Local                  LocalFunc
	IsSynchronousLocalStep bool
	Timeout                time.Duration
}

func (s StepDescriptor) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidStep)
	}

	if s.IsSynchronousLocalStep {
		if s.Local == nil {
			return fmt.Errorf("%w: local step %s has no action", ErrInvalidStep, s.ID)
		}

		return nil
	}

	if !strings.HasPrefix(s.Endpoint, "/") {
		return fmt.Errorf("%w: step %s needs an endpoint starting with /", ErrInvalidStep, s.ID)
	}

	return nil
}

func (s StepDescriptor) name() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}

	return s.ID
}

// StepRunResult is emitted once per executed step. Err is set whenever
// Succeeded is false.
type StepRunResult struct {
	StepID      string           `json:"step_id"`
	DisplayName string           `json:"name"`
	Succeeded   bool             `json:"succeeded"`
	Message     string           `json:"message,omitempty"`
	Payload     *remote.Envelope `json:"payload,omitempty"`
	Err         error            `json:"-"`
	Duration    time.Duration    `json:"duration"`
}

// Phase is the orchestrator position in a run.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseAdvancing
	PhaseAborted
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseAdvancing:
		return "advancing"
	case PhaseAborted:
		return "aborted"
	case PhaseCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// State is a snapshot of the latest run. Step is the index the phase refers
// to: the running or failed step, or the step about to start when advancing.
type State struct {
	Phase Phase
	Step  int
	RunID string
}
