// Package events defines the pipeline run lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every pipeline event.
const Topic = "amhs.pipeline.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	RunStartedEvent   EventType = "pipeline.run.started"
	RunCompletedEvent EventType = "pipeline.run.completed"
	RunAbortedEvent   EventType = "pipeline.run.aborted"

	StepSucceededEvent EventType = "pipeline.step.succeeded"
	StepFailedEvent    EventType = "pipeline.step.failed"

	SideEffectFinishedEvent EventType = "pipeline.side_effect.finished"

	SeedSavedEvent EventType = "seed.saved"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id,omitempty"`
	Pipeline  string         `json:"pipeline,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, pipeline, runID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		Pipeline:  pipeline,
		Metadata:  make(map[string]any),
	}
}

type RunStarted struct {
	BaseEvent

	Steps   []string `json:"steps"`
	Trigger string   `json:"trigger,omitempty"`
}

func (RunStarted) GetType() EventType {
	return RunStartedEvent
}

type RunCompleted struct {
	BaseEvent

	Duration time.Duration `json:"duration"`
}

func (RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunAborted struct {
	BaseEvent

	StepID   string        `json:"step_id"`
	Error    string        `json:"error"`
	Duration time.Duration `json:"duration"`
}

func (RunAborted) GetType() EventType {
	return RunAbortedEvent
}

type StepSucceeded struct {
	BaseEvent

	StepID   string        `json:"step_id"`
	Name     string        `json:"name"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

func (StepSucceeded) GetType() EventType {
	return StepSucceededEvent
}

type StepFailed struct {
	BaseEvent

	StepID   string        `json:"step_id"`
	Name     string        `json:"name"`
	Error    string        `json:"error"`
	Duration time.Duration `json:"duration"`
}

func (StepFailed) GetType() EventType {
	return StepFailedEvent
}

// SideEffectFinished reports the outcome of a detached side effect.
type SideEffectFinished struct {
	BaseEvent

	AfterStep string `json:"after_step"`
	Endpoint  string `json:"endpoint"`
	Attempts  uint   `json:"attempts"`
	Succeeded bool   `json:"succeeded"`
	Error     string `json:"error,omitempty"`
}

func (SideEffectFinished) GetType() EventType {
	return SideEffectFinishedEvent
}

type SeedSaved struct {
	BaseEvent

	Fields int    `json:"fields"`
	Source string `json:"source"`
}

func (SeedSaved) GetType() EventType {
	return SeedSavedEvent
}

// New returns an empty event value for eventType, ready to be decoded into.
// The second result is false for unknown types.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case RunStartedEvent:
		return &RunStarted{}, true
	case RunCompletedEvent:
		return &RunCompleted{}, true
	case RunAbortedEvent:
		return &RunAborted{}, true
	case StepSucceededEvent:
		return &StepSucceeded{}, true
	case StepFailedEvent:
		return &StepFailed{}, true
	case SideEffectFinishedEvent:
		return &SideEffectFinished{}, true
	case SeedSavedEvent:
		return &SeedSaved{}, true
	default:
		return nil, false
	}
}
