// Package web provides the HTTP panel API for the layout seed and the pipeline.
package web

import (
	"time"

	"github.com/dukex/amhsctl/pkg/form"
	"github.com/dukex/amhsctl/pkg/pipeline"
	"github.com/dukex/amhsctl/pkg/remote"
)

// SeedResponse is the editable projection of the stored seed.
type SeedResponse struct {
	Fields []form.FieldModel `json:"fields"`
}

// SampleRequest selects one of the bundled sample documents.
type SampleRequest struct {
	Number int `validate:"min=1,max=3"`
}

type StepResult struct {
	StepID     string           `json:"step_id"`
	Name       string           `json:"name"`
	Succeeded  bool             `json:"succeeded"`
	Message    string           `json:"message,omitempty"`
	Error      string           `json:"error,omitempty"`
	DurationMS int64            `json:"duration_ms"`
	Payload    *remote.Envelope `json:"payload,omitempty"`
}

// RunResponse reports every step that ran, in order.
type RunResponse struct {
	Pipeline  string       `json:"pipeline"`
	RunID     string       `json:"run_id"`
	State     string       `json:"state"`
	Succeeded bool         `json:"succeeded"`
	Results   []StepResult `json:"results"`
}

func newStepResult(r pipeline.StepRunResult) StepResult {
	result := StepResult{
		StepID:     r.StepID,
		Name:       r.DisplayName,
		Succeeded:  r.Succeeded,
		Message:    r.Message,
		DurationMS: r.Duration.Round(time.Millisecond).Milliseconds(),
		Payload:    r.Payload,
	}

	if r.Err != nil {
		result.Error = r.Err.Error()
	}

	return result
}
