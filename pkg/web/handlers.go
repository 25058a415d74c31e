package web

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/amhsctl/pkg/document"
	"github.com/dukex/amhsctl/pkg/eventbus"
	"github.com/dukex/amhsctl/pkg/events"
	"github.com/dukex/amhsctl/pkg/form"
	"github.com/dukex/amhsctl/pkg/pipeline"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const (
	SourceForm   = "form"
	SourceSample = "sample"

	seedEventKey = "seed"
)

var errFieldsNotObject = errors.New("fields must be an object of field name to text")

// SeedStore is the remote document store backing the seed editor.
type SeedStore interface {
	Load(ctx context.Context) (*document.Document, error)
	LoadSample(ctx context.Context, number int) (*document.Document, error)
	Save(ctx context.Context, doc *document.Document) error
}

// Runner executes pipeline steps one run at a time.
type Runner interface {
	Name() string
	State() pipeline.State
	Execute(ctx context.Context, steps []pipeline.StepDescriptor) (pipeline.Report, error)
}

type Recorder interface {
	SeedSaved(source string, succeeded bool)
}

type APIHandlers struct {
	seeds     SeedStore
	runner    Runner
	steps     []pipeline.StepDescriptor
	validator *validator.Validate
	publisher eventbus.EventPublisher
	recorder  Recorder
	logger    *slog.Logger
}

type Option func(*APIHandlers)

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(h *APIHandlers) {
		h.publisher = publisher
	}
}

func WithRecorder(recorder Recorder) Option {
	return func(h *APIHandlers) {
		h.recorder = recorder
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *APIHandlers) {
		h.logger = logger
	}
}

func NewAPIHandlers(
	seeds SeedStore,
	runner Runner,
	steps []pipeline.StepDescriptor,
	validator *validator.Validate,
	opts ...Option,
) *APIHandlers {
	h := &APIHandlers{
		seeds:     seeds,
		runner:    runner,
		steps:     steps,
		validator: validator,
		publisher: eventbus.Nop{},
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(h)
	}

	h.logger = h.logger.With("module", "web")

	return h
}

func (h *APIHandlers) GetSeed(c fiber.Ctx) error {
	doc, err := h.seeds.Load(c.Context())
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(SeedResponse{Fields: form.Project(doc)})
}

// SaveSeed accepts either {"fields": {name: text}} or an urlencoded form and
// replaces the stored seed with the reconstructed document.
func (h *APIHandlers) SaveSeed(c fiber.Ctx) error {
	pairs, err := h.parseSubmission(c)
	if err != nil {
		return handleError(c, err)
	}

	doc, err := form.ReconstructPairs(pairs)
	if err != nil {
		return handleError(c, err)
	}

	if err := h.save(c.Context(), doc, SourceForm, len(pairs)); err != nil {
		return handleError(c, err)
	}

	return c.JSON(SeedResponse{Fields: form.Project(doc)})
}

func (h *APIHandlers) parseSubmission(c fiber.Ctx) ([]form.Pair, error) {
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationForm) {
		pairs := make([]form.Pair, 0)

		c.RequestCtx().PostArgs().VisitAll(func(key, value []byte) {
			pairs = append(pairs, form.Pair{Name: string(key), Text: string(value)})
		})

		return pairs, nil
	}

	body, err := document.Parse(c.Body())
	if err != nil {
		return nil, errors.Join(errFieldsNotObject, err)
	}

	fields, ok := body.Get("fields")
	if !ok || fields.Kind() != document.KindNested {
		return nil, errFieldsNotObject
	}

	return form.PairsFromDocument(fields.Document())
}

// LoadSample replaces the stored seed with a bundled sample.
func (h *APIHandlers) LoadSample(c fiber.Ctx) error {
	number, err := strconv.Atoi(c.Params("number"))
	if err != nil {
		return badRequest(c, "Sample number must be an integer")
	}

	req := SampleRequest{Number: number}
	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	doc, err := h.seeds.LoadSample(c.Context(), req.Number)
	if err != nil {
		return handleError(c, err)
	}

	fields := form.Project(doc)

	if err := h.save(c.Context(), doc, SourceSample, len(fields)); err != nil {
		return handleError(c, err)
	}

	return c.JSON(SeedResponse{Fields: fields})
}

func (h *APIHandlers) save(ctx context.Context, doc *document.Document, source string, fields int) error {
	err := h.seeds.Save(ctx, doc)

	if h.recorder != nil {
		h.recorder.SeedSaved(source, err == nil)
	}

	if err != nil {
		h.logger.WarnContext(ctx, "Failed to save seed", "source", source, "error", err)

		return err
	}

	event := events.SeedSaved{
		BaseEvent: events.NewBaseEvent(events.SeedSavedEvent, "", ""),
		Fields:    fields,
		Source:    source,
	}

	if err := h.publisher.Publish(ctx, seedEventKey, event); err != nil {
		h.logger.WarnContext(ctx, "Failed to publish seed event", "error", err)
	}

	return nil
}

// RunPipeline runs every configured step and reports the results. A failed
// step is part of a normal response; only a concurrent run is an error.
func (h *APIHandlers) RunPipeline(c fiber.Ctx) error {
	ctx := pipeline.ContextWithTrigger(c.Context(), "api")

	report, err := h.runner.Execute(ctx, h.steps)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		return handleError(c, err)
	}

	response := RunResponse{
		Pipeline:  h.runner.Name(),
		RunID:     report.RunID,
		State:     report.Phase.String(),
		Succeeded: err == nil,
		Results:   make([]StepResult, 0, len(report.Results)),
	}

	for _, result := range report.Results {
		response.Results = append(response.Results, newStepResult(result))
	}

	return c.JSON(response)
}

func (h *APIHandlers) GetPipelineState(c fiber.Ctx) error {
	state := h.runner.State()

	return c.JSON(fiber.Map{
		"pipeline": h.runner.Name(),
		"run_id":   state.RunID,
		"state":    state.Phase.String(),
		"step":     state.Step,
		"steps":    len(h.steps),
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"pipeline":  h.runner.Name(),
		"timestamp": time.Now().UTC(),
	})
}
