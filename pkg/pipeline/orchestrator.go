package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dukex/amhsctl/pkg/eventbus"
	"github.com/dukex/amhsctl/pkg/events"
	"github.com/dukex/amhsctl/pkg/lock"
	"github.com/dukex/amhsctl/pkg/log"
	"github.com/dukex/amhsctl/pkg/otelhelper"
	"github.com/dukex/amhsctl/pkg/remote"
	"github.com/dukex/amhsctl/pkg/retry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultName        = "default"
	DefaultPause       = time.Second
	DefaultStepTimeout = 5 * time.Minute
	DefaultLockKey     = "pipeline"
)

var errStopped = errors.New("iteration stopped by caller")

// Caller performs one remote call.
type Caller interface {
	Call(ctx context.Context, req remote.Request) (*remote.Envelope, error)
}

// Recorder receives run measurements.
type Recorder interface {
	RunFinished(pipeline, state string)
	StepFinished(pipeline, step string, succeeded bool, duration time.Duration)
	SideEffectFinished(endpoint string, succeeded bool)
}

// SideEffect is a best-effort call started after the step AfterStep
// succeeds. Its outcome never changes the run.
type SideEffect struct {
	AfterStep string
	Endpoint  string
	Method    string
	Timeout   time.Duration
	Policy    retry.Policy
}

// Budget is the longest time every attempt of the side effect can take.
func (s SideEffect) Budget() time.Duration {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}

	attempts := time.Duration(max(s.Policy.MaxAttempts, 1))

	return attempts*timeout + (attempts-1)*s.Policy.Delay
}

// Orchestrator runs steps strictly in order. Runs sharing a Locker and lock
// key are single-flight.
type Orchestrator struct {
	name        string
	caller      Caller
	pause       time.Duration
	stepTimeout time.Duration
	sideEffect  *SideEffect
	onOutcome   func(retry.Outcome)
	locker      lock.Locker
	lockKey     string
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	recorder    Recorder
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error

	sideEffects sync.WaitGroup

	mu    sync.RWMutex
	state State
}

type Option func(*Orchestrator)

func WithName(name string) Option {
	return func(o *Orchestrator) {
		if name != "" {
			o.name = name
		}
	}
}

// WithPause sets the wait between two successful steps.
func WithPause(pause time.Duration) Option {
	return func(o *Orchestrator) {
		o.pause = pause
	}
}

// WithStepTimeout sets the call timeout of remote steps that do not carry
// their own.
func WithStepTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.stepTimeout = timeout
		}
	}
}

func WithSideEffect(sideEffect SideEffect) Option {
	return func(o *Orchestrator) {
		o.sideEffect = &sideEffect
	}
}

// WithOutcomeHandler observes every side effect outcome.
func WithOutcomeHandler(fn func(retry.Outcome)) Option {
	return func(o *Orchestrator) {
		o.onOutcome = fn
	}
}

func WithLocker(locker lock.Locker, key string) Option {
	return func(o *Orchestrator) {
		o.locker = locker
		if key != "" {
			o.lockKey = key
		}
	}
}

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(o *Orchestrator) {
		o.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = tracer
	}
}

func WithRecorder(recorder Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = recorder
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithSleeper replaces the pause implementation.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		o.sleep = sleep
	}
}

func NewOrchestrator(caller Caller, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		name:        DefaultName,
		caller:      caller,
		pause:       DefaultPause,
		stepTimeout: DefaultStepTimeout,
		locker:      lock.NewLocal(),
		lockKey:     DefaultLockKey,
		publisher:   eventbus.Nop{},
		tracer:      otelhelper.Noop(),
		recorder:    nopRecorder{},
		logger:      slog.Default(),
		sleep:       sleepContext,
	}

	for _, opt := range opts {
		opt(o)
	}

	o.logger = o.logger.With("module", "pipeline", "pipeline", o.name)

	return o
}

func (o *Orchestrator) Name() string {
	return o.name
}

// State returns the state of the latest run.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return o.state
}

func (o *Orchestrator) setState(phase Phase, step int, runID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.state = State{Phase: phase, Step: step, RunID: runID}
}

// Run returns a sequence that executes steps as it is iterated. Each
// iteration is a fresh run. A failed step is the last value produced.
// Stopping the iteration early aborts the run after the current step.
//
// When another run holds the lock, the sequence produces a single failed
// result wrapping ErrRunInProgress and nothing runs.
func (o *Orchestrator) Run(ctx context.Context, steps []StepDescriptor) iter.Seq[StepRunResult] {
	return func(yield func(StepRunResult) bool) {
		o.run(ctx, steps, yield)
	}
}

// Report is one drained run. RunID and Phase come from the run itself, so a
// run started right after it cannot leak into them. A rejected run has no
// RunID and PhaseIdle.
type Report struct {
	RunID   string
	Phase   Phase
	Results []StepRunResult
}

// Execute drains Run. The error reports the step that aborted the run.
func (o *Orchestrator) Execute(ctx context.Context, steps []StepDescriptor) (Report, error) {
	report := Report{Results: make([]StepRunResult, 0, len(steps))}

	var runErr error

	report.RunID, report.Phase = o.run(ctx, steps, func(result StepRunResult) bool {
		report.Results = append(report.Results, result)

		if result.Succeeded {
			return true
		}

		runErr = result.Err
		if result.StepID != "" {
			runErr = fmt.Errorf("step %s failed: %w", result.StepID, result.Err)
		}

		return false
	})

	return report, runErr
}

// RunAll is Execute without the run summary.
func (o *Orchestrator) RunAll(ctx context.Context, steps []StepDescriptor) ([]StepRunResult, error) {
	report, err := o.Execute(ctx, steps)

	return report.Results, err
}

func (o *Orchestrator) run(ctx context.Context, steps []StepDescriptor, yield func(StepRunResult) bool) (string, Phase) {
	unlock, err := o.locker.TryLock(ctx, o.lockKey)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			err = fmt.Errorf("%w: %w", ErrRunInProgress, err)
		}

		o.logger.WarnContext(ctx, "Pipeline run rejected", "error", err)
		yield(StepRunResult{Err: err, Message: err.Error()})

		return "", PhaseIdle
	}

	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			o.logger.WarnContext(ctx, "Failed to release pipeline lock", "error", err)
		}
	}()

	return o.execute(ctx, steps, yield)
}

func (o *Orchestrator) execute(ctx context.Context, steps []StepDescriptor, yield func(StepRunResult) bool) (string, Phase) {
	runID := uuid.NewString()
	started := time.Now()
	logger := o.logger.With("run_id", runID)

	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "pipeline.run",
		attribute.String(otelhelper.PipelineNameKey, o.name),
		attribute.String(otelhelper.RunIDKey, runID),
		attribute.String(otelhelper.TriggerKey, TriggerFromContext(ctx)),
	)
	defer span.End()

	ctx = log.ContextWithLogger(ctx, logger)

	for i, step := range steps {
		if err := step.Validate(); err != nil {
			result := StepRunResult{StepID: step.ID, DisplayName: step.name(), Err: err, Message: err.Error()}
			o.abort(ctx, logger, runID, i, started, result, "invalid")
			otelhelper.SetError(span, err)
			yield(result)

			return runID, PhaseAborted
		}
	}

	ids := make([]string, len(steps))
	for i, step := range steps {
		ids[i] = step.ID
	}

	o.setState(PhaseRunning, 0, runID)
	o.publish(ctx, logger, runID, events.RunStarted{
		BaseEvent: events.NewBaseEvent(events.RunStartedEvent, o.name, runID),
		Steps:     ids,
		Trigger:   TriggerFromContext(ctx),
	})
	logger.InfoContext(ctx, "Pipeline run started", "steps", len(steps))

	for i, step := range steps {
		o.setState(PhaseRunning, i, runID)

		result := o.runStep(ctx, logger, runID, i, step)
		if !result.Succeeded {
			o.abort(ctx, logger, runID, i, started, result, "aborted")
			otelhelper.SetError(span, result.Err, attribute.String(otelhelper.StepIDKey, step.ID))
			yield(result)

			return runID, PhaseAborted
		}

		more := yield(result)

		if o.sideEffect != nil && step.ID == o.sideEffect.AfterStep {
			o.triggerSideEffect(ctx, logger, runID)
		}

		if !more {
			o.abort(ctx, logger, runID, i, started, StepRunResult{StepID: step.ID, Err: errStopped}, "stopped")

			return runID, PhaseAborted
		}

		if i == len(steps)-1 {
			break
		}

		o.setState(PhaseAdvancing, i+1, runID)

		if err := o.sleep(ctx, o.pause); err != nil {
			next := steps[i+1]
			result := StepRunResult{StepID: next.ID, DisplayName: next.name(), Err: err, Message: err.Error()}
			o.abort(ctx, logger, runID, i+1, started, result, "aborted")
			otelhelper.SetError(span, err)
			yield(result)

			return runID, PhaseAborted
		}
	}

	duration := time.Since(started)

	o.setState(PhaseCompleted, len(steps), runID)
	o.recorder.RunFinished(o.name, PhaseCompleted.String())
	o.publish(ctx, logger, runID, events.RunCompleted{
		BaseEvent: events.NewBaseEvent(events.RunCompletedEvent, o.name, runID),
		Duration:  duration,
	})
	otelhelper.SetOK(span)
	logger.InfoContext(ctx, "Pipeline run completed", "duration", duration)

	return runID, PhaseCompleted
}

func (o *Orchestrator) abort(
	ctx context.Context,
	logger *slog.Logger,
	runID string,
	index int,
	started time.Time,
	result StepRunResult,
	reason string,
) {
	duration := time.Since(started)

	o.setState(PhaseAborted, index, runID)
	o.recorder.RunFinished(o.name, reason)

	errText := ""
	if result.Err != nil {
		errText = result.Err.Error()
	}

	o.publish(ctx, logger, runID, events.RunAborted{
		BaseEvent: events.NewBaseEvent(events.RunAbortedEvent, o.name, runID),
		StepID:    result.StepID,
		Error:     errText,
		Duration:  duration,
	})

	logger.WarnContext(ctx, "Pipeline run aborted",
		"reason", reason,
		"step_id", result.StepID,
		"step_index", index,
		"error", result.Err,
	)
}

func (o *Orchestrator) runStep(ctx context.Context, logger *slog.Logger, runID string, index int, step StepDescriptor) StepRunResult {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "pipeline.step",
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepNameKey, step.name()),
		attribute.Int(otelhelper.StepIndexKey, index),
		attribute.String(otelhelper.EndpointKey, step.Endpoint),
	)
	defer span.End()

	logger = logger.With("step_id", step.ID, "step_index", index)
	logger.InfoContext(ctx, "Executing step")

	started := time.Now()
	result := StepRunResult{StepID: step.ID, DisplayName: step.name()}

	switch {
	case ctx.Err() != nil:
		result.Err = ctx.Err()
	case step.IsSynchronousLocalStep:
		result.Message, result.Err = step.Local(ctx)
	default:
		result.Payload, result.Err = o.callRemote(ctx, step)
		if result.Payload != nil {
			result.Message = result.Payload.Message
		}
	}

	result.Duration = time.Since(started)
	result.Succeeded = result.Err == nil

	o.recorder.StepFinished(o.name, step.ID, result.Succeeded, result.Duration)

	if !result.Succeeded {
		if result.Message == "" {
			result.Message = result.Err.Error()
		}

		otelhelper.SetError(span, result.Err)
		logger.ErrorContext(ctx, "Step failed", "error", result.Err, "duration", result.Duration)
		o.publish(ctx, logger, runID, events.StepFailed{
			BaseEvent: events.NewBaseEvent(events.StepFailedEvent, o.name, runID),
			StepID:    step.ID,
			Name:      result.DisplayName,
			Error:     result.Err.Error(),
			Duration:  result.Duration,
		})

		return result
	}

	otelhelper.SetOK(span)
	logger.InfoContext(ctx, "Step succeeded", "duration", result.Duration, "message", result.Message)
	o.publish(ctx, logger, runID, events.StepSucceeded{
		BaseEvent: events.NewBaseEvent(events.StepSucceededEvent, o.name, runID),
		StepID:    step.ID,
		Name:      result.DisplayName,
		Message:   result.Message,
		Duration:  result.Duration,
	})

	return result
}

func (o *Orchestrator) callRemote(ctx context.Context, step StepDescriptor) (*remote.Envelope, error) {
	var body any

	if step.RequestBody != nil {
		built, err := step.RequestBody(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to build request body: %w", err)
		}

		body = built
	}

	method := step.Method
	if method == "" {
		method = http.MethodPost
	}

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = o.stepTimeout
	}

	envelope, err := o.caller.Call(ctx, remote.Request{
		Endpoint: step.Endpoint,
		Method:   method,
		Body:     body,
		Timeout:  timeout,
	})
	if err != nil {
		return nil, err
	}

	return envelope, envelope.Failure(step.Endpoint)
}

func (o *Orchestrator) triggerSideEffect(ctx context.Context, logger *slog.Logger, runID string) {
	sideEffect := *o.sideEffect

	method := sideEffect.Method
	if method == "" {
		method = http.MethodPost
	}

	action := func(ctx context.Context) (*remote.Envelope, error) {
		return o.caller.Call(ctx, remote.Request{
			Endpoint: sideEffect.Endpoint,
			Method:   method,
			Timeout:  sideEffect.Timeout,
		})
	}

	logger = logger.With("side_effect", sideEffect.Endpoint)
	logger.InfoContext(ctx, "Starting side effect", "after_step", sideEffect.AfterStep)

	o.sideEffects.Add(1)

	outcomes := retry.Detach(ctx, action, sideEffect.Policy, logger)
	detached := context.WithoutCancel(ctx)

	go func() {
		defer o.sideEffects.Done()

		outcome := <-outcomes

		o.recorder.SideEffectFinished(sideEffect.Endpoint, outcome.Succeeded)

		errText := ""
		if outcome.Err != nil {
			errText = outcome.Err.Error()
		}

		o.publish(detached, logger, runID, events.SideEffectFinished{
			BaseEvent: events.NewBaseEvent(events.SideEffectFinishedEvent, o.name, runID),
			AfterStep: sideEffect.AfterStep,
			Endpoint:  sideEffect.Endpoint,
			Attempts:  outcome.Attempts,
			Succeeded: outcome.Succeeded,
			Error:     errText,
		})

		if o.onOutcome != nil {
			o.onOutcome(outcome)
		}
	}()
}

// WaitSideEffects blocks until every side effect started so far has reported
// its outcome, or ctx is done. Run results never wait on it.
func (o *Orchestrator) WaitSideEffects(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		o.sideEffects.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) publish(ctx context.Context, logger *slog.Logger, runID string, event eventbus.Event) {
	if err := o.publisher.Publish(ctx, runID, event); err != nil {
		logger.WarnContext(ctx, "Failed to publish pipeline event", "event_type", event.GetType(), "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type nopRecorder struct{}

func (nopRecorder) RunFinished(string, string) {}

func (nopRecorder) StepFinished(string, string, bool, time.Duration) {}

func (nopRecorder) SideEffectFinished(string, bool) {}

type triggerKey struct{}

// ContextWithTrigger labels runs started with ctx, e.g. "api" or "schedule".
func ContextWithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

func TriggerFromContext(ctx context.Context) string {
	if trigger, ok := ctx.Value(triggerKey{}).(string); ok {
		return trigger
	}

	return "manual"
}
