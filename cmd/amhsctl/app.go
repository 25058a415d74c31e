package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/amhsctl/pkg/cmd"
	"github.com/dukex/amhsctl/pkg/config"
	"github.com/dukex/amhsctl/pkg/eventbus"
	"github.com/dukex/amhsctl/pkg/log"
	"github.com/dukex/amhsctl/pkg/metrics"
	"github.com/dukex/amhsctl/pkg/otelhelper"
	"github.com/dukex/amhsctl/pkg/pipeline"
	"github.com/dukex/amhsctl/pkg/remote"
	"github.com/dukex/amhsctl/pkg/store"
	"github.com/go-playground/validator/v10"
)

// application holds the components shared by every command.
type application struct {
	settings     config.Settings
	logger       *slog.Logger
	client       *remote.Client
	seeds        *store.Store
	plan         *pipeline.Plan
	orchestrator *pipeline.Orchestrator
	metrics      *metrics.Metrics
	eventBus     eventbus.EventBus
	validate     *validator.Validate

	closers []func(context.Context) error
}

func newApplication(ctx context.Context, settings config.Settings) (*application, error) {
	log.Setup(settings.LogLevel, settings.LogFormat)

	app := &application{
		settings: settings,
		logger:   log.WithModule("amhsctl"),
		metrics:  metrics.New(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}

	if err := app.init(ctx); err != nil {
		app.Close(ctx)

		return nil, err
	}

	return app, nil
}

func (a *application) init(ctx context.Context) error {
	opts := []remote.Option{remote.WithLogger(a.logger)}
	for name, value := range a.settings.Headers {
		opts = append(opts, remote.WithHeader(name, value))
	}

	a.client = remote.NewClient(a.settings.ServerURL, opts...)

	storeOpts := []store.Option{store.WithLogger(a.logger)}

	if a.settings.SchemaFile != "" {
		schema, err := store.LoadSchemaFile(a.settings.SchemaFile)
		if err != nil {
			return err
		}

		storeOpts = append(storeOpts, store.WithSchema(schema))
	}

	a.seeds = store.New(a.client, storeOpts...)

	plan, err := a.compilePlan()
	if err != nil {
		return err
	}

	a.plan = plan

	a.eventBus, err = cmd.NewEventBus(a.settings.EventBus, a.settings.KafkaBrokers, a.logger)
	if err != nil {
		return err
	}

	a.closers = append(a.closers, func(context.Context) error { return a.eventBus.Close() })

	locker, closeLocker, err := cmd.NewLocker(a.settings.RedisURL, a.settings.LockTTL)
	if err != nil {
		return err
	}

	a.closers = append(a.closers, func(context.Context) error { return closeLocker() })

	tracer := otelhelper.Noop()

	if a.settings.Tracing {
		t, shutdown, err := otelhelper.NewTracer(ctx, cmd.ServiceName)
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}

		tracer = t
		a.closers = append(a.closers, shutdown)
	}

	orchestratorOpts := append(plan.Options(),
		pipeline.WithLocker(locker, pipeline.DefaultLockKey),
		pipeline.WithPublisher(a.eventBus),
		pipeline.WithTracer(tracer),
		pipeline.WithRecorder(a.metrics),
		pipeline.WithLogger(a.logger),
	)

	a.orchestrator = pipeline.NewOrchestrator(a.client, orchestratorOpts...)

	return nil
}

func (a *application) compilePlan() (*pipeline.Plan, error) {
	definition, err := loadDefinition(a.settings.PipelineFile)
	if err != nil {
		return nil, err
	}

	reg, err := cmd.NewRegistry(a.logger, a.seeds)
	if err != nil {
		return nil, err
	}

	plan, err := definition.Compile(reg)
	if err != nil {
		return nil, err
	}

	applyOverrides(plan, a.settings.Pipeline)

	return plan, nil
}

func loadDefinition(path string) (*pipeline.Definition, error) {
	if path == "" {
		return pipeline.DefaultDefinition()
	}

	return pipeline.LoadDefinition(path)
}

func applyOverrides(plan *pipeline.Plan, overrides config.PipelineOverrides) {
	if overrides.Pause != nil {
		plan.Pause = *overrides.Pause
	}

	if overrides.StepTimeout != nil {
		plan.Timeout = *overrides.StepTimeout
	}

	if plan.SideEffect == nil {
		return
	}

	if overrides.SideEffectAttempts != nil {
		plan.SideEffect.Policy.MaxAttempts = *overrides.SideEffectAttempts
	}

	if overrides.SideEffectDelay != nil {
		plan.SideEffect.Policy.Delay = *overrides.SideEffectDelay
	}
}

// sideEffectSlack is added to the side effect budget when draining on close.
const sideEffectSlack = 5 * time.Second

// Close waits for pending side effects, then releases resources in reverse
// order of creation. The event bus stays open until side effects report.
func (a *application) Close(ctx context.Context) {
	a.drainSideEffects(ctx)

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.ErrorContext(ctx, "Failed to release resource", "error", err)
		}
	}

	a.closers = nil
}

func (a *application) drainSideEffects(ctx context.Context) {
	if a.orchestrator == nil || a.plan == nil || a.plan.SideEffect == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.plan.SideEffect.Budget()+sideEffectSlack)
	defer cancel()

	if err := a.orchestrator.WaitSideEffects(ctx); err != nil {
		a.logger.WarnContext(ctx, "Side effect still running at shutdown", "error", err)
	}
}
