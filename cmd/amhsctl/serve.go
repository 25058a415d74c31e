package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukex/amhsctl/pkg/events"
	"github.com/dukex/amhsctl/pkg/pipeline"
	"github.com/dukex/amhsctl/pkg/schedule"
	"github.com/gofiber/fiber/v3"
	cli "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the panel API and the optional pipeline schedule",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   9099,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron expression running the pipeline periodically",
				Sources: cli.EnvVars("AMHS_SCHEDULE"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			settings, err := loadSettings(command)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := newApplication(ctx, settings)
			if err != nil {
				return err
			}

			defer app.Close(context.WithoutCancel(ctx))

			return app.serve(ctx)
		},
	}
}

func (a *application) serve(ctx context.Context) error {
	a.logger.InfoContext(ctx, "Initializing AMHS panel",
		"server_url", a.settings.ServerURL,
		"pipeline", a.plan.Name,
		"steps", len(a.plan.Steps),
	)

	if err := a.subscribeEvents(ctx); err != nil {
		return err
	}

	var scheduler *schedule.Scheduler

	if a.settings.Schedule != "" {
		s, err := schedule.New(a.settings.Schedule, a.scheduledRun, a.logger)
		if err != nil {
			return err
		}

		if err := s.Start(ctx); err != nil {
			return err
		}

		scheduler = s
	}

	server := a.App()
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return server.Listen(":"+strconv.Itoa(a.settings.Port), fiber.ListenConfig{DisableStartupMessage: true})
	})

	group.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if scheduler != nil {
			if err := scheduler.Stop(shutdownCtx); err != nil {
				a.logger.WarnContext(shutdownCtx, "Scheduler did not stop cleanly", "error", err)
			}
		}

		return server.ShutdownWithContext(shutdownCtx)
	})

	a.logger.InfoContext(ctx, "Panel API listening", "port", a.settings.Port)

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (a *application) scheduledRun(ctx context.Context) error {
	_, err := a.orchestrator.RunAll(pipeline.ContextWithTrigger(ctx, "schedule"), a.plan.Steps)

	return err
}

// subscribeEvents logs the run outcomes seen on the bus, including those of
// other panel instances when the bus is shared.
func (a *application) subscribeEvents(ctx context.Context) error {
	logger := a.logger.With("module", "events")

	handlers := map[events.EventType]func(ctx context.Context, event any) error{
		events.RunCompletedEvent: func(ctx context.Context, event any) error {
			if e, ok := event.(*events.RunCompleted); ok {
				logger.InfoContext(ctx, "Run completed", "run_id", e.RunID, "pipeline", e.Pipeline, "duration", e.Duration)
			}

			return nil
		},
		events.RunAbortedEvent: func(ctx context.Context, event any) error {
			if e, ok := event.(*events.RunAborted); ok {
				logger.WarnContext(ctx, "Run aborted", "run_id", e.RunID, "step_id", e.StepID, "error", e.Error)
			}

			return nil
		},
		events.SideEffectFinishedEvent: func(ctx context.Context, event any) error {
			if e, ok := event.(*events.SideEffectFinished); ok && !e.Succeeded {
				logger.WarnContext(ctx, "Side effect gave up", "run_id", e.RunID, "endpoint", e.Endpoint, "attempts", e.Attempts)
			}

			return nil
		},
	}

	for eventType, handler := range handlers {
		if err := a.eventBus.Handle(eventType, handler); err != nil {
			return err
		}
	}

	return a.eventBus.Subscribe(ctx)
}
