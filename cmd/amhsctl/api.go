package main

import (
	"github.com/dukex/amhsctl/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

// App builds the panel API over the application components.
func (a *application) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.seeds, a.orchestrator, a.plan.Steps, a.validate,
		web.WithPublisher(a.eventBus),
		web.WithRecorder(a.metrics),
		web.WithLogger(a.logger),
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("AMHS layout panel")
	})

	app.Get("/health", handlers.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(a.metrics.Handler()))

	api := app.Group("/api")
	api.Get("/seed", handlers.GetSeed)
	api.Post("/seed", handlers.SaveSeed)
	api.Post("/seed/samples/:number", handlers.LoadSample)
	api.Get("/pipeline", handlers.GetPipelineState)
	api.Post("/pipeline/runs", handlers.RunPipeline)

	return app
}
