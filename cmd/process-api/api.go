package main

import (
	"log/slog"
	"strconv"

	"github.com/dukex/portal-processes/pkg/persistence"
	"github.com/dukex/portal-processes/pkg/processes"
	"github.com/dukex/portal-processes/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
)

type API struct {
	logger       *slog.Logger
	persistence  persistence.Persistence
	gateway      *processes.Gateway
	initialSteps web.InitialStepsFunc
	gatherer     prometheus.Gatherer
	validate     *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	gateway *processes.Gateway,
	initialSteps web.InitialStepsFunc,
	gatherer prometheus.Gatherer,
) *API {
	return &API{
		logger:       logger,
		persistence:  persistence,
		gateway:      gateway,
		initialSteps: initialSteps,
		gatherer:     gatherer,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	apiHandlers := web.NewAPIHandlers(a.gateway, a.persistence, a.validate, a.initialSteps)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Portal Processes API")
	})

	p := app.Group("/processes")
	p.Post("/", apiHandlers.CreateProcess)
	p.Get("/:id", apiHandlers.GetProcess)
	p.Post("/:id/retrigger", apiHandlers.RetriggerStep)
	p.Post("/:id/complete", apiHandlers.CompleteStep)

	app.Get("/health", apiHandlers.HealthCheck)
	app.Get("/metrics", web.MetricsHandler(a.gatherer))

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	a.logger.Info("Starting process API", "port", port)

	return app.Listen(":" + strconv.Itoa(port))
}
