package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/dukex/flowgraph/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger   *slog.Logger
	handlers *web.APIHandlers
	metrics  fiber.Handler
	app      *fiber.App
}

func NewAPI(logger *slog.Logger, handlers *web.APIHandlers, metrics fiber.Handler) *API {
	return &API{
		logger:   logger,
		handlers: handlers,
		metrics:  metrics,
	}
}

func (a *API) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Flowgraph API")
	})

	if a.metrics != nil {
		app.Get("/metrics", a.metrics)
	}

	a.handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	a.app = a.App()

	return a.app.Listen(":" + strconv.Itoa(port))
}

func (a *API) Shutdown(ctx context.Context) error {
	if a.app == nil {
		return nil
	}

	return a.app.ShutdownWithContext(ctx)
}
