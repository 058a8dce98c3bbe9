package server

import (
	"log"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"

	"pulse-feed-core/internal/bootstrap"
	"pulse-feed-core/internal/config"
)

// Server is the debug/health surface of the headless sync daemon. The
// synchronized state itself is consumed in-process; this only exposes
// liveness and cache occupancy.
type Server struct {
	app       *fiber.App
	cfg       *config.Config
	container *bootstrap.Container
}

func New(cfg *config.Config, container *bootstrap.Container) *Server {
	app := fiber.New(fiber.Config{
		AppName: "pulse-feed-syncd",
	})

	// OpenTelemetry tracing middleware (traces all HTTP requests)
	app.Use(otelfiber.Middleware())

	registerRoutes(app, container)

	return &Server{
		app:       app,
		cfg:       cfg,
		container: container,
	}
}

func (s *Server) GetApp() *fiber.App {
	return s.app
}

func (s *Server) Run() error {
	log.Printf("Sync daemon debug server listening on http://localhost:%s", s.cfg.App.Port)
	return s.app.Listen(":" + s.cfg.App.Port)
}

func registerRoutes(app *fiber.App, c *bootstrap.Container) {
	app.Get("/healthz", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/debug/sync", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{
			"connected":   c.Channel.IsConnected(),
			"state":       c.Channel.State(),
			"collections": c.Cache.Stats(),
		})
	})
}
