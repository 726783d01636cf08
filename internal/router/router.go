package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/idest-grading-api/internal/config"
	"github.com/noah-isme/idest-grading-api/internal/handler"
	"github.com/noah-isme/idest-grading-api/internal/middleware"
	"github.com/noah-isme/idest-grading-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AssignmentHandler *handler.AssignmentHandler
	SubmissionHandler *handler.SubmissionHandler
	ProgressHandler   *handler.ProgressHandler
	JWTMiddleware     fiber.Handler
	// SubmissionLimiter throttles submission routes; nil disables throttling.
	SubmissionLimiter fiber.Handler
	HealthProbes      []handler.HealthProbe
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes...))

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = middleware.JWTProtected(cfg.JWTSecret)
	}

	if deps.AssignmentHandler != nil {
		assignments := api.Group("/assignments", jwtMiddleware)
		deps.AssignmentHandler.Register(assignments)
	}

	if deps.SubmissionHandler != nil {
		handlers := []fiber.Handler{jwtMiddleware}
		if deps.SubmissionLimiter != nil {
			handlers = append(handlers, deps.SubmissionLimiter)
		}
		submissions := api.Group("/submissions", handlers...)
		deps.SubmissionHandler.Register(submissions)
	}

	if deps.ProgressHandler != nil {
		progress := api.Group("/progress", jwtMiddleware)
		deps.ProgressHandler.Register(progress)
	}
}
