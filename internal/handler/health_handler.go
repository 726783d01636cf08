package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/idest-grading-api/internal/config"
	"github.com/noah-isme/idest-grading-api/internal/utils"
)

const healthProbeTimeout = 2 * time.Second

// HealthProbe checks one backing dependency.
type HealthProbe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status       string            `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
	Service      string            `json:"service"`
	Environment  string            `json:"environment"`
	QueueDriver  string            `json:"queue_driver"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// HealthCheck reports service metadata and the state of each probe. A failing probe turns the
// status into "degraded" and the response into 503.
func HealthCheck(cfg config.Config, probes ...HealthProbe) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
			QueueDriver: cfg.QueueDriver,
		}

		if len(probes) > 0 {
			payload.Dependencies = make(map[string]string, len(probes))
		}
		for _, probe := range probes {
			ctx, cancel := context.WithTimeout(c.UserContext(), healthProbeTimeout)
			err := probe.Check(ctx)
			cancel()
			if err != nil {
				payload.Status = "degraded"
				payload.Dependencies[probe.Name] = "down: " + err.Error()
				continue
			}
			payload.Dependencies[probe.Name] = "up"
		}

		if payload.Status != "ok" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(utils.APIResponse{
				Success: false,
				Message: "service degraded",
				Data:    payload,
			})
		}
		return utils.SendSuccess(c, "service healthy", payload)
	}
}
