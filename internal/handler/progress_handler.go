package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/idest-grading-api/internal/middleware"
	"github.com/noah-isme/idest-grading-api/internal/service"
	"github.com/noah-isme/idest-grading-api/internal/utils"
)

// ProgressHandler exposes the learner progress summary.
type ProgressHandler struct {
	service service.ProgressService
	logger  zerolog.Logger
}

// NewProgressHandler creates a new handler instance.
func NewProgressHandler(service service.ProgressService, logger zerolog.Logger) *ProgressHandler {
	return &ProgressHandler{
		service: service,
		logger:  logger.With().Str("component", "progress_handler").Logger(),
	}
}

// Register attaches the progress endpoints. Staff may read any learner's summary.
func (h *ProgressHandler) Register(router fiber.Router) {
	router.Get("", h.getProgress)
	router.Get("/:userId", middleware.RequireStaff(), h.getLearnerProgress)
}

func (h *ProgressHandler) getProgress(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "missing user context")
	}

	progress, err := h.service.GetProgress(c.UserContext(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("failed to load progress")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load progress")
	}

	return utils.SendSuccess(c, "progress retrieved", progress)
}

func (h *ProgressHandler) getLearnerProgress(c *fiber.Ctx) error {
	learnerID := strings.TrimSpace(c.Params("userId"))
	if learnerID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "user id is required")
	}

	progress, err := h.service.GetProgress(c.UserContext(), learnerID)
	if err != nil {
		h.logger.Error().Err(err).Str("learner_id", learnerID).Msg("failed to load learner progress")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load progress")
	}

	return utils.SendSuccess(c, "progress retrieved", progress)
}
