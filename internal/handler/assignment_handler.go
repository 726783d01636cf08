package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/idest-grading-api/internal/dto"
	"github.com/noah-isme/idest-grading-api/internal/middleware"
	"github.com/noah-isme/idest-grading-api/internal/service"
	"github.com/noah-isme/idest-grading-api/internal/utils"
)

// AssignmentHandler wires assignment HTTP routes.
type AssignmentHandler struct {
	service service.AssignmentService
	logger  zerolog.Logger
}

// NewAssignmentHandler constructs the handler.
func NewAssignmentHandler(service service.AssignmentService, logger zerolog.Logger) *AssignmentHandler {
	return &AssignmentHandler{
		service: service,
		logger:  logger.With().Str("component", "assignment_handler").Logger(),
	}
}

// Register attaches assignment endpoints to the router group. Authoring requires a teacher or admin.
func (h *AssignmentHandler) Register(router fiber.Router) {
	router.Get("", h.list)
	router.Get("/:id", h.get)
	router.Post("", middleware.RequireStaff(), h.create)
	router.Delete("/:id", middleware.RequireStaff(), h.delete)
}

func (h *AssignmentHandler) list(c *fiber.Ctx) error {
	var filter dto.AssignmentFilter
	if err := c.QueryParser(&filter); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	items, total, err := h.service.List(c.UserContext(), filter)
	if err != nil {
		return respondServiceError(c, *requestLogger(h.logger, c), err)
	}

	page, limit := filter.Page, filter.Limit
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = service.DefaultAssignmentPageSize
	}
	return utils.OK(c, items, "assignments retrieved", utils.NewPageMeta(page, limit, total))
}

func (h *AssignmentHandler) get(c *fiber.Ctx) error {
	assignment, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondServiceError(c, *requestLogger(h.logger, c), err)
	}
	return utils.SendSuccess(c, "assignment retrieved", assignment)
}

func (h *AssignmentHandler) create(c *fiber.Ctx) error {
	var payload dto.AssignmentCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	assignment, err := h.service.Create(c.UserContext(), userIDFromContext(c), payload)
	if err != nil {
		return respondServiceError(c, *requestLogger(h.logger, c), err)
	}

	requestLogger(h.logger, c).Info().
		Str("assignment_id", assignment.ID).
		Str("skill", string(assignment.Skill)).
		Msg("assignment created")
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "assignment created", assignment)
}

func (h *AssignmentHandler) delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.service.Delete(c.UserContext(), id); err != nil {
		return respondServiceError(c, *requestLogger(h.logger, c), err)
	}
	return utils.SendSuccess(c, "assignment deleted", fiber.Map{"id": id})
}
