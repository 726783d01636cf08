package handler

import (
	"io"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/idest-grading-api/internal/dto"
	"github.com/noah-isme/idest-grading-api/internal/middleware"
	"github.com/noah-isme/idest-grading-api/internal/models"
	"github.com/noah-isme/idest-grading-api/internal/service"
	"github.com/noah-isme/idest-grading-api/internal/utils"
)

// SubmissionHandler manages submission endpoints.
type SubmissionHandler struct {
	service service.SubmissionService
	logger  zerolog.Logger
}

// NewSubmissionHandler builds a submission handler instance.
func NewSubmissionHandler(service service.SubmissionService, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service: service,
		logger:  logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group. Every route needs an authenticated user.
func (h *SubmissionHandler) Register(router fiber.Router) {
	router.Use(middleware.RequireUser())
	router.Post("/reading", h.submitObjective(models.SkillReading))
	router.Post("/listening", h.submitObjective(models.SkillListening))
	router.Post("/writing", h.submitWriting)
	router.Post("/speaking", h.submitSpeaking)
	router.Get("/mine", h.listMine)
	router.Get("/:id", h.get)
	router.Get("/:id/events", h.events)
}

func (h *SubmissionHandler) submitObjective(skill models.Skill) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var payload dto.ObjectiveSubmissionRequest
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}

		submission, err := h.service.SubmitObjective(c.UserContext(), userIDFromContext(c), skill, payload)
		if err != nil {
			return respondServiceError(c, *requestLogger(h.logger, c), err)
		}

		return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submission graded", submission)
	}
}

func (h *SubmissionHandler) submitWriting(c *fiber.Ctx) error {
	var payload dto.WritingSubmissionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	submission, err := h.service.SubmitWriting(c.UserContext(), userIDFromContext(c), payload)
	if err != nil {
		return respondServiceError(c, *requestLogger(h.logger, c), err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "submission queued for grading", submission)
}

func (h *SubmissionHandler) submitSpeaking(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "multipart form data expected")
	}

	payload := dto.SpeakingSubmissionRequest{AssignmentID: firstValue(form.Value["assignment_id"])}
	for i, key := range dto.AudioPartKeys {
		files := form.File[key]
		if len(files) == 0 {
			continue
		}

		upload, err := readUpload(files[0])
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "could not read "+key)
		}
		payload.Parts[i] = upload
	}

	submission, err := h.service.SubmitSpeaking(c.UserContext(), userIDFromContext(c), payload)
	if err != nil {
		return respondServiceError(c, *requestLogger(h.logger, c), err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "submission queued for grading", submission)
}

func (h *SubmissionHandler) listMine(c *fiber.Ctx) error {
	var filter dto.SubmissionFilter
	if err := c.QueryParser(&filter); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	items, total, err := h.service.ListMine(c.UserContext(), userIDFromContext(c), filter)
	if err != nil {
		return respondServiceError(c, *requestLogger(h.logger, c), err)
	}

	page, limit := filter.Page, filter.Limit
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = service.DefaultListLimit
	}
	return utils.OK(c, items, "submissions retrieved", utils.NewPageMeta(page, limit, total))
}

func (h *SubmissionHandler) get(c *fiber.Ctx) error {
	submission, err := h.service.Get(c.UserContext(), c.Params("id"), viewerFromContext(c))
	if err != nil {
		return respondServiceError(c, *requestLogger(h.logger, c), err)
	}
	return utils.SendSuccess(c, "submission retrieved", submission)
}

func (h *SubmissionHandler) events(c *fiber.Ctx) error {
	events, err := h.service.Events(c.UserContext(), c.Params("id"), viewerFromContext(c))
	if err != nil {
		return respondServiceError(c, *requestLogger(h.logger, c), err)
	}
	return utils.SendSuccess(c, "submission events retrieved", events)
}

func firstValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func readUpload(header *multipart.FileHeader) (*dto.AudioUpload, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}

	return &dto.AudioUpload{
		Data:         data,
		MimeType:     header.Header.Get("Content-Type"),
		OriginalName: header.Filename,
	}, nil
}
