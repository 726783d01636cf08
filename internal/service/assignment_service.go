package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/noah-isme/idest-grading-api/internal/dto"
	"github.com/noah-isme/idest-grading-api/internal/models"
	"github.com/noah-isme/idest-grading-api/internal/repository"
	"github.com/noah-isme/idest-grading-api/internal/utils"
)

// DefaultAssignmentPageSize is used when a listing does not ask for a page size.
const DefaultAssignmentPageSize = 20

// AssignmentService exposes assignment domain use cases.
type AssignmentService interface {
	List(ctx context.Context, filter dto.AssignmentFilter) ([]dto.AssignmentSummary, int64, error)
	Get(ctx context.Context, id string) (dto.AssignmentResponse, error)
	Create(ctx context.Context, authorID string, payload dto.AssignmentCreateRequest) (dto.AssignmentResponse, error)
	Delete(ctx context.Context, id string) error
}

type assignmentService struct {
	repo      repository.AssignmentRepository
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewAssignmentService builds a new assignment service.
func NewAssignmentService(repo repository.AssignmentRepository, validate *validator.Validate, logger zerolog.Logger) AssignmentService {
	return &assignmentService{
		repo:      repo,
		validator: validate,
		logger:    logger.With().Str("component", "assignment_service").Logger(),
	}
}

func (s *assignmentService) List(ctx context.Context, filter dto.AssignmentFilter) ([]dto.AssignmentSummary, int64, error) {
	if err := s.validator.Struct(filter); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultAssignmentPageSize
	}

	assignments, total, err := s.repo.List(ctx, repository.AssignmentFilter{
		Skill:    models.Skill(filter.Skill),
		Page:     filter.Page,
		PageSize: limit,
	})
	if err != nil {
		return nil, 0, err
	}

	return dto.NewAssignmentSummarySlice(assignments), total, nil
}

func (s *assignmentService) Get(ctx context.Context, id string) (dto.AssignmentResponse, error) {
	assignment, err := s.repo.FindByID(ctx, id, "")
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AssignmentResponse{}, ErrAssignmentNotFound
		}
		return dto.AssignmentResponse{}, err
	}

	return dto.NewAssignmentResponse(assignment), nil
}

func (s *assignmentService) Create(ctx context.Context, authorID string, payload dto.AssignmentCreateRequest) (dto.AssignmentResponse, error) {
	tracer := otel.Tracer("github.com/noah-isme/idest-grading-api/internal/service/assignment")
	ctx, span := tracer.Start(ctx, "assignment.create")
	span.SetAttributes(attribute.String("assignment.skill", payload.Skill))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.AssignmentResponse{}, err
	}

	skill := models.Skill(payload.Skill)
	assignment := models.Assignment{
		CreatedBy:   authorID,
		ClassID:     strings.TrimSpace(payload.ClassID),
		Skill:       skill,
		Title:       strings.TrimSpace(payload.Title),
		Description: strings.TrimSpace(payload.Description),
		IsPublic:    payload.IsPublic,
	}

	switch skill {
	case models.SkillReading, models.SkillListening:
		if err := validateSections(skill, payload.Sections); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid_sections")
			return dto.AssignmentResponse{}, err
		}
		assignment.SetSections(payload.Sections)
	case models.SkillWriting:
		if payload.Writing == nil || strings.TrimSpace(payload.Writing.TaskOne) == "" || strings.TrimSpace(payload.Writing.TaskTwo) == "" {
			return dto.AssignmentResponse{}, fmt.Errorf("%w: writing tasks one and two", ErrMissingContent)
		}
		assignment.SetWritingContent(*payload.Writing)
	case models.SkillSpeaking:
		if err := validateSpeaking(payload.Speaking); err != nil {
			return dto.AssignmentResponse{}, err
		}
		assignment.SetSpeakingContent(*payload.Speaking)
	}

	slug, err := s.resolveSlug(ctx, payload.Slug, assignment.Title)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "slug_unavailable")
		return dto.AssignmentResponse{}, err
	}
	assignment.Slug = slug

	if err := s.repo.Create(ctx, &assignment); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assignment_create_failed")
		return dto.AssignmentResponse{}, err
	}

	span.SetAttributes(attribute.String("assignment.id", assignment.ID))
	s.logger.Info().Str("assignment_id", assignment.ID).Str("skill", string(skill)).Str("slug", slug).Msg("assignment created")

	return dto.NewAssignmentResponse(assignment), nil
}

func (s *assignmentService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAssignmentNotFound
		}
		return err
	}

	s.logger.Info().Str("assignment_id", id).Msg("assignment deleted")
	return nil
}

func (s *assignmentService) resolveSlug(ctx context.Context, requested, title string) (string, error) {
	if strings.TrimSpace(requested) == "" {
		return utils.GenerateSlug(title, "assignment"), nil
	}

	slug := utils.Slugify(requested)
	if slug == "" {
		return utils.GenerateSlug(title, "assignment"), nil
	}

	exists, err := s.repo.SlugExists(ctx, slug)
	if err != nil {
		return "", err
	}
	if exists {
		return "", ErrSlugTaken
	}
	return slug, nil
}

// validateSections checks that every section carries the material kind of the skill
// and that every question has a known type with a decodable answer key.
func validateSections(skill models.Skill, sections []models.Section) error {
	if len(sections) == 0 {
		return fmt.Errorf("%w: at least one section is required", ErrInvalidMaterial)
	}

	want := models.MaterialKind(skill)
	sectionIDs := make(map[string]struct{}, len(sections))
	for _, section := range sections {
		if strings.TrimSpace(section.ID) == "" {
			return fmt.Errorf("%w: section id is required", ErrInvalidMaterial)
		}
		if _, dup := sectionIDs[section.ID]; dup {
			return fmt.Errorf("%w: duplicate section %q", ErrInvalidMaterial, section.ID)
		}
		sectionIDs[section.ID] = struct{}{}

		material := section.Material
		if material.Type != want {
			return fmt.Errorf("%w: section %q has %q material, expected %q", ErrInvalidMaterial, section.ID, material.Type, want)
		}
		if want == models.MaterialReading && strings.TrimSpace(material.DocumentMD) == "" {
			return fmt.Errorf("%w: section %q is missing its passage", ErrInvalidMaterial, section.ID)
		}
		if want == models.MaterialListening && (material.Audio == nil || strings.TrimSpace(material.Audio.URL) == "") {
			return fmt.Errorf("%w: section %q is missing its audio", ErrInvalidMaterial, section.ID)
		}

		questionIDs := map[string]struct{}{}
		for _, group := range section.QuestionGroups {
			for _, question := range group.Questions {
				if strings.TrimSpace(question.ID) == "" {
					return fmt.Errorf("%w: question id is required in section %q", ErrInvalidMaterial, section.ID)
				}
				if _, dup := questionIDs[question.ID]; dup {
					return fmt.Errorf("%w: duplicate question %q in section %q", ErrInvalidMaterial, question.ID, section.ID)
				}
				questionIDs[question.ID] = struct{}{}

				if !question.Type.Known() {
					return fmt.Errorf("%w: %q", ErrUnsupportedQuestionType, question.Type)
				}
				if err := question.KeyError(); err != nil {
					return fmt.Errorf("%w: question %q: %v", ErrInvalidAnswerKey, question.ID, err)
				}
			}
		}
	}

	return nil
}

func validateSpeaking(content *models.SpeakingContent) error {
	if content == nil || len(content.Parts) == 0 {
		return fmt.Errorf("%w: speaking parts", ErrMissingContent)
	}
	if len(content.Parts) > len(dto.AudioPartKeys) {
		return fmt.Errorf("%w: at most %d speaking parts", ErrInvalidMaterial, len(dto.AudioPartKeys))
	}

	seen := map[int]struct{}{}
	for _, part := range content.Parts {
		if part.PartNumber < 1 || part.PartNumber > len(dto.AudioPartKeys) {
			return fmt.Errorf("%w: part number %d", ErrInvalidMaterial, part.PartNumber)
		}
		if _, dup := seen[part.PartNumber]; dup {
			return fmt.Errorf("%w: duplicate part %d", ErrInvalidMaterial, part.PartNumber)
		}
		seen[part.PartNumber] = struct{}{}
		if len(part.Questions) == 0 {
			return fmt.Errorf("%w: part %d has no questions", ErrMissingContent, part.PartNumber)
		}
	}
	return nil
}
