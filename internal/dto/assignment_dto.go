package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/idest-grading-api/internal/models"
)

// AssignmentCreateRequest describes the payload for publishing a new assignment.
type AssignmentCreateRequest struct {
	Skill       string                  `json:"skill" validate:"required,oneof=reading listening writing speaking"`
	Title       string                  `json:"title" validate:"required,min=3,max=255"`
	Slug        string                  `json:"slug" validate:"omitempty,max=255"`
	Description string                  `json:"description" validate:"omitempty,max=5000"`
	ClassID     string                  `json:"class_id" validate:"omitempty,max=64"`
	IsPublic    bool                    `json:"is_public"`
	Sections    []models.Section        `json:"sections"`
	Writing     *models.WritingContent  `json:"writing"`
	Speaking    *models.SpeakingContent `json:"speaking"`
}

// AssignmentFilter describes query string filters for listing assignments.
type AssignmentFilter struct {
	Skill string `query:"skill" validate:"omitempty,oneof=reading listening writing speaking"`
	Page  int    `query:"page" validate:"omitempty,gte=1"`
	Limit int    `query:"limit" validate:"omitempty,gte=1,lte=100"`
}

// QuestionView is a question as shown to test takers. It never carries the answer key.
type QuestionView struct {
	ID          string              `json:"id"`
	OrderIndex  int                 `json:"order_index"`
	Type        models.QuestionType `json:"type"`
	PromptMD    string              `json:"prompt_md,omitempty"`
	Stimulus    models.Stimulus     `json:"stimulus"`
	Interaction json.RawMessage     `json:"interaction,omitempty"`
}

// QuestionGroupView mirrors models.QuestionGroup without answer keys.
type QuestionGroupView struct {
	ID             string         `json:"id"`
	OrderIndex     int            `json:"order_index"`
	Title          string         `json:"title,omitempty"`
	InstructionsMD string         `json:"instructions_md,omitempty"`
	Questions      []QuestionView `json:"questions"`
}

// SectionView mirrors models.Section without answer keys.
type SectionView struct {
	ID             string                 `json:"id"`
	Title          string                 `json:"title"`
	OrderIndex     int                    `json:"order_index"`
	Material       models.SectionMaterial `json:"material"`
	QuestionGroups []QuestionGroupView    `json:"question_groups"`
}

// AssignmentResponse is the sanitised assignment returned to API clients.
type AssignmentResponse struct {
	ID          string                  `json:"id"`
	Skill       models.Skill            `json:"skill"`
	Title       string                  `json:"title"`
	Slug        string                  `json:"slug"`
	Description string                  `json:"description"`
	ClassID     string                  `json:"class_id,omitempty"`
	IsPublic    bool                    `json:"is_public"`
	CreatedBy   string                  `json:"created_by"`
	Sections    []SectionView           `json:"sections,omitempty"`
	Writing     *models.WritingContent  `json:"writing,omitempty"`
	Speaking    *models.SpeakingContent `json:"speaking,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// AssignmentSummary is the list representation of an assignment.
type AssignmentSummary struct {
	ID          string       `json:"id"`
	Skill       models.Skill `json:"skill"`
	Title       string       `json:"title"`
	Slug        string       `json:"slug"`
	Description string       `json:"description"`
	CreatedAt   time.Time    `json:"created_at"`
}

// NewAssignmentResponse converts a model into a DTO, dropping every answer key.
func NewAssignmentResponse(model models.Assignment) AssignmentResponse {
	response := AssignmentResponse{
		ID:          model.ID,
		Skill:       model.Skill,
		Title:       model.Title,
		Slug:        model.Slug,
		Description: model.Description,
		ClassID:     model.ClassID,
		IsPublic:    model.IsPublic,
		CreatedBy:   model.CreatedBy,
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
	}

	switch model.Skill {
	case models.SkillWriting:
		writing := model.WritingContent()
		response.Writing = &writing
	case models.SkillSpeaking:
		speaking := model.SpeakingContent()
		response.Speaking = &speaking
	default:
		response.Sections = newSectionViews(model.SectionList())
	}

	return response
}

// NewAssignmentSummarySlice converts assignments into list entries.
func NewAssignmentSummarySlice(assignments []models.Assignment) []AssignmentSummary {
	summaries := make([]AssignmentSummary, 0, len(assignments))
	for _, assignment := range assignments {
		summaries = append(summaries, AssignmentSummary{
			ID:          assignment.ID,
			Skill:       assignment.Skill,
			Title:       assignment.Title,
			Slug:        assignment.Slug,
			Description: assignment.Description,
			CreatedAt:   assignment.CreatedAt,
		})
	}
	return summaries
}

func newSectionViews(sections []models.Section) []SectionView {
	views := make([]SectionView, 0, len(sections))
	for _, section := range sections {
		groups := make([]QuestionGroupView, 0, len(section.QuestionGroups))
		for _, group := range section.QuestionGroups {
			questions := make([]QuestionView, 0, len(group.Questions))
			for _, question := range group.Questions {
				questions = append(questions, QuestionView{
					ID:          question.ID,
					OrderIndex:  question.OrderIndex,
					Type:        question.Type,
					PromptMD:    question.PromptMD,
					Stimulus:    question.Stimulus,
					Interaction: question.Interaction,
				})
			}
			groups = append(groups, QuestionGroupView{
				ID:             group.ID,
				OrderIndex:     group.OrderIndex,
				Title:          group.Title,
				InstructionsMD: group.InstructionsMD,
				Questions:      questions,
			})
		}
		views = append(views, SectionView{
			ID:             section.ID,
			Title:          section.Title,
			OrderIndex:     section.OrderIndex,
			Material:       section.Material,
			QuestionGroups: groups,
		})
	}
	return views
}
