package dto

import (
	"time"

	"github.com/noah-isme/idest-grading-api/internal/models"
)

// ObjectiveSubmissionRequest carries reading or listening answers grouped by section.
type ObjectiveSubmissionRequest struct {
	AssignmentID   string                 `json:"assignment_id" validate:"required,max=36"`
	SectionAnswers []models.SectionAnswer `json:"section_answers" validate:"dive"`
}

// WritingSubmissionRequest carries the two essays of a writing attempt.
type WritingSubmissionRequest struct {
	AssignmentID string `json:"assignment_id" validate:"required,max=36"`
	ContentOne   string `json:"content_one" validate:"required,max=20000"`
	ContentTwo   string `json:"content_two" validate:"required,max=20000"`
}

// AudioUpload is one recorded speaking part received from the client.
type AudioUpload struct {
	Data         []byte
	MimeType     string
	OriginalName string
}

// SpeakingSubmissionRequest carries up to three recorded parts. Absent parts are nil.
type SpeakingSubmissionRequest struct {
	AssignmentID string `form:"assignment_id" validate:"required,max=36"`
	Parts        [3]*AudioUpload
}

// SubmissionFilter describes query string filters for listing a user's submissions.
type SubmissionFilter struct {
	Skill  string `query:"skill" validate:"omitempty,oneof=reading listening writing speaking"`
	Status string `query:"status" validate:"omitempty,oneof=pending graded failed"`
	Page   int    `query:"page" validate:"omitempty,gte=1"`
	Limit  int    `query:"limit" validate:"omitempty,gte=1,lte=100"`
}

// SubmissionResponse is returned to API clients when viewing submissions.
type SubmissionResponse struct {
	ID               string                  `json:"id"`
	AssignmentID     string                  `json:"assignment_id"`
	SubmittedBy      string                  `json:"submitted_by"`
	Skill            models.Skill            `json:"skill"`
	Status           models.SubmissionStatus `json:"status"`
	Score            *float64                `json:"score"`
	TotalQuestions   int                     `json:"total_questions"`
	CorrectAnswers   int                     `json:"correct_answers"`
	IncorrectAnswers int                     `json:"incorrect_answers"`
	Percentage       float64                 `json:"percentage"`
	Details          []models.SectionResult  `json:"details,omitempty"`
	Feedback         string                  `json:"feedback,omitempty"`
	ContentOne       string                  `json:"content_one,omitempty"`
	ContentTwo       string                  `json:"content_two,omitempty"`
	Transcripts      []string                `json:"transcripts,omitempty"`
	AudioURL         string                  `json:"audio_url,omitempty"`
	FailureReason    string                  `json:"failure_reason,omitempty"`
	GradedAt         *time.Time              `json:"graded_at"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

// NewSubmissionResponse converts a Submission model into a DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	response := SubmissionResponse{
		ID:               model.ID,
		AssignmentID:     model.AssignmentID,
		SubmittedBy:      model.SubmittedBy,
		Skill:            model.Skill,
		Status:           model.Status,
		Score:            model.Score,
		TotalQuestions:   model.TotalQuestions,
		CorrectAnswers:   model.CorrectAnswers,
		IncorrectAnswers: model.IncorrectAnswers,
		Percentage:       model.Percentage,
		Details:          model.DetailList(),
		Feedback:         model.Feedback,
		ContentOne:       model.ContentOne,
		ContentTwo:       model.ContentTwo,
		AudioURL:         model.AudioURL,
		FailureReason:    model.FailureReason,
		GradedAt:         model.GradedAt,
		CreatedAt:        model.CreatedAt,
		UpdatedAt:        model.UpdatedAt,
	}

	if model.Skill == models.SkillSpeaking {
		transcripts := model.Transcripts()
		response.Transcripts = transcripts[:]
	}

	return response
}

// NewSubmissionResponseSlice converts submission models into DTOs.
func NewSubmissionResponseSlice(submissions []models.Submission) []SubmissionResponse {
	responses := make([]SubmissionResponse, 0, len(submissions))
	for _, submission := range submissions {
		responses = append(responses, NewSubmissionResponse(submission))
	}

	return responses
}

// SubmissionEventResponse is one audit trail entry of a submission.
type SubmissionEventResponse struct {
	Action    string                  `json:"action"`
	Actor     string                  `json:"actor"`
	Status    models.SubmissionStatus `json:"status"`
	Metadata  map[string]interface{}  `json:"metadata,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
}

// NewSubmissionEventResponseSlice converts audit entries into DTOs.
func NewSubmissionEventResponseSlice(events []models.SubmissionEvent) []SubmissionEventResponse {
	responses := make([]SubmissionEventResponse, 0, len(events))
	for _, event := range events {
		responses = append(responses, SubmissionEventResponse{
			Action:    event.Action,
			Actor:     event.Actor,
			Status:    event.Status,
			Metadata:  event.Metadata,
			CreatedAt: event.CreatedAt,
		})
	}
	return responses
}
