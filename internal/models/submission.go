package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SubmissionStatus is the lifecycle state of a grading attempt.
type SubmissionStatus string

const (
	// SubmissionStatusPending indicates the submission waits for the asynchronous grader.
	SubmissionStatusPending SubmissionStatus = "pending"
	// SubmissionStatusGraded indicates a score is available.
	SubmissionStatusGraded SubmissionStatus = "graded"
	// SubmissionStatusFailed indicates grading could not complete.
	SubmissionStatusFailed SubmissionStatus = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s SubmissionStatus) IsTerminal() bool {
	return s == SubmissionStatusGraded || s == SubmissionStatusFailed
}

// QuestionAnswer is the type specific answer payload submitted for one question.
type QuestionAnswer struct {
	QuestionID string      `json:"question_id" validate:"required"`
	Answer     interface{} `json:"answer"`
}

// SectionAnswer groups answers by section.
type SectionAnswer struct {
	SectionID string           `json:"section_id" validate:"required"`
	Answers   []QuestionAnswer `json:"answers" validate:"dive"`
}

// Submission is one grading attempt for any skill.
type Submission struct {
	ID               string           `gorm:"primaryKey;size:36" json:"id"`
	AssignmentID     string           `gorm:"size:36;not null;index" json:"assignment_id"`
	SubmittedBy      string           `gorm:"size:64;not null;index" json:"submitted_by"`
	Skill            Skill            `gorm:"size:16;not null;index" json:"skill"`
	Status           SubmissionStatus `gorm:"size:16;not null;index" json:"status"`
	Score            *float64         `json:"score"`
	TotalQuestions   int              `gorm:"default:0" json:"total_questions"`
	CorrectAnswers   int              `gorm:"default:0" json:"correct_answers"`
	IncorrectAnswers int              `gorm:"default:0" json:"incorrect_answers"`
	Percentage       float64          `gorm:"default:0" json:"percentage"`
	Details          datatypes.JSON   `gorm:"type:json" json:"-"`
	Answers          datatypes.JSON   `gorm:"type:json" json:"-"`
	Feedback         string           `gorm:"type:text" json:"feedback"`
	ContentOne       string           `gorm:"type:text" json:"content_one"`
	ContentTwo       string           `gorm:"type:text" json:"content_two"`
	TranscriptOne    string           `gorm:"type:text" json:"transcript_one"`
	TranscriptTwo    string           `gorm:"type:text" json:"transcript_two"`
	TranscriptThree  string           `gorm:"type:text" json:"transcript_three"`
	AudioURL         string           `gorm:"size:512" json:"audio_url"`
	FailureReason    string           `gorm:"type:text" json:"failure_reason"`
	GradedAt         *time.Time       `json:"graded_at"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (s *Submission) BeforeCreate(_ *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// SetDetails serializes the per-section grading breakdown.
func (s *Submission) SetDetails(details []SectionResult) {
	s.Details = marshalJSONColumn(details, "[]")
}

// DetailList deserializes the stored grading breakdown.
func (s Submission) DetailList() []SectionResult {
	if len(s.Details) == 0 {
		return nil
	}

	var details []SectionResult
	if err := json.Unmarshal(s.Details, &details); err != nil {
		return nil
	}

	return details
}

// SetAnswers stores the raw submitted answers so the result can be recomputed later.
func (s *Submission) SetAnswers(answers []SectionAnswer) {
	s.Answers = marshalJSONColumn(answers, "[]")
}

// AnswerList deserializes the raw submitted answers.
func (s Submission) AnswerList() []SectionAnswer {
	if len(s.Answers) == 0 {
		return nil
	}

	var answers []SectionAnswer
	if err := json.Unmarshal(s.Answers, &answers); err != nil {
		return nil
	}

	return answers
}

// Transcripts returns the three part transcripts in part order.
func (s Submission) Transcripts() [3]string {
	return [3]string{s.TranscriptOne, s.TranscriptTwo, s.TranscriptThree}
}
