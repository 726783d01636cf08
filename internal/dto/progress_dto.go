package dto

import (
	"time"

	"github.com/noah-isme/idest-grading-api/internal/models"
)

// ProgressResponse aggregates a learner's submissions per skill.
type ProgressResponse struct {
	Skills            []SkillProgress      `json:"skills"`
	RecentSubmissions []SubmissionActivity `json:"recent_submissions"`
	GeneratedAt       time.Time            `json:"generated_at"`
}

// SkillProgress captures the statistics of one skill.
type SkillProgress struct {
	Skill        models.Skill `json:"skill"`
	Submitted    int          `json:"submitted"`
	Graded       int          `json:"graded"`
	Pending      int          `json:"pending"`
	Failed       int          `json:"failed"`
	AverageScore *float64     `json:"average_score"`
	BestScore    *float64     `json:"best_score"`
}

// SubmissionActivity is a compact view of a recent submission.
type SubmissionActivity struct {
	SubmissionID string                  `json:"submission_id"`
	AssignmentID string                  `json:"assignment_id"`
	Skill        models.Skill            `json:"skill"`
	Status       models.SubmissionStatus `json:"status"`
	Score        *float64                `json:"score"`
	CreatedAt    time.Time               `json:"created_at"`
}
