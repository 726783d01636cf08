package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/idest-grading-api/internal/models"
)

// SubmissionEventRepository persists the submission audit trail.
type SubmissionEventRepository interface {
	Create(ctx context.Context, event *models.SubmissionEvent) error
	ListBySubmission(ctx context.Context, submissionID string) ([]models.SubmissionEvent, error)
}

type submissionEventRepository struct {
	db *gorm.DB
}

// NewSubmissionEventRepository constructs the event repository.
func NewSubmissionEventRepository(db *gorm.DB) SubmissionEventRepository {
	return &submissionEventRepository{db: db}
}

func (r *submissionEventRepository) Create(ctx context.Context, event *models.SubmissionEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *submissionEventRepository) ListBySubmission(ctx context.Context, submissionID string) ([]models.SubmissionEvent, error) {
	var events []models.SubmissionEvent
	if err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
