package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/noah-isme/idest-grading-api/internal/models"
)

// Migrate creates or updates the grading tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Assignment{}, &models.Submission{}, &models.SubmissionEvent{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
