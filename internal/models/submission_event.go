package models

import (
	"time"

	"gorm.io/datatypes"
)

// SubmissionEvent is one entry of a submission's audit trail.
type SubmissionEvent struct {
	ID           uint              `gorm:"primaryKey" json:"id"`
	SubmissionID string            `gorm:"size:36;not null;index" json:"submission_id"`
	Actor        string            `gorm:"size:64;not null" json:"actor"`
	Action       string            `gorm:"size:64;not null" json:"action"`
	Status       SubmissionStatus  `gorm:"size:16;not null" json:"status"`
	Metadata     datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt    time.Time         `json:"created_at"`
}
