package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/idest-grading-api/internal/grading"
	"github.com/noah-isme/idest-grading-api/internal/models"
	"github.com/noah-isme/idest-grading-api/internal/observability"
	"github.com/noah-isme/idest-grading-api/internal/repository"
)

// Audit actors recorded for transitions not made on behalf of a user.
const (
	WorkerActor = "grading-worker"
	APIActor    = "api"
)

// GradeOutcome carries the values written when an asynchronous submission is graded.
type GradeOutcome struct {
	Score       float64
	Feedback    string
	Transcripts [3]string
	AudioURL    string
}

// SubmissionLifecycle owns every status change of a submission.
// Submissions only move pending -> graded or pending -> failed.
type SubmissionLifecycle interface {
	CreatePending(ctx context.Context, submission *models.Submission) error
	CreateGraded(ctx context.Context, submission *models.Submission, result grading.Result) error
	MarkGraded(ctx context.Context, id string, outcome GradeOutcome) error
	// MarkFailed records actor as the origin of the failure in the audit trail.
	MarkFailed(ctx context.Context, id, actor, reason string) error
}

type submissionLifecycle struct {
	submissions repository.SubmissionRepository
	events      repository.SubmissionEventRepository
	logger      zerolog.Logger
	now         func() time.Time
}

// NewSubmissionLifecycle constructs the lifecycle manager. events may be nil.
func NewSubmissionLifecycle(submissions repository.SubmissionRepository, events repository.SubmissionEventRepository, logger zerolog.Logger) SubmissionLifecycle {
	return &submissionLifecycle{
		submissions: submissions,
		events:      events,
		logger:      logger.With().Str("component", "submission_lifecycle").Logger(),
		now:         time.Now,
	}
}

func (l *submissionLifecycle) CreatePending(ctx context.Context, submission *models.Submission) error {
	submission.Status = models.SubmissionStatusPending
	submission.Score = nil
	submission.GradedAt = nil

	if err := l.submissions.Create(ctx, submission); err != nil {
		return err
	}

	observability.SubmissionsCreated().WithLabelValues(string(submission.Skill), string(submission.Status)).Inc()
	l.record(ctx, submission.ID, submission.SubmittedBy, "submission.created", submission.Status, map[string]interface{}{
		"skill":         string(submission.Skill),
		"assignment_id": submission.AssignmentID,
	})
	return nil
}

func (l *submissionLifecycle) CreateGraded(ctx context.Context, submission *models.Submission, result grading.Result) error {
	score := result.Score
	gradedAt := l.now()

	submission.Status = models.SubmissionStatusGraded
	submission.Score = &score
	submission.TotalQuestions = result.TotalQuestions
	submission.CorrectAnswers = result.CorrectAnswers
	submission.IncorrectAnswers = result.IncorrectAnswers
	submission.Percentage = result.Percentage
	submission.SetDetails(result.Details)
	submission.GradedAt = &gradedAt

	if err := l.submissions.Create(ctx, submission); err != nil {
		return err
	}

	observability.SubmissionsCreated().WithLabelValues(string(submission.Skill), string(submission.Status)).Inc()
	l.record(ctx, submission.ID, submission.SubmittedBy, "submission.graded", submission.Status, map[string]interface{}{
		"skill":      string(submission.Skill),
		"score":      score,
		"percentage": result.Percentage,
	})
	return nil
}

func (l *submissionLifecycle) MarkGraded(ctx context.Context, id string, outcome GradeOutcome) error {
	score := grading.RoundToHalf(outcome.Score)
	changes := map[string]interface{}{
		"status":         models.SubmissionStatusGraded,
		"score":          score,
		"feedback":       outcome.Feedback,
		"failure_reason": "",
		"graded_at":      l.now(),
	}
	if outcome.AudioURL != "" {
		changes["audio_url"] = outcome.AudioURL
	}
	for i, column := range []string{"transcript_one", "transcript_two", "transcript_three"} {
		if outcome.Transcripts[i] != "" {
			changes[column] = outcome.Transcripts[i]
		}
	}

	if err := l.transition(ctx, id, changes); err != nil {
		return err
	}

	l.record(ctx, id, WorkerActor, "submission.graded", models.SubmissionStatusGraded, map[string]interface{}{"score": score})
	return nil
}

func (l *submissionLifecycle) MarkFailed(ctx context.Context, id, actor, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "grading failed"
	}

	changes := map[string]interface{}{
		"status":         models.SubmissionStatusFailed,
		"failure_reason": reason,
	}
	if err := l.transition(ctx, id, changes); err != nil {
		return err
	}

	l.record(ctx, id, actor, "submission.failed", models.SubmissionStatusFailed, map[string]interface{}{"reason": reason})
	return nil
}

func (l *submissionLifecycle) transition(ctx context.Context, id string, changes map[string]interface{}) error {
	err := l.submissions.TransitionFromPending(ctx, id, changes)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrStatusConflict):
		return ErrSubmissionFinalized
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrSubmissionNotFound
	default:
		return err
	}
}

// record appends to the audit trail. Failures are logged and never block a transition.
func (l *submissionLifecycle) record(ctx context.Context, submissionID, actor, action string, status models.SubmissionStatus, metadata map[string]interface{}) {
	if l.events == nil {
		return
	}

	if strings.TrimSpace(actor) == "" {
		actor = "system"
	}

	event := models.SubmissionEvent{
		SubmissionID: submissionID,
		Actor:        actor,
		Action:       action,
		Status:       status,
		Metadata:     sanitizeMetadata(metadata),
	}
	if err := l.events.Create(ctx, &event); err != nil {
		l.logger.Warn().Err(err).Str("submission_id", submissionID).Str("action", action).Msg("failed to persist submission event")
	}
}

func sanitizeMetadata(metadata map[string]interface{}) datatypes.JSONMap {
	sanitized := datatypes.JSONMap{}
	for key, value := range metadata {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "token") || strings.Contains(lower, "secret") {
			sanitized[key] = "***"
			continue
		}
		sanitized[key] = value
	}
	return sanitized
}
