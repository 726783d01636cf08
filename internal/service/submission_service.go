package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/idest-grading-api/internal/dto"
	"github.com/noah-isme/idest-grading-api/internal/grading"
	"github.com/noah-isme/idest-grading-api/internal/models"
	"github.com/noah-isme/idest-grading-api/internal/observability"
	"github.com/noah-isme/idest-grading-api/internal/queue"
	"github.com/noah-isme/idest-grading-api/internal/repository"
	"github.com/noah-isme/idest-grading-api/pkg/audio"
)

// DefaultListLimit is the page size used when the caller does not provide one.
const DefaultListLimit = 6

// DefaultMaxAudioBytes caps one recorded speaking part.
const DefaultMaxAudioBytes int64 = 25 << 20

const envelopeOverhead = 16 << 10

// InlineAudioLimit is the largest part size for which three inline base64 recordings plus the
// rest of the envelope still fit a message of maxPayload bytes.
func InlineAudioLimit(maxPayload int64) int64 {
	usable := maxPayload - envelopeOverhead
	if usable <= 0 {
		return 0
	}
	// base64 turns 3 bytes into 4, so three parts of n bytes encode to 4n.
	return usable / 4
}

// JobPublisher publishes grading jobs. queue.Queue satisfies it. Publish reports
// queue.ErrMessageTooLarge when the envelope does not fit the transport.
type JobPublisher interface {
	Publish(ctx context.Context, name string, body []byte) error
}

// Viewer identifies the caller reading a submission.
type Viewer struct {
	ID   string
	Role string
}

func (v Viewer) privileged() bool {
	return models.IsStaffRole(v.Role)
}

// SubmissionServiceConfig carries the tunables of the submission service.
type SubmissionServiceConfig struct {
	QueueName     string
	MaxAudioBytes int64
	// AudioBlobs receives speaking recordings so the envelope only carries references.
	// Nil keeps recordings inline.
	AudioBlobs repository.AudioBlobStore
}

// SubmissionService orchestrates submission workflows for every skill.
type SubmissionService interface {
	SubmitObjective(ctx context.Context, userID string, skill models.Skill, payload dto.ObjectiveSubmissionRequest) (dto.SubmissionResponse, error)
	SubmitWriting(ctx context.Context, userID string, payload dto.WritingSubmissionRequest) (dto.SubmissionResponse, error)
	SubmitSpeaking(ctx context.Context, userID string, payload dto.SpeakingSubmissionRequest) (dto.SubmissionResponse, error)
	Get(ctx context.Context, id string, viewer Viewer) (dto.SubmissionResponse, error)
	ListMine(ctx context.Context, userID string, filter dto.SubmissionFilter) ([]dto.SubmissionResponse, int64, error)
	Events(ctx context.Context, id string, viewer Viewer) ([]dto.SubmissionEventResponse, error)
}

type submissionService struct {
	submissions repository.SubmissionRepository
	assignments repository.AssignmentRepository
	events      repository.SubmissionEventRepository
	lifecycle   SubmissionLifecycle
	publisher   JobPublisher
	validator   *validator.Validate
	cfg         SubmissionServiceConfig
	logger      zerolog.Logger
}

// NewSubmissionService constructs a SubmissionService instance.
func NewSubmissionService(
	submissions repository.SubmissionRepository,
	assignments repository.AssignmentRepository,
	events repository.SubmissionEventRepository,
	lifecycle SubmissionLifecycle,
	publisher JobPublisher,
	validate *validator.Validate,
	cfg SubmissionServiceConfig,
	logger zerolog.Logger,
) SubmissionService {
	if cfg.QueueName == "" {
		cfg.QueueName = "grading_jobs"
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = DefaultMaxAudioBytes
	}

	return &submissionService{
		submissions: submissions,
		assignments: assignments,
		events:      events,
		lifecycle:   lifecycle,
		publisher:   publisher,
		validator:   validate,
		cfg:         cfg,
		logger:      logger.With().Str("component", "submission_service").Logger(),
	}
}

func (s *submissionService) SubmitObjective(ctx context.Context, userID string, skill models.Skill, payload dto.ObjectiveSubmissionRequest) (dto.SubmissionResponse, error) {
	ctx, span := s.startSpan(ctx, "submission.objective", skill)
	defer span.End()

	if !skill.IsDeterministic() {
		err := fmt.Errorf("%w: %s is not graded synchronously", ErrSkillMismatch, skill)
		span.RecordError(err)
		span.SetStatus(codes.Error, "skill_not_objective")
		return dto.SubmissionResponse{}, err
	}

	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.SubmissionResponse{}, err
	}

	assignment, err := s.loadAssignment(ctx, payload.AssignmentID, skill)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assignment_lookup_failed")
		return dto.SubmissionResponse{}, err
	}

	result := grading.Grade(assignment.SectionList(), payload.SectionAnswers)

	submission := models.Submission{
		AssignmentID: assignment.ID,
		SubmittedBy:  userID,
		Skill:        skill,
	}
	submission.SetAnswers(payload.SectionAnswers)

	if err := s.lifecycle.CreateGraded(ctx, &submission, result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission_create_failed")
		return dto.SubmissionResponse{}, err
	}

	span.SetAttributes(
		attribute.String("submission.id", submission.ID),
		attribute.Float64("submission.score", result.Score),
	)
	s.logger.Info().
		Str("submission_id", submission.ID).
		Str("skill", string(skill)).
		Float64("score", result.Score).
		Int("correct", result.CorrectAnswers).
		Int("total", result.TotalQuestions).
		Msg("objective submission graded")

	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) SubmitWriting(ctx context.Context, userID string, payload dto.WritingSubmissionRequest) (dto.SubmissionResponse, error) {
	ctx, span := s.startSpan(ctx, "submission.writing", models.SkillWriting)
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.SubmissionResponse{}, err
	}

	assignment, err := s.loadAssignment(ctx, payload.AssignmentID, models.SkillWriting)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assignment_lookup_failed")
		return dto.SubmissionResponse{}, err
	}

	submission := models.Submission{
		AssignmentID: assignment.ID,
		SubmittedBy:  userID,
		Skill:        models.SkillWriting,
		ContentOne:   payload.ContentOne,
		ContentTwo:   payload.ContentTwo,
	}
	if err := s.lifecycle.CreatePending(ctx, &submission); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission_create_failed")
		return dto.SubmissionResponse{}, err
	}

	if err := s.enqueue(ctx, &submission, dto.NewWritingJob(submission)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue_failed")
		return dto.SubmissionResponse{}, err
	}

	span.SetAttributes(attribute.String("submission.id", submission.ID))
	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) SubmitSpeaking(ctx context.Context, userID string, payload dto.SpeakingSubmissionRequest) (dto.SubmissionResponse, error) {
	ctx, span := s.startSpan(ctx, "submission.speaking", models.SkillSpeaking)
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.SubmissionResponse{}, err
	}

	if err := s.checkAudio(payload.Parts); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "audio_rejected")
		return dto.SubmissionResponse{}, err
	}

	assignment, err := s.loadAssignment(ctx, payload.AssignmentID, models.SkillSpeaking)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assignment_lookup_failed")
		return dto.SubmissionResponse{}, err
	}

	submission := models.Submission{
		AssignmentID: assignment.ID,
		SubmittedBy:  userID,
		Skill:        models.SkillSpeaking,
	}
	if err := s.lifecycle.CreatePending(ctx, &submission); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission_create_failed")
		return dto.SubmissionResponse{}, err
	}

	refs, err := s.stashAudio(ctx, submission.ID, payload.Parts)
	if err != nil {
		err = s.abandon(ctx, &submission, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "audio_store_failed")
		return dto.SubmissionResponse{}, err
	}

	if err := s.enqueue(ctx, &submission, dto.NewSpeakingJob(submission, payload.Parts, refs)); err != nil {
		s.dropAudio(ctx, refs)
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue_failed")
		return dto.SubmissionResponse{}, err
	}

	span.SetAttributes(attribute.String("submission.id", submission.ID))
	return dto.NewSubmissionResponse(submission), nil
}

func (s *submissionService) Get(ctx context.Context, id string, viewer Viewer) (dto.SubmissionResponse, error) {
	submission, err := s.authorize(ctx, id, viewer)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	response := dto.NewSubmissionResponse(submission)
	if submission.Skill.IsDeterministic() && submission.Status == models.SubmissionStatusGraded {
		if details, ok := s.rehydrate(ctx, submission); ok {
			response.Details = details
		}
	}

	return response, nil
}

func (s *submissionService) ListMine(ctx context.Context, userID string, filter dto.SubmissionFilter) ([]dto.SubmissionResponse, int64, error) {
	if err := s.validator.Struct(filter); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	submissions, total, err := s.submissions.List(ctx, repository.SubmissionFilter{
		SubmittedBy: userID,
		Skill:       models.Skill(filter.Skill),
		Status:      models.SubmissionStatus(filter.Status),
		Page:        filter.Page,
		PageSize:    limit,
	})
	if err != nil {
		return nil, 0, err
	}

	return dto.NewSubmissionResponseSlice(submissions), total, nil
}

func (s *submissionService) Events(ctx context.Context, id string, viewer Viewer) ([]dto.SubmissionEventResponse, error) {
	if _, err := s.authorize(ctx, id, viewer); err != nil {
		return nil, err
	}
	if s.events == nil {
		return []dto.SubmissionEventResponse{}, nil
	}

	events, err := s.events.ListBySubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.NewSubmissionEventResponseSlice(events), nil
}

func (s *submissionService) authorize(ctx context.Context, id string, viewer Viewer) (models.Submission, error) {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, ErrSubmissionNotFound
		}
		return models.Submission{}, err
	}

	if submission.SubmittedBy != viewer.ID && !viewer.privileged() {
		return models.Submission{}, ErrForbidden
	}
	return submission, nil
}

// rehydrate regrades from the stored raw answers when the stored breakdown is incomplete.
// The derived tree is only returned; stored summary fields are left untouched.
func (s *submissionService) rehydrate(ctx context.Context, submission models.Submission) ([]models.SectionResult, bool) {
	assignment, err := s.assignments.FindByID(ctx, submission.AssignmentID, "")
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn().Err(err).Str("submission_id", submission.ID).Msg("failed to load assignment for read repair")
		}
		return nil, false
	}

	sections := assignment.SectionList()
	if !grading.NeedsRehydration(sections, submission.DetailList()) {
		return nil, false
	}

	result := grading.Grade(sections, submission.AnswerList())
	s.logger.Debug().Str("submission_id", submission.ID).Msg("rehydrated grading details")
	return result.Details, true
}

// loadAssignment resolves the assignment and checks that it belongs to skill.
func (s *submissionService) loadAssignment(ctx context.Context, id string, skill models.Skill) (models.Assignment, error) {
	assignment, err := s.assignments.FindByID(ctx, id, "")
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Assignment{}, ErrAssignmentNotFound
		}
		return models.Assignment{}, err
	}

	if assignment.Skill != skill {
		return models.Assignment{}, fmt.Errorf("%w: assignment is %s", ErrSkillMismatch, assignment.Skill)
	}
	return assignment, nil
}

// enqueue publishes the job. A publish failure finalises the pending record as failed.
func (s *submissionService) enqueue(ctx context.Context, submission *models.Submission, job dto.GradingJob) error {
	job.CorrelationID = observability.CorrelationID(ctx)
	body, err := job.Encode()
	if err == nil {
		err = s.publisher.Publish(ctx, s.cfg.QueueName, body)
	}
	if err == nil {
		s.logger.Info().Str("submission_id", submission.ID).Str("skill", string(submission.Skill)).Int("envelope_bytes", len(body)).Msg("grading job enqueued")
		return nil
	}
	return s.abandon(ctx, submission, err)
}

// abandon finalises a pending record that could not be scheduled as failed.
func (s *submissionService) abandon(ctx context.Context, submission *models.Submission, cause error) error {
	s.logger.Error().Err(cause).Str("submission_id", submission.ID).Msg("failed to enqueue grading job")
	reason := "could not schedule grading: " + cause.Error()
	if markErr := s.lifecycle.MarkFailed(ctx, submission.ID, APIActor, reason); markErr != nil {
		s.logger.Error().Err(markErr).Str("submission_id", submission.ID).Msg("failed to mark submission as failed")
	} else {
		submission.Status = models.SubmissionStatusFailed
		submission.FailureReason = reason
	}

	if errors.Is(cause, queue.ErrMessageTooLarge) {
		return fmt.Errorf("%w: %v", ErrAudioTooLarge, cause)
	}
	return fmt.Errorf("%w: %v", ErrEnqueueFailed, cause)
}

// stashAudio moves the recorded parts into the blob store and returns their keys by part.
func (s *submissionService) stashAudio(ctx context.Context, submissionID string, parts [3]*dto.AudioUpload) (map[string]string, error) {
	refs := map[string]string{}
	if s.cfg.AudioBlobs == nil {
		return refs, nil
	}

	for i, part := range parts {
		if part == nil || len(part.Data) == 0 {
			continue
		}
		key := repository.AudioBlobKey(submissionID, dto.AudioPartKeys[i])
		if err := s.cfg.AudioBlobs.Put(ctx, key, part.Data); err != nil {
			s.dropAudio(ctx, refs)
			return nil, err
		}
		refs[dto.AudioPartKeys[i]] = key
	}
	return refs, nil
}

func (s *submissionService) dropAudio(ctx context.Context, refs map[string]string) {
	if s.cfg.AudioBlobs == nil || len(refs) == 0 {
		return
	}
	keys := make([]string, 0, len(refs))
	for _, key := range refs {
		keys = append(keys, key)
	}
	if err := s.cfg.AudioBlobs.Delete(context.WithoutCancel(ctx), keys...); err != nil {
		s.logger.Warn().Err(err).Strs("keys", keys).Msg("failed to delete stored recordings")
	}
}

func (s *submissionService) checkAudio(parts [3]*dto.AudioUpload) error {
	present := 0
	for i, part := range parts {
		if part == nil || len(part.Data) == 0 {
			continue
		}
		present++

		if int64(len(part.Data)) > s.cfg.MaxAudioBytes {
			observability.AudioRejected().WithLabelValues("too_large").Inc()
			return fmt.Errorf("%w: %s", ErrAudioTooLarge, dto.AudioPartKeys[i])
		}
		if !audio.IsAudio(part.Data) {
			observability.AudioRejected().WithLabelValues("unsupported_type").Inc()
			return fmt.Errorf("%w: %s", ErrUnsupportedAudio, dto.AudioPartKeys[i])
		}
	}

	if present == 0 {
		observability.AudioRejected().WithLabelValues("missing").Inc()
		return ErrAudioRequired
	}
	return nil
}

func (s *submissionService) startSpan(ctx context.Context, name string, skill models.Skill) (context.Context, trace.Span) {
	tracer := otel.Tracer("github.com/noah-isme/idest-grading-api/internal/service/submission")
	ctx, span := tracer.Start(ctx, name)
	span.SetAttributes(attribute.String("submission.skill", string(skill)))
	return ctx, span
}
