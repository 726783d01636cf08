package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
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
	"github.com/noah-isme/idest-grading-api/pkg/ai"
	"github.com/noah-isme/idest-grading-api/pkg/audio"
)

// DefaultOracleTimeout bounds each transcription or scoring call.
const DefaultOracleTimeout = 90 * time.Second

const previewLimit = 500

// AudioStorage stores the combined speaking recording and returns its URL.
type AudioStorage interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
}

// GradingWorkerConfig carries the tunables of the grading worker.
type GradingWorkerConfig struct {
	QueueName     string
	OracleTimeout time.Duration
	// AudioBlobs resolves recordings the API stored by reference.
	AudioBlobs repository.AudioBlobStore
}

// terminalError ends a job: the submission is marked failed and the message acknowledged.
type terminalError struct {
	reason string
	err    error
}

func (e *terminalError) Error() string { return e.reason + ": " + e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

func terminal(reason string, err error) error {
	return &terminalError{reason: reason, err: err}
}

// GradingWorker consumes grading jobs one at a time and drives submissions to graded or failed.
type GradingWorker struct {
	assignments repository.AssignmentRepository
	lifecycle   SubmissionLifecycle
	oracle      ai.Oracle
	storage     AudioStorage
	policy      *bluemonday.Policy
	cfg         GradingWorkerConfig
	logger      zerolog.Logger
}

// NewGradingWorker constructs the worker. storage may be nil, in which case the combined recording is not kept.
func NewGradingWorker(assignments repository.AssignmentRepository, lifecycle SubmissionLifecycle, oracle ai.Oracle, storage AudioStorage, cfg GradingWorkerConfig, logger zerolog.Logger) *GradingWorker {
	if cfg.QueueName == "" {
		cfg.QueueName = "grading_jobs"
	}
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = DefaultOracleTimeout
	}

	return &GradingWorker{
		assignments: assignments,
		lifecycle:   lifecycle,
		oracle:      oracle,
		storage:     storage,
		policy:      bluemonday.UGCPolicy(),
		cfg:         cfg,
		logger:      logger.With().Str("component", "grading_worker").Logger(),
	}
}

// Run consumes the grading queue until ctx is cancelled.
func (w *GradingWorker) Run(ctx context.Context, consumer queue.Queue) error {
	w.logger.Info().Str("queue", w.cfg.QueueName).Dur("oracle_timeout", w.cfg.OracleTimeout).Msg("grading worker started")
	err := consumer.Consume(ctx, w.cfg.QueueName, w.Handle)
	w.logger.Info().Msg("grading worker stopped")
	return err
}

// Handle processes one delivery. It is the queue.Handler of the worker.
func (w *GradingWorker) Handle(ctx context.Context, msg queue.Message) error {
	started := time.Now()

	job, err := dto.DecodeGradingJob(msg.Data)
	if err != nil {
		w.logger.Error().Err(err).Int("attempt", msg.Attempt).Msg("discarding undecodable grading job")
		observability.GradingJobs().WithLabelValues("unknown", "invalid").Inc()
		return queue.Permanent(err)
	}

	skill := string(job.Skill)
	logger := w.logger.With().
		Str("job_skill", skill).
		Str("submission_id", job.TargetID()).
		Int("attempt", msg.Attempt).
		Str("correlation_id", job.CorrelationID).
		Logger()
	ctx = observability.WithCorrelationID(ctx, job.CorrelationID)

	tracer := otel.Tracer("github.com/noah-isme/idest-grading-api/internal/service/grading_worker")
	ctx, span := tracer.Start(ctx, "grading.job")
	span.SetAttributes(
		attribute.String("grading.skill", skill),
		attribute.String("grading.submission_id", job.TargetID()),
		attribute.Int("grading.attempt", msg.Attempt),
	)
	defer span.End()
	defer func() {
		observability.GradingJobDuration().WithLabelValues(skill).Observe(time.Since(started).Seconds())
	}()

	if !job.Skill.Valid() {
		logger.Warn().Msg("acknowledging grading job with unknown skill")
		observability.GradingJobs().WithLabelValues(skill, "unknown_skill").Inc()
		return nil
	}

	if err := job.Validate(); err != nil {
		logger.Error().Err(err).Msg("rejecting invalid grading job")
		if id := job.TargetID(); id != "" && !job.Skill.IsDeterministic() {
			w.markFailed(ctx, logger, id, "invalid grading job")
		}
		observability.GradingJobs().WithLabelValues(skill, "invalid").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid_job")
		return queue.Permanent(err)
	}

	switch job.Skill {
	case models.SkillWriting:
		err = w.gradeWriting(ctx, logger, job)
	case models.SkillSpeaking:
		err = w.gradeSpeaking(ctx, logger, job)
	default:
		err = w.gradeObjective(ctx, logger, job)
	}

	if err = w.settle(ctx, logger, job, msg, err, span); err == nil {
		w.releaseAudio(ctx, logger, job)
	}
	return err
}

func (w *GradingWorker) settle(ctx context.Context, logger zerolog.Logger, job dto.GradingJob, msg queue.Message, err error, span trace.Span) error {
	skill := string(job.Skill)

	var term *terminalError
	switch {
	case err == nil:
		observability.GradingJobs().WithLabelValues(skill, "graded").Inc()
		return nil
	case errors.Is(err, ErrSubmissionFinalized):
		logger.Info().Msg("submission already finalized, acknowledging duplicate delivery")
		observability.GradingJobs().WithLabelValues(skill, "duplicate").Inc()
		return nil
	case errors.Is(err, ErrSubmissionNotFound):
		logger.Warn().Msg("pending submission no longer exists, acknowledging job")
		observability.GradingJobs().WithLabelValues(skill, "missing").Inc()
		return nil
	case errors.As(err, &term):
		logger.Warn().Err(term.err).Str("reason", term.reason).Msg("grading failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "grading_failed")
		if !job.Skill.IsDeterministic() {
			w.markFailed(ctx, logger, job.TargetID(), term.reason)
		}
		observability.GradingJobs().WithLabelValues(skill, "failed").Inc()
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "transient_failure")
	if ctx.Err() != nil {
		logger.Warn().Err(err).Msg("grading interrupted by shutdown, leaving job for redelivery")
		return err
	}

	if msg.Final {
		logger.Error().Err(err).Msg("grading attempts exhausted")
		if !job.Skill.IsDeterministic() {
			w.markFailed(ctx, logger, job.TargetID(), "grading service unavailable")
		}
		observability.GradingJobs().WithLabelValues(skill, "dead_lettered").Inc()
		return err
	}

	logger.Warn().Err(err).Msg("grading attempt failed, job will be retried")
	observability.GradingJobs().WithLabelValues(skill, "retried").Inc()
	return err
}

func (w *GradingWorker) gradeWriting(ctx context.Context, logger zerolog.Logger, job dto.GradingJob) error {
	assignment, err := w.loadAssignment(ctx, job.AssignmentID, models.SkillWriting)
	if err != nil {
		return err
	}

	content := assignment.WritingContent()
	prompt := ai.BuildWritingPrompt(ai.WritingPromptInput{
		TaskOne:          content.TaskOne,
		TaskTwo:          content.TaskTwo,
		ImageDescription: content.ImageDescription,
		ContentOne:       job.ContentOne,
		ContentTwo:       job.ContentTwo,
	})

	response, err := w.score(ctx, logger, prompt)
	if err != nil {
		return err
	}

	outcome := GradeOutcome{Score: clampBand(response.Score), Feedback: w.sanitize(response.Feedback)}
	if err := w.lifecycle.MarkGraded(ctx, job.SubmissionID, outcome); err != nil {
		return err
	}

	logger.Info().Float64("score", outcome.Score).Msg("writing submission graded")
	return nil
}

func (w *GradingWorker) gradeSpeaking(ctx context.Context, logger zerolog.Logger, job dto.GradingJob) error {
	uploads, err := w.loadAudios(ctx, job)
	if err != nil {
		return err
	}

	assignment, err := w.loadAssignment(ctx, job.AssignmentID, models.SkillSpeaking)
	if err != nil {
		return err
	}

	parts := make([]*audio.Part, len(uploads))
	var transcripts [3]string
	answered := 0
	for i, upload := range uploads {
		if upload == nil || len(upload.Data) == 0 {
			continue
		}
		answered++
		mime := audio.DetectMIME(upload.Data, upload.MimeType)
		parts[i] = &audio.Part{Data: upload.Data, MimeType: mime, Name: upload.OriginalName}

		text, err := w.transcribe(ctx, upload.Data, mime)
		if err != nil {
			return err
		}
		transcripts[i] = strings.TrimSpace(text)
	}
	if answered == 0 {
		return terminal("no audio to grade", ErrAudioRequired)
	}

	audioURL, err := w.storeRecording(ctx, job.ResponseID, parts)
	if err != nil {
		return err
	}

	prompt := ai.BuildSpeakingPrompt(speakingPromptParts(assignment.SpeakingContent(), transcripts))
	response, err := w.score(ctx, logger, prompt)
	if err != nil {
		return err
	}

	outcome := GradeOutcome{
		Score:       clampBand(response.Score),
		Feedback:    w.sanitize(response.Feedback),
		Transcripts: transcripts,
		AudioURL:    audioURL,
	}
	if err := w.lifecycle.MarkGraded(ctx, job.ResponseID, outcome); err != nil {
		return err
	}

	logger.Info().Float64("score", outcome.Score).Int("answered_parts", answered).Msg("speaking submission graded")
	return nil
}

// gradeObjective regrades queued reading or listening answers into a new graded submission.
func (w *GradingWorker) gradeObjective(ctx context.Context, logger zerolog.Logger, job dto.GradingJob) error {
	assignment, err := w.loadAssignment(ctx, job.AssignmentID, job.Skill)
	if err != nil {
		return err
	}

	result := grading.Grade(assignment.SectionList(), job.Sections)
	submission := models.Submission{
		AssignmentID: assignment.ID,
		SubmittedBy:  job.UserID,
		Skill:        job.Skill,
	}
	submission.SetAnswers(job.Sections)

	if err := w.lifecycle.CreateGraded(ctx, &submission, result); err != nil {
		return err
	}

	logger.Info().Str("created_submission_id", submission.ID).Float64("score", result.Score).Msg("objective job graded")
	return nil
}

func (w *GradingWorker) loadAssignment(ctx context.Context, id string, skill models.Skill) (models.Assignment, error) {
	assignment, err := w.assignments.FindByID(ctx, id, skill)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Assignment{}, terminal("assignment not found", ErrAssignmentNotFound)
		}
		return models.Assignment{}, err
	}
	return assignment, nil
}

func (w *GradingWorker) score(ctx context.Context, logger zerolog.Logger, prompt string) (ai.GradingResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.OracleTimeout)
	defer cancel()

	raw, err := w.oracle.ScoreText(callCtx, prompt)
	if err != nil {
		return ai.GradingResponse{}, w.classifyOracleError(ctx, "scoring", err)
	}

	response, ok := ai.ParseGradingResponse(raw)
	if !ok {
		logger.Warn().Str("raw_preview", ai.Preview(raw, previewLimit)).Msg("oracle reply could not be parsed")
		return ai.GradingResponse{}, terminal("could not read grading response", ErrUnparseableResponse)
	}
	return response, nil
}

func (w *GradingWorker) transcribe(ctx context.Context, data []byte, mime string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.OracleTimeout)
	defer cancel()

	text, err := w.oracle.Transcribe(callCtx, data, mime)
	if err != nil {
		return "", w.classifyOracleError(ctx, "transcription", err)
	}
	return text, nil
}

// classifyOracleError turns a per-call timeout into a terminal failure. Cancellation of the
// parent context and transport errors stay retryable.
func (w *GradingWorker) classifyOracleError(parent context.Context, operation string, err error) error {
	if parent.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return terminal(operation+" timed out", err)
	}
	if errors.Is(err, ai.ErrEmptyResponse) {
		return terminal(operation+" returned no content", err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}

func (w *GradingWorker) storeRecording(ctx context.Context, submissionID string, parts []*audio.Part) (string, error) {
	if w.storage == nil {
		return "", nil
	}

	combined, err := audio.Combine(parts)
	if err != nil {
		return "", terminal("no audio to store", err)
	}

	url, err := w.storage.Upload(ctx, submissionID+"."+combined.Extension, bytes.NewReader(combined.Data))
	if err != nil {
		return "", fmt.Errorf("upload recording: %w", err)
	}
	return url, nil
}

// loadAudios decodes inline recordings and fetches the referenced ones from the blob store.
func (w *GradingWorker) loadAudios(ctx context.Context, job dto.GradingJob) ([3]*dto.AudioUpload, error) {
	uploads, err := job.DecodeAudios()
	if err != nil {
		return uploads, terminal("invalid audio payload", err)
	}

	refs := job.AudioRefs()
	if len(refs) == 0 {
		return uploads, nil
	}
	if w.cfg.AudioBlobs == nil {
		return uploads, terminal("recordings unavailable", ErrAudioUnavailable)
	}

	for i, key := range dto.AudioPartKeys {
		ref, ok := refs[key]
		if !ok {
			continue
		}
		data, err := w.cfg.AudioBlobs.Get(ctx, ref)
		if errors.Is(err, repository.ErrAudioBlobNotFound) {
			return uploads, terminal("recordings unavailable", fmt.Errorf("%w: %v", ErrAudioUnavailable, err))
		}
		if err != nil {
			return uploads, err
		}
		entry := job.Audios[key]
		uploads[i] = &dto.AudioUpload{Data: data, MimeType: entry.MimeType, OriginalName: entry.OriginalName}
	}
	return uploads, nil
}

// releaseAudio deletes referenced recordings once the job no longer needs them.
func (w *GradingWorker) releaseAudio(ctx context.Context, logger zerolog.Logger, job dto.GradingJob) {
	refs := job.AudioRefs()
	if w.cfg.AudioBlobs == nil || len(refs) == 0 {
		return
	}
	keys := make([]string, 0, len(refs))
	for _, ref := range refs {
		keys = append(keys, ref)
	}
	if err := w.cfg.AudioBlobs.Delete(context.WithoutCancel(ctx), keys...); err != nil {
		logger.Warn().Err(err).Msg("failed to delete stored recordings")
	}
}

func (w *GradingWorker) markFailed(ctx context.Context, logger zerolog.Logger, id, reason string) {
	if err := w.lifecycle.MarkFailed(context.WithoutCancel(ctx), id, WorkerActor, reason); err != nil && !errors.Is(err, ErrSubmissionFinalized) {
		logger.Error().Err(err).Msg("failed to mark submission as failed")
	}
}

func (w *GradingWorker) sanitize(feedback string) string {
	return strings.TrimSpace(w.policy.Sanitize(feedback))
}

// speakingPromptParts pairs the assignment's parts with the transcripts in part order.
func speakingPromptParts(content models.SpeakingContent, transcripts [3]string) []ai.SpeakingPromptPart {
	parts := append([]models.SpeakingPart(nil), content.Parts...)
	sort.SliceStable(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	result := make([]ai.SpeakingPromptPart, 0, len(transcripts))
	covered := map[int]bool{}
	for _, part := range parts {
		if part.PartNumber < 1 || part.PartNumber > len(transcripts) {
			continue
		}
		questions := append([]models.SpeakingQuestion(nil), part.Questions...)
		sort.SliceStable(questions, func(i, j int) bool { return questions[i].OrderIndex < questions[j].OrderIndex })

		prompts := make([]string, 0, len(questions))
		for _, question := range questions {
			prompts = append(prompts, question.Prompt)
		}
		result = append(result, ai.SpeakingPromptPart{
			Number:     part.PartNumber,
			Prompts:    prompts,
			Transcript: transcripts[part.PartNumber-1],
		})
		covered[part.PartNumber] = true
	}

	for i, transcript := range transcripts {
		if transcript != "" && !covered[i+1] {
			result = append(result, ai.SpeakingPromptPart{Number: i + 1, Transcript: transcript})
		}
	}
	return result
}

func clampBand(score float64) float64 {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	return math.Min(score, grading.MaxBandScore)
}
