package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/idest-grading-api/internal/dto"
	"github.com/noah-isme/idest-grading-api/internal/grading"
	"github.com/noah-isme/idest-grading-api/internal/models"
	"github.com/noah-isme/idest-grading-api/internal/observability"
	"github.com/noah-isme/idest-grading-api/internal/queue"
	"github.com/noah-isme/idest-grading-api/internal/repository"
)

func fakeWAV(payload string) []byte {
	return append([]byte("RIFF\x24\x00\x00\x00WAVEfmt "), payload...)
}

type submissionFixture struct {
	assignments *memoryAssignmentRepo
	submissions *memorySubmissionRepo
	events      *memoryEventRepo
	publisher   *stubPublisher
	svc         SubmissionService
}

func newSubmissionFixture(t *testing.T, assignments ...models.Assignment) submissionFixture {
	t.Helper()
	return newSubmissionFixtureWithConfig(t, SubmissionServiceConfig{QueueName: "grading_jobs", MaxAudioBytes: 1024}, assignments...)
}

func newSubmissionFixtureWithConfig(t *testing.T, cfg SubmissionServiceConfig, assignments ...models.Assignment) submissionFixture {
	t.Helper()
	f := submissionFixture{
		assignments: newMemoryAssignmentRepo(assignments...),
		submissions: newMemorySubmissionRepo(),
		events:      &memoryEventRepo{},
		publisher:   &stubPublisher{},
	}
	lifecycle := NewSubmissionLifecycle(f.submissions, f.events, testLogger())
	f.svc = NewSubmissionService(f.submissions, f.assignments, f.events, lifecycle, f.publisher, testValidator(), cfg, testLogger())
	return f
}

func newAudioBlobStore(t *testing.T) (repository.AudioBlobStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return repository.NewRedisAudioBlobStore(client, 0), server
}

// recording returns a WAV-looking payload of size bytes.
func recording(size int) []byte {
	data := make([]byte, size)
	copy(data, fakeWAV(""))
	return data
}

func writingAssignment(id string) models.Assignment {
	assignment := models.Assignment{ID: id, Skill: models.SkillWriting, Title: "Writing"}
	assignment.SetWritingContent(models.WritingContent{TaskOne: "Describe the graph", TaskTwo: "Discuss"})
	return assignment
}

func speakingAssignment(id string) models.Assignment {
	assignment := models.Assignment{ID: id, Skill: models.SkillSpeaking, Title: "Speaking"}
	assignment.SetSpeakingContent(models.SpeakingContent{Parts: []models.SpeakingPart{
		{PartNumber: 2, Questions: []models.SpeakingQuestion{{Prompt: "Describe a journey", OrderIndex: 1}}},
		{PartNumber: 1, Questions: []models.SpeakingQuestion{{Prompt: "Do you like music?", OrderIndex: 2}, {Prompt: "Where do you live?", OrderIndex: 1}}},
	}})
	return assignment
}

func TestSubmitObjectiveGradesSynchronously(t *testing.T) {
	f := newSubmissionFixture(t, readingAssignment(t, "r1"))

	var answers []models.SectionAnswer
	require.NoError(t, json.Unmarshal([]byte(`[{"section_id":"s1","answers":[
		{"question_id":"q1","answer":{"choice":" b "}},
		{"question_id":"q2","answer":{"blanks":{"1":"Algae","2":"cold"}}}
	]}]`), &answers))

	resp, err := f.svc.SubmitObjective(context.Background(), "student-1", models.SkillReading, dto.ObjectiveSubmissionRequest{
		AssignmentID:   "r1",
		SectionAnswers: answers,
	})
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusGraded, resp.Status)
	require.Equal(t, 2, resp.TotalQuestions)
	require.Equal(t, 1, resp.CorrectAnswers)
	require.Equal(t, 1, resp.IncorrectAnswers)
	require.Equal(t, 50.0, resp.Percentage)
	require.NotNil(t, resp.Score)
	require.Equal(t, 4.5, *resp.Score)
	require.Len(t, resp.Details, 1)
	require.Empty(t, f.publisher.published)

	stored := f.submissions.get(resp.ID)
	require.Len(t, stored.AnswerList(), 1)
}

func TestSubmitObjectiveRejectsMismatchedSkill(t *testing.T) {
	f := newSubmissionFixture(t, readingAssignment(t, "r1"), writingAssignment("w1"))

	_, err := f.svc.SubmitObjective(context.Background(), "student-1", models.SkillListening, dto.ObjectiveSubmissionRequest{AssignmentID: "r1"})
	require.ErrorIs(t, err, ErrSkillMismatch)

	_, err = f.svc.SubmitObjective(context.Background(), "student-1", models.SkillWriting, dto.ObjectiveSubmissionRequest{AssignmentID: "w1"})
	require.ErrorIs(t, err, ErrSkillMismatch)

	_, err = f.svc.SubmitObjective(context.Background(), "student-1", models.SkillReading, dto.ObjectiveSubmissionRequest{AssignmentID: "nope"})
	require.ErrorIs(t, err, ErrAssignmentNotFound)
}

func TestSubmitWritingEnqueuesPendingJob(t *testing.T) {
	f := newSubmissionFixture(t, writingAssignment("w1"))

	ctx := observability.WithCorrelationID(context.Background(), "req-7")
	resp, err := f.svc.SubmitWriting(ctx, "student-1", dto.WritingSubmissionRequest{
		AssignmentID: "w1",
		ContentOne:   "The chart shows",
		ContentTwo:   "Some people believe",
	})
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, resp.Status)
	require.Nil(t, resp.Score)

	require.Len(t, f.publisher.published, 1)
	require.Equal(t, "grading_jobs", f.publisher.published[0].queue)

	job, err := dto.DecodeGradingJob(f.publisher.published[0].body)
	require.NoError(t, err)
	require.Equal(t, models.SkillWriting, job.Skill)
	require.Equal(t, resp.ID, job.SubmissionID)
	require.Equal(t, "student-1", job.UserID)
	require.Equal(t, "Some people believe", job.ContentTwo)
	require.Equal(t, "req-7", job.CorrelationID)
}

func TestSubmitWritingEnqueueFailureMarksFailed(t *testing.T) {
	f := newSubmissionFixture(t, writingAssignment("w1"))
	f.publisher.err = errTransport

	_, err := f.svc.SubmitWriting(context.Background(), "student-1", dto.WritingSubmissionRequest{
		AssignmentID: "w1",
		ContentOne:   "one",
		ContentTwo:   "two",
	})
	require.ErrorIs(t, err, ErrEnqueueFailed)

	mine, total, err := f.svc.ListMine(context.Background(), "student-1", dto.SubmissionFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, models.SubmissionStatusFailed, mine[0].Status)
	require.Contains(t, mine[0].FailureReason, "connection reset")

	last := f.events.events[len(f.events.events)-1]
	require.Equal(t, "submission.failed", last.Action)
	require.Equal(t, APIActor, last.Actor)
}

func TestSubmitSpeakingValidatesAudio(t *testing.T) {
	f := newSubmissionFixture(t, speakingAssignment("sp1"))

	_, err := f.svc.SubmitSpeaking(context.Background(), "student-1", dto.SpeakingSubmissionRequest{AssignmentID: "sp1"})
	require.ErrorIs(t, err, ErrAudioRequired)

	_, err = f.svc.SubmitSpeaking(context.Background(), "student-1", dto.SpeakingSubmissionRequest{
		AssignmentID: "sp1",
		Parts:        [3]*dto.AudioUpload{{Data: []byte("%PDF-1.4 not audio"), MimeType: "audio/wav"}},
	})
	require.ErrorIs(t, err, ErrUnsupportedAudio)

	big := make([]byte, 2048)
	copy(big, fakeWAV(""))
	_, err = f.svc.SubmitSpeaking(context.Background(), "student-1", dto.SpeakingSubmissionRequest{
		AssignmentID: "sp1",
		Parts:        [3]*dto.AudioUpload{nil, {Data: big}},
	})
	require.ErrorIs(t, err, ErrAudioTooLarge)
	require.Empty(t, f.publisher.published)
}

func TestSubmitSpeakingEnqueuesPresentParts(t *testing.T) {
	f := newSubmissionFixture(t, speakingAssignment("sp1"))

	resp, err := f.svc.SubmitSpeaking(context.Background(), "student-1", dto.SpeakingSubmissionRequest{
		AssignmentID: "sp1",
		Parts: [3]*dto.AudioUpload{
			{Data: fakeWAV("one"), MimeType: "audio/wav", OriginalName: "one.wav"},
			nil,
			{Data: fakeWAV("three"), MimeType: "audio/wav", OriginalName: "three.wav"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, resp.Status)

	job, err := dto.DecodeGradingJob(f.publisher.published[0].body)
	require.NoError(t, err)
	require.Equal(t, resp.ID, job.ResponseID)
	require.Len(t, job.Audios, 2)
	require.Contains(t, job.Audios, dto.AudioPartOne)
	require.Contains(t, job.Audios, dto.AudioPartThree)
}

func TestSubmitSpeakingStoresRecordingsByReference(t *testing.T) {
	blobs, server := newAudioBlobStore(t)
	f := newSubmissionFixtureWithConfig(t, SubmissionServiceConfig{MaxAudioBytes: 25 << 20, AudioBlobs: blobs}, speakingAssignment("sp1"))
	part := recording(900 << 10)

	resp, err := f.svc.SubmitSpeaking(context.Background(), "student-1", dto.SpeakingSubmissionRequest{
		AssignmentID: "sp1",
		Parts:        [3]*dto.AudioUpload{{Data: part, MimeType: "audio/wav", OriginalName: "one.wav"}},
	})
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, resp.Status)

	body := f.publisher.published[0].body
	require.Less(t, len(body), 4<<10)

	job, err := dto.DecodeGradingJob(body)
	require.NoError(t, err)
	require.Empty(t, job.Audios[dto.AudioPartOne].Data)
	require.Equal(t, "audio/wav", job.Audios[dto.AudioPartOne].MimeType)
	key := repository.AudioBlobKey(resp.ID, dto.AudioPartOne)
	require.Equal(t, map[string]string{dto.AudioPartOne: key}, job.AudioRefs())

	stored, err := blobs.Get(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, part, stored)
	require.True(t, server.Exists(key))
}

func TestSubmitSpeakingEnqueueFailureDropsStoredRecordings(t *testing.T) {
	blobs, server := newAudioBlobStore(t)
	f := newSubmissionFixtureWithConfig(t, SubmissionServiceConfig{MaxAudioBytes: 1 << 20, AudioBlobs: blobs}, speakingAssignment("sp1"))
	f.publisher.err = errTransport

	_, err := f.svc.SubmitSpeaking(context.Background(), "student-1", dto.SpeakingSubmissionRequest{
		AssignmentID: "sp1",
		Parts:        [3]*dto.AudioUpload{{Data: recording(2048)}, {Data: recording(2048)}},
	})
	require.ErrorIs(t, err, ErrEnqueueFailed)
	require.Empty(t, server.Keys())
}

func TestSubmitSpeakingOversizedEnvelopeReportsTooLarge(t *testing.T) {
	f := newSubmissionFixtureWithConfig(t, SubmissionServiceConfig{MaxAudioBytes: 1 << 20}, speakingAssignment("sp1"))
	f.publisher.err = fmt.Errorf("publish to grading_jobs: %w", queue.ErrMessageTooLarge)

	_, err := f.svc.SubmitSpeaking(context.Background(), "student-1", dto.SpeakingSubmissionRequest{
		AssignmentID: "sp1",
		Parts:        [3]*dto.AudioUpload{{Data: recording(4096)}},
	})
	require.ErrorIs(t, err, ErrAudioTooLarge)

	mine, _, err := f.svc.ListMine(context.Background(), "student-1", dto.SubmissionFilter{})
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusFailed, mine[0].Status)
}

func TestInlineAudioLimitFitsPayload(t *testing.T) {
	const maxPayload = 1 << 20
	limit := InlineAudioLimit(maxPayload)
	require.Positive(t, limit)

	part := &dto.AudioUpload{Data: recording(int(limit)), MimeType: "audio/wav", OriginalName: "part.wav"}
	submission := models.Submission{ID: "3f1c2b7e-0d7a-4c55-9a57-0c1f4b8f3d21", AssignmentID: "9b2d4c1e-6f3a-4e8b-b1c2-7d5e9f0a1b2c", SubmittedBy: "student-1"}
	job := dto.NewSpeakingJob(submission, [3]*dto.AudioUpload{part, part, part}, nil)
	job.CorrelationID = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	body, err := job.Encode()
	require.NoError(t, err)
	require.LessOrEqual(t, len(body), maxPayload)

	require.Zero(t, InlineAudioLimit(envelopeOverhead))
}

func TestGetSubmissionRehydratesIncompleteDetails(t *testing.T) {
	assignment := readingAssignment(t, "r1")
	f := newSubmissionFixture(t, assignment)

	answers := []models.SectionAnswer{{SectionID: "s1", Answers: []models.QuestionAnswer{
		{QuestionID: "q1", Answer: map[string]interface{}{"choice": "B"}},
	}}}
	score := 4.5
	stored := models.Submission{
		AssignmentID:     "r1",
		SubmittedBy:      "student-1",
		Skill:            models.SkillReading,
		Status:           models.SubmissionStatusGraded,
		Score:            &score,
		TotalQuestions:   2,
		CorrectAnswers:   1,
		IncorrectAnswers: 1,
		Percentage:       50,
	}
	stored.SetAnswers(answers)
	stored.SetDetails([]models.SectionResult{{SectionID: "s1", Questions: []models.QuestionResult{{QuestionID: "q1", Correct: true}}}})
	require.NoError(t, f.submissions.Create(context.Background(), &stored))

	resp, err := f.svc.Get(context.Background(), stored.ID, Viewer{ID: "student-1", Role: "student"})
	require.NoError(t, err)
	require.Len(t, resp.Details, 1)
	require.Len(t, resp.Details[0].Questions, 2)
	require.NotEmpty(t, resp.Details[0].Questions[0].Parts)
	require.Equal(t, grading.Grade(assignment.SectionList(), answers).Details, resp.Details)

	require.Equal(t, 4.5, *resp.Score)
	unchanged := f.submissions.get(stored.ID)
	require.Len(t, unchanged.DetailList()[0].Questions, 1)
}

func TestGetSubmissionAccessControl(t *testing.T) {
	f := newSubmissionFixture(t, writingAssignment("w1"))

	resp, err := f.svc.SubmitWriting(context.Background(), "student-1", dto.WritingSubmissionRequest{AssignmentID: "w1", ContentOne: "a", ContentTwo: "b"})
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), resp.ID, Viewer{ID: "student-2", Role: "student"})
	require.ErrorIs(t, err, ErrForbidden)

	viewed, err := f.svc.Get(context.Background(), resp.ID, Viewer{ID: "teacher-9", Role: "teacher"})
	require.NoError(t, err)
	require.Equal(t, resp.ID, viewed.ID)

	_, err = f.svc.Get(context.Background(), "missing", Viewer{ID: "student-1"})
	require.ErrorIs(t, err, ErrSubmissionNotFound)

	events, err := f.svc.Events(context.Background(), resp.ID, Viewer{ID: "student-1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "submission.created", events[0].Action)
}

func TestListMineNewestFirstWithDefaultLimit(t *testing.T) {
	f := newSubmissionFixture(t, writingAssignment("w1"))

	var lastID string
	for i := 0; i < 8; i++ {
		resp, err := f.svc.SubmitWriting(context.Background(), "student-1", dto.WritingSubmissionRequest{AssignmentID: "w1", ContentOne: "a", ContentTwo: "b"})
		require.NoError(t, err)
		lastID = resp.ID
	}
	_, err := f.svc.SubmitWriting(context.Background(), "student-2", dto.WritingSubmissionRequest{AssignmentID: "w1", ContentOne: "a", ContentTwo: "b"})
	require.NoError(t, err)

	items, total, err := f.svc.ListMine(context.Background(), "student-1", dto.SubmissionFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(8), total)
	require.Len(t, items, DefaultListLimit)
	require.Equal(t, lastID, items[0].ID)

	_, _, err = f.svc.ListMine(context.Background(), "student-1", dto.SubmissionFilter{Status: "archived"})
	require.Error(t, err)
}
