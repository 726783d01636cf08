package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/idest-grading-api/internal/models"
	"github.com/noah-isme/idest-grading-api/internal/repository"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

type memoryAssignmentRepo struct {
	assignments map[string]models.Assignment
	finds       int
}

func newMemoryAssignmentRepo(items ...models.Assignment) *memoryAssignmentRepo {
	repo := &memoryAssignmentRepo{assignments: make(map[string]models.Assignment)}
	for _, item := range items {
		repo.assignments[item.ID] = item
	}
	return repo
}

func (m *memoryAssignmentRepo) FindByID(_ context.Context, id string, skill models.Skill) (models.Assignment, error) {
	m.finds++
	assignment, ok := m.assignments[id]
	if !ok || (skill != "" && assignment.Skill != skill) {
		return models.Assignment{}, gorm.ErrRecordNotFound
	}
	return assignment, nil
}

func (m *memoryAssignmentRepo) List(_ context.Context, filter repository.AssignmentFilter) ([]models.Assignment, int64, error) {
	items := make([]models.Assignment, 0, len(m.assignments))
	for _, assignment := range m.assignments {
		if filter.Skill != "" && assignment.Skill != filter.Skill {
			continue
		}
		items = append(items, assignment)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, int64(len(items)), nil
}

func (m *memoryAssignmentRepo) SlugExists(_ context.Context, slug string) (bool, error) {
	for _, assignment := range m.assignments {
		if assignment.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryAssignmentRepo) Create(_ context.Context, assignment *models.Assignment) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	assignment.CreatedAt = time.Now()
	assignment.UpdatedAt = assignment.CreatedAt
	m.assignments[assignment.ID] = *assignment
	return nil
}

func (m *memoryAssignmentRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.assignments[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(m.assignments, id)
	return nil
}

// memorySubmissionRepo mirrors the conditional update of the GORM repository.
type memorySubmissionRepo struct {
	mu          sync.Mutex
	submissions map[string]models.Submission
	order       []string
	createErr   error
}

func newMemorySubmissionRepo() *memorySubmissionRepo {
	return &memorySubmissionRepo{submissions: make(map[string]models.Submission)}
}

func (m *memorySubmissionRepo) Create(_ context.Context, submission *models.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if submission.ID == "" {
		submission.ID = uuid.NewString()
	}
	submission.CreatedAt = time.Now()
	submission.UpdatedAt = submission.CreatedAt
	m.submissions[submission.ID] = *submission
	m.order = append(m.order, submission.ID)
	return nil
}

func (m *memorySubmissionRepo) GetByID(_ context.Context, id string) (models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	submission, ok := m.submissions[id]
	if !ok {
		return models.Submission{}, gorm.ErrRecordNotFound
	}
	return submission, nil
}

func (m *memorySubmissionRepo) List(_ context.Context, filter repository.SubmissionFilter) ([]models.Submission, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]models.Submission, 0)
	for i := len(m.order) - 1; i >= 0; i-- {
		submission := m.submissions[m.order[i]]
		if filter.SubmittedBy != "" && submission.SubmittedBy != filter.SubmittedBy {
			continue
		}
		if filter.Skill != "" && submission.Skill != filter.Skill {
			continue
		}
		if filter.Status != "" && submission.Status != filter.Status {
			continue
		}
		items = append(items, submission)
	}
	total := int64(len(items))
	if filter.PageSize > 0 && len(items) > filter.PageSize {
		items = items[:filter.PageSize]
	}
	return items, total, nil
}

func (m *memorySubmissionRepo) TransitionFromPending(_ context.Context, id string, changes map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	submission, ok := m.submissions[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if submission.Status != models.SubmissionStatusPending {
		return repository.ErrStatusConflict
	}

	for column, value := range changes {
		switch column {
		case "status":
			submission.Status = value.(models.SubmissionStatus)
		case "score":
			score := value.(float64)
			submission.Score = &score
		case "feedback":
			submission.Feedback = value.(string)
		case "failure_reason":
			submission.FailureReason = value.(string)
		case "graded_at":
			gradedAt := value.(time.Time)
			submission.GradedAt = &gradedAt
		case "audio_url":
			submission.AudioURL = value.(string)
		case "transcript_one":
			submission.TranscriptOne = value.(string)
		case "transcript_two":
			submission.TranscriptTwo = value.(string)
		case "transcript_three":
			submission.TranscriptThree = value.(string)
		}
	}
	m.submissions[id] = submission
	return nil
}

func (m *memorySubmissionRepo) get(id string) models.Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submissions[id]
}

type memoryEventRepo struct {
	events []models.SubmissionEvent
}

func (m *memoryEventRepo) Create(_ context.Context, event *models.SubmissionEvent) error {
	event.ID = uint(len(m.events) + 1)
	event.CreatedAt = time.Now()
	m.events = append(m.events, *event)
	return nil
}

func (m *memoryEventRepo) ListBySubmission(_ context.Context, submissionID string) ([]models.SubmissionEvent, error) {
	var events []models.SubmissionEvent
	for _, event := range m.events {
		if event.SubmissionID == submissionID {
			events = append(events, event)
		}
	}
	return events, nil
}

func (m *memoryEventRepo) actions(submissionID string) []string {
	var actions []string
	for _, event := range m.events {
		if event.SubmissionID == submissionID {
			actions = append(actions, event.Action)
		}
	}
	return actions
}

type publishedJob struct {
	queue string
	body  []byte
}

type stubPublisher struct {
	published []publishedJob
	err       error
}

func (s *stubPublisher) Publish(_ context.Context, name string, body []byte) error {
	if s.err != nil {
		return s.err
	}
	s.published = append(s.published, publishedJob{queue: name, body: body})
	return nil
}

type stubOracle struct {
	reply        string
	scoreErr     error
	transcripts  map[string]string
	transcribeFn func(ctx context.Context) error
	scoreFn      func(ctx context.Context) (string, error)
	prompts      []string
	transcribed  int
}

func (s *stubOracle) Transcribe(ctx context.Context, data []byte, _ string) (string, error) {
	s.transcribed++
	if s.transcribeFn != nil {
		if err := s.transcribeFn(ctx); err != nil {
			return "", err
		}
	}
	return s.transcripts[string(data)], nil
}

func (s *stubOracle) ScoreText(ctx context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if s.scoreFn != nil {
		return s.scoreFn(ctx)
	}
	if s.scoreErr != nil {
		return "", s.scoreErr
	}
	return s.reply, nil
}

type stubStorage struct {
	names   []string
	payload []byte
	err     error
}

func (s *stubStorage) Upload(_ context.Context, name string, reader io.Reader) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	s.names = append(s.names, name)
	s.payload = data
	return "https://cdn.example.com/" + name, nil
}

var errTransport = errors.New("connection reset by peer")
