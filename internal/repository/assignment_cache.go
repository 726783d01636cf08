package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/idest-grading-api/internal/models"
	"github.com/noah-isme/idest-grading-api/internal/observability"
)

const assignmentCachePrefix = "assignment:"

// cachedAssignment keeps the JSON columns that models.Assignment hides from API output.
type cachedAssignment struct {
	ID          string          `json:"id"`
	CreatedBy   string          `json:"created_by"`
	ClassID     string          `json:"class_id"`
	Skill       models.Skill    `json:"skill"`
	Slug        string          `json:"slug"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	IsPublic    bool            `json:"is_public"`
	Sections    json.RawMessage `json:"sections,omitempty"`
	Writing     json.RawMessage `json:"writing,omitempty"`
	Speaking    json.RawMessage `json:"speaking,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type cachedAssignmentRepository struct {
	AssignmentRepository
	cache  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedAssignmentRepository wraps repo with a read-through Redis cache for FindByID.
// A nil client or non-positive ttl returns repo unchanged.
func NewCachedAssignmentRepository(repo AssignmentRepository, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) AssignmentRepository {
	if cache == nil || ttl <= 0 {
		return repo
	}
	return &cachedAssignmentRepository{
		AssignmentRepository: repo,
		cache:                cache,
		ttl:                  ttl,
		logger:               logger.With().Str("component", "assignment_cache").Logger(),
	}
}

func (r *cachedAssignmentRepository) FindByID(ctx context.Context, id string, skill models.Skill) (models.Assignment, error) {
	key := assignmentCachePrefix + id

	cached, err := r.cache.Get(ctx, key).Bytes()
	if err == nil {
		var entry cachedAssignment
		if unmarshalErr := json.Unmarshal(cached, &entry); unmarshalErr == nil {
			observability.AssignmentCache().WithLabelValues("hit").Inc()
			if skill != "" && entry.Skill != skill {
				return models.Assignment{}, gorm.ErrRecordNotFound
			}
			return entry.model(), nil
		}
		r.logger.Warn().Str("assignment_id", id).Msg("discarding undecodable assignment cache entry")
	} else if !errors.Is(err, redis.Nil) {
		r.logger.Warn().Err(err).Msg("failed to read assignment cache")
	}
	observability.AssignmentCache().WithLabelValues("miss").Inc()

	// Load without the skill filter so one entry serves every caller.
	assignment, err := r.AssignmentRepository.FindByID(ctx, id, "")
	if err != nil {
		return models.Assignment{}, err
	}

	if payload, err := json.Marshal(newCachedAssignment(assignment)); err == nil {
		if err := r.cache.Set(ctx, key, payload, r.ttl).Err(); err != nil {
			r.logger.Warn().Err(err).Msg("failed to store assignment cache")
		}
	}

	if skill != "" && assignment.Skill != skill {
		return models.Assignment{}, gorm.ErrRecordNotFound
	}
	return assignment, nil
}

func (r *cachedAssignmentRepository) Delete(ctx context.Context, id string) error {
	if err := r.AssignmentRepository.Delete(ctx, id); err != nil {
		return err
	}
	if err := r.cache.Del(ctx, assignmentCachePrefix+id).Err(); err != nil {
		r.logger.Warn().Err(err).Str("assignment_id", id).Msg("failed to invalidate assignment cache")
	}
	return nil
}

func newCachedAssignment(a models.Assignment) cachedAssignment {
	return cachedAssignment{
		ID:          a.ID,
		CreatedBy:   a.CreatedBy,
		ClassID:     a.ClassID,
		Skill:       a.Skill,
		Slug:        a.Slug,
		Title:       a.Title,
		Description: a.Description,
		IsPublic:    a.IsPublic,
		Sections:    json.RawMessage(a.Sections),
		Writing:     json.RawMessage(a.Writing),
		Speaking:    json.RawMessage(a.Speaking),
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func (c cachedAssignment) model() models.Assignment {
	return models.Assignment{
		ID:          c.ID,
		CreatedBy:   c.CreatedBy,
		ClassID:     c.ClassID,
		Skill:       c.Skill,
		Slug:        c.Slug,
		Title:       c.Title,
		Description: c.Description,
		IsPublic:    c.IsPublic,
		Sections:    datatypes.JSON(c.Sections),
		Writing:     datatypes.JSON(c.Writing),
		Speaking:    datatypes.JSON(c.Speaking),
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}
