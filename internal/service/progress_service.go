package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/idest-grading-api/internal/dto"
	"github.com/noah-isme/idest-grading-api/internal/models"
	"github.com/noah-isme/idest-grading-api/internal/repository"
)

const recentActivityLimit = 5

var progressSkills = []models.Skill{models.SkillReading, models.SkillListening, models.SkillWriting, models.SkillSpeaking}

// ProgressService summarises a learner's submissions per skill.
type ProgressService interface {
	GetProgress(ctx context.Context, userID string) (dto.ProgressResponse, error)
}

type progressService struct {
	submissions repository.SubmissionRepository
	cache       *redis.Client
	cacheTTL    time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

// NewProgressService builds the aggregator. A nil cache disables caching.
func NewProgressService(submissions repository.SubmissionRepository, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) ProgressService {
	return &progressService{
		submissions: submissions,
		cache:       cache,
		cacheTTL:    ttl,
		logger:      logger.With().Str("component", "progress_service").Logger(),
		now:         time.Now,
	}
}

func (s *progressService) GetProgress(ctx context.Context, userID string) (dto.ProgressResponse, error) {
	cacheKey := "progress:user:" + userID

	if s.cache != nil && s.cacheTTL > 0 {
		if cached, err := s.cache.Get(ctx, cacheKey).Bytes(); err == nil {
			var response dto.ProgressResponse
			if unmarshalErr := json.Unmarshal(cached, &response); unmarshalErr == nil {
				s.logger.Debug().Str("user_id", userID).Msg("progress cache hit")
				return response, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("failed to read progress cache")
		}
	}

	submissions, _, err := s.submissions.List(ctx, repository.SubmissionFilter{SubmittedBy: userID})
	if err != nil {
		return dto.ProgressResponse{}, err
	}

	response := s.buildResponse(submissions)

	if s.cache != nil && s.cacheTTL > 0 {
		if payload, err := json.Marshal(response); err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store progress cache")
			}
		}
	}

	return response, nil
}

// buildResponse expects submissions newest first.
func (s *progressService) buildResponse(submissions []models.Submission) dto.ProgressResponse {
	bySkill := make(map[models.Skill]*dto.SkillProgress, len(progressSkills))
	totals := make(map[models.Skill]float64, len(progressSkills))
	for _, skill := range progressSkills {
		bySkill[skill] = &dto.SkillProgress{Skill: skill}
	}

	for _, submission := range submissions {
		progress, ok := bySkill[submission.Skill]
		if !ok {
			continue
		}
		progress.Submitted++

		switch submission.Status {
		case models.SubmissionStatusGraded:
			progress.Graded++
			if submission.Score != nil {
				score := *submission.Score
				totals[submission.Skill] += score
				if progress.BestScore == nil || score > *progress.BestScore {
					best := score
					progress.BestScore = &best
				}
			}
		case models.SubmissionStatusFailed:
			progress.Failed++
		default:
			progress.Pending++
		}
	}

	skills := make([]dto.SkillProgress, 0, len(progressSkills))
	for _, skill := range progressSkills {
		progress := bySkill[skill]
		if progress.Graded > 0 && progress.BestScore != nil {
			average := totals[skill] / float64(progress.Graded)
			progress.AverageScore = &average
		}
		skills = append(skills, *progress)
	}

	recent := make([]dto.SubmissionActivity, 0, recentActivityLimit)
	for _, submission := range submissions {
		if len(recent) == recentActivityLimit {
			break
		}
		recent = append(recent, dto.SubmissionActivity{
			SubmissionID: submission.ID,
			AssignmentID: submission.AssignmentID,
			Skill:        submission.Skill,
			Status:       submission.Status,
			Score:        submission.Score,
			CreatedAt:    submission.CreatedAt,
		})
	}

	return dto.ProgressResponse{
		Skills:            skills,
		RecentSubmissions: recent,
		GeneratedAt:       s.now().UTC(),
	}
}
