package dto

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/noah-isme/idest-grading-api/internal/models"
)

// Keys of the recorded parts inside GradingJob.Audios, in part order.
const (
	AudioPartOne   = "audioOne"
	AudioPartTwo   = "audioTwo"
	AudioPartThree = "audioThree"
)

// AudioPartKeys lists the audio keys in part order.
var AudioPartKeys = [3]string{AudioPartOne, AudioPartTwo, AudioPartThree}

// ErrInvalidJob is returned when an envelope misses the fields its skill requires.
var ErrInvalidJob = errors.New("invalid grading job")

// JobAudio is one recording inside the envelope: either inline as base64 Data, or Ref, a key
// into the audio blob store.
type JobAudio struct {
	Data         string `json:"data,omitempty"`
	Ref          string `json:"ref,omitempty"`
	MimeType     string `json:"mimetype"`
	OriginalName string `json:"originalname"`
}

// GradingJob is the queue envelope. Skill selects which of the optional fields are meaningful.
type GradingJob struct {
	Skill        models.Skill           `json:"skill"`
	AssignmentID string                 `json:"assignmentId"`
	UserID       string                 `json:"userId"`
	Sections     []models.SectionAnswer `json:"sections,omitempty"`
	SubmissionID string                 `json:"submissionId,omitempty"`
	ContentOne   string                 `json:"contentOne,omitempty"`
	ContentTwo   string                 `json:"contentTwo,omitempty"`
	ResponseID   string                 `json:"responseId,omitempty"`
	Audios       map[string]JobAudio    `json:"audios,omitempty"`

	// CorrelationID links the job to the HTTP request that produced it.
	CorrelationID string `json:"correlationId,omitempty"`
}

// NewWritingJob builds the envelope for a pending writing submission.
func NewWritingJob(submission models.Submission) GradingJob {
	return GradingJob{
		Skill:        models.SkillWriting,
		AssignmentID: submission.AssignmentID,
		UserID:       submission.SubmittedBy,
		SubmissionID: submission.ID,
		ContentOne:   submission.ContentOne,
		ContentTwo:   submission.ContentTwo,
	}
}

// NewSpeakingJob builds the envelope for a pending speaking submission. Absent parts are skipped;
// parts with an entry in refs are carried by reference instead of inline.
func NewSpeakingJob(submission models.Submission, parts [3]*AudioUpload, refs map[string]string) GradingJob {
	job := GradingJob{
		Skill:        models.SkillSpeaking,
		AssignmentID: submission.AssignmentID,
		UserID:       submission.SubmittedBy,
		ResponseID:   submission.ID,
		Audios:       make(map[string]JobAudio, len(parts)),
	}
	for i, part := range parts {
		if part == nil || len(part.Data) == 0 {
			continue
		}
		entry := JobAudio{MimeType: part.MimeType, OriginalName: part.OriginalName}
		if ref := refs[AudioPartKeys[i]]; ref != "" {
			entry.Ref = ref
		} else {
			entry.Data = base64.StdEncoding.EncodeToString(part.Data)
		}
		job.Audios[AudioPartKeys[i]] = entry
	}
	return job
}

// NewObjectiveJob builds the envelope for an asynchronous reading or listening regrade.
func NewObjectiveJob(skill models.Skill, assignmentID, userID string, sections []models.SectionAnswer) GradingJob {
	return GradingJob{
		Skill:        skill,
		AssignmentID: assignmentID,
		UserID:       userID,
		Sections:     sections,
	}
}

// DecodeGradingJob parses an envelope received from the queue.
func DecodeGradingJob(data []byte) (GradingJob, error) {
	var job GradingJob
	if err := json.Unmarshal(data, &job); err != nil {
		return GradingJob{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	return job, nil
}

// Encode serialises the envelope for publishing.
func (j GradingJob) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// TargetID returns the id of the submission the job finalises.
func (j GradingJob) TargetID() string {
	if j.Skill == models.SkillSpeaking {
		return j.ResponseID
	}
	return j.SubmissionID
}

// Validate checks the fields required by the job's skill. Unknown skills are not rejected here.
func (j GradingJob) Validate() error {
	if j.AssignmentID == "" {
		return fmt.Errorf("%w: assignmentId is required", ErrInvalidJob)
	}

	switch j.Skill {
	case models.SkillWriting:
		if j.SubmissionID == "" {
			return fmt.Errorf("%w: submissionId is required", ErrInvalidJob)
		}
	case models.SkillSpeaking:
		if j.ResponseID == "" {
			return fmt.Errorf("%w: responseId is required", ErrInvalidJob)
		}
	case models.SkillReading, models.SkillListening:
		if j.UserID == "" {
			return fmt.Errorf("%w: userId is required", ErrInvalidJob)
		}
	}
	return nil
}

// AudioRefs returns the blob store keys of the parts carried by reference, by part key.
func (j GradingJob) AudioRefs() map[string]string {
	refs := map[string]string{}
	for key, entry := range j.Audios {
		if entry.Data == "" && entry.Ref != "" {
			refs[key] = entry.Ref
		}
	}
	return refs
}

// DecodeAudios returns the inline recorded parts in part order; absent and referenced parts are nil.
func (j GradingJob) DecodeAudios() ([3]*AudioUpload, error) {
	var parts [3]*AudioUpload
	for i, key := range AudioPartKeys {
		encoded, ok := j.Audios[key]
		if !ok || encoded.Data == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(encoded.Data)
		if err != nil {
			return parts, fmt.Errorf("%w: %s is not valid base64", ErrInvalidJob, key)
		}
		parts[i] = &AudioUpload{
			Data:         data,
			MimeType:     encoded.MimeType,
			OriginalName: encoded.OriginalName,
		}
	}
	return parts, nil
}
