package service

import "errors"

var (
	// ErrAssignmentNotFound indicates the requested assignment does not exist.
	ErrAssignmentNotFound = errors.New("assignment not found")
	// ErrSubmissionNotFound indicates a submission could not be found.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrSkillMismatch indicates the assignment exists but belongs to another skill.
	ErrSkillMismatch = errors.New("assignment skill does not match submission skill")
	// ErrInvalidMaterial indicates a section material does not fit the assignment skill.
	ErrInvalidMaterial = errors.New("invalid section material")
	// ErrUnsupportedQuestionType indicates a question type outside the known set.
	ErrUnsupportedQuestionType = errors.New("unsupported question type")
	// ErrInvalidAnswerKey indicates an answer key that does not decode for its question type.
	ErrInvalidAnswerKey = errors.New("invalid answer key")
	// ErrMissingContent indicates writing or speaking prompts were not supplied.
	ErrMissingContent = errors.New("assignment content is required")
	// ErrSlugTaken indicates another assignment already uses the slug.
	ErrSlugTaken = errors.New("assignment slug already in use")
	// ErrAudioRequired indicates a speaking submission without any recorded part.
	ErrAudioRequired = errors.New("at least one audio part is required")
	// ErrAudioTooLarge indicates a recorded part above the upload limit.
	ErrAudioTooLarge = errors.New("audio part exceeds size limit")
	// ErrUnsupportedAudio indicates a recorded part that is not audio.
	ErrUnsupportedAudio = errors.New("unsupported audio type")
	// ErrAudioUnavailable indicates referenced recordings that can no longer be loaded.
	ErrAudioUnavailable = errors.New("recorded audio unavailable")
	// ErrUnparseableResponse indicates the oracle reply had no usable score.
	ErrUnparseableResponse = errors.New("unparseable grading response")
	// ErrEnqueueFailed indicates the grading job could not be published.
	ErrEnqueueFailed = errors.New("failed to enqueue grading job")
	// ErrSubmissionFinalized indicates a transition out of graded or failed.
	ErrSubmissionFinalized = errors.New("submission already finalized")
	// ErrForbidden indicates the caller may not access the resource.
	ErrForbidden = errors.New("forbidden")
)
