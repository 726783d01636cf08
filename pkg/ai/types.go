package ai

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the model answers without any content.
var ErrEmptyResponse = errors.New("oracle returned an empty response")

// Oracle is the external capability used by the asynchronous grader.
// Implementations must be safe to share between goroutines.
type Oracle interface {
	// Transcribe converts one recorded answer into text.
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
	// ScoreText sends a grading prompt and returns the model's raw reply.
	ScoreText(ctx context.Context, prompt string) (string, error)
}
