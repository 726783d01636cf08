package ai

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/idest-grading-api/pkg/audio"
)

var (
	oracleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "idest",
		Subsystem: "oracle",
		Name:      "call_duration_seconds",
		Help:      "Duration of oracle requests",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 90},
	}, []string{"operation", "model"})

	oracleFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "idest",
		Subsystem: "oracle",
		Name:      "call_failures_total",
		Help:      "Number of failed oracle requests",
	}, []string{"operation", "model"})
)

// OpenAIConfig defines configuration options for the OpenAI oracle.
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	Model              string
	TranscriptionModel string
	MaxTokens          int
	Temperature        float32
	Logger             zerolog.Logger
}

// OpenAIOracle implements Oracle with chat completions for scoring and Whisper for transcription.
type OpenAIOracle struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIOracle builds a new oracle using the provided configuration.
func NewOpenAIOracle(cfg OpenAIConfig) (*OpenAIOracle, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = openai.Whisper1
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &OpenAIOracle{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/idest-grading-api/pkg/ai/openai"),
		logger: logger.With().Str("component", "openai_oracle").Logger(),
	}, nil
}

// ScoreText sends the grading prompt and returns the raw reply text.
func (o *OpenAIOracle) ScoreText(parent context.Context, prompt string) (string, error) {
	ctx, span := o.tracer.Start(parent, "openai.score_text", trace.WithAttributes(
		attribute.String("model", o.cfg.Model),
		attribute.Int("prompt.length", len(prompt)),
	))
	defer span.End()

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.cfg.Model,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: prompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	oracleDuration.WithLabelValues("score", o.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", o.fail(span, "score", o.cfg.Model, fmt.Errorf("openai score: %w", err))
	}

	if len(resp.Choices) == 0 {
		return "", o.fail(span, "score", o.cfg.Model, ErrEmptyResponse)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", o.fail(span, "score", o.cfg.Model, ErrEmptyResponse)
	}

	o.logger.Debug().Int("total_tokens", resp.Usage.TotalTokens).Msg("score request completed")
	return content, nil
}

// Transcribe uploads one recording to the transcription endpoint.
func (o *OpenAIOracle) Transcribe(parent context.Context, data []byte, mimeType string) (string, error) {
	ctx, span := o.tracer.Start(parent, "openai.transcribe", trace.WithAttributes(
		attribute.String("model", o.cfg.TranscriptionModel),
		attribute.String("mime_type", mimeType),
		attribute.Int("audio.bytes", len(data)),
	))
	defer span.End()

	mime := audio.DetectMIME(data, mimeType)
	start := time.Now()
	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.cfg.TranscriptionModel,
		Reader:   bytes.NewReader(data),
		FilePath: "answer." + audio.ExtensionForMIME(mime),
	})
	oracleDuration.WithLabelValues("transcribe", o.cfg.TranscriptionModel).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", o.fail(span, "transcribe", o.cfg.TranscriptionModel, fmt.Errorf("openai transcribe: %w", err))
	}

	return strings.TrimSpace(resp.Text), nil
}

func (o *OpenAIOracle) fail(span trace.Span, operation, model string, err error) error {
	oracleFailures.WithLabelValues(operation, model).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
