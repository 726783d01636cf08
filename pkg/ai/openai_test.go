package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestOracle(t *testing.T, handler http.HandlerFunc) *OpenAIOracle {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	oracle, err := NewOpenAIOracle(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: server.URL + "/v1",
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	return oracle
}

func TestNewOpenAIOracleRequiresKey(t *testing.T) {
	_, err := NewOpenAIOracle(OpenAIConfig{})
	require.Error(t, err)
}

func TestOpenAIOracleScoreText(t *testing.T) {
	var received map[string]interface{}
	oracle := newTestOracle(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":" {\"score\": 6, \"feedback\": \"ok\"} "}}],"usage":{"total_tokens":12}}`))
	})

	raw, err := oracle.ScoreText(context.Background(), "grade this JSON")
	require.NoError(t, err)
	require.Equal(t, `{"score": 6, "feedback": "ok"}`, raw)
	require.Equal(t, "gpt-4o-mini", received["model"])
}

func TestOpenAIOracleScoreTextEmptyChoices(t *testing.T) {
	oracle := newTestOracle(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[]}`))
	})

	_, err := oracle.ScoreText(context.Background(), "prompt")
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAIOracleScoreTextServerError(t *testing.T) {
	oracle := newTestOracle(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	})

	_, err := oracle.ScoreText(context.Background(), "prompt")
	require.Error(t, err)
}

func TestOpenAIOracleTranscribe(t *testing.T) {
	oracle := newTestOracle(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "whisper-1", r.FormValue("model"))
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		require.Equal(t, "answer.webm", header.Filename)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":" I live near the coast. "}`))
	})

	text, err := oracle.Transcribe(context.Background(), []byte("fake-audio"), "audio/webm")
	require.NoError(t, err)
	require.Equal(t, "I live near the coast.", text)
}
