package ai

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var fencedJSON = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)```")

// GradingResponse is the score and feedback extracted from an oracle reply.
type GradingResponse struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// ParseGradingResponse extracts {"score", "feedback"} from free text. The reply may wrap the object
// in prose or a fenced code block. ok is false when no usable object was found.
func ParseGradingResponse(raw string) (GradingResponse, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return GradingResponse{}, false
	}

	for _, candidate := range candidates(text) {
		if response, ok := decodeGrading(candidate); ok {
			return response, true
		}
	}

	return GradingResponse{}, false
}

// Preview shortens raw oracle output for log lines.
func Preview(raw string, limit int) string {
	text := strings.TrimSpace(raw)
	if limit <= 0 || len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

func candidates(text string) []string {
	if match := fencedJSON.FindStringSubmatch(text); match != nil {
		return []string{strings.TrimSpace(match[1])}
	}

	var out []string
	if balanced, ok := firstBalancedObject(text); ok {
		out = append(out, balanced)
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		greedy := text[start : end+1]
		if len(out) == 0 || out[0] != greedy {
			out = append(out, greedy)
		}
	}
	return out
}

// firstBalancedObject returns the first top level {...} span, skipping braces inside JSON strings.
func firstBalancedObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}

	return "", false
}

func decodeGrading(candidate string) (GradingResponse, bool) {
	var payload struct {
		Score    json.RawMessage `json:"score"`
		Feedback interface{}     `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
		return GradingResponse{}, false
	}

	score, ok := decodeScore(payload.Score)
	if !ok {
		return GradingResponse{}, false
	}

	response := GradingResponse{Score: score}
	switch feedback := payload.Feedback.(type) {
	case nil:
	case string:
		response.Feedback = feedback
	default:
		encoded, err := json.Marshal(feedback)
		if err != nil {
			return GradingResponse{}, false
		}
		response.Feedback = string(encoded)
	}

	return response, true
}

func decodeScore(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}

	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		return number, true
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0, false
	}
	number, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(number) || math.IsInf(number, 0) {
		return 0, false
	}
	return number, true
}
