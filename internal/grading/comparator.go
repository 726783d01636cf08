package grading

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/noah-isme/idest-grading-api/internal/models"
)

const (
	partChoice  = "choice"
	partChoices = "choices"
	partText    = "text"
	partValue   = "value"
)

// CompareQuestion grades one submitted answer payload against the question's answer key.
// submitted is the decoded JSON answer and may be nil when the question was left unanswered.
func CompareQuestion(question models.Question, submitted interface{}) models.QuestionResult {
	result := models.QuestionResult{QuestionID: question.ID, Parts: []models.PartResult{}}

	switch key := question.AnswerKey.(type) {
	case models.GapFillKey:
		result.Parts = compareMap(field(submitted, "blanks"), key.Blanks)
		result.Correct = allCorrect(result.Parts)
	case models.ChoiceKey:
		result.Parts = append(result.Parts, scalarPart(partChoice, field(submitted, "choice"), key.Choice))
		result.Correct = result.Parts[0].Correct
	case models.MultiChoiceKey:
		submittedChoices := field(submitted, "choices")
		correct := compareUnordered(submittedChoices, key.Choices)
		result.Parts = append(result.Parts, models.PartResult{
			Key:             partChoices,
			Correct:         correct,
			SubmittedAnswer: submittedChoices,
			CorrectAnswer:   key.Choices,
		})
		result.Correct = correct
	case models.MatchingKey:
		if key.HasMap {
			result.Parts = compareMap(field(submitted, "map"), key.Map)
			result.Correct = allCorrect(result.Parts)
			break
		}
		result.Parts = append(result.Parts, scalarPart(partChoice, field(submitted, "choice"), key.CorrectAnswer))
		result.Correct = result.Parts[0].Correct
	case models.ShortAnswerKey:
		result.Parts = append(result.Parts, scalarPart(partText, field(submitted, "text"), key.CorrectAnswer))
		result.Correct = result.Parts[0].Correct
	case models.RawKey:
		result.Parts = append(result.Parts, scalarPart(partValue, submitted, key.Value))
		result.Correct = result.Parts[0].Correct
	default:
		result.Parts = append(result.Parts, scalarPart(partValue, submitted, nil))
		result.Correct = result.Parts[0].Correct
	}

	return result
}

func scalarPart(key string, submitted, expected interface{}) models.PartResult {
	return models.PartResult{
		Key:             key,
		Correct:         compareScalar(submitted, expected),
		SubmittedAnswer: submitted,
		CorrectAnswer:   expected,
	}
}

// compareMap grades every key entry. A key absent from the submission is incorrect.
func compareMap(submitted interface{}, expected map[string]interface{}) []models.PartResult {
	values, _ := submitted.(map[string]interface{})

	ids := make([]string, 0, len(expected))
	for id := range expected {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return naturalLess(ids[i], ids[j]) })

	parts := make([]models.PartResult, 0, len(ids))
	for _, id := range ids {
		value, present := values[id]
		parts = append(parts, models.PartResult{
			Key:             id,
			Correct:         present && compareScalar(value, expected[id]),
			SubmittedAnswer: value,
			CorrectAnswer:   expected[id],
		})
	}

	return parts
}

func allCorrect(parts []models.PartResult) bool {
	for _, part := range parts {
		if !part.Correct {
			return false
		}
	}
	return true
}

// compareScalar uses trimmed case-insensitive equality when either side is a string,
// raw equality otherwise.
func compareScalar(submitted, expected interface{}) bool {
	_, submittedIsString := submitted.(string)
	_, expectedIsString := expected.(string)
	if submittedIsString || expectedIsString {
		return normalize(submitted) == normalize(expected)
	}
	return reflect.DeepEqual(submitted, expected)
}

// compareUnordered requires equal length and matching sorted normalised sequences.
// Duplicates are kept on both sides.
func compareUnordered(submitted interface{}, expected []interface{}) bool {
	values, ok := submitted.([]interface{})
	if !ok || expected == nil {
		return false
	}
	if len(values) != len(expected) {
		return false
	}

	left := normalizeAll(values)
	right := normalizeAll(expected)
	for i := range left {
		if left[i] != right[i] {
			return false
		}
	}
	return true
}

func normalizeAll(values []interface{}) []string {
	out := make([]string, len(values))
	for i, value := range values {
		out[i] = normalize(value)
	}
	sort.Strings(out)
	return out
}

func normalize(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
	}
}

func field(payload interface{}, name string) interface{} {
	obj, ok := payload.(map[string]interface{})
	if !ok {
		return nil
	}
	return obj[name]
}

// naturalLess orders numeric ids numerically and before any non-numeric id.
func naturalLess(a, b string) bool {
	ai, aErr := strconv.ParseUint(a, 10, 64)
	bi, bErr := strconv.ParseUint(b, 10, 64)
	switch {
	case aErr == nil && bErr == nil:
		if ai != bi {
			return ai < bi
		}
		return a < b
	case aErr == nil:
		return true
	case bErr == nil:
		return false
	default:
		return a < b
	}
}
