package grading

import (
	"math"

	"github.com/noah-isme/idest-grading-api/internal/models"
)

// MaxBandScore is the top of the nine band scale.
const MaxBandScore = 9.0

// Result is the full outcome of grading one objective submission.
type Result struct {
	Score            float64                `json:"score"`
	TotalQuestions   int                    `json:"total_questions"`
	CorrectAnswers   int                    `json:"correct_answers"`
	IncorrectAnswers int                    `json:"incorrect_answers"`
	Percentage       float64                `json:"percentage"`
	Details          []models.SectionResult `json:"details"`
}

// Grade walks every question of the section tree in stored order and compares it with the submitted answers.
// Unanswered questions count as incorrect. Answers referencing unknown sections or questions are ignored.
// Grade is pure and safe for concurrent use.
func Grade(sections []models.Section, answers []models.SectionAnswer) Result {
	index := indexAnswers(answers)

	result := Result{Details: make([]models.SectionResult, 0, len(sections))}
	for _, section := range sections {
		submitted := index[section.ID]
		detail := models.SectionResult{
			SectionID:    section.ID,
			SectionTitle: section.Title,
			Questions:    []models.QuestionResult{},
		}

		for _, group := range section.QuestionGroups {
			for _, question := range group.Questions {
				result.TotalQuestions++
				outcome := CompareQuestion(question, submitted[question.ID])
				if outcome.Correct {
					result.CorrectAnswers++
				}
				detail.Questions = append(detail.Questions, outcome)
			}
		}

		result.Details = append(result.Details, detail)
	}

	result.IncorrectAnswers = result.TotalQuestions - result.CorrectAnswers

	percentage := 0.0
	if result.TotalQuestions > 0 {
		percentage = float64(result.CorrectAnswers) / float64(result.TotalQuestions) * 100
	}
	result.Score = BandScore(percentage)
	result.Percentage = math.Round(percentage*100) / 100

	return result
}

// BandScore maps a percentage onto the band scale in half steps, clamped to [0, 9].
func BandScore(percentage float64) float64 {
	return RoundToHalf(percentage / 100 * MaxBandScore)
}

// RoundToHalf rounds to the nearest 0.5 and clamps to [0, 9].
func RoundToHalf(value float64) float64 {
	if math.IsNaN(value) {
		return 0
	}
	rounded := math.Floor(value*2+0.5) / 2
	return math.Max(0, math.Min(MaxBandScore, rounded))
}

// NeedsRehydration reports whether stored details are missing sections or parts that grading would produce.
func NeedsRehydration(sections []models.Section, details []models.SectionResult) bool {
	stored := make(map[string]models.SectionResult, len(details))
	for _, detail := range details {
		stored[detail.SectionID] = detail
	}

	for _, section := range sections {
		detail, ok := stored[section.ID]
		if !ok {
			return true
		}

		questions := make(map[string]models.QuestionResult, len(detail.Questions))
		for _, question := range detail.Questions {
			questions[question.QuestionID] = question
		}

		for _, group := range section.QuestionGroups {
			for _, question := range group.Questions {
				recorded, ok := questions[question.ID]
				if !ok || (len(recorded.Parts) == 0 && expectsParts(question)) {
					return true
				}
			}
		}
	}

	return false
}

func expectsParts(question models.Question) bool {
	switch key := question.AnswerKey.(type) {
	case models.GapFillKey:
		return len(key.Blanks) > 0
	case models.MatchingKey:
		return !key.HasMap || len(key.Map) > 0
	default:
		return true
	}
}

// indexAnswers keys answers by section and question. A repeated section entry replaces the earlier one
// and a repeated question id keeps the last answer.
func indexAnswers(answers []models.SectionAnswer) map[string]map[string]interface{} {
	index := make(map[string]map[string]interface{}, len(answers))
	for _, section := range answers {
		byQuestion := make(map[string]interface{}, len(section.Answers))
		for _, answer := range section.Answers {
			byQuestion[answer.QuestionID] = answer.Answer
		}
		index[section.SectionID] = byQuestion
	}
	return index
}
