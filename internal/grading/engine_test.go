package grading

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/idest-grading-api/internal/models"
)

func decodeSections(t *testing.T, raw string) []models.Section {
	t.Helper()
	var sections []models.Section
	require.NoError(t, json.Unmarshal([]byte(raw), &sections))
	return sections
}

func decodeSectionAnswers(t *testing.T, raw string) []models.SectionAnswer {
	t.Helper()
	var answers []models.SectionAnswer
	require.NoError(t, json.Unmarshal([]byte(raw), &answers))
	return answers
}

const readingSections = `[
  {
    "id": "s1",
    "title": "Passage 1",
    "order_index": 1,
    "material": {"type": "reading", "document_md": "# The river"},
    "question_groups": [
      {
        "id": "g1",
        "order_index": 1,
        "questions": [
          {"id": "q1", "order_index": 1, "type": "multiple_choice_single", "answer_key": {"choice": "a"}},
          {"id": "q2", "order_index": 2, "type": "true_false_not_given", "answer_key": {"choice": "TRUE"}},
          {"id": "q3", "order_index": 3, "type": "short_answer", "answer_key": {"correct_answer": "delta"}}
        ]
      }
    ]
  },
  {
    "id": "s2",
    "title": "Passage 2",
    "order_index": 2,
    "material": {"type": "reading", "document_md": "# The city"},
    "question_groups": [
      {
        "id": "g2",
        "order_index": 1,
        "questions": [
          {"id": "q4", "order_index": 1, "type": "multiple_choice_multi", "answer_key": {"choices": ["a", "c"]}},
          {"id": "q5", "order_index": 2, "type": "matching", "answer_key": {"map": {"1": "B"}}},
          {"id": "q6", "order_index": 3, "type": "gap_fill_template", "answer_key": {"blanks": {"1": "bridge"}}}
        ]
      }
    ]
  }
]`

func TestGradeEndToEndGapFill(t *testing.T) {
	sections := decodeSections(t, `[{"id":"s1","title":"Section 1","question_groups":[{"id":"g1","questions":[
		{"id":"q1","type":"gap_fill_template","answer_key":{"blanks":{"1":"run","2":"fast"}}}
	]}]}]`)
	answers := decodeSectionAnswers(t, `[{"section_id":"s1","answers":[{"question_id":"q1","answer":{"blanks":{"1":"Run","2":"slow"}}}]}]`)

	result := Grade(sections, answers)

	require.Equal(t, 1, result.TotalQuestions)
	require.Equal(t, 0, result.CorrectAnswers)
	require.Equal(t, 1, result.IncorrectAnswers)
	require.Equal(t, 0.0, result.Percentage)
	require.Equal(t, 0.0, result.Score)

	require.Len(t, result.Details, 1)
	question := result.Details[0].Questions[0]
	require.False(t, question.Correct)
	require.Len(t, question.Parts, 2)
	require.True(t, question.Parts[0].Correct)
	require.False(t, question.Parts[1].Correct)
}

func TestGradeAggregatesAcrossSections(t *testing.T) {
	sections := decodeSections(t, readingSections)
	answers := decodeSectionAnswers(t, `[
		{"section_id":"s1","answers":[
			{"question_id":"q1","answer":{"choice":"A"}},
			{"question_id":"q2","answer":{"choice":"true"}},
			{"question_id":"q3","answer":{"text":" Delta"}}
		]},
		{"section_id":"s2","answers":[
			{"question_id":"q4","answer":{"choices":["c","a"]}},
			{"question_id":"q5","answer":{"map":{"1":"b"}}}
		]}
	]`)

	result := Grade(sections, answers)

	require.Equal(t, 6, result.TotalQuestions)
	require.Equal(t, 5, result.CorrectAnswers)
	require.Equal(t, 1, result.IncorrectAnswers)
	require.Equal(t, 83.33, result.Percentage)
	require.Equal(t, 7.5, result.Score)

	require.Len(t, result.Details, 2)
	require.Equal(t, "Passage 2", result.Details[1].SectionTitle)
	require.Equal(t, []string{"q4", "q5", "q6"}, questionIDs(result.Details[1]))
	require.False(t, result.Details[1].Questions[2].Correct)
}

func TestGradeIgnoresUnknownIdsAndKeepsLastAnswer(t *testing.T) {
	sections := decodeSections(t, readingSections)
	answers := decodeSectionAnswers(t, `[
		{"section_id":"ghost","answers":[{"question_id":"q1","answer":{"choice":"a"}}]},
		{"section_id":"s1","answers":[
			{"question_id":"q1","answer":{"choice":"b"}},
			{"question_id":"q1","answer":{"choice":"a"}},
			{"question_id":"nope","answer":{"choice":"a"}}
		]}
	]`)

	result := Grade(sections, answers)

	require.Equal(t, 6, result.TotalQuestions)
	require.Equal(t, 1, result.CorrectAnswers)
	require.True(t, result.Details[0].Questions[0].Correct)
}

func TestGradeHalfSplit(t *testing.T) {
	sections := decodeSections(t, `[{"id":"s1","title":"S","question_groups":[{"id":"g","questions":[
		{"id":"q1","type":"multiple_choice_single","answer_key":{"choice":"a"}},
		{"id":"q2","type":"multiple_choice_single","answer_key":{"choice":"b"}}
	]}]}]`)
	answers := decodeSectionAnswers(t, `[{"section_id":"s1","answers":[{"question_id":"q1","answer":{"choice":"a"}}]}]`)

	result := Grade(sections, answers)
	require.Equal(t, 50.0, result.Percentage)
	require.Equal(t, 4.5, result.Score)
}

func TestGradeEmptyAssignment(t *testing.T) {
	result := Grade(nil, nil)

	require.Equal(t, 0, result.TotalQuestions)
	require.Equal(t, 0.0, result.Percentage)
	require.Equal(t, 0.0, result.Score)
	require.NotNil(t, result.Details)
}

func TestGradeIsDeterministic(t *testing.T) {
	sections := decodeSections(t, readingSections)
	answers := decodeSectionAnswers(t, `[{"section_id":"s2","answers":[
		{"question_id":"q5","answer":{"map":{"1":"b"}}},
		{"question_id":"q6","answer":{"blanks":{"1":"Bridge"}}}
	]}]`)

	first, err := json.Marshal(Grade(sections, answers))
	require.NoError(t, err)
	second, err := json.Marshal(Grade(sections, answers))
	require.NoError(t, err)
	require.Equal(t, string(first), string(second))
}

func TestGradeInvariantsHoldForEveryCorrectCount(t *testing.T) {
	for total := 1; total <= 12; total++ {
		for correct := 0; correct <= total; correct++ {
			sections, answers := syntheticAssignment(total, correct)
			result := Grade(sections, answers)

			require.Equal(t, total, result.TotalQuestions)
			require.Equal(t, result.TotalQuestions, result.CorrectAnswers+result.IncorrectAnswers)
			require.GreaterOrEqual(t, result.Score, 0.0)
			require.LessOrEqual(t, result.Score, MaxBandScore)
			require.Equal(t, result.Score, float64(int(result.Score*2))/2, "score %v is not a half step", result.Score)
		}
	}
}

func TestRoundToHalf(t *testing.T) {
	require.Equal(t, 7.5, RoundToHalf(7.4997))
	require.Equal(t, 4.5, RoundToHalf(4.5))
	require.Equal(t, 0.0, RoundToHalf(0))
	require.Equal(t, 7.0, RoundToHalf(7.2))
	require.Equal(t, 7.5, RoundToHalf(7.25))
	require.Equal(t, 9.0, RoundToHalf(12))
	require.Equal(t, 0.0, RoundToHalf(-3))
	require.Equal(t, 7.5, BandScore(83.33))
}

func TestNeedsRehydration(t *testing.T) {
	sections := decodeSections(t, readingSections)
	complete := Grade(sections, nil).Details
	require.False(t, NeedsRehydration(sections, complete))

	require.True(t, NeedsRehydration(sections, complete[:1]))

	stripped := []models.SectionResult{complete[0], {
		SectionID:    complete[1].SectionID,
		SectionTitle: complete[1].SectionTitle,
		Questions: []models.QuestionResult{
			{QuestionID: "q4"},
			complete[1].Questions[1],
			complete[1].Questions[2],
		},
	}}
	require.True(t, NeedsRehydration(sections, stripped))
}

func TestNeedsRehydrationAcceptsVacuousQuestions(t *testing.T) {
	sections := decodeSections(t, `[{"id":"s1","title":"S","question_groups":[{"id":"g","questions":[
		{"id":"q1","type":"gap_fill_template","answer_key":{"blanks":{}}}
	]}]}]`)

	require.False(t, NeedsRehydration(sections, Grade(sections, nil).Details))
}

func syntheticAssignment(total, correct int) ([]models.Section, []models.SectionAnswer) {
	questions := make([]models.Question, 0, total)
	answers := make([]models.QuestionAnswer, 0, correct)
	for i := 0; i < total; i++ {
		id := fmt.Sprintf("q%d", i)
		questions = append(questions, models.Question{
			ID:        id,
			Type:      models.QuestionMultipleChoiceSingle,
			AnswerKey: models.ChoiceKey{Choice: "a"},
		})
		if i < correct {
			answers = append(answers, models.QuestionAnswer{
				QuestionID: id,
				Answer:     map[string]interface{}{"choice": "a"},
			})
		}
	}

	sections := []models.Section{{
		ID:             "s1",
		Title:          "Synthetic",
		QuestionGroups: []models.QuestionGroup{{ID: "g1", Questions: questions}},
	}}
	return sections, []models.SectionAnswer{{SectionID: "s1", Answers: answers}}
}

func questionIDs(section models.SectionResult) []string {
	ids := make([]string, 0, len(section.Questions))
	for _, question := range section.Questions {
		ids = append(ids, question.QuestionID)
	}
	return ids
}
