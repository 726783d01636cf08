package models

// PartResult records the comparison of one blank, pair or scalar inside a question.
type PartResult struct {
	Key             string      `json:"key"`
	Correct         bool        `json:"correct"`
	SubmittedAnswer interface{} `json:"submitted_answer"`
	CorrectAnswer   interface{} `json:"correct_answer"`
}

// QuestionResult is the graded outcome of one question.
type QuestionResult struct {
	QuestionID string       `json:"question_id"`
	Correct    bool         `json:"correct"`
	Parts      []PartResult `json:"parts"`
}

// SectionResult groups question outcomes by section.
type SectionResult struct {
	SectionID    string           `json:"section_id"`
	SectionTitle string           `json:"section_title"`
	Questions    []QuestionResult `json:"questions"`
}
