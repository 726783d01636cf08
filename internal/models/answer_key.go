package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// QuestionType tags the interaction and answer key shape of a question.
type QuestionType string

const (
	QuestionGapFillTemplate      QuestionType = "gap_fill_template"
	QuestionMultipleChoiceSingle QuestionType = "multiple_choice_single"
	QuestionMultipleChoiceMulti  QuestionType = "multiple_choice_multi"
	QuestionTrueFalseNotGiven    QuestionType = "true_false_not_given"
	QuestionMatching             QuestionType = "matching"
	QuestionDiagramLabeling      QuestionType = "diagram_labeling"
	QuestionShortAnswer          QuestionType = "short_answer"
)

// Known reports whether the type belongs to the closed set accepted at authoring time.
func (t QuestionType) Known() bool {
	switch t {
	case QuestionGapFillTemplate, QuestionMultipleChoiceSingle, QuestionMultipleChoiceMulti,
		QuestionTrueFalseNotGiven, QuestionMatching, QuestionDiagramLabeling, QuestionShortAnswer:
		return true
	default:
		return false
	}
}

// AnswerKey is the server-only truth for one question. The concrete type depends on the question type.
type AnswerKey interface {
	answerKey()
}

// GapFillKey maps blank ids to expected values.
type GapFillKey struct {
	Blanks map[string]interface{} `json:"blanks"`
}

// ChoiceKey holds a single expected option, used by single choice and TRUE/FALSE/NOT_GIVEN questions.
type ChoiceKey struct {
	Choice interface{} `json:"choice"`
}

// MultiChoiceKey holds the expected option set.
type MultiChoiceKey struct {
	Choices []interface{} `json:"choices"`
}

// MatchingKey supports a per-pair map or a single correct answer. HasMap distinguishes the two.
type MatchingKey struct {
	Map           map[string]interface{} `json:"map,omitempty"`
	CorrectAnswer interface{}            `json:"correct_answer,omitempty"`
	HasMap        bool                   `json:"-"`
}

// ShortAnswerKey holds the expected free text.
type ShortAnswerKey struct {
	CorrectAnswer interface{} `json:"correct_answer"`
}

// RawKey keeps an answer key whose shape is not modelled; it is compared as a whole.
type RawKey struct {
	Value interface{}
}

func (GapFillKey) answerKey()     {}
func (ChoiceKey) answerKey()      {}
func (MultiChoiceKey) answerKey() {}
func (MatchingKey) answerKey()    {}
func (ShortAnswerKey) answerKey() {}
func (RawKey) answerKey()         {}

// MarshalJSON writes the map or the scalar form depending on which shape was decoded.
func (k MatchingKey) MarshalJSON() ([]byte, error) {
	if k.HasMap {
		return json.Marshal(map[string]interface{}{"map": k.Map})
	}
	return json.Marshal(map[string]interface{}{"correct_answer": k.CorrectAnswer})
}

// MarshalJSON writes the wrapped value unchanged.
func (k RawKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.Value)
}

// DecodeAnswerKey validates and decodes a raw answer key for the given question type.
// diagram_labeling and unknown types decode into RawKey.
func DecodeAnswerKey(questionType QuestionType, raw json.RawMessage) (AnswerKey, error) {
	generic, err := decodeGeneric(raw)
	if err != nil {
		return nil, fmt.Errorf("answer key for %s: %w", questionType, err)
	}

	switch questionType {
	case QuestionGapFillTemplate:
		blanks, err := optionalObject(generic, "blanks")
		if err != nil {
			return nil, fmt.Errorf("gap_fill_template answer key: %w", err)
		}
		return GapFillKey{Blanks: blanks}, nil
	case QuestionMultipleChoiceSingle, QuestionTrueFalseNotGiven:
		obj, err := asObject(generic)
		if err != nil {
			return nil, fmt.Errorf("%s answer key: %w", questionType, err)
		}
		return ChoiceKey{Choice: obj["choice"]}, nil
	case QuestionMultipleChoiceMulti:
		obj, err := asObject(generic)
		if err != nil {
			return nil, fmt.Errorf("multiple_choice_multi answer key: %w", err)
		}
		choices, ok := obj["choices"].([]interface{})
		if !ok {
			return nil, fmt.Errorf("multiple_choice_multi answer key: choices must be an array")
		}
		return MultiChoiceKey{Choices: choices}, nil
	case QuestionMatching:
		obj, err := asObject(generic)
		if err != nil {
			return nil, fmt.Errorf("matching answer key: %w", err)
		}
		if pairs, ok := obj["map"].(map[string]interface{}); ok {
			return MatchingKey{Map: pairs, HasMap: true}, nil
		}
		return MatchingKey{CorrectAnswer: obj["correct_answer"]}, nil
	case QuestionShortAnswer:
		obj, err := asObject(generic)
		if err != nil {
			return nil, fmt.Errorf("short_answer answer key: %w", err)
		}
		return ShortAnswerKey{CorrectAnswer: obj["correct_answer"]}, nil
	default:
		return RawKey{Value: generic}, nil
	}
}

func decodeGeneric(raw json.RawMessage) (interface{}, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var value interface{}
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return nil, err
	}
	return value, nil
}

func asObject(value interface{}) (map[string]interface{}, error) {
	if value == nil {
		return map[string]interface{}{}, nil
	}
	obj, ok := value.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("must be an object")
	}
	return obj, nil
}

func optionalObject(value interface{}, field string) (map[string]interface{}, error) {
	obj, err := asObject(value)
	if err != nil {
		return nil, err
	}
	inner, present := obj[field]
	if !present || inner == nil {
		return map[string]interface{}{}, nil
	}
	nested, ok := inner.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s must be an object", field)
	}
	return nested, nil
}

// Question is a single graded item. AnswerKey is decoded from the stored answer_key document.
type Question struct {
	ID          string
	OrderIndex  int
	Type        QuestionType
	PromptMD    string
	Stimulus    Stimulus
	Interaction json.RawMessage
	AnswerKey   AnswerKey

	keyErr error
}

type questionDocument struct {
	ID          string          `json:"id"`
	OrderIndex  int             `json:"order_index"`
	Type        QuestionType    `json:"type"`
	PromptMD    string          `json:"prompt_md,omitempty"`
	Stimulus    Stimulus        `json:"stimulus"`
	Interaction json.RawMessage `json:"interaction,omitempty"`
	AnswerKey   json.RawMessage `json:"answer_key,omitempty"`
}

// UnmarshalJSON decodes the answer key by type. A malformed key is kept as RawKey and reported by KeyError.
func (q *Question) UnmarshalJSON(data []byte) error {
	var doc questionDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	q.ID = doc.ID
	q.OrderIndex = doc.OrderIndex
	q.Type = doc.Type
	q.PromptMD = doc.PromptMD
	q.Stimulus = doc.Stimulus
	q.Interaction = doc.Interaction
	q.keyErr = nil

	key, err := DecodeAnswerKey(doc.Type, doc.AnswerKey)
	if err != nil {
		q.keyErr = err
		generic, _ := decodeGeneric(doc.AnswerKey)
		key = RawKey{Value: generic}
	}
	q.AnswerKey = key

	return nil
}

// MarshalJSON writes the storage form, answer key included.
func (q Question) MarshalJSON() ([]byte, error) {
	doc := questionDocument{
		ID:          q.ID,
		OrderIndex:  q.OrderIndex,
		Type:        q.Type,
		PromptMD:    q.PromptMD,
		Stimulus:    q.Stimulus,
		Interaction: q.Interaction,
	}
	if q.AnswerKey != nil {
		encoded, err := json.Marshal(q.AnswerKey)
		if err != nil {
			return nil, err
		}
		doc.AnswerKey = encoded
	}
	return json.Marshal(doc)
}

// KeyError returns the decode error of the answer key, if any.
func (q Question) KeyError() error {
	return q.keyErr
}
