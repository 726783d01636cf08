package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Skill identifies which of the four tested skills an assignment targets.
type Skill string

const (
	SkillReading   Skill = "reading"
	SkillListening Skill = "listening"
	SkillWriting   Skill = "writing"
	SkillSpeaking  Skill = "speaking"
)

// ParseSkill normalises a raw skill tag. The second value is false for unknown tags.
func ParseSkill(raw string) (Skill, bool) {
	skill := Skill(strings.ToLower(strings.TrimSpace(raw)))
	return skill, skill.Valid()
}

// Valid reports whether the skill belongs to the closed set.
func (s Skill) Valid() bool {
	switch s {
	case SkillReading, SkillListening, SkillWriting, SkillSpeaking:
		return true
	default:
		return false
	}
}

// IsDeterministic reports whether submissions for the skill can be graded from answer keys alone.
func (s Skill) IsDeterministic() bool {
	return s == SkillReading || s == SkillListening
}

// MaterialKind tags the source material attached to a section.
type MaterialKind string

const (
	MaterialReading   MaterialKind = "reading"
	MaterialListening MaterialKind = "listening"
)

// MediaAsset references an image, audio clip or file rendered alongside a question.
type MediaAsset struct {
	ID              string   `json:"id"`
	Kind            string   `json:"kind"`
	URL             string   `json:"url"`
	Mime            string   `json:"mime,omitempty"`
	Title           string   `json:"title,omitempty"`
	Alt             string   `json:"alt,omitempty"`
	Width           *int     `json:"width,omitempty"`
	Height          *int     `json:"height,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
}

// SectionMaterial is the passage or recording a section's questions refer to.
type SectionMaterial struct {
	Type         MaterialKind `json:"type"`
	DocumentMD   string       `json:"document_md,omitempty"`
	Audio        *MediaAsset  `json:"audio,omitempty"`
	TranscriptMD string       `json:"transcript_md,omitempty"`
	Images       []MediaAsset `json:"images,omitempty"`
}

// StimulusBlank describes a placeholder inside a gap-fill template.
type StimulusBlank struct {
	BlankID          string `json:"blank_id"`
	PlaceholderLabel string `json:"placeholder_label,omitempty"`
}

// StimulusTemplate holds a text body with {{blank:N}} placeholders.
type StimulusTemplate struct {
	Format string          `json:"format"`
	Body   string          `json:"body"`
	Blanks []StimulusBlank `json:"blanks"`
}

// Stimulus is rendering-only content; it never takes part in grading.
type Stimulus struct {
	InstructionsMD string            `json:"instructions_md,omitempty"`
	ContentMD      string            `json:"content_md,omitempty"`
	Media          []MediaAsset      `json:"media,omitempty"`
	Template       *StimulusTemplate `json:"template,omitempty"`
}

// QuestionGroup clusters questions sharing instructions.
type QuestionGroup struct {
	ID             string     `json:"id"`
	OrderIndex     int        `json:"order_index"`
	Title          string     `json:"title,omitempty"`
	InstructionsMD string     `json:"instructions_md,omitempty"`
	Questions      []Question `json:"questions"`
}

// Section is one passage or recording plus its question groups.
type Section struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	OrderIndex     int             `json:"order_index"`
	Material       SectionMaterial `json:"material"`
	QuestionGroups []QuestionGroup `json:"question_groups"`
}

// WritingContent carries the two essay tasks of a writing assignment.
type WritingContent struct {
	TaskOne          string `json:"task_one"`
	TaskTwo          string `json:"task_two"`
	ImageURL         string `json:"image_url,omitempty"`
	ImageDescription string `json:"image_description,omitempty"`
}

// SpeakingQuestion is one prompt inside a speaking part.
type SpeakingQuestion struct {
	Prompt     string `json:"prompt"`
	OrderIndex int    `json:"order_index"`
}

// SpeakingPart groups the prompts answered in a single recording.
type SpeakingPart struct {
	PartNumber int                `json:"part_number"`
	Questions  []SpeakingQuestion `json:"questions"`
}

// SpeakingContent lists the parts of a speaking assignment.
type SpeakingContent struct {
	Parts []SpeakingPart `json:"parts"`
}

// Assignment is a published test. Sections, writing and speaking payloads are stored as JSON documents.
type Assignment struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`
	CreatedBy   string         `gorm:"size:64;not null" json:"created_by"`
	ClassID     string         `gorm:"size:64" json:"class_id"`
	Skill       Skill          `gorm:"size:16;not null;index" json:"skill"`
	Slug        string         `gorm:"size:255;uniqueIndex" json:"slug"`
	Title       string         `gorm:"size:255;not null" json:"title"`
	Description string         `gorm:"type:text" json:"description"`
	IsPublic    bool           `gorm:"default:false" json:"is_public"`
	Sections    datatypes.JSON `gorm:"type:json" json:"-"`
	Writing     datatypes.JSON `gorm:"type:json" json:"-"`
	Speaking    datatypes.JSON `gorm:"type:json" json:"-"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// BeforeCreate assigns a UUID when the caller did not provide one.
func (a *Assignment) BeforeCreate(_ *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// SetSections serializes the section tree into the JSON storage column.
func (a *Assignment) SetSections(sections []Section) {
	a.Sections = marshalJSONColumn(sections, "[]")
}

// SectionList deserializes the stored section tree.
func (a Assignment) SectionList() []Section {
	if len(a.Sections) == 0 {
		return nil
	}

	var sections []Section
	if err := json.Unmarshal(a.Sections, &sections); err != nil {
		return nil
	}

	return sections
}

// SetWritingContent stores the writing tasks.
func (a *Assignment) SetWritingContent(content WritingContent) {
	a.Writing = marshalJSONColumn(content, "{}")
}

// WritingContent returns the stored writing tasks, zero valued when absent.
func (a Assignment) WritingContent() WritingContent {
	var content WritingContent
	if len(a.Writing) > 0 {
		_ = json.Unmarshal(a.Writing, &content)
	}
	return content
}

// SetSpeakingContent stores the speaking parts.
func (a *Assignment) SetSpeakingContent(content SpeakingContent) {
	a.Speaking = marshalJSONColumn(content, "{}")
}

// SpeakingContent returns the stored speaking parts, zero valued when absent.
func (a Assignment) SpeakingContent() SpeakingContent {
	var content SpeakingContent
	if len(a.Speaking) > 0 {
		_ = json.Unmarshal(a.Speaking, &content)
	}
	return content
}

func marshalJSONColumn(value interface{}, fallback string) datatypes.JSON {
	data, err := json.Marshal(value)
	if err != nil {
		return datatypes.JSON([]byte(fallback))
	}
	return datatypes.JSON(data)
}
