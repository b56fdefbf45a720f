package memory

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write lost a race against a concurrent
// batch for the same individual. Callers may retry the whole batch.
var ErrConflict = errors.New("conflict")

// Tone formality values recognised in style profiles.
const (
	ToneFormal       = "formal"
	ToneCasual       = "casual"
	ToneProfessional = "professional"
	ToneAcademic     = "academic"
)

// Sources a candidate fact can originate from.
const (
	SourceUpload       = "upload"
	SourceGenerated    = "generated"
	SourceInferred     = "inferred"
	SourceConversation = "conversation"
)

// Origin types for experiences and provenance records.
const (
	OriginText         = "text"
	OriginImage        = "image"
	OriginConversation = "conversation"
	OriginPDF          = "pdf"
)

// StyleProfile is the single running writing-style profile of an individual.
type StyleProfile struct {
	Individual         string            `json:"individual"`
	ToneFormality      string            `json:"tone_formality"`
	AvgSentenceLength  float64           `json:"average_sentence_length"`
	VocabularyKeywords []string          `json:"vocabulary_keywords"`
	SignaturePhrases   []string          `json:"signature_phrases"`
	StructurePatterns  map[string]string `json:"structure_patterns"` // "primary" holds the latest sentence structure tag
	LastUpdated        time.Time         `json:"last_updated"`
	CreatedAt          time.Time         `json:"created_at"`
}

// Experience is one known career/project entry. Identity for dedup is
// (Individual, Title, Company) with empty Company treated as "".
type Experience struct {
	ID                 string    `json:"id"`
	Individual         string    `json:"individual"`
	Title              string    `json:"title"`
	Company            string    `json:"company"`
	Position           string    `json:"position"`
	Description        string    `json:"description"`
	Achievements       []string  `json:"achievements"`
	TechStack          []string  `json:"tech_stack"`
	StartDate          string    `json:"start_date,omitempty"` // ISO date or empty
	EndDate            string    `json:"end_date,omitempty"`
	DetectedFromSample bool      `json:"detected_from_sample"`
	OriginType         string    `json:"origin_type"`
	ProvenanceID       string    `json:"provenance_id,omitempty"` // weak back-reference, never owning
	CreatedAt          time.Time `json:"created_at"`
}

// PersonalFact is one key/value fact about an individual,
// unique per (Individual, Key).
type PersonalFact struct {
	ID         string    `json:"id"`
	Individual string    `json:"individual"`
	Key        string    `json:"key"`
	Value      string    `json:"value"` // scalar or canonicalized JSON
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProvenanceRecord is the immutable record of one consolidation event:
// the raw input plus both extraction results. Write-once, read-many.
type ProvenanceRecord struct {
	ID             string    `json:"id"`
	Individual     string    `json:"individual"`
	ContentType    string    `json:"content_type"`
	RawText        string    `json:"raw_text"`
	StyleSignals   string    `json:"style_signals"`   // JSON extraction result
	FactExtraction string    `json:"fact_extraction"` // JSON extraction result
	CreatedAt      time.Time `json:"created_at"`
}

// StyleSignals is one observed writing-style sample as produced by the
// extraction adapter. Zero values mean "no update to that field".
type StyleSignals struct {
	ToneFormality      string   `json:"tone_formality"`
	AvgSentenceLength  float64  `json:"average_sentence_length"`
	VocabularyKeywords []string `json:"vocabulary_keywords"`
	SignaturePhrases   []string `json:"signature_phrases"`
	SentenceStructure  string   `json:"sentence_structure"`
}

// ExperienceCandidate is one extracted, not-yet-merged experience.
type ExperienceCandidate struct {
	Title        string   `json:"title"`
	Company      string   `json:"company"`
	Position     string   `json:"position"`
	Description  string   `json:"description"`
	Achievements []string `json:"achievements"`
	TechStack    []string `json:"tech_stack"`
	StartDate    string   `json:"start_date"`
	EndDate      string   `json:"end_date"`
}

// FactExtraction is the fact-side extraction result for one input.
type FactExtraction struct {
	Experiences     []ExperienceCandidate `json:"experiences"`
	PersonalInfo    map[string]any        `json:"personal_info"`
	NewAchievements []string              `json:"new_achievements"`
}

// Snapshot is the full persisted memory of one individual.
type Snapshot struct {
	Individual  string             `json:"individual"`
	Style       *StyleProfile      `json:"writing_style,omitempty"`
	Experiences []Experience       `json:"experiences"`
	Facts       []PersonalFact     `json:"personal_facts"`
	Provenance  []ProvenanceRecord `json:"provenance"`
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }
