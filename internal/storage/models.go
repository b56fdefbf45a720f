package storage

import (
	"time"

	"github.com/mirekh/doppel/internal/memory"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = memory.ErrNotFound

// ErrConflict is returned when a write violated a uniqueness invariant,
// typically because a concurrent batch for the same individual won the
// race. The failed batch may be retried.
var ErrConflict = memory.ErrConflict

// Job is one queued unit of background work.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// ResetCounts reports how many rows a full memory reset removed.
type ResetCounts struct {
	StyleProfiles int `json:"style_profiles"`
	Experiences   int `json:"experiences"`
	PersonalFacts int `json:"personal_facts"`
	Provenance    int `json:"provenance"`
}

// Total returns the number of rows deleted across all tables.
func (c ResetCounts) Total() int {
	return c.StyleProfiles + c.Experiences + c.PersonalFacts + c.Provenance
}
