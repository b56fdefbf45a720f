package memory

import "context"

// Tx is the transactional view of the memory store. All reads and writes
// of one consolidation batch go through a single Tx so the batch commits
// or rolls back as a unit.
type Tx interface {
	StyleProfile(individual string) (StyleProfile, error)
	UpsertStyleProfile(p StyleProfile) error

	ListExperiences(individual string) ([]Experience, error)
	InsertExperience(e Experience) error
	UpdateExperienceSets(id string, achievements, techStack []string) error

	ListFacts(individual string) ([]PersonalFact, error)
	InsertFact(f PersonalFact) error
	UpdateFact(f PersonalFact) error

	InsertProvenance(p ProvenanceRecord) error
	ListProvenance(individual string) ([]ProvenanceRecord, error)
}

// Repository runs functions against the store under one transaction.
// Implemented by storage.Store.
type Repository interface {
	InTx(ctx context.Context, fn func(Tx) error) error
}
