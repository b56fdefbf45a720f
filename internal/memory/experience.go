package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ExperienceKeyFunc computes the dedup identity key of an experience.
// The default is exact, case-sensitive (title, company) matching; a
// fuzzier matcher can be plugged in without touching the merge logic.
type ExperienceKeyFunc func(title, company string) string

// ExactExperienceKey is the baseline identity: exact string match on
// title plus company, with a missing company normalized to "".
func ExactExperienceKey(title, company string) string {
	return title + "\x00" + company
}

// ConsolidateExperiences merges a batch of experience candidates into
// the individual's known experiences. A candidate matching an existing
// record by identity key union-merges achievements and tech stack in
// place; every other field of the first sighting is kept. Unmatched
// candidates create new records. Candidates without a title are
// skipped. Returns all records created or updated by this call.
func (e *Engine) ConsolidateExperiences(ctx context.Context, individual string, cands []ExperienceCandidate, provenanceID, originType string) ([]Experience, error) {
	var touched []Experience
	err := e.repo.InTx(ctx, func(tx Tx) error {
		var err error
		touched, err = e.consolidateExperiencesTx(tx, individual, cands, provenanceID, originType)
		return err
	})
	if err != nil {
		return nil, err
	}
	return touched, nil
}

func (e *Engine) consolidateExperiencesTx(tx Tx, individual string, cands []ExperienceCandidate, provenanceID, originType string) ([]Experience, error) {
	existing, err := tx.ListExperiences(individual)
	if err != nil {
		return nil, fmt.Errorf("listing experiences: %w", err)
	}

	byKey := make(map[string]*Experience, len(existing))
	for i := range existing {
		rec := existing[i]
		byKey[e.ExpKey(rec.Title, rec.Company)] = &rec
	}

	var touched []Experience
	for _, cand := range cands {
		if cand.Title == "" {
			continue
		}

		key := e.ExpKey(cand.Title, cand.Company)
		if rec, ok := byKey[key]; ok {
			before := len(rec.Achievements) + len(rec.TechStack)
			rec.Achievements = unionStrings(rec.Achievements, cand.Achievements)
			rec.TechStack = unionStrings(rec.TechStack, cand.TechStack)
			if len(rec.Achievements)+len(rec.TechStack) != before {
				if err := tx.UpdateExperienceSets(rec.ID, rec.Achievements, rec.TechStack); err != nil {
					return nil, fmt.Errorf("updating experience %s: %w", rec.ID, err)
				}
			}
			touched = append(touched, *rec)
			continue
		}

		rec := Experience{
			ID:                 uuid.New().String(),
			Individual:         individual,
			Title:              cand.Title,
			Company:            cand.Company,
			Position:           cand.Position,
			Description:        cand.Description,
			Achievements:       unionStrings(nil, cand.Achievements),
			TechStack:          unionStrings(nil, cand.TechStack),
			StartDate:          cand.StartDate,
			EndDate:            cand.EndDate,
			DetectedFromSample: true,
			OriginType:         originType,
			ProvenanceID:       provenanceID,
			CreatedAt:          e.clock.Now(),
		}
		if err := tx.InsertExperience(rec); err != nil {
			return nil, fmt.Errorf("inserting experience %q: %w", cand.Title, err)
		}
		// Later duplicates in the same batch merge into this record.
		created := rec
		byKey[key] = &created
		touched = append(touched, rec)
	}
	return touched, nil
}
