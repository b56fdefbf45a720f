package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// RecordProvenance appends one immutable record of a consolidation
// event and returns it for back-referencing from newly created
// experiences. Pure append, no merge logic.
func (e *Engine) RecordProvenance(ctx context.Context, individual, contentType, rawText string, style StyleSignals, facts FactExtraction) (ProvenanceRecord, error) {
	var rec ProvenanceRecord
	err := e.repo.InTx(ctx, func(tx Tx) error {
		var err error
		rec, err = insertProvenance(tx, individual, contentType, rawText, style, facts, e.clock)
		return err
	})
	if err != nil {
		return ProvenanceRecord{}, err
	}
	return rec, nil
}

func insertProvenance(tx Tx, individual, contentType, rawText string, style StyleSignals, facts FactExtraction, clock Clock) (ProvenanceRecord, error) {
	styleJSON, err := json.Marshal(style)
	if err != nil {
		return ProvenanceRecord{}, fmt.Errorf("encoding style signals: %w", err)
	}
	factsJSON, err := json.Marshal(facts)
	if err != nil {
		return ProvenanceRecord{}, fmt.Errorf("encoding fact extraction: %w", err)
	}

	rec := ProvenanceRecord{
		ID:             uuid.New().String(),
		Individual:     individual,
		ContentType:    contentType,
		RawText:        rawText,
		StyleSignals:   string(styleJSON),
		FactExtraction: string(factsJSON),
		CreatedAt:      clock.Now(),
	}
	if err := tx.InsertProvenance(rec); err != nil {
		return ProvenanceRecord{}, fmt.Errorf("inserting provenance record: %w", err)
	}
	return rec, nil
}
