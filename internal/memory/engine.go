package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Engine is the memory consolidation engine: it merges extracted style
// samples, experience candidates, and candidate facts into one
// individual's persisted memory. All decisions are string heuristics
// over the current state; persistence happens through the Repository so
// each batch commits atomically.
type Engine struct {
	repo  Repository
	clock Clock

	// ExpKey computes experience identity keys. Defaults to exact
	// (title, company) matching; swap it to change dedup behavior
	// without touching merge logic.
	ExpKey ExperienceKeyFunc
}

// NewEngine creates an Engine with the real clock and exact-match
// experience identity.
func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo, clock: realClock{}, ExpKey: ExactExperienceKey}
}

// NewEngineWithClock creates an Engine with a custom clock (for testing).
func NewEngineWithClock(repo Repository, clock Clock) *Engine {
	return &Engine{repo: repo, clock: clock, ExpKey: ExactExperienceKey}
}

// BatchResult summarizes what one consolidation batch changed.
type BatchResult struct {
	ProvenanceID     string         `json:"provenance_id"`
	StyleUpdated     bool           `json:"style_updated"`
	ExperiencesSaved int            `json:"experiences_saved"`
	FactsSaved       int            `json:"facts_saved"`
	Style            StyleProfile   `json:"style"`
	Experiences      []Experience   `json:"experiences"`
	Facts            []PersonalFact `json:"facts"`
}

// ConsolidateBatch runs one full consolidation: provenance append,
// style merge, experience dedup, and fact arbitration, all inside a
// single transaction so either every per-key decision commits or none
// do. Missing parts of the extraction are treated as empty, never as
// errors.
func (e *Engine) ConsolidateBatch(ctx context.Context, individual, contentType, rawText, source string, style StyleSignals, facts FactExtraction) (BatchResult, error) {
	origin := originTypeFor(contentType)

	var res BatchResult
	err := e.repo.InTx(ctx, func(tx Tx) error {
		prov, err := insertProvenance(tx, individual, contentType, rawText, style, facts, e.clock)
		if err != nil {
			return err
		}
		res.ProvenanceID = prov.ID

		existing, err := tx.StyleProfile(individual)
		var cur *StyleProfile
		switch {
		case err == nil:
			cur = &existing
		case errors.Is(err, ErrNotFound):
			cur = nil
		default:
			return fmt.Errorf("loading style profile: %w", err)
		}
		merged := MergeStyle(cur, individual, style, e.clock.Now())
		if err := tx.UpsertStyleProfile(merged); err != nil {
			return fmt.Errorf("upserting style profile: %w", err)
		}
		res.Style = merged
		res.StyleUpdated = true

		exps, err := e.consolidateExperiencesTx(tx, individual, facts.Experiences, prov.ID, origin)
		if err != nil {
			return err
		}
		res.Experiences = exps
		res.ExperiencesSaved = len(exps)

		saved, err := e.consolidateFactsTx(tx, individual, facts.PersonalInfo, source)
		if err != nil {
			return err
		}
		res.Facts = saved
		res.FactsSaved = len(saved)
		return nil
	})
	if err != nil {
		return BatchResult{}, err
	}

	slog.Debug("consolidation batch complete",
		"individual", individual,
		"provenance_id", res.ProvenanceID,
		"experiences_saved", res.ExperiencesSaved,
		"facts_saved", res.FactsSaved,
	)
	return res, nil
}

// Snapshot loads the individual's entire memory in one transaction.
func (e *Engine) Snapshot(ctx context.Context, individual string) (Snapshot, error) {
	snap := Snapshot{Individual: individual}
	err := e.repo.InTx(ctx, func(tx Tx) error {
		style, err := tx.StyleProfile(individual)
		switch {
		case err == nil:
			snap.Style = &style
		case errors.Is(err, ErrNotFound):
		default:
			return fmt.Errorf("loading style profile: %w", err)
		}

		if snap.Experiences, err = tx.ListExperiences(individual); err != nil {
			return fmt.Errorf("listing experiences: %w", err)
		}
		if snap.Facts, err = tx.ListFacts(individual); err != nil {
			return fmt.Errorf("listing facts: %w", err)
		}
		if snap.Provenance, err = tx.ListProvenance(individual); err != nil {
			return fmt.Errorf("listing provenance: %w", err)
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// originTypeFor maps an ingest content type to the experience origin.
func originTypeFor(contentType string) string {
	switch contentType {
	case OriginPDF:
		return OriginPDF
	case OriginImage:
		return OriginImage
	case OriginConversation:
		return OriginConversation
	default:
		return OriginText
	}
}
