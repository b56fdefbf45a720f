package memory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// smoothingOldWeight biases the running sentence-length average toward
// history while still tracking recent samples.
const smoothingOldWeight = 0.6

// MergeStyle folds one style sample into an existing profile and returns
// the result. When existing is nil a new profile is created from the
// sample verbatim. Set-valued fields only grow; tone and the "primary"
// structure slot are most-recent-wins; the sentence length is smoothed
// as 0.6*old + 0.4*new. Zero-valued sample fields leave the profile
// untouched.
func MergeStyle(existing *StyleProfile, individual string, sig StyleSignals, now time.Time) StyleProfile {
	if existing == nil {
		p := StyleProfile{
			Individual:         individual,
			ToneFormality:      sig.ToneFormality,
			AvgSentenceLength:  sig.AvgSentenceLength,
			VocabularyKeywords: unionStrings(nil, sig.VocabularyKeywords),
			SignaturePhrases:   unionStrings(nil, sig.SignaturePhrases),
			StructurePatterns:  map[string]string{},
			LastUpdated:        now,
			CreatedAt:          now,
		}
		if sig.SentenceStructure != "" {
			p.StructurePatterns["primary"] = sig.SentenceStructure
		}
		return p
	}

	p := *existing
	p.VocabularyKeywords = unionStrings(existing.VocabularyKeywords, sig.VocabularyKeywords)
	p.SignaturePhrases = unionStrings(existing.SignaturePhrases, sig.SignaturePhrases)
	if sig.ToneFormality != "" {
		p.ToneFormality = sig.ToneFormality
	}
	if sig.AvgSentenceLength != 0 {
		p.AvgSentenceLength = smoothingOldWeight*existing.AvgSentenceLength + (1-smoothingOldWeight)*sig.AvgSentenceLength
	}
	if sig.SentenceStructure != "" {
		patterns := make(map[string]string, len(existing.StructurePatterns)+1)
		for k, v := range existing.StructurePatterns {
			patterns[k] = v
		}
		patterns["primary"] = sig.SentenceStructure
		p.StructurePatterns = patterns
	}
	p.LastUpdated = now
	return p
}

// ConsolidateStyle merges a newly observed style sample into the
// individual's profile, creating the profile on first call.
func (e *Engine) ConsolidateStyle(ctx context.Context, individual string, sig StyleSignals) (StyleProfile, error) {
	var merged StyleProfile
	err := e.repo.InTx(ctx, func(tx Tx) error {
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

		merged = MergeStyle(cur, individual, sig, e.clock.Now())
		return tx.UpsertStyleProfile(merged)
	})
	if err != nil {
		return StyleProfile{}, err
	}
	return merged, nil
}

// unionStrings returns existing with any unseen values from extra
// appended in order. The existing slice is never shrunk or reordered.
func unionStrings(existing, extra []string) []string {
	out := make([]string, 0, len(existing)+len(extra))
	seen := make(map[string]struct{}, len(existing)+len(extra))
	for _, s := range existing {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, s := range extra {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
