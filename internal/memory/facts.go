package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// highTrustConfidence gates in-place updates of an existing fact: an
// entry at or above it is only replaced by upload-sourced candidates.
const highTrustConfidence = 0.8

// backgroundOverwriteLen is the value length above which a contained
// major/university candidate rewrites the broader background fact
// instead of being suppressed.
const backgroundOverwriteLen = 50

const backgroundKey = "background"

// factOp enumerates the possible outcomes of one per-key fact decision.
type factOp int

const (
	factSkip             factOp = iota // no change
	factCreate                         // create a new fact under the candidate key
	factUpdate                         // replace value/confidence of the existing fact for the key
	factUpdateBackground               // replace the background fact's value instead
)

// factDecision is the outcome of deciding one candidate against the
// current fact set. Deciding is pure; applying it is the caller's job.
type factDecision struct {
	op         factOp
	value      string
	confidence float64
}

// sourceConfidence is the confidence assigned to created or updated
// facts: uploads are trusted more than derived sources.
func sourceConfidence(source string) float64 {
	if source == SourceUpload {
		return 0.9
	}
	return 0.7
}

// decideFact evaluates one candidate (key, value, source) against the
// individual's existing facts, keyed by fact name. It implements the
// trust-gated update, refinement-by-containment, and background
// containment-suppression rules.
func decideFact(key string, value any, source string, existing map[string]PersonalFact) factDecision {
	valueStr, ok := canonicalValue(value)
	if !ok {
		return factDecision{op: factSkip}
	}
	valueLower := strings.ToLower(valueStr)
	conf := sourceConfidence(source)

	if cur, ok := existing[key]; ok {
		if source != SourceUpload && cur.Confidence >= highTrustConfidence {
			// Existing entry is high-trust and the candidate is not.
			return factDecision{op: factSkip}
		}
		curLower := strings.ToLower(cur.Value)
		switch {
		case len(valueStr) > len(cur.Value) && strings.Contains(valueLower, curLower):
			// Refinement: the candidate carries the existing value plus more.
			return factDecision{op: factUpdate, value: valueStr, confidence: conf}
		case valueLower != curLower:
			// Conflicting value from a still-trusted source.
			return factDecision{op: factUpdate, value: valueStr, confidence: conf}
		default:
			return factDecision{op: factSkip}
		}
	}

	// New fact name. Suppress creation when the information is already
	// contained in a broader existing fact.
	if bg, ok := existing[backgroundKey]; ok && strings.Contains(strings.ToLower(bg.Value), valueLower) {
		if (key == "major" || key == "university") && len(valueStr) > backgroundOverwriteLen {
			return factDecision{op: factUpdateBackground, value: valueStr, confidence: conf}
		}
		return factDecision{op: factSkip}
	}
	return factDecision{op: factCreate, value: valueStr, confidence: conf}
}

// canonicalValue converts a candidate value to its string encoding.
// Structured values serialize deterministically so repeated runs produce
// byte-identical encodings. Returns false for empty/falsy values, which
// are skipped entirely.
func canonicalValue(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, v != ""
	case bool:
		if !v {
			return "", false
		}
		return "true", true
	case float64:
		if v == 0 {
			return "", false
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		if v == 0 {
			return "", false
		}
		return fmt.Sprintf("%d", v), true
	case []any:
		if len(v) == 0 {
			return "", false
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(b), true
	case []string:
		if len(v) == 0 {
			return "", false
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(b), true
	case map[string]any:
		if len(v) == 0 {
			return "", false
		}
		// encoding/json sorts map keys, keeping the encoding stable.
		b, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(b), true
	default:
		s := fmt.Sprintf("%v", v)
		return s, s != ""
	}
}

// ConsolidateFacts merges candidate key/value facts into the
// individual's fact table, performing containment-based deduplication
// and confidence arbitration. Returns the facts created or updated by
// this call.
func (e *Engine) ConsolidateFacts(ctx context.Context, individual string, cands map[string]any, source string) ([]PersonalFact, error) {
	var touched []PersonalFact
	err := e.repo.InTx(ctx, func(tx Tx) error {
		var err error
		touched, err = e.consolidateFactsTx(tx, individual, cands, source)
		return err
	})
	if err != nil {
		return nil, err
	}
	return touched, nil
}

func (e *Engine) consolidateFactsTx(tx Tx, individual string, cands map[string]any, source string) ([]PersonalFact, error) {
	facts, err := tx.ListFacts(individual)
	if err != nil {
		return nil, fmt.Errorf("listing facts: %w", err)
	}
	existing := make(map[string]PersonalFact, len(facts))
	for _, f := range facts {
		existing[f.Key] = f
	}

	// Iterate candidate keys in sorted order so a batch applies
	// deterministically regardless of map iteration.
	keys := make([]string, 0, len(cands))
	for k := range cands {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	now := e.clock.Now()
	var touched []PersonalFact
	for _, key := range keys {
		d := decideFact(key, cands[key], source, existing)
		switch d.op {
		case factSkip:
			continue

		case factCreate:
			f := PersonalFact{
				ID:         uuid.New().String(),
				Individual: individual,
				Key:        key,
				Value:      d.value,
				Confidence: d.confidence,
				Source:     source,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := tx.InsertFact(f); err != nil {
				return nil, fmt.Errorf("inserting fact %q: %w", key, err)
			}
			existing[key] = f
			touched = append(touched, f)

		case factUpdate:
			f := existing[key]
			f.Value = d.value
			f.Confidence = d.confidence
			f.Source = source
			f.UpdatedAt = now
			if err := tx.UpdateFact(f); err != nil {
				return nil, fmt.Errorf("updating fact %q: %w", key, err)
			}
			existing[key] = f
			touched = append(touched, f)

		case factUpdateBackground:
			f := existing[backgroundKey]
			f.Value = d.value
			f.Confidence = d.confidence
			f.Source = source
			f.UpdatedAt = now
			if err := tx.UpdateFact(f); err != nil {
				return nil, fmt.Errorf("updating background fact: %w", err)
			}
			existing[backgroundKey] = f
			touched = append(touched, f)
		}
	}
	return touched, nil
}
