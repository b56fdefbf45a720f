// Package extract turns raw text into structured style signals and
// fact candidates using a fast local model. Extraction is best-effort:
// any failure degrades to safe defaults so consolidation never blocks
// on a flaky model.
package extract

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mirekh/doppel/internal/memory"
	"github.com/mirekh/doppel/internal/ollama"
)

const extractionTimeout = 60 * time.Second

// Defaults used when style extraction fails or returns garbage.
const (
	defaultTone              = "professional"
	defaultAvgSentenceLength = 15
	defaultStructure         = "mixed"
)

// Chatter is the chat-completion interface the adapter needs.
// *ollama.Client satisfies it.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, jsonSchema *ollama.Schema) (string, error)
}

// Adapter runs style and fact extraction against a local model.
type Adapter struct {
	client Chatter
	model  string
}

// New creates an Adapter using the given chat client and model name.
func New(client Chatter, model string) *Adapter {
	return &Adapter{client: client, model: model}
}

// ExtractStyle analyses the text's writing style. On any failure it
// returns the default signals rather than an error.
func (a *Adapter) ExtractStyle(ctx context.Context, text string) memory.StyleSignals {
	if strings.TrimSpace(text) == "" {
		return defaultStyle()
	}

	ctx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	raw, err := a.client.Chat(ctx, a.model, stylePrompt(text), styleSchema())
	if err != nil {
		slog.Warn("style extraction chat failed", "error", err)
		return defaultStyle()
	}

	var sig memory.StyleSignals
	if err := json.Unmarshal([]byte(recoverJSON(raw)), &sig); err != nil {
		slog.Warn("failed to unmarshal style signals", "error", err, "response", raw)
		return defaultStyle()
	}
	return normalizeStyle(sig)
}

// ExtractFacts pulls experiences and personal facts out of the text.
// On any failure it returns an empty extraction rather than an error.
func (a *Adapter) ExtractFacts(ctx context.Context, text string) memory.FactExtraction {
	if strings.TrimSpace(text) == "" {
		return emptyExtraction()
	}

	ctx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	raw, err := a.client.Chat(ctx, a.model, factsPrompt(text), factsSchema())
	if err != nil {
		slog.Warn("fact extraction chat failed", "error", err)
		return emptyExtraction()
	}

	var out memory.FactExtraction
	if err := json.Unmarshal([]byte(recoverJSON(raw)), &out); err != nil {
		slog.Warn("failed to unmarshal fact extraction", "error", err, "response", raw)
		return emptyExtraction()
	}
	return normalizeExtraction(out)
}

// ExtractAll runs style and fact extraction concurrently. Both sides
// degrade independently, so the result is always usable.
func (a *Adapter) ExtractAll(ctx context.Context, text string) (memory.StyleSignals, memory.FactExtraction) {
	var (
		style memory.StyleSignals
		facts memory.FactExtraction
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		style = a.ExtractStyle(gctx, text)
		return nil
	})
	g.Go(func() error {
		facts = a.ExtractFacts(gctx, text)
		return nil
	})
	// The goroutines never return errors; Wait just synchronizes.
	_ = g.Wait()
	return style, facts
}

// ExtractFromConversation treats a sequence of messages from one
// individual as a single sample and extracts from the combined text.
func (a *Adapter) ExtractFromConversation(ctx context.Context, messages []string) (memory.StyleSignals, memory.FactExtraction) {
	return a.ExtractAll(ctx, conversationText(messages))
}

func defaultStyle() memory.StyleSignals {
	return memory.StyleSignals{
		ToneFormality:      defaultTone,
		AvgSentenceLength:  defaultAvgSentenceLength,
		VocabularyKeywords: []string{},
		SignaturePhrases:   []string{},
		SentenceStructure:  defaultStructure,
	}
}

// normalizeStyle fills holes a sloppy model left so downstream merge
// logic sees complete signals.
func normalizeStyle(sig memory.StyleSignals) memory.StyleSignals {
	if sig.ToneFormality == "" {
		sig.ToneFormality = defaultTone
	}
	if sig.AvgSentenceLength <= 0 {
		sig.AvgSentenceLength = defaultAvgSentenceLength
	}
	if sig.VocabularyKeywords == nil {
		sig.VocabularyKeywords = []string{}
	}
	if sig.SignaturePhrases == nil {
		sig.SignaturePhrases = []string{}
	}
	if sig.SentenceStructure == "" {
		sig.SentenceStructure = defaultStructure
	}
	return sig
}

func emptyExtraction() memory.FactExtraction {
	return memory.FactExtraction{
		Experiences:     []memory.ExperienceCandidate{},
		PersonalInfo:    map[string]any{},
		NewAchievements: []string{},
	}
}

func normalizeExtraction(out memory.FactExtraction) memory.FactExtraction {
	if out.Experiences == nil {
		out.Experiences = []memory.ExperienceCandidate{}
	}
	if out.PersonalInfo == nil {
		out.PersonalInfo = map[string]any{}
	}
	if out.NewAchievements == nil {
		out.NewAchievements = []string{}
	}
	return out
}
