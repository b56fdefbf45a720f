// Package persona renders an individual's consolidated memory into a
// generation prompt and drives the deep model to write in their voice.
package persona

import (
	"context"
	"fmt"
	"strings"

	"github.com/mirekh/doppel/internal/memory"
	"github.com/mirekh/doppel/internal/ollama"
)

// Chatter is the chat-completion interface the composer needs.
// *ollama.Client satisfies it.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, jsonSchema *ollama.Schema) (string, error)
}

// Composer turns memory snapshots into persona prompts.
type Composer struct {
	client Chatter
	model  string
}

// New creates a Composer using the given chat client and deep model.
func New(client Chatter, model string) *Composer {
	return &Composer{client: client, model: model}
}

// Generate produces content in the individual's voice for the given
// request, conditioned on everything the engine knows about them.
func (c *Composer) Generate(ctx context.Context, snap memory.Snapshot, request string) (string, error) {
	if strings.TrimSpace(request) == "" {
		return "", fmt.Errorf("empty generation request")
	}

	messages := []ollama.Message{
		{Role: "system", Content: BuildSystemPrompt(snap)},
		{Role: "user", Content: request},
	}
	out, err := c.client.Chat(ctx, c.model, messages, nil)
	if err != nil {
		return "", fmt.Errorf("generating as %s: %w", snap.Individual, err)
	}
	return out, nil
}

// BuildSystemPrompt renders the snapshot into the persona instruction.
// Sections with no data are omitted so a thin memory still yields a
// coherent prompt.
func BuildSystemPrompt(snap memory.Snapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are ghostwriting as %s. Write exactly as they would, in first person. Never mention being an assistant or a model.\n", snap.Individual)

	if s := snap.Style; s != nil {
		sb.WriteString("\n[Writing Style]\n")
		if s.ToneFormality != "" {
			fmt.Fprintf(&sb, "Tone: %s\n", s.ToneFormality)
		}
		if s.AvgSentenceLength > 0 {
			fmt.Fprintf(&sb, "Average sentence length: %.1f words\n", s.AvgSentenceLength)
		}
		if structure := s.StructurePatterns["primary"]; structure != "" {
			fmt.Fprintf(&sb, "Sentence structure: %s\n", structure)
		}
		if len(s.VocabularyKeywords) > 0 {
			fmt.Fprintf(&sb, "Favored vocabulary: %s\n", strings.Join(s.VocabularyKeywords, ", "))
		}
		if len(s.SignaturePhrases) > 0 {
			fmt.Fprintf(&sb, "Signature phrases: %s\n", strings.Join(s.SignaturePhrases, ", "))
		}
	}

	if len(snap.Experiences) > 0 {
		sb.WriteString("\n[Experience]\n")
		for _, exp := range snap.Experiences {
			line := "- " + exp.Title
			if exp.Company != "" {
				line += " at " + exp.Company
			}
			sb.WriteString(line + "\n")
			if exp.Description != "" {
				fmt.Fprintf(&sb, "  %s\n", exp.Description)
			}
			for _, a := range exp.Achievements {
				fmt.Fprintf(&sb, "  * %s\n", a)
			}
			if len(exp.TechStack) > 0 {
				fmt.Fprintf(&sb, "  Tech: %s\n", strings.Join(exp.TechStack, ", "))
			}
		}
	}

	if len(snap.Facts) > 0 {
		sb.WriteString("\n[About]\n")
		for _, f := range snap.Facts {
			fmt.Fprintf(&sb, "- %s: %s\n", f.Key, f.Value)
		}
	}

	sb.WriteString("\nStay within what the profile supports. Do not invent credentials or experiences.")
	return sb.String()
}
