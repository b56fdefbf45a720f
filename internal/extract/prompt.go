package extract

import (
	"fmt"

	"github.com/mirekh/doppel/internal/ollama"
)

const styleSystemPrompt = `You are a writing style analyst. Analyze the text and describe how its author writes. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Fields:
- "tone_formality": one of "formal", "casual", "professional", "academic"
- "average_sentence_length": average words per sentence as a number
- "vocabulary_keywords": distinctive words the author favors
- "signature_phrases": recurring multi-word expressions
- "sentence_structure": one of "short", "complex", "mixed"`

const factsSystemPrompt = `You are a biographical fact extractor. Read the text and pull out everything it reveals about its author. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Rules:
- "experiences": jobs, roles, and projects with title, company, position, description, achievements, tech_stack, start_date, end_date. Use empty strings for unknowns.
- "personal_info": flat key/value facts (name, location, background, major, university, interests, hobbies and similar). Omit anything the text does not state.
- "new_achievements": accomplishments mentioned without an associated role.
- Never invent facts. Only extract what the text supports.`

func stylePrompt(text string) []ollama.Message {
	return []ollama.Message{
		{Role: "system", Content: styleSystemPrompt},
		{Role: "user", Content: text},
	}
}

func factsPrompt(text string) []ollama.Message {
	return []ollama.Message{
		{Role: "system", Content: factsSystemPrompt},
		{Role: "user", Content: text},
	}
}

func conversationText(messages []string) string {
	var out string
	for i, m := range messages {
		if i > 0 {
			out += "\n"
		}
		out += fmt.Sprintf("[%d] %s", i+1, m)
	}
	return out
}

func styleSchema() *ollama.Schema {
	return &ollama.Schema{
		Type: "object",
		Properties: map[string]*ollama.Schema{
			"tone_formality":          {Type: "string"},
			"average_sentence_length": {Type: "number"},
			"vocabulary_keywords":     {Type: "array", Items: &ollama.Schema{Type: "string"}},
			"signature_phrases":       {Type: "array", Items: &ollama.Schema{Type: "string"}},
			"sentence_structure":      {Type: "string"},
		},
		Required: []string{"tone_formality", "average_sentence_length", "vocabulary_keywords", "signature_phrases", "sentence_structure"},
	}
}

func factsSchema() *ollama.Schema {
	experience := &ollama.Schema{
		Type: "object",
		Properties: map[string]*ollama.Schema{
			"title":        {Type: "string"},
			"company":      {Type: "string"},
			"position":     {Type: "string"},
			"description":  {Type: "string"},
			"achievements": {Type: "array", Items: &ollama.Schema{Type: "string"}},
			"tech_stack":   {Type: "array", Items: &ollama.Schema{Type: "string"}},
			"start_date":   {Type: "string"},
			"end_date":     {Type: "string"},
		},
		Required: []string{"title"},
	}
	return &ollama.Schema{
		Type: "object",
		Properties: map[string]*ollama.Schema{
			"experiences":      {Type: "array", Items: experience},
			"personal_info":    {Type: "object"},
			"new_achievements": {Type: "array", Items: &ollama.Schema{Type: "string"}},
		},
		Required: []string{"experiences", "personal_info", "new_achievements"},
	}
}
