// Package timeline projects an individual's consolidated memory into a
// chronological, grouped narrative for display. It is a pure read-side
// derivation: nothing here mutates memory.
package timeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mirekh/doppel/internal/memory"
)

// Event types emitted by Build.
const (
	TypeStyleLearned         = "style_learned"
	TypeExperienceDiscovered = "experience_discovered"
	TypePersonalInfoLearned  = "personal_info_learned"
	TypeDocumentIngested     = "document_ingested"
)

// Event is one timeline entry.
type Event struct {
	Date        time.Time      `json:"date"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Source      string         `json:"source"`
	Grouped     bool           `json:"grouped,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// factGroups maps fact keys to their display group. Keys not listed
// form their own singleton group.
var factGroups = map[string]string{
	"background": "education",
	"major":      "education",
	"university": "education",
	"education":  "education",
	"name":       "identity",
	"full_name":  "identity",
	"interests":  "interests",
	"hobbies":    "interests",
}

// Build projects the full memory snapshot into events sorted newest
// first. Ties keep insertion order: style, experiences, facts,
// documents.
func Build(snap memory.Snapshot) []Event {
	var events []Event

	if snap.Style != nil {
		events = append(events, Event{
			Date:        snap.Style.LastUpdated,
			Type:        TypeStyleLearned,
			Description: fmt.Sprintf("Learned %s writing style", snap.Style.ToneFormality),
			Source:      "writing_style",
			Details: map[string]any{
				"tone":                snap.Style.ToneFormality,
				"avg_sentence_length": snap.Style.AvgSentenceLength,
			},
		})
	}

	for _, exp := range snap.Experiences {
		desc := "Discovered: " + exp.Title
		if exp.Company != "" {
			desc += " at " + exp.Company
		}
		events = append(events, Event{
			Date:        exp.CreatedAt,
			Type:        TypeExperienceDiscovered,
			Description: desc,
			Source:      "experience",
			Details: map[string]any{
				"title":        exp.Title,
				"company":      exp.Company,
				"position":     exp.Position,
				"achievements": exp.Achievements,
			},
		})
	}

	events = append(events, factEvents(snap.Facts)...)

	for _, p := range snap.Provenance {
		events = append(events, Event{
			Date:        p.CreatedAt,
			Type:        TypeDocumentIngested,
			Description: fmt.Sprintf("Ingested %s document", p.ContentType),
			Source:      "provenance",
			Details: map[string]any{
				"content_type":         p.ContentType,
				"has_style_extraction": p.StyleSignals != "" && p.StyleSignals != "{}",
				"has_facts_extraction": p.FactExtraction != "" && p.FactExtraction != "{}",
			},
		})
	}

	// Stable sort: equal dates keep insertion order as the tie-break.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Date.After(events[j].Date)
	})
	return events
}

// factEvents groups related facts and emits one event per group:
// a consolidated summary for multi-entry groups, a plain entry
// otherwise.
func factEvents(facts []memory.PersonalFact) []Event {
	grouped := make(map[string][]memory.PersonalFact)
	var order []string
	for _, f := range facts {
		g, ok := factGroups[f.Key]
		if !ok {
			g = f.Key
		}
		if _, seen := grouped[g]; !seen {
			order = append(order, g)
		}
		grouped[g] = append(grouped[g], f)
	}

	var events []Event
	for _, g := range order {
		entries := grouped[g]
		// Newest first; the most recent entry dates the group's event.
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		})
		primary := entries[0]

		if len(entries) > 1 {
			parts := make([]string, 0, 2)
			for _, f := range entries {
				if len(parts) == 2 {
					break
				}
				limit := 40
				if f.Key == "background" {
					limit = 60
				}
				parts = append(parts, fmt.Sprintf("%s: %s", displayKey(f.Key), truncate(f.Value, limit)))
			}
			detailEntries := make([]map[string]any, len(entries))
			for i, f := range entries {
				detailEntries[i] = map[string]any{"key": f.Key, "value": f.Value}
			}
			events = append(events, Event{
				Date:        primary.CreatedAt,
				Type:        TypePersonalInfoLearned,
				Description: fmt.Sprintf("Learned %s: %s", g, strings.Join(parts, ", ")),
				Source:      "personal_info",
				Grouped:     true,
				Details: map[string]any{
					"group":   g,
					"entries": detailEntries,
				},
			})
			continue
		}

		events = append(events, Event{
			Date:        primary.CreatedAt,
			Type:        TypePersonalInfoLearned,
			Description: fmt.Sprintf("Learned %s: %s", primary.Key, truncate(primary.Value, 50)),
			Source:      "personal_info",
			Details: map[string]any{
				"key":        primary.Key,
				"value":      primary.Value,
				"confidence": primary.Confidence,
			},
		})
	}
	return events
}

func displayKey(key string) string {
	if key == "" {
		return key
	}
	return strings.ToUpper(key[:1]) + key[1:]
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
