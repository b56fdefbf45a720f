// Package api exposes the memory engine over HTTP: ingest, memory and
// timeline reads, resets, and persona generation, all scoped per
// individual.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mirekh/doppel/internal/fileparse"
	"github.com/mirekh/doppel/internal/ingest"
	"github.com/mirekh/doppel/internal/memory"
	"github.com/mirekh/doppel/internal/storage"
	"github.com/mirekh/doppel/internal/timeline"
)

const maxIngestBodySize = 10 << 20 // 10MB

// SnapshotLoader loads an individual's full memory.
type SnapshotLoader interface {
	Snapshot(ctx context.Context, individual string) (memory.Snapshot, error)
}

// Generator writes content in an individual's voice.
type Generator interface {
	Generate(ctx context.Context, snap memory.Snapshot, request string) (string, error)
}

// Resetter wipes an individual's memory.
type Resetter interface {
	ResetIndividual(ctx context.Context, individual string) (storage.ResetCounts, error)
}

type AppDeps struct {
	Jobs      ingest.JobStore
	Snapshots SnapshotLoader
	Generator Generator
	Resetter  Resetter
	Token     string
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Route("/individuals/{individual}", func(r chi.Router) {
			r.Post("/ingest", handleIngest(deps))
			r.Get("/memory", handleGetMemory(deps))
			r.Get("/timeline", handleGetTimeline(deps))
			r.Post("/reset", handleReset(deps))
			r.Post("/generate", handleGenerate(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type IngestRequest struct {
	ContentType string `json:"content_type"`
	Source      string `json:"source"`
	Text        string `json:"text"`
	Filename    string `json:"filename"`
	FileContent string `json:"file_content"` // base64, used with filename
}

func handleIngest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		individual := chi.URLParam(r, "individual")

		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Text == "" && req.FileContent == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one of text or file_content is required")
			return
		}

		text := req.Text
		contentType := req.ContentType
		source := req.Source

		if req.FileContent != "" {
			if req.Filename == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "filename is required with file_content")
				return
			}
			data, err := base64.StdEncoding.DecodeString(req.FileContent)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 file content")
				return
			}
			extracted, err := fileparse.ExtractText(req.Filename, data)
			if err != nil {
				httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "extracting text from %s: %v", req.Filename, err)
				return
			}
			text = extracted
			if contentType == "" {
				contentType = string(fileparse.Detect(req.Filename))
			}
			if source == "" {
				source = memory.SourceUpload
			}
		}
		if contentType == "" {
			contentType = "text"
		}
		if source == "" {
			source = memory.SourceConversation
		}

		jobID, err := ingest.Enqueue(deps.Jobs, ingest.ConsolidatePayload{
			Individual:  individual,
			ContentType: contentType,
			Source:      source,
			Text:        text,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue ingest: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"job_id": jobID,
			"status": "queued",
		})
	}
}

func handleGetMemory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		individual := chi.URLParam(r, "individual")

		snap, err := deps.Snapshots.Snapshot(r.Context(), individual)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load memory: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"individual": individual,
			"memory":     snap,
			"counts": map[string]any{
				"has_style_profile": snap.Style != nil,
				"experiences":       len(snap.Experiences),
				"personal_facts":    len(snap.Facts),
				"provenance":        len(snap.Provenance),
			},
		})
	}
}

func handleGetTimeline(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		individual := chi.URLParam(r, "individual")

		snap, err := deps.Snapshots.Snapshot(r.Context(), individual)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load memory: %v", err)
			return
		}

		events := timeline.Build(snap)
		if events == nil {
			events = []timeline.Event{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"individual": individual,
			"events":     events,
		})
	}
}

type ResetRequest struct {
	Confirm bool `json:"confirm"`
}

func handleReset(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		individual := chi.URLParam(r, "individual")

		var req ResetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if !req.Confirm {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reset requires confirm: true")
			return
		}

		counts, err := deps.Resetter.ResetIndividual(r.Context(), individual)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reset memory: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "reset",
			"deleted": counts,
			"total":   counts.Total(),
		})
	}
}

type GenerateRequest struct {
	Request string `json:"request"`
}

func handleGenerate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		individual := chi.URLParam(r, "individual")

		r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodySize)
		defer r.Body.Close()

		var req GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Request == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "request is required")
			return
		}

		snap, err := deps.Snapshots.Snapshot(r.Context(), individual)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load memory: %v", err)
			return
		}

		out, err := deps.Generator.Generate(r.Context(), snap, req.Request)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "generation failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"individual": individual,
			"content":    out,
		})
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
