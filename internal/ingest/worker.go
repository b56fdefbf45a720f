// Package ingest runs the asynchronous consolidation pipeline: ingested
// content is queued as a job, and the worker extracts and consolidates
// it in the background so the ingest endpoint stays fast.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mirekh/doppel/internal/memory"
	"github.com/mirekh/doppel/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// Extractor produces style signals and fact candidates from raw text.
type Extractor interface {
	ExtractAll(ctx context.Context, text string) (memory.StyleSignals, memory.FactExtraction)
}

// Consolidator merges one extraction batch into persistent memory.
type Consolidator interface {
	ConsolidateBatch(ctx context.Context, individual, contentType, rawText, source string, style memory.StyleSignals, facts memory.FactExtraction) (memory.BatchResult, error)
}

// ConsolidatePayload is the JSON payload of a memory_consolidate job.
type ConsolidatePayload struct {
	Individual  string `json:"individual"`
	ContentType string `json:"content_type"`
	Source      string `json:"source"`
	Text        string `json:"text"`
}

// Enqueue queues one piece of content for background consolidation and
// returns the job ID.
func Enqueue(store JobStore, p ConsolidatePayload) (string, error) {
	if p.Individual == "" {
		return "", fmt.Errorf("individual is required")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        storage.JobTypeConsolidate,
		PayloadJSON: string(payload),
	}
	if err := store.EnqueueJob(job); err != nil {
		return "", fmt.Errorf("enqueueing consolidation: %w", err)
	}
	return job.ID, nil
}

// Worker processes memory_consolidate jobs from the SQLite job queue.
type Worker struct {
	store     JobStore
	extractor Extractor
	engine    Consolidator
	poll      time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, extractor Extractor, engine Consolidator, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:     store,
		extractor: extractor,
		engine:    engine,
		poll:      pollInterval,
		logger:    slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single consolidation job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{storage.JobTypeConsolidate})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var p ConsolidatePayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if p.Individual == "" {
		return fmt.Errorf("payload missing individual")
	}
	if p.Source == "" {
		p.Source = memory.SourceConversation
	}

	style, facts := w.extractor.ExtractAll(ctx, p.Text)

	res, err := w.engine.ConsolidateBatch(ctx, p.Individual, p.ContentType, p.Text, p.Source, style, facts)
	if err != nil {
		return fmt.Errorf("consolidating for %s: %w", p.Individual, err)
	}

	w.logger.Info("consolidated ingest",
		"individual", p.Individual,
		"provenance_id", res.ProvenanceID,
		"experiences_saved", res.ExperiencesSaved,
		"facts_saved", res.FactsSaved,
	)
	return nil
}
