// Package persist moves chat records from the durable SQLite job queue into
// the record store, off the request path.
package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/chatcommerce/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// RecordSink receives the records carried by jobs.
type RecordSink interface {
	SaveQuery(ctx context.Context, q storage.Query) error
	SaveProducts(ctx context.Context, products []storage.Product) error
	SaveLead(ctx context.Context, l storage.Lead) error
}

var jobTypes = []string{storage.JobPersistTurn, storage.JobSaveLead}

// Worker processes persist_turn and save_lead jobs.
type Worker struct {
	store  JobStore
	sink   RecordSink
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, sink RecordSink, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:  store,
		sink:   sink,
		poll:   pollInterval,
		logger: slog.Default(),
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
			w.logger.Error("persist worker iteration failed", "error", err)
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

// Drain processes ready jobs until none is left or ctx is done. It is used
// on shutdown so queued turns reach the store before exit.
func (w *Worker) Drain(ctx context.Context) int {
	n := 0
	for ctx.Err() == nil {
		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("persist drain failed", "error", err)
			return n
		}
		if !done {
			return n
		}
		n++
	}
	return n
}

// RunOnce claims and processes a single job. It returns true if a job was
// processed, whether or not it succeeded.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(jobTypes)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.process(ctx, job); err != nil {
		w.logger.Error("persist job failed", "job_id", job.ID, "type", job.Type, "error", err)
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

func (w *Worker) process(ctx context.Context, job *storage.Job) error {
	switch job.Type {
	case storage.JobPersistTurn:
		var p turnPayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
		// Product ids are fixed in the payload and re-inserts are ignored, so a
		// retry after a failed query insert does not duplicate them.
		if err := w.sink.SaveProducts(ctx, p.Products); err != nil {
			return fmt.Errorf("saving products: %w", err)
		}
		if err := w.sink.SaveQuery(ctx, p.Query); err != nil {
			return fmt.Errorf("saving query: %w", err)
		}
		return nil

	case storage.JobSaveLead:
		var l storage.Lead
		if err := json.Unmarshal([]byte(job.PayloadJSON), &l); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
		if err := w.sink.SaveLead(ctx, l); err != nil {
			return fmt.Errorf("saving lead: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}
