package persist

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/chatcommerce/internal/storage"
)

// Enqueuer inserts jobs into the durable queue.
type Enqueuer interface {
	EnqueueJob(job storage.Job) error
}

type turnPayload struct {
	Query    storage.Query     `json:"query"`
	Products []storage.Product `json:"products,omitempty"`
}

// Queue turns records into persistence jobs.
type Queue struct {
	jobs Enqueuer
}

func NewQueue(jobs Enqueuer) *Queue {
	return &Queue{jobs: jobs}
}

// Turn enqueues one Query row and the products observed during the turn.
// Missing IDs and timestamps are filled in so retries write the same rows.
func (q *Queue) Turn(query storage.Query, products []storage.Product) error {
	if query.ID == "" {
		query.ID = uuid.NewString()
	}
	if query.CreatedAt.IsZero() {
		query.CreatedAt = time.Now().UTC()
	}
	for i := range products {
		if products[i].ID == "" {
			products[i].ID = uuid.NewString()
		}
		if products[i].CreatedAt.IsZero() {
			products[i].CreatedAt = query.CreatedAt
		}
	}
	return q.enqueue(storage.JobPersistTurn, turnPayload{Query: query, Products: products})
}

// Lead enqueues a captured lead.
func (q *Queue) Lead(name, phone string) error {
	return q.enqueue(storage.JobSaveLead, storage.Lead{
		ID:        uuid.NewString(),
		Name:      name,
		Phone:     phone,
		CreatedAt: time.Now().UTC(),
	})
}

func (q *Queue) enqueue(typ string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", typ, err)
	}
	if err := q.jobs.EnqueueJob(storage.Job{Type: typ, PayloadJSON: string(data)}); err != nil {
		return fmt.Errorf("enqueueing %s: %w", typ, err)
	}
	return nil
}
