package persist

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/chatcommerce/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type failingSink struct {
	mu       sync.Mutex
	queryErr error
	products int
	queries  int
	leads    int
}

func (f *failingSink) SaveQuery(ctx context.Context, q storage.Query) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return f.queryErr
	}
	f.queries++
	return nil
}

func (f *failingSink) SaveProducts(ctx context.Context, p []storage.Product) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products += len(p)
	return nil
}

func (f *failingSink) SaveLead(ctx context.Context, l storage.Lead) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leads++
	return nil
}

func TestTurnRoundTrip(t *testing.T) {
	store := openTestStore(t)
	q := NewQueue(store)
	w := NewWorker(store, store, 10*time.Millisecond)
	ctx := context.Background()

	results, _ := json.Marshal([]map[string]string{{"name": "A"}, {"name": "B"}})
	err := q.Turn(storage.Query{Query: "fone", Results: results, LatencyMS: 900}, []storage.Product{
		{Name: "A", URL: "https://www.amazon.com.br/a/dp/1"},
		{Name: "B", URL: "https://www.amazon.com.br/b/dp/2"},
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}

	queries, _ := store.ListQueries(ctx, 10)
	if len(queries) != 0 {
		t.Fatal("query persisted before the worker ran")
	}

	done, err := w.RunOnce(ctx)
	if err != nil || !done {
		t.Fatalf("RunOnce = %v, %v", done, err)
	}

	queries, err = store.ListQueries(ctx, 10)
	if err != nil {
		t.Fatalf("ListQueries: %v", err)
	}
	if len(queries) != 1 || queries[0].Query != "fone" || queries[0].Error != "" {
		t.Fatalf("queries = %+v", queries)
	}
	var got []map[string]string
	if err := json.Unmarshal(queries[0].Results, &got); err != nil || len(got) != 2 {
		t.Errorf("results = %s (%v)", queries[0].Results, err)
	}
	products, _ := store.ListProducts(ctx, 10)
	if len(products) != 2 {
		t.Errorf("products = %d, want 2", len(products))
	}

	done, err = w.RunOnce(ctx)
	if err != nil || done {
		t.Errorf("second RunOnce = %v, %v; want idle", done, err)
	}
}

func TestLeadRoundTrip(t *testing.T) {
	store := openTestStore(t)
	if err := NewQueue(store).Lead("Ana", "11999990000"); err != nil {
		t.Fatalf("Lead: %v", err)
	}
	w := NewWorker(store, store, 0)
	if n := w.Drain(context.Background()); n != 1 {
		t.Errorf("Drain processed %d, want 1", n)
	}
	leads, _ := store.ListLeads(context.Background(), 5)
	if len(leads) != 1 || leads[0].Name != "Ana" {
		t.Errorf("leads = %+v", leads)
	}
}

func TestFailedJobIsRetriedLater(t *testing.T) {
	store := openTestStore(t)
	sink := &failingSink{queryErr: errors.New("connection refused")}
	w := NewWorker(store, sink, 0)

	if err := NewQueue(store).Turn(storage.Query{Query: "x"}, []storage.Product{{Name: "A", URL: "u"}}); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	done, err := w.RunOnce(context.Background())
	if err != nil || !done {
		t.Fatalf("RunOnce = %v, %v", done, err)
	}

	counts, err := store.JobCounts()
	if err != nil {
		t.Fatalf("JobCounts: %v", err)
	}
	if counts["pending"] != 1 {
		t.Errorf("counts = %v, want job back to pending", counts)
	}
	if sink.queries != 0 {
		t.Errorf("queries saved = %d", sink.queries)
	}
}

func TestBadPayloadFails(t *testing.T) {
	store := openTestStore(t)
	if err := store.EnqueueJob(storage.Job{ID: "bad", Type: storage.JobSaveLead, PayloadJSON: "{", MaxAttempts: 1}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	w := NewWorker(store, &failingSink{}, 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	counts, _ := store.JobCounts()
	if counts["failed"] != 1 {
		t.Errorf("counts = %v, want failed", counts)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	sink := &failingSink{}
	w := NewWorker(store, sink, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(stopped)
	}()

	if err := NewQueue(store).Lead("Bia", "21988887777"); err != nil {
		t.Fatalf("Lead: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		sink.mu.Lock()
		n := sink.leads
		sink.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("lead not processed by Run")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
