// Package chat runs one conversational turn: it trims the history, drives
// the model through the tool loop, streams events to the caller and hands
// the turn record to the persistence queue.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/chatcommerce/internal/extract"
	"github.com/kalambet/chatcommerce/internal/flow"
	"github.com/kalambet/chatcommerce/internal/llm"
	"github.com/kalambet/chatcommerce/internal/storage"
	"github.com/kalambet/chatcommerce/internal/tools"
)

// Event types sent to the client.
const (
	EventText     = "text"
	EventTool     = "tool"
	EventProducts = "products"
	EventState    = "state"
	EventError    = "error"
	EventFinish   = "finish"
)

const (
	maxQueryChars   = 1000
	toolConcurrency = 4
)

// Event is one streamed update.
type Event struct {
	Type      string            `json:"type"`
	Delta     string            `json:"delta,omitempty"`
	Name      string            `json:"name,omitempty"`
	Products  []extract.Product `json:"products,omitempty"`
	State     *flow.State       `json:"state,omitempty"`
	Message   string            `json:"message,omitempty"`
	LatencyMS int64             `json:"latency_ms,omitempty"`
}

// Model streams completions with tool calls.
type Model interface {
	Stream(ctx context.Context, req llm.Request, onDelta func(string)) (llm.Response, error)
}

// Tools is the tool registry the loop dispatches to.
type Tools interface {
	Specs(names ...string) []llm.ToolSpec
	Call(ctx context.Context, name, arguments string) tools.Result
}

// Recorder queues turn and lead records for the persistence worker.
type Recorder interface {
	Turn(query storage.Query, products []storage.Product) error
	Lead(name, phone string) error
}

type Options struct {
	KeepFirst    int
	KeepRecent   int
	MaxSteps     int
	TurnTimeout  time.Duration
	LeadFlow     bool
	Marketplaces []string
	// SlowTurn is the latency above which a turn is logged at Warn.
	SlowTurn time.Duration
}

func (o Options) withDefaults() Options {
	if o.KeepFirst <= 0 {
		o.KeepFirst = 3
	}
	if o.KeepRecent <= 0 {
		o.KeepRecent = 12
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = 5
	}
	if o.TurnTimeout <= 0 {
		o.TurnTimeout = 90 * time.Second
	}
	if o.SlowTurn <= 0 {
		o.SlowTurn = 7 * time.Second
	}
	return o
}

// Turn is one incoming chat request.
type Turn struct {
	Messages []llm.Message
	UserID   string
	// State is the client's lead-flow state. Ignored unless the lead flow
	// is enabled.
	State *flow.State
	// Started defaults to the time Run is called.
	Started time.Time
}

// Outcome summarizes a completed turn.
type Outcome struct {
	Products []extract.Product
	State    *flow.State
	Err      error
}

// Orchestrator runs chat turns. It is safe for concurrent use.
type Orchestrator struct {
	model Model
	tools Tools
	rec   Recorder
	opts  Options
}

func New(model Model, t Tools, rec Recorder, opts Options) *Orchestrator {
	return &Orchestrator{model: model, tools: t, rec: rec, opts: opts.withDefaults()}
}

// Run executes one turn and reports progress through emit. emit is never
// called concurrently. The Query row is enqueued before Run returns.
func (o *Orchestrator) Run(ctx context.Context, t Turn, emit func(Event)) Outcome {
	started := t.Started
	if started.IsZero() {
		started = time.Now()
	}
	var mu sync.Mutex
	send := func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		emit(e)
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.TurnTimeout)
	defer cancel()

	history := Window(t.Messages, o.opts.KeepFirst, o.opts.KeepRecent)
	userText := LastUserText(t.Messages)

	var (
		out       Outcome
		toolNames []string
		useTools  = true
		prompt    string
	)
	if o.opts.LeadFlow {
		var state flow.State
		if t.State != nil {
			state = *t.State
		}
		step := flow.Advance(state, userText)
		state = step.State
		if step.SaveLead {
			if err := o.rec.Lead(state.Name, state.Phone); err != nil {
				slog.Error("queueing lead", "error", err)
			} else {
				state = flow.LeadSaved(state)
			}
		}
		out.State = &state
		send(Event{Type: EventState, State: &state})

		useTools = step.Tools
		toolNames = []string{tools.SearchWeb, tools.FetchPage, tools.ExtractProducts}
		prompt = systemPrompt(o.opts.Marketplaces, false, step.Instruction)
	} else {
		prompt = systemPrompt(o.opts.Marketplaces, true, "")
	}

	var specs []llm.ToolSpec
	if useTools {
		specs = o.tools.Specs(toolNames...)
	}

	out.Products, out.Err = o.loop(ctx, prompt, history, specs, send)
	if out.Err != nil {
		switch {
		case errors.Is(out.Err, llm.ErrNotConfigured):
			send(Event{Type: EventText, Delta: apology})
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			slog.Warn("chat turn timed out", "timeout", o.opts.TurnTimeout)
			send(Event{Type: EventError, Message: "A resposta demorou demais. Tente novamente."})
		default:
			slog.Warn("chat turn failed", "error", out.Err)
			send(Event{Type: EventError, Message: apology})
		}
	}

	latency := time.Since(started)
	send(Event{Type: EventFinish, LatencyMS: latency.Milliseconds()})
	if latency > o.opts.SlowTurn {
		slog.Warn("slow chat turn", "latency_ms", latency.Milliseconds(), "products", len(out.Products))
	}

	o.record(t.UserID, userText, latency, out)
	return out
}

// loop alternates model calls and tool calls until the model answers in
// text. The last allowed step is sent without tools so it must answer.
func (o *Orchestrator) loop(ctx context.Context, system string, msgs []llm.Message, specs []llm.ToolSpec, send func(Event)) ([]extract.Product, error) {
	var products []extract.Product
	msgs = append([]llm.Message(nil), msgs...)

	for step := 0; step < o.opts.MaxSteps; step++ {
		req := llm.Request{System: system, Messages: msgs, Tools: specs}
		if step == o.opts.MaxSteps-1 {
			req.Tools = nil
		}
		resp, err := o.model.Stream(ctx, req, func(delta string) {
			send(Event{Type: EventText, Delta: delta})
		})
		if err != nil {
			return products, err
		}
		if len(resp.ToolCalls) == 0 {
			return products, nil
		}

		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
		results := o.callTools(ctx, resp.ToolCalls, send)
		for i, call := range resp.ToolCalls {
			msgs = append(msgs, llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: results[i].Content})
			if len(results[i].Products) > 0 {
				products = append(products, results[i].Products...)
				send(Event{Type: EventProducts, Products: results[i].Products})
			}
		}
	}
	return products, nil
}

// callTools runs one step's tool calls concurrently. Results keep the order
// of calls.
func (o *Orchestrator) callTools(ctx context.Context, calls []llm.ToolCall, send func(Event)) []tools.Result {
	results := make([]tools.Result, len(calls))
	var g errgroup.Group
	g.SetLimit(toolConcurrency)
	for i, call := range calls {
		send(Event{Type: EventTool, Name: call.Name})
		g.Go(func() error {
			results[i] = o.tools.Call(ctx, call.Name, call.Arguments)
			return nil
		})
	}
	g.Wait()
	return results
}

func (o *Orchestrator) record(userID, userText string, latency time.Duration, out Outcome) {
	q := storage.Query{
		UserID:    userID,
		Query:     truncate(userText, maxQueryChars),
		LatencyMS: latency.Milliseconds(),
	}
	if out.Err != nil {
		q.Error = out.Err.Error()
	}
	rows := make([]storage.Product, 0, len(out.Products))
	if len(out.Products) > 0 {
		data, err := json.Marshal(out.Products)
		if err != nil {
			slog.Error("marshaling turn results", "error", err)
		} else {
			q.Results = data
		}
		for _, p := range out.Products {
			rows = append(rows, storage.Product{
				SKU:    p.SKU,
				Name:   p.Name,
				Price:  p.Price,
				URL:    p.URL,
				Image:  p.Image,
				Source: p.Source,
			})
		}
	}
	if err := o.rec.Turn(q, rows); err != nil {
		slog.Error("queueing chat turn", "error", err)
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
