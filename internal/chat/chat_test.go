package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/chatcommerce/internal/extract"
	"github.com/kalambet/chatcommerce/internal/flow"
	"github.com/kalambet/chatcommerce/internal/llm"
	"github.com/kalambet/chatcommerce/internal/storage"
	"github.com/kalambet/chatcommerce/internal/tools"
)

// scriptedModel replays responses in order and records every request.
type scriptedModel struct {
	responses []llm.Response
	err       error
	requests  []llm.Request
}

func (m *scriptedModel) Stream(ctx context.Context, req llm.Request, onDelta func(string)) (llm.Response, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return llm.Response{}, m.err
	}
	if len(m.responses) == 0 {
		return llm.Response{}, errors.New("no scripted response")
	}
	resp := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	if resp.Content != "" {
		onDelta(resp.Content)
	}
	return resp, nil
}

type fakeTools struct {
	mu    sync.Mutex
	calls []string
	byURL map[string][]extract.Product
}

func (f *fakeTools) Specs(names ...string) []llm.ToolSpec {
	if len(names) == 0 {
		names = []string{tools.SearchWeb, tools.FetchPage, tools.ExtractProducts, tools.SaveLead}
	}
	out := make([]llm.ToolSpec, 0, len(names))
	for _, n := range names {
		out = append(out, llm.ToolSpec{Name: n})
	}
	return out
}

func (f *fakeTools) Call(ctx context.Context, name, arguments string) tools.Result {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()

	if name != tools.ExtractProducts {
		return tools.Result{Content: `{"success":true,"tool":"` + name + `"}`}
	}
	var a struct {
		SourceURL string `json:"source_url"`
	}
	json.Unmarshal([]byte(arguments), &a)
	products := f.byURL[a.SourceURL]
	data, _ := json.Marshal(map[string]any{"products": products})
	return tools.Result{Content: string(data), Products: products}
}

type fakeRecorder struct {
	queries  []storage.Query
	products [][]storage.Product
	leads    []string
	leadErr  error
}

func (r *fakeRecorder) Turn(q storage.Query, p []storage.Product) error {
	r.queries = append(r.queries, q)
	r.products = append(r.products, p)
	return nil
}

func (r *fakeRecorder) Lead(name, phone string) error {
	if r.leadErr != nil {
		return r.leadErr
	}
	r.leads = append(r.leads, name+"|"+phone)
	return nil
}

func collect(events *[]Event) func(Event) {
	return func(e Event) { *events = append(*events, e) }
}

func userTurn(text string) Turn {
	return Turn{Messages: []llm.Message{{Role: llm.RoleUser, Content: text}}}
}

const (
	urlA = "https://www.amazon.com.br/fone/dp/B0A"
	urlB = "https://produto.mercadolivre.com.br/MLB-1-fone"
)

func TestRunToolLoop(t *testing.T) {
	model := &scriptedModel{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: tools.SearchWeb, Arguments: `{"query":"fone"}`}}},
		{ToolCalls: []llm.ToolCall{
			{ID: "c2", Name: tools.ExtractProducts, Arguments: `{"source_url":"` + urlA + `"}`},
			{ID: "c3", Name: tools.ExtractProducts, Arguments: `{"source_url":"` + urlB + `"}`},
		}},
		{Content: "Achei estas opções!"},
	}}
	ft := &fakeTools{byURL: map[string][]extract.Product{
		urlA: {{Name: "Fone A", Price: "R$ 199,90", URL: urlA, Source: "Amazon"}},
		urlB: {{Name: "Fone B", Price: "R$ 149,00", URL: urlB, Source: "Mercado Livre"}},
	}}
	rec := &fakeRecorder{}
	o := New(model, ft, rec, Options{})

	var events []Event
	out := o.Run(context.Background(), userTurn("wireless headphones under $200"), collect(&events))

	if out.Err != nil {
		t.Fatalf("Run error: %v", out.Err)
	}
	if len(out.Products) != 2 {
		t.Fatalf("products = %d, want 2", len(out.Products))
	}
	if len(model.requests) != 3 {
		t.Fatalf("model calls = %d, want 3", len(model.requests))
	}

	// Tool results follow the assistant message in call order.
	last := model.requests[2].Messages
	if len(last) != 6 {
		t.Fatalf("final history = %d messages, want 6", len(last))
	}
	if last[4].ToolCallID != "c2" || last[5].ToolCallID != "c3" {
		t.Errorf("tool result order = %q, %q", last[4].ToolCallID, last[5].ToolCallID)
	}

	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	got := strings.Join(types, ",")
	if !strings.HasPrefix(got, "tool,tool,tool,products,products,text") || !strings.HasSuffix(got, "finish") {
		t.Errorf("event order = %s", got)
	}

	if len(rec.queries) != 1 {
		t.Fatalf("queued turns = %d, want 1", len(rec.queries))
	}
	q := rec.queries[0]
	if q.Error != "" || q.Query != "wireless headphones under $200" {
		t.Errorf("query row = %+v", q)
	}
	var results []extract.Product
	if err := json.Unmarshal(q.Results, &results); err != nil || len(results) != 2 {
		t.Errorf("results = %s (%v)", q.Results, err)
	}
	if len(rec.products[0]) != 2 || rec.products[0][0].Name != "Fone A" {
		t.Errorf("product rows = %+v", rec.products[0])
	}
}

func TestRunNoProductsRecordsNullResults(t *testing.T) {
	model := &scriptedModel{responses: []llm.Response{{Content: "Oi! Como posso ajudar?"}}}
	rec := &fakeRecorder{}
	o := New(model, &fakeTools{}, rec, Options{})

	o.Run(context.Background(), userTurn("oi"), func(Event) {})

	if len(rec.queries) != 1 {
		t.Fatalf("queued turns = %d", len(rec.queries))
	}
	if rec.queries[0].Results != nil {
		t.Errorf("results = %s, want nil", rec.queries[0].Results)
	}
}

func TestRunStepCap(t *testing.T) {
	model := &scriptedModel{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "c", Name: tools.SearchWeb, Arguments: `{"query":"x"}`}}},
	}}
	o := New(model, &fakeTools{}, &fakeRecorder{}, Options{MaxSteps: 3})

	o.Run(context.Background(), userTurn("x"), func(Event) {})

	if len(model.requests) != 3 {
		t.Fatalf("model calls = %d, want 3", len(model.requests))
	}
	if len(model.requests[0].Tools) == 0 {
		t.Error("first step sent without tools")
	}
	if len(model.requests[2].Tools) != 0 {
		t.Error("last step must be sent without tools")
	}
}

func TestRunModelNotConfigured(t *testing.T) {
	model := &scriptedModel{err: llm.ErrNotConfigured}
	rec := &fakeRecorder{}
	o := New(model, &fakeTools{}, rec, Options{})

	var events []Event
	out := o.Run(context.Background(), userTurn("fone"), collect(&events))

	if !errors.Is(out.Err, llm.ErrNotConfigured) {
		t.Fatalf("Err = %v", out.Err)
	}
	if len(events) != 2 || events[0].Type != EventText || events[0].Delta != apology {
		t.Errorf("events = %+v", events)
	}
	if events[len(events)-1].Type != EventFinish {
		t.Error("missing finish event")
	}
	if len(rec.queries) != 1 || rec.queries[0].Error == "" {
		t.Errorf("error not recorded: %+v", rec.queries)
	}
}

func TestRunUpstreamErrorEmitsErrorEvent(t *testing.T) {
	model := &scriptedModel{err: errors.New("502 bad gateway")}
	o := New(model, &fakeTools{}, &fakeRecorder{}, Options{})

	var events []Event
	o.Run(context.Background(), userTurn("fone"), collect(&events))

	if len(events) != 2 || events[0].Type != EventError {
		t.Errorf("events = %+v", events)
	}
}

func TestRunTruncatesQueryText(t *testing.T) {
	model := &scriptedModel{responses: []llm.Response{{Content: "ok"}}}
	rec := &fakeRecorder{}
	o := New(model, &fakeTools{}, rec, Options{})

	o.Run(context.Background(), userTurn(strings.Repeat("é", 1500)), func(Event) {})

	if n := len([]rune(rec.queries[0].Query)); n != maxQueryChars {
		t.Errorf("query length = %d runes, want %d", n, maxQueryChars)
	}
}

func TestRunWindowsHistory(t *testing.T) {
	var msgs []llm.Message
	for i := 0; i < 20; i++ {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: string(rune('a' + i))})
	}
	model := &scriptedModel{responses: []llm.Response{{Content: "ok"}}}
	o := New(model, &fakeTools{}, &fakeRecorder{}, Options{})

	o.Run(context.Background(), Turn{Messages: msgs}, func(Event) {})

	sent := model.requests[0].Messages
	if len(sent) != 15 {
		t.Fatalf("sent %d messages, want 15", len(sent))
	}
	if sent[2].Content != "c" || sent[3].Content != "i" {
		t.Errorf("window = %q .. %q", sent[2].Content, sent[3].Content)
	}
}

func TestRunLeadFlow(t *testing.T) {
	model := &scriptedModel{responses: []llm.Response{{Content: "ok"}}}
	rec := &fakeRecorder{}
	o := New(model, &fakeTools{}, rec, Options{LeadFlow: true})

	var events []Event
	out := o.Run(context.Background(), userTurn("oi"), collect(&events))
	if out.State == nil || out.State.Stage != flow.StageCollectName {
		t.Fatalf("state after greeting = %+v", out.State)
	}
	if events[0].Type != EventState {
		t.Errorf("first event = %s, want state", events[0].Type)
	}
	if len(model.requests[0].Tools) != 0 {
		t.Error("greeting stage must not offer tools")
	}
	if !strings.Contains(model.requests[0].System, "Ana Clara") {
		t.Error("system prompt lacks stage instruction")
	}

	state := flow.State{Stage: flow.StageCollectPhone, Name: "Bruna"}
	turn := userTurn("(11) 98888-7777")
	turn.State = &state
	out = o.Run(context.Background(), turn, func(Event) {})
	if len(rec.leads) != 1 || rec.leads[0] != "Bruna|11988887777" {
		t.Fatalf("leads = %v", rec.leads)
	}
	if out.State.Stage != flow.StageCollectIntent || !out.State.LeadSaved {
		t.Errorf("state after phone = %+v", out.State)
	}

	turn = userTurn("quero um fone")
	turn.State = out.State
	model.requests = nil
	o.Run(context.Background(), turn, func(Event) {})
	specs := model.requests[0].Tools
	if len(specs) != 3 {
		t.Fatalf("search stage tools = %d, want 3", len(specs))
	}
	for _, s := range specs {
		if s.Name == tools.SaveLead {
			t.Error("save_lead offered in search stage")
		}
	}
}

func TestRunLeadFlowSaveFailureKeepsStage(t *testing.T) {
	model := &scriptedModel{responses: []llm.Response{{Content: "ok"}}}
	rec := &fakeRecorder{leadErr: errors.New("disk full")}
	o := New(model, &fakeTools{}, rec, Options{LeadFlow: true})

	turn := userTurn("11988887777")
	turn.State = &flow.State{Stage: flow.StageCollectPhone, Name: "Bruna"}
	out := o.Run(context.Background(), turn, func(Event) {})

	if out.State.Stage != flow.StageSaveLead || out.State.LeadSaved {
		t.Errorf("state = %+v", out.State)
	}
}

// blockingModel waits for the turn deadline.
type blockingModel struct{}

func (blockingModel) Stream(ctx context.Context, req llm.Request, onDelta func(string)) (llm.Response, error) {
	<-ctx.Done()
	return llm.Response{}, ctx.Err()
}

func TestRunTurnTimeout(t *testing.T) {
	rec := &fakeRecorder{}
	o := New(blockingModel{}, &fakeTools{}, rec, Options{TurnTimeout: 20 * time.Millisecond})

	var events []Event
	out := o.Run(context.Background(), userTurn("fone"), collect(&events))

	if !errors.Is(out.Err, context.DeadlineExceeded) {
		t.Fatalf("Err = %v", out.Err)
	}
	if events[0].Type != EventError {
		t.Errorf("first event = %+v", events[0])
	}
	if len(rec.queries) != 1 || rec.queries[0].Error == "" {
		t.Errorf("timeout not recorded: %+v", rec.queries)
	}
}
