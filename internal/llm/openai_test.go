package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func chunk(delta string, finish string) string {
	fr := "null"
	if finish != "" {
		fr = fmt.Sprintf("%q", finish)
	}
	return fmt.Sprintf(`data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":%s,"finish_reason":%s}]}`+"\n\n", delta, fr)
}

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "gpt-test", HTTPClient: srv.Client()}), srv
}

func TestStreamText(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if body["model"] != "gpt-test" || body["stream"] != true {
			t.Errorf("unexpected body: %v", body)
		}
		msgs := body["messages"].([]any)
		if first := msgs[0].(map[string]any); first["role"] != "system" {
			t.Errorf("first message role = %v, want system", first["role"])
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, chunk(`{"role":"assistant","content":"Olá"}`, ""))
		io.WriteString(w, chunk(`{"content":", tudo bem?"}`, ""))
		io.WriteString(w, chunk(`{}`, "stop"))
		io.WriteString(w, "data: [DONE]\n\n")
	})

	var deltas []string
	resp, err := c.Stream(context.Background(), Request{
		System:   "be nice",
		Messages: []Message{{Role: RoleUser, Content: "oi"}},
	}, func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if resp.Content != "Olá, tudo bem?" {
		t.Errorf("Content = %q", resp.Content)
	}
	if len(deltas) != 2 {
		t.Errorf("deltas = %v", deltas)
	}
	if resp.FinishReason != "stop" || len(resp.ToolCalls) != 0 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestStreamAccumulatesToolCalls(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"search_web"`) {
			t.Errorf("tools missing from request: %s", body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, chunk(`{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"search_web","arguments":"{\"qu"}}]}`, ""))
		io.WriteString(w, chunk(`{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"fetch_page","arguments":"{}"}}]}`, ""))
		io.WriteString(w, chunk(`{"tool_calls":[{"index":0,"function":{"arguments":"ery\":\"fone\"}"}}]}`, ""))
		io.WriteString(w, chunk(`{}`, "tool_calls"))
		io.WriteString(w, "data: [DONE]\n\n")
	})

	resp, err := c.Stream(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "fone"}},
		Tools: []ToolSpec{{
			Name:        "search_web",
			Description: "search",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		}},
	}, nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("ToolCalls = %+v", resp.ToolCalls)
	}
	if tc := resp.ToolCalls[0]; tc.ID != "call_a" || tc.Name != "search_web" || tc.Arguments != `{"query":"fone"}` {
		t.Errorf("first call = %+v", tc)
	}
	if tc := resp.ToolCalls[1]; tc.ID != "call_b" || tc.Name != "fetch_page" {
		t.Errorf("second call = %+v", tc)
	}
}

func TestCompleteSendsToolHistory(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []map[string]any `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding: %v", err)
		}
		if len(body.Messages) != 3 {
			t.Fatalf("messages = %d, want 3", len(body.Messages))
		}
		asst := body.Messages[1]
		calls, ok := asst["tool_calls"].([]any)
		if !ok || len(calls) != 1 {
			t.Fatalf("assistant tool_calls = %v", asst["tool_calls"])
		}
		if tool := body.Messages[2]; tool["role"] != "tool" || tool["tool_call_id"] != "call_1" {
			t.Errorf("tool message = %v", tool)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"done"}}]}`)
	})

	resp, err := c.Complete(context.Background(), Request{Messages: []Message{
		{Role: RoleUser, Content: "fone"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1", Name: "search_web", Arguments: `{"query":"fone"}`}}},
		{Role: RoleTool, ToolCallID: "call_1", Content: `{"count":0}`},
	}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "done" {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestNotConfigured(t *testing.T) {
	c := New(Options{Model: "m"})
	if c.Configured() {
		t.Error("Configured() = true without key")
	}
	if _, err := c.Complete(context.Background(), Request{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Complete err = %v", err)
	}
	if _, err := c.Stream(context.Background(), Request{}, nil); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Stream err = %v", err)
	}
}

func TestUpstreamError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	})
	if _, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}}); err == nil {
		t.Error("expected error")
	}
}
