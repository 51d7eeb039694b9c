package llm

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	// MaxRetries is passed to the SDK. Negative keeps the SDK default.
	MaxRetries int
}

// Client is an OpenAI-compatible completion client.
type Client struct {
	api        openai.Client
	model      string
	configured bool
}

// New creates a Client. A missing API key yields a client whose calls
// return ErrNotConfigured.
func New(opts Options) *Client {
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(strings.TrimRight(opts.BaseURL, "/")+"/"))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	if opts.MaxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(opts.MaxRetries))
	}
	return &Client{
		api:        openai.NewClient(reqOpts...),
		model:      opts.Model,
		configured: opts.APIKey != "",
	}
}

// Configured reports whether the client has credentials.
func (c *Client) Configured() bool { return c.configured }

// Complete runs a non-streaming completion.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	if !c.configured {
		return Response{}, ErrNotConfigured
	}
	resp, err := c.api.Chat.Completions.New(ctx, c.params(req))
	if err != nil {
		return Response{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("chat completion: empty choices")
	}
	choice := resp.Choices[0]
	out := Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// Stream runs a streaming completion, calling onDelta for each text chunk.
// Tool call fragments are accumulated by index and returned complete.
func (c *Client) Stream(ctx context.Context, req Request, onDelta func(string)) (Response, error) {
	if !c.configured {
		return Response{}, ErrNotConfigured
	}
	stream := c.api.Chat.Completions.NewStreaming(ctx, c.params(req))
	defer stream.Close()

	var (
		out     Response
		content strings.Builder
		calls   = make(map[int]*pendingCall)
	)
	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			if d := choice.Delta.Content; d != "" {
				content.WriteString(d)
				if onDelta != nil {
					onDelta(d)
				}
			}
			for _, td := range choice.Delta.ToolCalls {
				idx := int(td.Index)
				pc, ok := calls[idx]
				if !ok {
					pc = &pendingCall{}
					calls[idx] = pc
				}
				if td.ID != "" && pc.id == "" {
					pc.id = td.ID
				}
				if td.Function.Name != "" {
					pc.name = td.Function.Name
				}
				pc.args.WriteString(td.Function.Arguments)
			}
			if choice.FinishReason != "" {
				out.FinishReason = string(choice.FinishReason)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return Response{}, fmt.Errorf("chat completion stream: %w", err)
	}

	out.Content = content.String()
	idxs := make([]int, 0, len(calls))
	for i := range calls {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	for _, i := range idxs {
		pc := calls[i]
		if pc.name == "" {
			continue
		}
		id := pc.id
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: id, Name: pc.name, Arguments: pc.args.String()})
	}
	return out, nil
}

func (c *Client) params(req Request) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = c.model
	}
	p := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: toParams(req.System, req.Messages),
	}
	if req.Temperature > 0 {
		p.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		p.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	for _, t := range req.Tools {
		fn := openai.FunctionDefinitionParam{
			Name:       t.Name,
			Parameters: t.Parameters,
		}
		if t.Description != "" {
			fn.Description = openai.String(t.Description)
		}
		p.Tools = append(p.Tools, openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{Function: fn},
		})
	}
	return p
}

func toParams(system string, msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			a := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				a.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				a.ToolCalls = append(a.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: tc.Arguments,
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &a})
		}
	}
	return out
}
