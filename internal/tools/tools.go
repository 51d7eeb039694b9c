// Package tools is the registry of functions the assistant can call. The
// same registry backs the chat tool loop and the MCP server.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/chatcommerce/internal/extract"
	"github.com/kalambet/chatcommerce/internal/llm"
	"github.com/kalambet/chatcommerce/internal/web"
)

// Tool names.
const (
	SearchWeb       = "search_web"
	FetchPage       = "fetch_page"
	ExtractProducts = "extract_products"
	SaveLead        = "save_lead"
)

const maxSearchResults = 10

type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) []web.SearchResult
}

type PageFetcher interface {
	FetchPage(ctx context.Context, pageURL string) string
}

type ProductExtractor interface {
	Extract(ctx context.Context, rawText, sourceURL string) []extract.Product
}

// LeadRecorder stores a captured lead. It must not block on the database.
type LeadRecorder interface {
	Lead(name, phone string) error
}

// Result is the outcome of one tool call. Content is the JSON handed back to
// the model; Products carries any products the call extracted.
type Result struct {
	Content  string
	Products []extract.Product
	Lead     bool
	// IsError marks unknown tools and invalid arguments.
	IsError bool
}

// Registry dispatches tool calls by name.
type Registry struct {
	search  Searcher
	pages   PageFetcher
	extract ProductExtractor
	leads   LeadRecorder
}

func New(search Searcher, pages PageFetcher, ext ProductExtractor, leads LeadRecorder) *Registry {
	return &Registry{search: search, pages: pages, extract: ext, leads: leads}
}

// Specs returns the declarations for the named tools, or all tools when no
// names are given.
func (r *Registry) Specs(names ...string) []llm.ToolSpec {
	if len(names) == 0 {
		return append([]llm.ToolSpec(nil), specs...)
	}
	var out []llm.ToolSpec
	for _, n := range names {
		for _, s := range specs {
			if s.Name == n {
				out = append(out, s)
			}
		}
	}
	return out
}

// Call runs the named tool with JSON arguments. Failures are reported to the
// model as {"error": ...} rather than returned.
func (r *Registry) Call(ctx context.Context, name, arguments string) Result {
	if strings.TrimSpace(arguments) == "" {
		arguments = "{}"
	}
	switch name {
	case SearchWeb:
		var a struct {
			Query      string `json:"query"`
			MaxResults int    `json:"max_results"`
		}
		if err := json.Unmarshal([]byte(arguments), &a); err != nil {
			return errorResult(fmt.Sprintf("invalid arguments: %v", err))
		}
		if strings.TrimSpace(a.Query) == "" {
			return errorResult("query is required")
		}
		if a.MaxResults > maxSearchResults {
			a.MaxResults = maxSearchResults
		}
		slog.Debug("tool call", "tool", name, "query", a.Query)
		results := r.search.Search(ctx, a.Query, a.MaxResults)
		return jsonResult(map[string]any{
			"success": true,
			"count":   len(results),
			"results": results,
		})

	case FetchPage:
		var a struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal([]byte(arguments), &a); err != nil {
			return errorResult(fmt.Sprintf("invalid arguments: %v", err))
		}
		if strings.TrimSpace(a.URL) == "" {
			return errorResult("url is required")
		}
		slog.Debug("tool call", "tool", name, "url", a.URL)
		content := r.pages.FetchPage(ctx, a.URL)
		return jsonResult(map[string]any{
			"success": content != "",
			"content": content,
			"length":  utf8.RuneCountInString(content),
		})

	case ExtractProducts:
		var a struct {
			RawText   string `json:"raw_text"`
			SourceURL string `json:"source_url"`
		}
		if err := json.Unmarshal([]byte(arguments), &a); err != nil {
			return errorResult(fmt.Sprintf("invalid arguments: %v", err))
		}
		if strings.TrimSpace(a.RawText) == "" && strings.TrimSpace(a.SourceURL) == "" {
			return errorResult("raw_text or source_url is required")
		}
		slog.Debug("tool call", "tool", name, "url", a.SourceURL, "chars", len(a.RawText))
		products := r.extract.Extract(ctx, a.RawText, a.SourceURL)
		res := jsonResult(map[string]any{
			"success":  true,
			"count":    len(products),
			"products": products,
		})
		res.Products = products
		return res

	case SaveLead:
		var a struct {
			Name  string `json:"name"`
			Phone string `json:"phone"`
		}
		if err := json.Unmarshal([]byte(arguments), &a); err != nil {
			return errorResult(fmt.Sprintf("invalid arguments: %v", err))
		}
		a.Name, a.Phone = strings.TrimSpace(a.Name), strings.TrimSpace(a.Phone)
		if a.Name == "" || a.Phone == "" {
			return jsonResult(map[string]any{"success": false, "error": "name and phone are required"})
		}
		if err := r.leads.Lead(a.Name, a.Phone); err != nil {
			slog.Error("saving lead", "error", err)
			return jsonResult(map[string]any{"success": false})
		}
		res := jsonResult(map[string]any{"success": true})
		res.Lead = true
		return res

	default:
		return errorResult(fmt.Sprintf("unknown tool %q", name))
	}
}

func jsonResult(v any) Result {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(err.Error())
	}
	return Result{Content: string(data)}
}

func errorResult(msg string) Result {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return Result{Content: string(data), IsError: true}
}
