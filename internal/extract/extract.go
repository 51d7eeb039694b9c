// Package extract turns product page text into structured products using
// the LLM, with a tolerant parser for model-returned JSON.
package extract

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/kalambet/chatcommerce/internal/cache"
	"github.com/kalambet/chatcommerce/internal/llm"
	"github.com/kalambet/chatcommerce/internal/validator"
)

// MaxProducts bounds how many products one extraction returns.
const MaxProducts = 3

// Product is one item found on a page.
type Product struct {
	Name   string `json:"name"`
	Price  string `json:"price,omitempty"`
	URL    string `json:"url"`
	Image  string `json:"image,omitempty"`
	SKU    string `json:"sku,omitempty"`
	Source string `json:"source,omitempty"`
}

// Completer is the subset of the LLM client the extractor needs.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (llm.Response, error)
}

// PageFetcher returns validated, truncated page text, or "".
type PageFetcher interface {
	FetchPage(ctx context.Context, pageURL string) string
}

// Extractor extracts products from raw text or from a page URL.
type Extractor struct {
	llm   Completer
	pages PageFetcher
	valid *validator.Validator
	cache *cache.Cache[[]Product]
	ttl   time.Duration
	model string
}

// New creates an Extractor. Results for a source URL are cached for ttl.
func New(c Completer, pages PageFetcher, v *validator.Validator, results *cache.Cache[[]Product], ttl time.Duration, model string) *Extractor {
	return &Extractor{
		llm:   c,
		pages: pages,
		valid: v,
		cache: results,
		ttl:   ttl,
		model: model,
	}
}

// Extract returns up to MaxProducts products. When rawText is empty the
// page at sourceURL is fetched first. Every failure yields an empty list.
func (e *Extractor) Extract(ctx context.Context, rawText, sourceURL string) []Product {
	rawText = strings.TrimSpace(rawText)
	sourceURL = strings.TrimSpace(sourceURL)

	key := ""
	if sourceURL != "" {
		key = "extract:" + sourceURL
		if hit, ok := e.cache.Get(key, e.ttl); ok {
			slog.Debug("extract cache hit", "url", sourceURL)
			return hit
		}
	}

	if rawText == "" && sourceURL != "" {
		rawText = e.pages.FetchPage(ctx, sourceURL)
	}
	if rawText == "" {
		slog.Debug("extract: no input text", "url", sourceURL)
		return []Product{}
	}

	resp, err := e.llm.Complete(ctx, llm.Request{
		Model:  e.model,
		System: systemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: userPrompt(rawText, sourceURL)},
		},
		Temperature: 0.3,
		MaxTokens:   1000,
	})
	if err != nil {
		if errors.Is(err, llm.ErrNotConfigured) {
			slog.Warn("extract: LLM not configured")
		} else {
			slog.Warn("extract: completion failed", "url", sourceURL, "error", err)
		}
		return []Product{}
	}

	items, err := parseProducts(resp.Content)
	if err != nil {
		slog.Warn("extract: could not parse model output", "url", sourceURL, "error", err)
		return []Product{}
	}
	products := e.normalize(items, sourceURL)
	slog.Debug("extracted products", "url", sourceURL, "count", len(products))

	if key != "" {
		e.cache.Set(key, products)
	}
	return products
}

// Prune drops cached results older than the TTL.
func (e *Extractor) Prune() int {
	return e.cache.Prune(e.ttl)
}

func (e *Extractor) normalize(items []rawProduct, sourceURL string) []Product {
	if len(items) > MaxProducts {
		items = items[:MaxProducts]
	}
	out := make([]Product, 0, len(items))
	for _, it := range items {
		p := Product{
			Name:  strings.TrimSpace(it.Name),
			Price: formatPrice(it.Price),
			URL:   strings.TrimSpace(it.URL),
			Image: strings.TrimSpace(it.Image),
			SKU:   strings.TrimSpace(it.SKU),
		}
		if p.Name == "" {
			continue
		}
		if p.URL == "" {
			p.URL = sourceURL
		}
		if p.URL == "" {
			continue
		}
		if e.valid != nil {
			if ok, reason := e.valid.Check(p.URL); !ok {
				slog.Debug("extract: product URL rejected", "url", p.URL, "reason", reason)
				continue
			}
		}
		p.Source = e.source(strings.TrimSpace(it.Source), p.URL)
		out = append(out, p)
	}
	return out
}

// source prefers the model's own label, then the marketplace name, then the
// bare host.
func (e *Extractor) source(given, productURL string) string {
	if given != "" {
		return given
	}
	if e.valid != nil {
		if name := e.valid.Marketplace(productURL); name != "" {
			return name
		}
	}
	if u, err := url.Parse(productURL); err == nil {
		return strings.TrimPrefix(u.Hostname(), "www.")
	}
	return ""
}
