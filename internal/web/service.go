package web

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/chatcommerce/internal/cache"
	"github.com/kalambet/chatcommerce/internal/retry"
	"github.com/kalambet/chatcommerce/internal/validator"
)

// Options tunes a Service. Zero values fall back to the defaults below.
type Options struct {
	SearchTTL     time.Duration
	PageTTL       time.Duration
	SearchTimeout time.Duration
	ReadTimeout   time.Duration
	MaxChars      int
	MaxResults    int
}

func (o Options) withDefaults() Options {
	if o.SearchTTL <= 0 {
		o.SearchTTL = time.Hour
	}
	if o.PageTTL <= 0 {
		o.PageTTL = 24 * time.Hour
	}
	if o.SearchTimeout <= 0 {
		o.SearchTimeout = 10 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 10 * time.Second
	}
	if o.MaxChars <= 0 {
		o.MaxChars = 12000
	}
	if o.MaxResults <= 0 {
		o.MaxResults = 5
	}
	return o
}

// Service is the cached, validated access path to the web. Failures never
// surface as errors: they degrade to an empty result and a log line.
type Service struct {
	searcher Searcher
	reader   Reader
	valid    *validator.Validator
	searches *cache.Cache[[]SearchResult]
	pages    *cache.Cache[string]
	policy   retry.Policy
	opts     Options
	group    singleflight.Group
}

// NewService wires the fetch layer. Caches are injected so callers control
// their lifetime and tests get isolated instances.
func NewService(
	searcher Searcher,
	reader Reader,
	v *validator.Validator,
	searches *cache.Cache[[]SearchResult],
	pages *cache.Cache[string],
	policy retry.Policy,
	opts Options,
) *Service {
	return &Service{
		searcher: searcher,
		reader:   reader,
		valid:    v,
		searches: searches,
		pages:    pages,
		policy:   policy,
		opts:     opts.withDefaults(),
	}
}

// Validator returns the URL validator the service filters with.
func (s *Service) Validator() *validator.Validator { return s.valid }

// MaxResults returns the default search result count.
func (s *Service) MaxResults() int { return s.opts.MaxResults }

// Search returns up to maxResults hits whose URLs pass the validator.
// maxResults <= 0 uses the configured default.
func (s *Service) Search(ctx context.Context, query string, maxResults int) []SearchResult {
	query = strings.TrimSpace(query)
	if query == "" {
		return []SearchResult{}
	}
	if maxResults <= 0 {
		maxResults = s.opts.MaxResults
	}

	key := fmt.Sprintf("search:%s:%d", strings.ToLower(query), maxResults)
	if hit, ok := s.searches.Get(key, s.opts.SearchTTL); ok {
		slog.Debug("search cache hit", "query", query)
		return hit
	}

	v, ok := s.shared(ctx, key, func(ctx context.Context) any {
		p := s.policy
		p.Name = "search"
		raw, ok := retry.Do(ctx, p, func(ctx context.Context) ([]SearchResult, error) {
			ctx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
			defer cancel()
			return s.searcher.Search(ctx, query, maxResults)
		})
		if !ok {
			return []SearchResult{}
		}

		filtered := make([]SearchResult, 0, len(raw))
		for _, r := range raw {
			if ok, reason := s.valid.Check(r.URL); !ok {
				slog.Debug("search result rejected", "url", r.URL, "reason", reason)
				continue
			}
			filtered = append(filtered, r)
		}
		s.searches.Set(key, filtered)
		return filtered
	})
	if !ok {
		return []SearchResult{}
	}
	return v.([]SearchResult)
}

// FetchPage returns the readable text of pageURL, at most MaxChars runes.
// Invalid URLs and upstream failures yield "".
func (s *Service) FetchPage(ctx context.Context, pageURL string) string {
	pageURL = strings.TrimSpace(pageURL)
	if ok, reason := s.valid.Check(pageURL); !ok {
		slog.Debug("fetch rejected", "url", pageURL, "reason", reason)
		return ""
	}

	key := "page:" + pageURL
	if hit, ok := s.pages.Get(key, s.opts.PageTTL); ok {
		slog.Debug("page cache hit", "url", pageURL)
		return hit
	}

	v, ok := s.shared(ctx, key, func(ctx context.Context) any {
		p := s.policy
		p.Name = "fetch"
		content, ok := retry.Do(ctx, p, func(ctx context.Context) (string, error) {
			ctx, cancel := context.WithTimeout(ctx, s.opts.ReadTimeout)
			defer cancel()
			return s.reader.Read(ctx, pageURL)
		})
		if !ok {
			return ""
		}
		content = Truncate(content, s.opts.MaxChars)
		s.pages.Set(key, content)
		return content
	})
	if !ok {
		return ""
	}
	return v.(string)
}

// shared runs fn once per key across concurrent callers. fn gets a context
// detached from the caller's cancellation, so one caller giving up does not
// fail the others waiting on the same key. Each caller still returns as soon
// as its own ctx is done, with ok false.
func (s *Service) shared(ctx context.Context, key string, fn func(ctx context.Context) any) (any, bool) {
	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		return fn(detached), nil
	})
	select {
	case res := <-ch:
		return res.Val, true
	case <-ctx.Done():
		slog.Debug("caller gave up waiting", "key", key, "error", ctx.Err())
		return nil, false
	}
}

// Prune drops cache entries older than their TTL and returns how many were
// removed.
func (s *Service) Prune() int {
	return s.searches.Prune(s.opts.SearchTTL) + s.pages.Prune(s.opts.PageTTL)
}
