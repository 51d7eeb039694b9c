// Package web is the only way the assistant reaches the outside web: a
// cached, validated search and a cached, validated page reader.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/kalambet/chatcommerce/internal/retry"
)

// ErrMissingCredentials is returned by upstream clients configured without
// the key they require.
var ErrMissingCredentials = errors.New("missing credentials")

// SearchResult is one hit returned by the search API.
type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// Searcher queries a web search API.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// Reader turns a page URL into readable text.
type Reader interface {
	Read(ctx context.Context, pageURL string) (string, error)
}

// statusError is returned for non-2xx upstream responses.
type statusError struct {
	upstream string
	status   int
	body     string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d: %s", e.upstream, e.status, e.body)
}

// checkStatus turns a non-2xx response into an error. Client errors other
// than 408 and 429 are permanent.
func checkStatus(upstream string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := &statusError{upstream: upstream, status: resp.StatusCode, body: string(body)}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		return retry.Permanent(err)
	}
	return err
}

// Truncate cuts s to at most maxChars runes. maxChars <= 0 disables the cap.
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxChars])
}
