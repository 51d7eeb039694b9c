package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	defaultJinaURL = "https://r.jina.ai"
	// maxReadBytes bounds how much of an upstream body is read.
	maxReadBytes = 4 << 20
)

// Jina is a Reader backed by the Jina Reader API, which renders a page and
// returns it as plain text with image and link summaries.
type Jina struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewJina creates a Jina Reader client. The API key is optional.
func NewJina(apiKey, baseURL string, httpClient *http.Client) *Jina {
	if baseURL == "" {
		baseURL = defaultJinaURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Jina{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (j *Jina) Read(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.baseURL+"/"+pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating reader request: %w", err)
	}
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("X-With-Images-Summary", "true")
	req.Header.Set("X-With-Links-Summary", "true")
	if j.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+j.apiKey)
	}

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing reader request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("jina", resp); err != nil {
		return "", err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		return "", fmt.Errorf("reading reader response: %w", err)
	}
	return string(data), nil
}
