package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HealthChecker probes a backend for reachability without spending tokens.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// openAIBaseURL and geminiBaseURL are the public API roots probed by the
// OpenAI and Gemini health checks.
const (
	openAIBaseURL = "https://api.openai.com/v1"
	geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// NewHealthCheck returns a zero-cost probe for the selected backend, or nil
// when the backend has no cheap endpoint (callers then fall back to a
// single-token Generate). client defaults to one with a 5s timeout.
func NewHealthCheck(cfg *Config, client *http.Client) HealthChecker {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	switch cfg.Backend {
	case BackendOllama:
		return &httpCheck{client: client, url: strings.TrimRight(cfg.Ollama.Host, "/") + "/api/tags"}
	case BackendOpenAI:
		return &httpCheck{
			client: client,
			url:    openAIBaseURL + "/models/" + url.PathEscape(cfg.OpenAI.Model),
			header: http.Header{"Authorization": {"Bearer " + cfg.OpenAI.APIKey}},
		}
	case BackendAzure:
		return &httpCheck{
			client: client,
			url: strings.TrimRight(cfg.AzureOpenAI.Endpoint, "/") + "/openai/models?api-version=" +
				url.QueryEscape(cfg.AzureOpenAI.APIVersion),
			header: http.Header{"Api-Key": {cfg.AzureOpenAI.APIKey}},
		}
	case BackendGemini:
		return &httpCheck{
			client: client,
			url:    geminiBaseURL + "/models/" + url.PathEscape(cfg.Gemini.Model),
			header: http.Header{"X-Goog-Api-Key": {cfg.Gemini.APIKey}},
		}
	default:
		return nil
	}
}

// httpCheck is a GET that must answer 2xx.
type httpCheck struct {
	client *http.Client
	url    string
	header http.Header
}

// HealthCheck performs the GET and reports non-2xx responses as errors.
func (c *httpCheck) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("provider: health request: %w", err)
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: health check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("provider: health check: status %d", resp.StatusCode)
	}
	return nil
}
