package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"quorum/pkg/logx"
)

// HTTPSearchClient talks to a self-hosted search gateway (SearXNG or any
// endpoint speaking the same JSON shape) over plain HTTP.
type HTTPSearchClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *logx.Logger
}

// NewHTTPSearchClient creates a search client for the given gateway URL.
// apiKey may be empty for unauthenticated gateways.
func NewHTTPSearchClient(baseURL, apiKey string) *HTTPSearchClient {
	return &HTTPSearchClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logx.NewLogger("search"),
	}
}

// Name implements SearchClient.
func (c *HTTPSearchClient) Name() string { return "http-search" }

type searchResponse struct {
	Results []SearchHit `json:"results"`
}

// Search implements SearchClient.
func (c *HTTPSearchClient) Search(ctx context.Context, query string, filters SearchFilters, maxResults int) ([]SearchHit, error) {
	if c.baseURL == "" {
		return nil, NewError(c.Name(), "search", ErrorTypeAuth, ErrNotConfigured)
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	q := query
	if filters.Site != "" {
		q = fmt.Sprintf("site:%s %s", filters.Site, q)
	}
	params := url.Values{}
	params.Set("q", q)
	params.Set("format", "json")
	params.Set("count", strconv.Itoa(maxResults))
	if filters.Freshness != "" {
		params.Set("time_range", filters.Freshness)
	}

	reqURL := c.baseURL + "/search?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, NewError(c.Name(), "search", ErrorTypeBadPrompt, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug("GET %s/search q=%q max=%d", c.baseURL, query, maxResults)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NewError(c.Name(), "search", classify(err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		return nil, NewError(c.Name(), "search", classifyStatus(resp.StatusCode), err)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, NewError(c.Name(), "search", ErrorTypeTransient,
			fmt.Errorf("decode response: %w", err))
	}

	hits := parsed.Results
	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}
	return hits, nil
}

func classifyStatus(code int) ErrorType {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrorTypeAuth
	case code >= 500:
		return ErrorTypeTransient
	case code >= 400:
		return ErrorTypeBadPrompt
	default:
		return ErrorTypeUnknown
	}
}
