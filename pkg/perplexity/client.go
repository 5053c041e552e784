// Package perplexity is a minimal client for Perplexity's search-grounded
// chat completions.
package perplexity

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/opportunity-intel/internal/resilience"
)

const (
	defaultBaseURL = "https://api.perplexity.ai"
	defaultModel   = "sonar-pro"

	// Research answers should be reproducible across polls.
	searchTemperature = 0.1
)

// Recency windows accepted by SearchRequest.Recency.
const (
	RecencyDay   = "day"
	RecencyWeek  = "week"
	RecencyMonth = "month"
	RecencyYear  = "year"
)

// Client runs web-grounded searches.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// SearchRequest is one grounded question.
type SearchRequest struct {
	Model     string // empty uses the client's model
	System    string
	Prompt    string
	Recency   string // limits web results to a window; empty searches all
	MaxTokens int
}

// SearchResponse is the answer and the sources it was grounded on.
type SearchResponse struct {
	ID      string
	Model   string
	Text    string
	Sources []string
	Usage   Usage
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Recency     string    `json:"search_recency_filter,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Citations     []string `json:"citations"`
	SearchResults []struct {
		URL string `json:"url"`
	} `json:"search_results"`
	Usage Usage `json:"usage"`
}

// sources merges citations and search result URLs, first occurrence wins.
func (r *chatResponse) sources() []string {
	out := make([]string, 0, len(r.Citations)+len(r.SearchResults))
	add := func(u string) {
		if u != "" && !slices.Contains(out, u) {
			out = append(out, u)
		}
	}
	for _, c := range r.Citations {
		add(c)
	}
	for _, s := range r.SearchResults {
		add(s.URL)
	}
	return out
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the API base URL. Empty keeps the default.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithModel sets the model used when a request names none.
func WithModel(model string) Option {
	return func(c *httpClient) {
		if model != "" {
			c.model = model
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient replaces the http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

// NewClient creates a Perplexity client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	switch req.Recency {
	case "", RecencyDay, RecencyWeek, RecencyMonth, RecencyYear:
	default:
		return nil, eris.Errorf("perplexity: unknown recency %q", req.Recency)
	}

	body := chatRequest{
		Model:       req.Model,
		Temperature: searchTemperature,
		MaxTokens:   req.MaxTokens,
		Recency:     req.Recency,
	}
	if body.Model == "" {
		body.Model = c.model
	}
	if req.System != "" {
		body.Messages = append(body.Messages, message{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, message{Role: "user", Content: req.Prompt})

	raw, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
	}
	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, eris.Wrap(err, "perplexity: unmarshal response")
	}
	if len(cr.Choices) == 0 {
		return nil, eris.Errorf("perplexity: response %s has no choices", cr.ID)
	}
	return &SearchResponse{
		ID:      cr.ID,
		Model:   cr.Model,
		Text:    cr.Choices[0].Message.Content,
		Sources: cr.sources(),
		Usage:   cr.Usage,
	}, nil
}

// post sends v as JSON and returns the 200 response body. Other statuses
// surface as *resilience.StatusError.
func (c *httpClient) post(ctx context.Context, path string, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrap(resilience.NewStatusError("perplexity", resp, raw), "perplexity: search")
	}
	return raw, nil
}
