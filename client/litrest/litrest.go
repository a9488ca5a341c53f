// Package litrest implements consilium.RetrievalClient for the biomedical
// literature service, a PubMed-style REST API returning article abstracts.
package litrest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/klinio/consilium"
)

const (
	defaultCallTimeout = 30 * time.Second
	defaultPageSize    = 5
	healthTimeout      = 3 * time.Second
)

// Client queries the literature search endpoint.
type Client struct {
	baseURL  string
	apiKey   string
	pageSize int
	httpc    *http.Client
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithPageSize sets how many articles one search returns.
func WithPageSize(n int) Option {
	return func(c *Client) { c.pageSize = n }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpc = hc }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the literature service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  baseURL,
		pageSize: defaultPageSize,
		httpc:    &http.Client{Timeout: defaultCallTimeout},
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// article is the wire shape of one search hit.
type article struct {
	PMID     string `json:"pmid"`
	Title    string `json:"title"`
	Abstract string `json:"abstract"`
	Journal  string `json:"journal"`
	Year     int    `json:"year"`
	URL      string `json:"url"`
}

// CallTool supports a single tool, "search". The query term rides in
// params["term"]; any other params become URL filters verbatim
// (year_from, publication_type, ...).
func (c *Client) CallTool(ctx context.Context, name string, params map[string]string) (consilium.ToolResult, error) {
	if name != "search" {
		return consilium.ToolResult{}, fmt.Errorf("litrest: unknown tool %q", name)
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.pageSize))
	for k, v := range params {
		q.Set(k, v)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/articles/search?"+q.Encode(), nil)
	if err != nil {
		return consilium.ToolResult{Status: consilium.ToolPermanent}, nil
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return consilium.ToolResult{Status: consilium.ToolTransient}, ctx.Err()
		}
		c.logger.Warn("literature search failed", "error", err)
		return consilium.ToolResult{Status: consilium.ToolTransient}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		status := consilium.ToolPermanent
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			status = consilium.ToolTransient
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Warn("literature search rejected", "status", resp.StatusCode, "body", string(body))
		return consilium.ToolResult{Status: status}, nil
	}

	var parsed struct {
		Articles []article `json:"articles"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, consilium.MaxToolPayload+4096)).Decode(&parsed); err != nil {
		return consilium.ToolResult{Status: consilium.ToolPermanent}, nil
	}
	if len(parsed.Articles) == 0 {
		return consilium.ToolResult{Status: consilium.ToolEmpty}, nil
	}

	records := make([]consilium.Record, 0, len(parsed.Articles))
	for _, a := range parsed.Articles {
		content := a.Title
		if a.Abstract != "" {
			content += "\n\n" + a.Abstract
		}
		meta := map[string]string{"pmid": a.PMID}
		if a.Journal != "" {
			meta["journal"] = a.Journal
		}
		if a.Year > 0 {
			meta["year"] = strconv.Itoa(a.Year)
		}
		if a.URL != "" {
			meta["url"] = a.URL
		}
		records = append(records, consilium.Record{Content: content, Meta: meta})
	}
	return consilium.ToolResult{
		Records: consilium.BoundRecords(records),
		Status:  consilium.ToolOK,
	}, nil
}

// HealthCheck probes the service's ping endpoint.
func (c *Client) HealthCheck(ctx context.Context) consilium.Health {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ping", nil)
	if err != nil {
		return consilium.HealthUnavailable
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return consilium.HealthUnavailable
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return consilium.HealthDegraded
	}
	return consilium.HealthAvailable
}

// Close releases idle transport connections.
func (c *Client) Close() error {
	c.httpc.CloseIdleConnections()
	return nil
}

var _ consilium.RetrievalClient = (*Client)(nil)
