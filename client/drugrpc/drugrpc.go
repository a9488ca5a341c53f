// Package drugrpc implements consilium.RetrievalClient for the
// pharmaceutical registry, which speaks JSON-RPC 2.0 over HTTP.
//
// Request identifiers are generated lock-free from an atomic counter, so
// the client is safe for heavy concurrent use without serializing calls.
package drugrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/klinio/consilium"
)

// Tool-name to RPC-method mapping. Closed set; anything else is a
// programming error on the caller's side.
var methods = map[string]string{
	"search":        "registry.search",
	"details":       "registry.details",
	"reimbursement": "registry.reimbursement",
}

const (
	defaultCallTimeout = 30 * time.Second
	healthTimeout      = 3 * time.Second
)

// Client is a JSON-RPC 2.0 registry client.
type Client struct {
	endpoint string
	httpc    *http.Client
	timeout  time.Duration
	logger   *slog.Logger
	nextID   atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests, custom TLS).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpc = c }
}

// WithCallTimeout overrides the per-call deadline ceiling.
func WithCallTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New creates a Client for the registry at endpoint.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		httpc:    &http.Client{Timeout: defaultCallTimeout},
		timeout:  defaultCallTimeout,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// --- JSON-RPC 2.0 wire types ---

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// registryResult is the result shape shared by all registry methods.
type registryResult struct {
	Records []struct {
		Content string            `json:"content"`
		Meta    map[string]string `json:"meta"`
	} `json:"records"`
}

// CallTool invokes a registry method. Transport-level outcomes land in the
// ToolResult status: connection failures, 429 and 5xx are transient; RPC
// errors and other HTTP statuses are permanent.
func (c *Client) CallTool(ctx context.Context, name string, params map[string]string) (consilium.ToolResult, error) {
	method, ok := methods[name]
	if !ok {
		return consilium.ToolResult{}, fmt.Errorf("drugrpc: unknown tool %q", name)
	}

	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	resp, status, err := c.call(ctx, method, params)
	if err != nil {
		if ctx.Err() != nil {
			return consilium.ToolResult{Status: consilium.ToolTransient}, ctx.Err()
		}
		c.logger.Warn("registry call failed", "method", method, "error", err)
		return consilium.ToolResult{Status: status}, nil
	}

	var parsed registryResult
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return consilium.ToolResult{Status: consilium.ToolPermanent}, nil
	}
	if len(parsed.Records) == 0 {
		return consilium.ToolResult{Status: consilium.ToolEmpty}, nil
	}
	records := make([]consilium.Record, 0, len(parsed.Records))
	for _, r := range parsed.Records {
		records = append(records, consilium.Record{Content: r.Content, Meta: r.Meta})
	}
	return consilium.ToolResult{
		Records: consilium.BoundRecords(records),
		Status:  consilium.ToolOK,
	}, nil
}

// call performs one JSON-RPC exchange. The returned status classifies the
// failure when err is non-nil.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, consilium.ToolStatus, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, consilium.ToolPermanent, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, consilium.ToolPermanent, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpc.Do(req)
	if err != nil {
		return nil, consilium.ToolTransient, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		status := consilium.ToolPermanent
		if httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500 {
			status = consilium.ToolTransient
		}
		b, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1024))
		return nil, status, &consilium.ErrHTTP{Status: httpResp.StatusCode, Body: string(b)}
	}

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, consilium.MaxToolPayload+4096))
	if err != nil {
		return nil, consilium.ToolTransient, err
	}
	var parsed rpcResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, consilium.ToolPermanent, err
	}
	if parsed.Error != nil {
		return nil, consilium.ToolPermanent, fmt.Errorf("rpc %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	return parsed.Result, consilium.ToolOK, nil
}

// HealthCheck pings the registry with a system.ping RPC.
func (c *Client) HealthCheck(ctx context.Context) consilium.Health {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	_, status, err := c.call(ctx, "system.ping", nil)
	switch {
	case err == nil:
		return consilium.HealthAvailable
	case status == consilium.ToolTransient:
		return consilium.HealthUnavailable
	default:
		// The endpoint answered, just not the way we hoped.
		return consilium.HealthDegraded
	}
}

// Close releases idle transport connections.
func (c *Client) Close() error {
	c.httpc.CloseIdleConnections()
	return nil
}

// withDeadline caps ctx at the client's call timeout unless the caller's
// deadline is already earlier.
func (c *Client) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if existing, ok := ctx.Deadline(); ok && time.Until(existing) < c.timeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

var _ consilium.RetrievalClient = (*Client)(nil)
