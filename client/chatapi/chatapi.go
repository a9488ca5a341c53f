// Package chatapi provides a consilium.ChatClient and guidestore.Embedder
// backed by any OpenAI-compatible API (OpenAI, OpenRouter, Groq, Ollama,
// vLLM, Azure OpenAI).
//
// Classify requests run at temperature 0 so routing decisions stay
// deterministic; Generate uses the configured sampling temperature.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/klinio/consilium"
)

const defaultTimeout = 60 * time.Second

// Client talks to an OpenAI-compatible chat completions and embeddings API.
type Client struct {
	apiKey      string
	model       string
	embedModel  string
	baseURL     string
	name        string
	temperature float64
	httpc       *http.Client
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithName overrides the reported provider name.
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithTemperature sets the sampling temperature for Generate calls.
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// WithEmbeddingModel sets the model used by Embed. Without it Embed fails.
func WithEmbeddingModel(model string) Option {
	return func(c *Client) { c.embedModel = model }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpc = hc }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client. baseURL is the API base, e.g.
// "https://api.openai.com/v1"; the endpoint paths are appended.
func New(apiKey, model, baseURL string, opts ...Option) *Client {
	c := &Client{
		apiKey:      apiKey,
		model:       model,
		baseURL:     baseURL,
		name:        "openai",
		temperature: 0.2,
		httpc:       &http.Client{Timeout: defaultTimeout},
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name returns the provider name.
func (c *Client) Name() string { return c.name }

// --- wire types ---

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Classify sends prompt and returns the raw completion text for the caller
// to parse. Temperature is pinned to zero.
func (c *Client) Classify(ctx context.Context, prompt string) (json.RawMessage, error) {
	zero := 0.0
	text, err := c.complete(ctx, prompt, &zero)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(text), nil
}

// Generate sends prompt and returns the completion text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, prompt, &c.temperature)
}

func (c *Client) complete(ctx context.Context, prompt string, temperature *float64) (string, error) {
	body := chatRequest{
		Model:       c.model,
		Messages:    []message{{Role: "user", Content: prompt}},
		Temperature: temperature,
	}

	var parsed chatResponse
	if err := c.post(ctx, "/chat/completions", body, &parsed); err != nil {
		return "", err
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("chatapi: %s: %s", parsed.Error.Type, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chatapi: empty response from %s", c.name)
	}
	return parsed.Choices[0].Message.Content, nil
}

// --- embeddings ---

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *apiError `json:"error,omitempty"`
}

// Embed returns one vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.embedModel == "" {
		return nil, fmt.Errorf("chatapi: no embedding model configured")
	}
	var parsed embedResponse
	if err := c.post(ctx, "/embeddings", embedRequest{Model: c.embedModel, Input: texts}, &parsed); err != nil {
		return nil, err
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("chatapi: %s: %s", parsed.Error.Type, parsed.Error.Message)
	}
	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("chatapi: embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// post marshals body, sends it, and decodes the 200 response into out.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("chatapi: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("chatapi: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &consilium.ErrHTTP{Status: resp.StatusCode, Body: string(b)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ consilium.ChatClient = (*Client)(nil)
