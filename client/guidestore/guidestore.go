// Package guidestore implements consilium.RetrievalClient over the indexed
// clinical guideline corpus, a Postgres database with pgvector embeddings.
// Search is semantic: the query term is embedded and matched against chunk
// embeddings by cosine distance.
package guidestore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/klinio/consilium"
)

const (
	defaultTopK        = 5
	defaultCallTimeout = 30 * time.Second
	healthTimeout      = 3 * time.Second
)

// Embedder turns text into vectors for semantic search. The dimension must
// match the corpus embeddings.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is a guideline corpus client backed by a pgx connection pool.
type Store struct {
	pool     *pgxpool.Pool
	embedder Embedder
	topK     int
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTopK sets how many chunks one search returns.
func WithTopK(n int) Option {
	return func(s *Store) { s.topK = n }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New connects to the corpus database at dsn.
func New(ctx context.Context, dsn string, embedder Embedder, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("guidestore: connect: %w", err)
	}
	s := &Store{
		pool:     pool,
		embedder: embedder,
		topK:     defaultTopK,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// CallTool supports a single tool, "search", with the query term in
// params["query"].
func (s *Store) CallTool(ctx context.Context, name string, params map[string]string) (consilium.ToolResult, error) {
	if name != "search" {
		return consilium.ToolResult{}, fmt.Errorf("guidestore: unknown tool %q", name)
	}
	query := params["query"]
	if query == "" {
		return consilium.ToolResult{Status: consilium.ToolEmpty}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		if ctx.Err() != nil {
			return consilium.ToolResult{Status: consilium.ToolTransient}, ctx.Err()
		}
		s.logger.Warn("query embedding failed", "error", err)
		return consilium.ToolResult{Status: consilium.ToolTransient}, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT c.content, c.document_id, d.title, d.issuer, d.url,
		       1 - (c.embedding <=> $1::vector) AS score
		FROM guideline_chunks c
		JOIN guideline_documents d ON d.id = c.document_id
		WHERE c.embedding IS NOT NULL
		ORDER BY c.embedding <=> $1::vector
		LIMIT $2`,
		serializeEmbedding(vecs[0]), s.topK)
	if err != nil {
		if ctx.Err() != nil {
			return consilium.ToolResult{Status: consilium.ToolTransient}, ctx.Err()
		}
		s.logger.Warn("guideline search failed", "error", err)
		return consilium.ToolResult{Status: consilium.ToolTransient}, nil
	}
	defer rows.Close()

	var records []consilium.Record
	for rows.Next() {
		var (
			content, docID, title, issuer, docURL string
			score                                 float64
		)
		if err := rows.Scan(&content, &docID, &title, &issuer, &docURL, &score); err != nil {
			return consilium.ToolResult{Status: consilium.ToolPermanent}, nil
		}
		meta := map[string]string{
			"document_id": docID,
			"title":       title,
			"score":       strconv.FormatFloat(score, 'f', 3, 64),
		}
		if issuer != "" {
			meta["issuer"] = issuer
		}
		if docURL != "" {
			meta["url"] = docURL
		}
		records = append(records, consilium.Record{Content: content, Meta: meta})
	}
	if rows.Err() != nil {
		return consilium.ToolResult{Status: consilium.ToolTransient}, nil
	}
	if len(records) == 0 {
		return consilium.ToolResult{Status: consilium.ToolEmpty}, nil
	}
	return consilium.ToolResult{
		Records: consilium.BoundRecords(records),
		Status:  consilium.ToolOK,
	}, nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) consilium.Health {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return consilium.HealthUnavailable
	}
	return consilium.HealthAvailable
}

// Close drains the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// serializeEmbedding renders a vector in pgvector's text format so it can be
// bound as $n::vector.
func serializeEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

var _ consilium.RetrievalClient = (*Store)(nil)
