package consilium

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Server exposes the gateway over HTTP: POST /consult (SSE) and GET /health.
type Server struct {
	gw     *Gateway
	agents map[string]Agent
	cache  Cache
	cors   []string
	logger *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithCORSOrigins sets the allowed CORS origins. Default is wildcard.
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) { s.cors = origins }
}

// WithServerLogger sets the structured logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithHealthCache lets /health report the cache backend's reachability.
func WithHealthCache(c Cache) ServerOption {
	return func(s *Server) { s.cache = c }
}

// NewServer creates a Server. agents is the registry consulted by /health.
func NewServer(gw *Gateway, agents map[string]Agent, opts ...ServerOption) *Server {
	s := &Server{gw: gw, agents: agents, cors: []string{"*"}, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed HTTP handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /consult", s.handleConsult)
	mux.HandleFunc("GET /health", s.handleHealth)
	return s.withHeaders(mux)
}

// withHeaders applies the fixed security headers and CORS policy to every
// response, and answers preflight requests.
func (s *Server) withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		if r.TLS != nil {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		if origin := s.corsOrigin(r.Header.Get("Origin")); origin != "" {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsOrigin(origin string) string {
	for _, o := range s.cors {
		if o == "*" {
			return "*"
		}
		if o == origin {
			return origin
		}
	}
	return ""
}

// handleConsult validates the request, then streams lifecycle events as SSE
// until the terminal event. A write failure or client disconnect cancels
// the workflow.
func (s *Server) handleConsult(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	var req ConsultRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	req.ClientAddr = clientAddr(r)
	req.RequestID = NewID()

	w.Header().Set("X-Request-ID", req.RequestID)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sse := func(status int) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Processing-Time-Ms", strconv.FormatInt(time.Since(started).Milliseconds(), 10))
		w.WriteHeader(status)
	}

	if terr := s.gw.Precheck(&req); terr != nil {
		// Rejected before any work: the stream is a single error event,
		// carried on the HTTP status matching the tag.
		sse(HTTPStatus(terr.Tag))
		s.writeEvent(w, flusher, Event{Kind: EventError, Err: terr})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sse(http.StatusOK)
	for ev := range s.gw.Consult(ctx, req) {
		if err := s.writeEvent(w, flusher, ev); err != nil {
			// Abandoned client: propagate cancellation to the workflow.
			s.logger.Info("client gone, cancelling workflow", "request_id", req.RequestID)
			cancel()
			return
		}
		if ev.Terminal() {
			return
		}
	}
}

// writeEvent serializes one SSE frame: event line, data line, blank line.
func (s *Server) writeEvent(w http.ResponseWriter, flusher http.Flusher, ev Event) error {
	data, err := ev.MarshalData()
	if err != nil {
		data = []byte("{}")
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// healthResponse is the GET /health body.
type healthResponse struct {
	Status    string            `json:"status"`
	Upstreams map[string]string `json:"upstreams"`
	Cache     string            `json:"cache"`
}

// handleHealth aggregates upstream health. Degraded iff any upstream is
// unavailable; the cache never degrades overall status on its own.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{Status: "healthy", Upstreams: make(map[string]string)}
	for name, agent := range s.agents {
		if name == AgentGeneral {
			continue
		}
		h := agent.Health(ctx)
		resp.Upstreams[name] = string(h)
		if h == HealthUnavailable {
			resp.Status = "degraded"
		}
	}

	switch {
	case s.cache == nil:
		resp.Cache = "unavailable"
	default:
		if err := s.cache.Ping(ctx); err != nil {
			resp.Cache = "error: " + err.Error()
		} else {
			resp.Cache = "available"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", NewID())
	w.Header().Set("X-Processing-Time-Ms", strconv.FormatInt(time.Since(started).Milliseconds(), 10))
	_ = json.NewEncoder(w).Encode(resp)
}

// clientAddr extracts the client network address used as the rate-limit
// key. The first X-Forwarded-For hop wins when present.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
