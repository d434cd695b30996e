// Package api exposes the HTTP surface: knowledge-base management, search,
// generation control, and the SSE stream endpoint.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ServerConfig contains everything needed to build the API server.
type ServerConfig struct {
	Logger       *slog.Logger
	Knowledge    KnowledgeService  // Required
	Orchestrator GenerationStarter // Required
	Jobs         JobGetter         // Required
	Relay        Relayer           // Required
	Pool         *pgxpool.Pool     // Optional: nil disables DB ping in /ready
	StreamSecret []byte            // Required: 32+ bytes, signs stream tokens
	CORSOrigins  []string
	TrustProxy   bool
	RateBurst    int // 0 = default 60
	IsDev        bool
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the server with all routes and middleware configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Knowledge == nil {
		return nil, errors.New("knowledge service is required")
	}
	if cfg.Orchestrator == nil || cfg.Jobs == nil || cfg.Relay == nil {
		return nil, errors.New("generation orchestrator, job store, and relay are required")
	}
	if len(cfg.StreamSecret) < 32 {
		return nil, errors.New("stream secret must be at least 32 bytes")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	kh := &knowledgeHandler{service: cfg.Knowledge, logger: logger}
	gh := &generationHandler{
		orchestrator: cfg.Orchestrator,
		jobs:         cfg.Jobs,
		relay:        cfg.Relay,
		streamSecret: cfg.StreamSecret,
		logger:       logger,
	}

	mux := http.NewServeMux()

	// Knowledge bases
	mux.HandleFunc("POST /api/v1/knowledge-bases/{kbID}/documents", kh.ingest)
	mux.HandleFunc("GET /api/v1/knowledge-bases/{kbID}/documents", kh.listDocuments)
	mux.HandleFunc("DELETE /api/v1/knowledge-bases/{kbID}/documents/{docID}", kh.deleteDocument)
	mux.HandleFunc("POST /api/v1/knowledge-bases/{kbID}/search", kh.search)
	mux.HandleFunc("PUT /api/v1/knowledge-bases/{kbID}/chunks/{chunkID}", kh.updateChunk)
	mux.HandleFunc("DELETE /api/v1/knowledge-bases/{kbID}", kh.deleteKnowledgeBase)

	// Generation
	mux.HandleFunc("POST /api/v1/generation/start", gh.start)
	mux.HandleFunc("GET /api/v1/generation/stream", gh.stream)
	mux.HandleFunc("GET /api/v1/generation/{id}/download", gh.download)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID precedes Logging so request_id is available in log
	// attributes; CORS precedes RateLimit so preflight OPTIONS gets CORS
	// headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	// A top-level mux keeps health probes outside the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
