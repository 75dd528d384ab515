// Package http exposes the guard over a JSON HTTP API: beginning and
// settling guarded operations, releasing locks, resetting attempt records,
// and querying recorded audit events.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"github.com/tokenguard/tokenguard"
	"github.com/tokenguard/tokenguard/store"
)

// maxBodyBytes caps request bodies well above any legitimate payload.
const maxBodyBytes = 1 << 20

// Server adapts a Guard to HTTP. Construct with NewServer and mount
// Handler on any mux or root listener.
type Server struct {
	guard    *tokenguard.Guard
	store    store.AuditStore
	logger   pslog.Logger
	clock    tokenguard.Clock
	inflight *inflightTable
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the request logger. Default: discard.
func WithLogger(logger pslog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAuditStore enables GET /v1/events against the given store.
func WithAuditStore(st store.AuditStore) ServerOption {
	return func(s *Server) {
		if st != nil {
			s.store = st
		}
	}
}

// WithServerClock sets the time source. Default: the wall clock.
func WithServerClock(clock tokenguard.Clock) ServerOption {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewServer creates an HTTP adapter around the guard.
func NewServer(guard *tokenguard.Guard, opts ...ServerOption) *Server {
	s := &Server{
		guard:  guard,
		logger: pslog.NoopLogger(),
		clock:  tokenguard.RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.inflight = newInflightTable(s.clock)
	return s
}

// Handler returns the route table wrapped in request-id and logging
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/operations", s.handleBeginOperation)
	mux.HandleFunc("POST /v1/operations/{id}/succeed", s.handleSettleOperation("succeeded"))
	mux.HandleFunc("POST /v1/operations/{id}/fail", s.handleSettleOperation("failed"))
	mux.HandleFunc("POST /v1/locks/release", s.handleReleaseLock)
	mux.HandleFunc("POST /v1/attempts/reset", s.handleResetAttempts)
	mux.HandleFunc("GET /v1/events", s.handleListEvents)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return s.middleware(mux)
}

// ==================== Middleware ====================

// responseWriter captures the status code for request logging.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// middleware stamps every response with a request id and logs the request.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)

		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(rw, r)

		s.logger.Debug("handled request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"durationMs", time.Since(started).Milliseconds(),
			"requestId", requestID,
		)
	})
}

// ==================== Response helpers ====================

type errorBody struct {
	Error *tokenguard.GuardError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders an HTTP-surface error in the guard error envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: tokenguard.NewGuardError(code, message, nil)})
}

// writeGuardError maps a guard error to its status and envelope, attaching
// Retry-After for throttle blocks so well-behaved clients back off.
func writeGuardError(w http.ResponseWriter, err error) {
	var guardErr *tokenguard.GuardError
	if !errors.As(err, &guardErr) {
		guardErr = tokenguard.NewGuardError(tokenguard.ErrCodeInternal, "internal error", nil)
	}
	if guardErr.Code == tokenguard.ErrCodeThrottled {
		if seconds, ok := guardErr.Details["retryAfterSeconds"].(int64); ok && seconds > 0 {
			w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
		}
	}
	writeJSON(w, tokenguard.HTTPStatus(guardErr), errorBody{Error: guardErr})
}
