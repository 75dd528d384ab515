package http

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/tokenguard/tokenguard"
	"github.com/tokenguard/tokenguard/schema"
	"github.com/tokenguard/tokenguard/store"
)

// ==================== Operations ====================

// BeginOperationRequest is the body of POST /v1/operations.
type BeginOperationRequest struct {
	Identity   string          `json:"identity"`
	Kind       string          `json:"kind"`
	FailureKey string          `json:"failureKey,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// OperationResponse is the body returned for an admitted operation.
type OperationResponse struct {
	OperationID string               `json:"operationId"`
	Identity    string               `json:"identity"`
	Kind        string               `json:"kind"`
	Warnings    []tokenguard.Warning `json:"warnings,omitempty"`
	ExpiresAt   time.Time            `json:"expiresAt"`
}

func (s *Server) handleBeginOperation(w http.ResponseWriter, r *http.Request) {
	var req BeginOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, tokenguard.ErrCodeInvalidPayload,
			fmt.Sprintf("malformed request body: %v", err))
		return
	}

	kind, err := tokenguard.ParseOperationKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, tokenguard.ErrCodeInvalidPayload, err.Error())
		return
	}

	// The schema gate rejects malformed documents before the pipeline sees
	// them; pipeline findings on a well-formed payload are advisory.
	var payload *tokenguard.AssetPayload
	if len(req.Payload) > 0 && string(req.Payload) != "null" {
		parsed, err := schema.ParsePayload(req.Payload)
		if err != nil {
			writeGuardError(w, err)
			return
		}
		payload = &parsed
	}

	op, err := s.guard.Begin(r.Context(), tokenguard.OperationRequest{
		Identity:   req.Identity,
		Kind:       kind,
		Payload:    payload,
		FailureKey: req.FailureKey,
	})
	if err != nil {
		if tokenguard.IsContention(err) {
			s.setContentionRetryAfter(w, req.Identity, kind)
		}
		writeGuardError(w, err)
		return
	}

	s.inflight.register(op)
	writeJSON(w, http.StatusOK, OperationResponse{
		OperationID: op.ID,
		Identity:    op.Identity,
		Kind:        string(op.Kind),
		Warnings:    op.Warnings,
		ExpiresAt:   op.ExpiresAt,
	})
}

// SettleResponse acknowledges an outcome recording.
type SettleResponse struct {
	OperationID    string `json:"operationId"`
	Outcome        string `json:"outcome"`
	AlreadySettled bool   `json:"alreadySettled,omitempty"`
}

// handleSettleOperation resolves an in-flight operation by id. Settling is
// idempotent: repeated calls after the first are acknowledged no-ops.
func (s *Server) handleSettleOperation(outcome string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		op, ok := s.inflight.get(id)
		if !ok {
			writeError(w, http.StatusNotFound, tokenguard.ErrCodeInvalidPayload,
				fmt.Sprintf("unknown or expired operation %q", id))
			return
		}

		already := op.Settled()
		if !already {
			switch outcome {
			case "succeeded":
				op.Succeed()
			default:
				op.Fail()
			}
		}
		writeJSON(w, http.StatusOK, SettleResponse{
			OperationID:    id,
			Outcome:        outcome,
			AlreadySettled: already,
		})
	}
}

// setContentionRetryAfter derives Retry-After from the holder's remaining
// TTL so a retrying client knows the worst-case wait.
func (s *Server) setContentionRetryAfter(w http.ResponseWriter, identity string, kind tokenguard.OperationKind) {
	normalized, err := s.guard.NormalizeIdentity(identity)
	if err != nil {
		return
	}
	lock, ok := s.guard.Locks().Get(normalized, kind)
	if !ok {
		return
	}
	remaining := lock.ExpiresAt.Sub(s.clock.Now())
	if remaining <= 0 {
		return
	}
	seconds := int64(math.Ceil(remaining.Seconds()))
	w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
}

// ==================== Locks and attempts ====================

// ReleaseLockRequest is the body of POST /v1/locks/release.
type ReleaseLockRequest struct {
	Identity string `json:"identity"`
	Kind     string `json:"kind"`
}

// ReleaseLockResponse reports whether a lock existed for the key.
type ReleaseLockResponse struct {
	Identity string `json:"identity"`
	Kind     string `json:"kind"`
	Released bool   `json:"released"`
}

func (s *Server) handleReleaseLock(w http.ResponseWriter, r *http.Request) {
	var req ReleaseLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, tokenguard.ErrCodeInvalidPayload,
			fmt.Sprintf("malformed request body: %v", err))
		return
	}
	kind, err := tokenguard.ParseOperationKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, tokenguard.ErrCodeInvalidPayload, err.Error())
		return
	}
	identity, err := s.guard.NormalizeIdentity(req.Identity)
	if err != nil {
		writeError(w, http.StatusBadRequest, tokenguard.ErrCodeInvalidPayload,
			fmt.Sprintf("invalid identity: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, ReleaseLockResponse{
		Identity: identity,
		Kind:     string(kind),
		Released: s.guard.Release(identity, kind),
	})
}

// ResetAttemptsRequest is the body of POST /v1/attempts/reset.
type ResetAttemptsRequest struct {
	Identifier string `json:"identifier"`
}

// ResetAttemptsResponse reports whether a failure record existed.
type ResetAttemptsResponse struct {
	Identifier string `json:"identifier"`
	Reset      bool   `json:"reset"`
}

func (s *Server) handleResetAttempts(w http.ResponseWriter, r *http.Request) {
	var req ResetAttemptsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, tokenguard.ErrCodeInvalidPayload,
			fmt.Sprintf("malformed request body: %v", err))
		return
	}
	if req.Identifier == "" {
		writeError(w, http.StatusBadRequest, tokenguard.ErrCodeInvalidPayload, "identifier is required")
		return
	}

	writeJSON(w, http.StatusOK, ResetAttemptsResponse{
		Identifier: req.Identifier,
		Reset:      s.guard.Reset(req.Identifier),
	})
}

// ==================== Events and status ====================

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, tokenguard.ErrCodeInvalidPayload, "no audit store configured")
		return
	}

	filter := store.EventFilter{
		Identity: r.URL.Query().Get("identity"),
		Kind:     tokenguard.EventKind(r.URL.Query().Get("kind")),
	}
	if since := r.URL.Query().Get("since"); since != "" {
		at, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, tokenguard.ErrCodeInvalidPayload,
				fmt.Sprintf("invalid since parameter: %v", err))
			return
		}
		filter.Since = at
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, tokenguard.ErrCodeInvalidPayload, "invalid limit parameter")
			return
		}
		filter.Limit = n
	}

	events, err := s.store.ListEvents(r.Context(), filter)
	if err != nil {
		s.logger.Error("list events failed", "error", err)
		writeError(w, http.StatusInternalServerError, tokenguard.ErrCodeInternal, "event query failed")
		return
	}
	total, err := s.store.CountEvents(r.Context(), filter)
	if err != nil {
		s.logger.Error("count events failed", "error", err)
		writeError(w, http.StatusInternalServerError, tokenguard.ErrCodeInternal, "event query failed")
		return
	}

	writeJSON(w, http.StatusOK, EventListResponse{Events: events, Total: total})
}

// EventListResponse is a page of audit events plus the unpaged match count.
type EventListResponse struct {
	Events []tokenguard.Event `json:"events"`
	Total  int64              `json:"total"`
}

// StatusResponse reports table sizes and effective limits.
type StatusResponse struct {
	LocksHeld            int   `json:"locksHeld"`
	LockTTLSeconds       int64 `json:"lockTtlSeconds"`
	AttemptRecords       int   `json:"attemptRecords"`
	MaxAttempts          int   `json:"maxAttempts"`
	AttemptWindowSeconds int64 `json:"attemptWindowSeconds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		LocksHeld:            s.guard.Locks().Len(),
		LockTTLSeconds:       int64(s.guard.Locks().TTL() / time.Second),
		AttemptRecords:       s.guard.Attempts().Len(),
		MaxAttempts:          s.guard.Attempts().MaxAttempts(),
		AttemptWindowSeconds: int64(s.guard.Attempts().Window() / time.Second),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
