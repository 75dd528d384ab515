package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tokenguard/tokenguard"
	"github.com/tokenguard/tokenguard/schema"
	"github.com/tokenguard/tokenguard/store"
)

// ==================== guard.status ====================

type guardStatusToolInput struct{}

type guardStatusToolOutput struct {
	LocksHeld            int   `json:"locks_held"`
	AttemptRecords       int   `json:"attempt_records"`
	LockTTLSeconds       int64 `json:"lock_ttl_seconds"`
	MaxAttempts          int   `json:"max_attempts"`
	AttemptWindowSeconds int64 `json:"attempt_window_seconds"`
}

func (s *Server) handleGuardStatusTool(_ context.Context, _ *mcpsdk.CallToolRequest, _ guardStatusToolInput) (*mcpsdk.CallToolResult, guardStatusToolOutput, error) {
	return nil, guardStatusToolOutput{
		LocksHeld:            s.guard.Locks().Len(),
		AttemptRecords:       s.guard.Attempts().Len(),
		LockTTLSeconds:       int64(s.guard.Locks().TTL() / time.Second),
		MaxAttempts:          s.guard.Attempts().MaxAttempts(),
		AttemptWindowSeconds: int64(s.guard.Attempts().Window() / time.Second),
	}, nil
}

// ==================== guard.lock.acquire / guard.lock.release ====================

type lockAcquireToolInput struct {
	Identity string `json:"identity" jsonschema:"Wallet identity to lock"`
	Kind     string `json:"kind" jsonschema:"Operation kind: validation, issuance, or transaction"`
}

type lockAcquireToolOutput struct {
	Acquired      bool   `json:"acquired"`
	Identity      string `json:"identity"`
	Kind          string `json:"kind"`
	ExpiresAtUnix int64  `json:"expires_at_unix,omitempty"`
}

func (s *Server) handleLockAcquireTool(_ context.Context, _ *mcpsdk.CallToolRequest, input lockAcquireToolInput) (*mcpsdk.CallToolResult, lockAcquireToolOutput, error) {
	identity, kind, err := s.resolveSlot(input.Identity, input.Kind)
	if err != nil {
		return nil, lockAcquireToolOutput{}, err
	}

	acquired := s.guard.Acquire(identity, kind)
	out := lockAcquireToolOutput{
		Acquired: acquired,
		Identity: identity,
		Kind:     string(kind),
	}
	// Report the slot's expiry either way: the fresh lock's on success, the
	// current holder's on contention.
	if lock, ok := s.guard.Locks().Get(identity, kind); ok {
		out.ExpiresAtUnix = lock.ExpiresAt.Unix()
	}
	s.logger.Debug("mcp lock acquire", "identity", identity, "kind", string(kind), "acquired", acquired)
	return nil, out, nil
}

type lockReleaseToolInput struct {
	Identity string `json:"identity" jsonschema:"Wallet identity holding the lock"`
	Kind     string `json:"kind" jsonschema:"Operation kind: validation, issuance, or transaction"`
}

type lockReleaseToolOutput struct {
	Released bool   `json:"released"`
	Identity string `json:"identity"`
	Kind     string `json:"kind"`
}

func (s *Server) handleLockReleaseTool(_ context.Context, _ *mcpsdk.CallToolRequest, input lockReleaseToolInput) (*mcpsdk.CallToolResult, lockReleaseToolOutput, error) {
	identity, kind, err := s.resolveSlot(input.Identity, input.Kind)
	if err != nil {
		return nil, lockReleaseToolOutput{}, err
	}

	released := s.guard.Release(identity, kind)
	s.logger.Debug("mcp lock release", "identity", identity, "kind", string(kind), "released", released)
	return nil, lockReleaseToolOutput{
		Released: released,
		Identity: identity,
		Kind:     string(kind),
	}, nil
}

// resolveSlot parses the kind and normalizes the identity, reporting either
// problem as an invalid payload.
func (s *Server) resolveSlot(rawIdentity, rawKind string) (string, tokenguard.OperationKind, error) {
	if strings.TrimSpace(rawIdentity) == "" {
		return "", "", tokenguard.NewGuardError(tokenguard.ErrCodeInvalidPayload, "identity is required", nil)
	}
	kind, err := tokenguard.ParseOperationKind(rawKind)
	if err != nil {
		return "", "", tokenguard.NewGuardError(tokenguard.ErrCodeInvalidPayload, err.Error(), nil)
	}
	identity, err := s.guard.NormalizeIdentity(rawIdentity)
	if err != nil {
		return "", "", tokenguard.NewGuardError(tokenguard.ErrCodeInvalidPayload,
			fmt.Sprintf("invalid identity: %v", err), nil)
	}
	return identity, kind, nil
}

// ==================== guard.attempts.reset ====================

type attemptsResetToolInput struct {
	Identifier string `json:"identifier" jsonschema:"Failure identifier to clear, usually the normalized identity"`
}

type attemptsResetToolOutput struct {
	Reset      bool   `json:"reset"`
	Identifier string `json:"identifier"`
}

func (s *Server) handleAttemptsResetTool(_ context.Context, _ *mcpsdk.CallToolRequest, input attemptsResetToolInput) (*mcpsdk.CallToolResult, attemptsResetToolOutput, error) {
	identifier := strings.TrimSpace(input.Identifier)
	if identifier == "" {
		return nil, attemptsResetToolOutput{}, tokenguard.NewGuardError(
			tokenguard.ErrCodeInvalidPayload, "identifier is required", nil)
	}

	reset := s.guard.Reset(identifier)
	s.logger.Debug("mcp attempts reset", "identifier", identifier, "reset", reset)
	return nil, attemptsResetToolOutput{Reset: reset, Identifier: identifier}, nil
}

// ==================== guard.payload.validate ====================

type payloadValidateToolInput struct {
	Payload json.RawMessage `json:"payload" jsonschema:"Asset payload document to validate"`
}

type payloadValidateToolOutput struct {
	SchemaValid bool                      `json:"schema_valid"`
	Violations  map[string]interface{}    `json:"violations,omitempty"`
	Warnings    []tokenguard.Warning      `json:"warnings,omitempty"`
	Failures    []tokenguard.CheckFailure `json:"failures,omitempty"`
}

func (s *Server) handlePayloadValidateTool(ctx context.Context, _ *mcpsdk.CallToolRequest, input payloadValidateToolInput) (*mcpsdk.CallToolResult, payloadValidateToolOutput, error) {
	if len(input.Payload) == 0 {
		return nil, payloadValidateToolOutput{}, tokenguard.NewGuardError(
			tokenguard.ErrCodeInvalidPayload, "payload is required", nil)
	}

	if err := schema.ValidatePayload(input.Payload); err != nil {
		var guardErr *tokenguard.GuardError
		if errors.As(err, &guardErr) {
			// Schema violations are the tool's answer, not a tool failure.
			return nil, payloadValidateToolOutput{
				SchemaValid: false,
				Violations:  guardErr.Details,
			}, nil
		}
		return nil, payloadValidateToolOutput{}, err
	}

	payload, err := schema.ParsePayload(input.Payload)
	if err != nil {
		return nil, payloadValidateToolOutput{}, err
	}

	report := s.guard.Validate(ctx, payload)
	return nil, payloadValidateToolOutput{
		SchemaValid: true,
		Warnings:    report.Warnings,
		Failures:    report.Failures,
	}, nil
}

// ==================== guard.events.list ====================

type eventsListToolInput struct {
	Identity string `json:"identity,omitempty" jsonschema:"Only events attributed to this identity"`
	Kind     string `json:"kind,omitempty" jsonschema:"Only events of this kind, for example RATE_LIMIT_EXCEEDED"`
	Since    string `json:"since,omitempty" jsonschema:"Only events at or after this RFC 3339 timestamp"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum events to return"`
}

type eventsListToolOutput struct {
	Events []tokenguard.Event `json:"events"`
	Total  int64              `json:"total"`
}

func (s *Server) handleEventsListTool(ctx context.Context, _ *mcpsdk.CallToolRequest, input eventsListToolInput) (*mcpsdk.CallToolResult, eventsListToolOutput, error) {
	if s.store == nil {
		return nil, eventsListToolOutput{}, tokenguard.NewGuardError(
			"store_not_configured", "no audit store configured", nil)
	}
	if input.Limit < 0 {
		return nil, eventsListToolOutput{}, tokenguard.NewGuardError(
			tokenguard.ErrCodeInvalidPayload, "limit must be zero or positive", nil)
	}

	filter := store.EventFilter{
		Identity: strings.TrimSpace(input.Identity),
		Kind:     tokenguard.EventKind(strings.TrimSpace(input.Kind)),
		Limit:    input.Limit,
	}
	if since := strings.TrimSpace(input.Since); since != "" {
		at, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return nil, eventsListToolOutput{}, tokenguard.NewGuardError(
				tokenguard.ErrCodeInvalidPayload,
				fmt.Sprintf("invalid since timestamp: %v", err), nil)
		}
		filter.Since = at
	}

	events, err := s.store.ListEvents(ctx, filter)
	if err != nil {
		return nil, eventsListToolOutput{}, err
	}
	total, err := s.store.CountEvents(ctx, filter)
	if err != nil {
		return nil, eventsListToolOutput{}, err
	}
	if events == nil {
		events = []tokenguard.Event{}
	}
	return nil, eventsListToolOutput{Events: events, Total: total}, nil
}
