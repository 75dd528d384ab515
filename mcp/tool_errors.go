package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tokenguard/tokenguard"
)

// toolErrorEnvelope is the structured error surface agents branch on.
type toolErrorEnvelope struct {
	ErrorCode         string                 `json:"error_code"`
	Detail            string                 `json:"detail,omitempty"`
	Retryable         bool                   `json:"retryable"`
	HTTPStatus        int                    `json:"http_status,omitempty"`
	RetryAfterSeconds int64                  `json:"retry_after_seconds,omitempty"`
	Details           map[string]interface{} `json:"details,omitempty"`
}

// withGuardToolErrors converts handler errors into the structured envelope so
// every tool fails the same way.
func withGuardToolErrors[In, Out any](h mcpsdk.ToolHandlerFor[In, Out]) mcpsdk.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input In) (*mcpsdk.CallToolResult, Out, error) {
		res, out, err := h(ctx, req, input)
		if err == nil {
			return res, out, nil
		}
		var zero Out
		return nil, zero, toolError{Envelope: classifyToolError(err)}
	}
}

type toolError struct {
	Envelope toolErrorEnvelope
}

func (e toolError) Error() string {
	envelope := map[string]interface{}{"error": e.Envelope}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return `{"error":{"error_code":"tool_error","detail":"failed to encode error envelope"}}`
	}
	return string(encoded)
}

func classifyToolError(err error) toolErrorEnvelope {
	env := toolErrorEnvelope{ErrorCode: "tool_error", Detail: strings.TrimSpace(err.Error())}
	var guardErr *tokenguard.GuardError
	if errors.As(err, &guardErr) {
		env.ErrorCode = guardErr.Code
		env.Detail = guardErr.Message
		env.HTTPStatus = tokenguard.HTTPStatus(guardErr)
		env.Details = guardErr.Details
		if seconds, ok := guardErr.Details["retryAfterSeconds"].(int64); ok && seconds > 0 {
			env.RetryAfterSeconds = seconds
		}
		switch guardErr.Code {
		case tokenguard.ErrCodeContention, tokenguard.ErrCodeThrottled:
			env.Retryable = true
		}
		return env
	}
	lower := strings.ToLower(env.Detail)
	switch {
	case strings.Contains(lower, "required"),
		strings.Contains(lower, "must be"),
		strings.Contains(lower, "invalid"):
		env.ErrorCode = "invalid_argument"
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline"):
		env.ErrorCode = "timeout"
		env.Retryable = true
	}
	return env
}
