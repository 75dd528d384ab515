package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tokenguard/tokenguard"
	"github.com/tokenguard/tokenguard/store"
)

// defaultClientTimeout bounds every request when the caller does not bring
// its own http.Client.
const defaultClientTimeout = 10 * time.Second

// Client is a typed client for the guard HTTP API, for collaborators that
// talk to a remote guardd instead of embedding the Guard. Guard errors
// returned by the server are rebuilt as *tokenguard.GuardError, so
// tokenguard.IsContention and tokenguard.IsThrottled work on remote calls
// the same way they do on local ones.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Default: a fresh
// client with a 10-second timeout.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a client for the guard API served at baseURL
// (scheme://host[:port], no trailing path).
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultClientTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BeginOperationParams describes an operation to admit through a remote
// guard. Identity and Kind are required; Payload and FailureKey are
// forwarded when set.
type BeginOperationParams struct {
	Identity   string
	Kind       tokenguard.OperationKind
	FailureKey string
	Payload    *tokenguard.AssetPayload
}

// BeginOperation asks the remote guard to admit an operation. On contention
// or throttling the returned error is a *tokenguard.GuardError carrying the
// server's code, details, and any Retry-After hint.
func (c *Client) BeginOperation(ctx context.Context, params BeginOperationParams) (*OperationResponse, error) {
	body := BeginOperationRequest{
		Identity:   params.Identity,
		Kind:       string(params.Kind),
		FailureKey: params.FailureKey,
	}
	if params.Payload != nil {
		raw, err := json.Marshal(params.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body.Payload = raw
	}

	var resp OperationResponse
	if err := c.post(ctx, "/v1/operations", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SucceedOperation records a success outcome for a begun operation.
func (c *Client) SucceedOperation(ctx context.Context, operationID string) (*SettleResponse, error) {
	return c.settle(ctx, operationID, "succeed")
}

// FailOperation records a failure outcome for a begun operation.
func (c *Client) FailOperation(ctx context.Context, operationID string) (*SettleResponse, error) {
	return c.settle(ctx, operationID, "fail")
}

func (c *Client) settle(ctx context.Context, operationID, outcome string) (*SettleResponse, error) {
	if strings.TrimSpace(operationID) == "" {
		return nil, fmt.Errorf("operation id is required")
	}
	var resp SettleResponse
	path := fmt.Sprintf("/v1/operations/%s/%s", url.PathEscape(operationID), outcome)
	if err := c.post(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReleaseLock force-releases the lock for an (identity, kind) pair and
// reports whether one existed.
func (c *Client) ReleaseLock(ctx context.Context, identity string, kind tokenguard.OperationKind) (bool, error) {
	var resp ReleaseLockResponse
	req := ReleaseLockRequest{Identity: identity, Kind: string(kind)}
	if err := c.post(ctx, "/v1/locks/release", req, &resp); err != nil {
		return false, err
	}
	return resp.Released, nil
}

// ResetAttempts clears the failure record for an identifier and reports
// whether one existed.
func (c *Client) ResetAttempts(ctx context.Context, identifier string) (bool, error) {
	var resp ResetAttemptsResponse
	req := ResetAttemptsRequest{Identifier: identifier}
	if err := c.post(ctx, "/v1/attempts/reset", req, &resp); err != nil {
		return false, err
	}
	return resp.Reset, nil
}

// ListEvents queries the remote audit trail. Zero-valued filter fields are
// omitted from the query string.
func (c *Client) ListEvents(ctx context.Context, filter store.EventFilter) (*EventListResponse, error) {
	query := url.Values{}
	if filter.Identity != "" {
		query.Set("identity", filter.Identity)
	}
	if filter.Kind != "" {
		query.Set("kind", string(filter.Kind))
	}
	if !filter.Since.IsZero() {
		query.Set("since", filter.Since.Format(time.RFC3339))
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}

	path := "/v1/events"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var resp EventListResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status reports the remote guard's table sizes and effective limits.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.get(ctx, "/v1/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Healthz probes the liveness endpoint.
func (c *Client) Healthz(ctx context.Context) error {
	return c.get(ctx, "/healthz", nil)
}

// ==================== Transport ====================

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

// decodeErrorResponse rebuilds the guard error from the response envelope.
// A Retry-After header wins over any retryAfterSeconds detail in the body
// so both contention and throttle responses carry a usable backoff.
func decodeErrorResponse(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read error response: %w", err)
	}

	var envelope errorBody
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil || envelope.Error.Code == "" {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	if after := resp.Header.Get("Retry-After"); after != "" {
		if seconds, parseErr := strconv.ParseInt(after, 10, 64); parseErr == nil && seconds > 0 {
			if envelope.Error.Details == nil {
				envelope.Error.Details = map[string]interface{}{}
			}
			envelope.Error.Details["retryAfterSeconds"] = seconds
		}
	}
	return envelope.Error
}

// RetryAfter extracts the server-suggested backoff from a remote guard
// error, or zero when none was provided. Handles both the int64 the server
// attaches locally and the float64 a JSON round-trip produces.
func RetryAfter(err error) time.Duration {
	var guardErr *tokenguard.GuardError
	if !errors.As(err, &guardErr) {
		return 0
	}
	switch v := guardErr.Details["retryAfterSeconds"].(type) {
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v) * time.Second
	}
	return 0
}
