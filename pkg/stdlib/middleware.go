package stdlib

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/tokenguard/tokenguard"
)

// DefaultIdentityHeader carries the wallet identity on inbound requests.
const DefaultIdentityHeader = "X-Wallet-Address"

type contextKey struct{}

// operationContextKey keys the begun operation in the request context.
var operationContextKey = contextKey{}

// MiddlewareOptions is the options for the guard Middleware.
type MiddlewareOptions struct {
	Kind           tokenguard.OperationKind
	IdentityHeader string
	IdentityFunc   func(*http.Request) string
	FailureKeyFunc func(*http.Request) string
}

// Options is the type for the options for the guard Middleware.
type Options func(*MiddlewareOptions)

// WithKind is an option for the Middleware to set the operation kind guarded
// per request.
func WithKind(kind tokenguard.OperationKind) Options {
	return func(options *MiddlewareOptions) {
		options.Kind = kind
	}
}

// WithIdentityHeader is an option for the Middleware to set the header the
// identity is read from.
func WithIdentityHeader(header string) Options {
	return func(options *MiddlewareOptions) {
		options.IdentityHeader = header
	}
}

// WithIdentityFunc is an option for the Middleware to derive the identity
// from the request instead of a header.
func WithIdentityFunc(fn func(*http.Request) string) Options {
	return func(options *MiddlewareOptions) {
		options.IdentityFunc = fn
	}
}

// WithFailureKeyFunc is an option for the Middleware to group failure
// throttling by something coarser than the identity, such as a tenant id.
func WithFailureKeyFunc(fn func(*http.Request) string) Options {
	return func(options *MiddlewareOptions) {
		options.FailureKeyFunc = fn
	}
}

// Middleware is the Go standard library middleware guarding mutation
// endpoints with the token operation guard. It begins an operation before the
// wrapped handler runs and settles it from the response status: 2xx/3xx
// succeed, 4xx/5xx fail.
func Middleware(guard *tokenguard.Guard, opts ...Options) func(http.Handler) http.Handler {
	options := &MiddlewareOptions{
		Kind:           tokenguard.OperationTransaction,
		IdentityHeader: DefaultIdentityHeader,
	}

	for _, opt := range opts {
		opt(options)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := ""
			if options.IdentityFunc != nil {
				identity = options.IdentityFunc(r)
			} else {
				identity = r.Header.Get(options.IdentityHeader)
			}
			if identity == "" {
				writeGuardError(w, tokenguard.NewGuardError(
					tokenguard.ErrCodeInvalidPayload,
					fmt.Sprintf("missing identity: set the %s header", options.IdentityHeader),
					nil,
				))
				return
			}

			req := tokenguard.OperationRequest{Identity: identity, Kind: options.Kind}
			if options.FailureKeyFunc != nil {
				req.FailureKey = options.FailureKeyFunc(r)
			}

			op, err := guard.Begin(r.Context(), req)
			if err != nil {
				writeGuardError(w, err)
				return
			}

			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			ctx := context.WithValue(r.Context(), operationContextKey, op)

			next.ServeHTTP(recorder, r.WithContext(ctx))

			if recorder.status >= http.StatusBadRequest {
				op.Fail()
				return
			}
			op.Succeed()
		})
	}
}

// OperationFromContext returns the operation begun by the Middleware for this
// request, if any.
func OperationFromContext(ctx context.Context) (*tokenguard.Operation, bool) {
	op, ok := ctx.Value(operationContextKey).(*tokenguard.Operation)
	return op, ok
}

// statusRecorder captures the status code the wrapped handler commits to, so
// the middleware can settle the operation after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.written {
		r.status = code
		r.written = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.written {
		r.status = http.StatusOK
		r.written = true
	}
	return r.ResponseWriter.Write(b)
}

// writeGuardError renders the guard error envelope, attaching Retry-After for
// throttle blocks so well-behaved clients back off.
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
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(tokenguard.HTTPStatus(guardErr))
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": guardErr})
}
