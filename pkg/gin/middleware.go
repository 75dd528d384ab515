package gin

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tokenguard/tokenguard"
)

// DefaultIdentityHeader carries the wallet identity on inbound requests.
const DefaultIdentityHeader = "X-Wallet-Address"

// operationKey is the gin context key the begun operation is stored under.
const operationKey = "tokenguard/operation"

// MiddlewareOptions is the options for the guard Middleware.
type MiddlewareOptions struct {
	Kind           tokenguard.OperationKind
	IdentityHeader string
	IdentityFunc   func(*gin.Context) string
	FailureKeyFunc func(*gin.Context) string
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
func WithIdentityFunc(fn func(*gin.Context) string) Options {
	return func(options *MiddlewareOptions) {
		options.IdentityFunc = fn
	}
}

// WithFailureKeyFunc is an option for the Middleware to group failure
// throttling by something coarser than the identity, such as a tenant id.
func WithFailureKeyFunc(fn func(*gin.Context) string) Options {
	return func(options *MiddlewareOptions) {
		options.FailureKeyFunc = fn
	}
}

// Middleware is the Gin middleware guarding mutation endpoints with the
// token operation guard. It begins an operation before the handler runs and
// settles it from the response status: 2xx/3xx succeed, 4xx/5xx fail.
func Middleware(guard *tokenguard.Guard, opts ...Options) gin.HandlerFunc {
	options := &MiddlewareOptions{
		Kind:           tokenguard.OperationTransaction,
		IdentityHeader: DefaultIdentityHeader,
	}

	for _, opt := range opts {
		opt(options)
	}

	return func(c *gin.Context) {
		identity := ""
		if options.IdentityFunc != nil {
			identity = options.IdentityFunc(c)
		} else {
			identity = c.GetHeader(options.IdentityHeader)
		}
		if identity == "" {
			abortWithGuardError(c, tokenguard.NewGuardError(
				tokenguard.ErrCodeInvalidPayload,
				fmt.Sprintf("missing identity: set the %s header", options.IdentityHeader),
				nil,
			))
			return
		}

		req := tokenguard.OperationRequest{Identity: identity, Kind: options.Kind}
		if options.FailureKeyFunc != nil {
			req.FailureKey = options.FailureKeyFunc(c)
		}

		op, err := guard.Begin(c.Request.Context(), req)
		if err != nil {
			abortWithGuardError(c, err)
			return
		}

		c.Set(operationKey, op)

		// Execute the handler
		c.Next()

		if c.Writer.Status() >= http.StatusBadRequest {
			op.Fail()
			return
		}
		op.Succeed()
	}
}

// OperationFromContext returns the operation begun by the Middleware for this
// request, if any.
func OperationFromContext(c *gin.Context) (*tokenguard.Operation, bool) {
	v, ok := c.Get(operationKey)
	if !ok {
		return nil, false
	}
	op, ok := v.(*tokenguard.Operation)
	return op, ok
}

// abortWithGuardError renders the guard error envelope and stops the chain.
func abortWithGuardError(c *gin.Context, err error) {
	var guardErr *tokenguard.GuardError
	if !errors.As(err, &guardErr) {
		guardErr = tokenguard.NewGuardError(tokenguard.ErrCodeInternal, "internal error", nil)
	}
	if guardErr.Code == tokenguard.ErrCodeThrottled {
		if seconds, ok := guardErr.Details["retryAfterSeconds"].(int64); ok && seconds > 0 {
			c.Header("Retry-After", strconv.FormatInt(seconds, 10))
		}
	}
	c.AbortWithStatusJSON(tokenguard.HTTPStatus(guardErr), gin.H{"error": guardErr})
}
