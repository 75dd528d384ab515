package echo

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tokenguard/tokenguard"
)

// DefaultIdentityHeader carries the wallet identity on inbound requests.
const DefaultIdentityHeader = "X-Wallet-Address"

// operationKey is the echo context key the begun operation is stored under.
const operationKey = "tokenguard/operation"

// MiddlewareOptions is the options for the guard Middleware.
type MiddlewareOptions struct {
	Kind           tokenguard.OperationKind
	IdentityHeader string
	IdentityFunc   func(echo.Context) string
	FailureKeyFunc func(echo.Context) string
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
func WithIdentityFunc(fn func(echo.Context) string) Options {
	return func(options *MiddlewareOptions) {
		options.IdentityFunc = fn
	}
}

// WithFailureKeyFunc is an option for the Middleware to group failure
// throttling by something coarser than the identity, such as a tenant id.
func WithFailureKeyFunc(fn func(echo.Context) string) Options {
	return func(options *MiddlewareOptions) {
		options.FailureKeyFunc = fn
	}
}

// Middleware is the Echo middleware guarding mutation endpoints with the
// token operation guard. It begins an operation before the handler runs and
// settles it afterwards: a handler error or a 4xx/5xx status fails the
// operation, anything else succeeds it.
func Middleware(guard *tokenguard.Guard, opts ...Options) echo.MiddlewareFunc {
	options := &MiddlewareOptions{
		Kind:           tokenguard.OperationTransaction,
		IdentityHeader: DefaultIdentityHeader,
	}

	for _, opt := range opts {
		opt(options)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity := ""
			if options.IdentityFunc != nil {
				identity = options.IdentityFunc(c)
			} else {
				identity = c.Request().Header.Get(options.IdentityHeader)
			}
			if identity == "" {
				return renderGuardError(c, tokenguard.NewGuardError(
					tokenguard.ErrCodeInvalidPayload,
					fmt.Sprintf("missing identity: set the %s header", options.IdentityHeader),
					nil,
				))
			}

			req := tokenguard.OperationRequest{Identity: identity, Kind: options.Kind}
			if options.FailureKeyFunc != nil {
				req.FailureKey = options.FailureKeyFunc(c)
			}

			op, err := guard.Begin(c.Request().Context(), req)
			if err != nil {
				return renderGuardError(c, err)
			}

			c.Set(operationKey, op)

			// A returned error has not been rendered yet; the central error
			// handler will write the status after this middleware unwinds.
			if err := next(c); err != nil {
				op.Fail()
				return err
			}
			if c.Response().Status >= http.StatusBadRequest {
				op.Fail()
				return nil
			}
			op.Succeed()
			return nil
		}
	}
}

// OperationFromContext returns the operation begun by the Middleware for this
// request, if any.
func OperationFromContext(c echo.Context) (*tokenguard.Operation, bool) {
	op, ok := c.Get(operationKey).(*tokenguard.Operation)
	return op, ok
}

// renderGuardError renders the guard error envelope, attaching Retry-After
// for throttle blocks so well-behaved clients back off.
func renderGuardError(c echo.Context, err error) error {
	var guardErr *tokenguard.GuardError
	if !errors.As(err, &guardErr) {
		guardErr = tokenguard.NewGuardError(tokenguard.ErrCodeInternal, "internal error", nil)
	}
	if guardErr.Code == tokenguard.ErrCodeThrottled {
		if seconds, ok := guardErr.Details["retryAfterSeconds"].(int64); ok && seconds > 0 {
			c.Response().Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
		}
	}
	return c.JSON(tokenguard.HTTPStatus(guardErr), map[string]interface{}{"error": guardErr})
}
