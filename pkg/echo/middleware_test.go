package echo

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tokenguard/tokenguard"
)

func newGuard() *tokenguard.Guard {
	clk := tokenguard.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return tokenguard.New(tokenguard.WithClock(clk))
}

func newGuardedServer(t *testing.T, guard *tokenguard.Guard, handler echo.HandlerFunc, opts ...Options) *echo.Echo {
	t.Helper()
	e := echo.New()
	e.POST("/mint", handler, Middleware(guard, opts...))
	return e
}

func doPost(e *echo.Echo, identity string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/mint", nil)
	if identity != "" {
		req.Header.Set(DefaultIdentityHeader, identity)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_SuccessKeepsCoolDownLock(t *testing.T) {
	guard := newGuard()
	e := newGuardedServer(t, guard, func(c echo.Context) error {
		if _, ok := OperationFromContext(c); !ok {
			t.Error("expected an operation in the request context")
		}
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	})

	rec := doPost(e, "wallet-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	lock, ok := guard.Locks().Get("wallet-1", tokenguard.OperationTransaction)
	if !ok || !lock.Validated {
		t.Errorf("lock after success = %+v (ok %v), want a validated cool-down lock", lock, ok)
	}
	if guard.Attempts().Len() != 0 {
		t.Errorf("attempt records = %d, want 0 after success", guard.Attempts().Len())
	}
}

func TestMiddleware_HandlerErrorFailsOperation(t *testing.T) {
	guard := newGuard()
	e := newGuardedServer(t, guard, func(echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "rejected")
	})

	rec := doPost(e, "wallet-1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if guard.Locks().Len() != 0 {
		t.Error("expected the lock released after a handler error")
	}
	if guard.Attempts().Len() != 1 {
		t.Errorf("attempt records = %d, want 1 after failure", guard.Attempts().Len())
	}
}

func TestMiddleware_ErrorStatusFailsOperation(t *testing.T) {
	guard := newGuard()
	e := newGuardedServer(t, guard, func(c echo.Context) error {
		return c.JSON(http.StatusUnprocessableEntity, map[string]bool{"ok": false})
	})

	rec := doPost(e, "wallet-1")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
	if guard.Locks().Len() != 0 {
		t.Error("expected the lock released after an error status")
	}
}

func TestMiddleware_MissingIdentity(t *testing.T) {
	guard := newGuard()
	handlerRan := false
	e := newGuardedServer(t, guard, func(c echo.Context) error {
		handlerRan = true
		return c.NoContent(http.StatusOK)
	})

	rec := doPost(e, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if handlerRan {
		t.Error("handler must not run without an identity")
	}
}

func TestMiddleware_Contention(t *testing.T) {
	guard := newGuard()
	e := newGuardedServer(t, guard, func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	if !guard.Acquire("wallet-1", tokenguard.OperationTransaction) {
		t.Fatal("seed acquire failed")
	}

	rec := doPost(e, "wallet-1")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusConflict, rec.Body.String())
	}
}

func TestMiddleware_ThrottleAfterRepeatedFailures(t *testing.T) {
	guard := newGuard()
	e := newGuardedServer(t, guard, func(echo.Context) error {
		return echo.NewHTTPError(http.StatusBadGateway, "upstream down")
	})

	for i := 0; i < 6; i++ {
		if rec := doPost(e, "wallet-1"); rec.Code != http.StatusBadGateway {
			t.Fatalf("request %d status = %d, want %d", i+1, rec.Code, http.StatusBadGateway)
		}
	}

	rec := doPost(e, "wallet-1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if got := rec.Header().Get("Retry-After"); got != "1800" {
		t.Errorf("Retry-After = %q, want %q", got, "1800")
	}
}

func TestMiddleware_WithKind(t *testing.T) {
	guard := newGuard()
	e := newGuardedServer(t, guard, func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, WithKind(tokenguard.OperationValidation))

	if rec := doPost(e, "wallet-1"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if _, ok := guard.Locks().Get("wallet-1", tokenguard.OperationValidation); !ok {
		t.Error("expected the lock under the configured kind")
	}
}
