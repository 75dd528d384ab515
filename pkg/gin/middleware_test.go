package gin

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tokenguard/tokenguard"
)

func newGuard() *tokenguard.Guard {
	clk := tokenguard.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return tokenguard.New(tokenguard.WithClock(clk))
}

func newGuardedRouter(t *testing.T, guard *tokenguard.Guard, status int, opts ...Options) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/mint", Middleware(guard, opts...), func(c *gin.Context) {
		if _, ok := OperationFromContext(c); !ok {
			t.Error("expected an operation in the request context")
		}
		c.JSON(status, gin.H{"ok": status < http.StatusBadRequest})
	})
	return router
}

func doPost(router *gin.Engine, identity string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/mint", nil)
	if identity != "" {
		req.Header.Set(DefaultIdentityHeader, identity)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_SuccessKeepsCoolDownLock(t *testing.T) {
	guard := newGuard()
	router := newGuardedRouter(t, guard, http.StatusOK)

	rec := doPost(router, "wallet-1")
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

func TestMiddleware_ErrorStatusFailsOperation(t *testing.T) {
	guard := newGuard()
	router := newGuardedRouter(t, guard, http.StatusInternalServerError)

	rec := doPost(router, "wallet-1")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}

	if guard.Locks().Len() != 0 {
		t.Error("expected the lock released after a failed handler")
	}
	if guard.Attempts().Len() != 1 {
		t.Errorf("attempt records = %d, want 1 after failure", guard.Attempts().Len())
	}
}

func TestMiddleware_MissingIdentity(t *testing.T) {
	guard := newGuard()
	handlerRan := false

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/mint", Middleware(guard), func(c *gin.Context) {
		handlerRan = true
		c.Status(http.StatusOK)
	})

	rec := doPost(router, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if handlerRan {
		t.Error("handler must not run without an identity")
	}
}

func TestMiddleware_Contention(t *testing.T) {
	guard := newGuard()
	router := newGuardedRouter(t, guard, http.StatusOK)

	if !guard.Acquire("wallet-1", tokenguard.OperationTransaction) {
		t.Fatal("seed acquire failed")
	}

	rec := doPost(router, "wallet-1")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusConflict, rec.Body.String())
	}
}

func TestMiddleware_ThrottleAfterRepeatedFailures(t *testing.T) {
	guard := newGuard()
	router := newGuardedRouter(t, guard, http.StatusBadGateway)

	for i := 0; i < 6; i++ {
		if rec := doPost(router, "wallet-1"); rec.Code != http.StatusBadGateway {
			t.Fatalf("request %d status = %d, want %d", i+1, rec.Code, http.StatusBadGateway)
		}
	}

	rec := doPost(router, "wallet-1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if got := rec.Header().Get("Retry-After"); got != "1800" {
		t.Errorf("Retry-After = %q, want %q", got, "1800")
	}
}

func TestMiddleware_WithKind(t *testing.T) {
	guard := newGuard()
	router := newGuardedRouter(t, guard, http.StatusOK, WithKind(tokenguard.OperationIssuance))

	if rec := doPost(router, "wallet-1"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if _, ok := guard.Locks().Get("wallet-1", tokenguard.OperationIssuance); !ok {
		t.Error("expected the lock under the configured kind")
	}
}

func TestMiddleware_WithFailureKeyFunc(t *testing.T) {
	guard := newGuard()
	router := newGuardedRouter(t, guard, http.StatusInternalServerError,
		WithFailureKeyFunc(func(c *gin.Context) string { return c.GetHeader("X-Tenant") }))

	wallets := []string{"wallet-1", "wallet-2", "wallet-3", "wallet-4", "wallet-5", "wallet-6"}
	for _, wallet := range wallets {
		req := httptest.NewRequest("POST", "/mint", nil)
		req.Header.Set(DefaultIdentityHeader, wallet)
		req.Header.Set("X-Tenant", "tenant-9")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("request for %s status = %d, want %d", wallet, rec.Code, http.StatusInternalServerError)
		}
	}

	// Six failures pooled under one tenant key block the seventh wallet too.
	req := httptest.NewRequest("POST", "/mint", nil)
	req.Header.Set(DefaultIdentityHeader, "wallet-7")
	req.Header.Set("X-Tenant", "tenant-9")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
}
