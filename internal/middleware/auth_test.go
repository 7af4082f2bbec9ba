package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/carbonviet/carbonmarket-system/internal/model"
)

func TestAuthMiddleware_WithValidCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		caller, ok := GetCallerFromContext(r.Context())
		if !ok {
			t.Fatalf("caller not in context")
		}
		if caller.UserID != 42 {
			t.Fatalf("caller id from context = %d, want 42", caller.UserID)
		}
		if caller.Role != model.RoleUser {
			t.Fatalf("caller role from context = %s, want USER", caller.Role)
		}
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	m.SetAuthCookie(w, model.Caller{UserID: 42, Role: model.RoleUser})
	res := w.Result()
	resCookies := res.Cookies()
	if len(resCookies) == 0 {
		t.Fatalf("no cookies set by SetAuthCookie")
	}

	r.AddCookie(resCookies[0])

	handler := m.Middleware(next)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_WithoutCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	handler := m.Middleware(next)
	handler.ServeHTTP(w, r)

	res := w.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_TamperedRole(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	m.SetAuthCookie(w, model.Caller{UserID: 7, Role: model.RoleUser})
	cookie := w.Result().Cookies()[0]

	// Подмена роли в cookie без перевыпуска подписи должна отклоняться.
	cookie.Value = strings.Replace(cookie.Value, ".USER.", ".ADMIN.", 1)

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(cookie)

	handler := m.Middleware(next)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireAdmin(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	})

	makeRequest := func(caller model.Caller) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		m.SetAuthCookie(w, caller)
		r := httptest.NewRequest(http.MethodGet, "/admin", nil)
		r.AddCookie(w.Result().Cookies()[0])

		rec := httptest.NewRecorder()
		m.Middleware(m.RequireAdmin(next)).ServeHTTP(rec, r)
		return rec
	}

	rec := makeRequest(model.Caller{UserID: 1, Role: model.RoleUser})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("user status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	if nextCalled {
		t.Fatalf("next handler called for non-admin")
	}

	rec = makeRequest(model.Caller{UserID: 2, Role: model.RoleAdmin})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !nextCalled {
		t.Fatalf("next handler was not called for admin")
	}
}
