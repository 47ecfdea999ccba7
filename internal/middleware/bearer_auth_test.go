package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

type mockValidator struct {
	id  uuid.UUID
	err error
	got string
}

func (m *mockValidator) ValidateToken(_ context.Context, token string) (uuid.UUID, error) {
	m.got = token
	return m.id, m.err
}

func TestBearerAuth_ValidToken(t *testing.T) {
	actor := uuid.New()
	v := &mockValidator{id: actor}

	var seen uuid.UUID
	next := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = ActorFromCtx(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer tok123")
	rec := httptest.NewRecorder()

	BearerAuth(v)(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if v.got != "tok123" {
		t.Errorf("token not extracted: %q", v.got)
	}
	if seen != actor {
		t.Errorf("actor not placed in context: %s", seen)
	}
}

func TestBearerAuth_MissingHeader(t *testing.T) {
	v := &mockValidator{id: uuid.New()}
	next := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("next handler should not run")
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
	rec := httptest.NewRecorder()

	BearerAuth(v)(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestBearerAuth_MalformedHeader(t *testing.T) {
	v := &mockValidator{id: uuid.New()}
	next := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("next handler should not run")
	})

	for _, h := range []string{"tok123", "Basic tok123"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
		req.Header.Set("Authorization", h)
		rec := httptest.NewRecorder()

		BearerAuth(v)(next).ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: expected 401, got %d", h, rec.Code)
		}
	}
}

func TestBearerAuth_InvalidToken(t *testing.T) {
	v := &mockValidator{err: errors.New("expired")}
	next := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("next handler should not run")
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer stale")
	rec := httptest.NewRecorder()

	BearerAuth(v)(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestActorFromCtx_Absent(t *testing.T) {
	if got := ActorFromCtx(context.Background()); got != uuid.Nil {
		t.Fatalf("expected uuid.Nil, got %s", got)
	}
}
