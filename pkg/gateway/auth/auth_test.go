package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxprep/voxprep/pkg/core/session"
	"github.com/voxprep/voxprep/pkg/core/types"
)

func TestUserContextRoundTrip(t *testing.T) {
	u := &types.User{ID: "user_1", Email: "a@example.com"}
	ctx := WithUser(context.Background(), u)

	got, ok := UserFrom(ctx)
	if !ok || got == nil || got.ID != "user_1" {
		t.Fatalf("UserFrom = %+v ok=%v", got, ok)
	}
}

func TestUserFrom_MissingOrNil(t *testing.T) {
	if _, ok := UserFrom(context.Background()); ok {
		t.Fatalf("empty context should not carry a user")
	}
	if _, ok := UserFrom(WithUser(context.Background(), nil)); ok {
		t.Fatalf("nil user should not count as authenticated")
	}
}

func TestSessionCredential_Cookie(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	r.AddCookie(&http.Cookie{Name: session.CookieName, Value: "tok-123"})

	got, ok := SessionCredential(r)
	if !ok || got != "tok-123" {
		t.Fatalf("SessionCredential = %q ok=%v", got, ok)
	}
}

func TestSessionCredential_BearerFallback(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	r.Header.Set("Authorization", "Bearer tok-456")

	got, ok := SessionCredential(r)
	if !ok || got != "tok-456" {
		t.Fatalf("SessionCredential = %q ok=%v", got, ok)
	}
}

func TestSessionCredential_CookieWinsOverBearer(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	r.AddCookie(&http.Cookie{Name: session.CookieName, Value: "cookie-tok"})
	r.Header.Set("Authorization", "Bearer header-tok")

	got, _ := SessionCredential(r)
	if got != "cookie-tok" {
		t.Fatalf("SessionCredential = %q, want cookie value", got)
	}
}

func TestSessionCredential_Absent(t *testing.T) {
	cases := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{"no credential", func(r *http.Request) {}},
		{"empty cookie", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: session.CookieName, Value: "  "})
		}},
		{"wrong scheme", func(r *http.Request) {
			r.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
		}},
		{"empty bearer", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer   ")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
			tc.setup(r)
			if _, ok := SessionCredential(r); ok {
				t.Fatalf("should not produce a credential")
			}
		})
	}
}
