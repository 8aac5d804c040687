package session

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/voxprep/voxprep/pkg/core"
	"github.com/voxprep/voxprep/pkg/core/identity"
	"github.com/voxprep/voxprep/pkg/core/types"
)

const wellFormedAccessToken = "eyJhbGciOiJSUzI1NiJ9.eyJzdWIiOiJ1c2VyXzEifQ.c2ln"

type fakeUsers struct {
	users map[string]*types.User
	err   error
}

func (f *fakeUsers) UserByID(ctx context.Context, id string) (*types.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	user, ok := f.users[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return user, nil
}

func newManager(t *testing.T, ttl time.Duration, users UserStore) *Manager {
	t.Helper()
	m, err := NewManager("test-secret", ttl, false, users, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestNewManager_RequiresSecret(t *testing.T) {
	if _, err := NewManager("  ", 0, false, &fakeUsers{}, nil); err == nil {
		t.Fatalf("NewManager accepted empty secret")
	}
}

func TestEstablishAndCurrentUser(t *testing.T) {
	users := &fakeUsers{users: map[string]*types.User{
		"user_1": {ID: "user_1", Name: "Ada Lovelace", Email: "ada@example.com"},
	}}
	m := newManager(t, DefaultTTL, users)

	credential, err := m.Establish(identity.Token{
		AccessToken: wellFormedAccessToken,
		Subject:     "user_1",
		Name:        "Ada Lovelace",
		Email:       "ada@example.com",
	})
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if credential == "" {
		t.Fatalf("empty credential")
	}

	user := m.CurrentUser(context.Background(), credential)
	if user == nil {
		t.Fatalf("CurrentUser = nil, want user")
	}
	if user.ID != "user_1" || user.Email != "ada@example.com" {
		t.Errorf("user = %+v", user)
	}
}

func TestEstablish_RejectsMalformedToken(t *testing.T) {
	m := newManager(t, DefaultTTL, &fakeUsers{})

	cases := []identity.Token{
		{},
		{AccessToken: "nodots", Subject: "user_1"},
		{AccessToken: "one.dot", Subject: "user_1"},
		{AccessToken: wellFormedAccessToken, Subject: ""},
	}
	for i, token := range cases {
		if _, err := m.Establish(token); !errors.Is(err, core.ErrSessionCreation) {
			t.Errorf("case %d: err = %v, want ErrSessionCreation", i, err)
		}
	}
}

func TestCurrentUser_NeverErrors(t *testing.T) {
	users := &fakeUsers{users: map[string]*types.User{
		"user_1": {ID: "user_1"},
	}}
	m := newManager(t, DefaultTTL, users)

	// Absent or garbage credentials.
	if got := m.CurrentUser(context.Background(), ""); got != nil {
		t.Errorf("empty credential: got %+v, want nil", got)
	}
	if got := m.CurrentUser(context.Background(), "not-a-jwt"); got != nil {
		t.Errorf("garbage credential: got %+v, want nil", got)
	}

	// Signed by a different secret.
	other := newManager(t, DefaultTTL, users)
	other.secret = []byte("other-secret")
	foreign, err := other.Establish(identity.Token{AccessToken: wellFormedAccessToken, Subject: "user_1"})
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if got := m.CurrentUser(context.Background(), foreign); got != nil {
		t.Errorf("foreign signature: got %+v, want nil", got)
	}

	// Expired credential.
	expiredIssuer := newManager(t, DefaultTTL, users)
	expiredIssuer.ttl = -time.Hour
	expired, err := expiredIssuer.Establish(identity.Token{AccessToken: wellFormedAccessToken, Subject: "user_1"})
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if got := m.CurrentUser(context.Background(), expired); got != nil {
		t.Errorf("expired credential: got %+v, want nil", got)
	}

	// Valid credential, but the subject has no profile row.
	orphan, err := m.Establish(identity.Token{AccessToken: wellFormedAccessToken, Subject: "user_gone"})
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if got := m.CurrentUser(context.Background(), orphan); got != nil {
		t.Errorf("missing profile: got %+v, want nil", got)
	}

	// Store outage.
	outage := newManager(t, DefaultTTL, &fakeUsers{err: errors.New("connection refused")})
	credential, err := outage.Establish(identity.Token{AccessToken: wellFormedAccessToken, Subject: "user_1"})
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if got := outage.CurrentUser(context.Background(), credential); got != nil {
		t.Errorf("store outage: got %+v, want nil", got)
	}
}

func TestCookie_Attributes(t *testing.T) {
	m := newManager(t, DefaultTTL, &fakeUsers{})

	cookie := m.Cookie("credential-value")
	if cookie.Name != "session" {
		t.Errorf("name = %q, want session", cookie.Name)
	}
	if cookie.Value != "credential-value" {
		t.Errorf("value = %q", cookie.Value)
	}
	if cookie.Path != "/" {
		t.Errorf("path = %q, want /", cookie.Path)
	}
	if !cookie.HttpOnly {
		t.Errorf("HttpOnly = false, want true")
	}
	if cookie.Secure {
		t.Errorf("Secure = true for non-production manager")
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", cookie.SameSite)
	}
	if cookie.MaxAge != 7*24*60*60 {
		t.Errorf("MaxAge = %d, want %d", cookie.MaxAge, 7*24*60*60)
	}
}

func TestCookie_SecureInProduction(t *testing.T) {
	m, err := NewManager("secret", DefaultTTL, true, &fakeUsers{}, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if !m.Cookie("v").Secure {
		t.Errorf("Secure = false, want true")
	}
}

func TestClearCookie(t *testing.T) {
	m := newManager(t, DefaultTTL, &fakeUsers{})

	cookie := m.ClearCookie()
	if cookie.Name != "session" || cookie.Value != "" {
		t.Errorf("cookie = %+v", cookie)
	}
	if cookie.MaxAge != -1 {
		t.Errorf("MaxAge = %d, want -1", cookie.MaxAge)
	}
}
