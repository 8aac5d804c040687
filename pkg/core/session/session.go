// Package session exchanges identity tokens for long-lived session
// credentials and resolves the current caller from the session cookie.
// Validity is signature plus expiry only; there is no revocation tracking,
// so ending a session is purely a cookie removal.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/voxprep/voxprep/pkg/core"
	"github.com/voxprep/voxprep/pkg/core/identity"
	"github.com/voxprep/voxprep/pkg/core/types"
)

// CookieName is the session cookie. The value is the signed credential.
const CookieName = "session"

// DefaultTTL is the fixed session lifetime.
const DefaultTTL = 7 * 24 * time.Hour

// UserStore loads profile rows when resolving the current caller.
type UserStore interface {
	UserByID(ctx context.Context, id string) (*types.User, error)
}

// Manager mints and verifies session credentials.
type Manager struct {
	secret        []byte
	ttl           time.Duration
	secureCookies bool
	users         UserStore
	logger        *slog.Logger
}

// NewManager creates a Manager. secureCookies should be true in production
// so the cookie only travels over TLS.
func NewManager(secret string, ttl time.Duration, secureCookies bool, users UserStore, logger *slog.Logger) (*Manager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("session secret must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		secret:        []byte(secret),
		ttl:           ttl,
		secureCookies: secureCookies,
		users:         users,
		logger:        logger,
	}, nil
}

// Establish exchanges a freshly issued identity token for a session
// credential. The identity token is checked for presence and JWT shape; the
// provider issued it moments earlier in the same sign-in flow, and the
// session credential is the only token the app verifies cryptographically
// afterwards.
func (m *Manager) Establish(token identity.Token) (string, error) {
	access := strings.TrimSpace(token.AccessToken)
	if access == "" || strings.Count(access, ".") != 2 {
		return "", fmt.Errorf("identity token malformed: %w", core.ErrSessionCreation)
	}
	if strings.TrimSpace(token.Subject) == "" {
		return "", fmt.Errorf("identity token missing subject: %w", core.ErrSessionCreation)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   token.Subject,
		"name":  token.Name,
		"email": token.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(m.ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session credential: %w", core.ErrSessionCreation)
	}
	return signed, nil
}

// CurrentUser resolves the caller behind a session credential. It returns
// nil for an absent/malformed/expired credential and for a subject with no
// profile row. It never returns an error: an unverifiable session is simply
// not a session.
func (m *Manager) CurrentUser(ctx context.Context, credential string) *types.User {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil
	}

	parsed, err := jwt.Parse(credential, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil
	}
	subject, _ := claims["sub"].(string)
	if subject == "" {
		return nil
	}

	user, err := m.users.UserByID(ctx, subject)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			m.logger.Warn("resolve session user", "user_id", subject, "error", err)
		}
		return nil
	}
	return user
}

// Cookie wraps a credential in the session cookie.
func (m *Manager) Cookie(credential string) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    credential,
		Path:     "/",
		MaxAge:   int(m.ttl / time.Second),
		HttpOnly: true,
		Secure:   m.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie expires the session cookie. Callers redirect to sign-in after
// setting it.
func (m *Manager) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}
