package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/voxprep/voxprep/pkg/core/session"
	"github.com/voxprep/voxprep/pkg/core/types"
)

type ctxKey struct{}

func WithUser(ctx context.Context, u *types.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

func UserFrom(ctx context.Context) (*types.User, bool) {
	u, ok := ctx.Value(ctxKey{}).(*types.User)
	return u, ok && u != nil
}

// SessionCredential extracts the signed session token from the request,
// preferring the cookie and falling back to a bearer token for non-browser
// clients.
func SessionCredential(r *http.Request) (string, bool) {
	if c, err := r.Cookie(session.CookieName); err == nil {
		if v := strings.TrimSpace(c.Value); v != "" {
			return v, true
		}
	}

	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}
