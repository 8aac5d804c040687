// Package identity wraps the managed identity provider. Account creation and
// password authentication are fully delegated; the only local side effect is
// mirroring the profile row into the store at sign-up, keyed by the
// provider-issued subject.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/workos/workos-go/v6/pkg/usermanagement"
	"github.com/workos/workos-go/v6/pkg/workos_errors"

	"github.com/voxprep/voxprep/pkg/core"
	"github.com/voxprep/voxprep/pkg/core/types"
)

// Provider is the slice of the identity provider API this adapter calls.
type Provider interface {
	CreateUser(ctx context.Context, opts usermanagement.CreateUserOpts) (usermanagement.User, error)
	AuthenticateWithPassword(ctx context.Context, opts usermanagement.AuthenticateWithPasswordOpts) (usermanagement.AuthenticateResponse, error)
}

// ProfileStore persists the local profile row mirrored at sign-up.
type ProfileStore interface {
	CreateUser(ctx context.Context, user *types.User) error
}

// Token is the short-lived identity token returned by Authenticate. It is
// exchanged for a session credential and never stored.
type Token struct {
	AccessToken string
	Subject     string
	Name        string
	Email       string
}

// Service is the identity adapter.
type Service struct {
	provider Provider
	clientID string
	profiles ProfileStore
	logger   *slog.Logger
}

// NewService creates the adapter. clientID is the provider application id
// required for password authentication.
func NewService(provider Provider, clientID string, profiles ProfileStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		provider: provider,
		clientID: clientID,
		profiles: profiles,
		logger:   logger,
	}
}

// CreateAccount registers a new account with the provider and mirrors the
// profile row. A duplicate email or subject reports core.ErrDuplicateAccount
// and leaves the store untouched.
func (s *Service) CreateAccount(ctx context.Context, email, password, name string) (string, error) {
	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)

	first, last := splitName(name)
	user, err := s.provider.CreateUser(ctx, usermanagement.CreateUserOpts{
		Email:     email,
		Password:  password,
		FirstName: first,
		LastName:  last,
	})
	if err != nil {
		if isDuplicateAccount(err) {
			return "", fmt.Errorf("create provider account: %w", core.ErrDuplicateAccount)
		}
		return "", fmt.Errorf("create provider account: %w", err)
	}

	profile := &types.User{
		ID:    user.ID,
		Name:  name,
		Email: email,
		Plan:  types.PlanFree,
	}
	if err := s.profiles.CreateUser(ctx, profile); err != nil {
		if errors.Is(err, core.ErrDuplicateAccount) {
			return "", fmt.Errorf("mirror profile: %w", core.ErrDuplicateAccount)
		}
		return "", fmt.Errorf("mirror profile: %w", err)
	}

	s.logger.Info("account created", "user_id", user.ID)
	return user.ID, nil
}

// Authenticate verifies email+password with the provider and returns the
// identity token. Unknown email and wrong password are indistinguishable:
// both report core.ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Token, error) {
	resp, err := s.provider.AuthenticateWithPassword(ctx, usermanagement.AuthenticateWithPasswordOpts{
		ClientID: s.clientID,
		Email:    strings.TrimSpace(email),
		Password: password,
	})
	if err != nil {
		if isCredentialFailure(err) {
			return Token{}, fmt.Errorf("authenticate: %w", core.ErrInvalidCredentials)
		}
		return Token{}, fmt.Errorf("authenticate: %w", err)
	}

	return Token{
		AccessToken: resp.AccessToken,
		Subject:     resp.User.ID,
		Name:        joinName(resp.User.FirstName, resp.User.LastName),
		Email:       resp.User.Email,
	}, nil
}

func splitName(name string) (first, last string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func joinName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}

func isDuplicateAccount(err error) bool {
	var httpErr workos_errors.HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	if httpErr.ErrorCode == "email_not_available" {
		return true
	}
	msg := strings.ToLower(httpErr.Message)
	return strings.Contains(msg, "already") && strings.Contains(msg, "exist")
}

func isCredentialFailure(err error) bool {
	var httpErr workos_errors.HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	switch httpErr.Code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	default:
		return false
	}
}
