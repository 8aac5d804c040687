package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/voxprep/voxprep/pkg/core"
	"github.com/voxprep/voxprep/pkg/core/identity"
	"github.com/voxprep/voxprep/pkg/core/session"
	"github.com/voxprep/voxprep/pkg/core/types"
	"github.com/voxprep/voxprep/pkg/gateway/auth"
	"github.com/voxprep/voxprep/pkg/gateway/config"
	"github.com/voxprep/voxprep/pkg/gateway/mw"
)

// IdentityService is the slice of the identity adapter the auth endpoints use.
type IdentityService interface {
	CreateAccount(ctx context.Context, email, password, name string) (string, error)
	Authenticate(ctx context.Context, email, password string) (identity.Token, error)
}

// AuthHandler serves /v1/auth/: account creation, password sign-in, sign-out,
// and the current-caller probe. Domain outcomes (duplicate account, bad
// credentials) collapse to {success:false, message} with status 200; only
// transport problems get an error envelope.
type AuthHandler struct {
	Config   config.Config
	Logger   *slog.Logger
	Identity IdentityService
	Sessions *session.Manager
}

type signUpRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type meResponse struct {
	User *types.User `json:"user"`
}

func (h AuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	switch strings.TrimPrefix(r.URL.Path, "/v1/auth/") {
	case "sign-up":
		h.signUp(w, r, reqID)
	case "sign-in":
		h.signIn(w, r, reqID)
	case "sign-out":
		h.signOut(w, r, reqID)
	case "me":
		h.me(w, r, reqID)
	default:
		NotFoundHandler{}.ServeHTTP(w, r)
	}
}

func (h AuthHandler) signUp(w http.ResponseWriter, r *http.Request, reqID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, reqID)
		return
	}
	var req signUpRequest
	if !h.decodeBody(w, r, reqID, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("name is required", "name"), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("email is required", "email"), http.StatusBadRequest)
		return
	}
	if req.Password == "" {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("password is required", "password"), http.StatusBadRequest)
		return
	}

	_, err := h.Identity.CreateAccount(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		if errors.Is(err, core.ErrDuplicateAccount) {
			writeJSON(w, http.StatusOK, authResult{Success: false, Message: "an account with this email already exists"})
			return
		}
		if h.Logger != nil {
			h.Logger.Error("sign-up failed", "request_id", reqID, "error", err)
		}
		writeJSON(w, http.StatusOK, authResult{Success: false, Message: "failed to create an account"})
		return
	}
	writeJSON(w, http.StatusOK, authResult{Success: true, Message: "account created successfully"})
}

func (h AuthHandler) signIn(w http.ResponseWriter, r *http.Request, reqID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, reqID)
		return
	}
	var req signInRequest
	if !h.decodeBody(w, r, reqID, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("email is required", "email"), http.StatusBadRequest)
		return
	}
	if req.Password == "" {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("password is required", "password"), http.StatusBadRequest)
		return
	}

	token, err := h.Identity.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, core.ErrInvalidCredentials) {
			writeJSON(w, http.StatusOK, authResult{Success: false, Message: "incorrect email or password"})
			return
		}
		if h.Logger != nil {
			h.Logger.Error("sign-in failed", "request_id", reqID, "error", err)
		}
		writeJSON(w, http.StatusOK, authResult{Success: false, Message: "failed to sign in"})
		return
	}

	credential, err := h.Sessions.Establish(token)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("session establishment failed", "request_id", reqID, "user_id", token.Subject, "error", err)
		}
		writeJSON(w, http.StatusOK, authResult{Success: false, Message: "failed to sign in"})
		return
	}
	http.SetCookie(w, h.Sessions.Cookie(credential))
	if h.Logger != nil {
		h.Logger.Info("user signed in", "request_id", reqID, "user_id", token.Subject)
	}
	writeJSON(w, http.StatusOK, authResult{Success: true, Message: "signed in successfully"})
}

func (h AuthHandler) signOut(w http.ResponseWriter, r *http.Request, reqID string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, reqID)
		return
	}
	http.SetCookie(w, h.Sessions.ClearCookie())
	writeJSON(w, http.StatusOK, authResult{Success: true})
}

func (h AuthHandler) me(w http.ResponseWriter, r *http.Request, reqID string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, reqID)
		return
	}
	user, _ := auth.UserFrom(r.Context())
	writeJSON(w, http.StatusOK, meResponse{User: user})
}

func (h AuthHandler) decodeBody(w http.ResponseWriter, r *http.Request, reqID string, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("failed to read request body"), http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("invalid json body"), http.StatusBadRequest)
		return false
	}
	return true
}
