package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/voxprep/voxprep/pkg/core"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, statusFromType(coreErr.Type)
	}

	// Account/session sentinels.
	if errors.Is(err, core.ErrDuplicateAccount) {
		return &core.Error{
			Type:      core.ErrConflict,
			Message:   "an account with this email already exists",
			RequestID: requestID,
		}, http.StatusConflict
	}
	if errors.Is(err, core.ErrInvalidCredentials) {
		return &core.Error{
			Type:      core.ErrAuthentication,
			Message:   "invalid email or password",
			RequestID: requestID,
		}, http.StatusUnauthorized
	}
	if errors.Is(err, core.ErrSessionCreation) {
		return &core.Error{
			Type:      core.ErrAuthentication,
			Message:   "could not establish a session",
			RequestID: requestID,
		}, http.StatusUnauthorized
	}
	if errors.Is(err, core.ErrNotFound) {
		return &core.Error{
			Type:      core.ErrNotFoundType,
			Message:   "not found",
			RequestID: requestID,
		}, http.StatusNotFound
	}

	// Model output that failed rubric validation: the upstream misbehaved.
	var schemaErr *core.SchemaValidationError
	if errors.As(err, &schemaErr) && schemaErr != nil {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "feedback generation failed",
			RequestID: requestID,
		}, http.StatusBadGateway
	}

	var persistErr *core.PersistenceError
	if errors.As(err, &persistErr) && persistErr != nil {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "storage unavailable",
			RequestID: requestID,
		}, http.StatusInternalServerError
	}

	// Channel errors normally stay inside the live layer; if one escapes to
	// an HTTP boundary, report the upstream without detail.
	var channelErr *core.ChannelError
	if errors.As(err, &channelErr) && channelErr != nil {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "voice channel unavailable",
			RequestID: requestID,
		}, http.StatusBadGateway
	}

	// Unknown errors: treat as internal API error (do not leak details by default).
	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrPermission:
		return http.StatusForbidden
	case core.ErrNotFoundType:
		return http.StatusNotFound
	case core.ErrConflict:
		return http.StatusConflict
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrOverloaded:
		return 529
	case core.ErrAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
