package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{
		Type:    ErrInvalidRequest,
		Message: "interview id is required",
	}

	expected := "invalid_request_error: interview id is required"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestError_WithCode(t *testing.T) {
	err := &Error{
		Type:    ErrRateLimit,
		Message: "too many requests",
		Code:    "rate_limit_exceeded",
	}

	expected := "rate_limit_error: too many requests (code: rate_limit_exceeded)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewConflictError(t *testing.T) {
	err := NewConflictError("account already exists")
	if err.Type != ErrConflict {
		t.Errorf("Type = %v, want %v", err.Type, ErrConflict)
	}
	if err.Message != "account already exists" {
		t.Errorf("Message = %q, want %q", err.Message, "account already exists")
	}
}

func TestNewRateLimitError(t *testing.T) {
	err := NewRateLimitError("rate limit exceeded", 60)
	if err.Type != ErrRateLimit {
		t.Errorf("Type = %v, want %v", err.Type, ErrRateLimit)
	}
	if err.RetryAfter == nil || *err.RetryAfter != 60 {
		t.Errorf("RetryAfter = %v, want 60", err.RetryAfter)
	}
}

func TestChannelError_Unwrap(t *testing.T) {
	underlying := errors.New("connection reset")
	err := &ChannelError{Op: "read", Err: underlying}

	if !errors.Is(err, underlying) {
		t.Errorf("errors.Is failed to find underlying error")
	}
	if got := err.Error(); got != "voice channel read: connection reset" {
		t.Errorf("Error() = %q", got)
	}
}

func TestPersistenceError_Unwrap(t *testing.T) {
	underlying := errors.New("connection refused")
	err := fmt.Errorf("create feedback: %w", &PersistenceError{Op: "insert feedback", Err: underlying})

	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("errors.As failed to find PersistenceError")
	}
	if perr.Op != "insert feedback" {
		t.Errorf("Op = %q, want %q", perr.Op, "insert feedback")
	}
	if !errors.Is(err, underlying) {
		t.Errorf("errors.Is failed to find underlying error")
	}
}

func TestSentinels_Distinct(t *testing.T) {
	sentinels := []error{ErrDuplicateAccount, ErrInvalidCredentials, ErrSessionCreation, ErrNotFound}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Errorf("sentinel %d matches sentinel %d", i, j)
			}
		}
	}
}
