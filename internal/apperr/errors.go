// Package apperr defines the error taxonomy shared by every paperlens layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrAlreadyExists     = errors.New("already exists")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNetwork           = errors.New("network error: cannot reach server")
	ErrTimeout           = errors.New("request timed out")
	ErrNotLoggedIn       = errors.New("login required")
	ErrDuplicateBookmark = errors.New("paper is already bookmarked")
	ErrInterestLimit     = errors.New("too many interest categories")
	ErrNoInterests       = errors.New("no interest categories selected")
	ErrDisabled          = errors.New("query disabled")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// duplicateMarkers are substrings the backend uses in duplicate-bookmark messages.
var duplicateMarkers = []string{"already", "duplicate", "exists", "이미"}

// APIError is the uniform error for a non-2xx backend response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Is lets callers match an APIError against the sentinel errors.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConflict:
		return e.Status == http.StatusConflict
	case ErrDuplicateBookmark:
		return IsDuplicateMessage(e.Message)
	}
	return false
}

// FallbackMessage is used when the backend gives no message of its own.
func FallbackMessage(status int) string {
	return fmt.Sprintf("요청 처리 중 오류가 발생했습니다. (%d)", status)
}

// IsDuplicateMessage reports whether msg looks like a duplicate/conflict rejection.
func IsDuplicateMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, m := range duplicateMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// NetworkError means no response was received at all.
type NetworkError struct {
	Err     error
	Timeout bool
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return ErrTimeout.Error()
	}
	return ErrNetwork.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) Is(target error) bool {
	if target == ErrNetwork {
		return true
	}
	return target == ErrTimeout && e.Timeout
}

// Status extracts the HTTP status from err, or 0.
func Status(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsClientError reports a 4xx backend rejection; those are never retried.
func IsClientError(err error) bool {
	s := Status(err)
	return s >= 400 && s < 500
}
