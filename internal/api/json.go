package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/paperlens/internal/apperr"
	"github.com/starford/paperlens/internal/checksum"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

// writeList writes a list response with an ETag over the encoded body and
// answers 304 when the client already holds it.
func writeList(w http.ResponseWriter, r *http.Request, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	etag := checksum.ETag(buf.Bytes())
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && checksum.Matches(match, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type errResponse struct {
	Error string `json:"error"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// statusOf maps a service error to the gateway status code.
func statusOf(err error) int {
	switch {
	case errors.Is(err, apperr.ErrInvalidArgument),
		errors.Is(err, apperr.ErrNoInterests),
		errors.Is(err, apperr.ErrInterestLimit):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotLoggedIn),
		errors.Is(err, apperr.ErrDisabled),
		errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrDuplicateBookmark),
		errors.Is(err, apperr.ErrConflict),
		errors.Is(err, apperr.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, apperr.ErrNetwork):
		return http.StatusBadGateway
	}
	if apperr.IsClientError(err) {
		return apperr.Status(err)
	}
	if apperr.Status(err) != 0 {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError logs unexpected failures and writes {error}. Client-facing
// messages pass through; internal ones are hidden.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		slog.Error(op+" failed", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		writeJSON(w, status, errorBody("internal error"))
		return
	}
	if status >= http.StatusInternalServerError {
		slog.Warn(op+" failed", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
	}
	msg := err.Error()
	var apiErr *apperr.APIError
	if errors.As(err, &apiErr) {
		msg = apiErr.Message
	}
	writeJSON(w, status, errorBody(msg))
}
