package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON / writeError so all responses
// share one shape:
//
//	success: the resource itself, or {"message": "..."}
//	failure: {"error": "<human-readable message>"}
//
// The frontend only ever has to look at the "error" key.

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sakif/threadline/internal/apperror"
	"github.com/sakif/threadline/internal/auth"
	"github.com/sakif/threadline/internal/repository"
	"github.com/sakif/threadline/internal/service"
)

// maxBodyBytes bounds request bodies. Posts carry inline base64 images, so
// this is larger than a text-only API would need.
const maxBodyBytes = 12 << 20

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse is the body of requests that succeed without returning a
// resource.
type MessageResponse struct {
	Message string `json:"message"`
}

// writeJSON sends data with the given status.
//
// HEADER ORDER MATTERS:
// Headers and status must be set before the body is written; once Encode
// writes, later header changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

func writeMessage(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, MessageResponse{Message: msg})
}

// writeError maps a service error to an HTTP status.
//
// ERROR MAPPING:
//
//	apperror.ErrValidation   → 400
//	apperror.ErrConflict     → 400
//	apperror.ErrUnauthorized → 401
//	apperror.ErrNotFound     → 404
//	anything else            → 500, logged
//
// errors.Is walks the Unwrap chain, so a service error wrapped with
// fmt.Errorf("...: %w", err) still maps correctly. Unexpected errors keep
// their message in the response so operators and clients see the same text.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperror.ErrValidation), errors.Is(err, apperror.ErrConflict):
		status = http.StatusBadRequest
	case errors.Is(err, apperror.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, apperror.ErrNotFound):
		status = http.StatusNotFound
	}

	msg := err.Error()
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}

	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", msg),
		)
	}

	writeJSON(w, status, ErrorResponse{Error: msg})
}

// decodeJSON reads a single JSON object from the body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return apperror.ValidationFailed("", "Request body too large")
		case errors.Is(err, io.EOF):
			return apperror.ValidationFailed("", "Request body is required")
		default:
			return apperror.ValidationFailed("", "Invalid JSON body")
		}
	}
	return nil
}

// pageFromQuery reads ?limit= and ?offset=.
func pageFromQuery(r *http.Request) (repository.ListOptions, error) {
	q := r.URL.Query()
	parse := func(key string) (int, error) {
		v := q.Get(key)
		if v == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, apperror.ValidationFailed(key, key+" must be a non-negative integer")
		}
		return n, nil
	}

	limit, err := parse("limit")
	if err != nil {
		return repository.ListOptions{}, err
	}
	offset, err := parse("offset")
	if err != nil {
		return repository.ListOptions{}, err
	}
	return service.Page(limit, offset), nil
}

// CookieConfig controls the session cookie.
type CookieConfig struct {
	Secure bool
	TTL    time.Duration
}

// setSessionCookie stores the token in an HttpOnly cookie.
//
// HttpOnly keeps it away from page JavaScript. SameSite=Lax keeps it off
// cross-site POSTs but still sends it on the redirect back from GitHub.
// Secure should be on behind HTTPS.
func setSessionCookie(w http.ResponseWriter, cfg CookieConfig, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(cfg.TTL.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// requireUserID returns the caller's id set by auth.RequireAuth.
func requireUserID(r *http.Request) (string, error) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		return "", apperror.Unauthorized("Unauthorized")
	}
	return id, nil
}
