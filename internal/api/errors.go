// Package api provides HTTP API utilities including standardized error handling.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/qwermap/qwermap/internal/middleware"
	"github.com/qwermap/qwermap/internal/moderation"
	"github.com/qwermap/qwermap/internal/place"
	"github.com/qwermap/qwermap/internal/registry"
)

// Error categories reported in the "error" field of the response envelope.
const (
	CategoryBadRequest  = "Bad Request"
	CategoryRateLimited = "Rate Limited"
	CategoryNotFound    = "Not Found"
	CategoryConflict    = "Conflict"
	CategoryServer      = "Internal Server Error"
)

// Machine-readable error codes reported in the "code" field. Field-specific
// validation codes (INVALID_TYPE, MISSING_FIELD, ...) come from the place
// package's validation errors.
const (
	ErrCodeMissingFingerprint = "MISSING_FINGERPRINT"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	ErrCodeAlreadyUpvoted     = "ALREADY_UPVOTED"
	ErrCodeAlreadyModerated   = "ALREADY_MODERATED"
	ErrCodePlaceNotFound      = "PLACE_NOT_FOUND"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeServer             = "SERVER_ERROR"
)

// ErrorResponse is the standard error response envelope. All API errors
// return JSON in this structure:
//
//	{"error": "Bad Request", "message": "...", "code": "INVALID_COORDS"}
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// WriteError writes a standardized JSON error response with the given status.
// The code is recorded on the request context so the logging middleware tags
// the request log line with it.
func WriteError(w http.ResponseWriter, ctx context.Context, status int, category, code, message string) {
	ctx = middleware.SetErrorCode(ctx, code)
	middleware.UpdateResponseContext(w, ctx)

	errResp := ErrorResponse{
		Error:   category,
		Message: message,
		Code:    code,
	}

	data, err := json.Marshal(errResp)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// WriteDomainError maps a domain error to its HTTP status, category, and code
// and writes the envelope. Unrecognized errors become 500 SERVER_ERROR with a
// generic message so internals never leak to clients.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var ve *place.ValidationError
	if errors.As(err, &ve) {
		WriteError(w, ctx, http.StatusBadRequest, CategoryBadRequest, ve.Code, ve.Message)
		return
	}

	var rle *registry.RateLimitedError
	if errors.As(err, &rle) {
		WriteError(w, ctx, http.StatusTooManyRequests, CategoryRateLimited, ErrCodeRateLimited, rle.Error())
		return
	}

	switch {
	case errors.Is(err, registry.ErrMissingFingerprint):
		WriteError(w, ctx, http.StatusBadRequest, CategoryBadRequest, ErrCodeMissingFingerprint, err.Error())
	case errors.Is(err, registry.ErrAlreadyUpvoted):
		WriteError(w, ctx, http.StatusConflict, CategoryConflict, ErrCodeAlreadyUpvoted, err.Error())
	case errors.Is(err, moderation.ErrAlreadyModerated):
		WriteError(w, ctx, http.StatusConflict, CategoryConflict, ErrCodeAlreadyModerated, err.Error())
	case errors.Is(err, place.ErrNotFound):
		WriteError(w, ctx, http.StatusNotFound, CategoryNotFound, ErrCodePlaceNotFound, "Place with given ID does not exist")
	default:
		slog.ErrorContext(ctx, "request failed", "error", err, "path", r.URL.Path)
		WriteError(w, ctx, http.StatusInternalServerError, CategoryServer, ErrCodeServer, "Internal server error")
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
