package api

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/eternalsentinel/sentinel/internal/pkg/httputil"
	"github.com/eternalsentinel/sentinel/internal/store"
)

// respondStoreError maps the store's tagged errors onto the HTTP error
// taxonomy. Anything unrecognized is treated as internal and sanitized:
// database and transport details never reach untrusted callers.
func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		httputil.NotFound(w, "not found")
	case errors.Is(err, store.ErrExpired):
		httputil.JSON(w, http.StatusBadRequest, map[string]any{
			"error":   "expired",
			"expired": true,
		})
	case errors.Is(err, store.ErrAlreadyResolved):
		httputil.JSON(w, http.StatusBadRequest, map[string]any{
			"error":  "already resolved",
			"reason": "already_resolved",
		})
	case errors.Is(err, store.ErrAlreadyTriggered):
		httputil.JSON(w, http.StatusBadRequest, map[string]any{
			"error":  "account already released",
			"reason": "already_triggered",
		})
	case errors.Is(err, store.ErrConflict):
		httputil.JSON(w, http.StatusBadRequest, map[string]any{
			"error":  "conflict",
			"reason": "conflict",
		})
	case errors.Is(err, store.ErrUnavailable):
		log.Printf("ERROR [503]: store unavailable: %v", err)
		httputil.Error(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		log.Printf("ERROR [500]: %v", err)
		httputil.Error(w, http.StatusInternalServerError, safeErrorMessage(err))
	}
}

// safeErrorMessage returns a public-safe message for a 5xx. The full error
// is logged by the caller; the client sees only a coarse category.
func safeErrorMessage(err error) string {
	if err == nil {
		return "an internal error occurred"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "dial tcp"):
		return "service temporarily unavailable"
	case strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "context canceled"):
		return "request timed out"
	case strings.Contains(msg, "sql") ||
		strings.Contains(msg, "pq:") ||
		strings.Contains(msg, "transaction"):
		return "a database error occurred"
	default:
		return "an internal error occurred"
	}
}
