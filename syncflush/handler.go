// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncflush

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// taskClearCache is the only task the flush endpoint dispatches
const taskClearCache = "clearCache"

// HTTPFlushHandlers serves the query-parameter triggered cache-clearing
// entrypoint: GET ?task=clearCache&data=pages:1,framework:c|k
type HTTPFlushHandlers struct {
	dispatcher *Dispatcher
	auth       *JWTAuth
	logger     *slog.Logger
}

// NewHTTPFlushHandlers creates the flush endpoint handlers. auth may be
// nil to run the endpoint unauthenticated (trusted-network deployments).
func NewHTTPFlushHandlers(dispatcher *Dispatcher, auth *JWTAuth, logger *slog.Logger) *HTTPFlushHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPFlushHandlers{
		dispatcher: dispatcher,
		auth:       auth,
		logger:     logger,
	}
}

// HandleClearCache processes one cache-clear request
func (h *HTTPFlushHandlers) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET method is allowed")
		return
	}

	if h.auth != nil {
		if _, err := h.auth.FromRequest(r); err != nil {
			h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
			return
		}
	}

	query := r.URL.Query()
	if query.Get("task") != taskClearCache {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Unknown task")
		return
	}

	tokens := ParseTokens(query.Get("data"))
	if len(tokens) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "No flush tokens provided")
		return
	}

	flushed, err := h.dispatcher.Dispatch(r.Context(), tokens)
	if err != nil {
		h.logger.Error("Cache flush failed", "error", err, "flushed", flushed)
		h.writeError(w, http.StatusInternalServerError, "flush_failed", "Failed to flush caches")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"flushed": flushed,
	}); err != nil {
		h.logger.Error("Failed to encode flush response", "error", err)
	}
}

func (h *HTTPFlushHandlers) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	}); err != nil {
		h.logger.Error("Failed to encode error response", "error", err)
	}
}
