// Package api exposes the publisher catalog over REST under /api/v0.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"malloy-publisher/internal/catalog"
	"malloy-publisher/internal/executor"
)

// Handler carries the services every endpoint group depends on.
type Handler struct {
	store    *catalog.Store
	executor *executor.Service
	logger   *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(store *catalog.Store, exec *executor.Service, logger *slog.Logger) *Handler {
	return &Handler{store: store, executor: exec, logger: logger.With("component", "api")}
}

// writeJSON encodes v as the response body with the given status.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("write response", "error", err)
	}
}

// writeError maps a domain error to its status and writes the envelope.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatusFromDomainError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	h.writeJSON(w, status, apiError{Code: status, Message: err.Error()})
}

// decodeBody parses a JSON request body into dst.
func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// waitReady blocks the request until catalog initialization completes.
// Returns false after writing the error when initialization failed.
func (h *Handler) waitReady(w http.ResponseWriter, r *http.Request) bool {
	if err := h.store.WaitReady(r.Context()); err != nil {
		h.writeError(w, r, err)
		return false
	}
	return true
}
