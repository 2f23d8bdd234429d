package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"malloy-publisher/internal/connections"
	"malloy-publisher/internal/domain"
)

func (h *Handler) registry(w http.ResponseWriter, r *http.Request) (*connections.Registry, bool) {
	project, ok := h.project(w, r)
	if !ok {
		return nil, false
	}
	return project.Registry(), true
}

func (h *Handler) listConnections(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	reg, ok := h.registry(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, reg.List())
}

func (h *Handler) getConnection(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	reg, ok := h.registry(w, r)
	if !ok {
		return
	}
	conn, err := reg.Get(chi.URLParam(r, "connectionName"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, conn)
}

func (h *Handler) testConnection(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	reg, ok := h.registry(w, r)
	if !ok {
		return
	}
	if err := reg.Test(r.Context(), chi.URLParam(r, "connectionName")); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) sqlSource(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	reg, ok := h.registry(w, r)
	if !ok {
		return
	}
	def, err := reg.SQLSource(r.Context(), chi.URLParam(r, "connectionName"), r.URL.Query().Get("sqlStatement"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, def)
}

func (h *Handler) tableSource(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	reg, ok := h.registry(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	def, err := reg.TableSource(r.Context(), chi.URLParam(r, "connectionName"), q.Get("tableKey"), q.Get("tablePath"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, def)
}

func (h *Handler) queryData(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	reg, ok := h.registry(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	var options connections.QueryDataOptions
	if raw := q.Get("options"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &options); err != nil {
			h.writeError(w, r, domain.ErrValidation("invalid options parameter: %v", err))
			return
		}
	}
	data, err := reg.QueryData(r.Context(), chi.URLParam(r, "connectionName"), q.Get("sqlStatement"), options)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, data)
}

func (h *Handler) temporaryTable(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	reg, ok := h.registry(w, r)
	if !ok {
		return
	}
	table, err := reg.TemporaryTable(r.Context(), chi.URLParam(r, "connectionName"), r.URL.Query().Get("sqlStatement"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"temporaryTable": table})
}
