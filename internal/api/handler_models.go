package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"malloy-publisher/internal/executor"
)

func (h *Handler) listModels(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	pkg, ok := h.pkg(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, pkg.ListModels())
}

func (h *Handler) listNotebooks(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	pkg, ok := h.pkg(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, pkg.ListNotebooks())
}

func (h *Handler) getModel(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	pkg, ok := h.pkg(w, r)
	if !ok {
		return
	}
	model, err := pkg.Model(chi.URLParam(r, "*"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	compiled, err := model.GetModel(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, compiled)
}

func (h *Handler) getNotebook(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	pkg, ok := h.pkg(w, r)
	if !ok {
		return
	}
	model, err := pkg.Model(chi.URLParam(r, "*"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	compiled, err := model.GetNotebook(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, compiled)
}

func (h *Handler) executeQuery(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	q := r.URL.Query()
	result, err := h.executor.ExecuteQuery(r.Context(), executor.Request{
		ProjectName: chi.URLParam(r, "projectName"),
		PackageName: chi.URLParam(r, "packageName"),
		ModelPath:   chi.URLParam(r, "*"),
		Query:       q.Get("query"),
		SourceName:  q.Get("sourceName"),
		QueryName:   q.Get("queryName"),
		VersionID:   q.Get("versionId"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}
