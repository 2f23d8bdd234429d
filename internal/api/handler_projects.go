package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"malloy-publisher/internal/domain"
)

func (h *Handler) listProjects(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	h.writeJSON(w, http.StatusOK, h.store.ListProjects())
}

func (h *Handler) getProject(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	reload := r.URL.Query().Get("reload") == "true"
	project, err := h.store.GetProject(r.Context(), chi.URLParam(r, "projectName"), reload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, project.Metadata())
}

func (h *Handler) addProject(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	var cfg domain.ProjectConfig
	if err := decodeBody(r, &cfg); err != nil {
		h.writeError(w, r, domain.ErrValidation("invalid request body: %v", err))
		return
	}
	project, err := h.store.AddProject(r.Context(), cfg)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, project.Metadata())
}

func (h *Handler) updateProject(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	var cfg domain.ProjectConfig
	if err := decodeBody(r, &cfg); err != nil {
		h.writeError(w, r, domain.ErrValidation("invalid request body: %v", err))
		return
	}
	project, err := h.store.UpdateProject(r.Context(), chi.URLParam(r, "projectName"), cfg)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, project.Metadata())
}

func (h *Handler) deleteProject(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	if err := h.store.DeleteProject(chi.URLParam(r, "projectName")); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) watchStatus(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	h.writeJSON(w, http.StatusOK, h.store.Watcher().Status())
}

func (h *Handler) startWatch(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	var body struct {
		ProjectName string `json:"projectName"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, domain.ErrValidation("invalid request body: %v", err))
		return
	}
	if body.ProjectName == "" {
		h.writeError(w, r, domain.ErrValidation("projectName is required"))
		return
	}
	if err := h.store.Watcher().Start(r.Context(), body.ProjectName); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.store.Watcher().Status())
}

func (h *Handler) stopWatch(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	h.store.Watcher().Stop()
	h.writeJSON(w, http.StatusOK, h.store.Watcher().Status())
}
