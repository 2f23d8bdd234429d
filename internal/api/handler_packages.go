package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"malloy-publisher/internal/catalog"
	"malloy-publisher/internal/domain"
)

// project resolves the projectName URL param against the catalog.
func (h *Handler) project(w http.ResponseWriter, r *http.Request) (*catalog.Project, bool) {
	project, err := h.store.GetProject(r.Context(), chi.URLParam(r, "projectName"), false)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return project, true
}

// pkg resolves the projectName and packageName URL params.
func (h *Handler) pkg(w http.ResponseWriter, r *http.Request) (*catalog.Package, bool) {
	project, ok := h.project(w, r)
	if !ok {
		return nil, false
	}
	pkg, err := project.Package(chi.URLParam(r, "packageName"))
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return pkg, true
}

func (h *Handler) listPackages(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	project, ok := h.project(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, project.ListPackages())
}

func (h *Handler) getPackage(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	if r.URL.Query().Get("reload") == "true" {
		project, ok := h.project(w, r)
		if !ok {
			return
		}
		pkg, err := project.UpdatePackage(r.Context(), chi.URLParam(r, "packageName"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusOK, pkg.Metadata())
		return
	}
	pkg, ok := h.pkg(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, pkg.Metadata())
}

func (h *Handler) addPackage(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	if h.store.Frozen() {
		h.writeError(w, r, domain.ErrFrozenConfig())
		return
	}
	project, ok := h.project(w, r)
	if !ok {
		return
	}
	var cfg domain.PackageConfig
	if err := decodeBody(r, &cfg); err != nil {
		h.writeError(w, r, domain.ErrValidation("invalid request body: %v", err))
		return
	}
	pkg, err := project.AddPackage(r.Context(), cfg)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, pkg.Metadata())
}

func (h *Handler) updatePackage(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	if h.store.Frozen() {
		h.writeError(w, r, domain.ErrFrozenConfig())
		return
	}
	project, ok := h.project(w, r)
	if !ok {
		return
	}
	pkg, err := project.UpdatePackage(r.Context(), chi.URLParam(r, "packageName"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, pkg.Metadata())
}

func (h *Handler) deletePackage(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	if h.store.Frozen() {
		h.writeError(w, r, domain.ErrFrozenConfig())
		return
	}
	project, ok := h.project(w, r)
	if !ok {
		return
	}
	if err := project.DeletePackage(chi.URLParam(r, "packageName")); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) listDatabases(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	pkg, ok := h.pkg(w, r)
	if !ok {
		return
	}
	databases, err := pkg.ListDatabases(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, databases)
}

func (h *Handler) listSchedules(w http.ResponseWriter, r *http.Request) {
	if !h.waitReady(w, r) {
		return
	}
	pkg, ok := h.pkg(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, pkg.Schedules())
}
