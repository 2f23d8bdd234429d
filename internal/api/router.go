package api

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"malloy-publisher/internal/domain"
)

// RouterOptions configures the HTTP surface around the API handler.
type RouterOptions struct {
	// FrontendURL, when set, proxies non-API requests to a dev frontend.
	FrontendURL string
	// MCP, when set, mounts the MCP streaming handler at /mcp.
	MCP http.Handler
}

// NewRouter builds the chi router: middleware, /api/v0 routes, health,
// optional MCP mount, and the optional dev frontend proxy.
func (h *Handler) NewRouter(opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(h.requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)

	r.Route("/api/v0", func(r chi.Router) {
		r.Use(rejectVersionID)

		r.Get("/projects", h.listProjects)
		r.Post("/projects", h.addProject)
		r.Route("/projects/{projectName}", func(r chi.Router) {
			r.Get("/", h.getProject)
			r.Put("/", h.updateProject)
			r.Delete("/", h.deleteProject)

			r.Get("/connections", h.listConnections)
			r.Route("/connections/{connectionName}", func(r chi.Router) {
				r.Get("/", h.getConnection)
				r.Get("/test", h.testConnection)
				r.Get("/sqlSource", h.sqlSource)
				r.Get("/tableSource", h.tableSource)
				r.Get("/queryData", h.queryData)
				r.Get("/temporaryTable", h.temporaryTable)
			})

			r.Get("/packages", h.listPackages)
			r.Post("/packages", h.addPackage)
			r.Route("/packages/{packageName}", func(r chi.Router) {
				r.Get("/", h.getPackage)
				r.Put("/", h.updatePackage)
				r.Delete("/", h.deletePackage)

				r.Get("/models", h.listModels)
				r.Get("/models/*", h.getModel)
				r.Get("/notebooks", h.listNotebooks)
				r.Get("/notebooks/*", h.getNotebook)
				r.Get("/queryResults/*", h.executeQuery)
				r.Get("/databases", h.listDatabases)
				r.Get("/schedules", h.listSchedules)
			})
		})

		r.Get("/watchMode/status", h.watchStatus)
		r.Post("/watchMode/start", h.startWatch)
		r.Post("/watchMode/stop", h.stopWatch)
	})

	if opts.MCP != nil {
		r.Mount("/mcp", opts.MCP)
	}
	if opts.FrontendURL != "" {
		if target, err := url.Parse(opts.FrontendURL); err == nil {
			proxy := httputil.NewSingleHostReverseProxy(target)
			r.NotFound(proxy.ServeHTTP)
		}
	}
	return r
}

// rejectVersionID fails any request carrying the reserved versionId
// parameter. Versioned resources are not implemented.
func rejectVersionID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("versionId") != "" {
			err := domain.ErrNotImplemented("versionId")
			status := http.StatusNotImplemented
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"code":501,"message":"` + err.Message + `"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger emits one structured line per request.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start))
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ready, err := h.store.Ready()
	switch {
	case err != nil:
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "failed", "error": err.Error()})
	case !ready:
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "initializing"})
	default:
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
