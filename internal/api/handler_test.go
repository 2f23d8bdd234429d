package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"malloy-publisher/internal/catalog"
	"malloy-publisher/internal/connections"
	"malloy-publisher/internal/domain"
	"malloy-publisher/internal/executor"
	"malloy-publisher/internal/malloy"
)

type stubRuntime struct {
	compileErr error
}

func (s *stubRuntime) CompileModel(context.Context, malloy.ModelFile) (*malloy.Model, error) {
	if s.compileErr != nil {
		return nil, s.compileErr
	}
	return &malloy.Model{
		Sources: []domain.Source{{Name: "flights"}},
		Queries: []domain.Query{{Name: "top_routes"}},
	}, nil
}

func (s *stubRuntime) CompileNotebook(context.Context, malloy.ModelFile) (*malloy.Notebook, error) {
	return &malloy.Notebook{Cells: []domain.NotebookCell{{Type: domain.CellMarkdown, Text: "# tour"}}}, nil
}

func (s *stubRuntime) RunQuery(context.Context, malloy.ModelFile, malloy.QueryRequest) (*malloy.Result, error) {
	return &malloy.Result{Rows: []map[string]interface{}{{"n": 1}}, TotalRows: 1}, nil
}

type stubFetcher struct{}

func (stubFetcher) Fetch(context.Context, string, string, string) (string, error) {
	panic("not implemented")
}

func newTestServer(t *testing.T, rt malloy.Runtime, frozen bool) *httptest.Server {
	t.Helper()
	root := t.TempDir()
	pkgDir := filepath.Join(root, "analytics", "flights")
	require.NoError(t, os.MkdirAll(pkgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pkgDir, "flights.malloy"), []byte("source: flights"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pkgDir, "tour.malloynb"), []byte("{}"), 0o644))

	frozenLit := "false"
	if frozen {
		frozenLit = "true"
	}
	configJSON := `{"frozenConfig": ` + frozenLit + `, "projects": [{"name": "analytics", "packages": [{"name": "flights"}]}]}`
	require.NoError(t, os.WriteFile(filepath.Join(root, "publisher.config.json"), []byte(configJSON), 0o644))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store := catalog.NewStore(root, stubFetcher{}, func(string, *connections.Registry) malloy.Runtime {
		return rt
	}, logger)
	store.Init(context.Background())
	require.NoError(t, store.WaitReady(context.Background()))
	t.Cleanup(store.Close)

	handler := NewHandler(store, executor.NewService(store, logger), logger)
	srv := httptest.NewServer(handler.NewRouter(RouterOptions{}))
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec // test server URL
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestAPI_ListProjects(t *testing.T) {
	srv := newTestServer(t, &stubRuntime{}, false)

	var projects []domain.ProjectMetadata
	status := getJSON(t, srv.URL+"/api/v0/projects", &projects)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, projects, 1)
	assert.Equal(t, "analytics", projects[0].Name)
}

func TestAPI_GetModel(t *testing.T) {
	srv := newTestServer(t, &stubRuntime{}, false)

	var model domain.CompiledModel
	status := getJSON(t, srv.URL+"/api/v0/projects/analytics/packages/flights/models/flights.malloy", &model)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "flights.malloy", model.ModelPath)
	require.Len(t, model.Sources, 1)
	assert.Equal(t, "flights", model.Sources[0].Name)
}

func TestAPI_NotFoundStatus(t *testing.T) {
	srv := newTestServer(t, &stubRuntime{}, false)

	var body apiError
	status := getJSON(t, srv.URL+"/api/v0/projects/missing", &body)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, http.StatusNotFound, body.Code)
	assert.Equal(t, "Resource not found: project 'missing'", body.Message)
}

func TestAPI_CompilationErrorStatus(t *testing.T) {
	rt := &stubRuntime{compileErr: &malloy.Error{Message: "bad model"}}
	srv := newTestServer(t, rt, false)

	var body apiError
	status := getJSON(t, srv.URL+"/api/v0/projects/analytics/packages/flights/models/flights.malloy", &body)
	assert.Equal(t, http.StatusFailedDependency, status)
	assert.Equal(t, "bad model", body.Message)
}

func TestAPI_VersionIDIsNotImplemented(t *testing.T) {
	srv := newTestServer(t, &stubRuntime{}, false)

	paths := []string{
		"/api/v0/projects?versionId=v1",
		"/api/v0/projects/analytics/packages/flights/models/flights.malloy?versionId=v1",
		"/api/v0/projects/analytics/packages/flights/queryResults/flights.malloy?versionId=v1&queryName=top_routes",
	}
	for _, path := range paths {
		var body apiError
		status := getJSON(t, srv.URL+path, &body)
		assert.Equal(t, http.StatusNotImplemented, status, path)
		assert.Equal(t, 501, body.Code, path)
	}
}

func TestAPI_QueryResolutionValidation(t *testing.T) {
	srv := newTestServer(t, &stubRuntime{}, false)
	base := srv.URL + "/api/v0/projects/analytics/packages/flights/queryResults/flights.malloy"

	var body apiError
	status := getJSON(t, base+"?query=run&queryName=top_routes", &body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Cannot provide both 'query' and 'queryName'", body.Message)

	status = getJSON(t, base, &body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Must provide either 'query' or 'queryName'", body.Message)

	var result domain.QueryResult
	status = getJSON(t, base+"?queryName=top_routes", &result)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, result.TotalRows)
}

func TestAPI_FrozenConfigReturns403(t *testing.T) {
	srv := newTestServer(t, &stubRuntime{}, true)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v0/projects",
		strings.NewReader(`{"name": "other"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/v0/projects/analytics/packages", "application/json",
		strings.NewReader(`{"name": "new-pkg"}`))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAPI_Health(t *testing.T) {
	srv := newTestServer(t, &stubRuntime{}, false)
	var body map[string]string
	status := getJSON(t, srv.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestAPI_WatchMode(t *testing.T) {
	srv := newTestServer(t, &stubRuntime{}, false)

	var status domain.WatchStatus
	code := getJSON(t, srv.URL+"/api/v0/watchMode/status", &status)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, status.Enabled)

	resp, err := http.Post(srv.URL+"/api/v0/watchMode/start", "application/json",
		strings.NewReader(`{"projectName": "analytics"}`))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	code = getJSON(t, srv.URL+"/api/v0/watchMode/status", &status)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, status.Enabled)
	assert.Equal(t, "analytics", status.ProjectName)

	resp, err = http.Post(srv.URL+"/api/v0/watchMode/stop", "application/json", nil)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	code = getJSON(t, srv.URL+"/api/v0/watchMode/status", &status)
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, status.Enabled)
}

func TestAPI_GetNotebook(t *testing.T) {
	srv := newTestServer(t, &stubRuntime{}, false)

	var nb domain.CompiledNotebook
	status := getJSON(t, srv.URL+"/api/v0/projects/analytics/packages/flights/notebooks/tour.malloynb", &nb)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, nb.NotebookCells, 1)

	// A notebook fetched through the models route is a kind mismatch.
	var body apiError
	status = getJSON(t, srv.URL+"/api/v0/projects/analytics/packages/flights/models/tour.malloynb", &body)
	assert.Equal(t, http.StatusNotFound, status)
}
