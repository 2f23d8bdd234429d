package catalog

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"malloy-publisher/internal/config"
	"malloy-publisher/internal/connections"
	"malloy-publisher/internal/domain"
	"malloy-publisher/internal/malloy"
)

type fakeFetcher struct {
	fetchFn func(ctx context.Context, projectName, packageName, location string) (string, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, projectName, packageName, location string) (string, error) {
	if f.fetchFn == nil {
		panic("not implemented")
	}
	return f.fetchFn(ctx, projectName, packageName, location)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func compilingFactory() RuntimeFactory {
	return func(string, *connections.Registry) malloy.Runtime {
		return &fakeRuntime{
			compileModelFn: func(context.Context, malloy.ModelFile) (*malloy.Model, error) {
				return simpleModel(), nil
			},
			compileNotebookFn: func(context.Context, malloy.ModelFile) (*malloy.Notebook, error) {
				return &malloy.Notebook{Cells: []domain.NotebookCell{{Type: domain.CellMarkdown, Text: "# hi"}}}, nil
			},
		}
	}
}

// writeTestCatalog lays out a server root with one project and one package.
func writeTestCatalog(t *testing.T, frozen bool) string {
	t.Helper()
	root := t.TempDir()
	pkgDir := filepath.Join(root, "analytics", "flights")
	require.NoError(t, os.MkdirAll(filepath.Join(pkgDir, "nested"), 0o755))

	files := map[string]string{
		filepath.Join(root, "analytics", "README.md"):     "# Analytics\n",
		filepath.Join(pkgDir, "publisher.json"):           `{"description": "Flight data"}`,
		filepath.Join(pkgDir, "flights.malloy"):           "source: flights is table('flights.parquet')",
		filepath.Join(pkgDir, "nested", "deep.malloy"):    "source: deep is table('x')",
		filepath.Join(pkgDir, "tour.malloynb"):            `{"cells": []}`,
		filepath.Join(pkgDir, "publisher.schedules.json"): `[{"resource": "flights.malloy", "schedule": "0 * * * *", "action": "refresh", "connection": "duckdb"}]`,
	}
	for path, content := range files {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	frozenLit := "false"
	if frozen {
		frozenLit = "true"
	}
	configJSON := `{
		"frozenConfig": ` + frozenLit + `,
		"projects": [
			{"name": "analytics", "packages": [{"name": "flights"}]}
		]
	}`
	require.NoError(t, os.WriteFile(filepath.Join(root, "publisher.config.json"), []byte(configJSON), 0o644))
	return root
}

func newTestStore(t *testing.T, root string) *Store {
	t.Helper()
	store := NewStore(root, &fakeFetcher{}, compilingFactory(), testLogger())
	store.Init(context.Background())
	require.NoError(t, store.WaitReady(context.Background()))
	t.Cleanup(store.Close)
	return store
}

func TestStore_InitLoadsProjects(t *testing.T) {
	store := newTestStore(t, writeTestCatalog(t, false))

	projects := store.ListProjects()
	require.Len(t, projects, 1)
	assert.Equal(t, "analytics", projects[0].Name)
	assert.Equal(t, "# Analytics\n", projects[0].Readme)

	project, err := store.GetProject(context.Background(), "analytics", false)
	require.NoError(t, err)

	packages := project.ListPackages()
	require.Len(t, packages, 1)
	assert.Equal(t, "flights", packages[0].Name)
	assert.Equal(t, "Flight data", packages[0].Description)
}

func TestStore_PackageScan(t *testing.T) {
	store := newTestStore(t, writeTestCatalog(t, false))
	project, err := store.GetProject(context.Background(), "analytics", false)
	require.NoError(t, err)
	pkg, err := project.Package("flights")
	require.NoError(t, err)

	models := pkg.ListModels()
	require.Len(t, models, 2)
	assert.Equal(t, "flights.malloy", models[0].Path)
	assert.Equal(t, "nested/deep.malloy", models[1].Path)

	notebooks := pkg.ListNotebooks()
	require.Len(t, notebooks, 1)
	assert.Equal(t, "tour.malloynb", notebooks[0].Path)
	assert.Equal(t, domain.ModelTypeNotebook, notebooks[0].Type)

	schedules := pkg.Schedules()
	require.Len(t, schedules, 1)
	assert.Equal(t, "0 * * * *", schedules[0].Schedule)
	require.NotNil(t, schedules[0].NextRunTime)

	text, err := pkg.GetModelFileText("flights.malloy")
	require.NoError(t, err)
	assert.Contains(t, text, "source: flights")
}

func TestStore_NotFoundErrors(t *testing.T) {
	store := newTestStore(t, writeTestCatalog(t, false))

	_, err := store.GetProject(context.Background(), "missing", false)
	require.Error(t, err)
	assert.Equal(t, "Resource not found: project 'missing'", err.Error())

	project, err := store.GetProject(context.Background(), "analytics", false)
	require.NoError(t, err)
	_, err = project.Package("missing")
	require.Error(t, err)
	assert.Equal(t, "Resource not found: Package 'missing'", err.Error())

	pkg, err := project.Package("flights")
	require.NoError(t, err)
	_, err = pkg.Model("missing.malloy")
	require.Error(t, err)
	assert.Equal(t, "Resource not found: Model 'missing.malloy'", err.Error())
}

func TestStore_FrozenConfigRejectsMutations(t *testing.T) {
	store := newTestStore(t, writeTestCatalog(t, true))

	var frozen *domain.FrozenConfigError
	_, err := store.AddProject(context.Background(), domain.ProjectConfig{Name: "other"})
	require.ErrorAs(t, err, &frozen)

	_, err = store.UpdateProject(context.Background(), "analytics", domain.ProjectConfig{})
	require.ErrorAs(t, err, &frozen)

	err = store.DeleteProject("analytics")
	require.ErrorAs(t, err, &frozen)

	// Reads still work.
	assert.Len(t, store.ListProjects(), 1)
}

func TestStore_AddAndDeleteProject(t *testing.T) {
	root := writeTestCatalog(t, false)
	otherDir := filepath.Join(root, "other", "pkg")
	require.NoError(t, os.MkdirAll(otherDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(otherDir, "m.malloy"), []byte("source: m is table('t')"), 0o644))

	store := newTestStore(t, root)

	project, err := store.AddProject(context.Background(), domain.ProjectConfig{Name: "other"})
	require.NoError(t, err)
	assert.Equal(t, "other", project.Name())
	assert.Len(t, store.ListProjects(), 2)

	_, err = store.AddProject(context.Background(), domain.ProjectConfig{Name: "other"})
	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)

	require.NoError(t, store.DeleteProject("other"))
	assert.Len(t, store.ListProjects(), 1)
	// Files stay on disk.
	_, statErr := os.Stat(otherDir)
	assert.NoError(t, statErr)
}

func TestStore_ConcurrentAddProjectSingleWinner(t *testing.T) {
	root := writeTestCatalog(t, false)
	otherDir := filepath.Join(root, "other", "pkg")
	require.NoError(t, os.MkdirAll(otherDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(otherDir, "m.malloy"), []byte("source: m is table('t')"), 0o644))

	store := newTestStore(t, root)

	const racers = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	var successes atomic.Int32
	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := store.AddProject(context.Background(), domain.ProjectConfig{Name: "other"}); err == nil {
				successes.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Len(t, store.ListProjects(), 2)
}

func TestProject_ConcurrentAddPackageSingleWinner(t *testing.T) {
	root := writeTestCatalog(t, false)
	extraDir := filepath.Join(root, "analytics", "extra")
	require.NoError(t, os.MkdirAll(extraDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(extraDir, "e.malloy"), []byte("source: e is table('t')"), 0o644))

	store := newTestStore(t, root)
	project, err := store.GetProject(context.Background(), "analytics", false)
	require.NoError(t, err)

	const racers = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	var successes atomic.Int32
	for range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := project.AddPackage(context.Background(), domain.PackageConfig{Name: "extra"}); err == nil {
				successes.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Len(t, project.ListPackages(), 2)
}

func TestStore_MutationsPersistConfig(t *testing.T) {
	root := writeTestCatalog(t, false)
	otherDir := filepath.Join(root, "other", "pkg")
	require.NoError(t, os.MkdirAll(otherDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(otherDir, "m.malloy"), []byte("source: m is table('t')"), 0o644))
	extraDir := filepath.Join(root, "analytics", "extra")
	require.NoError(t, os.MkdirAll(extraDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(extraDir, "e.malloy"), []byte("source: e is table('t')"), 0o644))

	store := newTestStore(t, root)

	_, err := store.AddProject(context.Background(), domain.ProjectConfig{Name: "other"})
	require.NoError(t, err)
	project, err := store.GetProject(context.Background(), "analytics", false)
	require.NoError(t, err)
	_, err = project.AddPackage(context.Background(), domain.PackageConfig{Name: "extra"})
	require.NoError(t, err)

	cfg, err := config.LoadPublisherConfig(root)
	require.NoError(t, err)
	require.Len(t, cfg.Projects, 2)
	assert.Equal(t, "analytics", cfg.Projects[0].Name)
	require.Len(t, cfg.Projects[0].Packages, 2)
	assert.Equal(t, "extra", cfg.Projects[0].Packages[0].Name)
	assert.Equal(t, "flights", cfg.Projects[0].Packages[1].Name)
	assert.Equal(t, "other", cfg.Projects[1].Name)

	require.NoError(t, store.DeleteProject("other"))
	cfg, err = config.LoadPublisherConfig(root)
	require.NoError(t, err)
	require.Len(t, cfg.Projects, 1)
	assert.Equal(t, "analytics", cfg.Projects[0].Name)
}

func TestProject_AddUpdateDeletePackage(t *testing.T) {
	root := writeTestCatalog(t, false)
	extraDir := filepath.Join(root, "analytics", "extra")
	require.NoError(t, os.MkdirAll(extraDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(extraDir, "e.malloy"), []byte("source: e is table('t')"), 0o644))

	store := newTestStore(t, root)
	project, err := store.GetProject(context.Background(), "analytics", false)
	require.NoError(t, err)

	pkg, err := project.AddPackage(context.Background(), domain.PackageConfig{Name: "extra"})
	require.NoError(t, err)
	assert.Len(t, pkg.ListModels(), 1)

	_, err = project.AddPackage(context.Background(), domain.PackageConfig{Name: "extra"})
	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)

	// A new file shows up after an update, not before.
	require.NoError(t, os.WriteFile(filepath.Join(extraDir, "late.malloy"), []byte("source: l is table('t')"), 0o644))
	assert.Len(t, pkg.ListModels(), 1)
	updated, err := project.UpdatePackage(context.Background(), "extra")
	require.NoError(t, err)
	assert.Len(t, updated.ListModels(), 2)

	require.NoError(t, project.DeletePackage("extra"))
	_, err = project.Package("extra")
	require.Error(t, err)
}

func TestProject_RemotePackageUsesFetcher(t *testing.T) {
	root := writeTestCatalog(t, false)
	fetched := filepath.Join(t.TempDir(), "fetched")
	require.NoError(t, os.MkdirAll(fetched, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(fetched, "r.malloy"), []byte("source: r is table('t')"), 0o644))

	var gotLocation string
	fetcher := &fakeFetcher{
		fetchFn: func(_ context.Context, _, _, location string) (string, error) {
			gotLocation = location
			return fetched, nil
		},
	}
	store := NewStore(root, fetcher, compilingFactory(), testLogger())
	store.Init(context.Background())
	require.NoError(t, store.WaitReady(context.Background()))
	t.Cleanup(store.Close)

	project, err := store.GetProject(context.Background(), "analytics", false)
	require.NoError(t, err)
	pkg, err := project.AddPackage(context.Background(), domain.PackageConfig{
		Name:     "remote",
		Location: "gs://bucket/remote",
	})
	require.NoError(t, err)
	assert.Equal(t, "gs://bucket/remote", gotLocation)
	assert.Len(t, pkg.ListModels(), 1)
}
