package catalog

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"malloy-publisher/internal/domain"
	"malloy-publisher/internal/malloy"
)

// ManifestName is the per-package manifest file.
const ManifestName = "publisher.json"

// Package is one loaded package: the scanned model set plus its manifest.
// A Package is immutable after load; reloads build a replacement.
type Package struct {
	projectName string
	name        string
	root        string
	manifest    domain.PackageManifest
	models      map[string]*Model // keyed by package-relative path
	databases   []string          // relative paths of embedded data files
	schedules   []domain.Schedule
}

// loadPackage scans root for models, notebooks, embedded databases, and the
// optional publisher.json and publisher.schedules.json manifests.
func loadPackage(ctx context.Context, projectName, name, root string, runtime malloy.Runtime, conns []domain.Connection) (*Package, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, domain.ErrPackageNotFound(name)
	}

	p := &Package{
		projectName: projectName,
		name:        name,
		root:        root,
		models:      make(map[string]*Model),
	}
	if err := p.loadManifest(); err != nil {
		return nil, err
	}

	// Manifest connections extend the project's set for this package.
	fileConns := conns
	if len(p.manifest.Connections) > 0 {
		fileConns = append(append([]domain.Connection{}, conns...), p.manifest.Connections...)
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		switch {
		case strings.HasSuffix(rel, ".malloy"), strings.HasSuffix(rel, ".malloynb"):
			p.models[rel] = newModel(projectName, name, rel, path, runtime, fileConns)
		case strings.HasSuffix(rel, ".parquet"), strings.HasSuffix(rel, ".csv"):
			p.databases = append(p.databases, rel)
		}
		return nil
	})
	if err != nil {
		return nil, domain.ErrConfig("scan package '%s': %v", name, err)
	}
	sort.Strings(p.databases)

	if err := p.loadSchedules(); err != nil {
		return nil, err
	}
	return p, nil
}

// loadManifest parses publisher.json if present. An absent manifest is valid.
func (p *Package) loadManifest() error {
	raw, err := os.ReadFile(filepath.Join(p.root, ManifestName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return domain.ErrConfig("read %s for package '%s': %v", ManifestName, p.name, err)
	}
	if err := json.Unmarshal(raw, &p.manifest); err != nil {
		return domain.ErrConfig("parse %s for package '%s': %v", ManifestName, p.name, err)
	}
	for _, conn := range p.manifest.Connections {
		if err := conn.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Name returns the package name.
func (p *Package) Name() string { return p.name }

// Root returns the package's absolute directory.
func (p *Package) Root() string { return p.root }

// Metadata returns the package snapshot for listings.
func (p *Package) Metadata() domain.PackageMetadata {
	return domain.PackageMetadata{
		Name:        p.name,
		Resource:    "/api/v0/projects/" + p.projectName + "/packages/" + p.name,
		Description: p.manifest.Description,
		Location:    p.manifest.Location,
	}
}

// ListModels returns descriptors for every .malloy model, sorted by path.
func (p *Package) ListModels() []domain.ModelInfo {
	return p.listByKind(domain.ModelTypeModel)
}

// ListNotebooks returns descriptors for every .malloynb notebook, sorted by path.
func (p *Package) ListNotebooks() []domain.ModelInfo {
	return p.listByKind(domain.ModelTypeNotebook)
}

func (p *Package) listByKind(kind domain.ModelType) []domain.ModelInfo {
	out := make([]domain.ModelInfo, 0, len(p.models))
	for _, m := range p.models {
		if m.Kind() == kind {
			out = append(out, m.Info())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Model returns the model at the package-relative path.
func (p *Package) Model(path string) (*Model, error) {
	m, ok := p.models[path]
	if !ok {
		return nil, domain.ErrModelNotFound(path)
	}
	return m, nil
}

// GetModelFileText returns the raw source text of a model file.
func (p *Package) GetModelFileText(path string) (string, error) {
	if _, ok := p.models[path]; !ok {
		return "", domain.ErrModelNotFound(path)
	}
	raw, err := os.ReadFile(filepath.Join(p.root, filepath.FromSlash(path)))
	if err != nil {
		return "", domain.ErrModelNotFound(path)
	}
	return string(raw), nil
}

// Schedules returns the package's schedule manifest entries.
func (p *Package) Schedules() []domain.Schedule {
	return p.schedules
}
