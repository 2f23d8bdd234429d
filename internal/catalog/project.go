package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"malloy-publisher/internal/connections"
	"malloy-publisher/internal/domain"
	"malloy-publisher/internal/malloy"
)

// ConnectionsFileName is the optional per-project connection manifest,
// merged with the connections declared in publisher.config.json.
const ConnectionsFileName = "publisher-connections.json"

// RuntimeFactory builds the Malloy runtime for one project, bound to its
// connection registry.
type RuntimeFactory func(projectName string, registry *connections.Registry) malloy.Runtime

// Project is one loaded project: its package map and connection registry.
type Project struct {
	name    string
	root    string
	readme  string
	fetcher domain.PackageFetcher
	factory RuntimeFactory
	logger  *slog.Logger

	registry *connections.Registry
	runtime  malloy.Runtime

	// persist, when set by the store, writes the catalog config back to
	// disk after a package add or delete.
	persist func()

	// mutate serializes package mutations within the project, so two
	// concurrent adds of the same name cannot both pass the existence check.
	mutate sync.Mutex

	mu       sync.RWMutex
	packages map[string]*Package
	configs  map[string]domain.PackageConfig
}

// loadProject builds a project from its config entry: merges connections,
// opens the registry, and loads every declared package. Packages without a
// location load from <root>/<name>.
func loadProject(ctx context.Context, cfg domain.ProjectConfig, root string, fetcher domain.PackageFetcher, factory RuntimeFactory, logger *slog.Logger) (*Project, error) {
	conns, err := mergeProjectConnections(cfg, root)
	if err != nil {
		return nil, err
	}
	registry, err := connections.NewRegistry(cfg.Name, root, conns, logger)
	if err != nil {
		return nil, err
	}

	p := &Project{
		name:     cfg.Name,
		root:     root,
		readme:   cfg.Readme,
		fetcher:  fetcher,
		factory:  factory,
		logger:   logger,
		registry: registry,
		packages: make(map[string]*Package),
		configs:  make(map[string]domain.PackageConfig),
	}
	p.runtime = factory(cfg.Name, registry)
	if p.readme == "" {
		p.readme = readReadme(root)
	}

	declared := cfg.Packages
	if len(declared) == 0 {
		declared = discoverPackages(root)
	}
	for _, pkg := range declared {
		if err := p.installPackage(ctx, pkg); err != nil {
			registry.Close()
			return nil, err
		}
	}
	return p, nil
}

// mergeProjectConnections combines config connections with the project's
// publisher-connections.json. Config entries win on name conflicts.
func mergeProjectConnections(cfg domain.ProjectConfig, root string) ([]domain.Connection, error) {
	merged := append([]domain.Connection{}, cfg.Connections...)
	seen := make(map[string]bool, len(merged))
	for _, c := range merged {
		seen[c.Name] = true
	}

	raw, err := os.ReadFile(filepath.Join(root, ConnectionsFileName))
	if os.IsNotExist(err) {
		return merged, nil
	}
	if err != nil {
		return nil, domain.ErrConfig("read %s for project '%s': %v", ConnectionsFileName, cfg.Name, err)
	}
	var fileConns []domain.Connection
	if err := json.Unmarshal(raw, &fileConns); err != nil {
		return nil, domain.ErrConfig("parse %s for project '%s': %v", ConnectionsFileName, cfg.Name, err)
	}
	for _, c := range fileConns {
		if !seen[c.Name] {
			merged = append(merged, c)
		}
	}
	return merged, nil
}

// discoverPackages lists subdirectories as implicit packages when the
// project config declares none.
func discoverPackages(root string) []domain.PackageConfig {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var out []domain.PackageConfig
	for _, e := range entries {
		if e.IsDir() && e.Name()[0] != '.' {
			out = append(out, domain.PackageConfig{Name: e.Name()})
		}
	}
	return out
}

func readReadme(root string) string {
	raw, err := os.ReadFile(filepath.Join(root, "README.md"))
	if err != nil {
		return ""
	}
	return string(raw)
}

// Name returns the project name.
func (p *Project) Name() string { return p.name }

// Root returns the project's absolute directory.
func (p *Project) Root() string { return p.root }

// Registry exposes the project's connection registry.
func (p *Project) Registry() *connections.Registry { return p.registry }

// Metadata returns the project snapshot for listings.
func (p *Project) Metadata() domain.ProjectMetadata {
	return domain.ProjectMetadata{
		Name:     p.name,
		Resource: "/api/v0/projects/" + p.name,
		Location: p.root,
		Readme:   p.readme,
	}
}

// ListPackages returns metadata for every loaded package, sorted by name.
func (p *Project) ListPackages() []domain.PackageMetadata {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.PackageMetadata, 0, len(p.packages))
	for _, pkg := range p.packages {
		out = append(out, pkg.Metadata())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Package returns the named loaded package.
func (p *Project) Package(name string) (*Package, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pkg, ok := p.packages[name]
	if !ok {
		return nil, domain.ErrPackageNotFound(name)
	}
	return pkg, nil
}

// AddPackage loads a new package. A remote location is fetched into the
// publisher path first; adding an existing name is a validation error.
func (p *Project) AddPackage(ctx context.Context, cfg domain.PackageConfig) (*Package, error) {
	if cfg.Name == "" {
		return nil, domain.ErrValidation("package name is required")
	}
	p.mutate.Lock()
	defer p.mutate.Unlock()

	p.mu.RLock()
	_, exists := p.packages[cfg.Name]
	p.mu.RUnlock()
	if exists {
		return nil, domain.ErrValidation("package '%s' already exists in project '%s'", cfg.Name, p.name)
	}
	if err := p.installPackage(ctx, cfg); err != nil {
		return nil, err
	}
	if p.persist != nil {
		p.persist()
	}
	return p.Package(cfg.Name)
}

func (p *Project) installPackage(ctx context.Context, cfg domain.PackageConfig) error {
	root := filepath.Join(p.root, cfg.Name)
	if cfg.Location != "" {
		fetched, err := p.fetcher.Fetch(ctx, p.name, cfg.Name, cfg.Location)
		if err != nil {
			return err
		}
		root = fetched
	}
	pkg, err := loadPackage(ctx, p.name, cfg.Name, root, p.runtime, p.registry.Definitions())
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.packages[cfg.Name] = pkg
	p.configs[cfg.Name] = cfg
	p.mu.Unlock()
	return nil
}

// UpdatePackage rescans an existing package from disk, re-fetching remote
// locations. The old snapshot stays visible until the reload succeeds.
func (p *Project) UpdatePackage(ctx context.Context, name string) (*Package, error) {
	p.mutate.Lock()
	defer p.mutate.Unlock()

	p.mu.RLock()
	cfg, ok := p.configs[name]
	p.mu.RUnlock()
	if !ok {
		return nil, domain.ErrPackageNotFound(name)
	}
	root := filepath.Join(p.root, name)
	if cfg.Location != "" {
		fetched, err := p.fetcher.Fetch(ctx, p.name, name, cfg.Location)
		if err != nil {
			return nil, err
		}
		root = fetched
	}
	pkg, err := loadPackage(ctx, p.name, name, root, p.runtime, p.registry.Definitions())
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.packages[name] = pkg
	p.mu.Unlock()
	return pkg, nil
}

// DeletePackage drops a package from the catalog. Files on disk are untouched.
func (p *Project) DeletePackage(name string) error {
	p.mutate.Lock()
	defer p.mutate.Unlock()

	p.mu.Lock()
	if _, ok := p.packages[name]; !ok {
		p.mu.Unlock()
		return domain.ErrPackageNotFound(name)
	}
	delete(p.packages, name)
	delete(p.configs, name)
	p.mu.Unlock()

	if p.persist != nil {
		p.persist()
	}
	return nil
}

// PackageConfigs returns the project's current package config entries,
// sorted by name.
func (p *Project) PackageConfigs() []domain.PackageConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.PackageConfig, 0, len(p.configs))
	for _, cfg := range p.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Update applies a changed project config in place: the connection registry
// is diffed (changed handles close), the readme refreshes, and models reload
// so new connection definitions take effect.
func (p *Project) Update(ctx context.Context, cfg domain.ProjectConfig) error {
	conns, err := mergeProjectConnections(cfg, p.root)
	if err != nil {
		return err
	}
	if err := p.registry.ApplyDefinitions(conns); err != nil {
		return err
	}
	if cfg.Readme != "" {
		p.readme = cfg.Readme
	} else {
		p.readme = readReadme(p.root)
	}
	return p.Reload(ctx)
}

// Reload rescans every loaded package from disk, invalidating compiled
// models. Used by project updates and the file watcher.
func (p *Project) Reload(ctx context.Context) error {
	p.mu.RLock()
	names := make([]string, 0, len(p.configs))
	for name := range p.configs {
		names = append(names, name)
	}
	p.mu.RUnlock()

	for _, name := range names {
		if _, err := p.UpdatePackage(ctx, name); err != nil {
			p.logger.Warn("package reload failed", "project", p.name, "package", name, "error", err)
		}
	}
	return nil
}

// Close releases the project's connection handles.
func (p *Project) Close() {
	p.registry.Close()
}
