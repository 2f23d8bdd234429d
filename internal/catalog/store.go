package catalog

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"malloy-publisher/internal/config"
	"malloy-publisher/internal/domain"
	"malloy-publisher/internal/malloy"
)

// loadConcurrency bounds parallel project loads during initialization.
const loadConcurrency = 4

// Store is the server-wide project catalog. Initialization is asynchronous;
// request handlers block on WaitReady before touching the catalog.
type Store struct {
	serverRoot string
	fetcher    domain.PackageFetcher
	factory    RuntimeFactory
	logger     *slog.Logger

	ready   chan struct{}
	initErr error

	// mutate serializes catalog mutations end to end, so a
	// check-then-load-then-insert sequence cannot interleave with another.
	mutate sync.Mutex

	mu       sync.RWMutex
	frozen   bool
	configs  map[string]domain.ProjectConfig
	projects map[string]*Project

	watcher *Watcher
}

// NewStore creates an uninitialized store rooted at serverRoot.
func NewStore(serverRoot string, fetcher domain.PackageFetcher, factory RuntimeFactory, logger *slog.Logger) *Store {
	s := &Store{
		serverRoot: serverRoot,
		fetcher:    fetcher,
		factory:    factory,
		logger:     logger.With("component", "catalog"),
		ready:      make(chan struct{}),
		configs:    make(map[string]domain.ProjectConfig),
		projects:   make(map[string]*Project),
	}
	s.watcher = newWatcher(s, s.logger)
	return s
}

// Init loads the publisher config and every declared project in the
// background. Errors are reported through WaitReady.
func (s *Store) Init(ctx context.Context) {
	go func() {
		defer close(s.ready)
		s.initErr = s.initialize(ctx)
	}()
}

func (s *Store) initialize(ctx context.Context) error {
	cfg, err := config.LoadPublisherConfig(s.serverRoot)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.frozen = cfg.FrozenConfig
	for _, pc := range cfg.Projects {
		s.configs[pc.Name] = pc
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for _, pc := range cfg.Projects {
		g.Go(func() error {
			project, err := s.loadProject(gctx, pc)
			if err != nil {
				return err
			}
			s.mu.Lock()
			s.projects[pc.Name] = project
			s.mu.Unlock()
			s.logger.Info("loaded project", "project", pc.Name, "path", project.Root())
			return nil
		})
	}
	return g.Wait()
}

func (s *Store) loadProject(ctx context.Context, pc domain.ProjectConfig) (*Project, error) {
	root := pc.Path
	if root == "" {
		root = pc.Name
	}
	if !filepath.IsAbs(root) {
		root = filepath.Join(s.serverRoot, root)
	}
	project, err := loadProject(ctx, pc, root, s.fetcher, s.factory, s.logger)
	if err != nil {
		return nil, err
	}
	project.persist = s.persistConfig
	return project, nil
}

// persistConfig writes the current catalog state back to
// publisher.config.json. The mutation stays applied in memory when the
// write fails; the failure is logged and resurfaces on the next load.
func (s *Store) persistConfig() {
	s.mu.RLock()
	cfg := &domain.PublisherConfig{FrozenConfig: s.frozen, Projects: []domain.ProjectConfig{}}
	names := make([]string, 0, len(s.configs))
	for name := range s.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pc := s.configs[name]
		if p, ok := s.projects[name]; ok {
			pc.Packages = p.PackageConfigs()
		}
		cfg.Projects = append(cfg.Projects, pc)
	}
	s.mu.RUnlock()

	if err := config.WritePublisherConfig(s.serverRoot, cfg); err != nil {
		s.logger.Warn("persist publisher config", "error", err)
	}
}

// WaitReady blocks until initialization finishes and returns its error.
func (s *Store) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return s.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports initialization state without blocking.
func (s *Store) Ready() (bool, error) {
	select {
	case <-s.ready:
		return true, s.initErr
	default:
		return false, nil
	}
}

// Frozen reports whether the publisher config forbids mutations.
func (s *Store) Frozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen
}

func (s *Store) rejectFrozen() error {
	if s.Frozen() {
		return domain.ErrFrozenConfig()
	}
	return nil
}

// ListProjects returns metadata for every loaded project, sorted by name.
func (s *Store) ListProjects() []domain.ProjectMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ProjectMetadata, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p.Metadata())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetProject returns the named project. With reload set, the project's
// packages rescan from disk first.
func (s *Store) GetProject(ctx context.Context, name string, reload bool) (*Project, error) {
	s.mu.RLock()
	p, ok := s.projects[name]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrProjectNotFound(name)
	}
	if reload {
		if err := p.Reload(ctx); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// AddProject loads a new project from its config entry. Rejected when the
// config is frozen or the name is taken.
func (s *Store) AddProject(ctx context.Context, pc domain.ProjectConfig) (*Project, error) {
	if err := s.rejectFrozen(); err != nil {
		return nil, err
	}
	if pc.Name == "" {
		return nil, domain.ErrValidation("project name is required")
	}
	s.mutate.Lock()
	defer s.mutate.Unlock()

	s.mu.RLock()
	_, exists := s.projects[pc.Name]
	s.mu.RUnlock()
	if exists {
		return nil, domain.ErrValidation("project '%s' already exists", pc.Name)
	}

	project, err := s.loadProject(ctx, pc)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.projects[pc.Name] = project
	s.configs[pc.Name] = pc
	s.mu.Unlock()

	s.persistConfig()
	return project, nil
}

// UpdateProject applies a changed config entry to a loaded project. On
// failure the previous snapshot stays visible.
func (s *Store) UpdateProject(ctx context.Context, name string, pc domain.ProjectConfig) (*Project, error) {
	if err := s.rejectFrozen(); err != nil {
		return nil, err
	}
	s.mutate.Lock()
	defer s.mutate.Unlock()

	s.mu.RLock()
	p, ok := s.projects[name]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrProjectNotFound(name)
	}
	pc.Name = name
	if err := p.Update(ctx, pc); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.configs[name] = pc
	s.mu.Unlock()

	s.persistConfig()
	return p, nil
}

// DeleteProject unloads a project and closes its connections. Files on
// disk are untouched.
func (s *Store) DeleteProject(name string) error {
	if err := s.rejectFrozen(); err != nil {
		return err
	}
	s.mutate.Lock()
	defer s.mutate.Unlock()

	s.mu.Lock()
	p, ok := s.projects[name]
	if !ok {
		s.mu.Unlock()
		return domain.ErrProjectNotFound(name)
	}
	delete(s.projects, name)
	delete(s.configs, name)
	s.mu.Unlock()

	s.watcher.stopIfProject(name)
	p.Close()
	s.persistConfig()
	return nil
}

// Watcher exposes the store's file watcher.
func (s *Store) Watcher() *Watcher { return s.watcher }

// Close stops the watcher and releases every project's connections.
func (s *Store) Close() {
	s.watcher.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, p := range s.projects {
		p.Close()
		delete(s.projects, name)
	}
}

// Runtime returns the Malloy runtime of the named project.
func (s *Store) Runtime(name string) (malloy.Runtime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[name]
	if !ok {
		return nil, domain.ErrProjectNotFound(name)
	}
	return p.runtime, nil
}
