// Package catalog owns the in-memory hierarchy of projects, packages, and
// models, plus the file watcher that keeps it fresh.
package catalog

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"malloy-publisher/internal/domain"
	"malloy-publisher/internal/malloy"
)

// Model is one lazily-compiled .malloy model or .malloynb notebook. The
// compiled artifact is immutable once produced; a reload replaces the whole
// Model, never mutates it in place.
type Model struct {
	projectName string
	packageName string
	path        string // package-relative, slash-separated
	absPath     string
	kind        domain.ModelType
	runtime     malloy.Runtime
	connections []domain.Connection

	sf       singleflight.Group
	compiled atomic.Pointer[compileOutcome]
}

// compileOutcome memoizes the first compile attempt: exactly one of the
// artifact or err is set.
type compileOutcome struct {
	model    *malloy.Model
	notebook *malloy.Notebook
	err      error
}

// newModel constructs a lazy model; no compilation happens here.
func newModel(projectName, packageName, path, absPath string, runtime malloy.Runtime, conns []domain.Connection) *Model {
	kind := domain.ModelTypeModel
	if strings.HasSuffix(path, ".malloynb") {
		kind = domain.ModelTypeNotebook
	}
	return &Model{
		projectName: projectName,
		packageName: packageName,
		path:        path,
		absPath:     absPath,
		kind:        kind,
		runtime:     runtime,
		connections: conns,
	}
}

// Path returns the package-relative model path.
func (m *Model) Path() string { return m.path }

// Kind reports whether this is a model or a notebook.
func (m *Model) Kind() domain.ModelType { return m.kind }

// Info returns the model descriptor.
func (m *Model) Info() domain.ModelInfo {
	return domain.ModelInfo{
		ProjectName: m.projectName,
		PackageName: m.packageName,
		Path:        m.path,
		Type:        m.kind,
	}
}

func (m *Model) file() malloy.ModelFile {
	return malloy.ModelFile{
		ProjectName:  m.projectName,
		PackageName:  m.packageName,
		Path:         m.path,
		AbsolutePath: m.absPath,
		Connections:  m.connections,
	}
}

// compile runs the memoized, single-flight compilation. Concurrent callers
// for the same model share one compiler invocation.
func (m *Model) compile(ctx context.Context) *compileOutcome {
	if out := m.compiled.Load(); out != nil {
		return out
	}
	result, _, _ := m.sf.Do("compile", func() (interface{}, error) {
		if out := m.compiled.Load(); out != nil {
			return out, nil
		}
		out := &compileOutcome{}
		if m.kind == domain.ModelTypeNotebook {
			nb, err := m.runtime.CompileNotebook(ctx, m.file())
			out.notebook, out.err = nb, wrapCompileError(err)
		} else {
			model, err := m.runtime.CompileModel(ctx, m.file())
			out.model, out.err = model, wrapCompileError(err)
		}
		// Cancellation must not poison the cache for later callers.
		if out.err != nil && (errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded)) {
			return out, nil
		}
		m.compiled.Store(out)
		return out, nil
	})
	return result.(*compileOutcome)
}

// wrapCompileError maps runtime failures into the domain taxonomy.
func wrapCompileError(err error) error {
	if err == nil {
		return nil
	}
	var malloyErr *malloy.Error
	if errors.As(err, &malloyErr) {
		return &domain.CompilationError{
			Message:  malloyErr.Message,
			Problems: malloyErr.ProblemMessages(),
		}
	}
	return &domain.CompilationError{Message: err.Error()}
}

// GetModel compiles (if needed) and returns the exposed CompiledModel.
// A notebook asked for as a model is a ModelNotFound.
func (m *Model) GetModel(ctx context.Context) (*domain.CompiledModel, error) {
	if m.kind != domain.ModelTypeModel {
		return nil, domain.ErrModelNotFound(m.path)
	}
	out := m.compile(ctx)
	if out.err != nil {
		return nil, out.err
	}
	return &domain.CompiledModel{
		ProjectName: m.projectName,
		PackageName: m.packageName,
		ModelPath:   m.path,
		Type:        m.kind,
		Sources:     out.model.Sources,
		Queries:     out.model.Queries,
		DataStyles:  out.model.DataStyles,
	}, nil
}

// GetNotebook compiles (if needed) and returns the exposed CompiledNotebook.
func (m *Model) GetNotebook(ctx context.Context) (*domain.CompiledNotebook, error) {
	if m.kind != domain.ModelTypeNotebook {
		return nil, domain.ErrModelNotFound(m.path)
	}
	out := m.compile(ctx)
	if out.err != nil {
		return nil, out.err
	}
	return &domain.CompiledNotebook{
		ProjectName:   m.projectName,
		PackageName:   m.packageName,
		NotebookPath:  m.path,
		NotebookCells: out.notebook.Cells,
	}, nil
}

// GetSources returns the sources of the compiled model.
func (m *Model) GetSources(ctx context.Context) ([]domain.Source, error) {
	compiled, err := m.GetModel(ctx)
	if err != nil {
		return nil, err
	}
	return compiled.Sources, nil
}

// GetQueries returns the named queries of the compiled model.
func (m *Model) GetQueries(ctx context.Context) ([]domain.Query, error) {
	compiled, err := m.GetModel(ctx)
	if err != nil {
		return nil, err
	}
	return compiled.Queries, nil
}

// GetQueryResults resolves and runs a query against this model. Exactly one
// of queryText or queryName must be supplied; sourceName scopes queryName
// to a view. Rows are capped at domain.RowLimit.
func (m *Model) GetQueryResults(ctx context.Context, sourceName, queryName, queryText string) (*domain.QueryResult, error) {
	switch {
	case queryText != "" && queryName != "":
		return nil, domain.ErrValidation("%s", domain.MsgBothQueryAndQueryName)
	case queryText == "" && queryName == "":
		return nil, domain.ErrValidation("%s", domain.MsgNeitherQueryNorQueryName)
	}
	if m.kind != domain.ModelTypeModel {
		return nil, domain.ErrModelNotFound(m.path)
	}

	// Compilation errors surface before execution.
	out := m.compile(ctx)
	if out.err != nil {
		return nil, out.err
	}

	if queryName != "" && sourceName == "" && !hasNamedQuery(out.model, queryName) {
		return nil, domain.ErrValidation("model '%s' has no query named '%s'", m.path, queryName)
	}
	if sourceName != "" && !hasSource(out.model, sourceName) {
		return nil, domain.ErrValidation("model '%s' has no source named '%s'", m.path, sourceName)
	}

	result, err := m.runtime.RunQuery(ctx, m.file(), malloy.QueryRequest{
		Query:      queryText,
		SourceName: sourceName,
		QueryName:  queryName,
		RowLimit:   domain.RowLimit,
	})
	if err != nil {
		var malloyErr *malloy.Error
		if errors.As(err, &malloyErr) {
			return nil, &domain.QueryError{Message: malloyErr.Message, Problems: malloyErr.ProblemMessages()}
		}
		return nil, err
	}

	rows := result.Rows
	totalRows := result.TotalRows
	if totalRows < len(rows) {
		totalRows = len(rows)
	}
	if len(rows) > domain.RowLimit {
		rows = rows[:domain.RowLimit]
	}
	var modelDef interface{}
	if len(out.model.Def) > 0 {
		modelDef = out.model.Def
	}
	return &domain.QueryResult{
		Result:     rows,
		TotalRows:  totalRows,
		ModelDef:   modelDef,
		DataStyles: out.model.DataStyles,
	}, nil
}

func hasNamedQuery(model *malloy.Model, name string) bool {
	for _, q := range model.Queries {
		if q.Name == name {
			return true
		}
	}
	return false
}

func hasSource(model *malloy.Model, name string) bool {
	for _, s := range model.Sources {
		if s.Name == name {
			return true
		}
	}
	return false
}
