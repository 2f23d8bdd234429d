package domain

import "time"

// RowLimit caps the number of rows returned from any query execution.
const RowLimit = 1000

// ModelType distinguishes .malloy models from .malloynb notebooks.
type ModelType string

const (
	ModelTypeModel    ModelType = "model"
	ModelTypeNotebook ModelType = "notebook"
)

// ProjectMetadata is the read-only snapshot of a project exposed to callers.
type ProjectMetadata struct {
	Name     string `json:"name"`
	Resource string `json:"resource,omitempty"`
	Location string `json:"location,omitempty"`
	Readme   string `json:"readme,omitempty"`
}

// PackageMetadata is the read-only snapshot of a package.
type PackageMetadata struct {
	Name        string `json:"name"`
	Resource    string `json:"resource,omitempty"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
}

// PackageManifest is the parsed publisher.json of a package.
type PackageManifest struct {
	Name        string       `json:"name,omitempty"`
	Description string       `json:"description,omitempty"`
	Location    string       `json:"location,omitempty"`
	Connections []Connection `json:"connections,omitempty"`
}

// ModelInfo identifies one model or notebook within a package.
type ModelInfo struct {
	ProjectName string    `json:"projectName"`
	PackageName string    `json:"packageName"`
	Path        string    `json:"path"`
	Type        ModelType `json:"type"`
}

// Column is a named, typed column of a source or database file.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// View is a named shape nested inside a source.
type View struct {
	Name       string `json:"name"`
	Definition string `json:"definition,omitempty"`
}

// Query is a named, top-level runnable query in a model.
type Query struct {
	Name       string `json:"name"`
	Definition string `json:"definition,omitempty"`
}

// Source is a named relation within a model.
type Source struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns,omitempty"`
	Views   []View   `json:"views,omitempty"`
}

// CompiledModel is the exposed entity for a compiled .malloy file.
type CompiledModel struct {
	ProjectName string                 `json:"projectName"`
	PackageName string                 `json:"packageName"`
	ModelPath   string                 `json:"modelPath"`
	Type        ModelType              `json:"type"`
	Sources     []Source               `json:"sources,omitempty"`
	Queries     []Query                `json:"queries,omitempty"`
	DataStyles  map[string]interface{} `json:"dataStyles,omitempty"`
}

// NotebookCellType is either a markdown or code cell.
type NotebookCellType string

const (
	CellMarkdown NotebookCellType = "markdown"
	CellCode     NotebookCellType = "code"
)

// NotebookCell is one cell of a compiled notebook.
type NotebookCell struct {
	Type       NotebookCellType `json:"type"`
	Text       string           `json:"text"`
	NewSources []Source         `json:"newSources,omitempty"`
	Result     string           `json:"result,omitempty"`
}

// CompiledNotebook is the exposed entity for a compiled .malloynb file.
type CompiledNotebook struct {
	ProjectName   string         `json:"projectName"`
	PackageName   string         `json:"packageName"`
	NotebookPath  string         `json:"notebookPath"`
	NotebookCells []NotebookCell `json:"notebookCells"`
}

// QueryResult is the row set and supporting artifacts of one execution.
type QueryResult struct {
	ID         string                   `json:"id,omitempty"`
	Result     []map[string]interface{} `json:"result"`
	TotalRows  int                      `json:"totalRows"`
	ModelDef   interface{}              `json:"modelDef,omitempty"`
	DataStyles map[string]interface{}   `json:"dataStyles,omitempty"`
}

// Database describes a data file embedded in a package.
type Database struct {
	Path string       `json:"path"`
	Info DatabaseInfo `json:"info"`
}

// DatabaseInfo is the derived schema of an embedded database file.
type DatabaseInfo struct {
	RowCount int64    `json:"rowCount"`
	Columns  []Column `json:"columns,omitempty"`
}

// Schedule is a listed (never executed) schedule manifest entry.
type Schedule struct {
	Resource      string     `json:"resource"`
	Schedule      string     `json:"schedule"`
	Action        string     `json:"action"`
	Connection    string     `json:"connection"`
	NextRunTime   *time.Time `json:"nextRunTime,omitempty"`
	LastRunTime   *int64     `json:"lastRunTime,omitempty"`
	LastRunStatus *string    `json:"lastRunStatus,omitempty"`
}

// WatchStatus reports the state of the single active file watcher.
type WatchStatus struct {
	Enabled      bool   `json:"enabled"`
	WatchingPath string `json:"watchingPath,omitempty"`
	ProjectName  string `json:"projectName,omitempty"`
}

// PackageConfig is a package entry in the publisher config or a project update.
type PackageConfig struct {
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

// ProjectConfig is one project entry of the publisher config.
type ProjectConfig struct {
	Name        string          `json:"name"`
	Path        string          `json:"path,omitempty"`
	Readme      string          `json:"readme,omitempty"`
	Packages    []PackageConfig `json:"packages,omitempty"`
	Connections []Connection    `json:"connections,omitempty"`
}

// PublisherConfig is the parsed publisher.config.json after env substitution.
type PublisherConfig struct {
	FrozenConfig bool            `json:"frozenConfig"`
	Projects     []ProjectConfig `json:"projects"`
}

// Project returns the config entry for the named project, if present.
func (c *PublisherConfig) Project(name string) (ProjectConfig, bool) {
	for _, p := range c.Projects {
		if p.Name == name {
			return p, true
		}
	}
	return ProjectConfig{}, false
}
