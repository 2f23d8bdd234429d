// Package malloy defines the boundary to the Malloy compiler/runtime.
// The publisher treats the compiler as a black box: it hands over a model
// file plus the connection definitions of the owning project and gets back
// compiled artifacts or result rows.
package malloy

import (
	"context"
	"encoding/json"

	"malloy-publisher/internal/domain"
)

// ModelFile identifies one model or notebook on disk together with the
// connection definitions it may reference.
type ModelFile struct {
	ProjectName  string
	PackageName  string
	Path         string // package-relative, e.g. "flights.malloy"
	AbsolutePath string
	Connections  []domain.Connection
}

// Model is the compiled artifact of a .malloy file.
type Model struct {
	Sources    []domain.Source
	Queries    []domain.Query
	DataStyles map[string]interface{}
	Def        json.RawMessage // opaque compiler model definition
}

// Notebook is the compiled artifact of a .malloynb file.
type Notebook struct {
	Cells []domain.NotebookCell
}

// QueryRequest describes one execution against a compiled model. Exactly
// one of Query or QueryName is set; SourceName scopes QueryName to a view.
type QueryRequest struct {
	Query      string
	SourceName string
	QueryName  string
	RowLimit   int
}

// Result is the raw outcome of a query execution before row capping.
type Result struct {
	Rows       []map[string]interface{}
	TotalRows  int
	Schema     []domain.Column
	DataStyles map[string]interface{}
}

// Runtime is the black-box Malloy compiler/runtime contract. All methods
// are interruptible through ctx; implementations must stop work when the
// context is cancelled.
type Runtime interface {
	CompileModel(ctx context.Context, file ModelFile) (*Model, error)
	CompileNotebook(ctx context.Context, file ModelFile) (*Notebook, error)
	RunQuery(ctx context.Context, file ModelFile, req QueryRequest) (*Result, error)
}

// Problem is one diagnostic reported by the compiler or runtime.
type Problem struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Line     int    `json:"line,omitempty"`
}

// Error is a structured Malloy compile or runtime failure.
type Error struct {
	Message  string    `json:"message"`
	Problems []Problem `json:"problems,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// ProblemMessages flattens the diagnostics for the domain error taxonomy.
func (e *Error) ProblemMessages() []string {
	out := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		out = append(out, p.Message)
	}
	return out
}
