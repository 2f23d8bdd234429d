package malloy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"malloy-publisher/internal/domain"
)

// ServiceRuntime delegates compilation and execution to an external Malloy
// compiler service over HTTP. The service owns the actual Malloy toolchain;
// the publisher ships it the file contents and connection definitions.
type ServiceRuntime struct {
	baseURL string
	client  *http.Client
}

// NewServiceRuntime creates a runtime talking to the compiler service at
// baseURL (e.g. http://localhost:4040).
func NewServiceRuntime(baseURL string) *ServiceRuntime {
	return &ServiceRuntime{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

type compileRequest struct {
	ProjectName string              `json:"projectName"`
	PackageName string              `json:"packageName"`
	Path        string              `json:"path"`
	Source      string              `json:"source"`
	Connections []domain.Connection `json:"connections,omitempty"`
}

type queryRequest struct {
	compileRequest
	Query      string `json:"query,omitempty"`
	SourceName string `json:"sourceName,omitempty"`
	QueryName  string `json:"queryName,omitempty"`
	RowLimit   int    `json:"rowLimit,omitempty"`
}

type serviceError struct {
	Message  string    `json:"message"`
	Problems []Problem `json:"problems,omitempty"`
}

// CompileModel compiles a .malloy file.
func (r *ServiceRuntime) CompileModel(ctx context.Context, file ModelFile) (*Model, error) {
	var out Model
	if err := r.post(ctx, "/compile", r.compilePayload(file), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompileNotebook compiles a .malloynb file.
func (r *ServiceRuntime) CompileNotebook(ctx context.Context, file ModelFile) (*Notebook, error) {
	var out Notebook
	if err := r.post(ctx, "/compileNotebook", r.compilePayload(file), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunQuery executes a query against the compiled model.
func (r *ServiceRuntime) RunQuery(ctx context.Context, file ModelFile, req QueryRequest) (*Result, error) {
	payload := queryRequest{
		compileRequest: r.compilePayload(file),
		Query:          req.Query,
		SourceName:     req.SourceName,
		QueryName:      req.QueryName,
		RowLimit:       req.RowLimit,
	}
	var out Result
	if err := r.post(ctx, "/query", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *ServiceRuntime) compilePayload(file ModelFile) compileRequest {
	source, err := os.ReadFile(file.AbsolutePath)
	if err != nil {
		// Surfaced by the service as a compile problem; keep the request whole.
		source = nil
	}
	return compileRequest{
		ProjectName: file.ProjectName,
		PackageName: file.PackageName,
		Path:        file.Path,
		Source:      string(source),
		Connections: file.Connections,
	}
}

func (r *ServiceRuntime) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("malloy service %s: %w", path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		var svcErr serviceError
		if json.Unmarshal(data, &svcErr) == nil && svcErr.Message != "" {
			return &Error{Message: svcErr.Message, Problems: svcErr.Problems}
		}
		return &Error{Message: fmt.Sprintf("malloy service %s returned %d", path, resp.StatusCode)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
