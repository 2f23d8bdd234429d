package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"malloy-publisher/internal/catalog"
	"malloy-publisher/internal/connections"
	"malloy-publisher/internal/domain"
	"malloy-publisher/internal/executor"
	"malloy-publisher/internal/malloy"
)

type stubRuntime struct{}

func (stubRuntime) CompileModel(context.Context, malloy.ModelFile) (*malloy.Model, error) {
	return &malloy.Model{
		Sources: []domain.Source{{Name: "flights", Views: []domain.View{{Name: "by_carrier"}}}},
		Queries: []domain.Query{{Name: "top_routes"}},
	}, nil
}

func (stubRuntime) CompileNotebook(context.Context, malloy.ModelFile) (*malloy.Notebook, error) {
	return &malloy.Notebook{}, nil
}

func (stubRuntime) RunQuery(context.Context, malloy.ModelFile, malloy.QueryRequest) (*malloy.Result, error) {
	return &malloy.Result{Rows: []map[string]interface{}{{"n": 1}}, TotalRows: 1}, nil
}

type stubFetcher struct{}

func (stubFetcher) Fetch(context.Context, string, string, string) (string, error) {
	panic("not implemented")
}

func newTestMCPServer(t *testing.T) *Server {
	t.Helper()
	root := t.TempDir()
	pkgDir := filepath.Join(root, "analytics", "flights")
	require.NoError(t, os.MkdirAll(pkgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pkgDir, "flights.malloy"), []byte("source: flights"), 0o644))
	opsDir := filepath.Join(root, "ops", "metrics")
	require.NoError(t, os.MkdirAll(opsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(opsDir, "metrics.malloy"), []byte("source: metrics"), 0o644))
	configJSON := `{"projects": [
		{"name": "analytics", "packages": [{"name": "flights"}]},
		{"name": "ops", "packages": [{"name": "metrics"}]}
	]}`
	require.NoError(t, os.WriteFile(filepath.Join(root, "publisher.config.json"), []byte(configJSON), 0o644))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store := catalog.NewStore(root, stubFetcher{}, func(string, *connections.Registry) malloy.Runtime {
		return stubRuntime{}
	}, logger)
	store.Init(context.Background())
	require.NoError(t, store.WaitReady(context.Background()))
	t.Cleanup(store.Close)

	return NewServer(store, executor.NewService(store, logger), logger)
}

func callRequest(args string) *mcp.CallToolRequest {
	return &mcp.CallToolRequest{
		Params: &mcp.CallToolParamsRaw{
			Name:      "malloy_executeQuery",
			Arguments: json.RawMessage(args),
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestExecuteQueryTool_BothQueryAndQueryName(t *testing.T) {
	s := newTestMCPServer(t)
	result, err := s.handleExecuteQuery(context.Background(), callRequest(`{
		"projectName": "analytics",
		"packageName": "flights",
		"modelPath": "flights.malloy",
		"query": "run: flights -> {}",
		"queryName": "top_routes"
	}`))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "MCP error -32602: Cannot provide both 'query' and 'queryName'", resultText(t, result))
}

func TestExecuteQueryTool_NeitherQueryNorQueryName(t *testing.T) {
	s := newTestMCPServer(t)
	result, err := s.handleExecuteQuery(context.Background(), callRequest(`{
		"projectName": "analytics",
		"packageName": "flights",
		"modelPath": "flights.malloy"
	}`))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "MCP error -32602: Must provide either 'query' or 'queryName'", resultText(t, result))
}

func TestExecuteQueryTool_Success(t *testing.T) {
	s := newTestMCPServer(t)
	result, err := s.handleExecuteQuery(context.Background(), callRequest(`{
		"projectName": "analytics",
		"packageName": "flights",
		"modelPath": "flights.malloy",
		"queryName": "top_routes"
	}`))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	require.Len(t, result.Content, 1)
	res, ok := result.Content[0].(*mcp.EmbeddedResource)
	require.True(t, ok)
	assert.Equal(t, "application/json", res.Resource.MIMEType)
	assert.Contains(t, res.Resource.URI, "#result")

	var payload struct {
		Data struct {
			ArrayValue []map[string]interface{} `json:"array_value"`
		} `json:"data"`
		TotalRows int `json:"totalRows"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.Resource.Text), &payload))
	assert.Equal(t, 1, payload.TotalRows)
	assert.Len(t, payload.Data.ArrayValue, 1)
}

func TestExecuteQueryTool_UnknownModelCarriesSuggestions(t *testing.T) {
	s := newTestMCPServer(t)
	result, err := s.handleExecuteQuery(context.Background(), callRequest(`{
		"projectName": "analytics",
		"packageName": "flights",
		"modelPath": "missing.malloy",
		"queryName": "top_routes"
	}`))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	var payload struct {
		Error       string   `json:"error"`
		Suggestions []string `json:"suggestions"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &payload))
	assert.Equal(t, "Resource not found: Model 'missing.malloy'", payload.Error)
	assert.NotEmpty(t, payload.Suggestions)
}

func TestExecuteQueryTool_VersionIDNotImplemented(t *testing.T) {
	s := newTestMCPServer(t)
	result, err := s.handleExecuteQuery(context.Background(), callRequest(`{
		"projectName": "analytics",
		"packageName": "flights",
		"modelPath": "flights.malloy",
		"queryName": "top_routes",
		"versionId": "v1"
	}`))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Not implemented: versionId")
}

func TestReadResource_ProjectEnumeratesAllPackages(t *testing.T) {
	s := newTestMCPServer(t)
	result, err := s.readResource(context.Background(), &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{
			URI: "malloy://project/analytics",
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Contents, 1)

	var payload struct {
		Definition struct {
			Packages []struct {
				ProjectName string                   `json:"projectName"`
				Packages    []domain.PackageMetadata `json:"packages"`
			} `json:"packages"`
		} `json:"definition"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Contents[0].Text), &payload))
	assert.Equal(t, "analytics", payload.Metadata["name"])

	// Reading one project's resource still enumerates the whole catalog.
	require.Len(t, payload.Definition.Packages, 2)
	assert.Equal(t, "analytics", payload.Definition.Packages[0].ProjectName)
	require.Len(t, payload.Definition.Packages[0].Packages, 1)
	assert.Equal(t, "flights", payload.Definition.Packages[0].Packages[0].Name)
	assert.Equal(t, "ops", payload.Definition.Packages[1].ProjectName)
	require.Len(t, payload.Definition.Packages[1].Packages, 1)
	assert.Equal(t, "metrics", payload.Definition.Packages[1].Packages[0].Name)
}

func TestReadResource_Model(t *testing.T) {
	s := newTestMCPServer(t)
	result, err := s.readResource(context.Background(), &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{
			URI: "malloy://project/analytics/package/flights/models/flights.malloy",
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Contents, 1)

	var payload struct {
		Definition domain.CompiledModel   `json:"definition"`
		Metadata   map[string]interface{} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Contents[0].Text), &payload))
	assert.Equal(t, "flights.malloy", payload.Definition.ModelPath)
	assert.Equal(t, "flights.malloy", payload.Metadata["path"])
}

func TestReadResource_PackageContents(t *testing.T) {
	s := newTestMCPServer(t)
	result, err := s.readResource(context.Background(), &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{
			URI: "malloy://project/analytics/package/flights/contents",
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Contents, 1)

	var descriptors []struct {
		URI  string `json:"uri"`
		Name string `json:"name"`
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Contents[0].Text), &descriptors))
	require.Len(t, descriptors, 1)
	assert.Equal(t, "malloy://project/analytics/package/flights/models/flights.malloy", descriptors[0].URI)
	assert.Equal(t, "model", descriptors[0].Type)
}

func TestReadResource_UnknownEmbedsErrorPayload(t *testing.T) {
	s := newTestMCPServer(t)
	result, err := s.readResource(context.Background(), &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{
			URI: "malloy://project/analytics/package/missing",
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Contents, 1)

	var payload struct {
		Error       string   `json:"error"`
		Suggestions []string `json:"suggestions"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Contents[0].Text), &payload))
	assert.Equal(t, "Resource not found: Package 'missing'", payload.Error)
	assert.NotEmpty(t, payload.Suggestions)
}

func TestPrompt_SummarizeModelInjectsDefinition(t *testing.T) {
	s := newTestMCPServer(t)
	var def promptDef
	for _, d := range promptDefs {
		if d.name == "summarize-malloy-model" {
			def = d
		}
	}
	require.NotEmpty(t, def.name)

	handler := s.promptHandler(def)
	_, err := handler(context.Background(), &mcp.GetPromptRequest{
		Params: &mcp.GetPromptParams{Name: def.name},
	})
	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)

	result, err := handler(context.Background(), &mcp.GetPromptRequest{
		Params: &mcp.GetPromptParams{
			Name: def.name,
			Arguments: map[string]string{
				"modelUri": "malloy://project/analytics/package/flights/models/flights.malloy",
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)
	text, ok := result.Messages[0].Content.(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, `"flights"`)
	assert.NotContains(t, text.Text, "{{modelContext}}")
}

func TestPrompt_RenderTemplate(t *testing.T) {
	out := renderTemplate("Explore {{modelUri}} for {{question}}", map[string]string{
		"modelUri": "malloy://project/p/package/k/models/m.malloy",
		"question": "top routes",
	})
	assert.Equal(t, "Explore malloy://project/p/package/k/models/m.malloy for top routes", out)
}
