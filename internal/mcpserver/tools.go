package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"malloy-publisher/internal/domain"
	"malloy-publisher/internal/executor"
)

// mustSchema parses a JSON Schema literal; the literals below are static
// and must always parse.
func mustSchema(raw string) *jsonschema.Schema {
	var s jsonschema.Schema
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		panic(err)
	}
	return &s
}

// jsonrpcInvalidParams is the JSON-RPC code reported for validation
// failures surfaced through tool results.
const jsonrpcInvalidParams = -32602

func (s *Server) registerTools() {
	s.mcp.AddTool(&mcp.Tool{
		Name:        "malloy_projectList",
		Description: "List every project in the publisher catalog.",
		InputSchema: mustSchema(`{"type": "object"}`),
	}, s.handleProjectList)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "malloy_packageList",
		Description: "List the packages of a project.",
		InputSchema: mustSchema(`{
			"type": "object",
			"properties": {
				"projectName": {"type": "string", "description": "Project to list packages for"}
			},
			"required": ["projectName"]
		}`),
	}, s.handlePackageList)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "malloy_packageGet",
		Description: "Get a package's metadata together with its models and notebooks.",
		InputSchema: mustSchema(`{
			"type": "object",
			"properties": {
				"projectName": {"type": "string"},
				"packageName": {"type": "string"}
			},
			"required": ["projectName", "packageName"]
		}`),
	}, s.handlePackageGet)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "malloy_modelGetText",
		Description: "Read the raw Malloy source text of a model or notebook file.",
		InputSchema: mustSchema(`{
			"type": "object",
			"properties": {
				"projectName": {"type": "string"},
				"packageName": {"type": "string"},
				"modelPath": {"type": "string", "description": "Package-relative path, e.g. 'flights.malloy'"}
			},
			"required": ["projectName", "packageName", "modelPath"]
		}`),
	}, s.handleModelGetText)

	s.mcp.AddTool(&mcp.Tool{
		Name:        "malloy_executeQuery",
		Description: "Run a Malloy query against a model. Provide either 'query' (ad-hoc Malloy text) or 'queryName' (a named query of the model, optionally scoped by 'sourceName'), never both. Results are capped at 1000 rows.",
		InputSchema: mustSchema(`{
			"type": "object",
			"properties": {
				"projectName": {"type": "string"},
				"packageName": {"type": "string"},
				"modelPath": {"type": "string", "description": "Package-relative path of the model"},
				"query": {"type": "string", "description": "Ad-hoc Malloy query text"},
				"sourceName": {"type": "string", "description": "Source scoping queryName to a view"},
				"queryName": {"type": "string", "description": "Named query of the model"},
				"versionId": {"type": "string", "description": "Reserved; any value is rejected as not implemented"}
			},
			"required": ["projectName", "packageName", "modelPath"]
		}`),
	}, s.handleExecuteQuery)
}

func (s *Server) handleProjectList(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.store.WaitReady(ctx); err != nil {
		return toolError(err), nil
	}
	return toolResult(s.store.ListProjects()), nil
}

func (s *Server) handlePackageList(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return toolError(err), nil
	}
	if err := s.store.WaitReady(ctx); err != nil {
		return toolError(err), nil
	}
	project, err := s.store.GetProject(ctx, stringArg(args, "projectName"), false)
	if err != nil {
		return toolError(err), nil
	}
	return toolResult(project.ListPackages()), nil
}

func (s *Server) handlePackageGet(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return toolError(err), nil
	}
	if err := s.store.WaitReady(ctx); err != nil {
		return toolError(err), nil
	}
	project, err := s.store.GetProject(ctx, stringArg(args, "projectName"), false)
	if err != nil {
		return toolError(err), nil
	}
	pkg, err := project.Package(stringArg(args, "packageName"))
	if err != nil {
		return toolError(err), nil
	}
	return toolResult(map[string]interface{}{
		"metadata":  pkg.Metadata(),
		"models":    pkg.ListModels(),
		"notebooks": pkg.ListNotebooks(),
	}), nil
}

func (s *Server) handleModelGetText(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return toolError(err), nil
	}
	if err := s.store.WaitReady(ctx); err != nil {
		return toolError(err), nil
	}
	project, err := s.store.GetProject(ctx, stringArg(args, "projectName"), false)
	if err != nil {
		return toolError(err), nil
	}
	pkg, err := project.Package(stringArg(args, "packageName"))
	if err != nil {
		return toolError(err), nil
	}
	text, err := pkg.GetModelFileText(stringArg(args, "modelPath"))
	if err != nil {
		return toolError(err), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil
}

func (s *Server) handleExecuteQuery(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return toolError(err), nil
	}
	if err := s.store.WaitReady(ctx); err != nil {
		return toolError(err), nil
	}
	execReq := executor.Request{
		ProjectName: stringArg(args, "projectName"),
		PackageName: stringArg(args, "packageName"),
		ModelPath:   stringArg(args, "modelPath"),
		Query:       stringArg(args, "query"),
		SourceName:  stringArg(args, "sourceName"),
		QueryName:   stringArg(args, "queryName"),
		VersionID:   stringArg(args, "versionId"),
	}
	result, err := s.executor.ExecuteQuery(ctx, execReq)
	if err != nil {
		return toolError(err), nil
	}

	uri := ResourceURI{
		Project:   execReq.ProjectName,
		Package:   execReq.PackageName,
		ModelPath: execReq.ModelPath,
	}.String() + "#result"
	payload := map[string]interface{}{
		"id":         result.ID,
		"data":       map[string]interface{}{"array_value": result.Result},
		"totalRows":  result.TotalRows,
		"modelDef":   result.ModelDef,
		"dataStyles": result.DataStyles,
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.EmbeddedResource{
				Resource: &mcp.ResourceContents{URI: uri, MIMEType: "application/json", Text: jsonText(payload)},
			},
		},
	}, nil
}

// toolResult marshals data as the single text content of a success result.
func toolResult(data interface{}) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: jsonText(data)}},
	}
}

// toolError renders a failed call. Validation failures carry the JSON-RPC
// invalid-params code in their message; everything else embeds the error
// payload with suggestions.
func toolError(err error) *mcp.CallToolResult {
	var validation *domain.ValidationError
	text := errorPayload(err)
	if errors.As(err, &validation) {
		text = fmt.Sprintf("MCP error %d: %s", jsonrpcInvalidParams, validation.Message)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}

// parseArgs unmarshals the raw JSON arguments into a map.
func parseArgs(req *mcp.CallToolRequest) (map[string]interface{}, error) {
	if len(req.Params.Arguments) == 0 {
		return map[string]interface{}{}, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(req.Params.Arguments, &m); err != nil {
		return nil, domain.ErrValidation("invalid arguments: %v", err)
	}
	return m, nil
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}
