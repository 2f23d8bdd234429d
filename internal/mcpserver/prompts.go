package mcpserver

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"malloy-publisher/internal/domain"
)

// promptVersion tags every prompt so clients can detect template changes.
const promptVersion = "1.0.0"

// promptDef pairs a prompt declaration with its {{var}} template. Templates
// referencing modelUri get the URI validated and the compiled model embedded
// as context.
type promptDef struct {
	name        string
	description string
	arguments   []*mcp.PromptArgument
	template    string
}

var promptDefs = []promptDef{
	{
		name:        "explain-malloy-query",
		description: "Explain what a Malloy query does against its model.",
		arguments: []*mcp.PromptArgument{
			{Name: "modelUri", Description: "Resource URI of the model the query targets", Required: true},
			{Name: "query", Description: "The Malloy query text to explain", Required: true},
		},
		template: "Explain the following Malloy query against the model at {{modelUri}}.\n\n" +
			"Query:\n{{query}}\n\n" +
			"Model definition:\n{{modelContext}}\n\n" +
			"Describe what it computes, which source and fields it uses, and what the result rows mean.",
	},
	{
		name:        "generate-malloy-query-from-description",
		description: "Draft a Malloy query against a model from a natural-language description.",
		arguments: []*mcp.PromptArgument{
			{Name: "modelUri", Description: "Resource URI of the model to query", Required: true},
			{Name: "description", Description: "What the query should answer", Required: true},
		},
		template: "Write a Malloy query answering: {{description}}\n\n" +
			"Target model: {{modelUri}}\n\n" +
			"Model definition:\n{{modelContext}}\n\n" +
			"Use run: with an existing source and validate field names against the definition above. " +
			"Then execute it with the malloy_executeQuery tool.",
	},
	{
		name:        "translate-sql-to-malloy",
		description: "Translate a SQL statement into the equivalent Malloy query for a model.",
		arguments: []*mcp.PromptArgument{
			{Name: "modelUri", Description: "Resource URI of the model providing the sources", Required: true},
			{Name: "sqlQuery", Description: "The SQL statement to translate", Required: true},
		},
		template: "Translate this SQL into a Malloy query over the model at {{modelUri}}.\n\n" +
			"SQL:\n{{sqlQuery}}\n\n" +
			"Model definition:\n{{modelContext}}\n\n" +
			"Map tables to sources and columns to fields; prefer existing views where they match.",
	},
	{
		name:        "summarize-malloy-model",
		description: "Summarize a Malloy model: its sources, dimensions, measures, and views.",
		arguments: []*mcp.PromptArgument{
			{Name: "modelUri", Description: "Resource URI of the model to summarize", Required: true},
		},
		template: "Summarize the Malloy model at {{modelUri}}.\n\n" +
			"Model definition:\n{{modelContext}}\n\n" +
			"Describe each source, its fields and views, and suggest three questions this model can answer.",
	},
}

func (s *Server) registerPrompts() {
	for _, def := range promptDefs {
		s.mcp.AddPrompt(&mcp.Prompt{
			Name:        def.name + "@" + promptVersion,
			Description: def.description,
			Arguments:   def.arguments,
		}, s.promptHandler(def))
	}
}

func (s *Server) promptHandler(def promptDef) mcp.PromptHandler {
	return func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		vars := map[string]string{}
		for _, arg := range def.arguments {
			v := req.Params.Arguments[arg.Name]
			if arg.Required && v == "" {
				return nil, domain.ErrValidation("prompt '%s': missing required argument '%s'", def.name, arg.Name)
			}
			vars[arg.Name] = v
		}
		if uri, ok := vars["modelUri"]; ok && strings.Contains(def.template, "{{modelContext}}") {
			vars["modelContext"] = s.modelContext(ctx, uri)
		}
		return &mcp.GetPromptResult{
			Description: def.description,
			Messages: []*mcp.PromptMessage{
				{Role: "user", Content: &mcp.TextContent{Text: renderTemplate(def.template, vars)}},
			},
		}, nil
	}
}

// modelContext resolves a model URI to its compiled definition, or an
// error payload the prompt consumer can act on.
func (s *Server) modelContext(ctx context.Context, uri string) string {
	payload, err := s.resolveResource(ctx, uri)
	if err != nil {
		return errorPayload(err)
	}
	return payload
}

// renderTemplate substitutes {{name}} tokens with their values.
func renderTemplate(template string, vars map[string]string) string {
	out := template
	for name, value := range vars {
		out = strings.ReplaceAll(out, "{{"+name+"}}", value)
	}
	return out
}
