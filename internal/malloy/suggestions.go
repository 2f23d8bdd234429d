package malloy

import "strings"

// Suggestions curates remediation hints for common Malloy failure patterns.
// The returned slice is never empty for a non-nil error: callers embed it
// directly into the structured error envelope.
func Suggestions(err error) []string {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "view") && strings.Contains(msg, "not found"),
		strings.Contains(msg, "no such view"):
		return []string{
			"Check that the view name is spelled correctly",
			"Use the source resource to list the views defined on it",
			"Views must be referenced as sourceName->viewName",
		}
	case strings.Contains(msg, "source") && strings.Contains(msg, "not found"),
		strings.Contains(msg, "no such source"):
		return []string{
			"Check that the source name is spelled correctly",
			"Use the model resource to list the sources it defines",
		}
	case strings.Contains(msg, "field") && (strings.Contains(msg, "not found") || strings.Contains(msg, "unknown")):
		return []string{
			"Check that the field name exists on the source",
			"Field names are case sensitive",
			"Use the source resource to inspect its columns",
		}
	case strings.Contains(msg, "reference"):
		return []string{
			"Check that every referenced object is defined or imported by the model",
			"Imports are resolved relative to the model file",
		}
	case strings.Contains(msg, "syntax"), strings.Contains(msg, "parse"), strings.Contains(msg, "unexpected"):
		return []string{
			"Check the Malloy query syntax",
			"Queries take the form: run: sourceName -> { ... }",
		}
	case strings.Contains(msg, "connection"):
		return []string{
			"Check the connection definition for the project",
			"Use the connection test endpoint to verify connectivity",
		}
	case strings.Contains(msg, "not found"):
		return []string{
			"Check the resource URI",
			"Use the parent resource to list what is available",
		}
	default:
		return []string{
			"Verify the request parameters",
			"Consult the model definition for available sources and queries",
		}
	}
}
