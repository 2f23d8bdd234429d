// Package mcpserver exposes the publisher catalog over the Model Context
// Protocol: resources for browsing, tools for execution, and prompts for
// guided analysis.
package mcpserver

import (
	"strings"

	"malloy-publisher/internal/domain"
)

// Scheme prefixes every catalog resource URI.
const Scheme = "malloy://"

// ResourceURI addresses one catalog entity. Model paths may contain
// slashes, so parsing anchors on the fixed segment markers instead of
// positional splitting.
type ResourceURI struct {
	Project   string
	Package   string
	Contents  bool
	ModelPath string
	Source    string
	View      string
	Query     string
}

// String renders the canonical URI. Parse(u.String()) round-trips for any
// well-formed value.
func (u ResourceURI) String() string {
	var b strings.Builder
	b.WriteString(Scheme)
	b.WriteString("project/")
	b.WriteString(u.Project)
	if u.Package == "" {
		return b.String()
	}
	b.WriteString("/package/")
	b.WriteString(u.Package)
	if u.Contents {
		b.WriteString("/contents")
		return b.String()
	}
	if u.ModelPath == "" {
		return b.String()
	}
	if strings.HasSuffix(u.ModelPath, ".malloynb") {
		b.WriteString("/notebooks/")
	} else {
		b.WriteString("/models/")
	}
	b.WriteString(u.ModelPath)
	switch {
	case u.Source != "":
		b.WriteString("/sources/")
		b.WriteString(u.Source)
		if u.View != "" {
			b.WriteString("/views/")
			b.WriteString(u.View)
		}
	case u.Query != "":
		b.WriteString("/queries/")
		b.WriteString(u.Query)
	}
	return b.String()
}

// ParseResourceURI decodes a catalog URI. Unknown shapes are validation
// errors so MCP clients get an actionable message.
func ParseResourceURI(uri string) (ResourceURI, error) {
	rest, ok := strings.CutPrefix(uri, Scheme)
	if !ok {
		return ResourceURI{}, domain.ErrValidation("invalid resource URI '%s': expected scheme %s", uri, Scheme)
	}
	rest, ok = strings.CutPrefix(rest, "project/")
	if !ok || rest == "" {
		return ResourceURI{}, domain.ErrValidation("invalid resource URI '%s': expected project segment", uri)
	}

	out := ResourceURI{}
	project, rest, hasMore := strings.Cut(rest, "/")
	out.Project = project
	if !hasMore {
		return out, nil
	}

	rest, ok = strings.CutPrefix(rest, "package/")
	if !ok || rest == "" {
		return ResourceURI{}, domain.ErrValidation("invalid resource URI '%s': expected package segment", uri)
	}
	pkg, rest, hasMore := strings.Cut(rest, "/")
	out.Package = pkg
	if !hasMore {
		return out, nil
	}
	if rest == "contents" {
		out.Contents = true
		return out, nil
	}

	modelPart, ok := strings.CutPrefix(rest, "models/")
	if !ok {
		modelPart, ok = strings.CutPrefix(rest, "notebooks/")
	}
	if !ok || modelPart == "" {
		return ResourceURI{}, domain.ErrValidation("invalid resource URI '%s': expected models or notebooks segment", uri)
	}

	// The model path itself may contain slashes; the sources/ and queries/
	// markers split it from the trailing entity segments.
	if idx := strings.LastIndex(modelPart, "/sources/"); idx >= 0 {
		out.ModelPath = modelPart[:idx]
		tail := modelPart[idx+len("/sources/"):]
		source, viewPart, hasView := strings.Cut(tail, "/")
		out.Source = source
		if hasView {
			view, ok := strings.CutPrefix(viewPart, "views/")
			if !ok || view == "" || strings.Contains(view, "/") {
				return ResourceURI{}, domain.ErrValidation("invalid resource URI '%s': expected views segment", uri)
			}
			out.View = view
		}
	} else if idx := strings.LastIndex(modelPart, "/queries/"); idx >= 0 {
		out.ModelPath = modelPart[:idx]
		query := modelPart[idx+len("/queries/"):]
		if query == "" || strings.Contains(query, "/") {
			return ResourceURI{}, domain.ErrValidation("invalid resource URI '%s': invalid query segment", uri)
		}
		out.Query = query
	} else {
		out.ModelPath = modelPart
	}

	if out.ModelPath == "" || out.Source == "" && out.View != "" {
		return ResourceURI{}, domain.ErrValidation("invalid resource URI '%s'", uri)
	}
	return out, nil
}
