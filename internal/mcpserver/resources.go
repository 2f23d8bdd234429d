package mcpserver

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"malloy-publisher/internal/catalog"
	"malloy-publisher/internal/domain"
)

// listConcurrency bounds the cross-project package fan-out of a
// project-level resource read.
const listConcurrency = 4

func (s *Server) registerResources() {
	templates := []*mcp.ResourceTemplate{
		{
			URITemplate: Scheme + "project/{projectName}",
			Name:        "project",
			Description: "A Malloy project: its metadata, plus every package across all projects.",
			MIMEType:    "application/json",
		},
		{
			URITemplate: Scheme + "project/{projectName}/package/{packageName}",
			Name:        "package",
			Description: "A package: its metadata, models, notebooks, and embedded databases.",
			MIMEType:    "application/json",
		},
		{
			URITemplate: Scheme + "project/{projectName}/package/{packageName}/contents",
			Name:        "package-contents",
			Description: "The models and notebooks of a package as a flat resource list.",
			MIMEType:    "application/json",
		},
		{
			URITemplate: Scheme + "project/{projectName}/package/{packageName}/models/{+modelPath}",
			Name:        "model",
			Description: "A compiled Malloy model: its sources and named queries.",
			MIMEType:    "application/json",
		},
		{
			URITemplate: Scheme + "project/{projectName}/package/{packageName}/notebooks/{+notebookPath}",
			Name:        "notebook",
			Description: "A compiled Malloy notebook: its markdown and code cells.",
			MIMEType:    "application/json",
		},
		{
			URITemplate: Scheme + "project/{projectName}/package/{packageName}/models/{+modelPath}/sources/{sourceName}",
			Name:        "source",
			Description: "A source of a compiled model: its columns and views.",
			MIMEType:    "application/json",
		},
		{
			URITemplate: Scheme + "project/{projectName}/package/{packageName}/models/{+modelPath}/sources/{sourceName}/views/{viewName}",
			Name:        "view",
			Description: "A named view of a source.",
			MIMEType:    "application/json",
		},
		{
			URITemplate: Scheme + "project/{projectName}/package/{packageName}/models/{+modelPath}/queries/{queryName}",
			Name:        "query",
			Description: "A named top-level query of a compiled model.",
			MIMEType:    "application/json",
		},
	}
	for _, t := range templates {
		s.mcp.AddResourceTemplate(t, s.readResource)
	}
}

// readResource dispatches on the parsed URI shape. Failures embed an error
// payload in the resource contents so clients always receive a readable
// document.
func (s *Server) readResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	payload, err := s.resolveResource(ctx, uri)
	if err != nil {
		payload = errorPayload(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{URI: uri, MIMEType: "application/json", Text: payload},
		},
	}, nil
}

// envelope is the uniform read shape: the entity definition plus its
// catalog addressing metadata. package-contents is the one exception and
// returns a raw array.
func envelope(definition, metadata interface{}) string {
	return jsonText(map[string]interface{}{
		"definition": definition,
		"metadata":   metadata,
	})
}

// resourceDescriptor is one entry of a package-contents listing.
type resourceDescriptor struct {
	URI  string           `json:"uri"`
	Name string           `json:"name"`
	Type domain.ModelType `json:"type"`
}

func (s *Server) resolveResource(ctx context.Context, uri string) (string, error) {
	ref, err := ParseResourceURI(uri)
	if err != nil {
		return "", err
	}
	if err := s.store.WaitReady(ctx); err != nil {
		return "", err
	}

	project, err := s.store.GetProject(ctx, ref.Project, false)
	if err != nil {
		return "", err
	}
	if ref.Package == "" {
		return envelope(
			map[string]interface{}{"packages": s.allPackages(ctx)},
			project.Metadata(),
		), nil
	}

	pkg, err := project.Package(ref.Package)
	if err != nil {
		return "", err
	}
	if ref.Contents {
		return jsonText(packageContents(ref, pkg)), nil
	}
	if ref.ModelPath == "" {
		databases, err := pkg.ListDatabases(ctx)
		if err != nil {
			databases = nil
		}
		return envelope(
			map[string]interface{}{
				"models":    pkg.ListModels(),
				"notebooks": pkg.ListNotebooks(),
				"databases": databases,
			},
			pkg.Metadata(),
		), nil
	}

	model, err := pkg.Model(ref.ModelPath)
	if err != nil {
		return "", err
	}
	return s.resolveModelResource(ctx, model, ref)
}

// projectPackages is one project's slice of the catalog-wide package listing.
type projectPackages struct {
	ProjectName string                   `json:"projectName"`
	Packages    []domain.PackageMetadata `json:"packages"`
}

// allPackages enumerates the packages of every project, in project name
// order. A project that cannot be resolved contributes an empty list.
func (s *Server) allPackages(ctx context.Context) []projectPackages {
	metas := s.store.ListProjects()
	out := make([]projectPackages, len(metas))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for i, meta := range metas {
		out[i] = projectPackages{ProjectName: meta.Name, Packages: []domain.PackageMetadata{}}
		g.Go(func() error {
			project, err := s.store.GetProject(gctx, meta.Name, false)
			if err != nil {
				return nil // deleted mid-listing, keep the empty entry
			}
			out[i].Packages = project.ListPackages()
			return nil
		})
	}
	_ = g.Wait() // workers never return errors
	return out
}

// packageContents lists every model and notebook as a resource descriptor.
func packageContents(ref ResourceURI, pkg *catalog.Package) []resourceDescriptor {
	var out []resourceDescriptor
	for _, info := range pkg.ListModels() {
		out = append(out, resourceDescriptor{
			URI:  ResourceURI{Project: ref.Project, Package: ref.Package, ModelPath: info.Path}.String(),
			Name: info.Path,
			Type: domain.ModelTypeModel,
		})
	}
	for _, info := range pkg.ListNotebooks() {
		out = append(out, resourceDescriptor{
			URI:  ResourceURI{Project: ref.Project, Package: ref.Package, ModelPath: info.Path}.String(),
			Name: info.Path,
			Type: domain.ModelTypeNotebook,
		})
	}
	return out
}

func (s *Server) resolveModelResource(ctx context.Context, model *catalog.Model, ref ResourceURI) (string, error) {
	metadata := map[string]interface{}{
		"uri":         ref.String(),
		"projectName": ref.Project,
		"packageName": ref.Package,
		"path":        ref.ModelPath,
		"type":        model.Kind(),
	}

	if model.Kind() == domain.ModelTypeNotebook {
		compiled, err := model.GetNotebook(ctx)
		if err != nil {
			return "", err
		}
		return envelope(compiled, metadata), nil
	}

	compiled, err := model.GetModel(ctx)
	if err != nil {
		return "", err
	}
	switch {
	case ref.Source != "":
		for _, src := range compiled.Sources {
			if src.Name != ref.Source {
				continue
			}
			if ref.View == "" {
				return envelope(src, metadata), nil
			}
			for _, view := range src.Views {
				if view.Name == ref.View {
					return envelope(view, metadata), nil
				}
			}
			return "", domain.ErrNotFound("Resource not found: View '%s' in source '%s'", ref.View, ref.Source)
		}
		return "", domain.ErrNotFound("Resource not found: Source '%s' in model '%s'", ref.Source, ref.ModelPath)

	case ref.Query != "":
		for _, q := range compiled.Queries {
			if q.Name == ref.Query {
				return envelope(q, metadata), nil
			}
		}
		return "", domain.ErrNotFound("Resource not found: Query '%s' in model '%s'", ref.Query, ref.ModelPath)

	default:
		return envelope(compiled, metadata), nil
	}
}
