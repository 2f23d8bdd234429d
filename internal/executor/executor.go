// Package executor resolves and runs Malloy queries against catalog models.
package executor

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"malloy-publisher/internal/catalog"
	"malloy-publisher/internal/domain"
)

// Request identifies the model and the query to run against it. Exactly one
// of Query or QueryName must be set.
type Request struct {
	ProjectName string
	PackageName string
	ModelPath   string
	Query       string
	SourceName  string
	QueryName   string
	VersionID   string
}

// Service executes queries against catalog models.
type Service struct {
	store  *catalog.Store
	logger *slog.Logger
}

// NewService creates a query executor backed by the catalog.
func NewService(store *catalog.Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger.With("component", "executor")}
}

// ExecuteQuery validates the request, resolves the model, and runs the
// query. Results carry a fresh ID and at most domain.RowLimit rows.
func (s *Service) ExecuteQuery(ctx context.Context, req Request) (*domain.QueryResult, error) {
	if req.VersionID != "" {
		return nil, domain.ErrNotImplemented("versionId")
	}
	switch {
	case req.Query != "" && req.QueryName != "":
		return nil, domain.ErrValidation("%s", domain.MsgBothQueryAndQueryName)
	case req.Query == "" && req.QueryName == "":
		return nil, domain.ErrValidation("%s", domain.MsgNeitherQueryNorQueryName)
	}

	model, err := s.resolveModel(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err := model.GetQueryResults(ctx, req.SourceName, req.QueryName, req.Query)
	if err != nil {
		return nil, err
	}
	result.ID = uuid.NewString()
	s.logger.Debug("executed query",
		"project", req.ProjectName,
		"package", req.PackageName,
		"model", req.ModelPath,
		"rows", result.TotalRows)
	return result, nil
}

func (s *Service) resolveModel(ctx context.Context, req Request) (*catalog.Model, error) {
	project, err := s.store.GetProject(ctx, req.ProjectName, false)
	if err != nil {
		return nil, err
	}
	pkg, err := project.Package(req.PackageName)
	if err != nil {
		return nil, err
	}
	return pkg.Model(req.ModelPath)
}
