// Package connections brokers per-project database connections. Each
// project owns one Registry mapping connection names to typed definitions;
// handles open lazily on first use and are shared until the project is
// reloaded or deleted.
package connections

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"

	"malloy-publisher/internal/domain"
)

// DefaultQueryTimeout applies when the connection definition carries no
// explicit timeout (BigQuery and Snowflake define their own fields).
const DefaultQueryTimeout = 60 * time.Second

// SQLSourceDef is the derived schema of an ad-hoc SQL statement.
type SQLSourceDef struct {
	Name    string          `json:"name"`
	SQL     string          `json:"sql"`
	Columns []domain.Column `json:"columns"`
}

// TableSourceDef is the derived schema of a physical table.
type TableSourceDef struct {
	TableKey  string          `json:"tableKey"`
	TablePath string          `json:"tablePath"`
	Columns   []domain.Column `json:"columns"`
}

// QueryDataOptions bounds an ad-hoc data read.
type QueryDataOptions struct {
	RowLimit int `json:"rowLimit,omitempty"`
}

// QueryData is the row payload of an ad-hoc data read.
type QueryData struct {
	Rows      []map[string]interface{} `json:"rows"`
	TotalRows int                      `json:"totalRows"`
}

// handle is one opened backend: either a database/sql pool or a BigQuery client.
type handle struct {
	db *sql.DB
	bq *bigquery.Client
}

func (h *handle) close() {
	if h.db != nil {
		h.db.Close() //nolint:errcheck
	}
	if h.bq != nil {
		h.bq.Close() //nolint:errcheck
	}
}

// Registry is the per-project connection map. Open/close of handles is
// guarded by a mutex; definitions are immutable between ApplyDefinitions calls.
type Registry struct {
	projectName string
	projectRoot string
	logger      *slog.Logger

	mu      sync.Mutex
	defs    map[string]domain.Connection
	handles map[string]*handle
}

// NewRegistry creates a registry for the given project. Definitions failing
// the tagged-union invariant are rejected.
func NewRegistry(projectName, projectRoot string, defs []domain.Connection, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		projectName: projectName,
		projectRoot: projectRoot,
		logger:      logger,
		defs:        make(map[string]domain.Connection, len(defs)),
		handles:     make(map[string]*handle),
	}
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		r.defs[def.Name] = def
	}
	return r, nil
}

// List returns redacted snapshots of every connection definition.
func (r *Registry) List() []domain.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Connection, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def.Redacted())
	}
	return out
}

// Definitions returns the unredacted definitions, for handing to the
// Malloy runtime. Callers must not mutate the result.
func (r *Registry) Definitions() []domain.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Connection, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	return out
}

// Get returns the redacted definition for name.
func (r *Registry) Get(name string) (domain.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defs[name]
	if !ok {
		return domain.Connection{}, domain.ErrConnectionNotFound(name)
	}
	return def.Redacted(), nil
}

// definition returns the raw definition for name.
func (r *Registry) definition(name string) (domain.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defs[name]
	if !ok {
		return domain.Connection{}, domain.ErrConnectionNotFound(name)
	}
	return def, nil
}

// Test opens the named connection and pings it.
func (r *Registry) Test(ctx context.Context, name string) error {
	def, err := r.definition(name)
	if err != nil {
		return err
	}
	h, err := r.open(ctx, def)
	if err != nil {
		return err
	}
	if h.db != nil {
		ctx, cancel := context.WithTimeout(ctx, r.queryTimeout(def))
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			return domain.ErrConnection("connection '%s': ping failed: %v", name, err)
		}
		return nil
	}
	return r.testBigQuery(ctx, name, h.bq)
}

// SQLSource derives the schema of an ad-hoc SQL statement without reading rows.
func (r *Registry) SQLSource(ctx context.Context, name, sqlStatement string) (*SQLSourceDef, error) {
	if sqlStatement == "" {
		return nil, domain.ErrValidation("sqlStatement is required")
	}
	def, err := r.definition(name)
	if err != nil {
		return nil, err
	}
	cols, err := r.describe(ctx, def, fmt.Sprintf("SELECT * FROM (%s) AS publisher_sql_source WHERE 1=0", sqlStatement))
	if err != nil {
		return nil, err
	}
	return &SQLSourceDef{
		Name:    fmt.Sprintf("sql_source_%s", uuid.NewString()[:8]),
		SQL:     sqlStatement,
		Columns: cols,
	}, nil
}

// TableSource derives the schema of a physical table.
func (r *Registry) TableSource(ctx context.Context, name, tableKey, tablePath string) (*TableSourceDef, error) {
	if tablePath == "" {
		return nil, domain.ErrValidation("tablePath is required")
	}
	def, err := r.definition(name)
	if err != nil {
		return nil, err
	}
	cols, err := r.describe(ctx, def, fmt.Sprintf("SELECT * FROM %s WHERE 1=0", tablePath))
	if err != nil {
		return nil, err
	}
	return &TableSourceDef{TableKey: tableKey, TablePath: tablePath, Columns: cols}, nil
}

// QueryData runs an ad-hoc SQL statement and returns its rows, capped at
// the option row limit (default domain.RowLimit).
func (r *Registry) QueryData(ctx context.Context, name, sqlStatement string, opts QueryDataOptions) (*QueryData, error) {
	if sqlStatement == "" {
		return nil, domain.ErrValidation("sqlStatement is required")
	}
	limit := opts.RowLimit
	if limit <= 0 || limit > domain.RowLimit {
		limit = domain.RowLimit
	}
	def, err := r.definition(name)
	if err != nil {
		return nil, err
	}
	h, err := r.open(ctx, def)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout(def))
	defer cancel()

	if h.bq != nil {
		return r.queryBigQuery(ctx, def, sqlStatement, limit)
	}

	rows, err := h.db.QueryContext(ctx, sqlStatement)
	if err != nil {
		return nil, domain.ErrConnection("connection '%s': query failed: %v", name, err)
	}
	defer rows.Close() //nolint:errcheck

	data, err := scanRows(rows, limit)
	if err != nil {
		return nil, domain.ErrConnection("connection '%s': scan failed: %v", name, err)
	}
	return data, nil
}

// TemporaryTable materializes an ad-hoc SQL statement into a session
// temporary table and returns its generated name.
func (r *Registry) TemporaryTable(ctx context.Context, name, sqlStatement string) (string, error) {
	if sqlStatement == "" {
		return "", domain.ErrValidation("sqlStatement is required")
	}
	def, err := r.definition(name)
	if err != nil {
		return "", err
	}
	h, err := r.open(ctx, def)
	if err != nil {
		return "", err
	}
	if h.bq != nil {
		return "", domain.ErrValidation("connection '%s': temporary tables are not supported for bigquery", name)
	}
	table := fmt.Sprintf("publisher_tmp_%s", uuid.NewString()[:8])
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout(def))
	defer cancel()
	stmt := fmt.Sprintf("CREATE TEMPORARY TABLE %s AS %s", table, sqlStatement)
	if _, err := h.db.ExecContext(ctx, stmt); err != nil {
		return "", domain.ErrConnection("connection '%s': create temporary table: %v", name, err)
	}
	return table, nil
}

// ApplyDefinitions diffs the registry against a new definition set: removed
// or changed connections close their handles, new ones are added. Used by
// project updates.
func (r *Registry) ApplyDefinitions(defs []domain.Connection) error {
	next := make(map[string]domain.Connection, len(defs))
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return err
		}
		next[def.Name] = def
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, old := range r.defs {
		replacement, keep := next[name]
		if keep && connectionsEqual(old, replacement) {
			continue
		}
		if h, ok := r.handles[name]; ok {
			h.close()
			delete(r.handles, name)
		}
	}
	r.defs = next
	return nil
}

// Close releases every open handle.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, h := range r.handles {
		h.close()
		delete(r.handles, name)
	}
}

// open returns the shared handle for the definition, opening it on first use.
func (r *Registry) open(ctx context.Context, def domain.Connection) (*handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[def.Name]; ok {
		return h, nil
	}

	var h *handle
	var err error
	if def.Type == domain.ConnectionBigQuery {
		h, err = r.openBigQuery(ctx, def)
	} else {
		h, err = r.openSQL(def)
	}
	if err != nil {
		return nil, err
	}
	r.handles[def.Name] = h
	r.logger.Info("opened connection", "project", r.projectName, "connection", def.Name, "type", def.Type)
	return h, nil
}

// queryTimeout resolves the per-query timeout for a definition.
func (r *Registry) queryTimeout(def domain.Connection) time.Duration {
	switch {
	case def.BigQuery != nil && def.BigQuery.QueryTimeoutMillis > 0:
		return time.Duration(def.BigQuery.QueryTimeoutMillis) * time.Millisecond
	case def.Snowflake != nil && def.Snowflake.ResponseTimeoutMs > 0:
		return time.Duration(def.Snowflake.ResponseTimeoutMs) * time.Millisecond
	default:
		return DefaultQueryTimeout
	}
}

// describe runs a zero-row probe query and returns the column schema.
func (r *Registry) describe(ctx context.Context, def domain.Connection, probe string) ([]domain.Column, error) {
	h, err := r.open(ctx, def)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout(def))
	defer cancel()

	if h.bq != nil {
		return r.describeBigQuery(ctx, def, probe)
	}

	rows, err := h.db.QueryContext(ctx, probe)
	if err != nil {
		return nil, domain.ErrConnection("connection '%s': describe failed: %v", def.Name, err)
	}
	defer rows.Close() //nolint:errcheck

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, domain.ErrConnection("connection '%s': column types: %v", def.Name, err)
	}
	cols := make([]domain.Column, len(types))
	for i, t := range types {
		cols[i] = domain.Column{Name: t.Name(), Type: t.DatabaseTypeName()}
	}
	return cols, nil
}

// scanRows materializes up to limit rows as name→value maps.
func scanRows(rows *sql.Rows, limit int) (*QueryData, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := &QueryData{Rows: []map[string]interface{}{}}
	values := make([]interface{}, len(names))
	ptrs := make([]interface{}, len(names))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		out.TotalRows++
		if len(out.Rows) >= limit {
			continue // keep counting, stop materializing
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(names))
		for i, name := range names {
			if b, ok := values[i].([]byte); ok {
				row[name] = string(b)
			} else {
				row[name] = values[i]
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out, rows.Err()
}

// connectionsEqual compares definitions by their serialized form.
func connectionsEqual(a, b domain.Connection) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(aj) == string(bj)
}
