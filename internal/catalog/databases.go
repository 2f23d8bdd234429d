package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2" // in-memory scratch database

	"malloy-publisher/internal/domain"
)

// ListDatabases describes every embedded .parquet and .csv file in the
// package. Row counts and column schemas come from a scratch in-memory
// DuckDB instance; a file DuckDB cannot read is listed without info.
func (p *Package) ListDatabases(ctx context.Context) ([]domain.Database, error) {
	if len(p.databases) == 0 {
		return []domain.Database{}, nil
	}
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, domain.ErrConnection("open scratch database: %v", err)
	}
	defer db.Close() //nolint:errcheck

	out := make([]domain.Database, 0, len(p.databases))
	for _, rel := range p.databases {
		entry := domain.Database{Path: rel}
		if info, err := describeDataFile(ctx, db, filepath.Join(p.root, filepath.FromSlash(rel))); err == nil {
			entry.Info = *info
		}
		out = append(out, entry)
	}
	return out, nil
}

func describeDataFile(ctx context.Context, db *sql.DB, path string) (*domain.DatabaseInfo, error) {
	quoted := strings.ReplaceAll(path, "'", "''")
	info := &domain.DatabaseInfo{}

	row := db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM '%s'", quoted))
	if err := row.Scan(&info.RowCount); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("DESCRIBE SELECT * FROM '%s'", quoted))
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var name, typ string
		var null, key, dflt, extra sql.NullString
		if err := rows.Scan(&name, &typ, &null, &key, &dflt, &extra); err != nil {
			return nil, err
		}
		info.Columns = append(info.Columns, domain.Column{Name: name, Type: typ})
	}
	return info, rows.Err()
}
