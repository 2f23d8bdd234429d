package connections

import (
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"

	_ "github.com/duckdb/duckdb-go/v2" // duckdb driver
	gomysql "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/snowflakedb/gosnowflake"
	trino "github.com/trinodb/trino-go-client/trino"

	"malloy-publisher/internal/domain"
)

// openSQL opens a database/sql pool for every non-BigQuery variant.
func (r *Registry) openSQL(def domain.Connection) (*handle, error) {
	driver, dsn, err := r.dsn(def)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, domain.ErrConnection("connection '%s': open %s: %v", def.Name, def.Type, err)
	}
	return &handle{db: db}, nil
}

// dsn builds the driver name and DSN for a typed connection definition.
func (r *Registry) dsn(def domain.Connection) (driver, dsn string, err error) {
	switch def.Type {
	case domain.ConnectionPostgres:
		attrs := def.Postgres
		if attrs.URL != "" {
			return "pgx", attrs.URL, nil
		}
		port := attrs.Port
		if port == 0 {
			port = 5432
		}
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(attrs.User, attrs.Password),
			Host:   fmt.Sprintf("%s:%d", attrs.Host, port),
			Path:   "/" + attrs.Database,
		}
		return "pgx", u.String(), nil

	case domain.ConnectionMySQL:
		attrs := def.MySQL
		port := attrs.Port
		if port == 0 {
			port = 3306
		}
		mc := gomysql.NewConfig()
		mc.Net = "tcp"
		mc.Addr = fmt.Sprintf("%s:%d", attrs.Host, port)
		mc.DBName = attrs.Database
		mc.User = attrs.User
		mc.Passwd = attrs.Password
		mc.ParseTime = true
		return "mysql", mc.FormatDSN(), nil

	case domain.ConnectionDuckDB:
		path := ""
		if def.DuckDB != nil && def.DuckDB.DatabasePath != "" {
			path = def.DuckDB.DatabasePath
			if !filepath.IsAbs(path) {
				base := r.projectRoot
				if def.DuckDB.WorkingDir != "" {
					base = def.DuckDB.WorkingDir
				}
				path = filepath.Join(base, path)
			}
		}
		return "duckdb", path, nil

	case domain.ConnectionMotherDuck:
		attrs := def.MotherDuck
		dsn := fmt.Sprintf("md:%s?motherduck_token=%s", attrs.Database, attrs.AccessToken)
		return "duckdb", dsn, nil

	case domain.ConnectionSnowflake:
		attrs := def.Snowflake
		cfg := gosnowflake.Config{
			Account:   attrs.Account,
			User:      attrs.Username,
			Password:  attrs.Password,
			Database:  attrs.Database,
			Schema:    attrs.Schema,
			Warehouse: attrs.Warehouse,
			Role:      attrs.Role,
		}
		dsn, err := gosnowflake.DSN(&cfg)
		if err != nil {
			return "", "", domain.ErrConnection("connection '%s': snowflake dsn: %v", def.Name, err)
		}
		return "snowflake", dsn, nil

	case domain.ConnectionTrino:
		attrs := def.Trino
		port := attrs.Port
		if port == 0 {
			port = 8080
		}
		user := attrs.User
		if user == "" {
			user = "publisher"
		}
		serverURI := url.URL{
			Scheme: "http",
			User:   url.User(user),
			Host:   fmt.Sprintf("%s:%d", attrs.Server, port),
		}
		if attrs.Password != "" || attrs.PeakaKey != "" {
			secret := attrs.Password
			if secret == "" {
				secret = attrs.PeakaKey
			}
			serverURI.Scheme = "https"
			serverURI.User = url.UserPassword(user, secret)
		}
		cfg := trino.Config{
			ServerURI: serverURI.String(),
			Source:    "malloy-publisher",
			Catalog:   attrs.Catalog,
			Schema:    attrs.Schema,
		}
		dsn, err := cfg.FormatDSN()
		if err != nil {
			return "", "", domain.ErrConnection("connection '%s': trino dsn: %v", def.Name, err)
		}
		return "trino", dsn, nil

	default:
		return "", "", domain.ErrValidation("connection '%s': unsupported type %q", def.Name, def.Type)
	}
}
