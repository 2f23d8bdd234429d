package domain

import "fmt"

// ConnectionType discriminates the connection union.
type ConnectionType string

const (
	ConnectionPostgres   ConnectionType = "postgres"
	ConnectionBigQuery   ConnectionType = "bigquery"
	ConnectionSnowflake  ConnectionType = "snowflake"
	ConnectionTrino      ConnectionType = "trino"
	ConnectionMySQL      ConnectionType = "mysql"
	ConnectionDuckDB     ConnectionType = "duckdb"
	ConnectionMotherDuck ConnectionType = "motherduck"
)

// PostgresAttributes configures a PostgreSQL connection.
type PostgresAttributes struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Database string `json:"databaseName,omitempty"`
	User     string `json:"userName,omitempty"`
	Password string `json:"password,omitempty"`
	URL      string `json:"connectionString,omitempty"`
}

// MySQLAttributes configures a MySQL connection.
type MySQLAttributes struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Database string `json:"database,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
}

// BigQueryAttributes configures a BigQuery connection.
type BigQueryAttributes struct {
	DefaultProjectID      string `json:"defaultProjectId,omitempty"`
	BillingProjectID      string `json:"billingProjectId,omitempty"`
	Location              string `json:"location,omitempty"`
	ServiceAccountKeyJSON string `json:"serviceAccountKeyJson,omitempty"`
	MaximumBytesBilled    string `json:"maximumBytesBilled,omitempty"`
	QueryTimeoutMillis    int64  `json:"timeoutMs,omitempty"`
}

// SnowflakeAttributes configures a Snowflake connection.
type SnowflakeAttributes struct {
	Account           string `json:"account"`
	Username          string `json:"username,omitempty"`
	Password          string `json:"password,omitempty"`
	Warehouse         string `json:"warehouse,omitempty"`
	Database          string `json:"database,omitempty"`
	Schema            string `json:"schema,omitempty"`
	Role              string `json:"role,omitempty"`
	ResponseTimeoutMs int64  `json:"responseTimeoutMilliseconds,omitempty"`
}

// TrinoAttributes configures a Trino (or Peaka) connection.
type TrinoAttributes struct {
	Server   string `json:"server"`
	Port     int    `json:"port,omitempty"`
	Catalog  string `json:"catalog,omitempty"`
	Schema   string `json:"schema,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	PeakaKey string `json:"peakaKey,omitempty"`
}

// DuckDBAttributes configures a DuckDB connection. All fields are optional;
// an empty record opens an in-memory database.
type DuckDBAttributes struct {
	DatabasePath string `json:"databasePath,omitempty"`
	WorkingDir   string `json:"workingDirectory,omitempty"`
}

// MotherDuckAttributes configures a MotherDuck connection.
type MotherDuckAttributes struct {
	AccessToken string `json:"accessToken"`
	Database    string `json:"database,omitempty"`
}

// Connection is a tagged union over the supported database backends.
// Exactly one variant record is populated, matching Type. The duckdb
// variant is valid with a nil attribute record.
type Connection struct {
	Name       string                `json:"name"`
	Type       ConnectionType        `json:"type"`
	Postgres   *PostgresAttributes   `json:"postgresConnection,omitempty"`
	MySQL      *MySQLAttributes      `json:"mysqlConnection,omitempty"`
	BigQuery   *BigQueryAttributes   `json:"bigqueryConnection,omitempty"`
	Snowflake  *SnowflakeAttributes  `json:"snowflakeConnection,omitempty"`
	Trino      *TrinoAttributes      `json:"trinoConnection,omitempty"`
	DuckDB     *DuckDBAttributes     `json:"duckdbConnection,omitempty"`
	MotherDuck *MotherDuckAttributes `json:"motherduckConnection,omitempty"`
}

// Validate checks the tagged-union invariant: exactly one variant record
// populated, matching Type. DuckDB is the one zero-attribute variant.
func (c Connection) Validate() error {
	if c.Name == "" {
		return ErrValidation("connection name is required")
	}
	populated := 0
	var match bool
	check := func(t ConnectionType, set bool) {
		if set {
			populated++
			if c.Type == t {
				match = true
			}
		}
	}
	check(ConnectionPostgres, c.Postgres != nil)
	check(ConnectionMySQL, c.MySQL != nil)
	check(ConnectionBigQuery, c.BigQuery != nil)
	check(ConnectionSnowflake, c.Snowflake != nil)
	check(ConnectionTrino, c.Trino != nil)
	check(ConnectionDuckDB, c.DuckDB != nil)
	check(ConnectionMotherDuck, c.MotherDuck != nil)

	switch {
	case c.Type == "":
		return ErrValidation("connection '%s': type is required", c.Name)
	case populated == 0 && c.Type == ConnectionDuckDB:
		return nil // zero-attribute duckdb variant
	case populated == 0:
		return ErrValidation("connection '%s': missing %s attributes", c.Name, c.Type)
	case populated > 1:
		return ErrValidation("connection '%s': multiple attribute records populated", c.Name)
	case !match:
		return ErrValidation("connection '%s': attributes do not match type %q", c.Name, c.Type)
	}
	return nil
}

// Redacted returns a copy safe to expose over the API: credential fields
// are replaced with a fixed placeholder.
func (c Connection) Redacted() Connection {
	const mask = "*****"
	out := c
	if c.Postgres != nil {
		p := *c.Postgres
		if p.Password != "" {
			p.Password = mask
		}
		if p.URL != "" {
			p.URL = mask
		}
		out.Postgres = &p
	}
	if c.MySQL != nil {
		m := *c.MySQL
		if m.Password != "" {
			m.Password = mask
		}
		out.MySQL = &m
	}
	if c.BigQuery != nil {
		b := *c.BigQuery
		if b.ServiceAccountKeyJSON != "" {
			b.ServiceAccountKeyJSON = mask
		}
		out.BigQuery = &b
	}
	if c.Snowflake != nil {
		s := *c.Snowflake
		if s.Password != "" {
			s.Password = mask
		}
		out.Snowflake = &s
	}
	if c.Trino != nil {
		t := *c.Trino
		if t.Password != "" {
			t.Password = mask
		}
		if t.PeakaKey != "" {
			t.PeakaKey = mask
		}
		out.Trino = &t
	}
	if c.MotherDuck != nil {
		m := *c.MotherDuck
		if m.AccessToken != "" {
			m.AccessToken = mask
		}
		out.MotherDuck = &m
	}
	return out
}

func (c Connection) String() string {
	return fmt.Sprintf("%s (%s)", c.Name, c.Type)
}
