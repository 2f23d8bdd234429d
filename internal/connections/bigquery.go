package connections

import (
	"context"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"malloy-publisher/internal/domain"
)

// openBigQuery opens a BigQuery client. BigQuery has no database/sql
// driver in this stack; it gets its own query path.
func (r *Registry) openBigQuery(ctx context.Context, def domain.Connection) (*handle, error) {
	attrs := def.BigQuery
	projectID := attrs.DefaultProjectID
	if attrs.BillingProjectID != "" {
		projectID = attrs.BillingProjectID
	}
	if projectID == "" {
		projectID = bigquery.DetectProjectID
	}

	var opts []option.ClientOption
	if attrs.ServiceAccountKeyJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(attrs.ServiceAccountKeyJSON)))
	}
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, domain.ErrConnection("connection '%s': open bigquery: %v", def.Name, err)
	}
	if attrs.Location != "" {
		client.Location = attrs.Location
	}
	return &handle{bq: client}, nil
}

func (r *Registry) testBigQuery(ctx context.Context, name string, client *bigquery.Client) error {
	q := client.Query("SELECT 1")
	it, err := q.Read(ctx)
	if err != nil {
		return domain.ErrConnection("connection '%s': ping failed: %v", name, err)
	}
	var row []bigquery.Value
	if err := it.Next(&row); err != nil && err != iterator.Done {
		return domain.ErrConnection("connection '%s': ping failed: %v", name, err)
	}
	return nil
}

func (r *Registry) queryBigQuery(ctx context.Context, def domain.Connection, sqlStatement string, limit int) (*QueryData, error) {
	h, err := r.open(ctx, def)
	if err != nil {
		return nil, err
	}
	q := h.bq.Query(sqlStatement)
	if def.BigQuery.MaximumBytesBilled != "" {
		if n, ok := parseInt64(def.BigQuery.MaximumBytesBilled); ok {
			q.MaxBytesBilled = n
		}
	}
	it, err := q.Read(ctx)
	if err != nil {
		return nil, domain.ErrConnection("connection '%s': query failed: %v", def.Name, err)
	}

	out := &QueryData{Rows: []map[string]interface{}{}}
	for {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, domain.ErrConnection("connection '%s': read failed: %v", def.Name, err)
		}
		out.TotalRows++
		if len(out.Rows) >= limit {
			continue
		}
		converted := make(map[string]interface{}, len(row))
		for k, v := range row {
			converted[k] = v
		}
		out.Rows = append(out.Rows, converted)
	}
	return out, nil
}

func (r *Registry) describeBigQuery(ctx context.Context, def domain.Connection, probe string) ([]domain.Column, error) {
	h, err := r.open(ctx, def)
	if err != nil {
		return nil, err
	}
	it, err := h.bq.Query(probe).Read(ctx)
	if err != nil {
		return nil, domain.ErrConnection("connection '%s': describe failed: %v", def.Name, err)
	}
	cols := make([]domain.Column, 0, len(it.Schema))
	for _, field := range it.Schema {
		cols = append(cols, domain.Column{Name: field.Name, Type: string(field.Type)})
	}
	return cols, nil
}

func parseInt64(s string) (int64, bool) {
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, s != ""
}
