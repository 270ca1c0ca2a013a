package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/xtxerr/strata/internal/store"
)

// Summary aggregates the archived buckets of one series.
type Summary struct {
	Series  string
	Buckets int64
	Count   int64
	Sum     float64
	Min     float64
	Max     float64
	First   int64
	Last    int64
}

// Querier summarizes archive files with DuckDB.
type Querier struct {
	root  string
	store *store.Store
}

// NewQuerier opens an in-memory DuckDB over the archive under root.
func NewQuerier(ctx context.Context, root string) (*Querier, error) {
	cfg := store.DefaultConfig()
	cfg.Driver = store.DriverDuckDB
	s, err := store.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &Querier{root: root, store: s}, nil
}

// Close closes the database.
func (q *Querier) Close() error {
	return q.store.Close()
}

// Summarize aggregates, per series, the archived buckets of resolution
// whose begin lies in [from, to]. A resolution without files yields no
// summaries.
func (q *Querier) Summarize(ctx context.Context, resolution time.Duration, from, to int64) ([]Summary, error) {
	files, err := Files(q.root, resolution)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}
	pattern := filepath.Join(Dir(q.root, resolution), "*.parquet")

	query := `
		SELECT
			series,
			count(*),
			sum("count")::BIGINT,
			sum("sum"),
			min("min"),
			max("max"),
			min("begin"),
			max("begin")
		FROM read_parquet($1)
		WHERE "count" > 0
		  AND "begin" >= $2
		  AND "begin" <= $3
		GROUP BY series
		ORDER BY series
	`

	rows, err := q.store.QueryContext(ctx, query, pattern, from, to)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.Series, &s.Buckets, &s.Count, &s.Sum, &s.Min, &s.Max, &s.First, &s.Last); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
