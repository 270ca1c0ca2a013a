package relational

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/xtxerr/strata/internal/collection"
	"github.com/xtxerr/strata/internal/store"
)

// Dialect renders the engine-specific parts of a statement. Both engines
// share the JSON path operators -> and ->>.
type Dialect interface {
	Name() string

	// Placeholder returns the n-th (1-based) bind parameter.
	Placeholder(n int) string

	// JSONParam returns the n-th bind parameter cast to the object column type.
	JSONParam(n int) string

	// CreateTable returns the DDL for a collection table.
	CreateTable(table string) string

	// QuoteIdent quotes a table or index name.
	QuoteIdent(name string) string

	// Numeric casts a text expression to a number.
	Numeric(expr string) string

	// Regex matches a text expression against a bind parameter, unanchored.
	Regex(expr, param string, caseSensitive bool) string

	// AsText renders a JSON expression as its JSON text.
	AsText(expr string) string

	// OrderBy renders the ORDER BY terms for a JSON path.
	OrderBy(jsonExpr, textExpr string, dir collection.Direction) []string

	// SupportsIndexes reports whether expression indexes are created.
	SupportsIndexes() bool
}

// DialectFor returns the dialect of a store driver.
func DialectFor(driver store.Driver) (Dialect, error) {
	switch driver {
	case store.DriverPostgres:
		return Postgres, nil
	case store.DriverDuckDB:
		return DuckDB, nil
	}
	return nil, fmt.Errorf("no dialect for driver %q", driver)
}

var (
	Postgres Dialect = postgresDialect{}
	DuckDB   Dialect = duckDBDialect{}
)

type postgresDialect struct{}

func (postgresDialect) Name() string { return string(store.DriverPostgres) }

func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (postgresDialect) JSONParam(n int) string { return fmt.Sprintf("$%d::jsonb", n) }

func (d postgresDialect) CreateTable(table string) string {
	return "CREATE TABLE IF NOT EXISTS " + d.QuoteIdent(table) +
		" (id VARCHAR(24) PRIMARY KEY, object JSONB NOT NULL)"
}

func (postgresDialect) QuoteIdent(name string) string { return pq.QuoteIdentifier(name) }

func (postgresDialect) Numeric(expr string) string { return "CAST(" + expr + " AS NUMERIC)" }

func (postgresDialect) Regex(expr, param string, caseSensitive bool) string {
	if caseSensitive {
		return expr + " ~ " + param
	}
	return expr + " ~* " + param
}

func (postgresDialect) AsText(expr string) string { return "(" + expr + ")::text" }

// OrderBy sorts on the jsonb value, which orders numbers numerically.
func (postgresDialect) OrderBy(jsonExpr, _ string, dir collection.Direction) []string {
	return []string{jsonExpr + orderSuffix(dir)}
}

func (postgresDialect) SupportsIndexes() bool { return true }

type duckDBDialect struct{}

func (duckDBDialect) Name() string { return string(store.DriverDuckDB) }

func (duckDBDialect) Placeholder(int) string { return "?" }

func (duckDBDialect) JSONParam(int) string { return "CAST(? AS JSON)" }

func (d duckDBDialect) CreateTable(table string) string {
	return "CREATE TABLE IF NOT EXISTS " + d.QuoteIdent(table) +
		" (id VARCHAR PRIMARY KEY, object JSON NOT NULL)"
}

func (duckDBDialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (duckDBDialect) Numeric(expr string) string { return "CAST(" + expr + " AS DOUBLE)" }

func (duckDBDialect) Regex(expr, param string, caseSensitive bool) string {
	if caseSensitive {
		return "regexp_matches(" + expr + ", " + param + ")"
	}
	return "regexp_matches(" + expr + ", " + param + ", 'i')"
}

func (duckDBDialect) AsText(expr string) string { return "CAST(" + expr + " AS VARCHAR)" }

// OrderBy sorts numbers numerically first, then everything by text. JSON
// values in DuckDB compare as strings.
func (duckDBDialect) OrderBy(_, textExpr string, dir collection.Direction) []string {
	return []string{
		"TRY_CAST(" + textExpr + " AS DOUBLE)" + orderSuffix(dir),
		textExpr + orderSuffix(dir),
	}
}

// SupportsIndexes is false: DuckDB scans columnar data and its ART indexes
// reject updates to indexed rows within one transaction.
func (duckDBDialect) SupportsIndexes() bool { return false }

// orderSuffix places missing values first in ascending order, as the
// in-process sorter does.
func orderSuffix(dir collection.Direction) string {
	if dir == collection.Descending {
		return " DESC NULLS LAST"
	}
	return " ASC NULLS FIRST"
}
