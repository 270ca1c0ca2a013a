package relational

import (
	"strings"

	"github.com/xtxerr/strata/internal/collection"
	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/errors"
	"github.com/xtxerr/strata/internal/filter"
)

const (
	// ObjectColumn holds the document JSON.
	ObjectColumn = "object"
	// IDColumn holds the hex identity.
	IDColumn = "id"
)

// Clause is a compiled WHERE condition with its bind arguments.
type Clause struct {
	SQL  string
	Args []any
}

// FilterFactory compiles filters into SQL over the JSON object column.
//
// Equality and regular expressions compare the text projection of a value
// (->>), so "1", 1 and 1.0 stored as JSON number 1 all match "1". Numeric
// comparisons cast the text projection. Every leaf evaluates to TRUE or
// FALSE, never NULL, so Not behaves as in-process.
type FilterFactory struct {
	Dialect Dialect
}

var _ collection.FilterFactory[Clause] = FilterFactory{}

// Build implements collection.FilterFactory.
func (ff FilterFactory) Build(f filter.Filter) (Clause, error) {
	b := &builder{dialect: ff.Dialect}
	sql, err := b.build(collection.OrEmpty(f))
	if err != nil {
		return Clause{}, err
	}
	return Clause{SQL: sql, Args: b.args}, nil
}

type builder struct {
	dialect Dialect
	args    []any
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return b.dialect.Placeholder(len(b.args))
}

func (b *builder) build(f filter.Filter) (string, error) {
	switch n := f.(type) {
	case *filter.True:
		return "TRUE", nil
	case *filter.False:
		return "FALSE", nil

	case *filter.And:
		return b.join(n.Children, " AND ", "TRUE")
	case *filter.Or:
		return b.join(n.Children, " OR ", "FALSE")
	case *filter.Not:
		if n.Child == nil {
			return "", errors.NewUnsupportedFilter(b.dialect.Name(), f)
		}
		inner, err := b.build(n.Child)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil

	case *filter.Equals:
		text, err := FormatFieldAsText(n.Field)
		if err != nil {
			return "", err
		}
		if n.Value == nil {
			return text + " IS NULL", nil
		}
		return "COALESCE(" + text + " = " + b.arg(document.Stringify(n.Value)) + ", FALSE)", nil

	case *filter.Gt:
		return b.compare(n.Field, ">", n.Value)
	case *filter.Gte:
		return b.compare(n.Field, ">=", n.Value)
	case *filter.Lt:
		return b.compare(n.Field, "<", n.Value)
	case *filter.Lte:
		return b.compare(n.Field, "<=", n.Value)

	case *filter.Regex:
		if _, err := collection.CompileRegex(n.Expression, true); err != nil {
			return "", err
		}
		text, err := FormatFieldAsText(n.Field)
		if err != nil {
			return "", err
		}
		return "COALESCE(" + b.dialect.Regex(text, b.arg(n.Expression), n.CaseSensitive) + ", FALSE)", nil

	case *filter.Exists:
		text, err := FormatFieldAsText(n.Field)
		if err != nil {
			return "", err
		}
		return text + " IS NOT NULL", nil

	case *filter.Fulltext:
		pattern := "%" + escapeLike(n.Expression) + "%"
		return b.dialect.AsText(ObjectColumn) + " ILIKE " + b.arg(pattern) + ` ESCAPE '\'`, nil
	}
	return "", errors.NewUnsupportedFilter(b.dialect.Name(), f)
}

func (b *builder) join(children []filter.Filter, sep, empty string) (string, error) {
	if len(children) == 0 {
		return empty, nil
	}
	parts := make([]string, 0, len(children))
	for _, c := range children {
		s, err := b.build(c)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (b *builder) compare(field, op string, value int64) (string, error) {
	text, err := FormatFieldAsText(field)
	if err != nil {
		return "", err
	}
	return "COALESCE(" + b.dialect.Numeric(text) + " " + op + " " + b.arg(value) + ", FALSE)", nil
}

// FormatField renders a dotted field as a JSON path expression over the
// object column. The last step uses ->> when textual is set. The identity
// field maps to the id column; nested identity segments are stored as "id".
//
//	FormatField("a.b", true)   // object->'a'->>'b'
//	FormatField("a.b", false)  // object->'a'->'b'
//	FormatField("_id", true)   // id
func FormatField(field string, textual bool) (string, error) {
	path, err := document.ParsePath(field)
	if err != nil {
		return "", err
	}
	if len(path) == 1 && isIDSegment(path[0]) {
		return IDColumn, nil
	}

	var sb strings.Builder
	sb.WriteString(ObjectColumn)
	for i, seg := range path {
		if seg == document.StorageIDField {
			seg = document.IDField
		}
		if i == len(path)-1 && textual {
			sb.WriteString("->>")
		} else {
			sb.WriteString("->")
		}
		sb.WriteString(quoteLiteral(seg))
	}
	return sb.String(), nil
}

// FormatFieldAsText is FormatField(field, true).
func FormatFieldAsText(field string) (string, error) {
	return FormatField(field, true)
}

func isIDSegment(seg string) bool {
	return seg == document.IDField || seg == document.StorageIDField
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
