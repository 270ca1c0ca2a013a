package oql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xtxerr/strata/internal/errors"
	"github.com/xtxerr/strata/internal/filter"
)

// AttributesPrefix is the namespace ForAttributes maps bare field names into.
const AttributesPrefix = "attributes"

// Compiler turns OQL text into filters.
//
// FieldTransform, when set, rewrites every field name before it is used.
// Comparisons on a field listed in IgnoreFields (after the transform) compile
// to True and are left out of Attributes.
//
// A Compiler keeps the attributes of its last Compile call and must not be
// shared between goroutines.
type Compiler struct {
	FieldTransform func(field string) string
	IgnoreFields   []string

	input      string
	attributes []string
}

// Compile parses text and returns the equivalent filter. Blank text compiles
// to True.
func (c *Compiler) Compile(text string) (filter.Filter, error) {
	c.input = text
	c.attributes = nil
	if strings.TrimSpace(text) == "" {
		return filter.NewTrue(), nil
	}
	expr, err := ParseExpr(text)
	if err != nil {
		return nil, err
	}
	if expr == nil {
		return filter.NewTrue(), nil
	}
	return c.visit(expr)
}

// Attributes returns every field referenced by the last Compile call, in the
// order encountered and with duplicates. Ignored fields are excluded.
func (c *Compiler) Attributes() []string {
	out := make([]string, len(c.attributes))
	copy(out, c.attributes)
	return out
}

func (c *Compiler) visit(e Expr) (filter.Filter, error) {
	switch n := e.(type) {
	case *AndExpr:
		children, err := c.visitAll(n.Terms)
		if err != nil {
			return nil, err
		}
		return filter.NewAnd(children...), nil
	case *OrExpr:
		children, err := c.visitAll(n.Terms)
		if err != nil {
			return nil, err
		}
		return filter.NewOr(children...), nil
	case *NotExpr:
		inner, err := c.visit(n.Operand)
		if err != nil {
			return nil, err
		}
		return filter.NewNot(inner), nil
	case *Comparison:
		return c.visitComparison(n)
	}
	return nil, fmt.Errorf("oql: unknown expression %T: %w", e, errors.ErrParse)
}

func (c *Compiler) visitAll(terms []Expr) ([]filter.Filter, error) {
	out := make([]filter.Filter, 0, len(terms))
	for _, t := range terms {
		f, err := c.visit(t)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (c *Compiler) visitComparison(n *Comparison) (filter.Filter, error) {
	field := n.Field.Text
	if c.FieldTransform != nil {
		field = c.FieldTransform(field)
	}
	if field == "" {
		return nil, c.errorf(n.Field, "field %q maps to an empty name", n.Field.Text)
	}
	if c.ignored(field) {
		return filter.NewTrue(), nil
	}
	c.attributes = append(c.attributes, field)

	switch n.Op.Kind {
	case TokenEq, TokenIn:
		return c.equality(field, n)
	case TokenNeq:
		f, err := c.equality(field, n)
		if err != nil {
			return nil, err
		}
		return filter.NewNot(f), nil
	case TokenMatch:
		if n.List {
			return nil, c.errorf(n.Op, "'~' takes a single pattern")
		}
		return &filter.Regex{Field: field, Expression: n.Values[0].Text, CaseSensitive: false}, nil
	case TokenLt, TokenLte, TokenGt, TokenGte:
		if n.List {
			return nil, c.errorf(n.Op, "%s takes a single value", n.Op.Kind)
		}
		v, err := c.integer(n.Values[0])
		if err != nil {
			return nil, err
		}
		switch n.Op.Kind {
		case TokenLt:
			return &filter.Lt{Field: field, Value: v}, nil
		case TokenLte:
			return &filter.Lte{Field: field, Value: v}, nil
		case TokenGt:
			return &filter.Gt{Field: field, Value: v}, nil
		default:
			return &filter.Gte{Field: field, Value: v}, nil
		}
	}
	return nil, c.errorf(n.Op, "unsupported operator %s", n.Op.Kind)
}

// equality handles '=' and 'in'. A value list becomes an Or of Equals; a
// single value with '=' stays a plain Equals.
func (c *Compiler) equality(field string, n *Comparison) (filter.Filter, error) {
	if !n.List && n.Op.Kind != TokenIn {
		return &filter.Equals{Field: field, Value: literal(n.Values[0])}, nil
	}
	values := make([]any, len(n.Values))
	for i, v := range n.Values {
		values[i] = literal(v)
	}
	return filter.In(field, values)
}

func (c *Compiler) integer(tok Token) (int64, error) {
	if tok.Kind != TokenNumber {
		return 0, c.errorf(tok, "expected integer, got %s", describe(tok))
	}
	v, err := strconv.ParseInt(tok.Text, 10, 64)
	if err != nil {
		return 0, c.errorf(tok, "expected integer, got %q", tok.Text)
	}
	return v, nil
}

func (c *Compiler) ignored(field string) bool {
	for _, f := range c.IgnoreFields {
		if f == field {
			return true
		}
	}
	return false
}

func (c *Compiler) errorf(tok Token, format string, args ...any) error {
	return &errors.ParseError{Pos: tok.Pos, Input: c.input, Msg: fmt.Sprintf(format, args...)}
}

// literal types an equality operand. Quoted strings stay strings; bare words
// become int64, float64, bool or nil where they parse as such.
func literal(tok Token) any {
	switch tok.Kind {
	case TokenString:
		return tok.Text
	case TokenNumber:
		if i, err := strconv.ParseInt(tok.Text, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(tok.Text, 64); err == nil {
			return f
		}
		return tok.Text
	}
	switch strings.ToLower(tok.Text) {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	return tok.Text
}

// Parse compiles text without field rewriting.
func Parse(text string) (filter.Filter, error) {
	var c Compiler
	return c.Compile(text)
}

// ParseWith compiles text, rewriting every field name with transform.
func ParseWith(text string, transform func(string) string) (filter.Filter, error) {
	c := Compiler{FieldTransform: transform}
	return c.Compile(text)
}

// ForAttributes compiles text with every field mapped into the attributes
// namespace, so "site = fra1" matches attributes.site.
func ForAttributes(text string) (filter.Filter, error) {
	return ParseWith(text, func(field string) string {
		return AttributesPrefix + "." + field
	})
}

// MustParse is Parse for queries known to be valid. It panics otherwise.
func MustParse(text string) filter.Filter {
	f, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return f
}
