package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xtxerr/strata/internal/document"
)

// Equal reports whether a and b are structurally identical trees. Nil and
// empty child lists are considered equal.
func Equal(a, b Filter) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() || a.FieldName() != b.FieldName() {
		return false
	}

	switch x := a.(type) {
	case *And, *Or, *Not:
		ca, cb := Children(a), Children(b)
		if len(ca) != len(cb) {
			return false
		}
		for i := range ca {
			if !Equal(ca[i], cb[i]) {
				return false
			}
		}
		return true
	case *Equals:
		return x.Value == b.(*Equals).Value
	case *Gt:
		return x.Value == b.(*Gt).Value
	case *Gte:
		return x.Value == b.(*Gte).Value
	case *Lt:
		return x.Value == b.(*Lt).Value
	case *Lte:
		return x.Value == b.(*Lte).Value
	case *Regex:
		y := b.(*Regex)
		return x.Expression == y.Expression && x.CaseSensitive == y.CaseSensitive
	case *Fulltext:
		return x.Expression == b.(*Fulltext).Expression
	case *Exists, *True, *False:
		return true
	}
	return false
}

// String renders f in OQL-like notation for logs and the shell.
func String(f Filter) string {
	var sb strings.Builder
	writeString(&sb, f)
	return sb.String()
}

func writeString(sb *strings.Builder, f Filter) {
	switch n := f.(type) {
	case nil:
		sb.WriteString("<nil>")
	case *And:
		writeJoined(sb, n.Children, " and ", "true")
	case *Or:
		writeJoined(sb, n.Children, " or ", "false")
	case *Not:
		sb.WriteString("not(")
		writeString(sb, n.Child)
		sb.WriteString(")")
	case *Equals:
		fmt.Fprintf(sb, "%s = %s", n.Field, literal(n.Value))
	case *Gt:
		fmt.Fprintf(sb, "%s > %d", n.Field, n.Value)
	case *Gte:
		fmt.Fprintf(sb, "%s >= %d", n.Field, n.Value)
	case *Lt:
		fmt.Fprintf(sb, "%s < %d", n.Field, n.Value)
	case *Lte:
		fmt.Fprintf(sb, "%s <= %d", n.Field, n.Value)
	case *Regex:
		fmt.Fprintf(sb, "%s ~ %s", n.Field, strconv.Quote(n.Expression))
	case *Exists:
		fmt.Fprintf(sb, "exists(%s)", n.Field)
	case *Fulltext:
		fmt.Fprintf(sb, "fulltext(%s)", strconv.Quote(n.Expression))
	case *True:
		sb.WriteString("true")
	case *False:
		sb.WriteString("false")
	default:
		fmt.Fprintf(sb, "%T", f)
	}
}

func writeJoined(sb *strings.Builder, children []Filter, sep, empty string) {
	if len(children) == 0 {
		sb.WriteString(empty)
		return
	}
	sb.WriteString("(")
	for i, c := range children {
		if i > 0 {
			sb.WriteString(sep)
		}
		writeString(sb, c)
	}
	sb.WriteString(")")
}

func literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(x)
	case document.ObjectID:
		return strconv.Quote(x.Hex())
	default:
		return fmt.Sprint(x)
	}
}
