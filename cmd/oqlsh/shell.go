package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/xtxerr/strata/internal/collection"
	"github.com/xtxerr/strata/internal/errors"
	"github.com/xtxerr/strata/internal/filter"
	"github.com/xtxerr/strata/internal/oql"
)

const defaultLimit = 20

var errExit = errors.New("exit")

// command is one shell verb.
type command struct {
	name string
	args string
	help string
}

var commands = []command{
	{"use", "<collection>", "select the collection queried by find, count and distinct"},
	{"find", "[oql]", "print matching documents"},
	{"count", "[oql]", "count matching documents"},
	{"distinct", "<field> [oql]", "print the distinct values of field"},
	{"explain", "<oql>", "print the compiled filter"},
	{"limit", "<n>", "cap find results, 0 for unlimited"},
	{"order", "<field> [asc|desc] | none", "sort find results"},
	{"help", "", "show this help"},
	{"exit", "", "leave the shell"},
}

// shell executes commands against the collections of one factory.
type shell struct {
	factory collection.Factory
	coll    collection.DocumentCollection
	limit   int64
	order   collection.SearchOrder
	out     io.Writer
}

func newShell(f collection.Factory, out io.Writer) *shell {
	return &shell{factory: f, limit: defaultLimit, out: out}
}

// prefix is the prompt text.
func (s *shell) prefix() string {
	if s.coll == nil {
		return "oql> "
	}
	return s.coll.Name() + "> "
}

// split separates the verb from its arguments.
func split(line string) (string, string) {
	line = strings.TrimSpace(line)
	verb, rest, _ := strings.Cut(line, " ")
	return strings.ToLower(verb), strings.TrimSpace(rest)
}

// compile parses an optional OQL expression; empty text matches everything.
func compile(text string) (filter.Filter, error) {
	if text == "" {
		return filter.Empty(), nil
	}
	return oql.Parse(text)
}

// describe formats a failed command for the prompt.
func describe(err error) string {
	switch {
	case errors.IsQueryError(err):
		return "query error: " + err.Error()
	case errors.IsRetriable(err):
		return "backend unavailable, try again: " + err.Error()
	}
	return "error: " + err.Error()
}

// execute runs one line. It returns errExit on exit.
func (s *shell) execute(ctx context.Context, line string) error {
	verb, rest := split(line)
	switch verb {
	case "":
		return nil
	case "exit", "quit":
		return errExit
	case "help":
		s.help()
		return nil
	case "use":
		return s.use(ctx, rest)
	case "limit":
		n, err := strconv.ParseInt(rest, 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("limit: %q is not a non-negative number", rest)
		}
		s.limit = n
		return nil
	case "order":
		return s.setOrder(rest)
	case "explain":
		f, err := oql.Parse(rest)
		if err != nil {
			return err
		}
		data, err := filter.Marshal(f)
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, string(data))
		return nil
	case "find", "count", "distinct":
		if s.coll == nil {
			return errors.New("no collection selected, run: use <collection>")
		}
	default:
		return fmt.Errorf("unknown command %q, try help", verb)
	}

	switch verb {
	case "find":
		return s.find(ctx, rest)
	case "count":
		f, err := compile(rest)
		if err != nil {
			return err
		}
		n, err := s.coll.Count(ctx, f, 0)
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, n)
		return nil
	default:
		field, text, _ := strings.Cut(rest, " ")
		if field == "" {
			return errors.New("distinct: field required")
		}
		f, err := compile(strings.TrimSpace(text))
		if err != nil {
			return err
		}
		values, err := s.coll.Distinct(ctx, field, f)
		if err != nil {
			return err
		}
		sort.Strings(values)
		for _, v := range values {
			fmt.Fprintln(s.out, v)
		}
		return nil
	}
}

func (s *shell) use(ctx context.Context, name string) error {
	if name == "" {
		return errors.New("use: collection name required")
	}
	c, err := s.factory.GetCollection(ctx, name)
	if err != nil {
		return err
	}
	s.coll = c
	return nil
}

func (s *shell) setOrder(args string) error {
	fields := strings.Fields(args)
	switch {
	case len(fields) == 1 && strings.EqualFold(fields[0], "none"):
		s.order = nil
		return nil
	case len(fields) == 1 || (len(fields) == 2 && strings.EqualFold(fields[1], "asc")):
		s.order = collection.OrderBy(fields[0], collection.Ascending)
		return nil
	case len(fields) == 2 && strings.EqualFold(fields[1], "desc"):
		s.order = collection.OrderBy(fields[0], collection.Descending)
		return nil
	default:
		return fmt.Errorf("order: expected <field> [asc|desc] or none")
	}
}

func (s *shell) find(ctx context.Context, text string) error {
	f, err := compile(text)
	if err != nil {
		return err
	}
	cur, err := s.coll.Find(ctx, f, collection.FindOptions{Order: s.order, Limit: s.limit})
	if err != nil {
		return err
	}
	defer cur.Close(ctx)

	n := 0
	for cur.Next(ctx) {
		data, err := cur.Value().MarshalJSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, string(data))
		n++
	}
	if err := cur.Err(); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "(%d documents)\n", n)
	return nil
}

func (s *shell) help() {
	for _, c := range commands {
		fmt.Fprintf(s.out, "  %-9s %-28s %s\n", c.name, c.args, c.help)
	}
}
