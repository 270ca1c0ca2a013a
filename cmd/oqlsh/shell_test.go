package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/strata/internal/collection/memory"
	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/errors"
)

func newTestShell(t *testing.T) (*shell, *bytes.Buffer) {
	t.Helper()
	ctx := context.Background()
	f := memory.NewFactory()
	c, err := f.GetCollection(ctx, "hosts")
	require.NoError(t, err)

	for _, m := range []map[string]any{
		{"name": "core-01", "site": "fra1", "n": int64(3)},
		{"name": "core-02", "site": "fra1", "n": int64(1)},
		{"name": "edge-01", "site": "ams2", "n": int64(2)},
	} {
		_, err := c.Save(ctx, document.FromMap(m))
		require.NoError(t, err)
	}

	var out bytes.Buffer
	return newShell(f, &out), &out
}

func run(t *testing.T, sh *shell, line string) {
	t.Helper()
	require.NoError(t, sh.execute(context.Background(), line), line)
}

func TestShellRequiresCollection(t *testing.T) {
	sh, _ := newTestShell(t)
	assert.Equal(t, "oql> ", sh.prefix())
	assert.ErrorContains(t, sh.execute(context.Background(), "find"), "no collection")

	run(t, sh, "use hosts")
	assert.Equal(t, "hosts> ", sh.prefix())
}

func TestShellCount(t *testing.T) {
	sh, out := newTestShell(t)
	run(t, sh, "use hosts")

	run(t, sh, "count")
	run(t, sh, `count site = fra1`)
	run(t, sh, `COUNT n > 1 and site = "fra1"`)
	assert.Equal(t, "3\n2\n1\n", out.String())
}

func TestShellFindOrderAndLimit(t *testing.T) {
	sh, out := newTestShell(t)
	run(t, sh, "use hosts")
	run(t, sh, "order n desc")
	run(t, sh, "limit 2")
	run(t, sh, "find")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"core-01"`)
	assert.Contains(t, lines[1], `"edge-01"`)
	assert.Equal(t, "(2 documents)", lines[2])

	out.Reset()
	run(t, sh, "order none")
	run(t, sh, "limit 0")
	run(t, sh, `find name ~ "^edge"`)
	assert.Contains(t, out.String(), "(1 documents)")
}

func TestShellDistinct(t *testing.T) {
	sh, out := newTestShell(t)
	run(t, sh, "use hosts")

	run(t, sh, "distinct site")
	assert.Equal(t, "ams2\nfra1\n", out.String())

	out.Reset()
	run(t, sh, "distinct name site = fra1")
	assert.Equal(t, "core-01\ncore-02\n", out.String())

	assert.ErrorContains(t, sh.execute(context.Background(), "distinct"), "field required")
}

func TestShellExplain(t *testing.T) {
	sh, out := newTestShell(t)
	run(t, sh, "explain a = 1")
	assert.Contains(t, out.String(), `"a"`)

	assert.ErrorIs(t, sh.execute(context.Background(), "explain a = "), errors.ErrParse)
}

func TestShellErrors(t *testing.T) {
	sh, _ := newTestShell(t)
	ctx := context.Background()

	assert.ErrorIs(t, sh.execute(ctx, "exit"), errExit)
	assert.NoError(t, sh.execute(ctx, "   "))
	assert.ErrorContains(t, sh.execute(ctx, "drop hosts"), "unknown command")
	assert.Error(t, sh.execute(ctx, "limit -1"))
	assert.Error(t, sh.execute(ctx, "order a sideways"))
	assert.Error(t, sh.execute(ctx, "use"))
}

func TestDescribe(t *testing.T) {
	sh, _ := newTestShell(t)
	ctx := context.Background()
	run(t, sh, "use hosts")

	err := sh.execute(ctx, "find name =")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(describe(err), "query error: "), describe(err))

	err = errors.NewCollectionError("hosts", "find", errors.ErrConnectionFailed)
	assert.True(t, strings.HasPrefix(describe(err), "backend unavailable"), describe(err))

	assert.Equal(t, "error: closed", describe(errors.ErrClosed))
}

func TestShellHelp(t *testing.T) {
	sh, out := newTestShell(t)
	run(t, sh, "help")
	for _, c := range commands {
		assert.Contains(t, out.String(), c.name)
	}
}
