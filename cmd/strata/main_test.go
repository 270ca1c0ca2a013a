package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/strata/config"
	serrors "github.com/xtxerr/strata/internal/errors"
	"github.com/xtxerr/strata/internal/oql"
	"github.com/xtxerr/strata/internal/store"
)

func TestExitCode(t *testing.T) {
	_, cfgErr := config.Parse([]byte("collections:\n  backend: tape\n"))
	require.Error(t, cfgErr)

	_, parseErr := oql.Parse("a =")
	require.Error(t, parseErr)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"config", cfgErr, 78},
		{"query", fmt.Errorf("dump: %w", parseErr), 65},
		{"timeout", store.Classify(context.DeadlineExceeded), 75},
		{"connection", serrors.NewCollectionError("hosts", "find", serrors.ErrConnectionFailed), 75},
		{"other", serrors.ErrClosed, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
