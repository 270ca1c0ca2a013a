package store

import (
	"context"
	"database/sql/driver"
	"fmt"
	"net"

	"github.com/lib/pq"

	"github.com/xtxerr/strata/internal/errors"
)

// Postgres SQLSTATE codes.
const (
	codeInvalidCatalogName = "3D000"
	codeQueryCanceled      = "57014"
	classConnection        = "08"
)

// Classify tags driver errors with the strata sentinels: deadlines and
// statement cancellation become ErrTimeout, lost connections
// ErrConnectionFailed. Other errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.IsRetriable(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", errors.ErrTimeout, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == codeQueryCanceled:
			return fmt.Errorf("%w: %w", errors.ErrTimeout, err)
		case pqErr.Code.Class() == classConnection:
			return fmt.Errorf("%w: %w", errors.ErrConnectionFailed, err)
		}
		return err
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", errors.ErrConnectionFailed, err)
	}
	return err
}

func isMissingDatabase(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == codeInvalidCatalogName
}
