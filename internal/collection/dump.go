package collection

import (
	"context"
	"io"

	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/filter"
	"github.com/xtxerr/strata/internal/wire"
)

// Dump writes every document matching f to w in identity order and returns
// the number written.
func Dump(ctx context.Context, c DocumentCollection, f filter.Filter, w io.Writer) (int, error) {
	cur, err := c.Find(ctx, f, FindOptions{Order: OrderBy(document.IDField, Ascending)})
	if err != nil {
		return 0, err
	}
	defer cur.Close(ctx)

	out := wire.NewWriter(w)
	n := 0
	for cur.Next(ctx) {
		if err := out.Write(cur.Value()); err != nil {
			return n, err
		}
		n++
	}
	return n, cur.Err()
}

// Restore reads documents from r and saves them into c in batches of
// batchSize (<= 0 saves everything in one batch). It returns the number
// restored.
func Restore(ctx context.Context, c DocumentCollection, r io.Reader, batchSize int) (int, error) {
	in := wire.NewReader(r)
	var batch []*document.Document
	n := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := c.SaveAll(ctx, batch); err != nil {
			return err
		}
		n += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		doc, err := in.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, err
		}
		batch = append(batch, doc)
		if batchSize > 0 && len(batch) >= batchSize {
			if err := flush(); err != nil {
				return n, err
			}
		}
	}
	return n, flush()
}
