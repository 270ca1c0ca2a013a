// Package archive writes flushed buckets to parquet files and reads them
// back, either row by row or summarized through DuckDB.
//
// Files are laid out as <dir>/<resolution ms>/<begin>_<id>.parquet, one
// file per flush.
package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/strata/internal/document"
	"github.com/xtxerr/strata/internal/errors"
	"github.com/xtxerr/strata/internal/logging"
	"github.com/xtxerr/strata/internal/timeseries"
)

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = errors.New("archive writer is closed")

// fileTimeLayout formats the begin of the first bucket of a file, the
// prefix of its name.
const fileTimeLayout = "20060102T150405.000"

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// ParseCompressionType parses a compression type string. Unknown names map
// to zstd.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

func (ct CompressionType) codec() compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// Options configures the files written.
type Options struct {
	Compression CompressionType

	// PageBufferSize is the page buffer size in bytes.
	PageBufferSize int
}

// DefaultOptions returns zstd compressed files with 1MB pages.
func DefaultOptions() Options {
	return Options{
		Compression:    CompressionZstd,
		PageBufferSize: 1024 * 1024,
	}
}

// Row is the parquet form of a bucket.
type Row struct {
	ID           string            `parquet:"id"`
	ResolutionMs int64             `parquet:"resolution_ms"`
	Begin        int64             `parquet:"begin"`
	End          int64             `parquet:"end"`
	Series       string            `parquet:"series,zstd"`
	Attributes   map[string]string `parquet:"attributes"`
	Count        int64             `parquet:"count"`
	Sum          float64           `parquet:"sum"`
	Min          float64           `parquet:"min"`
	Max          float64           `parquet:"max"`
	PclPrecision int64             `parquet:"pcl_precision"`
	Distribution map[int64]int64   `parquet:"distribution"`
	Sketch       []byte            `parquet:"sketch,optional"`
}

// series renders attrs as sorted key=value pairs separated by commas, the
// form the Series column holds.
func series(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ","
		}
		out += k + "=" + attrs[k]
	}
	return out
}

// BucketToRow converts b, stored at resolution.
func BucketToRow(b *timeseries.Bucket, resolution time.Duration) Row {
	row := Row{
		ResolutionMs: resolution.Milliseconds(),
		Begin:        b.Begin,
		End:          b.End,
		Series:       series(b.Attributes),
		Attributes:   b.Attributes,
		Count:        b.Count,
		Sum:          b.Sum,
		Min:          b.Min,
		Max:          b.Max,
		PclPrecision: b.PclPrecision,
		Distribution: b.Distribution,
		Sketch:       b.Sketch,
	}
	if !b.ID.IsZero() {
		row.ID = b.ID.Hex()
	}
	return row
}

// RowToBucket converts r back. An unparsable id is left zero.
func RowToBucket(r *Row) *timeseries.Bucket {
	b := &timeseries.Bucket{
		Begin:        r.Begin,
		End:          r.End,
		Count:        r.Count,
		Sum:          r.Sum,
		Min:          r.Min,
		Max:          r.Max,
		PclPrecision: r.PclPrecision,
		Sketch:       r.Sketch,
	}
	if id, err := document.ParseObjectID(r.ID); err == nil {
		b.ID = id
	}
	if len(r.Attributes) > 0 {
		b.Attributes = r.Attributes
	}
	if len(r.Distribution) > 0 {
		b.Distribution = r.Distribution
	}
	return b
}

// WriteFile writes buckets of resolution into a new file at path.
func WriteFile(path string, resolution time.Duration, buckets []*timeseries.Bucket, opts Options) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	writerOpts := []parquet.WriterOption{
		parquet.Compression(opts.Compression.codec()),
	}
	if opts.PageBufferSize > 0 {
		writerOpts = append(writerOpts, parquet.PageBufferSize(opts.PageBufferSize))
	}
	writer := parquet.NewGenericWriter[Row](f, writerOpts...)

	rows := make([]Row, len(buckets))
	for i, b := range buckets {
		rows[i] = BucketToRow(b, resolution)
	}
	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		f.Close()
		return fmt.Errorf("write rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	return f.Close()
}

// Read returns every bucket in the file at path.
func Read(path string) ([]*timeseries.Bucket, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	pf, err := parquet.OpenFile(f, info.Size(), parquet.ReadBufferSize(1024*1024))
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[Row](pf)
	defer reader.Close()

	rows := make([]Row, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	buckets := make([]*timeseries.Bucket, n)
	for i := 0; i < n; i++ {
		buckets[i] = RowToBucket(&rows[i])
	}
	return buckets, nil
}

// Dir returns the directory holding the files of resolution under root.
func Dir(root string, resolution time.Duration) string {
	return filepath.Join(root, strconv.FormatInt(resolution.Milliseconds(), 10))
}

// Files lists the files of resolution under root in name order, which is
// begin order.
func Files(root string, resolution time.Duration) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(Dir(root, resolution), "*.parquet"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// FileTime returns the begin of the first bucket of the file at path, as
// encoded in its name.
func FileTime(path string) (time.Time, error) {
	prefix, _, ok := strings.Cut(filepath.Base(path), "_")
	if !ok {
		return time.Time{}, fmt.Errorf("archive file name %q has no time prefix", filepath.Base(path))
	}
	return time.Parse(fileTimeLayout, prefix)
}

// Writer archives every flush it observes. It implements
// timeseries.FlushListener.
type Writer struct {
	mu     sync.Mutex
	root   string
	opts   Options
	closed bool
	files  int64
	rows   int64
	log    *slog.Logger
}

// NewWriter creates a writer storing under root.
func NewWriter(root string, opts Options) *Writer {
	return &Writer{
		root: root,
		opts: opts,
		log:  logging.Component("archive").With("root", root),
	}
}

// OnFlush writes buckets into a new file.
func (w *Writer) OnFlush(_ context.Context, resolution time.Duration, buckets []*timeseries.Bucket) error {
	if len(buckets) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	begin := time.UnixMilli(buckets[0].Begin).UTC().Format(fileTimeLayout)
	name := fmt.Sprintf("%s_%s.parquet", begin, document.NewObjectID().Hex())
	path := filepath.Join(Dir(w.root, resolution), name)

	if err := WriteFile(path, resolution, buckets, w.opts); err != nil {
		return fmt.Errorf("archive %s: %w", path, err)
	}
	w.files++
	w.rows += int64(len(buckets))
	w.log.Debug("archived", "file", name, "buckets", len(buckets))
	return nil
}

// Stats returns the number of files and rows written.
func (w *Writer) Stats() (files, rows int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files, w.rows
}

// Close rejects further flushes.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}
