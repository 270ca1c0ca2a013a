package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// point is one input line:
//
//	{"attributes": {"site": "fra1"}, "timestamp": 1700000000000, "value": 1.5}
//
// A missing timestamp means now.
type point struct {
	Attributes map[string]string `json:"attributes"`
	Timestamp  *int64            `json:"timestamp"`
	Value      *float64          `json:"value"`
}

// pointSink receives decoded points.
type pointSink interface {
	IngestPoint(attrs map[string]string, timestamp int64, value float64) error
}

// ingest feeds JSON lines from r into sink until EOF or ctx is done.
// Blank lines are skipped, a malformed line aborts with its line number.
func ingest(ctx context.Context, r io.Reader, sink pointSink) (int, error) {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	n, lineNo := 0, 0
	for {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return n, <-scanErr
			}
			lineNo++
			if len(line) == 0 {
				continue
			}
			var p point
			if err := json.Unmarshal([]byte(line), &p); err != nil {
				return n, fmt.Errorf("line %d: %w", lineNo, err)
			}
			if p.Value == nil {
				return n, fmt.Errorf("line %d: missing value", lineNo)
			}
			ts := time.Now().UnixMilli()
			if p.Timestamp != nil {
				ts = *p.Timestamp
			}
			if err := sink.IngestPoint(p.Attributes, ts, *p.Value); err != nil {
				return n, fmt.Errorf("line %d: %w", lineNo, err)
			}
			n++
		}
	}
}
