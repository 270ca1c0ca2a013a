// Package wire provides length-delimited protobuf framing for document
// streams, used to dump and restore collections.
//
// Each document is written as a google.protobuf.Struct prefixed with its
// varint length. Integral numbers come back as int64, other numbers as
// float64. Keys are restored in sorted order.
package wire

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xtxerr/strata/config"
	"github.com/xtxerr/strata/internal/document"
)

// Reader reads length-delimited documents from an io.Reader.
// It is safe for concurrent use.
type Reader struct {
	r       *bufio.Reader
	maxSize int64
	mu      sync.Mutex
}

// NewReader creates a Reader wrapping the given io.Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r), maxSize: config.DefaultMaxFrameSize}
}

// Read returns the next document, or io.EOF after the last one.
func (r *Reader) Read() (*document.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := &structpb.Struct{}
	opts := protodelim.UnmarshalOptions{MaxSize: r.maxSize}
	if err := opts.UnmarshalFrom(r.r, msg); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read document: %w", err)
	}
	return FromStruct(msg), nil
}

// Writer writes length-delimited documents to an io.Writer.
// It is safe for concurrent use.
type Writer struct {
	w  io.Writer
	mu sync.Mutex
}

// NewWriter creates a Writer wrapping the given io.Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write marshals and writes doc with its length prefix.
func (w *Writer) Write(doc *document.Document) error {
	msg, err := ToStruct(doc)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := protodelim.MarshalTo(w.w, msg); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}

// =============================================================================
// Struct conversion
// =============================================================================

// ToStruct converts doc into a protobuf Struct.
func ToStruct(doc *document.Document) (*structpb.Struct, error) {
	s := &structpb.Struct{Fields: make(map[string]*structpb.Value, doc.Len())}
	var err error
	doc.Range(func(k string, v any) bool {
		var pv *structpb.Value
		if pv, err = toValue(v); err != nil {
			err = fmt.Errorf("key %s: %w", k, err)
			return false
		}
		s.Fields[k] = pv
		return true
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func toValue(v any) (*structpb.Value, error) {
	switch x := v.(type) {
	case *document.Document:
		s, err := ToStruct(x)
		if err != nil {
			return nil, err
		}
		return structpb.NewStructValue(s), nil
	case []any:
		list := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(x))}
		for _, e := range x {
			pv, err := toValue(e)
			if err != nil {
				return nil, err
			}
			list.Values = append(list.Values, pv)
		}
		return structpb.NewListValue(list), nil
	case document.ObjectID:
		return structpb.NewStringValue(x.Hex()), nil
	}
	if f, ok := document.ToFloat(v); ok {
		return structpb.NewNumberValue(f), nil
	}
	return structpb.NewValue(v)
}

// FromStruct converts a protobuf Struct into a document.
func FromStruct(s *structpb.Struct) *document.Document {
	doc := document.New()
	keys := make([]string, 0, len(s.GetFields()))
	for k := range s.GetFields() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		doc.Set(k, fromValue(s.Fields[k]))
	}
	return doc
}

func fromValue(v *structpb.Value) any {
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return nil
	case *structpb.Value_BoolValue:
		return k.BoolValue
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_NumberValue:
		f := k.NumberValue
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case *structpb.Value_StructValue:
		return FromStruct(k.StructValue)
	case *structpb.Value_ListValue:
		out := make([]any, 0, len(k.ListValue.GetValues()))
		for _, e := range k.ListValue.GetValues() {
			out = append(out, fromValue(e))
		}
		return out
	}
	return nil
}
