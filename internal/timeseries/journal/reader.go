package journal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// Reader reads the records of one segment.
type Reader struct {
	path string
	file *os.File
}

// NewReader opens the segment at path and checks its header.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}

	var header [headerSize]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}
	if m := binary.LittleEndian.Uint64(header[0:8]); m != magic {
		f.Close()
		return nil, fmt.Errorf("invalid magic: expected %x, got %x", uint64(magic), m)
	}
	if v := binary.LittleEndian.Uint32(header[8:12]); v != version {
		f.Close()
		return nil, fmt.Errorf("unsupported version: %d", v)
	}

	return &Reader{path: path, file: f}, nil
}

// Next returns the points of the next record, or io.EOF after the last.
func (r *Reader) Next() ([]Point, error) {
	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(r.file, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read record header: %w", err)
	}

	length := binary.LittleEndian.Uint32(header[0:4])
	expected := binary.LittleEndian.Uint32(header[4:8])
	if length > maxRecordSize {
		return nil, fmt.Errorf("record too large: %d bytes", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.file, payload); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if actual := crc32.ChecksumIEEE(payload); actual != expected {
		return nil, fmt.Errorf("CRC mismatch: expected %x, got %x", expected, actual)
	}
	return decodePoints(payload)
}

// Close closes the segment.
func (r *Reader) Close() error {
	return r.file.Close()
}

// ReadSegment returns every intact point of the segment at path. Reading
// stops at the first damaged record, which after a crash is the torn
// tail; damaged reports whether that happened.
func ReadSegment(path string) (points []Point, damaged bool, err error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, false, err
	}
	defer r.Close()

	for {
		batch, err := r.Next()
		if err == io.EOF {
			return points, false, nil
		}
		if err != nil {
			return points, true, nil
		}
		points = append(points, batch...)
	}
}
