package journal

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Point encoding (little-endian), repeated after a 4 byte point count:
//   - attribute count (2 bytes), then per attribute in key order the key
//     and value as length-prefixed strings
//   - timestamp ms (8 bytes)
//   - value (8 bytes, float64 bits)

func encodePoints(points []Point) ([]byte, error) {
	buf := make([]byte, 0, len(points)*48)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(points)))

	for _, p := range points {
		if len(p.Attributes) > math.MaxUint16 {
			return nil, fmt.Errorf("too many attributes: %d", len(p.Attributes))
		}
		keys := make([]string, 0, len(p.Attributes))
		for k := range p.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(keys)))
		for _, k := range keys {
			var err error
			if buf, err = appendString(buf, k); err != nil {
				return nil, err
			}
			if buf, err = appendString(buf, p.Attributes[k]); err != nil {
				return nil, err
			}
		}
		buf = binary.LittleEndian.AppendUint64(buf, uint64(p.Timestamp))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p.Value))
	}
	return buf, nil
}

func decodePoints(data []byte) ([]Point, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("data too short for point count")
	}
	count := int(binary.LittleEndian.Uint32(data[0:4]))
	offset := 4

	points := make([]Point, 0, count)
	for i := 0; i < count; i++ {
		if offset+2 > len(data) {
			return nil, fmt.Errorf("point %d: data too short for attribute count", i)
		}
		n := int(binary.LittleEndian.Uint16(data[offset:]))
		offset += 2

		var p Point
		if n > 0 {
			p.Attributes = make(map[string]string, n)
		}
		for j := 0; j < n; j++ {
			var k, v string
			var err error
			if k, offset, err = readString(data, offset); err != nil {
				return nil, fmt.Errorf("point %d key: %w", i, err)
			}
			if v, offset, err = readString(data, offset); err != nil {
				return nil, fmt.Errorf("point %d value of %s: %w", i, k, err)
			}
			p.Attributes[k] = v
		}

		if offset+16 > len(data) {
			return nil, fmt.Errorf("point %d: data too short for timestamp and value", i)
		}
		p.Timestamp = int64(binary.LittleEndian.Uint64(data[offset:]))
		p.Value = math.Float64frombits(binary.LittleEndian.Uint64(data[offset+8:]))
		offset += 16

		points = append(points, p)
	}
	return points, nil
}

func appendString(buf []byte, s string) ([]byte, error) {
	if len(s) > math.MaxUint16 {
		return nil, fmt.Errorf("string of %d bytes too long", len(s))
	}
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...), nil
}

func readString(data []byte, offset int) (string, int, error) {
	if offset+2 > len(data) {
		return "", offset, fmt.Errorf("data too short for string length")
	}
	length := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2
	if offset+length > len(data) {
		return "", offset, fmt.Errorf("data too short for string content")
	}
	return string(data[offset : offset+length]), offset + length, nil
}
