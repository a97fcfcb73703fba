package table

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/klauspost/compress/zstd"
)

// Container constants. Version bumps only for incompatible layout changes.
var magic = [4]byte{'A', 'X', 'T', '1'}

const version = 1

// The encoder is fixed to one goroutine and one level so identical input
// bytes always compress to identical frames.
var encoder = func() *zstd.Encoder {
	e, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		panic(err)
	}
	return e
}()

// Write encodes rows under the schema and writes the table file.
func Write(path string, schema Schema, rows []Row) error {
	data, err := Encode(schema, rows)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Encode produces the deterministic byte form of a table. Rows are sorted
// by the schema's primary key; values are validated against column types
// and nullability before anything is emitted.
func Encode(schema Schema, rows []Row) ([]byte, error) {
	sortCol := schema.Col(schema.SortKey)
	if sortCol < 0 {
		return nil, fmt.Errorf("table %s: sort key %q not in schema", schema.Name, schema.SortKey)
	}
	if schema.Columns[sortCol].Type != TypeString {
		return nil, fmt.Errorf("table %s: sort key %q must be a string column", schema.Name, schema.SortKey)
	}

	for i, row := range rows {
		if err := checkRow(schema, row); err != nil {
			return nil, fmt.Errorf("table %s row %d: %w", schema.Name, i, err)
		}
	}

	sorted := make([]Row, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i][sortCol].(string) < sorted[j][sortCol].(string)
	})

	var buf bytes.Buffer
	buf.Write(magic[:])
	writeU16(&buf, version)
	writeU16(&buf, uint16(len(schema.Columns)))
	writeU64(&buf, uint64(len(sorted)))

	for _, col := range schema.Columns {
		writeU16(&buf, uint16(len(col.Name)))
		buf.WriteString(col.Name)
		buf.WriteByte(byte(col.Type))
		if col.Nullable {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}

	for ci, col := range schema.Columns {
		bitmap := make([]byte, (len(sorted)+7)/8)
		var raw bytes.Buffer
		for ri, row := range sorted {
			v := row[ci]
			if v != nil {
				bitmap[ri/8] |= 1 << (ri % 8)
			}
			encodeValue(&raw, col.Type, v)
		}

		comp := encoder.EncodeAll(raw.Bytes(), nil)
		writeU32(&buf, uint32(len(bitmap)))
		buf.Write(bitmap)
		writeU32(&buf, uint32(raw.Len()))
		writeU32(&buf, uint32(len(comp)))
		buf.Write(comp)
	}

	return buf.Bytes(), nil
}

func checkRow(schema Schema, row Row) error {
	if len(row) != len(schema.Columns) {
		return fmt.Errorf("have %d values, schema has %d columns", len(row), len(schema.Columns))
	}
	for i, col := range schema.Columns {
		v := row[i]
		if v == nil {
			if !col.Nullable {
				return fmt.Errorf("column %q: null in non-nullable column", col.Name)
			}
			continue
		}
		switch col.Type {
		case TypeString:
			if _, ok := v.(string); !ok {
				return fmt.Errorf("column %q: want string, got %T", col.Name, v)
			}
		case TypeInt64:
			if _, ok := v.(int64); !ok {
				return fmt.Errorf("column %q: want int64, got %T", col.Name, v)
			}
		case TypeInt8:
			if _, ok := v.(int8); !ok {
				return fmt.Errorf("column %q: want int8, got %T", col.Name, v)
			}
		default:
			return fmt.Errorf("column %q: unknown type %v", col.Name, col.Type)
		}
	}
	return nil
}

func encodeValue(buf *bytes.Buffer, t Type, v any) {
	switch t {
	case TypeString:
		s, _ := v.(string) // nil encodes as empty, bitmap carries nullness
		writeU32(buf, uint32(len(s)))
		buf.WriteString(s)
	case TypeInt64:
		n, _ := v.(int64)
		writeU64(buf, uint64(n))
	case TypeInt8:
		n, _ := v.(int8)
		buf.WriteByte(byte(n))
	}
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}
