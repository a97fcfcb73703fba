package table

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
)

// SchemaError reports a table that fails its declared schema on read:
// wrong container shape, wrong column names or types, or a null in a
// non-nullable column. Callers map Null errors to E_SCHEMA_NULL and
// everything else to E_SCHEMA_TYPE.
type SchemaError struct {
	Table  string
	Column string
	Row    int64 // -1 when not row-specific
	Null   bool
	Msg    string
}

func (e *SchemaError) Error() string {
	if e.Row >= 0 {
		return fmt.Sprintf("table %s row %d column %q: %s", e.Table, e.Row, e.Column, e.Msg)
	}
	if e.Column != "" {
		return fmt.Sprintf("table %s column %q: %s", e.Table, e.Column, e.Msg)
	}
	return fmt.Sprintf("table %s: %s", e.Table, e.Msg)
}

var decoder = func() *zstd.Decoder {
	d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		panic(err)
	}
	return d
}()

// Table is a fully decoded, schema-checked table.
type Table struct {
	Schema Schema
	Rows   []Row
}

// String returns the string value at (row, column name). The column must
// exist with TypeString; Read guarantees that for a validated table.
func (t *Table) String(row int, col string) string {
	v := t.Rows[row][t.Schema.Col(col)]
	if v == nil {
		return ""
	}
	return v.(string)
}

// Int64 returns the int64 value at (row, column name).
func (t *Table) Int64(row int, col string) int64 {
	v := t.Rows[row][t.Schema.Col(col)]
	if v == nil {
		return 0
	}
	return v.(int64)
}

// Int8 returns the int8 value at (row, column name).
func (t *Table) Int8(row int, col string) int8 {
	v := t.Rows[row][t.Schema.Col(col)]
	if v == nil {
		return 0
	}
	return v.(int8)
}

// Read loads a table file and validates it against the expected schema:
// column names in order, physical types, and nullability.
func Read(path string, schema Schema) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data, schema)
}

// Decode parses and validates table bytes. Every deviation from the
// declared schema is a *SchemaError.
func Decode(data []byte, schema Schema) (*Table, error) {
	r := &byteReader{data: data, table: schema.Name}

	var m [4]byte
	if err := r.read(m[:]); err != nil {
		return nil, err
	}
	if m != magic {
		return nil, &SchemaError{Table: schema.Name, Row: -1, Msg: "bad magic: not an .axt table"}
	}
	ver, err := r.u16()
	if err != nil {
		return nil, err
	}
	if ver != version {
		return nil, &SchemaError{Table: schema.Name, Row: -1, Msg: fmt.Sprintf("unsupported container version %d", ver)}
	}
	ncols, err := r.u16()
	if err != nil {
		return nil, err
	}
	if int(ncols) != len(schema.Columns) {
		return nil, &SchemaError{Table: schema.Name, Row: -1,
			Msg: fmt.Sprintf("have %d columns, schema requires %d", ncols, len(schema.Columns))}
	}
	nrows64, err := r.u64()
	if err != nil {
		return nil, err
	}
	nrows := int(nrows64)

	// Schema block: names, types, and nullability must match in order.
	for _, want := range schema.Columns {
		nameLen, err := r.u16()
		if err != nil {
			return nil, err
		}
		name, err := r.bytes(int(nameLen))
		if err != nil {
			return nil, err
		}
		typ, err := r.u8()
		if err != nil {
			return nil, err
		}
		nullable, err := r.u8()
		if err != nil {
			return nil, err
		}
		if string(name) != want.Name {
			return nil, &SchemaError{Table: schema.Name, Column: want.Name, Row: -1,
				Msg: fmt.Sprintf("have column %q, schema requires %q", name, want.Name)}
		}
		if Type(typ) != want.Type {
			return nil, &SchemaError{Table: schema.Name, Column: want.Name, Row: -1,
				Msg: fmt.Sprintf("have type %s, schema requires %s", Type(typ), want.Type)}
		}
		if (nullable == 1) != want.Nullable {
			return nil, &SchemaError{Table: schema.Name, Column: want.Name, Row: -1,
				Msg: fmt.Sprintf("nullability %v, schema requires %v", nullable == 1, want.Nullable)}
		}
	}

	rows := make([]Row, nrows)
	for i := range rows {
		rows[i] = make(Row, len(schema.Columns))
	}

	for ci, col := range schema.Columns {
		bitmapLen, err := r.u32()
		if err != nil {
			return nil, err
		}
		if int(bitmapLen) != (nrows+7)/8 {
			return nil, &SchemaError{Table: schema.Name, Column: col.Name, Row: -1, Msg: "validity bitmap length mismatch"}
		}
		bitmap, err := r.bytes(int(bitmapLen))
		if err != nil {
			return nil, err
		}
		rawLen, err := r.u32()
		if err != nil {
			return nil, err
		}
		compLen, err := r.u32()
		if err != nil {
			return nil, err
		}
		comp, err := r.bytes(int(compLen))
		if err != nil {
			return nil, err
		}
		raw, err := decoder.DecodeAll(comp, nil)
		if err != nil {
			return nil, &SchemaError{Table: schema.Name, Column: col.Name, Row: -1,
				Msg: fmt.Sprintf("column decompression failed: %v", err)}
		}
		if len(raw) != int(rawLen) {
			return nil, &SchemaError{Table: schema.Name, Column: col.Name, Row: -1, Msg: "column data length mismatch"}
		}

		vr := &byteReader{data: raw, table: schema.Name}
		for ri := 0; ri < nrows; ri++ {
			valid := bitmap[ri/8]&(1<<(ri%8)) != 0
			v, err := decodeValue(vr, col.Type)
			if err != nil {
				return nil, err
			}
			if !valid {
				if !col.Nullable {
					return nil, &SchemaError{Table: schema.Name, Column: col.Name, Row: int64(ri),
						Null: true, Msg: "null in non-nullable column"}
				}
				rows[ri][ci] = nil
				continue
			}
			rows[ri][ci] = v
		}
	}

	if len(r.data) != r.off {
		return nil, &SchemaError{Table: schema.Name, Row: -1, Msg: "trailing bytes after last column"}
	}

	return &Table{Schema: schema, Rows: rows}, nil
}

func decodeValue(r *byteReader, t Type) (any, error) {
	switch t {
	case TypeString:
		n, err := r.u32()
		if err != nil {
			return nil, err
		}
		b, err := r.bytes(int(n))
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case TypeInt64:
		n, err := r.u64()
		if err != nil {
			return nil, err
		}
		return int64(n), nil
	case TypeInt8:
		b, err := r.u8()
		if err != nil {
			return nil, err
		}
		return int8(b), nil
	default:
		return nil, fmt.Errorf("table: unknown type %v", t)
	}
}

// byteReader is a bounds-checked cursor over the container bytes. Every
// short read is a schema error, never a panic.
type byteReader struct {
	data  []byte
	off   int
	table string
}

func (r *byteReader) read(dst []byte) error {
	b, err := r.bytes(len(dst))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

func (r *byteReader) bytes(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.data) {
		return nil, &SchemaError{Table: r.table, Row: -1, Msg: "truncated table file"}
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *byteReader) u8() (byte, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *byteReader) u16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *byteReader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *byteReader) u64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}
