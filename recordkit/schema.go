// Package recordkit builds and parses the opaque cell payloads the
// storage engine treats as unstructured bytes. It sits entirely above
// btree.Tree: the engine only ever parses a cell's key prefix (see
// btree.DecodeCellKey); everything recordkit does with the remaining
// bytes is a caller-layer concern, exercised only by this package's own
// tests; neither the tree nor the storageinspect CLI imports it.
package recordkit

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ColumnType discriminates how a column's fixed-width slot is encoded.
type ColumnType int

const (
	ColumnTypeInt ColumnType = iota
	ColumnTypeText
)

// Column describes one fixed-offset field of a row.
type Column struct {
	Name      string
	Type      ColumnType
	Offset    uint32
	ByteSize  uint32
	MaxLength uint32 // only meaningful for ColumnTypeText
}

// Schema is an ordered set of columns, the first of which is always the
// primary key column the caller must also use as the cell's key.
type Schema struct {
	Columns []Column
	RowSize uint32
}

// NewSchema lays out columns back-to-back, computing each one's Offset
// and the resulting fixed RowSize.
func NewSchema(cols []Column) Schema {
	var offset uint32
	laid := make([]Column, len(cols))
	for i, c := range cols {
		c.Offset = offset
		if c.Type == ColumnTypeText {
			c.ByteSize = c.MaxLength
		} else {
			c.ByteSize = 4
		}
		offset += c.ByteSize
		laid[i] = c
	}
	return Schema{Columns: laid, RowSize: offset}
}

// Row is one record's column values, in schema order.
type Row []interface{}

// Encode serializes row into a fixed-width byte slice per the schema's
// column layout.
func (s Schema) Encode(row Row) ([]byte, error) {
	if len(row) != len(s.Columns) {
		return nil, fmt.Errorf("recordkit: row has %d columns, schema has %d", len(row), len(s.Columns))
	}
	dst := make([]byte, s.RowSize)
	for i, col := range s.Columns {
		base := col.Offset
		switch col.Type {
		case ColumnTypeInt:
			val, ok := row[i].(uint32)
			if !ok {
				return nil, fmt.Errorf("recordkit: column %q expects uint32, got %T", col.Name, row[i])
			}
			binary.LittleEndian.PutUint32(dst[base:base+4], val)

		case ColumnTypeText:
			str, ok := row[i].(string)
			if !ok {
				return nil, fmt.Errorf("recordkit: column %q expects string, got %T", col.Name, row[i])
			}
			b := []byte(str)
			if uint32(len(b)) > col.MaxLength {
				b = b[:col.MaxLength]
			}
			copy(dst[base:base+uint32(len(b))], b)
		}
	}
	return dst, nil
}

// Decode parses a fixed-width byte slice back into a Row.
func (s Schema) Decode(src []byte) (Row, error) {
	if uint32(len(src)) != s.RowSize {
		return nil, fmt.Errorf("recordkit: src length %d, expected %d", len(src), s.RowSize)
	}
	row := make(Row, len(s.Columns))
	for i, col := range s.Columns {
		base := col.Offset
		switch col.Type {
		case ColumnTypeInt:
			row[i] = binary.LittleEndian.Uint32(src[base : base+4])
		case ColumnTypeText:
			raw := src[base : base+col.ByteSize]
			row[i] = strings.TrimRight(string(raw), "\x00")
		}
	}
	return row, nil
}

// PrimaryKey extracts the uint32 key from row's first column, the value
// the caller must pass to btree.EncodeCell as the cell's key.
func (s Schema) PrimaryKey(row Row) (uint32, error) {
	if len(row) == 0 {
		return 0, fmt.Errorf("recordkit: empty row has no primary key")
	}
	val, ok := row[0].(uint32)
	if !ok {
		return 0, fmt.Errorf("recordkit: primary key column %q must be uint32, got %T", s.Columns[0].Name, row[0])
	}
	return val, nil
}
