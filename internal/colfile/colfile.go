// Package colfile is the opaque columnar file store cubestore treats
// Arrow/Parquet as (spec.md §1, §6.3): row-grouped files with a fixed
// row-group size, a footer describing the index's column schema, and file
// names encoding (partition_id|chunk_id, optional suffix). It is not a
// Parquet implementation — the spec explicitly scopes Arrow/Parquet
// codecs out as an opaque external collaborator — but it gives
// storagecore a real, round-trippable file contract to compact, split and
// reassemble against.
package colfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cubedb/cubestore/internal/model"
)

// RowGroupSize is the fixed row-group size mandated by spec.md §6.3.
const RowGroupSize = 16384

// FileName encodes a partition or chunk file name. suffix is empty for the
// file's primary name, or a short string ("tmp", "a", "b", ...) for
// intermediate/staged names during compaction and split.
func FileName(kind string, id int64, suffix string) string {
	if suffix == "" {
		return fmt.Sprintf("%s_%d", kind, id)
	}
	return fmt.Sprintf("%s_%d_%s", kind, id, suffix)
}

// Footer describes a file's schema: the index's column order, independent
// of how many row-groups the file holds.
type Footer struct {
	Columns []string
}

// File is an in-memory columnar file: a footer plus an ordered sequence of
// row-groups, each holding at most RowGroupSize rows. Rows are stored
// row-major inside a row-group for simplicity (the row-group boundary,
// not an internal columnar layout, is the part of the Parquet contract
// the rest of the system actually depends on).
type File struct {
	Footer    Footer
	RowGroups [][]model.Row
}

// NewFile builds a File from a flat, already-sorted row slice, splitting
// it into RowGroupSize-sized row-groups.
func NewFile(columns []string, rows []model.Row) *File {
	f := &File{Footer: Footer{Columns: columns}}
	for i := 0; i < len(rows); i += RowGroupSize {
		end := i + RowGroupSize
		if end > len(rows) {
			end = len(rows)
		}
		f.RowGroups = append(f.RowGroups, rows[i:end])
	}
	if len(rows) == 0 {
		f.RowGroups = [][]model.Row{}
	}
	return f
}

// Rows flattens the file back into a single row slice, preserving
// row-group order (and therefore the lex-ascending sort-key order
// invariant §3.2 guarantees was true when the file was written).
func (f *File) Rows() []model.Row {
	total := 0
	for _, rg := range f.RowGroups {
		total += len(rg)
	}
	out := make([]model.Row, 0, total)
	for _, rg := range f.RowGroups {
		out = append(out, rg...)
	}
	return out
}

// RowCount returns the total row count across all row-groups.
func (f *File) RowCount() int64 {
	var n int64
	for _, rg := range f.RowGroups {
		n += int64(len(rg))
	}
	return n
}

// Encode serializes the file to bytes: a column-name header, then one
// length-prefixed JSON-encoded row-group at a time. This is the "opaque"
// on-disk form an upload step would write to the backing file store.
func (f *File) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeStrings(&buf, f.Footer.Columns); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(f.RowGroups))); err != nil {
		return nil, err
	}
	for _, rg := range f.RowGroups {
		data, err := encodeRowGroup(rg)
		if err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint64(len(data))); err != nil {
			return nil, err
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

// Decode parses bytes produced by Encode back into a File.
func Decode(data []byte) (*File, error) {
	r := bytes.NewReader(data)
	columns, err := readStrings(r)
	if err != nil {
		return nil, err
	}
	var numGroups uint32
	if err := binary.Read(r, binary.LittleEndian, &numGroups); err != nil {
		return nil, err
	}
	f := &File{Footer: Footer{Columns: columns}}
	for i := uint32(0); i < numGroups; i++ {
		var size uint64
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, err
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		rg, err := decodeRowGroup(buf)
		if err != nil {
			return nil, err
		}
		f.RowGroups = append(f.RowGroups, rg)
	}
	return f, nil
}
