package colfile

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/cubedb/cubestore/internal/model"
)

func writeStrings(w io.Writer, ss []string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(ss))); err != nil {
		return err
	}
	for _, s := range ss {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
			return err
		}
		if _, err := w.Write([]byte(s)); err != nil {
			return err
		}
	}
	return nil
}

func readStrings(r io.Reader) ([]string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		var l uint32
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return nil, err
		}
		buf := make([]byte, l)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		out[i] = string(buf)
	}
	return out, nil
}

// encodeRowGroup serializes a row-group as JSON. Real Parquet would use a
// typed columnar layout per column; since this format is explicitly the
// opaque stand-in the spec treats Arrow/Parquet as, a simple
// self-describing encoding is sufficient and keeps row values (ints,
// floats, strings, timestamps) untyped at this layer.
func encodeRowGroup(rows []model.Row) ([]byte, error) {
	return json.Marshal(rows)
}

func decodeRowGroup(data []byte) ([]model.Row, error) {
	var rows []model.Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
