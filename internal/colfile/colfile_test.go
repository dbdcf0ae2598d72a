package colfile

import (
	"testing"

	"github.com/cubedb/cubestore/internal/model"
)

func TestFileRoundTrip(t *testing.T) {
	rows := []model.Row{
		{"a": float64(1), "b": float64(1)},
		{"a": float64(2), "b": float64(1)},
		{"a": float64(3), "b": float64(1)},
	}
	f := NewFile([]string{"a", "b"}, rows)

	data, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if len(decoded.Footer.Columns) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(decoded.Footer.Columns))
	}
	got := decoded.Rows()
	if len(got) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(got))
	}
	if got[0]["a"].(float64) != 1 {
		t.Errorf("expected row order preserved, got %v", got[0]["a"])
	}
}

func TestRowGroupSplitting(t *testing.T) {
	rows := make([]model.Row, RowGroupSize+1)
	for i := range rows {
		rows[i] = model.Row{"a": float64(i)}
	}
	f := NewFile([]string{"a"}, rows)

	if len(f.RowGroups) != 2 {
		t.Fatalf("expected 2 row-groups for %d rows, got %d", len(rows), len(f.RowGroups))
	}
	if len(f.RowGroups[0]) != RowGroupSize {
		t.Errorf("expected first row-group to be full (%d), got %d", RowGroupSize, len(f.RowGroups[0]))
	}
	if len(f.RowGroups[1]) != 1 {
		t.Errorf("expected second row-group to hold the remainder, got %d", len(f.RowGroups[1]))
	}
}

func TestEmptyFile(t *testing.T) {
	f := NewFile([]string{"a"}, nil)
	if f.RowCount() != 0 {
		t.Errorf("expected empty file to have 0 rows, got %d", f.RowCount())
	}
	data, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.RowCount() != 0 {
		t.Errorf("expected decoded empty file to have 0 rows, got %d", decoded.RowCount())
	}
}
