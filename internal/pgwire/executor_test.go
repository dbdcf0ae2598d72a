package pgwire

import (
	"context"
	"testing"

	"github.com/cubedb/cubestore/internal/cubeerr"
)

func TestLiteralExecutorSingleValue(t *testing.T) {
	rs, err := LiteralExecutor{}.Execute(context.Background(), "SELECT 1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(rs.Rows) != 1 || len(rs.Rows[0]) != 1 || rs.Rows[0][0].(int64) != 1 {
		t.Fatalf("unexpected result: %+v", rs)
	}
}

func TestLiteralExecutorMultipleValues(t *testing.T) {
	rs, err := LiteralExecutor{}.Execute(context.Background(), "select 1, 2, 3;")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(rs.Columns) != 3 || len(rs.Rows[0]) != 3 {
		t.Fatalf("expected 3 columns and values, got %+v", rs)
	}
}

func TestLiteralExecutorRejectsUnsupported(t *testing.T) {
	_, err := LiteralExecutor{}.Execute(context.Background(), "SELECT * FROM orders")
	if !cubeerr.Is(err, cubeerr.KindUnsupported) {
		t.Fatalf("expected KindUnsupported, got %v", err)
	}
}

func TestEncodeText(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{int64(42), "42"},
		{"hello", "hello"},
		{true, "t"},
		{false, "f"},
		{nil, ""},
	}
	for _, c := range cases {
		got := string(encodeText(c.in))
		if c.in == nil {
			if encodeText(c.in) != nil {
				t.Errorf("encodeText(nil) = %q, want nil", got)
			}
			continue
		}
		if got != c.want {
			t.Errorf("encodeText(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}
