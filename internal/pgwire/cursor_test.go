package pgwire

import "testing"

func TestParseDeclareBasic(t *testing.T) {
	d, err := ParseDeclare("DECLARE c CURSOR FOR SELECT 1")
	if err != nil {
		t.Fatalf("ParseDeclare: %v", err)
	}
	if d.Name != "c" || d.Query != "SELECT 1" {
		t.Errorf("unexpected parse result: %+v", d)
	}
}

func TestParseDeclareRejectsScroll(t *testing.T) {
	if _, err := ParseDeclare("DECLARE c SCROLL CURSOR FOR SELECT 1"); err == nil {
		t.Errorf("expected an error for a SCROLL cursor")
	}
}

func TestParseDeclareRejectsNoScroll(t *testing.T) {
	if _, err := ParseDeclare("DECLARE c NO SCROLL CURSOR FOR SELECT 1"); err == nil {
		t.Errorf("expected an error for a NO SCROLL cursor")
	}
}

func TestParseDeclareRejectsInsensitive(t *testing.T) {
	if _, err := ParseDeclare("DECLARE c INSENSITIVE CURSOR FOR SELECT 1"); err == nil {
		t.Errorf("expected an error for an INSENSITIVE cursor")
	}
}

func TestParseFetchDefaultsToOneRow(t *testing.T) {
	name, count, err := ParseFetch("FETCH FROM c")
	if err != nil {
		t.Fatalf("ParseFetch: %v", err)
	}
	if name != "c" || count != 1 {
		t.Errorf("expected (c, 1), got (%s, %d)", name, count)
	}
}

func TestParseFetchWithCount(t *testing.T) {
	name, count, err := ParseFetch("FETCH 10 FROM c")
	if err != nil {
		t.Fatalf("ParseFetch: %v", err)
	}
	if name != "c" || count != 10 {
		t.Errorf("expected (c, 10), got (%s, %d)", name, count)
	}
}

func TestParseFetchAll(t *testing.T) {
	_, count, err := ParseFetch("FETCH ALL FROM c")
	if err != nil {
		t.Fatalf("ParseFetch: %v", err)
	}
	if count != fetchAll {
		t.Errorf("expected fetchAll sentinel, got %d", count)
	}
}

func TestParseFetchNegative(t *testing.T) {
	_, count, err := ParseFetch("FETCH -1 FROM c")
	if err != nil {
		t.Fatalf("ParseFetch should parse a negative count, got error: %v", err)
	}
	if count != -1 {
		t.Errorf("expected count -1, got %d", count)
	}
}

func TestParseClose(t *testing.T) {
	name, err := ParseClose("CLOSE c")
	if err != nil {
		t.Fatalf("ParseClose: %v", err)
	}
	if name != "c" {
		t.Errorf("expected cursor name c, got %q", name)
	}
}

func TestCursorFetchRejectsNegative(t *testing.T) {
	c := &Cursor{Name: "c", Result: &ResultSet{Rows: [][]any{{int64(1)}}}}
	if _, err := c.Fetch(-1); err == nil {
		t.Errorf("expected an error fetching a negative count")
	}
}

func TestCursorFetchAdvancesPosition(t *testing.T) {
	c := &Cursor{Name: "c", Result: &ResultSet{Rows: [][]any{{int64(1)}, {int64(2)}, {int64(3)}}}}
	rows, err := c.Fetch(2)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	rows, err = c.Fetch(10)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("expected 1 remaining row, got %d", len(rows))
	}
}

func TestSessionEnforcesCursorLimit(t *testing.T) {
	s := NewSession(Limits{MaxCursors: 1})
	if err := s.DeclareCursor("a", &ResultSet{}); err != nil {
		t.Fatalf("first DeclareCursor: %v", err)
	}
	if err := s.DeclareCursor("b", &ResultSet{}); err == nil {
		t.Errorf("expected the second DeclareCursor to exceed MaxCursors")
	}
	s.CloseCursor("a")
	if err := s.DeclareCursor("b", &ResultSet{}); err != nil {
		t.Errorf("expected DeclareCursor to succeed after freeing a slot: %v", err)
	}
}

func TestSessionEnforcesStatementLimit(t *testing.T) {
	s := NewSession(Limits{MaxPreparedStatements: 1})
	if err := s.AddStatement(&Statement{Name: "a"}); err != nil {
		t.Fatalf("first AddStatement: %v", err)
	}
	if err := s.AddStatement(&Statement{Name: "b"}); err == nil {
		t.Errorf("expected the second AddStatement to exceed MaxPreparedStatements")
	}
	// Re-adding the same name should not count against the limit again.
	if err := s.AddStatement(&Statement{Name: "a", SQL: "SELECT 2"}); err != nil {
		t.Errorf("expected re-adding an existing statement name to succeed: %v", err)
	}
}

func TestSessionUnnamedStatementBypassesLimit(t *testing.T) {
	s := NewSession(Limits{MaxPreparedStatements: 0})
	if err := s.AddStatement(&Statement{Name: ""}); err != nil {
		t.Errorf("expected the unnamed statement slot to bypass the limit: %v", err)
	}
}
