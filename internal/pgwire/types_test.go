package pgwire

import "testing"

func TestTypeNameKnownOID(t *testing.T) {
	if got := TypeName(OIDInt4); got != "int4" {
		t.Errorf("expected int4, got %q", got)
	}
}

func TestTypeNameUnknownOID(t *testing.T) {
	if got := TypeName(999999); got != "unknown" {
		t.Errorf("expected unknown, got %q", got)
	}
}

func TestSupportsBinaryScalar(t *testing.T) {
	if !SupportsBinary(OIDInt4) {
		t.Errorf("expected int4 to support binary")
	}
}

func TestSupportsBinaryUnlisted(t *testing.T) {
	if SupportsBinary(OIDNumeric) {
		t.Errorf("expected numeric to not be listed as binary-capable")
	}
}
