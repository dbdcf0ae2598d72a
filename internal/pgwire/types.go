// Package pgwire is the Postgres wire protocol front end: a thin framing
// and state-machine layer over github.com/jackc/pgproto3/v2, which owns
// message encode/decode and startup negotiation. This package does not
// parse SQL — it frames the wire protocol and hands query text to a
// QueryExecutor, treating query execution itself as the opaque
// collaborator the wider spec already scopes out ("SQL parsing and
// protocol front-ends ... referenced only through their interfaces").
package pgwire

// OID is a Postgres type OID, per the static pg_type catalog spec.md §6
// names explicitly.
type OID = uint32

// Scalar and array type OIDs, mirroring Postgres's pg_type catalog.
const (
	OIDBool        OID = 16
	OIDBytea       OID = 17
	OIDInt8        OID = 20
	OIDInt2        OID = 21
	OIDInt4        OID = 23
	OIDText        OID = 25
	OIDOID         OID = 26
	OIDPGClass     OID = 83
	OIDFloat4      OID = 700
	OIDFloat8      OID = 701
	OIDVarchar     OID = 1043
	OIDDate        OID = 1082
	OIDTime        OID = 1083
	OIDTimestamp   OID = 1114
	OIDTimestamptz OID = 1184
	OIDInterval    OID = 1186
	OIDNumeric     OID = 1700
	OIDRecord      OID = 2249

	OIDArrayInt2   OID = 1005
	OIDArrayInt4   OID = 1007
	OIDArrayInt8   OID = 1016
	OIDArrayFloat4 OID = 1021
	OIDArrayFloat8 OID = 1022
	OIDArrayText   OID = 1009
	OIDArrayBool   OID = 1000
	OIDArrayBytea  OID = 1001
)

// typeNames backs TypeName for diagnostics and logging; it is not
// exhaustive over every OID above, only the ones callers are likely to
// log by name.
var typeNames = map[OID]string{
	OIDBool:        "bool",
	OIDBytea:       "bytea",
	OIDInt8:        "int8",
	OIDInt2:        "int2",
	OIDInt4:        "int4",
	OIDText:        "text",
	OIDOID:         "oid",
	OIDPGClass:     "pg_class",
	OIDFloat4:      "float4",
	OIDFloat8:      "float8",
	OIDVarchar:     "varchar",
	OIDDate:        "date",
	OIDTime:        "time",
	OIDTimestamp:   "timestamp",
	OIDTimestamptz: "timestamptz",
	OIDInterval:    "interval",
	OIDNumeric:     "numeric",
	OIDRecord:      "record",
}

// TypeName returns oid's catalog name, or "unknown" if it isn't one this
// package names explicitly.
func TypeName(oid OID) string {
	if n, ok := typeNames[oid]; ok {
		return n
	}
	return "unknown"
}

// FormatCode mirrors pgproto3's wire format discriminator: 0 is text, 1
// is binary.
type FormatCode int16

const (
	FormatText   FormatCode = 0
	FormatBinary FormatCode = 1
)

// binaryCapable lists the scalar OIDs this front end can send/receive in
// binary format (spec.md §6 "Binary send/recv supported for scalar
// types; text is always supported"). Anything not listed here still
// works — it's simply always rendered as text regardless of the
// requested format code.
var binaryCapable = map[OID]bool{
	OIDBool:        true,
	OIDInt2:        true,
	OIDInt4:        true,
	OIDInt8:        true,
	OIDFloat4:      true,
	OIDFloat8:      true,
	OIDText:        true,
	OIDVarchar:     true,
	OIDBytea:       true,
	OIDDate:        true,
	OIDTimestamp:   true,
	OIDTimestamptz: true,
}

// SupportsBinary reports whether oid has a binary encoding in this front
// end.
func SupportsBinary(oid OID) bool {
	return binaryCapable[oid]
}
