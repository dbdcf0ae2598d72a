package pgwire

import (
	"errors"

	"github.com/jackc/pgproto3/v2"

	"github.com/cubedb/cubestore/internal/cubeerr"
)

// toErrorResponse renders err as a wire ErrorResponse, classifying it by
// cubeerr.Kind first so unclassified errors still get a reasonable
// SQLSTATE-like code instead of leaking a Go error string as the only
// signal (spec.md §7's propagation table).
func toErrorResponse(err error) *pgproto3.ErrorResponse {
	var ce *cubeerr.Error
	if errors.As(err, &ce) {
		return &pgproto3.ErrorResponse{
			Severity: severityFor(ce.Kind),
			Code:     ce.Code,
			Message:  ce.Message,
		}
	}
	return &pgproto3.ErrorResponse{
		Severity: "ERROR",
		Code:     cubeerr.CodeInternalError,
		Message:  err.Error(),
	}
}

// severityFor maps a Kind to the wire protocol's severity field. Only
// KindInternal is rendered FATAL. Whether the connection stays open is
// decided separately by keepsConnectionAlive below, which also closes it
// after transient and cancellation errors, though those render as ERROR.
func severityFor(kind cubeerr.Kind) string {
	if kind == cubeerr.KindInternal {
		return "FATAL"
	}
	return "ERROR"
}

// keepsConnectionAlive reports whether a connection should keep serving
// further queries after err, rather than being closed (spec.md §7: user
// errors, unsupported features, and configuration-limit errors return
// the connection to ready; internal errors are fatal to the job that hit
// them, so the connection this front end owns is torn down).
func keepsConnectionAlive(err error) bool {
	switch cubeerr.KindOf(err) {
	case cubeerr.KindUser, cubeerr.KindUnsupported, cubeerr.KindConfigurationLimit:
		return true
	case cubeerr.KindCancellation:
		return false
	default:
		return false
	}
}
