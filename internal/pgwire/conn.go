package pgwire

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgproto3/v2"
	"go.uber.org/zap"

	"github.com/cubedb/cubestore/internal/config"
	"github.com/cubedb/cubestore/internal/cubeerr"
)

// protocolVersion3 is the only startup protocol version this front end
// negotiates (Postgres protocol 3.0, unchanged since Postgres 7.4).
const protocolVersion3 = 196608 // 3<<16 | 0

// Conn drives one client connection's startup negotiation and message
// loop, the byte-protocol analogue of the teacher's cmd/coordinator
// handler-table dispatch (cmd/coordinator/main.go's server.routes):
// there it's an HTTP method+path switch, here it's a pgproto3
// FrontendMessage type switch.
type Conn struct {
	raw      net.Conn
	backend  *pgproto3.Backend
	session  *Session
	executor QueryExecutor
	log      *zap.Logger
}

// NewConn wraps raw in a pgproto3.Backend and a fresh Session bounded by
// limits.
func NewConn(raw net.Conn, limits Limits, executor QueryExecutor, log *zap.Logger) *Conn {
	return &Conn{
		raw:      raw,
		backend:  pgproto3.NewBackend(raw, raw),
		session:  NewSession(limits),
		executor: executor,
		log:      log,
	}
}

// Serve negotiates startup, then dispatches messages until the client
// terminates, the connection errors, or ctx is canceled.
func (c *Conn) Serve(ctx context.Context) error {
	defer c.raw.Close()

	if err := c.negotiateStartup(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := c.backend.Receive()
		if err != nil {
			return fmt.Errorf("pgwire: receive: %w", err)
		}

		if err := c.dispatch(ctx, msg); err != nil {
			if _, isTerminate := msg.(*pgproto3.Terminate); isTerminate {
				return nil
			}
			if !keepsConnectionAlive(err) {
				c.sendError(err)
				return err
			}
			c.sendError(err)
			continue
		}

		if _, isTerminate := msg.(*pgproto3.Terminate); isTerminate {
			return nil
		}
	}
}

// negotiateStartup handles the plaintext-password startup handshake this
// front end supports (spec.md §6 names cleartext password as the
// supported auth method; SCRAM and friends are out of scope) and sends
// the ParameterStatus block every client expects before ReadyForQuery.
func (c *Conn) negotiateStartup() error {
	startup, err := c.backend.ReceiveStartupMessage()
	if err != nil {
		return fmt.Errorf("pgwire: startup: %w", err)
	}

	switch msg := startup.(type) {
	case *pgproto3.StartupMessage:
		if msg.ProtocolVersion != protocolVersion3 {
			return fmt.Errorf("pgwire: unsupported protocol version %d", msg.ProtocolVersion)
		}
	case *pgproto3.SSLRequest, *pgproto3.GSSEncRequest:
		if _, err := c.raw.Write([]byte{'N'}); err != nil {
			return fmt.Errorf("pgwire: decline TLS/GSS: %w", err)
		}
		return c.negotiateStartup()
	case *pgproto3.CancelRequest:
		return nil
	default:
		return fmt.Errorf("pgwire: unexpected startup message %T", startup)
	}

	if err := c.backend.Send(&pgproto3.AuthenticationCleartextPassword{}); err != nil {
		return err
	}
	c.backend.SetAuthType(pgproto3.AuthTypeCleartextPassword)
	pwMsg, err := c.backend.Receive()
	if err != nil {
		return fmt.Errorf("pgwire: password: %w", err)
	}
	if _, ok := pwMsg.(*pgproto3.PasswordMessage); !ok {
		return fmt.Errorf("pgwire: expected PasswordMessage, got %T", pwMsg)
	}

	if err := c.backend.Send(&pgproto3.AuthenticationOk{}); err != nil {
		return err
	}

	params := map[string]string{
		"server_version":   "13.0 (cubestore)",
		"server_encoding":  "UTF8",
		"client_encoding":  "UTF8",
		"DateStyle":        "ISO, MDY",
		"integer_datetimes": "on",
	}
	for name, value := range params {
		if err := c.backend.Send(&pgproto3.ParameterStatus{Name: name, Value: value}); err != nil {
			return err
		}
	}
	if err := c.backend.Send(&pgproto3.BackendKeyData{ProcessID: 0, SecretKey: 0}); err != nil {
		return err
	}
	return c.backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
}

// dispatch handles one frontend message, matching the simple-query and
// extended-query subsets spec.md §6 requires: Query | Parse | Bind |
// Execute | Describe | Close | Sync | Flush | Terminate. DECLARE, FETCH,
// and CLOSE <cursor> are recognized specially inside simple Query text;
// everything else routes to the configured QueryExecutor.
func (c *Conn) dispatch(ctx context.Context, msg pgproto3.FrontendMessage) error {
	switch m := msg.(type) {
	case *pgproto3.Query:
		return c.handleSimpleQuery(ctx, m.String)
	case *pgproto3.Parse:
		return c.handleParse(m)
	case *pgproto3.Bind:
		return c.handleBind(m)
	case *pgproto3.Execute:
		return c.handleExecute(ctx, m)
	case *pgproto3.Describe:
		return c.handleDescribe(m)
	case *pgproto3.Close:
		return c.handleClose(m)
	case *pgproto3.Sync:
		return c.backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
	case *pgproto3.Flush:
		return nil
	case *pgproto3.Terminate:
		return nil
	default:
		return cubeerr.New(cubeerr.KindUnsupported, cubeerr.CodeFeatureNotSupported,
			fmt.Sprintf("message type %T not supported", msg))
	}
}

// handleSimpleQuery always concludes with exactly one ReadyForQuery, on
// both the success and error paths — the simple-query protocol has no
// Sync message of its own to hang that on, unlike the extended-query
// messages dispatch handles below.
func (c *Conn) handleSimpleQuery(ctx context.Context, sql string) error {
	trimmed := strings.TrimSpace(sql)
	upper := strings.ToUpper(trimmed)

	var err error
	switch {
	case strings.HasPrefix(upper, "DECLARE"):
		err = c.handleDeclare(ctx, trimmed)
	case strings.HasPrefix(upper, "FETCH"):
		err = c.handleFetch(trimmed)
	case strings.HasPrefix(upper, "CLOSE"):
		err = c.handleCloseCursor(trimmed)
	default:
		err = c.handlePlainQuery(ctx, trimmed)
	}
	if err != nil {
		c.sendError(err)
	}
	return c.backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
}

func (c *Conn) handleDeclare(ctx context.Context, sql string) error {
	parsed, perr := ParseDeclare(sql)
	if perr != nil {
		return asCubeErr(perr)
	}
	result, err := c.executor.Execute(ctx, parsed.Query)
	if err != nil {
		return err
	}
	if err := c.session.DeclareCursor(parsed.Name, result); err != nil {
		return err
	}
	return c.backend.Send(&pgproto3.CommandComplete{CommandTag: []byte("DECLARE CURSOR")})
}

func (c *Conn) handleFetch(sql string) error {
	name, count, perr := ParseFetch(sql)
	if perr != nil {
		return asCubeErr(perr)
	}
	cur, ok := c.session.Cursor(name)
	if !ok {
		return cubeerr.New(cubeerr.KindUser, cubeerr.CodeObjectNotInPrerequisiteState,
			fmt.Sprintf("cursor %q does not exist", name))
	}
	rows, err := cur.Fetch(count)
	if err != nil {
		return err
	}
	if err := c.sendRows(cur.Result.Columns, rows); err != nil {
		return err
	}
	return c.backend.Send(&pgproto3.CommandComplete{CommandTag: []byte(fmt.Sprintf("FETCH %d", len(rows)))})
}

func (c *Conn) handleCloseCursor(sql string) error {
	name, perr := ParseClose(sql)
	if perr != nil {
		return asCubeErr(perr)
	}
	c.session.CloseCursor(name)
	return c.backend.Send(&pgproto3.CommandComplete{CommandTag: []byte("CLOSE CURSOR")})
}

func (c *Conn) handlePlainQuery(ctx context.Context, sql string) error {
	if sql == "" {
		return c.backend.Send(&pgproto3.EmptyQueryResponse{})
	}
	result, err := c.executor.Execute(ctx, sql)
	if err != nil {
		return err
	}
	if err := c.sendRows(result.Columns, result.Rows); err != nil {
		return err
	}
	return c.backend.Send(&pgproto3.CommandComplete{CommandTag: []byte(fmt.Sprintf("SELECT %d", len(result.Rows)))})
}

func (c *Conn) sendRows(cols []Column, rows [][]any) error {
	fields := make([]pgproto3.FieldDescription, len(cols))
	for i, col := range cols {
		fields[i] = pgproto3.FieldDescription{
			Name:         []byte(col.Name),
			DataTypeOID:  col.OID,
			DataTypeSize: -1,
			Format:       int16(FormatText),
		}
	}
	if err := c.backend.Send(&pgproto3.RowDescription{Fields: fields}); err != nil {
		return err
	}
	for _, row := range rows {
		values := make([][]byte, len(row))
		for i, v := range row {
			values[i] = encodeText(v)
		}
		if err := c.backend.Send(&pgproto3.DataRow{Values: values}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) handleParse(m *pgproto3.Parse) error {
	stmt := &Statement{Name: m.Name, SQL: m.Query, ParamOIDs: append([]OID(nil), m.ParameterOIDs...)}
	if err := c.session.AddStatement(stmt); err != nil {
		return err
	}
	return c.backend.Send(&pgproto3.ParseComplete{})
}

func (c *Conn) handleBind(m *pgproto3.Bind) error {
	stmt, ok := c.session.Statement(m.PreparedStatement)
	if !ok {
		return cubeerr.New(cubeerr.KindUser, cubeerr.CodeUndefinedTable,
			fmt.Sprintf("prepared statement %q does not exist", m.PreparedStatement))
	}
	portal := &Portal{Name: m.DestinationPortal, Statement: stmt}
	if err := c.session.AddPortal(portal); err != nil {
		return err
	}
	return c.backend.Send(&pgproto3.BindComplete{})
}

func (c *Conn) handleExecute(ctx context.Context, m *pgproto3.Execute) error {
	portal, ok := c.session.Portal(m.Portal)
	if !ok {
		return cubeerr.New(cubeerr.KindUser, cubeerr.CodeUndefinedTable,
			fmt.Sprintf("portal %q does not exist", m.Portal))
	}
	if portal.Result == nil {
		result, err := c.executor.Execute(ctx, portal.Statement.SQL)
		if err != nil {
			return err
		}
		portal.Result = result
	}
	rows := portal.Result.Rows[portal.pos:]
	if m.MaxRows > 0 && uint32(len(rows)) > m.MaxRows {
		rows = rows[:m.MaxRows]
	}
	portal.pos += len(rows)
	if err := c.sendRows(portal.Result.Columns, rows); err != nil {
		return err
	}
	if portal.pos < len(portal.Result.Rows) {
		return c.backend.Send(&pgproto3.PortalSuspended{})
	}
	return c.backend.Send(&pgproto3.CommandComplete{CommandTag: []byte(fmt.Sprintf("SELECT %d", len(rows)))})
}

func (c *Conn) handleDescribe(m *pgproto3.Describe) error {
	switch m.ObjectType {
	case 'S':
		stmt, ok := c.session.Statement(m.Name)
		if !ok {
			return cubeerr.New(cubeerr.KindUser, cubeerr.CodeUndefinedTable,
				fmt.Sprintf("prepared statement %q does not exist", m.Name))
		}
		if err := c.backend.Send(&pgproto3.ParameterDescription{ParameterOIDs: stmt.ParamOIDs}); err != nil {
			return err
		}
		return c.backend.Send(&pgproto3.NoData{})
	case 'P':
		if _, ok := c.session.Portal(m.Name); !ok {
			return cubeerr.New(cubeerr.KindUser, cubeerr.CodeUndefinedTable,
				fmt.Sprintf("portal %q does not exist", m.Name))
		}
		return c.backend.Send(&pgproto3.NoData{})
	default:
		return cubeerr.New(cubeerr.KindUnsupported, cubeerr.CodeFeatureNotSupported,
			fmt.Sprintf("describe object type %q not supported", string(m.ObjectType)))
	}
}

func (c *Conn) handleClose(m *pgproto3.Close) error {
	switch m.ObjectType {
	case 'S':
		c.session.CloseStatement(m.Name)
	case 'P':
		c.session.ClosePortal(m.Name)
	default:
		return cubeerr.New(cubeerr.KindUnsupported, cubeerr.CodeFeatureNotSupported,
			fmt.Sprintf("close object type %q not supported", string(m.ObjectType)))
	}
	return c.backend.Send(&pgproto3.CloseComplete{})
}

func (c *Conn) sendError(err error) {
	if sendErr := c.backend.Send(toErrorResponse(err)); sendErr != nil && c.log != nil {
		c.log.Warn("pgwire: failed to send error response", zap.Error(sendErr))
	}
}

func asCubeErr(err error) error {
	if _, ok := err.(*cubeerr.Error); ok {
		return err
	}
	return cubeerr.Wrap(cubeerr.KindUser, cubeerr.CodeSyntaxError, err.Error(), err)
}

// limitsFromConfig adapts config.PGWireConfig to this package's Limits.
func limitsFromConfig(cfg config.PGWireConfig) Limits {
	return Limits{
		MaxPreparedStatements: cfg.MaxPreparedStatements,
		MaxPortals:            cfg.MaxPortals,
		MaxCursors:            cfg.MaxCursors,
	}
}
