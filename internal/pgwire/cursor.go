package pgwire

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cubedb/cubestore/internal/cubeerr"
)

// Cursor is a server-side DECLARE'd cursor, holding a materialized result
// set and the next row it will serve (spec.md §6 "cursor statements
// (DECLARE, FETCH, CLOSE) are implemented server-side").
//
// Cursors here only ever scan forward, the only direction this front end
// implements, matching the FeatureNotSupported rejection
// of INSENSITIVE|ASENSITIVE and SCROLL|NO SCROLL at DECLARE time — there
// is no backward-fetch path to support once those are rejected.
type Cursor struct {
	Name    string
	Result  *ResultSet
	pos     int
}

// fetchAll is the sentinel FETCH count meaning "every remaining row".
const fetchAll = math.MaxInt32

// Fetch returns up to count rows starting at the cursor's current
// position and advances it. A negative count is rejected — this front
// end has no SCROLL support, so "scan backward" is never valid (spec.md
// §8 "FETCH -1 FROM c -> ErrorResponse(ObjectNotInPrerequisiteState,
// 'cursor can only scan forward')").
func (c *Cursor) Fetch(count int) ([][]any, error) {
	if count < 0 {
		return nil, cubeerr.New(cubeerr.KindUser, cubeerr.CodeObjectNotInPrerequisiteState,
			"cursor can only scan forward")
	}
	if count > fetchAll {
		count = fetchAll
	}
	end := c.pos + count
	total := len(c.Result.Rows)
	if end > total {
		end = total
	}
	rows := c.Result.Rows[c.pos:end]
	c.pos = end
	return rows, nil
}

// ParsedDeclare is the outcome of parsing a DECLARE statement: the
// cursor's name and the query text to execute for it.
type ParsedDeclare struct {
	Name  string
	Query string
}

// ParseDeclare parses "DECLARE name [INSENSITIVE|ASENSITIVE] [[NO] SCROLL]
// CURSOR FOR query", rejecting the sensitivity and scroll-direction
// modifiers this front end doesn't implement (spec.md §6).
func ParseDeclare(sql string) (*ParsedDeclare, error) {
	fields := strings.Fields(sql)
	if len(fields) < 4 || !strings.EqualFold(fields[0], "DECLARE") {
		return nil, fmt.Errorf("pgwire: not a DECLARE statement")
	}
	name := fields[1]

	forIdx := -1
	for i, f := range fields {
		switch strings.ToUpper(f) {
		case "INSENSITIVE", "ASENSITIVE":
			return nil, cubeerr.New(cubeerr.KindUnsupported, cubeerr.CodeFeatureNotSupported,
				"INSENSITIVE/ASENSITIVE cursors are not supported")
		case "SCROLL":
			return nil, cubeerr.New(cubeerr.KindUnsupported, cubeerr.CodeFeatureNotSupported,
				"SCROLL cursors are not supported")
		case "FOR":
			forIdx = i
		}
		if forIdx >= 0 {
			break
		}
	}
	if forIdx < 0 || forIdx == len(fields)-1 {
		return nil, fmt.Errorf("pgwire: DECLARE missing FOR query")
	}
	query := strings.Join(fields[forIdx+1:], " ")
	return &ParsedDeclare{Name: name, Query: query}, nil
}

// ParseFetch parses "FETCH [count|ALL|NEXT] FROM name" (the "FROM" and
// count are each optional, per SQL's FETCH grammar, defaulting to NEXT
// i.e. one row).
func ParseFetch(sql string) (name string, count int, err error) {
	fields := strings.Fields(sql)
	if len(fields) < 2 || !strings.EqualFold(fields[0], "FETCH") {
		return "", 0, fmt.Errorf("pgwire: not a FETCH statement")
	}
	rest := fields[1:]
	count = 1
	if idx := indexFold(rest, "FROM"); idx >= 0 {
		if idx > 0 {
			count, err = parseFetchCount(strings.Join(rest[:idx], " "))
			if err != nil {
				return "", 0, err
			}
		}
		rest = rest[idx+1:]
	} else if len(rest) > 1 {
		count, err = parseFetchCount(rest[0])
		if err != nil {
			return "", 0, err
		}
		rest = rest[1:]
	}
	if len(rest) == 0 {
		return "", 0, fmt.Errorf("pgwire: FETCH missing cursor name")
	}
	return rest[0], count, nil
}

func parseFetchCount(tok string) (int, error) {
	switch strings.ToUpper(tok) {
	case "ALL":
		return fetchAll, nil
	case "NEXT":
		return 1, nil
	}
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("pgwire: invalid FETCH count %q", tok)
	}
	return n, nil
}

// ParseClose parses "CLOSE name".
func ParseClose(sql string) (name string, err error) {
	fields := strings.Fields(sql)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "CLOSE") {
		return "", fmt.Errorf("pgwire: not a CLOSE statement")
	}
	return fields[1], nil
}

func indexFold(fields []string, target string) int {
	for i, f := range fields {
		if strings.EqualFold(f, target) {
			return i
		}
	}
	return -1
}

// Limits bounds a connection's concurrent prepared statements, portals,
// and cursors (spec.md §6). Exceeding any of them yields
// ConfigurationLimitExceeded without dropping the connection.
type Limits struct {
	MaxPreparedStatements int
	MaxPortals            int
	MaxCursors            int
}

// Statement is a prepared statement registered by Parse.
type Statement struct {
	Name      string
	SQL       string
	ParamOIDs []OID
}

// Portal is a bound statement registered by Bind, ready for Execute.
type Portal struct {
	Name      string
	Statement *Statement
	Result    *ResultSet
	pos       int
}

// Session holds one connection's prepared statements, portals, and
// cursors, enforcing Limits on each (spec.md §6's "configurable limits").
// Session itself does no I/O — Conn drives it from the message loop.
type Session struct {
	limits     Limits
	statements map[string]*Statement
	portals    map[string]*Portal
	cursors    map[string]*Cursor
}

// NewSession builds an empty session bounded by limits.
func NewSession(limits Limits) *Session {
	return &Session{
		limits:     limits,
		statements: make(map[string]*Statement),
		portals:    make(map[string]*Portal),
		cursors:    make(map[string]*Cursor),
	}
}

func configLimitErr(what string) error {
	return cubeerr.New(cubeerr.KindConfigurationLimit, cubeerr.CodeConfigurationLimitExceeded,
		fmt.Sprintf("too many concurrent %s for this connection", what))
}

// AddStatement registers stmt under its own name, replacing any statement
// already registered under the unnamed ("") name per the extended-query
// protocol's convention, or erroring with ConfigurationLimitExceeded if
// the named-statement cap is already reached.
func (s *Session) AddStatement(stmt *Statement) error {
	if stmt.Name == "" {
		s.statements[""] = stmt
		return nil
	}
	if _, exists := s.statements[stmt.Name]; !exists && len(s.statements) >= s.limits.MaxPreparedStatements {
		return configLimitErr("prepared statements")
	}
	s.statements[stmt.Name] = stmt
	return nil
}

// Statement looks up a previously-Parse'd statement by name.
func (s *Session) Statement(name string) (*Statement, bool) {
	stmt, ok := s.statements[name]
	return stmt, ok
}

// CloseStatement removes a prepared statement.
func (s *Session) CloseStatement(name string) { delete(s.statements, name) }

// AddPortal registers p, enforcing MaxPortals the same way AddStatement
// enforces MaxPreparedStatements.
func (s *Session) AddPortal(p *Portal) error {
	if p.Name == "" {
		s.portals[""] = p
		return nil
	}
	if _, exists := s.portals[p.Name]; !exists && len(s.portals) >= s.limits.MaxPortals {
		return configLimitErr("portals")
	}
	s.portals[p.Name] = p
	return nil
}

// Portal looks up a previously-Bind'd portal by name.
func (s *Session) Portal(name string) (*Portal, bool) {
	p, ok := s.portals[name]
	return p, ok
}

// ClosePortal removes a portal.
func (s *Session) ClosePortal(name string) { delete(s.portals, name) }

// DeclareCursor registers a materialized cursor under name, enforcing
// MaxCursors.
func (s *Session) DeclareCursor(name string, result *ResultSet) error {
	if _, exists := s.cursors[name]; !exists && len(s.cursors) >= s.limits.MaxCursors {
		return configLimitErr("cursors")
	}
	s.cursors[name] = &Cursor{Name: name, Result: result}
	return nil
}

// Cursor looks up a declared cursor by name.
func (s *Session) Cursor(name string) (*Cursor, bool) {
	c, ok := s.cursors[name]
	return c, ok
}

// CloseCursor removes a cursor.
func (s *Session) CloseCursor(name string) { delete(s.cursors, name) }
