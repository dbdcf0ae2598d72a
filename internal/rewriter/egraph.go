package rewriter

import (
	"fmt"
)

// ClassID indexes an e-class within an EGraph. Unlike NodeID (which indexes
// a fixed Plan arena), a ClassID is stable only up to union-find's find —
// callers that hold one across a Union call must re-find it.
type ClassID int32

// ScalarData holds every field of a Node that isn't a child pointer — the
// part of a node's identity planChildren doesn't already capture. Kept as
// a typed struct (not a serialized string) so extraction can rebuild a
// Plan node without any decode step.
type ScalarData struct {
	Table      string
	Alias      string
	Projection []string
	ScanLimit  int64
	HasLimit   bool
	Count      int64
	JoinType   string
	Snapshots  []string
	ColumnName string
	Literal    any
	Op         string
	FuncName   string
	Granularity string
	AliasName  string
	// GroupLen is the number of leading non-Input children that are
	// GroupExprs for Aggregate / ClusterAggregateTopK; the remainder are
	// AggExprs. Unused by other kinds.
	GroupLen int
}

func (s ScalarData) key() string {
	return fmt.Sprintf("%s|%s|%v|%d|%v|%d|%s|%v|%s|%v(%T)|%s|%s|%s|%s|%d",
		s.Table, s.Alias, s.Projection, s.ScanLimit, s.HasLimit, s.Count, s.JoinType,
		s.Snapshots, s.ColumnName, s.Literal, s.Literal, s.Op, s.FuncName, s.Granularity, s.AliasName, s.GroupLen)
}

// ENode is one canonical node inside an e-graph: Kind plus its scalar
// payload plus the already-find'd class ids of its children. Two ENodes
// with equal Kind, scalar key and Children hash-cons to one e-class.
type ENode struct {
	Kind     Kind
	Scalar   ScalarData
	Children []ClassID
}

func (n ENode) key() string {
	return fmt.Sprintf("%d|%s|%v", n.Kind, n.Scalar.key(), n.Children)
}

// EClass groups every ENode known to be equivalent to the others in it.
type EClass struct {
	Nodes []ENode
}

// EGraph is an arena of e-classes under union-find, with hash-consing so
// inserting a structurally-identical node twice returns the same class.
type EGraph struct {
	classes  []EClass
	parent   []ClassID
	rank     []int
	hashcons map[string]ClassID
}

// NewEGraph builds an empty e-graph.
func NewEGraph() *EGraph {
	return &EGraph{hashcons: make(map[string]ClassID)}
}

func (g *EGraph) newClass(n ENode) ClassID {
	id := ClassID(len(g.classes))
	g.classes = append(g.classes, EClass{Nodes: []ENode{n}})
	g.parent = append(g.parent, id)
	g.rank = append(g.rank, 0)
	g.hashcons[n.key()] = id
	return id
}

// Find returns the canonical representative of id's class, compressing the
// path as it walks.
func (g *EGraph) Find(id ClassID) ClassID {
	root := id
	for g.parent[root] != root {
		root = g.parent[root]
	}
	for g.parent[id] != root {
		next := g.parent[id]
		g.parent[id] = root
		id = next
	}
	return root
}

// Union merges the classes of a and b, returning the surviving root. No-op
// if they're already the same class.
func (g *EGraph) Union(a, b ClassID) ClassID {
	a, b = g.Find(a), g.Find(b)
	if a == b {
		return a
	}
	if g.rank[a] < g.rank[b] {
		a, b = b, a
	}
	g.parent[b] = a
	if g.rank[a] == g.rank[b] {
		g.rank[a]++
	}
	g.classes[a].Nodes = append(g.classes[a].Nodes, g.classes[b].Nodes...)
	g.classes[b].Nodes = nil
	return a
}

// AddENode canonicalizes n's children under the current union-find state,
// hash-conses against existing classes, and returns the class id — a fresh
// singleton class if this exact node hasn't been seen before.
func (g *EGraph) AddENode(n ENode) ClassID {
	canon := make([]ClassID, len(n.Children))
	for i, c := range n.Children {
		canon[i] = g.Find(c)
	}
	n.Children = canon
	if id, ok := g.hashcons[n.key()]; ok {
		return g.Find(id)
	}
	return g.newClass(n)
}

// Class returns the (possibly stale) class id's current content after
// find'ing it.
func (g *EGraph) Class(id ClassID) EClass {
	return g.classes[g.Find(id)]
}

// NumClasses reports how many distinct classes currently exist (including
// ones merged away, whose Nodes slice is now empty — callers iterate with
// Find to skip those).
func (g *EGraph) NumClasses() int {
	return len(g.classes)
}

// AddPlan recursively inserts every node reachable from id into the
// e-graph and returns the root's class id.
func (g *EGraph) AddPlan(p *Plan, id NodeID) ClassID {
	memo := make(map[NodeID]ClassID)
	return g.addNode(p, id, memo)
}

func (g *EGraph) addNode(p *Plan, id NodeID, memo map[NodeID]ClassID) ClassID {
	if cid, ok := memo[id]; ok {
		return cid
	}
	n := p.Node(id)
	childIDs := planChildren(n)
	children := make([]ClassID, len(childIDs))
	for i, cid := range childIDs {
		children[i] = g.addNode(p, cid, memo)
	}
	en := ENode{Kind: n.Kind, Scalar: scalarOf(n), Children: children}
	cid := g.AddENode(en)
	memo[id] = cid
	return cid
}

// planChildren returns, in a fixed per-Kind order, every NodeID a node
// logically points at. scalarOf must agree on what's *not* a child so a
// node's identity is exactly (Kind, scalar fields, children).
func planChildren(n Node) []NodeID {
	var out []NodeID
	switch n.Kind {
	case KindProjection, KindFilter, KindSort, KindLimit, KindOffset, KindClusterSend:
		out = append(out, n.Input)
		out = append(out, n.Exprs...)
	case KindAggregate:
		out = append(out, n.Input)
		out = append(out, n.GroupExprs...)
		out = append(out, n.AggExprs...)
	case KindJoin:
		out = append(out, n.Input, n.Input2)
		out = append(out, n.On...)
	case KindCrossJoin, KindUnion:
		out = append(out, n.Input, n.Input2)
	case KindClusterAggregateTopK:
		out = append(out, n.Input)
		out = append(out, n.GroupExprs...)
		out = append(out, n.AggExprs...)
	case KindTableScan:
		out = append(out, n.Filters...)
	case KindBinaryExpr:
		out = append(out, n.Left, n.Right)
	case KindScalarFunction, KindAggregateFunction, KindInList, KindCase:
		out = append(out, n.Args...)
	case KindDateTrunc:
		out = append(out, n.TimeCol)
	case KindAlias, KindCast, KindNot, KindIsNull, KindNegative, KindLike, KindBetween:
		out = append(out, n.Input)
		out = append(out, n.Args...)
	}
	return out
}

// scalarOf copies every non-child field of n into a ScalarData for
// hash-consing and later reconstruction.
func scalarOf(n Node) ScalarData {
	s := ScalarData{
		Table: n.Table, Alias: n.Alias, Projection: n.Projection,
		ScanLimit: n.ScanLimit, HasLimit: n.HasLimit,
		JoinType: n.JoinType, Snapshots: n.Snapshots,
		ColumnName: n.ColumnName, Literal: n.LiteralValue,
		Op: n.Op, FuncName: n.FuncName, AliasName: n.AliasName,
	}
	switch n.Kind {
	case KindLimit, KindOffset:
		s.Count = n.Count
	case KindAggregate:
		s.GroupLen = len(n.GroupExprs)
	case KindClusterAggregateTopK:
		s.Count = n.Count
		s.GroupLen = len(n.GroupExprs)
	case KindDateTrunc:
		s.Granularity = n.Granularity.String()
	case KindCast:
		s.FuncName = n.FuncName // target type name stashed here
	}
	return s
}
