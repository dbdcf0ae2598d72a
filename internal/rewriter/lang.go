// Package rewriter implements the equality-saturation planner: a small
// plan/expression language, an e-graph with union-find and hash-consing,
// a data-driven rule set, and a cost-based extractor that together decide
// which operators can be pushed into a ClusterSend wrapper and which
// pre-aggregation (if any) can serve a query.
package rewriter

import "github.com/cubedb/cubestore/internal/model"

// Kind tags every node in the plan/expression language. Plan and expression
// nodes share one arena so an e-class can mix them freely during matching,
// but a Kind is never both a plan and an expression.
type Kind int

const (
	// Plan nodes.
	KindTableScan Kind = iota
	KindProjection
	KindFilter
	KindAggregate
	KindSort
	KindLimit
	KindOffset
	KindJoin
	KindCrossJoin
	KindUnion
	KindClusterSend
	KindClusterAggregateTopK

	// Expression nodes.
	KindColumn
	KindLiteral
	KindBinaryExpr
	KindScalarFunction
	KindAggregateFunction
	KindDateTrunc
	KindCase
	KindCast
	KindBetween
	KindInList
	KindAlias
	KindLike
	KindNot
	KindIsNull
	KindNegative
)

func (k Kind) String() string {
	switch k {
	case KindTableScan:
		return "TableScan"
	case KindProjection:
		return "Projection"
	case KindFilter:
		return "Filter"
	case KindAggregate:
		return "Aggregate"
	case KindSort:
		return "Sort"
	case KindLimit:
		return "Limit"
	case KindOffset:
		return "Offset"
	case KindJoin:
		return "Join"
	case KindCrossJoin:
		return "CrossJoin"
	case KindUnion:
		return "Union"
	case KindClusterSend:
		return "ClusterSend"
	case KindClusterAggregateTopK:
		return "ClusterAggregateTopK"
	case KindColumn:
		return "Column"
	case KindLiteral:
		return "Literal"
	case KindBinaryExpr:
		return "BinaryExpr"
	case KindScalarFunction:
		return "ScalarFunction"
	case KindAggregateFunction:
		return "AggregateFunction"
	case KindDateTrunc:
		return "DateTrunc"
	case KindCase:
		return "Case"
	case KindCast:
		return "Cast"
	case KindBetween:
		return "Between"
	case KindInList:
		return "InList"
	case KindAlias:
		return "Alias"
	case KindLike:
		return "Like"
	case KindNot:
		return "Not"
	case KindIsNull:
		return "IsNull"
	case KindNegative:
		return "Negative"
	}
	return "Unknown"
}

// IsPlan reports whether k builds a relation rather than a scalar value.
func (k Kind) IsPlan() bool {
	return k <= KindClusterAggregateTopK
}

// NodeID indexes into a Plan's arena. It is dense and stable for the
// lifetime of one Plan value — Plan trees are never mutated in place,
// only rebuilt into a new arena by rewrites.
type NodeID int32

// Node is one arena-allocated plan or expression node. Only the fields
// relevant to Kind are populated; this mirrors a tagged union without
// requiring a Go sum-type workaround, and keeps the whole language in one
// flat slice instead of a pointer-linked tree.
type Node struct {
	Kind Kind

	// Single-input plan nodes (Projection, Filter, Sort, Limit, Offset,
	// ClusterSend) and unary expressions (Not, IsNull, Negative, Alias,
	// Cast) use Input.
	Input NodeID

	// Binary plan nodes (Join, CrossJoin, Union) use Input/Input2.
	Input2 NodeID

	// TableScan.
	Table      string
	Alias      string
	ScanLimit  int64
	HasLimit   bool
	Filters    []NodeID
	Projection []string

	// Projection, Filter, Sort and ClusterSend operands. Aggregate uses
	// GroupExprs/AggExprs below, and InList, Case and function arguments
	// use Args.
	Exprs []NodeID

	// Aggregate.
	GroupExprs []NodeID
	AggExprs   []NodeID

	// Join.
	JoinType string
	On       []NodeID

	// Limit / Offset.
	Count int64

	// ClusterSend / ClusterAggregateTopK.
	Snapshots []string

	// Column.
	ColumnName string

	// Literal.
	LiteralValue any

	// BinaryExpr.
	Op    string
	Left  NodeID
	Right NodeID

	// ScalarFunction / AggregateFunction.
	FuncName string
	Args     []NodeID

	// DateTrunc.
	Granularity model.Granularity
	TimeCol     NodeID

	// Alias.
	AliasName string
}

// Plan is an arena of nodes plus the id of its root. Building a Plan never
// mutates a previously built one — every rewrite step appends to a fresh
// arena (see Extract in extract.go, which rebuilds a Plan from the
// e-graph rather than editing nodes in place).
type Plan struct {
	Nodes []Node
	Root  NodeID
}

// Add appends n to the arena and returns its id.
func (p *Plan) Add(n Node) NodeID {
	p.Nodes = append(p.Nodes, n)
	return NodeID(len(p.Nodes) - 1)
}

// Node returns the node at id.
func (p *Plan) Node(id NodeID) Node {
	return p.Nodes[id]
}
