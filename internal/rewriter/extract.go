package rewriter

import (
	"fmt"

	"github.com/cubedb/cubestore/internal/model"
)

// CostModel assigns a local cost to one node kind/shape; Extract sums this
// bottom-up over chosen children. Lower is better. Its main job during
// e-graph extraction is choosing between a TableScan against a
// pre-aggregation (fewer rows to move) and one against the raw base table;
// WrappedOpCost/KindClusterSend pricing exists for completeness and for
// any future rule that adds ClusterSend alternatives directly into the
// e-graph, but the default rule set places ClusterSend boundaries with the
// separate WrapForClusterSend pass instead (see its doc comment).
type CostModel struct {
	// BaseOpCost is charged for any node evaluated outside a ClusterSend.
	BaseOpCost float64
	// WrappedOpCost is charged for a node folded inside a ClusterSend.
	WrappedOpCost float64
	// PreAggScanCost / BaseScanCost charge a TableScan depending on
	// whether its target looks like a pre-aggregation table.
	PreAggScanCost float64
	BaseScanCost   float64
	// DateTruncCost is charged for a canonicalized DateTrunc node. It's
	// priced below BaseOpCost so that once a granularity rule fires, the
	// normalized form always wins extraction over the vendor-dialect
	// idiom it replaced — the whole point of normalizing is so
	// pre-aggregation selection (which only recognizes DateTrunc) can see
	// it, so a tie against the un-normalized original must not survive.
	DateTruncCost float64
}

// DefaultCostModel mirrors spec.md §4.1: reward operators folded into a
// ClusterSend, reward fewer CPU-level operations over wide data, reward
// scans that land on a pre-aggregation over the raw base table.
func DefaultCostModel() CostModel {
	return CostModel{
		BaseOpCost:     10,
		WrappedOpCost:  1,
		PreAggScanCost: 5,
		BaseScanCost:   1000,
		DateTruncCost:  2,
	}
}

func (c CostModel) nodeCost(n ENode, isPreAggScan bool) float64 {
	switch n.Kind {
	case KindTableScan:
		if isPreAggScan {
			return c.PreAggScanCost
		}
		return c.BaseScanCost
	case KindClusterSend, KindClusterAggregateTopK:
		return c.WrappedOpCost
	case KindDateTrunc:
		return c.DateTruncCost
	}
	return c.BaseOpCost
}

// extraction holds per-class best cost/choice during bottom-up cost
// aggregation, and the pre-aggregation table set used to price a scan.
type extraction struct {
	g        *EGraph
	cost     CostModel
	preaggs  map[string]bool
	bestCost map[ClassID]float64
	bestNode map[ClassID]ENode
	visiting map[ClassID]bool
}

// Extract picks, for each e-class reachable from root, the cheapest
// equivalent node (recursively) and rebuilds a concrete Plan from those
// choices. Ties are broken by a class's node insertion order, which is
// deterministic given a deterministic rule application order.
func Extract(g *EGraph, root ClassID, preaggTables []string, cost CostModel) (*Plan, error) {
	preaggs := make(map[string]bool, len(preaggTables))
	for _, t := range preaggTables {
		preaggs[t] = true
	}
	ex := &extraction{
		g: g, cost: cost, preaggs: preaggs,
		bestCost: make(map[ClassID]float64),
		bestNode: make(map[ClassID]ENode),
		visiting: make(map[ClassID]bool),
	}
	if err := ex.solve(g.Find(root)); err != nil {
		return nil, err
	}
	p := &Plan{}
	memo := make(map[ClassID]NodeID)
	rootID, err := ex.rebuild(p, g.Find(root), memo)
	if err != nil {
		return nil, err
	}
	p.Root = rootID
	return p, nil
}

func (ex *extraction) solve(id ClassID) error {
	id = ex.g.Find(id)
	if _, done := ex.bestCost[id]; done {
		return nil
	}
	if ex.visiting[id] {
		return fmt.Errorf("rewriter: cycle detected in e-class %d during extraction", id)
	}
	ex.visiting[id] = true
	defer delete(ex.visiting, id)

	class := ex.g.Class(id)
	if len(class.Nodes) == 0 {
		return fmt.Errorf("rewriter: e-class %d has no nodes (merged away root?)", id)
	}

	bestCost := -1.0
	var bestNode ENode
	for _, n := range class.Nodes {
		childCost := 0.0
		ok := true
		for _, c := range n.Children {
			if err := ex.solve(c); err != nil {
				ok = false
				break
			}
			childCost += ex.bestCost[ex.g.Find(c)]
		}
		if !ok {
			continue
		}
		isPreAggScan := n.Kind == KindTableScan && ex.preaggs[n.Scalar.Table]
		total := ex.cost.nodeCost(n, isPreAggScan) + childCost
		if bestCost < 0 || total < bestCost {
			bestCost = total
			bestNode = n
		}
	}
	if bestCost < 0 {
		return fmt.Errorf("rewriter: no acyclic choice available for e-class %d", id)
	}
	ex.bestCost[id] = bestCost
	ex.bestNode[id] = bestNode
	return nil
}

func (ex *extraction) rebuild(p *Plan, id ClassID, memo map[ClassID]NodeID) (NodeID, error) {
	id = ex.g.Find(id)
	if nid, ok := memo[id]; ok {
		return nid, nil
	}
	en, ok := ex.bestNode[id]
	if !ok {
		return 0, fmt.Errorf("rewriter: e-class %d was never costed", id)
	}
	children := make([]NodeID, len(en.Children))
	for i, c := range en.Children {
		nid, err := ex.rebuild(p, c, memo)
		if err != nil {
			return 0, err
		}
		children[i] = nid
	}
	n := nodeFromENode(en, children)
	nid := p.Add(n)
	memo[id] = nid
	return nid, nil
}

// nodeFromENode reassembles a concrete Node from an ENode plus the
// already-rebuilt NodeIDs of its children, in the order planChildren
// produced them — the inverse of (planChildren, scalarOf).
func nodeFromENode(en ENode, children []NodeID) Node {
	s := en.Scalar
	n := Node{Kind: en.Kind}
	switch en.Kind {
	case KindTableScan:
		n.Table, n.Alias, n.Projection, n.ScanLimit, n.HasLimit = s.Table, s.Alias, s.Projection, s.ScanLimit, s.HasLimit
		n.Filters = children
	case KindProjection, KindFilter, KindSort:
		n.Input = children[0]
		n.Exprs = children[1:]
	case KindLimit, KindOffset:
		n.Input = children[0]
		n.Count = s.Count
	case KindClusterSend:
		n.Input = children[0]
		n.Exprs = children[1:]
		n.Snapshots = s.Snapshots
	case KindAggregate:
		n.Input = children[0]
		rest := children[1:]
		n.GroupExprs = rest[:s.GroupLen]
		n.AggExprs = rest[s.GroupLen:]
	case KindClusterAggregateTopK:
		n.Input = children[0]
		rest := children[1:]
		n.GroupExprs = rest[:s.GroupLen]
		n.AggExprs = rest[s.GroupLen:]
		n.Count = s.Count
		n.Snapshots = s.Snapshots
	case KindJoin:
		n.Input, n.Input2 = children[0], children[1]
		n.On = children[2:]
		n.JoinType = s.JoinType
	case KindCrossJoin, KindUnion:
		n.Input, n.Input2 = children[0], children[1]
	case KindBinaryExpr:
		n.Left, n.Right = children[0], children[1]
		n.Op = s.Op
	case KindScalarFunction, KindAggregateFunction, KindInList, KindCase:
		n.Args = children
		n.FuncName = s.FuncName
	case KindDateTrunc:
		n.TimeCol = children[0]
		n.Granularity = granularityFromString(s.Granularity)
	case KindAlias:
		n.Input = children[0]
		n.AliasName = s.AliasName
	case KindCast:
		n.Input = children[0]
		n.FuncName = s.FuncName
	case KindNot, KindIsNull, KindNegative, KindLike, KindBetween:
		if len(children) > 0 {
			n.Input = children[0]
			n.Args = children[1:]
		}
	case KindColumn:
		n.ColumnName = s.ColumnName
	case KindLiteral:
		n.LiteralValue = s.Literal
	}
	return n
}

func granularityFromString(s string) model.Granularity {
	switch s {
	case "hour":
		return model.GranularityHour
	case "day":
		return model.GranularityDay
	case "week":
		return model.GranularityWeek
	case "month":
		return model.GranularityMonth
	case "quarter":
		return model.GranularityQuarter
	case "year":
		return model.GranularityYear
	}
	return model.GranularityUnknown
}
