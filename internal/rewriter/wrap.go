package rewriter

// WrapForClusterSend decides the ClusterSend boundary: the maximal chain of
// Filter/Projection/Limit/Offset/Aggregate operators sitting directly above
// a TableScan is pushed inside a single ClusterSend, so that chain runs on
// the workers that hold the scanned partitions instead of after the rows
// have been shipped to the coordinator.
//
// This is a deterministic bottom-up rewrite over a concrete Plan rather
// than another equality-saturation rule family. Earlier drafts tried
// expressing "TableScan ≡ ClusterSend(TableScan)" and "op(ClusterSend(x))
// ≡ ClusterSend(op(x))" as ordinary e-graph unions, but both union the new
// node into the very e-class it wraps: ClusterSend(x)'s child canonicalizes
// back to x's own (now-merged) class, so every wrapped candidate's cost
// depends circularly on the class it's being compared against and the
// extractor's cycle guard always falls back to the unwrapped node. A plain
// node, no such self-reference is possible, and the result is exactly the
// boundary placement the cost model was meant to pick anyway: wrap the
// scan, and everything pushable directly above it, in one ClusterSend.
func WrapForClusterSend(p *Plan) *Plan {
	out := &Plan{}
	wrapMemo := make(map[NodeID]NodeID)
	copyMemo := make(map[NodeID]NodeID)
	root := wrapPlan(p, p.Root, out, wrapMemo, copyMemo)
	out.Root = root
	return out
}

// pushable unary operators get merged into an existing ClusterSend
// immediately below them; everything else is a boundary.
func wrapPlan(p *Plan, id NodeID, out *Plan, wrapMemo, copyMemo map[NodeID]NodeID) NodeID {
	if got, ok := wrapMemo[id]; ok {
		return got
	}
	n := p.Node(id)
	var result NodeID
	switch n.Kind {
	case KindTableScan:
		scan := Node{
			Kind:       KindTableScan,
			Table:      n.Table,
			Alias:      n.Alias,
			Projection: append([]string(nil), n.Projection...),
			ScanLimit:  n.ScanLimit,
			HasLimit:   n.HasLimit,
			Filters:    copyExprList(p, n.Filters, out, copyMemo),
		}
		scanID := out.Add(scan)
		result = out.Add(Node{Kind: KindClusterSend, Input: scanID})

	case KindFilter:
		childID := wrapPlan(p, n.Input, out, wrapMemo, copyMemo)
		exprs := copyExprList(p, n.Exprs, out, copyMemo)
		result = pushUnary(out, childID, func(inner NodeID) Node {
			return Node{Kind: KindFilter, Input: inner, Exprs: exprs}
		})

	case KindProjection:
		childID := wrapPlan(p, n.Input, out, wrapMemo, copyMemo)
		exprs := copyExprList(p, n.Exprs, out, copyMemo)
		result = pushUnary(out, childID, func(inner NodeID) Node {
			return Node{Kind: KindProjection, Input: inner, Exprs: exprs}
		})

	case KindLimit:
		childID := wrapPlan(p, n.Input, out, wrapMemo, copyMemo)
		count := n.Count
		result = pushUnary(out, childID, func(inner NodeID) Node {
			return Node{Kind: KindLimit, Input: inner, Count: count}
		})

	case KindOffset:
		childID := wrapPlan(p, n.Input, out, wrapMemo, copyMemo)
		count := n.Count
		result = pushUnary(out, childID, func(inner NodeID) Node {
			return Node{Kind: KindOffset, Input: inner, Count: count}
		})

	case KindAggregate:
		childID := wrapPlan(p, n.Input, out, wrapMemo, copyMemo)
		groupExprs := copyExprList(p, n.GroupExprs, out, copyMemo)
		aggExprs := copyExprList(p, n.AggExprs, out, copyMemo)
		result = pushUnary(out, childID, func(inner NodeID) Node {
			return Node{Kind: KindAggregate, Input: inner, GroupExprs: groupExprs, AggExprs: aggExprs}
		})

	case KindSort:
		// A merge-sort over the scattered results has to happen after the
		// rows come back together, so Sort is always a ClusterSend
		// boundary, never pushed inside one.
		childID := wrapPlan(p, n.Input, out, wrapMemo, copyMemo)
		exprs := copyExprList(p, n.Exprs, out, copyMemo)
		result = out.Add(Node{Kind: KindSort, Input: childID, Exprs: exprs})

	case KindJoin:
		left := wrapPlan(p, n.Input, out, wrapMemo, copyMemo)
		right := wrapPlan(p, n.Input2, out, wrapMemo, copyMemo)
		on := copyExprList(p, n.On, out, copyMemo)
		result = out.Add(Node{Kind: KindJoin, Input: left, Input2: right, JoinType: n.JoinType, On: on})

	case KindCrossJoin, KindUnion:
		left := wrapPlan(p, n.Input, out, wrapMemo, copyMemo)
		right := wrapPlan(p, n.Input2, out, wrapMemo, copyMemo)
		result = out.Add(Node{Kind: n.Kind, Input: left, Input2: right})

	case KindClusterAggregateTopK:
		childID := wrapPlan(p, n.Input, out, wrapMemo, copyMemo)
		groupExprs := copyExprList(p, n.GroupExprs, out, copyMemo)
		aggExprs := copyExprList(p, n.AggExprs, out, copyMemo)
		result = out.Add(Node{Kind: KindClusterAggregateTopK, Input: childID, GroupExprs: groupExprs, AggExprs: aggExprs, Count: n.Count})

	case KindClusterSend:
		// Defensive: a plan handed to WrapForClusterSend shouldn't already
		// contain one, but if it does (e.g. re-running the pass), copy its
		// contents through unchanged rather than wrapping a wrap.
		innerID := copyNode(p, n.Input, out, copyMemo)
		result = out.Add(Node{Kind: KindClusterSend, Input: innerID, Snapshots: append([]string(nil), n.Snapshots...)})

	default:
		result = copyNode(p, id, out, copyMemo)
	}
	wrapMemo[id] = result
	return result
}

// pushUnary merges build's operator into childID's ClusterSend if childID
// already is one, otherwise leaves childID as a plain (unwrapped) input.
func pushUnary(out *Plan, childID NodeID, build func(inner NodeID) Node) NodeID {
	child := out.Node(childID)
	if child.Kind != KindClusterSend {
		return out.Add(build(childID))
	}
	innerID := out.Add(build(child.Input))
	return out.Add(Node{Kind: KindClusterSend, Input: innerID, Snapshots: child.Snapshots})
}

func copyExprList(p *Plan, ids []NodeID, out *Plan, memo map[NodeID]NodeID) []NodeID {
	if ids == nil {
		return nil
	}
	result := make([]NodeID, len(ids))
	for i, id := range ids {
		result[i] = copyNode(p, id, out, memo)
	}
	return result
}

// copyNode deep-copies any node (plan or expression) from p's arena into
// out's arena unchanged, translating child NodeIDs along the way. Used for
// expression subtrees (which are never pushed across a ClusterSend
// boundary themselves, only carried along by the operator that owns them)
// and for plan content already inside an existing ClusterSend.
func copyNode(p *Plan, id NodeID, out *Plan, memo map[NodeID]NodeID) NodeID {
	if got, ok := memo[id]; ok {
		return got
	}
	n := p.Node(id)
	cp := Node{
		Kind:         n.Kind,
		Table:        n.Table,
		Alias:        n.Alias,
		ScanLimit:    n.ScanLimit,
		HasLimit:     n.HasLimit,
		Projection:   append([]string(nil), n.Projection...),
		JoinType:     n.JoinType,
		Count:        n.Count,
		Snapshots:    append([]string(nil), n.Snapshots...),
		ColumnName:   n.ColumnName,
		LiteralValue: n.LiteralValue,
		Op:           n.Op,
		FuncName:     n.FuncName,
		Granularity:  n.Granularity,
		AliasName:    n.AliasName,
	}
	if hasInput(n.Kind) {
		cp.Input = copyNode(p, n.Input, out, memo)
	}
	if hasInput2(n.Kind) {
		cp.Input2 = copyNode(p, n.Input2, out, memo)
	}
	if n.Kind == KindDateTrunc {
		cp.TimeCol = copyNode(p, n.TimeCol, out, memo)
	}
	if n.Kind == KindBinaryExpr {
		cp.Left = copyNode(p, n.Left, out, memo)
		cp.Right = copyNode(p, n.Right, out, memo)
	}
	cp.Filters = copyExprList(p, n.Filters, out, memo)
	cp.Exprs = copyExprList(p, n.Exprs, out, memo)
	cp.GroupExprs = copyExprList(p, n.GroupExprs, out, memo)
	cp.AggExprs = copyExprList(p, n.AggExprs, out, memo)
	cp.On = copyExprList(p, n.On, out, memo)
	cp.Args = copyExprList(p, n.Args, out, memo)

	id2 := out.Add(cp)
	memo[id] = id2
	return id2
}

func hasInput(k Kind) bool {
	switch k {
	case KindProjection, KindFilter, KindSort, KindLimit, KindOffset, KindClusterSend,
		KindClusterAggregateTopK, KindAggregate, KindAlias, KindCast, KindNot, KindIsNull,
		KindNegative, KindLike, KindBetween:
		return true
	}
	return false
}

func hasInput2(k Kind) bool {
	switch k {
	case KindJoin, KindCrossJoin, KindUnion:
		return true
	}
	return false
}
