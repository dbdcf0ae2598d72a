package rewriter

import "github.com/cubedb/cubestore/internal/model"

// funcToRole maps an AggregateFunction's wire name to the model.AggregateRole
// used by both the storage core's rollup (storagecore/aggregate.go) and the
// applicability oracle, so a query's measure list and a pre-aggregation's
// declared measures speak the same vocabulary.
var funcToRole = map[string]model.AggregateRole{
	"sum":                  model.AggregateSum,
	"min":                  model.AggregateMin,
	"max":                  model.AggregateMax,
	"count":                model.AggregateCount,
	"count_distinct_hll":   model.AggregateCountDistinctHLL,
	"merge":                model.AggregateMerge,
}

// PreAggregationSelectionRule builds the rule family described in
// spec.md §4.1: match a TableScan(base_table) with a Filter/Projection/
// DateTrunc stack and an Aggregate on top against every pre-aggregation in
// catalog whose BaseTable matches; where Applicable (invariant 7) holds,
// rewrite to a bare TableScan(preagg_table) when IsExactMatch holds, and
// otherwise to a residual Aggregate over that scan, grouped by the query's
// dimensions plus, when the query has a time dimension, a DateTrunc at the
// query's granularity.
//
// This rule's LHS is a wildcard — every e-class is a candidate root — and
// all the real structural matching happens in Transform, because the
// Aggregate/Filter/Projection stack has variable arity that the generic
// Pattern matcher (match.go) isn't meant to express.
func PreAggregationSelectionRule(catalog []model.PreAggregation) Rule {
	return Rule{
		Name: "pre_aggregation_selection",
		LHS:  W("root"),
		Transform: func(g *EGraph, m Subst) (ClassID, bool) {
			root := m["root"]
			shape, baseTable, ok := extractQueryShape(g, root)
			if !ok {
				return 0, false
			}
			for _, p := range catalog {
				if p.BaseTable != baseTable {
					continue
				}
				if !Applicable(shape, p) {
					continue
				}
				rewritten, ok := rewriteToPreAggregation(g, shape, p)
				if !ok {
					continue
				}
				return rewritten, true
			}
			return 0, false
		},
	}
}

// extractQueryShape inspects the e-class rooted at id for an Aggregate
// node, unwraps any Filter/Projection/DateTrunc layers beneath it down to
// a TableScan, and summarizes the stack as a QueryShape plus the scanned
// table's name. Returns ok=false if id's class doesn't contain this shape.
func extractQueryShape(g *EGraph, id ClassID) (QueryShape, string, bool) {
	agg, ok := findNode(g, id, KindAggregate)
	if !ok {
		return QueryShape{}, "", false
	}

	var shape QueryShape
	for _, aggExprClass := range agg.Children[1+agg.Scalar.GroupLen:] {
		fn, ok := findNode(g, aggExprClass, KindAggregateFunction)
		if !ok || len(fn.Children) != 1 {
			return QueryShape{}, "", false
		}
		col, ok := findNode(g, fn.Children[0], KindColumn)
		if !ok {
			return QueryShape{}, "", false
		}
		role, ok := funcToRole[fn.Scalar.FuncName]
		if !ok {
			return QueryShape{}, "", false
		}
		shape.Measures = append(shape.Measures, model.Measure{Column: col.Scalar.ColumnName, Role: role})
	}

	for _, groupExprClass := range agg.Children[1 : 1+agg.Scalar.GroupLen] {
		if dt, ok := findNode(g, groupExprClass, KindDateTrunc); ok {
			col, ok := findNode(g, dt.Children[0], KindColumn)
			if !ok {
				return QueryShape{}, "", false
			}
			shape.TimeDim = col.Scalar.ColumnName
			shape.Granularity = granularityFromString(dt.Scalar.Granularity)
			continue
		}
		col, ok := findNode(g, groupExprClass, KindColumn)
		if !ok {
			return QueryShape{}, "", false
		}
		shape.Dimensions = append(shape.Dimensions, col.Scalar.ColumnName)
	}

	table, ok := findTableScanBelow(g, agg.Children[0])
	if !ok {
		return QueryShape{}, "", false
	}
	return shape, table, true
}

// findTableScanBelow walks down through Filter/Projection wrapper layers
// looking for a TableScan, the only shape pre-aggregation selection
// recognizes below an Aggregate.
func findTableScanBelow(g *EGraph, id ClassID) (string, bool) {
	for i := 0; i < 32; i++ { // bounded: a real plan is never this deep
		if scan, ok := findNode(g, id, KindTableScan); ok {
			return scan.Scalar.Table, true
		}
		if f, ok := findNode(g, id, KindFilter); ok {
			id = f.Children[0]
			continue
		}
		if p, ok := findNode(g, id, KindProjection); ok {
			id = p.Children[0]
			continue
		}
		return "", false
	}
	return "", false
}

// findNode returns the first ENode of kind k in id's e-class, if any.
func findNode(g *EGraph, id ClassID, k Kind) (ENode, bool) {
	for _, n := range g.Class(id).Nodes {
		if n.Kind == k {
			return n, true
		}
	}
	return ENode{}, false
}

// rewriteToPreAggregation builds TableScan(p.TableID's table) with a
// residual Aggregate/DateTrunc layered on top exactly when the query's
// dimension set or granularity is a strict coarsening of p's.
func rewriteToPreAggregation(g *EGraph, shape QueryShape, p model.PreAggregation) (ClassID, bool) {
	scan := NewTableScan(g, preAggTableName(p), "", nil, nil)
	if IsExactMatch(shape, p) {
		return scan, true
	}

	timeCol := NewColumn(g, p.TimeDim)
	var groupExprs []ClassID
	for _, d := range shape.Dimensions {
		groupExprs = append(groupExprs, NewColumn(g, d))
	}
	if shape.TimeDim != "" {
		groupExprs = append(groupExprs, NewDateTrunc(g, shape.Granularity, timeCol))
	}

	var aggExprs []ClassID
	for _, meas := range shape.Measures {
		fn := roleToFunc(meas.Role)
		aggExprs = append(aggExprs, NewAggregateFunction(g, fn, []ClassID{NewColumn(g, meas.Column)}))
	}

	return NewAggregate(g, scan, groupExprs, aggExprs), true
}

// preAggTableName names the storage table a pre-aggregation's TableID
// resolves to; the rewriter only needs the string the cost model and the
// eventual executor key off, not the live model.Table.
func preAggTableName(p model.PreAggregation) string {
	return p.Name
}

func roleToFunc(role model.AggregateRole) string {
	for fn, r := range funcToRole {
		if r == role {
			return fn
		}
	}
	return "merge"
}
