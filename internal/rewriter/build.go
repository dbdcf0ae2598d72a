package rewriter

import "github.com/cubedb/cubestore/internal/model"

// The NewX helpers build one ENode of the given shape and insert it into
// g, returning its class id. Rule Transform functions use these instead of
// touching ENode/ScalarData directly, keeping rule bodies readable.

func NewColumn(g *EGraph, name string) ClassID {
	return g.AddENode(ENode{Kind: KindColumn, Scalar: ScalarData{ColumnName: name}})
}

func NewLiteral(g *EGraph, v any) ClassID {
	return g.AddENode(ENode{Kind: KindLiteral, Scalar: ScalarData{Literal: v}})
}

func NewDateTrunc(g *EGraph, gran model.Granularity, timeCol ClassID) ClassID {
	return g.AddENode(ENode{Kind: KindDateTrunc, Scalar: ScalarData{Granularity: gran.String()}, Children: []ClassID{timeCol}})
}

func NewTableScan(g *EGraph, table, alias string, projection []string, filters []ClassID) ClassID {
	return g.AddENode(ENode{Kind: KindTableScan, Scalar: ScalarData{Table: table, Alias: alias, Projection: projection}, Children: filters})
}

func NewScalarFunction(g *EGraph, name string, args []ClassID) ClassID {
	return g.AddENode(ENode{Kind: KindScalarFunction, Scalar: ScalarData{FuncName: name}, Children: args})
}

func NewAggregateFunction(g *EGraph, name string, args []ClassID) ClassID {
	return g.AddENode(ENode{Kind: KindAggregateFunction, Scalar: ScalarData{FuncName: name}, Children: args})
}

func NewAggregate(g *EGraph, input ClassID, groupExprs, aggExprs []ClassID) ClassID {
	children := append([]ClassID{input}, groupExprs...)
	children = append(children, aggExprs...)
	return g.AddENode(ENode{Kind: KindAggregate, Scalar: ScalarData{GroupLen: len(groupExprs)}, Children: children})
}

func NewFilter(g *EGraph, input ClassID, preds []ClassID) ClassID {
	return g.AddENode(ENode{Kind: KindFilter, Children: append([]ClassID{input}, preds...)})
}

func NewProjection(g *EGraph, input ClassID, exprs []ClassID) ClassID {
	return g.AddENode(ENode{Kind: KindProjection, Children: append([]ClassID{input}, exprs...)})
}

func NewClusterSend(g *EGraph, input ClassID, snapshots []string) ClassID {
	return g.AddENode(ENode{Kind: KindClusterSend, Scalar: ScalarData{Snapshots: snapshots}, Children: []ClassID{input}})
}

func NewBinaryExpr(g *EGraph, op string, left, right ClassID) ClassID {
	return g.AddENode(ENode{Kind: KindBinaryExpr, Scalar: ScalarData{Op: op}, Children: []ClassID{left, right}})
}
