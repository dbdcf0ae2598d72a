package rewriter

import (
	"context"
	"testing"

	"github.com/cubedb/cubestore/internal/model"
)

func TestRewriteWrapsScanAndAggregateIntoClusterSend(t *testing.T) {
	p := &Plan{}
	statusCol := p.Add(Node{Kind: KindColumn, ColumnName: "status"})
	statusLit := p.Add(Node{Kind: KindLiteral, LiteralValue: "shipped"})
	pred := p.Add(Node{Kind: KindBinaryExpr, Op: "=", Left: statusCol, Right: statusLit})
	scan := p.Add(Node{Kind: KindTableScan, Table: "orders"})
	filter := p.Add(Node{Kind: KindFilter, Input: scan, Exprs: []NodeID{pred}})

	groupCol := p.Add(Node{Kind: KindColumn, ColumnName: "status"})
	amountCol := p.Add(Node{Kind: KindColumn, ColumnName: "total_amount"})
	sumFn := p.Add(Node{Kind: KindAggregateFunction, FuncName: "sum", Args: []NodeID{amountCol}})
	agg := p.Add(Node{Kind: KindAggregate, Input: filter, GroupExprs: []NodeID{groupCol}, AggExprs: []NodeID{sumFn}})
	p.Root = agg

	out, err := Rewrite(context.Background(), p, Catalog{})
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}

	root := out.Node(out.Root)
	if root.Kind != KindClusterSend {
		t.Fatalf("expected the rewritten root to be a ClusterSend, got %s", root.Kind)
	}

	aggNode := out.Node(root.Input)
	if aggNode.Kind != KindAggregate {
		t.Fatalf("expected ClusterSend to wrap the Aggregate, got %s", aggNode.Kind)
	}

	filterNode := out.Node(aggNode.Input)
	if filterNode.Kind != KindFilter {
		t.Fatalf("expected Aggregate's input to be the pushed-down Filter, got %s", filterNode.Kind)
	}

	scanNode := out.Node(filterNode.Input)
	if scanNode.Kind != KindTableScan || scanNode.Table != "orders" {
		t.Fatalf("expected the Filter's input to be TableScan(orders), got %+v", scanNode)
	}
}

func TestRewriteSelectsPreAggregationOverBaseTable(t *testing.T) {
	p := &Plan{}
	scan := p.Add(Node{Kind: KindTableScan, Table: "orders"})
	dayCol := p.Add(Node{Kind: KindColumn, ColumnName: "created_at"})
	dayTrunc := p.Add(Node{Kind: KindDateTrunc, TimeCol: dayCol, Granularity: model.GranularityDay})
	amountCol := p.Add(Node{Kind: KindColumn, ColumnName: "total_amount"})
	sumFn := p.Add(Node{Kind: KindAggregateFunction, FuncName: "sum", Args: []NodeID{amountCol}})
	agg := p.Add(Node{Kind: KindAggregate, Input: scan, GroupExprs: []NodeID{dayTrunc}, AggExprs: []NodeID{sumFn}})
	p.Root = agg

	catalog := Catalog{PreAggregations: []model.PreAggregation{
		{
			Name:        "orders_by_day",
			BaseTable:   "orders",
			Measures:    []model.Measure{{Column: "total_amount", Role: model.AggregateSum}},
			TimeDim:     "created_at",
			Granularity: model.GranularityDay,
		},
	}}

	out, err := Rewrite(context.Background(), p, catalog)
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}

	root := out.Node(out.Root)
	if root.Kind != KindClusterSend {
		t.Fatalf("expected a ClusterSend-wrapped result, got %s", root.Kind)
	}
	scanNode := out.Node(root.Input)
	if scanNode.Kind != KindTableScan {
		t.Fatalf("expected an exact pre-aggregation match to collapse to a bare TableScan, got %s", scanNode.Kind)
	}
	if scanNode.Table != "orders_by_day" {
		t.Fatalf("expected the scan to target the pre-aggregation table, got %q", scanNode.Table)
	}
}

func TestRewriteFoldsConstantsBeforeExtraction(t *testing.T) {
	p := &Plan{}
	scan := p.Add(Node{Kind: KindTableScan, Table: "orders"})
	two := p.Add(Node{Kind: KindLiteral, LiteralValue: 2})
	three := p.Add(Node{Kind: KindLiteral, LiteralValue: 3})
	sum := p.Add(Node{Kind: KindBinaryExpr, Op: "+", Left: two, Right: three})
	proj := p.Add(Node{Kind: KindProjection, Input: scan, Exprs: []NodeID{sum}})
	p.Root = proj

	out, err := Rewrite(context.Background(), p, Catalog{})
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}

	root := out.Node(out.Root)
	if root.Kind != KindClusterSend {
		t.Fatalf("expected the projection+scan to be wrapped in a ClusterSend, got %s", root.Kind)
	}
	projNode := out.Node(root.Input)
	if projNode.Kind != KindProjection || len(projNode.Exprs) != 1 {
		t.Fatalf("expected a single-expr Projection, got %+v", projNode)
	}
	folded := out.Node(projNode.Exprs[0])
	if folded.Kind != KindLiteral {
		t.Fatalf("expected 2+3 to fold to a Literal, got %s", folded.Kind)
	}
	if v, ok := folded.LiteralValue.(int); !ok || v != 5 {
		t.Fatalf("expected folded literal value 5, got %v", folded.LiteralValue)
	}
}
