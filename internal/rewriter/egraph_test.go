package rewriter

import "testing"

func TestAddENodeHashConsesIdenticalNodes(t *testing.T) {
	g := NewEGraph()
	a := NewColumn(g, "amount")
	b := NewColumn(g, "amount")
	if a != b {
		t.Fatalf("expected identical Column nodes to hash-cons to the same class, got %v and %v", a, b)
	}

	c := NewColumn(g, "status")
	if a == c {
		t.Fatalf("expected distinct Column nodes to land in distinct classes")
	}
}

func TestUnionMergesClasses(t *testing.T) {
	g := NewEGraph()
	a := NewLiteral(g, 1)
	b := NewLiteral(g, 2)
	if g.Find(a) == g.Find(b) {
		t.Fatalf("expected distinct literals to start in distinct classes")
	}
	g.Union(a, b)
	if g.Find(a) != g.Find(b) {
		t.Fatalf("expected a and b to share a class after Union")
	}
	class := g.Class(a)
	if len(class.Nodes) != 2 {
		t.Fatalf("expected the merged class to carry both original nodes, got %d", len(class.Nodes))
	}
}

func TestFindCompressesPath(t *testing.T) {
	g := NewEGraph()
	a := NewLiteral(g, 1)
	b := NewLiteral(g, 2)
	c := NewLiteral(g, 3)
	g.Union(a, b)
	g.Union(g.Find(a), c)

	root := g.Find(a)
	if g.Find(b) != root || g.Find(c) != root {
		t.Fatalf("expected a, b, c to all resolve to the same root %v", root)
	}
}

func TestAddPlanInsertsEveryReachableNode(t *testing.T) {
	p := &Plan{}
	col := p.Add(Node{Kind: KindColumn, ColumnName: "amount"})
	scan := p.Add(Node{Kind: KindTableScan, Table: "orders"})
	agg := p.Add(Node{Kind: KindAggregate, Input: scan, AggExprs: []NodeID{col}})
	p.Root = agg

	g := NewEGraph()
	root := g.AddPlan(p, p.Root)

	aggClass := g.Class(root)
	if len(aggClass.Nodes) != 1 || aggClass.Nodes[0].Kind != KindAggregate {
		t.Fatalf("expected root class to hold exactly the Aggregate node, got %+v", aggClass.Nodes)
	}
	if got := aggClass.Nodes[0].Scalar.GroupLen; got != 0 {
		t.Fatalf("expected GroupLen 0 for an aggregate with no group-by, got %d", got)
	}
}
