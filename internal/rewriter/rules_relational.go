package rewriter

// RelationalRules are ordinary algebraic equivalences with no cross-class
// self-reference, unlike the ClusterSend boundary (see WrapForClusterSend):
// each rewrites one expression to a cheaper, equivalent one built purely
// from its own children, so they saturate safely inside the e-graph.
//
// Join/subquery filter pushdown and full projection merging are natural
// extensions of the same Pattern/Transform mechanism; they're not built out
// yet because KindJoin/KindCrossJoin have no exercising query shape in the
// current rule set.
func RelationalRules() []Rule {
	return []Rule{
		constantFoldAddRule(),
		doubleNotEliminationRule(),
	}
}

// constantFoldAddRule folds Literal(a) + Literal(b) into Literal(a+b) for
// int literals, letting later rules (and the cost model) see one constant
// instead of an addition the planner would otherwise leave for the
// executor to redo on every row.
func constantFoldAddRule() Rule {
	lhs := Pattern{
		Kind: KindBinaryExpr, ScalarPred: opIs("+"),
		Children: []Pattern{
			{Kind: KindLiteral, Var: "a"},
			{Kind: KindLiteral, Var: "b"},
		},
	}
	return Rule{
		Name: "constant_fold_add",
		LHS:  lhs,
		Transform: func(g *EGraph, m Subst) (ClassID, bool) {
			a, aok := literalInt(g, m["a"])
			b, bok := literalInt(g, m["b"])
			if !aok || !bok {
				return 0, false
			}
			return NewLiteral(g, a+b), true
		},
	}
}

// doubleNotEliminationRule rewrites Not(Not(x)) to x.
func doubleNotEliminationRule() Rule {
	lhs := Pattern{
		Kind: KindNot,
		Children: []Pattern{
			{Kind: KindNot, Children: []Pattern{W("x")}},
		},
	}
	return Rule{
		Name: "double_not_elimination",
		LHS:  lhs,
		Transform: func(g *EGraph, m Subst) (ClassID, bool) {
			x, ok := m["x"]
			if !ok {
				return 0, false
			}
			return x, true
		},
	}
}

func literalInt(g *EGraph, id ClassID) (int, bool) {
	n, ok := findNode(g, id, KindLiteral)
	if !ok {
		return 0, false
	}
	v, ok := n.Scalar.Literal.(int)
	return v, ok
}
