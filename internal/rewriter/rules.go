package rewriter

// TransformFunc builds the right-hand side for a successful LHS match and
// returns the class it should be unioned with, or ok=false if this match
// turned out not to be rewritable (e.g. a referenced column isn't in the
// substitution map) — per spec.md §4.1 failure semantics, a rule that
// can't complete its substitution simply declines, it never corrupts the
// e-graph.
type TransformFunc func(g *EGraph, m Subst) (ClassID, bool)

// Rule is lhs → rhs as data: LHS is matched structurally against every
// e-class; on a match, Transform builds the replacement and the matched
// class is unioned with it. Rules never delete nodes — saturation only
// ever adds equivalences, so applying a rule is always safe to retry.
type Rule struct {
	Name      string
	LHS       Pattern
	Transform TransformFunc
}

// applyRule matches rule.LHS against every known e-class and returns the
// (original, rewritten) class pairs to union. Matching is done over a
// snapshot of class ids so newly-created classes from this same rule
// application aren't matched again in the same pass (classic e-graph
// "match then rebuild" discipline — avoids a rule chasing its own output
// within one saturation iteration).
func applyRule(g *EGraph, rule Rule, classIDs []ClassID) []unionPair {
	var pairs []unionPair
	for _, id := range classIDs {
		matches := Match(g, id, rule.LHS)
		for _, m := range matches {
			rhs, ok := rule.Transform(g, m)
			if !ok {
				continue
			}
			pairs = append(pairs, unionPair{a: id, b: rhs})
		}
	}
	return pairs
}

type unionPair struct{ a, b ClassID }
