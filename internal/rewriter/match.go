package rewriter

// Pattern is a small pattern language over the e-graph: either a wildcard
// (matches any node in the class and binds it to Var), or a concrete Kind
// with per-field predicates and sub-patterns for its children.
type Pattern struct {
	// Var, when non-empty, binds the matched class id under this name in
	// the resulting Subst, regardless of whether Kind is also set.
	Var string

	// Wildcard, when true, matches anything (Var is required in this case
	// to be useful) and ignores Kind/Children/Scalar.
	Wildcard bool

	Kind     Kind
	Children []Pattern

	// ScalarPred, if set, must return true for a candidate ENode's Scalar
	// for the pattern to match (beyond the plain Kind equality check).
	ScalarPred func(ScalarData) bool
}

// W returns a wildcard pattern bound to name.
func W(name string) Pattern { return Pattern{Var: name, Wildcard: true} }

// Subst maps pattern variable names to the class ids they matched.
type Subst map[string]ClassID

// Match tries to match pat against every node in class id's e-class and
// returns one Subst per successful match (a class can contain several
// nodes, each potentially matching differently).
func Match(g *EGraph, id ClassID, pat Pattern) []Subst {
	id = g.Find(id)
	var out []Subst
	if pat.Wildcard {
		out = append(out, Subst{pat.Var: id})
		return out
	}
	for _, n := range g.Class(id).Nodes {
		if n.Kind != pat.Kind {
			continue
		}
		if pat.ScalarPred != nil && !pat.ScalarPred(n.Scalar) {
			continue
		}
		if len(pat.Children) > 0 && len(pat.Children) != len(n.Children) {
			continue
		}
		subs := []Subst{{}}
		ok := true
		for i, childPat := range pat.Children {
			childMatches := Match(g, n.Children[i], childPat)
			if len(childMatches) == 0 {
				ok = false
				break
			}
			subs = mergeAll(subs, childMatches)
		}
		if !ok {
			continue
		}
		if pat.Var != "" {
			for i := range subs {
				subs[i][pat.Var] = id
			}
		}
		out = append(out, subs...)
	}
	return out
}

// mergeAll combines every existing partial Subst with every new one,
// dropping combinations where a shared variable disagrees (a pattern that
// reuses a variable name, e.g. matching `Column(x) = Column(x)`, must bind
// the same class both times).
func mergeAll(existing []Subst, additions []Subst) []Subst {
	var out []Subst
	for _, e := range existing {
		for _, a := range additions {
			merged, ok := merge(e, a)
			if ok {
				out = append(out, merged)
			}
		}
	}
	return out
}

func merge(a, b Subst) (Subst, bool) {
	out := make(Subst, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if existing, ok := out[k]; ok && existing != v {
			return nil, false
		}
		out[k] = v
	}
	return out, true
}
