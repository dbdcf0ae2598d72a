package rewriter

import "github.com/cubedb/cubestore/internal/model"

// GranularityRules canonicalize vendor-dialect date-truncation idioms into
// a single DateTrunc(granularity, column) node. Applicability (invariant
// 7, applicability.go) is matched structurally against DateTrunc, so every
// dialect idiom a query might use has to funnel through one of these
// before pre-aggregation selection can see it. This is a representative
// subset of the "dozens" of vendor idioms named in spec.md §4.1 — adding
// another idiom is adding another Rule literal to this slice, not a new
// mechanism.
func GranularityRules() []Rule {
	return []Rule{
		yearIdiomRule(),
		monthIdiomRule(),
		quarterIdiomRule(),
	}
}

// yearIdiomRule matches the literal example from spec.md §4.1:
//
//	CAST(CAST(((EXTRACT(YEAR FROM t) * 100 + 1) * 100 + 1) AS varchar) AS date)
//
// which zero-pads a year into a YYYY0101-shaped integer, stringifies it,
// and casts back to a date — equivalent to DateTrunc('year', t).
func yearIdiomRule() Rule {
	t := W("t")
	extractYear := Pattern{Kind: KindScalarFunction, ScalarPred: funcNamed("extract_year"), Children: []Pattern{t}}
	timesHundredPlusOne := func(inner Pattern) Pattern {
		times := Pattern{
			Kind: KindBinaryExpr, ScalarPred: opIs("*"),
			Children: []Pattern{inner, literalEquals(100)},
		}
		return Pattern{
			Kind: KindBinaryExpr, ScalarPred: opIs("+"),
			Children: []Pattern{times, literalEquals(1)},
		}
	}
	monthStep := timesHundredPlusOne(extractYear)
	dayStep := timesHundredPlusOne(monthStep)
	castVarchar := Pattern{Kind: KindCast, ScalarPred: castTargetIs("varchar"), Children: []Pattern{dayStep}}
	castDate := Pattern{Kind: KindCast, ScalarPred: castTargetIs("date"), Children: []Pattern{castVarchar}}

	return Rule{
		Name: "date_trunc_year_from_extract_idiom",
		LHS:  castDate,
		Transform: func(g *EGraph, m Subst) (ClassID, bool) {
			tc, ok := m["t"]
			if !ok {
				return 0, false
			}
			return NewDateTrunc(g, model.GranularityYear, tc), true
		},
	}
}

// monthIdiomRule canonicalizes EXTRACT(YEAR)*100+EXTRACT(MONTH) shaped
// idioms (no day component) into DateTrunc('month', t).
func monthIdiomRule() Rule {
	t := W("t")
	extractYear := Pattern{Kind: KindScalarFunction, ScalarPred: funcNamed("extract_year"), Children: []Pattern{t}}
	extractMonth := Pattern{Kind: KindScalarFunction, ScalarPred: funcNamed("extract_month"), Children: []Pattern{t}}
	yearTimesHundred := Pattern{Kind: KindBinaryExpr, ScalarPred: opIs("*"), Children: []Pattern{extractYear, literalEquals(100)}}
	combined := Pattern{Kind: KindBinaryExpr, ScalarPred: opIs("+"), Children: []Pattern{yearTimesHundred, extractMonth}}

	return Rule{
		Name: "date_trunc_month_from_extract_idiom",
		LHS:  combined,
		Transform: func(g *EGraph, m Subst) (ClassID, bool) {
			tc, ok := m["t"]
			if !ok {
				return 0, false
			}
			return NewDateTrunc(g, model.GranularityMonth, tc), true
		},
	}
}

// quarterIdiomRule canonicalizes EXTRACT(QUARTER FROM t) into
// DateTrunc('quarter', t).
func quarterIdiomRule() Rule {
	t := W("t")
	extractQuarter := Pattern{Kind: KindScalarFunction, ScalarPred: funcNamed("extract_quarter"), Children: []Pattern{t}}

	return Rule{
		Name: "date_trunc_quarter_from_extract",
		LHS:  extractQuarter,
		Transform: func(g *EGraph, m Subst) (ClassID, bool) {
			tc, ok := m["t"]
			if !ok {
				return 0, false
			}
			return NewDateTrunc(g, model.GranularityQuarter, tc), true
		},
	}
}

func funcNamed(name string) func(ScalarData) bool {
	return func(s ScalarData) bool { return s.FuncName == name }
}

func opIs(op string) func(ScalarData) bool {
	return func(s ScalarData) bool { return s.Op == op }
}

func castTargetIs(target string) func(ScalarData) bool {
	return func(s ScalarData) bool { return s.FuncName == target }
}

func literalEquals(v int) Pattern {
	return Pattern{
		Kind: KindLiteral,
		ScalarPred: func(s ScalarData) bool {
			n, ok := s.Literal.(int)
			return ok && n == v
		},
	}
}
