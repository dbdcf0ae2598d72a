package rewriter

import "github.com/cubedb/cubestore/internal/model"

// QueryShape is the structural summary of a TableScan+Aggregate(+Filter,
// +Projection, +DateTrunc) stack that pre-aggregation selection extracts
// from the e-graph before consulting the applicability oracle below. It's
// kept independent of the e-graph so Applicable is a pure function,
// directly unit-testable against spec.md §8's applicability scenario
// table without building any plan at all.
type QueryShape struct {
	Measures    []model.Measure
	Dimensions  []string
	TimeDim     string
	Granularity model.Granularity
}

// Applicable implements spec.md §3 invariant 7: a pre-aggregation p can
// serve query shape q iff
//
//	measures(q)    ⊆ measures(p)
//	dimensions(q)  ⊆ dimensions(p) ∪ {time-dim(p)}
//	time-dim(q)    = time-dim(p)
//	granularity(q) ⊒ granularity(p)  (q's granularity is a coarsening of p's)
func Applicable(q QueryShape, p model.PreAggregation) bool {
	if q.TimeDim != p.TimeDim {
		return false
	}
	if !q.Granularity.CoarserOrEqual(p.Granularity) {
		return false
	}
	if !measuresSubset(q.Measures, p.Measures) {
		return false
	}
	return dimensionsSubset(q.Dimensions, p.Dimensions, p.TimeDim)
}

func measuresSubset(want, have []model.Measure) bool {
	haveSet := make(map[model.Measure]bool, len(have))
	for _, m := range have {
		haveSet[m] = true
	}
	for _, m := range want {
		if !haveSet[m] {
			return false
		}
	}
	return true
}

func dimensionsSubset(want, have []string, timeDim string) bool {
	haveSet := make(map[string]bool, len(have)+1)
	for _, d := range have {
		haveSet[d] = true
	}
	haveSet[timeDim] = true
	for _, d := range want {
		if !haveSet[d] {
			return false
		}
	}
	return true
}

// IsExactMatch reports whether q's dimension set matches p's exactly (no
// residual Aggregate needed above the pre-aggregation scan) versus being a
// strict subset (coarsening, needs a residual Aggregate) — used by the
// pre-aggregation selection rule to decide whether to emit a residual
// Aggregate/DateTrunc above the rewritten TableScan.
func IsExactMatch(q QueryShape, p model.PreAggregation) bool {
	if len(q.Dimensions) != len(p.Dimensions) {
		return false
	}
	return dimensionsSubset(p.Dimensions, q.Dimensions, q.TimeDim) && q.Granularity == p.Granularity
}
