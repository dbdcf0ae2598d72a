package rewriter

import (
	"testing"

	"github.com/cubedb/cubestore/internal/model"
)

// TestApplicablePreAggregationScenarios reproduces the (pre-aggregation,
// query) scenario table: perfect match, dimension superset, granularity
// mismatch, measure not covered, and a different time-dim entirely.
func TestApplicablePreAggregationScenarios(t *testing.T) {
	preagg := model.PreAggregation{
		Name:      "orders_by_day_status",
		BaseTable: "orders",
		Measures: []model.Measure{
			{Column: "total_amount", Role: model.AggregateSum},
			{Column: "id", Role: model.AggregateCount},
		},
		Dimensions:  []string{"status"},
		TimeDim:     "created_at",
		Granularity: model.GranularityDay,
	}

	cases := []struct {
		name string
		q    QueryShape
		want bool
	}{
		{
			name: "perfect match",
			q: QueryShape{
				Measures:    []model.Measure{{Column: "total_amount", Role: model.AggregateSum}},
				Dimensions:  []string{"status"},
				TimeDim:     "created_at",
				Granularity: model.GranularityDay,
			},
			want: true,
		},
		{
			name: "coarser granularity is a valid rollup",
			q: QueryShape{
				Measures:    []model.Measure{{Column: "total_amount", Role: model.AggregateSum}},
				Dimensions:  []string{"status"},
				TimeDim:     "created_at",
				Granularity: model.GranularityMonth,
			},
			want: true,
		},
		{
			name: "dimension subset of pre-agg's dimensions (plus time-dim) is fine",
			q: QueryShape{
				Measures:    []model.Measure{{Column: "total_amount", Role: model.AggregateSum}},
				Dimensions:  nil,
				TimeDim:     "created_at",
				Granularity: model.GranularityDay,
			},
			want: true,
		},
		{
			name: "finer granularity than the pre-agg cannot be served",
			q: QueryShape{
				Measures:    []model.Measure{{Column: "total_amount", Role: model.AggregateSum}},
				Dimensions:  []string{"status"},
				TimeDim:     "created_at",
				Granularity: model.GranularityHour,
			},
			want: false,
		},
		{
			name: "measure not present in the pre-aggregation",
			q: QueryShape{
				Measures:    []model.Measure{{Column: "discount", Role: model.AggregateSum}},
				Dimensions:  []string{"status"},
				TimeDim:     "created_at",
				Granularity: model.GranularityDay,
			},
			want: false,
		},
		{
			name: "dimension outside the pre-aggregation's set",
			q: QueryShape{
				Measures:    []model.Measure{{Column: "total_amount", Role: model.AggregateSum}},
				Dimensions:  []string{"status", "region"},
				TimeDim:     "created_at",
				Granularity: model.GranularityDay,
			},
			want: false,
		},
		{
			name: "different time dimension entirely",
			q: QueryShape{
				Measures:    []model.Measure{{Column: "total_amount", Role: model.AggregateSum}},
				Dimensions:  []string{"status"},
				TimeDim:     "shipped_at",
				Granularity: model.GranularityDay,
			},
			want: false,
		},
		{
			name: "same role but wrong column is not a substitute measure",
			q: QueryShape{
				Measures:    []model.Measure{{Column: "total_amount", Role: model.AggregateCount}},
				Dimensions:  []string{"status"},
				TimeDim:     "created_at",
				Granularity: model.GranularityDay,
			},
			want: false,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Applicable(c.q, preagg)
			if got != c.want {
				t.Errorf("Applicable(%+v, %+v) = %v, want %v", c.q, preagg, got, c.want)
			}
		})
	}
}

func TestIsExactMatch(t *testing.T) {
	preagg := model.PreAggregation{
		Dimensions:  []string{"status"},
		TimeDim:     "created_at",
		Granularity: model.GranularityDay,
	}

	exact := QueryShape{Dimensions: []string{"status"}, TimeDim: "created_at", Granularity: model.GranularityDay}
	if !IsExactMatch(exact, preagg) {
		t.Errorf("expected exact match")
	}

	coarser := QueryShape{Dimensions: []string{"status"}, TimeDim: "created_at", Granularity: model.GranularityMonth}
	if IsExactMatch(coarser, preagg) {
		t.Errorf("expected coarser granularity to need a residual aggregate, not an exact match")
	}

	fewerDims := QueryShape{Dimensions: nil, TimeDim: "created_at", Granularity: model.GranularityDay}
	if IsExactMatch(fewerDims, preagg) {
		t.Errorf("expected a dimension subset to need a residual aggregate, not an exact match")
	}
}
