package rewriter

import (
	"context"
	"fmt"

	"github.com/cubedb/cubestore/internal/model"
)

// Catalog is the set of pre-aggregations in scope for one Rewrite call.
type Catalog struct {
	PreAggregations []model.PreAggregation
}

func (c Catalog) tableNames() []string {
	names := make([]string, 0, len(c.PreAggregations))
	for _, p := range c.PreAggregations {
		names = append(names, preAggTableName(p))
	}
	return names
}

// Planner drives equality saturation: apply every rule to a fixpoint (or
// until an iteration/size budget is hit), then extract the cheapest plan.
type Planner struct {
	Rules         []Rule
	MaxIterations int
	MaxClasses    int
	Cost          CostModel
}

// NewPlanner builds the default rule set: granularity normalization
// (needed structurally before pre-aggregation matching can see a
// DateTrunc), standard relational rewrites, and pre-aggregation selection
// against catalog. ClusterSend boundary placement isn't one of these rules
// — see WrapForClusterSend's doc comment for why it runs as a separate
// deterministic pass instead.
func NewPlanner(catalog Catalog) *Planner {
	var rules []Rule
	rules = append(rules, GranularityRules()...)
	rules = append(rules, RelationalRules()...)
	rules = append(rules, PreAggregationSelectionRule(catalog.PreAggregations))
	return &Planner{
		Rules:         rules,
		MaxIterations: 12,
		MaxClasses:    20000,
		Cost:          DefaultCostModel(),
	}
}

// Rewrite saturates p's e-graph representation under pl.Rules and
// extracts the cheapest equivalent plan. A full saturation that finds no
// ClusterSend still returns a valid (if more expensive) plan — there is
// always at least the original shape to fall back to, per spec.md §4.1
// failure semantics ("that plan is then executed locally over the raw
// table").
func (pl *Planner) Rewrite(ctx context.Context, p *Plan, catalog Catalog) (*Plan, error) {
	g := NewEGraph()
	root := g.AddPlan(p, p.Root)

	for iter := 0; iter < pl.MaxIterations; iter++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		classIDs := allClassIDs(g)
		if len(classIDs) > pl.MaxClasses {
			break
		}

		var pairs []unionPair
		for _, rule := range pl.Rules {
			pairs = append(pairs, applyRule(g, rule, classIDs)...)
		}
		if len(pairs) == 0 {
			break
		}

		changed := false
		for _, pr := range pairs {
			if g.Find(pr.a) != g.Find(pr.b) {
				g.Union(pr.a, pr.b)
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	plan, err := Extract(g, root, catalog.tableNames(), pl.Cost)
	if err != nil {
		return nil, fmt.Errorf("rewriter: extraction failed: %w", err)
	}
	return WrapForClusterSend(plan), nil
}

// Rewrite is the package-level entry point named in spec.md §4.1:
// Rewrite(ctx, Plan, Catalog) (Plan, error), using the default rule set
// and cost model.
func Rewrite(ctx context.Context, p *Plan, catalog Catalog) (*Plan, error) {
	return NewPlanner(catalog).Rewrite(ctx, p, catalog)
}

func allClassIDs(g *EGraph) []ClassID {
	seen := make(map[ClassID]bool)
	var out []ClassID
	for i := 0; i < g.NumClasses(); i++ {
		id := g.Find(ClassID(i))
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
