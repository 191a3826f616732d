package plan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaobogaga/minidf/config"
)

func mustOptimize(t *testing.T, ds *DataSet) LogicPlan {
	ret, err := Optimize(ds.Plan(), ds.Conf())
	assert.Nil(t, err)
	return ret
}

func TestCombineFilters(t *testing.T) {
	ds, err := casesSet().Filter(Gt(Col("confirmed"), IntLit(10)))
	assert.Nil(t, err)
	ds, err = ds.Filter(Lt(Col("deaths"), IntLit(5)))
	assert.Nil(t, err)

	p, changed := CombineFilterRule{}.Apply(ds.Plan())
	assert.True(t, changed)
	sel, ok := p.(*SelectionLogicPlan)
	assert.True(t, ok)
	assert.IsType(t, AndLogicExpr{}, sel.Expr)
	assert.IsType(t, &ScanLogicPlan{}, sel.Input)
}

func TestPushFilterBelowRepartition(t *testing.T) {
	ds, err := casesSet().Repartition("country", 4)
	assert.Nil(t, err)
	ds, err = ds.Filter(Gt(Col("confirmed"), IntLit(10)))
	assert.Nil(t, err)

	p, changed := PushDownFilterRule{}.Apply(ds.Plan())
	assert.True(t, changed)
	rep, ok := p.(*RepartitionLogicPlan)
	assert.True(t, ok)
	assert.IsType(t, &SelectionLogicPlan{}, rep.Input)
}

func TestPushFilterIntoJoinSide(t *testing.T) {
	joined, err := casesSet().Join(regionsSet(), "country", "country", NoHint)
	assert.Nil(t, err)
	ds, err := joined.Filter(Gt(Col("population"), IntLit(1000)))
	assert.Nil(t, err)

	p, changed := PushDownFilterRule{}.Apply(ds.Plan())
	assert.True(t, changed)
	join, ok := p.(*JoinLogicPlan)
	assert.True(t, ok)
	assert.IsType(t, &ScanLogicPlan{}, join.Left)
	assert.IsType(t, &SelectionLogicPlan{}, join.Right)

	// a predicate spanning both sides stays above the join
	ds, err = joined.Filter(Gt(Col("confirmed"), Col("population")))
	assert.Nil(t, err)
	_, changed = PushDownFilterRule{}.Apply(ds.Plan())
	assert.False(t, changed)
}

func TestPushFilterStopsAtAggregate(t *testing.T) {
	grouped, err := casesSet().GroupByAgg([]string{"country"}, Sum("confirmed", "total"))
	assert.Nil(t, err)

	// HAVING: references the aggregate result, must stay above
	having, err := grouped.Filter(Gt(Col("total"), IntLit(100)))
	assert.Nil(t, err)
	_, changed := PushDownFilterRule{}.Apply(having.Plan())
	assert.False(t, changed)

	// a predicate over the group key alone may commute below
	keyed, err := grouped.Filter(Eq(Col("country"), TextLit("DE")))
	assert.Nil(t, err)
	p, changed := PushDownFilterRule{}.Apply(keyed.Plan())
	assert.True(t, changed)
	aggr, ok := p.(*AggrLogicPlan)
	assert.True(t, ok)
	assert.IsType(t, &SelectionLogicPlan{}, aggr.Input)
}

func TestPruneColumns(t *testing.T) {
	ds, err := casesSet().Filter(Gt(Col("confirmed"), IntLit(10)))
	assert.Nil(t, err)
	ds, err = ds.Select(Col("country"), Col("confirmed"))
	assert.Nil(t, err)

	p, changed := PruneColumnRule{}.Apply(ds.Plan())
	assert.True(t, changed)
	// a narrowing projection lands right above the scan
	proj := p.(*ProjectionLogicPlan)
	sel := proj.Input.(*SelectionLogicPlan)
	inserted, ok := sel.Input.(*ProjectionLogicPlan)
	assert.True(t, ok)
	assert.Equal(t, []string{"country", "confirmed"}, inserted.Schema().ColumnNames())
	assert.IsType(t, &ScanLogicPlan{}, inserted.Input)

	// idempotent on its own output
	_, changed = PruneColumnRule{}.Apply(p)
	assert.False(t, changed)
}

func TestJoinStrategySelection(t *testing.T) {
	threshold := config.Default().BroadcastThresholdBytes
	rule := JoinStrategyRule{Threshold: threshold}

	// small right side gets broadcast
	ds, err := casesSet().Join(regionsSet(), "country", "country", NoHint)
	require.Nil(t, err)
	p, changed := rule.Apply(ds.Plan())
	assert.True(t, changed)
	assert.Equal(t, HintBroadcastRight, p.(*JoinLogicPlan).Hint)

	// both big: shuffle
	ds, err = casesSet().Join(casesSet(), "country", "country", NoHint)
	require.Nil(t, err)
	p, _ = rule.Apply(ds.Plan())
	assert.Equal(t, HintShuffle, p.(*JoinLogicPlan).Hint)

	// both small: broadcast the smaller side
	small, err := regionsSet().Join(regionsSet(), "country", "country", NoHint)
	require.Nil(t, err)
	p, _ = rule.Apply(small.Plan())
	assert.Equal(t, HintBroadcastLeft, p.(*JoinLogicPlan).Hint)

	// an estimate sitting exactly on the threshold still broadcasts
	atLimit := &testSource{schema: regionsSchema(), rows: 1000, bytes: threshold}
	ads, err := FromSource("at_limit", atLimit, config.Default())
	require.Nil(t, err)
	ds, err = casesSet().Join(ads, "country", "country", NoHint)
	require.Nil(t, err)
	p, _ = rule.Apply(ds.Plan())
	assert.Equal(t, HintBroadcastRight, p.(*JoinLogicPlan).Hint)

	// one byte over: shuffle
	overLimit := &testSource{schema: regionsSchema(), rows: 1000, bytes: threshold + 1}
	ods, err := FromSource("over_limit", overLimit, config.Default())
	require.Nil(t, err)
	ds, err = casesSet().Join(ods, "country", "country", NoHint)
	require.Nil(t, err)
	p, _ = rule.Apply(ds.Plan())
	assert.Equal(t, HintShuffle, p.(*JoinLogicPlan).Hint)

	// unknown estimate never broadcasts
	unknown := &testSource{schema: regionsSchema(), rows: -1, bytes: -1}
	uds, err := FromSource("unknown", unknown, config.Default())
	require.Nil(t, err)
	ds, err = casesSet().Join(uds, "country", "country", NoHint)
	require.Nil(t, err)
	p, _ = rule.Apply(ds.Plan())
	assert.Equal(t, HintShuffle, p.(*JoinLogicPlan).Hint)

	// a user hint is left alone
	forced, err := casesSet().Join(casesSet(), "country", "country", HintBroadcastLeft)
	require.Nil(t, err)
	_, changed = rule.Apply(forced.Plan())
	assert.False(t, changed)
}

func TestAggrFusion(t *testing.T) {
	base := casesSet()
	left, err := base.GroupByAgg([]string{"country"}, Sum("confirmed", "total"))
	assert.Nil(t, err)
	right, err := base.GroupByAgg([]string{"country"}, CountAll("cnt"))
	assert.Nil(t, err)
	joined, err := left.Join(right, "country", "country", NoHint)
	assert.Nil(t, err)

	p, changed := AggrFusionRule{}.Apply(joined.Plan())
	assert.True(t, changed)
	aggr, ok := p.(*AggrLogicPlan)
	assert.True(t, ok)
	assert.Len(t, aggr.Aggrs, 2)
	assert.Equal(t, []string{"country", "total", "cnt"}, aggr.Schema().ColumnNames())

	// different upstream plans must not fuse
	otherRight, err := casesSet().Filter(Gt(Col("deaths"), IntLit(0)))
	assert.Nil(t, err)
	otherAggr, err := otherRight.GroupByAgg([]string{"country"}, CountAll("cnt"))
	assert.Nil(t, err)
	unfused, err := left.Join(otherAggr, "country", "country", NoHint)
	assert.Nil(t, err)
	_, changed = AggrFusionRule{}.Apply(unfused.Plan())
	assert.False(t, changed)
}

func TestAggrFusionDistinctSources(t *testing.T) {
	// two different sources registered under the same scan name render
	// identically but hold different data, fusing them would be wrong
	first, err := FromSource("cases", &testSource{schema: casesSchema(), rows: 100, bytes: 4096},
		config.Default())
	require.Nil(t, err)
	second, err := FromSource("cases", &testSource{schema: casesSchema(), rows: 100, bytes: 4096},
		config.Default())
	require.Nil(t, err)
	left, err := first.GroupByAgg([]string{"country"}, Sum("confirmed", "total"))
	require.Nil(t, err)
	right, err := second.GroupByAgg([]string{"country"}, CountAll("cnt"))
	require.Nil(t, err)
	joined, err := left.Join(right, "country", "country", NoHint)
	require.Nil(t, err)

	_, changed := AggrFusionRule{}.Apply(joined.Plan())
	assert.False(t, changed)
}

func TestAggrFusionAliasCollision(t *testing.T) {
	base := casesSet()
	left, err := base.GroupByAgg([]string{"country"}, Sum("confirmed", "total"))
	require.Nil(t, err)
	right, err := base.GroupByAgg([]string{"country"}, Sum("deaths", "total"))
	require.Nil(t, err)
	joined, err := left.Join(right, "country", "country", NoHint)
	require.Nil(t, err)

	// the join keeps both totals apart as total and right.total, a fused
	// aggregation could not
	assert.Equal(t, []string{"country", "total", "right.total"},
		joined.Schema().ColumnNames())
	_, changed := AggrFusionRule{}.Apply(joined.Plan())
	assert.False(t, changed)
}

func TestTopNFromSortLimit(t *testing.T) {
	ds, err := casesSet().Sort([]string{"confirmed"}, []bool{false})
	assert.Nil(t, err)
	ds, err = ds.Limit(10)
	assert.Nil(t, err)

	p, changed := TopNRule{}.Apply(ds.Plan())
	assert.True(t, changed)
	orderBy, ok := p.(*OrderByLogicPlan)
	assert.True(t, ok)
	assert.Equal(t, 10, orderBy.Limit)
}

func TestTopNFromRankFilter(t *testing.T) {
	ds, err := casesSet().Sort([]string{"confirmed"}, []bool{false})
	assert.Nil(t, err)
	ds, err = ds.Select(Col("country"), Col("confirmed"), As(RowNumber(), "rank"))
	assert.Nil(t, err)
	ds, err = ds.Filter(Le(Col("rank"), IntLit(5)))
	assert.Nil(t, err)

	p, changed := TopNRule{}.Apply(ds.Plan())
	assert.True(t, changed)
	proj, ok := p.(*ProjectionLogicPlan)
	assert.True(t, ok)
	orderBy, ok := proj.Input.(*OrderByLogicPlan)
	assert.True(t, ok)
	assert.Equal(t, 5, orderBy.Limit)

	// rank >= n does not bound the ordering, nothing to rewrite
	ds2, err := casesSet().Sort([]string{"confirmed"}, []bool{false})
	assert.Nil(t, err)
	ds2, err = ds2.Select(Col("country"), As(RowNumber(), "rank"))
	assert.Nil(t, err)
	ds2, err = ds2.Filter(Ge(Col("rank"), IntLit(5)))
	assert.Nil(t, err)
	_, changed = TopNRule{}.Apply(ds2.Plan())
	assert.False(t, changed)
}

func TestOptimizeReachesFixedPoint(t *testing.T) {
	joined, err := casesSet().Join(regionsSet(), "country", "country", NoHint)
	assert.Nil(t, err)
	ds, err := joined.Filter(Gt(Col("population"), IntLit(1000)))
	assert.Nil(t, err)
	ds, err = ds.Filter(Gt(Col("confirmed"), IntLit(10)))
	assert.Nil(t, err)
	ds, err = ds.GroupByAgg([]string{"country"}, Sum("confirmed", "total"))
	assert.Nil(t, err)

	p := mustOptimize(t, ds)
	assert.NotNil(t, p)
	// strategy got picked on the way
	var join *JoinLogicPlan
	var walk func(LogicPlan)
	walk = func(node LogicPlan) {
		if j, ok := node.(*JoinLogicPlan); ok {
			join = j
		}
		for _, child := range node.Child() {
			walk(child)
		}
	}
	walk(p)
	assert.NotNil(t, join)
	assert.Equal(t, HintBroadcastRight, join.Hint)
}

func TestOptimizerPassBound(t *testing.T) {
	conf := config.Default()
	conf.MaxOptimizerPasses = 0
	_, err := Optimize(casesSet().Plan(), conf)
	assert.True(t, errors.Is(err, ErrOptimizerDiverged))
	// the error names the plan it gave up on
	assert.Contains(t, err.Error(), "Scan(cases)")
}
