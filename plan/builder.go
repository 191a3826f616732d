package plan

import (
	"github.com/xiaobogaga/minidf/config"
	"github.com/xiaobogaga/minidf/storage"
)

// DataSet is the lazy handle over a logical plan. Every method wraps the
// current plan in a new node, validates it against the input schema, and
// returns a fresh DataSet; nothing reads source data until the plan is
// handed to the executor. A failed wrap returns the error immediately so
// schema and type mistakes surface at build time, not at run time.
type DataSet struct {
	plan LogicPlan
	conf *config.Config
}

func FromSource(name string, source Source, conf *config.Config) (*DataSet, error) {
	if conf == nil {
		conf = config.Default()
	}
	ret := &DataSet{plan: &ScanLogicPlan{Source: source, Name: name}, conf: conf}
	if err := ret.plan.TypeCheck(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (ds *DataSet) Plan() LogicPlan { return ds.plan }

func (ds *DataSet) Conf() *config.Config { return ds.conf }

func (ds *DataSet) Schema() *storage.TableSchema { return ds.plan.Schema() }

func (ds *DataSet) wrap(p LogicPlan) (*DataSet, error) {
	if err := p.TypeCheck(); err != nil {
		return nil, err
	}
	return &DataSet{plan: p, conf: ds.conf}, nil
}

// Filter keeps the rows where expr evaluates to true. Rows where it is null
// are dropped.
func (ds *DataSet) Filter(expr LogicExpr) (*DataSet, error) {
	return ds.wrap(&SelectionLogicPlan{Input: ds.plan, Expr: expr})
}

// Select replaces the schema with the given expressions. Bare identifiers
// keep their name; anything else needs As.
func (ds *DataSet) Select(exprs ...LogicExpr) (*DataSet, error) {
	asExprs := make([]AsLogicExpr, len(exprs))
	for i, expr := range exprs {
		if as, ok := expr.(AsLogicExpr); ok {
			asExprs[i] = as
			continue
		}
		asExprs[i] = AsLogicExpr{Expr: expr}
	}
	return ds.wrap(&ProjectionLogicPlan{Input: ds.plan, Exprs: asExprs})
}

// WithColumn appends one computed column, keeping every existing column.
func (ds *DataSet) WithColumn(name string, expr LogicExpr) (*DataSet, error) {
	exprs := make([]AsLogicExpr, 0, len(ds.Schema().Columns)+1)
	for _, f := range ds.Schema().Columns {
		exprs = append(exprs, AsLogicExpr{Expr: Col(f.Name)})
	}
	exprs = append(exprs, AsLogicExpr{Expr: expr, Alias: name})
	return ds.wrap(&ProjectionLogicPlan{Input: ds.plan, Exprs: exprs})
}

// Join equi-joins with other on leftKey = rightKey. The physical strategy is
// chosen by the optimizer unless hint forces one.
func (ds *DataSet) Join(other *DataSet, leftKey, rightKey string, hint JoinHint) (*DataSet, error) {
	return ds.wrap(&JoinLogicPlan{
		Left:     ds.plan,
		Right:    other.plan,
		LeftKey:  leftKey,
		RightKey: rightKey,
		Hint:     hint,
	})
}

// GroupByAgg groups by the key columns and evaluates the aggregates per
// group. An empty key list produces one global group.
func (ds *DataSet) GroupByAgg(groupBy []string, aggrs ...AggrExpr) (*DataSet, error) {
	return ds.wrap(&AggrLogicPlan{Input: ds.plan, GroupBy: groupBy, Aggrs: aggrs})
}

// Sort orders the result by the keys; asc[i] false means descending on
// keys[i].
func (ds *DataSet) Sort(keys []string, asc []bool) (*DataSet, error) {
	return ds.wrap(&OrderByLogicPlan{Input: ds.plan, Keys: keys, Asc: asc})
}

// Limit keeps the first count rows.
func (ds *DataSet) Limit(count int) (*DataSet, error) {
	return ds.wrap(&LimitLogicPlan{Input: ds.plan, Count: count})
}

// Repartition redistributes rows by hash of key, or evenly into count
// partitions when key is empty.
func (ds *DataSet) Repartition(key string, count int) (*DataSet, error) {
	if count <= 0 {
		count = ds.conf.Partitions
	}
	return ds.wrap(&RepartitionLogicPlan{Input: ds.plan, Key: key, Count: count})
}
