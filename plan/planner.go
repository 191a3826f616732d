package plan

import (
	"github.com/xiaobogaga/minidf/config"
	"github.com/xiaobogaga/minidf/shuffle"
	"github.com/xiaobogaga/minidf/storage"
)

// Planner lowers an optimized logical plan to a physical plan: every node
// gets an execution strategy and a partitioning, and exchanges are inserted
// exactly where a node's required distribution differs from what its child
// already provides. Already co-partitioned inputs get no exchange.
type Planner struct {
	conf *config.Config
}

func NewPlanner(conf *config.Config) *Planner {
	if conf == nil {
		conf = config.Default()
	}
	return &Planner{conf: conf}
}

func (planner *Planner) Plan(p LogicPlan) (PhysicalPlan, error) {
	return planner.lower(p)
}

func (planner *Planner) lower(p LogicPlan) (PhysicalPlan, error) {
	switch v := p.(type) {
	case *ScanLogicPlan:
		return &PhysicalScan{
			Source: v.Source,
			Name:   v.Name,
			Part:   Partitioning{TP: AnyPartition, Count: planner.conf.Partitions},
		}, nil
	case *SelectionLogicPlan:
		input, err := planner.lower(v.Input)
		if err != nil {
			return nil, err
		}
		return &PhysicalSelection{Input: input, Expr: v.Expr}, nil
	case *ProjectionLogicPlan:
		input, err := planner.lower(v.Input)
		if err != nil {
			return nil, err
		}
		return &PhysicalProjection{Input: input, Exprs: v.Exprs, OutSchema: v.Schema()}, nil
	case *RepartitionLogicPlan:
		return planner.lowerRepartition(v)
	case *AggrLogicPlan:
		return planner.lowerAggr(v)
	case *JoinLogicPlan:
		return planner.lowerJoin(v)
	case *OrderByLogicPlan:
		return planner.lowerOrderBy(v)
	case *LimitLogicPlan:
		return planner.lowerLimit(v)
	}
	return nil, SchemaError{Column: "*", Plan: "unknown logical node " + p.String()}
}

func (planner *Planner) lowerRepartition(v *RepartitionLogicPlan) (PhysicalPlan, error) {
	input, err := planner.lower(v.Input)
	if err != nil {
		return nil, err
	}
	if v.Key == "" {
		return &PhysicalExchange{Input: input, TP: RoundRobinExchange, Count: v.Count}, nil
	}
	if input.Partitioning().SatisfiesHash(v.Key, v.Count) {
		return input, nil
	}
	return &PhysicalExchange{Input: input, TP: ShuffleExchange, Key: v.Key, Count: v.Count}, nil
}

// lowerAggr splits a grouped aggregation into a partial fold before the
// shuffle and a final merge after it, so only group states cross the wire.
// A child already partitioned by the group key aggregates in one step with
// no exchange at all.
func (planner *Planner) lowerAggr(v *AggrLogicPlan) (PhysicalPlan, error) {
	input, err := planner.lower(v.Input)
	if err != nil {
		return nil, err
	}
	outSchema := v.Schema()
	if len(v.GroupBy) == 0 {
		partial := &PhysicalAggr{
			Input:     input,
			Aggrs:     v.Aggrs,
			Mode:      PartialAggr,
			OutSchema: PartialAggrSchema(v.Input.Schema(), nil, v.Aggrs),
			Part:      input.Partitioning(),
		}
		gather := &PhysicalExchange{Input: partial, TP: GatherExchange, Count: 1}
		return &PhysicalAggr{
			Input:     gather,
			Aggrs:     v.Aggrs,
			Mode:      FinalAggr,
			OutSchema: outSchema,
			Part:      Partitioning{TP: SinglePartition, Count: 1},
		}, nil
	}
	key := v.GroupBy[0]
	if input.Partitioning().SatisfiesHash(key, input.Partitioning().Count) &&
		input.Partitioning().TP != AnyPartition && input.Partitioning().TP != BroadcastPartition {
		return &PhysicalAggr{
			Input:     input,
			GroupBy:   v.GroupBy,
			Aggrs:     v.Aggrs,
			Mode:      CompleteAggr,
			OutSchema: outSchema,
			Part:      input.Partitioning(),
		}, nil
	}
	partial := &PhysicalAggr{
		Input:     input,
		GroupBy:   v.GroupBy,
		Aggrs:     v.Aggrs,
		Mode:      PartialAggr,
		OutSchema: PartialAggrSchema(v.Input.Schema(), v.GroupBy, v.Aggrs),
		Part:      input.Partitioning(),
	}
	ex := &PhysicalExchange{
		Input: partial,
		TP:    ShuffleExchange,
		Key:   key,
		Count: planner.conf.Partitions,
	}
	return &PhysicalAggr{
		Input:     ex,
		GroupBy:   v.GroupBy,
		Aggrs:     v.Aggrs,
		Mode:      FinalAggr,
		OutSchema: outSchema,
		Part:      Partitioning{TP: HashPartition, Key: key, Count: planner.conf.Partitions},
	}, nil
}

func (planner *Planner) lowerJoin(v *JoinLogicPlan) (PhysicalPlan, error) {
	left, err := planner.lower(v.Left)
	if err != nil {
		return nil, err
	}
	right, err := planner.lower(v.Right)
	if err != nil {
		return nil, err
	}
	outSchema := v.Schema()
	switch v.Hint {
	case HintBroadcastLeft:
		if err := planner.checkBroadcast(v.Left); err != nil {
			return nil, err
		}
		count := right.Partitioning().Count
		return &PhysicalHashJoin{
			Build:     &PhysicalExchange{Input: left, TP: BroadcastExchange, Count: count},
			Probe:     right,
			BuildKey:  v.LeftKey,
			ProbeKey:  v.RightKey,
			Strategy:  BroadcastHashJoin,
			BuildLeft: true,
			OutSchema: outSchema,
			Part:      right.Partitioning(),
		}, nil
	case HintBroadcastRight:
		if err := planner.checkBroadcast(v.Right); err != nil {
			return nil, err
		}
		count := left.Partitioning().Count
		return &PhysicalHashJoin{
			Build:     &PhysicalExchange{Input: right, TP: BroadcastExchange, Count: count},
			Probe:     left,
			BuildKey:  v.RightKey,
			ProbeKey:  v.LeftKey,
			Strategy:  BroadcastHashJoin,
			BuildLeft: false,
			OutSchema: outSchema,
			Part:      left.Partitioning(),
		}, nil
	}
	count := planner.conf.Partitions
	if !left.Partitioning().SatisfiesHash(v.LeftKey, count) {
		left = &PhysicalExchange{Input: left, TP: ShuffleExchange, Key: v.LeftKey, Count: count}
	}
	if !right.Partitioning().SatisfiesHash(v.RightKey, count) {
		right = &PhysicalExchange{Input: right, TP: ShuffleExchange, Key: v.RightKey, Count: count}
	}
	// Two single partition inputs need no exchange, but the join must then
	// run as a single partition too or every pipeline would see both whole
	// inputs and emit the join once per pipeline.
	if left.Partitioning().TP == SinglePartition && right.Partitioning().TP == SinglePartition {
		return &PhysicalHashJoin{
			Build:     left,
			Probe:     right,
			BuildKey:  v.LeftKey,
			ProbeKey:  v.RightKey,
			Strategy:  ShuffleHashJoin,
			BuildLeft: true,
			OutSchema: outSchema,
			Part:      Partitioning{TP: SinglePartition, Count: 1},
		}, nil
	}
	return &PhysicalHashJoin{
		Build:     left,
		Probe:     right,
		BuildKey:  v.LeftKey,
		ProbeKey:  v.RightKey,
		Strategy:  ShuffleHashJoin,
		BuildLeft: true,
		OutSchema: outSchema,
		Part:      Partitioning{TP: HashPartition, Key: v.LeftKey, Count: count},
	}, nil
}

// checkBroadcast rejects a forced broadcast of a side known to be over the
// threshold. An unknown estimate passes, the hint is an explicit override.
func (planner *Planner) checkBroadcast(side LogicPlan) error {
	est := EstimateSizeBytes(side)
	if est >= 0 && est > planner.conf.BroadcastThresholdBytes {
		return shuffle.ErrBroadcastSizeExceeded
	}
	return nil
}

// lowerOrderBy gathers to one partition for the final ordering. A bounded
// sort pre-sorts each partition down to its own top n first, so the gather
// moves at most n rows per partition.
func (planner *Planner) lowerOrderBy(v *OrderByLogicPlan) (PhysicalPlan, error) {
	input, err := planner.lower(v.Input)
	if err != nil {
		return nil, err
	}
	single := input.Partitioning().TP == SinglePartition
	if v.Limit > 0 {
		if single {
			return &PhysicalSort{Input: input, Keys: v.Keys, Asc: v.Asc, Limit: v.Limit}, nil
		}
		partial := &PhysicalSort{Input: input, Keys: v.Keys, Asc: v.Asc, Limit: v.Limit}
		gather := &PhysicalExchange{Input: partial, TP: GatherExchange, Count: 1}
		return &PhysicalSort{Input: gather, Keys: v.Keys, Asc: v.Asc, Limit: v.Limit}, nil
	}
	if !single {
		input = &PhysicalExchange{Input: input, TP: GatherExchange, Count: 1}
	}
	return &PhysicalSort{Input: input, Keys: v.Keys, Asc: v.Asc}, nil
}

func (planner *Planner) lowerLimit(v *LimitLogicPlan) (PhysicalPlan, error) {
	input, err := planner.lower(v.Input)
	if err != nil {
		return nil, err
	}
	if input.Partitioning().TP == SinglePartition {
		return &PhysicalLimit{Input: input, Count: v.Count}, nil
	}
	partial := &PhysicalLimit{Input: input, Count: v.Count}
	gather := &PhysicalExchange{Input: partial, TP: GatherExchange, Count: 1}
	return &PhysicalLimit{Input: gather, Count: v.Count}, nil
}

// PartialAggrSchema is the wire schema of per-partition aggregate states:
// the group keys, then per aggregate its state columns. Avg travels as a
// sum and a count so partial states merge exactly.
func PartialAggrSchema(input *storage.TableSchema, groupBy []string, aggrs []AggrExpr) *storage.TableSchema {
	ret := &storage.TableSchema{}
	for _, key := range groupBy {
		ret.AppendColumn(input.GetField(key))
	}
	for _, a := range aggrs {
		switch a.Fn {
		case AggrAvg:
			ret.AppendColumn(storage.Field{Name: a.Alias + "__sum", TP: storage.Float, Nullable: true})
			ret.AppendColumn(storage.Field{Name: a.Alias + "__count", TP: storage.Int})
		default:
			ret.AppendColumn(a.toField(input))
		}
	}
	return ret
}
