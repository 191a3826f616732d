package plan

import (
	"fmt"
	"strings"

	"github.com/xiaobogaga/minidf/storage"
)

type PartitionTP int

const (
	// AnyPartition rows are spread over Count partitions with no key
	// guarantee.
	AnyPartition PartitionTP = iota
	// HashPartition equal values of Key share a partition.
	HashPartition
	// SinglePartition everything is in one partition.
	SinglePartition
	// BroadcastPartition every partition holds the full data.
	BroadcastPartition
)

// Partitioning describes how a physical node's output is distributed. The
// planner compares the child's partitioning against what a node requires and
// inserts exchanges only where they differ.
type Partitioning struct {
	TP    PartitionTP
	Key   string
	Count int
}

func (p Partitioning) String() string {
	switch p.TP {
	case HashPartition:
		return fmt.Sprintf("hash(%s)x%d", p.Key, p.Count)
	case SinglePartition:
		return "single"
	case BroadcastPartition:
		return fmt.Sprintf("broadcast x%d", p.Count)
	}
	return fmt.Sprintf("any x%d", p.Count)
}

// SatisfiesHash reports whether data in this layout is already grouped so
// that equal values of key share a partition.
func (p Partitioning) SatisfiesHash(key string, count int) bool {
	if p.TP == SinglePartition {
		return true
	}
	return p.TP == HashPartition && p.Key == key && p.Count == count
}

// PhysicalPlan is a logical node annotated with an execution strategy and an
// output partitioning. The executor walks this tree.
type PhysicalPlan interface {
	Schema() *storage.TableSchema
	Children() []PhysicalPlan
	String() string
	Partitioning() Partitioning
}

type PhysicalScan struct {
	Source Source
	Name   string
	Part   Partitioning
}

func (scan *PhysicalScan) Schema() *storage.TableSchema { return scan.Source.Schema() }
func (scan *PhysicalScan) Children() []PhysicalPlan     { return nil }
func (scan *PhysicalScan) String() string               { return fmt.Sprintf("Scan(%s)", scan.Name) }
func (scan *PhysicalScan) Partitioning() Partitioning   { return scan.Part }

type PhysicalSelection struct {
	Input PhysicalPlan
	Expr  LogicExpr
}

func (sel *PhysicalSelection) Schema() *storage.TableSchema { return sel.Input.Schema() }
func (sel *PhysicalSelection) Children() []PhysicalPlan     { return []PhysicalPlan{sel.Input} }
func (sel *PhysicalSelection) String() string               { return fmt.Sprintf("Filter(%s)", sel.Expr) }
func (sel *PhysicalSelection) Partitioning() Partitioning   { return sel.Input.Partitioning() }

type PhysicalProjection struct {
	Input PhysicalPlan
	Exprs []AsLogicExpr
	// schema is fixed at lowering time, the logical input the exprs were
	// checked against is gone by now.
	OutSchema *storage.TableSchema
}

func (proj *PhysicalProjection) Schema() *storage.TableSchema { return proj.OutSchema }
func (proj *PhysicalProjection) Children() []PhysicalPlan     { return []PhysicalPlan{proj.Input} }
func (proj *PhysicalProjection) String() string {
	items := make([]string, len(proj.Exprs))
	for i, expr := range proj.Exprs {
		items[i] = expr.String()
	}
	return fmt.Sprintf("Project(%s)", strings.Join(items, ", "))
}
func (proj *PhysicalProjection) Partitioning() Partitioning { return proj.Input.Partitioning() }

type JoinStrategy int

const (
	ShuffleHashJoin JoinStrategy = iota
	BroadcastHashJoin
)

// PhysicalHashJoin builds a hash table on the build side and probes it with
// the other. For BroadcastHashJoin the build side is the replicated one; for
// ShuffleHashJoin both sides arrive hash partitioned on the key and the
// smaller role does not matter for correctness.
type PhysicalHashJoin struct {
	Build     PhysicalPlan
	Probe     PhysicalPlan
	BuildKey  string
	ProbeKey  string
	Strategy  JoinStrategy
	BuildLeft bool
	OutSchema *storage.TableSchema
	Part      Partitioning
}

func (join *PhysicalHashJoin) Schema() *storage.TableSchema { return join.OutSchema }
func (join *PhysicalHashJoin) Children() []PhysicalPlan {
	return []PhysicalPlan{join.Build, join.Probe}
}
func (join *PhysicalHashJoin) String() string {
	name := "ShuffleHashJoin"
	if join.Strategy == BroadcastHashJoin {
		name = "BroadcastHashJoin"
	}
	return fmt.Sprintf("%s(%s = %s)", name, join.BuildKey, join.ProbeKey)
}
func (join *PhysicalHashJoin) Partitioning() Partitioning { return join.Part }

type AggrMode int

const (
	// PartialAggr folds rows within one partition; its output is group
	// states, not final values.
	PartialAggr AggrMode = iota
	// FinalAggr merges partial states after the shuffle into results.
	FinalAggr
	// CompleteAggr does both in one step when the input is already
	// partitioned by the group key.
	CompleteAggr
)

type PhysicalAggr struct {
	Input     PhysicalPlan
	GroupBy   []string
	Aggrs     []AggrExpr
	Mode      AggrMode
	OutSchema *storage.TableSchema
	Part      Partitioning
}

func (aggr *PhysicalAggr) Schema() *storage.TableSchema { return aggr.OutSchema }
func (aggr *PhysicalAggr) Children() []PhysicalPlan     { return []PhysicalPlan{aggr.Input} }
func (aggr *PhysicalAggr) String() string {
	mode := "partial"
	switch aggr.Mode {
	case FinalAggr:
		mode = "final"
	case CompleteAggr:
		mode = "complete"
	}
	items := make([]string, len(aggr.Aggrs))
	for i, a := range aggr.Aggrs {
		items[i] = a.String()
	}
	return fmt.Sprintf("Aggr[%s](by %s: %s)", mode,
		strings.Join(aggr.GroupBy, ", "), strings.Join(items, ", "))
}
func (aggr *PhysicalAggr) Partitioning() Partitioning { return aggr.Part }

// PhysicalSort sorts its partition. Limit > 0 keeps only the first Limit
// rows, the full ordering is never held.
type PhysicalSort struct {
	Input PhysicalPlan
	Keys  []string
	Asc   []bool
	Limit int
}

func (sort *PhysicalSort) Schema() *storage.TableSchema { return sort.Input.Schema() }
func (sort *PhysicalSort) Children() []PhysicalPlan     { return []PhysicalPlan{sort.Input} }
func (sort *PhysicalSort) String() string {
	if sort.Limit > 0 {
		return fmt.Sprintf("TopNSort(%s, limit %d)", strings.Join(sort.Keys, ", "), sort.Limit)
	}
	return fmt.Sprintf("Sort(%s)", strings.Join(sort.Keys, ", "))
}
func (sort *PhysicalSort) Partitioning() Partitioning { return sort.Input.Partitioning() }

type PhysicalLimit struct {
	Input PhysicalPlan
	Count int
}

func (limit *PhysicalLimit) Schema() *storage.TableSchema { return limit.Input.Schema() }
func (limit *PhysicalLimit) Children() []PhysicalPlan     { return []PhysicalPlan{limit.Input} }
func (limit *PhysicalLimit) String() string               { return fmt.Sprintf("Limit(%d)", limit.Count) }
func (limit *PhysicalLimit) Partitioning() Partitioning   { return limit.Input.Partitioning() }

type ExchangeTP int

const (
	// ShuffleExchange hash-redistributes by Key into Count partitions.
	ShuffleExchange ExchangeTP = iota
	// BroadcastExchange replicates everything to Count partitions.
	BroadcastExchange
	// GatherExchange concentrates all partitions into one.
	GatherExchange
	// RoundRobinExchange deals batches evenly into Count partitions.
	RoundRobinExchange
)

// PhysicalExchange is the materialization barrier: the executor fully drains
// its input before anything downstream starts, then hands the redistributed
// partitions to the next stage.
type PhysicalExchange struct {
	Input PhysicalPlan
	TP    ExchangeTP
	Key   string
	Count int
}

func (ex *PhysicalExchange) Schema() *storage.TableSchema { return ex.Input.Schema() }
func (ex *PhysicalExchange) Children() []PhysicalPlan     { return []PhysicalPlan{ex.Input} }
func (ex *PhysicalExchange) String() string {
	switch ex.TP {
	case BroadcastExchange:
		return fmt.Sprintf("Exchange(broadcast x%d)", ex.Count)
	case GatherExchange:
		return "Exchange(gather)"
	case RoundRobinExchange:
		return fmt.Sprintf("Exchange(roundrobin x%d)", ex.Count)
	}
	return fmt.Sprintf("Exchange(shuffle by %s x%d)", ex.Key, ex.Count)
}

func (ex *PhysicalExchange) Partitioning() Partitioning {
	switch ex.TP {
	case BroadcastExchange:
		return Partitioning{TP: BroadcastPartition, Count: ex.Count}
	case GatherExchange:
		return Partitioning{TP: SinglePartition, Count: 1}
	case RoundRobinExchange:
		return Partitioning{TP: AnyPartition, Count: ex.Count}
	}
	return Partitioning{TP: HashPartition, Key: ex.Key, Count: ex.Count}
}

// CountShuffles walks the physical plan counting shuffle boundaries, hash
// and round robin. Broadcasts and gathers move data too but only shuffles
// redistribute the bulk, which is what the plan-quality checks care about.
func CountShuffles(p PhysicalPlan) int {
	ret := 0
	if ex, ok := p.(*PhysicalExchange); ok &&
		(ex.TP == ShuffleExchange || ex.TP == RoundRobinExchange) {
		ret++
	}
	for _, child := range p.Children() {
		ret += CountShuffles(child)
	}
	return ret
}

// CountExchanges counts every materialization barrier of any kind.
func CountExchanges(p PhysicalPlan) int {
	ret := 0
	if _, ok := p.(*PhysicalExchange); ok {
		ret++
	}
	for _, child := range p.Children() {
		ret += CountExchanges(child)
	}
	return ret
}
