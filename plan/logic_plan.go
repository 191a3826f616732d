package plan

import (
	"context"
	"fmt"
	"strings"

	"github.com/xiaobogaga/minidf/storage"
)

// Source is the external row producer a Scan pulls from. Implementations are
// out of the engine's scope; it only relies on the declared schema and the
// size estimates (negative when unknown, which disqualifies the side from a
// broadcast join).
type Source interface {
	Schema() *storage.TableSchema
	Scan(ctx context.Context) RowIterator
	EstimatedRows() int64
	EstimatedSizeBytes() int64
}

type RowIterator interface {
	Next() (*storage.RowBatch, error)
}

// LogicPlan is one node of the deferred plan tree. Nodes are immutable after
// construction and own their children exclusively; building a plan touches no
// data. Consumers rewrap nodes instead of editing them, so the same plan can
// be optimized and materialized any number of times.
type LogicPlan interface {
	Schema() *storage.TableSchema
	Child() []LogicPlan
	String() string
	TypeCheck() error
}

type ScanLogicPlan struct {
	Source Source
	Name   string
}

func (scan *ScanLogicPlan) Schema() *storage.TableSchema { return scan.Source.Schema() }

func (scan *ScanLogicPlan) String() string { return fmt.Sprintf("Scan(%s)", scan.Name) }

func (scan *ScanLogicPlan) Child() []LogicPlan { return nil }

func (scan *ScanLogicPlan) TypeCheck() error {
	if scan.Source == nil || len(scan.Source.Schema().Columns) == 0 {
		return SchemaError{Column: "*", Plan: scan.String()}
	}
	return nil
}

// SelectionLogicPlan filters its input by a boolean predicate.
type SelectionLogicPlan struct {
	Input LogicPlan
	Expr  LogicExpr
}

func (sel *SelectionLogicPlan) Schema() *storage.TableSchema { return sel.Input.Schema() }

func (sel *SelectionLogicPlan) String() string {
	return fmt.Sprintf("Filter(%s)", sel.Expr)
}

func (sel *SelectionLogicPlan) Child() []LogicPlan { return []LogicPlan{sel.Input} }

func (sel *SelectionLogicPlan) TypeCheck() error {
	if err := sel.Input.TypeCheck(); err != nil {
		return err
	}
	if err := sel.Expr.TypeCheck(sel.Input); err != nil {
		return err
	}
	if f := sel.Expr.toField(sel.Input); f.TP != storage.Bool {
		return TypeMismatchError{Left: f, Right: storage.Field{Name: "predicate", TP: storage.Bool}}
	}
	return nil
}

// ProjectionLogicPlan narrows or computes columns. Plain column selection is a
// projection of identifier expressions.
type ProjectionLogicPlan struct {
	Input LogicPlan
	Exprs []AsLogicExpr
}

func (proj *ProjectionLogicPlan) Schema() *storage.TableSchema {
	ret := &storage.TableSchema{}
	for _, expr := range proj.Exprs {
		ret.AppendColumn(expr.toField(proj.Input))
	}
	return ret
}

func (proj *ProjectionLogicPlan) String() string {
	items := make([]string, len(proj.Exprs))
	for i, expr := range proj.Exprs {
		items[i] = expr.String()
	}
	return fmt.Sprintf("Project(%s)", strings.Join(items, ", "))
}

func (proj *ProjectionLogicPlan) Child() []LogicPlan { return []LogicPlan{proj.Input} }

func (proj *ProjectionLogicPlan) TypeCheck() error {
	if err := proj.Input.TypeCheck(); err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, expr := range proj.Exprs {
		if err := expr.Expr.TypeCheck(proj.Input); err != nil {
			return err
		}
		name := expr.toField(proj.Input).Name
		if seen[name] {
			return SchemaError{Column: name, Plan: "duplicate projected column"}
		}
		seen[name] = true
	}
	return nil
}

type JoinHint int

const (
	NoHint JoinHint = iota
	HintBroadcastLeft
	HintBroadcastRight
	HintShuffle
)

// JoinLogicPlan is an equi join of two inputs on one key column per side.
type JoinLogicPlan struct {
	Left     LogicPlan
	Right    LogicPlan
	LeftKey  string
	RightKey string
	Hint     JoinHint
}

// Schema is the left columns followed by the right columns. When both sides
// join on the same column name the right copy is dropped, it would always
// equal the left one. Any other right column shadowed by a left one comes out
// qualified as right.<name>, so self joins stay referencable.
func (join *JoinLogicPlan) Schema() *storage.TableSchema {
	ret := &storage.TableSchema{}
	for _, f := range join.Left.Schema().Columns {
		ret.AppendColumn(f)
	}
	for _, f := range join.Right.Schema().Columns {
		if f.Name == join.RightKey && join.RightKey == join.LeftKey {
			continue
		}
		for ret.HasColumn(f.Name) {
			f.Name = "right." + f.Name
		}
		ret.AppendColumn(f)
	}
	return ret
}

func (join *JoinLogicPlan) String() string {
	return fmt.Sprintf("Join(%s = %s)", join.LeftKey, join.RightKey)
}

func (join *JoinLogicPlan) Child() []LogicPlan { return []LogicPlan{join.Left, join.Right} }

func (join *JoinLogicPlan) TypeCheck() error {
	if err := join.Left.TypeCheck(); err != nil {
		return err
	}
	if err := join.Right.TypeCheck(); err != nil {
		return err
	}
	if !join.Left.Schema().HasColumn(join.LeftKey) {
		return SchemaError{Column: join.LeftKey, Plan: join.Left.String()}
	}
	if !join.Right.Schema().HasColumn(join.RightKey) {
		return SchemaError{Column: join.RightKey, Plan: join.Right.String()}
	}
	left := join.Left.Schema().GetField(join.LeftKey)
	right := join.Right.Schema().GetField(join.RightKey)
	if !left.Comparable(right) {
		return TypeMismatchError{Left: left, Right: right}
	}
	seen := map[string]bool{}
	for _, f := range join.Schema().Columns {
		if seen[f.Name] {
			return SchemaError{Column: f.Name, Plan: "ambiguous column in join output"}
		}
		seen[f.Name] = true
	}
	return nil
}

// AggrLogicPlan groups its input and evaluates aggregates per group. Its
// output schema is the group keys followed by the aggregate aliases; a filter
// referencing an aggregate alias therefore belongs above this node and can
// never be pushed below it.
type AggrLogicPlan struct {
	Input   LogicPlan
	GroupBy []string
	Aggrs   []AggrExpr
}

func (aggr *AggrLogicPlan) Schema() *storage.TableSchema {
	ret := &storage.TableSchema{}
	for _, key := range aggr.GroupBy {
		ret.AppendColumn(aggr.Input.Schema().GetField(key))
	}
	for _, a := range aggr.Aggrs {
		ret.AppendColumn(a.toField(aggr.Input.Schema()))
	}
	return ret
}

func (aggr *AggrLogicPlan) String() string {
	items := make([]string, len(aggr.Aggrs))
	for i, a := range aggr.Aggrs {
		items[i] = a.String()
	}
	return fmt.Sprintf("Aggr(by %s: %s)", strings.Join(aggr.GroupBy, ", "), strings.Join(items, ", "))
}

func (aggr *AggrLogicPlan) Child() []LogicPlan { return []LogicPlan{aggr.Input} }

func (aggr *AggrLogicPlan) TypeCheck() error {
	if err := aggr.Input.TypeCheck(); err != nil {
		return err
	}
	for _, key := range aggr.GroupBy {
		if !aggr.Input.Schema().HasColumn(key) {
			return SchemaError{Column: key, Plan: aggr.Input.String()}
		}
	}
	seen := map[string]bool{}
	for _, key := range aggr.GroupBy {
		seen[key] = true
	}
	for _, a := range aggr.Aggrs {
		if err := a.TypeCheck(aggr.Input); err != nil {
			return err
		}
		if seen[a.Alias] {
			return SchemaError{Column: a.Alias, Plan: "duplicate aggregate alias"}
		}
		seen[a.Alias] = true
	}
	return nil
}

// OrderByLogicPlan sorts by the given keys. Limit > 0 makes it a bounded
// top-n sort that never materializes the full ordering.
type OrderByLogicPlan struct {
	Input LogicPlan
	Keys  []string
	Asc   []bool
	Limit int
}

func (orderBy *OrderByLogicPlan) Schema() *storage.TableSchema { return orderBy.Input.Schema() }

func (orderBy *OrderByLogicPlan) String() string {
	items := make([]string, len(orderBy.Keys))
	for i, key := range orderBy.Keys {
		dir := "asc"
		if !orderBy.Asc[i] {
			dir = "desc"
		}
		items[i] = key + " " + dir
	}
	if orderBy.Limit > 0 {
		return fmt.Sprintf("TopN(%s, limit %d)", strings.Join(items, ", "), orderBy.Limit)
	}
	return fmt.Sprintf("Sort(%s)", strings.Join(items, ", "))
}

func (orderBy *OrderByLogicPlan) Child() []LogicPlan { return []LogicPlan{orderBy.Input} }

func (orderBy *OrderByLogicPlan) TypeCheck() error {
	if err := orderBy.Input.TypeCheck(); err != nil {
		return err
	}
	if len(orderBy.Keys) != len(orderBy.Asc) {
		return SchemaError{Column: "order keys", Plan: "keys and directions differ in length"}
	}
	for _, key := range orderBy.Keys {
		if !orderBy.Input.Schema().HasColumn(key) {
			return SchemaError{Column: key, Plan: orderBy.Input.String()}
		}
	}
	return nil
}

type LimitLogicPlan struct {
	Input LogicPlan
	Count int
}

func (limit *LimitLogicPlan) Schema() *storage.TableSchema { return limit.Input.Schema() }

func (limit *LimitLogicPlan) String() string { return fmt.Sprintf("Limit(%d)", limit.Count) }

func (limit *LimitLogicPlan) Child() []LogicPlan { return []LogicPlan{limit.Input} }

func (limit *LimitLogicPlan) TypeCheck() error { return limit.Input.TypeCheck() }

// RepartitionLogicPlan redistributes rows by key hash (Key set) or evenly
// into Count partitions.
type RepartitionLogicPlan struct {
	Input LogicPlan
	Key   string
	Count int
}

func (rep *RepartitionLogicPlan) Schema() *storage.TableSchema { return rep.Input.Schema() }

func (rep *RepartitionLogicPlan) String() string {
	if rep.Key != "" {
		return fmt.Sprintf("Repartition(by %s)", rep.Key)
	}
	return fmt.Sprintf("Repartition(%d)", rep.Count)
}

func (rep *RepartitionLogicPlan) Child() []LogicPlan { return []LogicPlan{rep.Input} }

func (rep *RepartitionLogicPlan) TypeCheck() error {
	if err := rep.Input.TypeCheck(); err != nil {
		return err
	}
	if rep.Key == "" && rep.Count <= 0 {
		return SchemaError{Column: "partition count", Plan: rep.String()}
	}
	if rep.Key != "" && !rep.Input.Schema().HasColumn(rep.Key) {
		return SchemaError{Column: rep.Key, Plan: rep.Input.String()}
	}
	return nil
}
