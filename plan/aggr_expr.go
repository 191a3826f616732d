package plan

import (
	"fmt"

	"github.com/xiaobogaga/minidf/storage"
)

type AggrFn string

const (
	AggrMax   AggrFn = "max"
	AggrMin   AggrFn = "min"
	AggrSum   AggrFn = "sum"
	AggrCount AggrFn = "count"
	AggrAvg   AggrFn = "avg"
)

// AggrExpr is one aggregate over a column. An empty Column with AggrCount is
// count(*); every other form skips null cells.
type AggrExpr struct {
	Fn     AggrFn
	Column string
	Alias  string
}

func Max(column, alias string) AggrExpr { return AggrExpr{Fn: AggrMax, Column: column, Alias: alias} }
func Min(column, alias string) AggrExpr { return AggrExpr{Fn: AggrMin, Column: column, Alias: alias} }
func Sum(column, alias string) AggrExpr { return AggrExpr{Fn: AggrSum, Column: column, Alias: alias} }
func Avg(column, alias string) AggrExpr { return AggrExpr{Fn: AggrAvg, Column: column, Alias: alias} }
func Count(column, alias string) AggrExpr {
	return AggrExpr{Fn: AggrCount, Column: column, Alias: alias}
}
func CountAll(alias string) AggrExpr { return AggrExpr{Fn: AggrCount, Alias: alias} }

func (aggr AggrExpr) String() string {
	col := aggr.Column
	if col == "" {
		col = "*"
	}
	return fmt.Sprintf("%s(%s) as %s", aggr.Fn, col, aggr.Alias)
}

func (aggr AggrExpr) toField(input *storage.TableSchema) storage.Field {
	switch aggr.Fn {
	case AggrCount:
		return storage.Field{Name: aggr.Alias, TP: storage.Int}
	case AggrAvg:
		return storage.Field{Name: aggr.Alias, TP: storage.Float, Nullable: true}
	case AggrSum:
		f := input.GetField(aggr.Column)
		return storage.Field{Name: aggr.Alias, TP: f.TP, Nullable: true}
	default: // min, max
		f := input.GetField(aggr.Column)
		return storage.Field{Name: aggr.Alias, TP: f.TP, Nullable: true}
	}
}

func (aggr AggrExpr) TypeCheck(input LogicPlan) error {
	if aggr.Alias == "" {
		return SchemaError{Column: aggr.String(), Plan: "aggregate without alias"}
	}
	if aggr.Column == "" {
		if aggr.Fn != AggrCount {
			return SchemaError{Column: aggr.String(), Plan: "only count may aggregate *"}
		}
		return nil
	}
	if !input.Schema().HasColumn(aggr.Column) {
		return SchemaError{Column: aggr.Column, Plan: input.String()}
	}
	f := input.Schema().GetField(aggr.Column)
	if (aggr.Fn == AggrSum || aggr.Fn == AggrAvg) && !f.IsNumeric() {
		return TypeMismatchError{Left: f, Right: storage.Field{Name: string(aggr.Fn), TP: storage.Float}}
	}
	return nil
}
