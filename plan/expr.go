package plan

import (
	"fmt"
	"strings"

	"github.com/xiaobogaga/minidf/storage"
)

// LogicExpr is a boolean or scalar expression tree over column references and
// literals. Expressions are immutable and carry no plan binding: the input
// plan is handed in at type check time so the optimizer can move a filter
// between nodes without rebuilding its predicate.
type LogicExpr interface {
	toField(input LogicPlan) storage.Field
	String() string
	TypeCheck(input LogicPlan) error
	Evaluate(input *storage.RowBatch) *storage.ColumnVector
	Columns() []string
}

type IdentifierLogicExpr struct {
	Ident string
}

func Col(name string) LogicExpr { return IdentifierLogicExpr{Ident: name} }

func (ident IdentifierLogicExpr) toField(input LogicPlan) storage.Field {
	return input.Schema().GetField(ident.Ident)
}

func (ident IdentifierLogicExpr) String() string { return ident.Ident }

func (ident IdentifierLogicExpr) TypeCheck(input LogicPlan) error {
	if !input.Schema().HasColumn(ident.Ident) {
		return SchemaError{Column: ident.Ident, Plan: input.String()}
	}
	return nil
}

func (ident IdentifierLogicExpr) Evaluate(input *storage.RowBatch) *storage.ColumnVector {
	return input.GetColumnValue(ident.Ident)
}

func (ident IdentifierLogicExpr) Columns() []string { return []string{ident.Ident} }

type LiteralLogicExpr struct {
	TP   storage.FieldTP
	Data []byte
}

func IntLit(v int64) LogicExpr { return LiteralLogicExpr{TP: storage.Int, Data: storage.EncodeInt(v)} }
func FloatLit(v float64) LogicExpr {
	return LiteralLogicExpr{TP: storage.Float, Data: storage.EncodeFloat(v)}
}
func TextLit(v string) LogicExpr {
	return LiteralLogicExpr{TP: storage.Text, Data: storage.EncodeText(v)}
}
func BoolLit(v bool) LogicExpr {
	return LiteralLogicExpr{TP: storage.Bool, Data: storage.EncodeBool(v)}
}

func (literal LiteralLogicExpr) toField(input LogicPlan) storage.Field {
	return storage.Field{Name: literal.String(), TP: literal.TP}
}

func (literal LiteralLogicExpr) String() string {
	return storage.DecodeToString(literal.Data, literal.TP)
}

func (literal LiteralLogicExpr) TypeCheck(input LogicPlan) error { return nil }

func (literal LiteralLogicExpr) Evaluate(input *storage.RowBatch) *storage.ColumnVector {
	ret := &storage.ColumnVector{Field: storage.Field{Name: literal.String(), TP: literal.TP}}
	for row := 0; row < input.RowCount(); row++ {
		ret.Append(literal.Data)
	}
	return ret
}

func (literal LiteralLogicExpr) Columns() []string { return nil }

type CompareOp string

const (
	OpEqual      CompareOp = "="
	OpNotEqual   CompareOp = "!="
	OpGreat      CompareOp = ">"
	OpGreatEqual CompareOp = ">="
	OpLess       CompareOp = "<"
	OpLessEqual  CompareOp = "<="
)

// CompareLogicExpr evaluates Left Op Right per row. A null on either side
// yields false, never null: nulls fail comparison predicates.
type CompareLogicExpr struct {
	Left  LogicExpr
	Right LogicExpr
	Op    CompareOp
}

func Eq(left, right LogicExpr) LogicExpr { return CompareLogicExpr{left, right, OpEqual} }
func Ne(left, right LogicExpr) LogicExpr { return CompareLogicExpr{left, right, OpNotEqual} }
func Gt(left, right LogicExpr) LogicExpr { return CompareLogicExpr{left, right, OpGreat} }
func Ge(left, right LogicExpr) LogicExpr { return CompareLogicExpr{left, right, OpGreatEqual} }
func Lt(left, right LogicExpr) LogicExpr { return CompareLogicExpr{left, right, OpLess} }
func Le(left, right LogicExpr) LogicExpr { return CompareLogicExpr{left, right, OpLessEqual} }

func (cmp CompareLogicExpr) toField(input LogicPlan) storage.Field {
	return storage.Field{Name: cmp.String(), TP: storage.Bool}
}

func (cmp CompareLogicExpr) String() string {
	return fmt.Sprintf("%s %s %s", cmp.Left, cmp.Op, cmp.Right)
}

func (cmp CompareLogicExpr) TypeCheck(input LogicPlan) error {
	if err := cmp.Left.TypeCheck(input); err != nil {
		return err
	}
	if err := cmp.Right.TypeCheck(input); err != nil {
		return err
	}
	left, right := cmp.Left.toField(input), cmp.Right.toField(input)
	if !left.Comparable(right) {
		return TypeMismatchError{Left: left, Right: right}
	}
	return nil
}

func (cmp CompareLogicExpr) Evaluate(input *storage.RowBatch) *storage.ColumnVector {
	left := cmp.Left.Evaluate(input)
	right := cmp.Right.Evaluate(input)
	ret := &storage.ColumnVector{Field: storage.Field{Name: cmp.String(), TP: storage.Bool}}
	for row := 0; row < input.RowCount(); row++ {
		if left.IsNull(row) || right.IsNull(row) {
			ret.Append(storage.EncodeBool(false))
			continue
		}
		c := storage.Compare(left.RawValue(row), left.Field.TP, right.RawValue(row), right.Field.TP)
		var v bool
		switch cmp.Op {
		case OpEqual:
			v = c == 0
		case OpNotEqual:
			v = c != 0
		case OpGreat:
			v = c > 0
		case OpGreatEqual:
			v = c >= 0
		case OpLess:
			v = c < 0
		case OpLessEqual:
			v = c <= 0
		}
		ret.Append(storage.EncodeBool(v))
	}
	return ret
}

func (cmp CompareLogicExpr) Columns() []string {
	return append(cmp.Left.Columns(), cmp.Right.Columns()...)
}

type AndLogicExpr struct {
	Left  LogicExpr
	Right LogicExpr
}

func And(left, right LogicExpr) LogicExpr { return AndLogicExpr{Left: left, Right: right} }

func (and AndLogicExpr) toField(input LogicPlan) storage.Field {
	return storage.Field{Name: and.String(), TP: storage.Bool}
}

func (and AndLogicExpr) String() string {
	return fmt.Sprintf("(%s and %s)", and.Left, and.Right)
}

func (and AndLogicExpr) TypeCheck(input LogicPlan) error {
	return boolOperandCheck(input, and.Left, and.Right)
}

func (and AndLogicExpr) Evaluate(input *storage.RowBatch) *storage.ColumnVector {
	left := and.Left.Evaluate(input)
	right := and.Right.Evaluate(input)
	ret := &storage.ColumnVector{Field: storage.Field{Name: and.String(), TP: storage.Bool}}
	for row := 0; row < input.RowCount(); row++ {
		ret.Append(storage.EncodeBool(left.Bool(row) && right.Bool(row)))
	}
	return ret
}

func (and AndLogicExpr) Columns() []string {
	return append(and.Left.Columns(), and.Right.Columns()...)
}

type OrLogicExpr struct {
	Left  LogicExpr
	Right LogicExpr
}

func Or(left, right LogicExpr) LogicExpr { return OrLogicExpr{Left: left, Right: right} }

func (or OrLogicExpr) toField(input LogicPlan) storage.Field {
	return storage.Field{Name: or.String(), TP: storage.Bool}
}

func (or OrLogicExpr) String() string {
	return fmt.Sprintf("(%s or %s)", or.Left, or.Right)
}

func (or OrLogicExpr) TypeCheck(input LogicPlan) error {
	return boolOperandCheck(input, or.Left, or.Right)
}

func (or OrLogicExpr) Evaluate(input *storage.RowBatch) *storage.ColumnVector {
	left := or.Left.Evaluate(input)
	right := or.Right.Evaluate(input)
	ret := &storage.ColumnVector{Field: storage.Field{Name: or.String(), TP: storage.Bool}}
	for row := 0; row < input.RowCount(); row++ {
		ret.Append(storage.EncodeBool(left.Bool(row) || right.Bool(row)))
	}
	return ret
}

func (or OrLogicExpr) Columns() []string {
	return append(or.Left.Columns(), or.Right.Columns()...)
}

type NotLogicExpr struct {
	Expr LogicExpr
}

func Not(expr LogicExpr) LogicExpr { return NotLogicExpr{Expr: expr} }

func (not NotLogicExpr) toField(input LogicPlan) storage.Field {
	return storage.Field{Name: not.String(), TP: storage.Bool}
}

func (not NotLogicExpr) String() string { return fmt.Sprintf("not %s", not.Expr) }

func (not NotLogicExpr) TypeCheck(input LogicPlan) error {
	return boolOperandCheck(input, not.Expr)
}

func (not NotLogicExpr) Evaluate(input *storage.RowBatch) *storage.ColumnVector {
	inner := not.Expr.Evaluate(input)
	ret := &storage.ColumnVector{Field: storage.Field{Name: not.String(), TP: storage.Bool}}
	for row := 0; row < input.RowCount(); row++ {
		ret.Append(storage.EncodeBool(!inner.Bool(row)))
	}
	return ret
}

func (not NotLogicExpr) Columns() []string { return not.Expr.Columns() }

func boolOperandCheck(input LogicPlan, exprs ...LogicExpr) error {
	for _, expr := range exprs {
		if err := expr.TypeCheck(input); err != nil {
			return err
		}
		if f := expr.toField(input); f.TP != storage.Bool {
			return fmt.Errorf("%s doesn't return bool value", expr)
		}
	}
	return nil
}

// InLogicExpr matches Left against a fixed literal set. A null Left fails the
// membership test.
type InLogicExpr struct {
	Left   LogicExpr
	Values []LogicExpr
}

func In(left LogicExpr, values ...LogicExpr) LogicExpr {
	return InLogicExpr{Left: left, Values: values}
}

func (in InLogicExpr) toField(input LogicPlan) storage.Field {
	return storage.Field{Name: in.String(), TP: storage.Bool}
}

func (in InLogicExpr) String() string {
	items := make([]string, len(in.Values))
	for i, value := range in.Values {
		items[i] = value.String()
	}
	return fmt.Sprintf("%s in (%s)", in.Left, strings.Join(items, ", "))
}

func (in InLogicExpr) TypeCheck(input LogicPlan) error {
	if err := in.Left.TypeCheck(input); err != nil {
		return err
	}
	left := in.Left.toField(input)
	for _, value := range in.Values {
		if err := value.TypeCheck(input); err != nil {
			return err
		}
		if f := value.toField(input); !left.Comparable(f) {
			return TypeMismatchError{Left: left, Right: f}
		}
	}
	return nil
}

func (in InLogicExpr) Evaluate(input *storage.RowBatch) *storage.ColumnVector {
	left := in.Left.Evaluate(input)
	values := make([]*storage.ColumnVector, len(in.Values))
	for i, value := range in.Values {
		values[i] = value.Evaluate(input)
	}
	ret := &storage.ColumnVector{Field: storage.Field{Name: in.String(), TP: storage.Bool}}
	for row := 0; row < input.RowCount(); row++ {
		if left.IsNull(row) {
			ret.Append(storage.EncodeBool(false))
			continue
		}
		hit := false
		for _, value := range values {
			if value.IsNull(row) {
				continue
			}
			if storage.Compare(left.RawValue(row), left.Field.TP, value.RawValue(row), value.Field.TP) == 0 {
				hit = true
				break
			}
		}
		ret.Append(storage.EncodeBool(hit))
	}
	return ret
}

func (in InLogicExpr) Columns() (ret []string) {
	ret = append(ret, in.Left.Columns()...)
	for _, value := range in.Values {
		ret = append(ret, value.Columns()...)
	}
	return
}

// TryCastLogicExpr converts its input to the target type, yielding a null
// cell on malformed input instead of failing the run.
type TryCastLogicExpr struct {
	Expr LogicExpr
	To   storage.FieldTP
}

func TryCast(expr LogicExpr, to storage.FieldTP) LogicExpr {
	return TryCastLogicExpr{Expr: expr, To: to}
}

func (cast TryCastLogicExpr) toField(input LogicPlan) storage.Field {
	return storage.Field{Name: cast.String(), TP: cast.To, Nullable: true}
}

func (cast TryCastLogicExpr) String() string {
	return fmt.Sprintf("try_cast(%s as %s)", cast.Expr, cast.To)
}

func (cast TryCastLogicExpr) TypeCheck(input LogicPlan) error {
	return cast.Expr.TypeCheck(input)
}

func (cast TryCastLogicExpr) Evaluate(input *storage.RowBatch) *storage.ColumnVector {
	inner := cast.Expr.Evaluate(input)
	ret := &storage.ColumnVector{Field: storage.Field{Name: cast.String(), TP: cast.To, Nullable: true}}
	for row := 0; row < input.RowCount(); row++ {
		if inner.IsNull(row) {
			ret.AppendNull()
			continue
		}
		value, ok := storage.TryCast(inner.RawValue(row), inner.Field.TP, cast.To)
		if !ok {
			ret.AppendNull()
			continue
		}
		ret.Append(value)
	}
	return ret
}

func (cast TryCastLogicExpr) Columns() []string { return cast.Expr.Columns() }

// YearLogicExpr extracts the year of a text date cell laid out as
// "2006-01-02". Malformed dates yield null.
type YearLogicExpr struct {
	Expr LogicExpr
}

func Year(expr LogicExpr) LogicExpr { return YearLogicExpr{Expr: expr} }

func (year YearLogicExpr) toField(input LogicPlan) storage.Field {
	return storage.Field{Name: year.String(), TP: storage.Int, Nullable: true}
}

func (year YearLogicExpr) String() string { return fmt.Sprintf("year(%s)", year.Expr) }

func (year YearLogicExpr) TypeCheck(input LogicPlan) error {
	if err := year.Expr.TypeCheck(input); err != nil {
		return err
	}
	if f := year.Expr.toField(input); f.TP != storage.Text {
		return TypeMismatchError{Left: f, Right: storage.Field{Name: "date", TP: storage.Text}}
	}
	return nil
}

func (year YearLogicExpr) Evaluate(input *storage.RowBatch) *storage.ColumnVector {
	inner := year.Expr.Evaluate(input)
	ret := &storage.ColumnVector{Field: storage.Field{Name: year.String(), TP: storage.Int, Nullable: true}}
	for row := 0; row < input.RowCount(); row++ {
		if inner.IsNull(row) || len(inner.RawValue(row)) < 4 {
			ret.AppendNull()
			continue
		}
		value, ok := storage.TryCast(inner.RawValue(row)[:4], storage.Text, storage.Int)
		if !ok {
			ret.AppendNull()
			continue
		}
		ret.Append(value)
	}
	return ret
}

func (year YearLogicExpr) Columns() []string { return year.Expr.Columns() }

// RowNumberLogicExpr numbers rows 1..n in the order they flow through the
// projection that carries it. Only meaningful directly above a sort, which is
// what the top-n rewrite recognizes.
type RowNumberLogicExpr struct{}

func RowNumber() LogicExpr { return RowNumberLogicExpr{} }

func (rn RowNumberLogicExpr) toField(input LogicPlan) storage.Field {
	return storage.Field{Name: rn.String(), TP: storage.Int}
}

func (rn RowNumberLogicExpr) String() string { return "row_number()" }

func (rn RowNumberLogicExpr) TypeCheck(input LogicPlan) error { return nil }

// Evaluate numbers within the batch only; the projection operator offsets it
// by the rows already seen on the partition.
func (rn RowNumberLogicExpr) Evaluate(input *storage.RowBatch) *storage.ColumnVector {
	ret := &storage.ColumnVector{Field: storage.Field{Name: rn.String(), TP: storage.Int}}
	for row := 0; row < input.RowCount(); row++ {
		ret.Append(storage.EncodeInt(int64(row) + 1))
	}
	return ret
}

func (rn RowNumberLogicExpr) Columns() []string { return nil }

// AsLogicExpr aliases a projected expression.
type AsLogicExpr struct {
	Expr  LogicExpr
	Alias string
}

func As(expr LogicExpr, alias string) AsLogicExpr { return AsLogicExpr{Expr: expr, Alias: alias} }

func (as AsLogicExpr) toField(input LogicPlan) storage.Field {
	f := as.Expr.toField(input)
	if as.Alias != "" {
		f.Name = as.Alias
	}
	return f
}

func (as AsLogicExpr) String() string {
	if as.Alias == "" {
		return as.Expr.String()
	}
	return fmt.Sprintf("%s as %s", as.Expr, as.Alias)
}

func (as AsLogicExpr) TypeCheck(input LogicPlan) error { return as.Expr.TypeCheck(input) }

// Evaluate renames on a shallow copy: identifier expressions hand back the
// input batch's own vector, which must stay untouched.
func (as AsLogicExpr) Evaluate(input *storage.RowBatch) *storage.ColumnVector {
	inner := as.Expr.Evaluate(input)
	if as.Alias == "" {
		return inner
	}
	f := inner.Field
	f.Name = as.Alias
	return &storage.ColumnVector{Field: f, Values: inner.Values, Nulls: inner.Nulls}
}

func (as AsLogicExpr) Columns() []string { return as.Expr.Columns() }
