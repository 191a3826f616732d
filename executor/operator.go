package executor

import (
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"github.com/xiaobogaga/minidf/plan"
	"github.com/xiaobogaga/minidf/storage"
)

// Operator is one node of a running partition pipeline. Next returns the
// next batch or nil when exhausted; blocking operators (join build, sort,
// aggregate) drain their input on the first call.
type Operator interface {
	Schema() *storage.TableSchema
	Next() (*storage.RowBatch, error)
	Reset()
}

// inputOperator serves materialized batches, the stage-side face of a scan
// or an exchange.
type inputOperator struct {
	schema  *storage.TableSchema
	batches []*storage.RowBatch
	cursor  int
}

func (input *inputOperator) Schema() *storage.TableSchema { return input.schema }

func (input *inputOperator) Next() (*storage.RowBatch, error) {
	if input.cursor >= len(input.batches) {
		return nil, nil
	}
	ret := input.batches[input.cursor]
	input.cursor++
	return ret, nil
}

func (input *inputOperator) Reset() { input.cursor = 0 }

type selectionOperator struct {
	input Operator
	expr  plan.LogicExpr
}

func (sel *selectionOperator) Schema() *storage.TableSchema { return sel.input.Schema() }

func (sel *selectionOperator) Next() (*storage.RowBatch, error) {
	for {
		batch, err := sel.input.Next()
		if err != nil || batch == nil {
			return nil, err
		}
		selected := sel.expr.Evaluate(batch)
		ret := batch.Filter(selected)
		if ret.RowCount() == 0 {
			continue
		}
		return ret, nil
	}
}

func (sel *selectionOperator) Reset() { sel.input.Reset() }

type projectionOperator struct {
	input     Operator
	exprs     []plan.AsLogicExpr
	outSchema *storage.TableSchema
	// rowsSeen offsets row_number across batches so numbering is
	// continuous over the whole partition stream.
	rowsSeen int64
}

func (proj *projectionOperator) Schema() *storage.TableSchema { return proj.outSchema }

func (proj *projectionOperator) Next() (*storage.RowBatch, error) {
	batch, err := proj.input.Next()
	if err != nil || batch == nil {
		return nil, err
	}
	ret := storage.MakeEmptyRowBatch(proj.outSchema)
	for i, expr := range proj.exprs {
		vector := expr.Evaluate(batch)
		if isRowNumber(expr) && proj.rowsSeen > 0 {
			// row_number vectors are freshly built per batch, offsetting in
			// place is safe.
			for row := 0; row < vector.RowCount(); row++ {
				vector.Values[row] = storage.EncodeInt(storage.DecodeInt(vector.Values[row]) + proj.rowsSeen)
			}
		}
		// Shallow copy before renaming: identifier exprs hand back the
		// input batch's own vector.
		ret.SetColumnValue(i, &storage.ColumnVector{
			Field:  proj.outSchema.Columns[i],
			Values: vector.Values,
			Nulls:  vector.Nulls,
		})
	}
	proj.rowsSeen += int64(batch.RowCount())
	return ret, nil
}

func (proj *projectionOperator) Reset() {
	proj.rowsSeen = 0
	proj.input.Reset()
}

func isRowNumber(expr plan.AsLogicExpr) bool {
	_, ok := expr.Expr.(plan.RowNumberLogicExpr)
	return ok
}

type limitOperator struct {
	input     Operator
	count     int
	remaining int
}

func (limit *limitOperator) Schema() *storage.TableSchema { return limit.input.Schema() }

func (limit *limitOperator) Next() (*storage.RowBatch, error) {
	if limit.remaining <= 0 {
		return nil, nil
	}
	batch, err := limit.input.Next()
	if err != nil || batch == nil {
		return nil, err
	}
	if batch.RowCount() > limit.remaining {
		batch = batch.Slice(0, limit.remaining)
	}
	limit.remaining -= batch.RowCount()
	return batch, nil
}

func (limit *limitOperator) Reset() {
	limit.remaining = limit.count
	limit.input.Reset()
}

// sortOperator materializes its partition, orders it, and emits once. With a
// bound it keeps only the first limit rows of the ordering.
type sortOperator struct {
	input Operator
	keys  []string
	asc   []bool
	limit int
	done  bool
}

func (s *sortOperator) Schema() *storage.TableSchema { return s.input.Schema() }

func (s *sortOperator) Next() (*storage.RowBatch, error) {
	if s.done {
		return nil, nil
	}
	s.done = true
	acc := storage.MakeEmptyRowBatch(s.input.Schema())
	for {
		batch, err := s.input.Next()
		if err != nil {
			return nil, err
		}
		if batch == nil {
			break
		}
		acc.Append(batch)
	}
	keyCols := make([]*storage.ColumnVector, len(s.keys))
	for i, key := range s.keys {
		keyCols[i] = acc.GetColumnValue(key)
		if keyCols[i] == nil {
			return nil, errors.Errorf("sort key %s not in batch schema", key)
		}
	}
	index := make([]int, acc.RowCount())
	for i := range index {
		index[i] = i
	}
	sort.SliceStable(index, func(a, b int) bool {
		for i, col := range keyCols {
			c := compareCell(col, index[a], index[b])
			if c == 0 {
				continue
			}
			if s.asc[i] {
				return c < 0
			}
			return c > 0
		}
		return false
	})
	bound := len(index)
	if s.limit > 0 && s.limit < bound {
		bound = s.limit
	}
	ret := storage.MakeEmptyRowBatch(acc.Schema())
	for i := 0; i < bound; i++ {
		ret.AppendRow(acc, index[i])
	}
	if ret.RowCount() == 0 {
		return nil, nil
	}
	return ret, nil
}

func (s *sortOperator) Reset() {
	s.done = false
	s.input.Reset()
}

// compareCell orders nulls before every value, then by cell comparison.
func compareCell(col *storage.ColumnVector, a, b int) int {
	aNull, bNull := col.IsNull(a), col.IsNull(b)
	switch {
	case aNull && bNull:
		return 0
	case aNull:
		return -1
	case bNull:
		return 1
	}
	return storage.Compare(col.RawValue(a), col.Field.TP, col.RawValue(b), col.Field.TP)
}

type buildRef struct {
	batch int
	row   int
}

// hashJoinOperator builds a hash table over the build side, then streams the
// probe side against it. Null keys never match. Output rows carry the left
// columns then the right columns, whichever side they were built from.
type hashJoinOperator struct {
	build     Operator
	probe     Operator
	buildKey  string
	probeKey  string
	buildLeft bool
	outSchema *storage.TableSchema

	built        bool
	table        map[string][]buildRef
	buildBatches []*storage.RowBatch
}

func (join *hashJoinOperator) Schema() *storage.TableSchema { return join.outSchema }

func (join *hashJoinOperator) buildTable() error {
	join.table = map[string][]buildRef{}
	for {
		batch, err := join.build.Next()
		if err != nil {
			return err
		}
		if batch == nil {
			break
		}
		keyCol := batch.GetColumnValue(join.buildKey)
		if keyCol == nil {
			return errors.Errorf("join key %s not in build schema", join.buildKey)
		}
		idx := len(join.buildBatches)
		join.buildBatches = append(join.buildBatches, batch)
		for row := 0; row < batch.RowCount(); row++ {
			if keyCol.IsNull(row) {
				continue
			}
			key := string(storage.HashKey(keyCol.RawValue(row), keyCol.Field.TP))
			join.table[key] = append(join.table[key], buildRef{batch: idx, row: row})
		}
	}
	join.built = true
	return nil
}

func (join *hashJoinOperator) Next() (*storage.RowBatch, error) {
	if !join.built {
		if err := join.buildTable(); err != nil {
			return nil, err
		}
	}
	for {
		batch, err := join.probe.Next()
		if err != nil || batch == nil {
			return nil, err
		}
		keyCol := batch.GetColumnValue(join.probeKey)
		if keyCol == nil {
			return nil, errors.Errorf("join key %s not in probe schema", join.probeKey)
		}
		ret := storage.MakeEmptyRowBatch(join.outSchema)
		for row := 0; row < batch.RowCount(); row++ {
			if keyCol.IsNull(row) {
				continue
			}
			key := string(storage.HashKey(keyCol.RawValue(row), keyCol.Field.TP))
			for _, ref := range join.table[key] {
				buildBatch := join.buildBatches[ref.batch]
				if join.buildLeft {
					join.appendJoined(ret, buildBatch, ref.row, batch, row)
				} else {
					join.appendJoined(ret, batch, row, buildBatch, ref.row)
				}
			}
		}
		if ret.RowCount() == 0 {
			continue
		}
		return ret, nil
	}
}

// appendJoined fills one output row positionally, left columns then right
// columns. The output schema may qualify shadowed right column names, so
// positions are the contract here, not names. The duplicate right join key
// was already dropped from the output schema.
func (join *hashJoinOperator) appendJoined(ret *storage.RowBatch,
	left *storage.RowBatch, leftRow int, right *storage.RowBatch, rightRow int) {
	dropKey := ""
	if join.buildKey == join.probeKey {
		dropKey = join.buildKey
	}
	col := 0
	for _, src := range left.Records {
		appendJoinCell(ret.Records[col], src, leftRow)
		col++
	}
	for _, src := range right.Records {
		if dropKey != "" && src.Field.Name == dropKey {
			continue
		}
		appendJoinCell(ret.Records[col], src, rightRow)
		col++
	}
}

func appendJoinCell(dst, src *storage.ColumnVector, row int) {
	if src.IsNull(row) {
		dst.AppendNull()
		return
	}
	dst.Append(src.RawValue(row))
}

func (join *hashJoinOperator) Reset() {
	join.built = false
	join.table = nil
	join.buildBatches = nil
	join.build.Reset()
	join.probe.Reset()
}

// aggrState is the running fold of one aggregate inside one group. val holds
// max/min/sum, sumF and count hold avg and count; seen marks that at least
// one non-null cell arrived.
type aggrState struct {
	val   []byte
	tp    storage.FieldTP
	sumF  float64
	count int64
	seen  bool
}

type aggrGroup struct {
	keyValues [][]byte
	keyNulls  []bool
	states    []aggrState
}

// aggrOperator evaluates grouped aggregates. In partial mode it folds raw
// rows and emits per-group states; in final mode it merges states produced
// by partials; complete mode folds raw rows straight to results when no
// merge step is needed.
type aggrOperator struct {
	input     Operator
	groupBy   []string
	aggrs     []plan.AggrExpr
	mode      plan.AggrMode
	outSchema *storage.TableSchema

	done   bool
	groups map[string]*aggrGroup
	order  []string
}

func (aggr *aggrOperator) Schema() *storage.TableSchema { return aggr.outSchema }

func (aggr *aggrOperator) Next() (*storage.RowBatch, error) {
	if aggr.done {
		return nil, nil
	}
	aggr.done = true
	aggr.groups = map[string]*aggrGroup{}
	aggr.order = nil
	if len(aggr.groupBy) == 0 {
		// A global aggregate yields one row even over zero input rows.
		aggr.group("", nil, nil)
	}
	for {
		batch, err := aggr.input.Next()
		if err != nil {
			return nil, err
		}
		if batch == nil {
			break
		}
		if aggr.mode == plan.FinalAggr {
			if err := aggr.mergeBatch(batch); err != nil {
				return nil, err
			}
			continue
		}
		if err := aggr.foldBatch(batch); err != nil {
			return nil, err
		}
	}
	return aggr.emit(), nil
}

func (aggr *aggrOperator) Reset() {
	aggr.done = false
	aggr.groups = nil
	aggr.order = nil
	aggr.input.Reset()
}

func (aggr *aggrOperator) group(key string, keyValues [][]byte, keyNulls []bool) *aggrGroup {
	g, ok := aggr.groups[key]
	if ok {
		return g
	}
	g = &aggrGroup{
		keyValues: keyValues,
		keyNulls:  keyNulls,
		states:    make([]aggrState, len(aggr.aggrs)),
	}
	aggr.groups[key] = g
	aggr.order = append(aggr.order, key)
	return g
}

func groupKey(keyCols []*storage.ColumnVector, row int) (string, [][]byte, []bool) {
	key := ""
	values := make([][]byte, len(keyCols))
	nulls := make([]bool, len(keyCols))
	for i, col := range keyCols {
		if col.IsNull(row) {
			nulls[i] = true
			key += "n;"
			continue
		}
		values[i] = col.RawValue(row)
		cell := storage.HashKey(values[i], col.Field.TP)
		key += strconv.Itoa(len(cell)) + ":" + string(cell) + ";"
	}
	return key, values, nulls
}

// foldBatch accumulates raw input rows, used by partial and complete modes.
func (aggr *aggrOperator) foldBatch(batch *storage.RowBatch) error {
	keyCols := make([]*storage.ColumnVector, len(aggr.groupBy))
	for i, name := range aggr.groupBy {
		keyCols[i] = batch.GetColumnValue(name)
		if keyCols[i] == nil {
			return errors.Errorf("group key %s not in batch schema", name)
		}
	}
	aggrCols := make([]*storage.ColumnVector, len(aggr.aggrs))
	for i, a := range aggr.aggrs {
		if a.Column == "" {
			continue
		}
		aggrCols[i] = batch.GetColumnValue(a.Column)
		if aggrCols[i] == nil {
			return errors.Errorf("aggregate column %s not in batch schema", a.Column)
		}
	}
	for row := 0; row < batch.RowCount(); row++ {
		key, values, nulls := groupKey(keyCols, row)
		g := aggr.group(key, values, nulls)
		for i, a := range aggr.aggrs {
			state := &g.states[i]
			if a.Fn == plan.AggrCount && a.Column == "" {
				state.count++
				continue
			}
			col := aggrCols[i]
			if col.IsNull(row) {
				continue
			}
			value := col.RawValue(row)
			tp := col.Field.TP
			switch a.Fn {
			case plan.AggrCount:
				state.count++
			case plan.AggrAvg:
				state.sumF += toFloat(value, tp)
				state.count++
			case plan.AggrSum:
				aggr.foldValue(state, value, tp, storage.Add)
			case plan.AggrMax:
				aggr.foldValue(state, value, tp, storage.Max)
			case plan.AggrMin:
				aggr.foldValue(state, value, tp, storage.Min)
			}
		}
	}
	return nil
}

type foldFn func(val1 []byte, tp1 storage.FieldTP, val2 []byte, tp2 storage.FieldTP) []byte

func (aggr *aggrOperator) foldValue(state *aggrState, value []byte, tp storage.FieldTP, fold foldFn) {
	if !state.seen {
		state.val = value
		state.tp = tp
		state.seen = true
		return
	}
	state.val = fold(state.val, state.tp, value, tp)
	if state.tp != tp {
		// Mixed int and float widen to float when summed.
		state.tp = storage.Float
	}
}

// mergeBatch folds partial states: counts add, sums add, max of maxes, and
// avg merges its carried sum and count columns.
func (aggr *aggrOperator) mergeBatch(batch *storage.RowBatch) error {
	keyCols := make([]*storage.ColumnVector, len(aggr.groupBy))
	for i, name := range aggr.groupBy {
		keyCols[i] = batch.GetColumnValue(name)
		if keyCols[i] == nil {
			return errors.Errorf("group key %s not in partial schema", name)
		}
	}
	for row := 0; row < batch.RowCount(); row++ {
		key, values, nulls := groupKey(keyCols, row)
		g := aggr.group(key, values, nulls)
		for i, a := range aggr.aggrs {
			state := &g.states[i]
			switch a.Fn {
			case plan.AggrAvg:
				sumCol := batch.GetColumnValue(a.Alias + "__sum")
				countCol := batch.GetColumnValue(a.Alias + "__count")
				if sumCol == nil || countCol == nil {
					return errors.Errorf("avg state for %s not in partial schema", a.Alias)
				}
				if !sumCol.IsNull(row) {
					state.sumF += storage.DecodeFloat(sumCol.RawValue(row))
				}
				state.count += storage.DecodeInt(countCol.RawValue(row))
			case plan.AggrCount:
				col := batch.GetColumnValue(a.Alias)
				if col == nil {
					return errors.Errorf("count state for %s not in partial schema", a.Alias)
				}
				state.count += storage.DecodeInt(col.RawValue(row))
			case plan.AggrSum, plan.AggrMax, plan.AggrMin:
				col := batch.GetColumnValue(a.Alias)
				if col == nil {
					return errors.Errorf("state for %s not in partial schema", a.Alias)
				}
				if col.IsNull(row) {
					continue
				}
				fold := storage.Add
				if a.Fn == plan.AggrMax {
					fold = storage.Max
				} else if a.Fn == plan.AggrMin {
					fold = storage.Min
				}
				aggr.foldValue(state, col.RawValue(row), col.Field.TP, fold)
			}
		}
	}
	return nil
}

// emit renders the groups in first-seen order against the output schema.
func (aggr *aggrOperator) emit() *storage.RowBatch {
	ret := storage.MakeEmptyRowBatch(aggr.outSchema)
	for _, key := range aggr.order {
		g := aggr.groups[key]
		col := 0
		for i := range aggr.groupBy {
			if g.keyNulls[i] {
				ret.Records[col].AppendNull()
			} else {
				ret.Records[col].Append(g.keyValues[i])
			}
			col++
		}
		for i, a := range aggr.aggrs {
			state := g.states[i]
			if aggr.mode == plan.PartialAggr && a.Fn == plan.AggrAvg {
				if state.count == 0 {
					ret.Records[col].AppendNull()
				} else {
					ret.Records[col].Append(storage.EncodeFloat(state.sumF))
				}
				col++
				ret.Records[col].Append(storage.EncodeInt(state.count))
				col++
				continue
			}
			switch a.Fn {
			case plan.AggrCount:
				ret.Records[col].Append(storage.EncodeInt(state.count))
			case plan.AggrAvg:
				if state.count == 0 {
					ret.Records[col].AppendNull()
				} else {
					ret.Records[col].Append(storage.EncodeFloat(state.sumF / float64(state.count)))
				}
			default:
				if !state.seen {
					ret.Records[col].AppendNull()
				} else {
					ret.Records[col].Append(normalizeTo(state.val, state.tp, aggr.outSchema.Columns[col].TP))
				}
			}
			col++
		}
	}
	if ret.RowCount() == 0 {
		return nil
	}
	return ret
}

// normalizeTo widens an int fold result when the declared output is float.
func normalizeTo(value []byte, tp, want storage.FieldTP) []byte {
	if tp == storage.Int && want == storage.Float {
		return storage.EncodeFloat(float64(storage.DecodeInt(value)))
	}
	return value
}

func toFloat(value []byte, tp storage.FieldTP) float64 {
	if tp == storage.Int {
		return float64(storage.DecodeInt(value))
	}
	return storage.DecodeFloat(value)
}

// buildOperator assembles the partition pipeline for one stage. Exchanges
// and scans were materialized by the stage driver; leaves maps them to their
// per-partition batches.
func buildOperator(p plan.PhysicalPlan, partition int,
	leaves map[plan.PhysicalPlan][][]*storage.RowBatch) (Operator, error) {
	if data, ok := leaves[p]; ok {
		part := partition
		if part >= len(data) {
			part = len(data) - 1
		}
		return &inputOperator{schema: p.Schema(), batches: data[part]}, nil
	}
	switch v := p.(type) {
	case *plan.PhysicalSelection:
		input, err := buildOperator(v.Input, partition, leaves)
		if err != nil {
			return nil, err
		}
		return &selectionOperator{input: input, expr: v.Expr}, nil
	case *plan.PhysicalProjection:
		input, err := buildOperator(v.Input, partition, leaves)
		if err != nil {
			return nil, err
		}
		return &projectionOperator{input: input, exprs: v.Exprs, outSchema: v.OutSchema}, nil
	case *plan.PhysicalLimit:
		input, err := buildOperator(v.Input, partition, leaves)
		if err != nil {
			return nil, err
		}
		return &limitOperator{input: input, count: v.Count, remaining: v.Count}, nil
	case *plan.PhysicalSort:
		input, err := buildOperator(v.Input, partition, leaves)
		if err != nil {
			return nil, err
		}
		return &sortOperator{input: input, keys: v.Keys, asc: v.Asc, limit: v.Limit}, nil
	case *plan.PhysicalAggr:
		input, err := buildOperator(v.Input, partition, leaves)
		if err != nil {
			return nil, err
		}
		return &aggrOperator{input: input, groupBy: v.GroupBy, aggrs: v.Aggrs,
			mode: v.Mode, outSchema: v.OutSchema}, nil
	case *plan.PhysicalHashJoin:
		build, err := buildOperator(v.Build, partition, leaves)
		if err != nil {
			return nil, err
		}
		probe, err := buildOperator(v.Probe, partition, leaves)
		if err != nil {
			return nil, err
		}
		return &hashJoinOperator{build: build, probe: probe, buildKey: v.BuildKey,
			probeKey: v.ProbeKey, buildLeft: v.BuildLeft, outSchema: v.OutSchema}, nil
	}
	return nil, errors.Errorf("cannot build operator for %s", p.String())
}
