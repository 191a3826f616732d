package storage

// ColumnVector holds the encoded cells of one column inside a RowBatch.
// A true entry in Nulls marks the cell at that row as null.
type ColumnVector struct {
	Field  Field
	Values [][]byte
	Nulls  []bool
}

func (vector *ColumnVector) RowCount() int {
	return len(vector.Values)
}

func (vector *ColumnVector) Append(value []byte) {
	vector.Values = append(vector.Values, value)
	vector.Nulls = append(vector.Nulls, false)
}

func (vector *ColumnVector) AppendNull() {
	vector.Values = append(vector.Values, nil)
	vector.Nulls = append(vector.Nulls, true)
}

func (vector *ColumnVector) IsNull(row int) bool {
	return vector.Nulls[row]
}

func (vector *ColumnVector) RawValue(row int) []byte {
	return vector.Values[row]
}

// Bool reads an encoded bool cell. Null counts as false, which is the
// null-fails-predicate rule.
func (vector *ColumnVector) Bool(row int) bool {
	if vector.Nulls[row] {
		return false
	}
	return DecodeBool(vector.Values[row])
}

func (vector *ColumnVector) Appends(other *ColumnVector) {
	vector.Values = append(vector.Values, other.Values...)
	vector.Nulls = append(vector.Nulls, other.Nulls...)
}

// RowBatch is the unit of data between operators and across the shuffle
// boundary: a fixed batch of rows stored column wise. Operators never mutate
// a batch they consumed, they build new ones.
type RowBatch struct {
	Fields  []Field
	Records []*ColumnVector
}

// MakeEmptyRowBatch builds an empty batch laid out by schema.
func MakeEmptyRowBatch(schema *TableSchema) *RowBatch {
	ret := &RowBatch{
		Fields:  append([]Field{}, schema.Columns...),
		Records: make([]*ColumnVector, len(schema.Columns)),
	}
	for i, f := range ret.Fields {
		ret.Records[i] = &ColumnVector{Field: f}
	}
	return ret
}

func (batch *RowBatch) Schema() *TableSchema {
	return &TableSchema{Columns: batch.Fields}
}

func (batch *RowBatch) RowCount() int {
	if len(batch.Records) == 0 {
		return 0
	}
	return batch.Records[0].RowCount()
}

func (batch *RowBatch) ColumnCount() int {
	return len(batch.Records)
}

func (batch *RowBatch) GetColumnValue(name string) *ColumnVector {
	for _, record := range batch.Records {
		if record.Field.Name == name {
			return record
		}
	}
	return nil
}

func (batch *RowBatch) SetColumnValue(i int, vector *ColumnVector) {
	batch.Records[i] = vector
}

// Filter keeps the rows whose cell in selected is true and returns them as a
// new batch. selected must be a bool vector of the same row count.
func (batch *RowBatch) Filter(selected *ColumnVector) *RowBatch {
	ret := MakeEmptyRowBatch(batch.Schema())
	for row := 0; row < batch.RowCount(); row++ {
		if !selected.Bool(row) {
			continue
		}
		ret.AppendRow(batch, row)
	}
	return ret
}

// AppendRow copies row i of other onto batch. Layouts must match.
func (batch *RowBatch) AppendRow(other *RowBatch, row int) {
	for i, record := range batch.Records {
		src := other.Records[i]
		if src.IsNull(row) {
			record.AppendNull()
			continue
		}
		record.Append(src.RawValue(row))
	}
}

func (batch *RowBatch) Append(other *RowBatch) {
	for i, record := range batch.Records {
		record.Appends(other.Records[i])
	}
}

// Slice returns up to count rows starting at from, nil once exhausted.
func (batch *RowBatch) Slice(from, count int) *RowBatch {
	if from >= batch.RowCount() {
		return nil
	}
	ret := MakeEmptyRowBatch(batch.Schema())
	for row := from; row < batch.RowCount() && row < from+count; row++ {
		ret.AppendRow(batch, row)
	}
	return ret
}

// SizeBytes is the encoded payload size, used for shuffle accounting and the
// broadcast guard.
func (batch *RowBatch) SizeBytes() int64 {
	var ret int64
	for _, record := range batch.Records {
		for _, value := range record.Values {
			ret += int64(len(value))
		}
	}
	return ret
}
