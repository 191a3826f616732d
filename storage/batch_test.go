package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testSchema() *TableSchema {
	return NewTableSchema(
		Field{Name: "id", TP: Int},
		Field{Name: "name", TP: Text},
		Field{Name: "score", TP: Float, Nullable: true},
	)
}

func testBatch() *RowBatch {
	batch := MakeEmptyRowBatch(testSchema())
	for i := 0; i < 4; i++ {
		batch.Records[0].Append(EncodeInt(int64(i)))
		batch.Records[1].Append(EncodeText("row"))
		if i == 2 {
			batch.Records[2].AppendNull()
			continue
		}
		batch.Records[2].Append(EncodeFloat(float64(i) + 0.5))
	}
	return batch
}

func TestRowBatchBasics(t *testing.T) {
	batch := testBatch()
	assert.Equal(t, 4, batch.RowCount())
	assert.Equal(t, 3, batch.ColumnCount())
	assert.True(t, batch.Schema().Equal(testSchema()))
	assert.Nil(t, batch.GetColumnValue("missing"))
	assert.True(t, batch.GetColumnValue("score").IsNull(2))
}

func TestRowBatchFilter(t *testing.T) {
	batch := testBatch()
	selected := &ColumnVector{Field: Field{Name: "sel", TP: Bool}}
	selected.Append(EncodeBool(true))
	selected.Append(EncodeBool(false))
	selected.AppendNull() // null selects nothing
	selected.Append(EncodeBool(true))
	ret := batch.Filter(selected)
	assert.Equal(t, 2, ret.RowCount())
	assert.Equal(t, int64(0), DecodeInt(ret.GetColumnValue("id").RawValue(0)))
	assert.Equal(t, int64(3), DecodeInt(ret.GetColumnValue("id").RawValue(1)))
}

func TestRowBatchSlice(t *testing.T) {
	batch := testBatch()
	first := batch.Slice(0, 3)
	assert.Equal(t, 3, first.RowCount())
	rest := batch.Slice(3, 3)
	assert.Equal(t, 1, rest.RowCount())
	assert.Nil(t, batch.Slice(4, 3))
}

func TestRowBatchAppendRow(t *testing.T) {
	batch := testBatch()
	ret := MakeEmptyRowBatch(testSchema())
	ret.AppendRow(batch, 2)
	assert.Equal(t, 1, ret.RowCount())
	assert.True(t, ret.GetColumnValue("score").IsNull(0))
	assert.Equal(t, int64(2), DecodeInt(ret.GetColumnValue("id").RawValue(0)))
}

func TestRowBatchSizeBytes(t *testing.T) {
	batch := testBatch()
	assert.Greater(t, batch.SizeBytes(), int64(0))
	empty := MakeEmptyRowBatch(testSchema())
	assert.Equal(t, int64(0), empty.SizeBytes())
}
