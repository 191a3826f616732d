package executor

import (
	"context"

	"github.com/pkg/errors"

	"github.com/xiaobogaga/minidf/plan"
	"github.com/xiaobogaga/minidf/storage"
)

// MemorySource serves batches held in memory. Estimates default to the
// actual data and can be overridden to steer the join strategy, or set
// negative to mark them unknown.
type MemorySource struct {
	schema   *storage.TableSchema
	batches  []*storage.RowBatch
	estRows  int64
	estBytes int64
}

func NewMemorySource(schema *storage.TableSchema, batches []*storage.RowBatch) *MemorySource {
	ret := &MemorySource{schema: schema, batches: batches}
	for _, batch := range batches {
		ret.estRows += int64(batch.RowCount())
		ret.estBytes += batch.SizeBytes()
	}
	return ret
}

// NewMemorySourceFromRows builds a single-batch source out of literal rows.
// A nil cell is null.
func NewMemorySourceFromRows(schema *storage.TableSchema, rows [][]interface{}) (*MemorySource, error) {
	batch := storage.MakeEmptyRowBatch(schema)
	for _, row := range rows {
		if len(row) != len(schema.Columns) {
			return nil, errors.Errorf("row has %d cells, schema has %d columns",
				len(row), len(schema.Columns))
		}
		for i, cell := range row {
			if cell == nil {
				batch.Records[i].AppendNull()
				continue
			}
			encoded, err := encodeCell(cell, schema.Columns[i].TP)
			if err != nil {
				return nil, err
			}
			batch.Records[i].Append(encoded)
		}
	}
	return NewMemorySource(schema, []*storage.RowBatch{batch}), nil
}

func encodeCell(v interface{}, tp storage.FieldTP) ([]byte, error) {
	switch tp {
	case storage.Int:
		switch n := v.(type) {
		case int:
			return storage.EncodeInt(int64(n)), nil
		case int64:
			return storage.EncodeInt(n), nil
		}
	case storage.Float:
		if f, ok := v.(float64); ok {
			return storage.EncodeFloat(f), nil
		}
		if n, ok := v.(int); ok {
			return storage.EncodeFloat(float64(n)), nil
		}
	case storage.Bool:
		if b, ok := v.(bool); ok {
			return storage.EncodeBool(b), nil
		}
	case storage.Text:
		if s, ok := v.(string); ok {
			return storage.EncodeText(s), nil
		}
	}
	return nil, errors.Errorf("cannot encode %v as %s", v, tp)
}

func (s *MemorySource) Schema() *storage.TableSchema { return s.schema }

func (s *MemorySource) SetEstimates(rows, bytes int64) {
	s.estRows = rows
	s.estBytes = bytes
}

func (s *MemorySource) EstimatedRows() int64 { return s.estRows }

func (s *MemorySource) EstimatedSizeBytes() int64 { return s.estBytes }

func (s *MemorySource) Scan(ctx context.Context) plan.RowIterator {
	return &memoryIterator{ctx: ctx, batches: s.batches}
}

type memoryIterator struct {
	ctx     context.Context
	batches []*storage.RowBatch
	cursor  int
}

func (it *memoryIterator) Next() (*storage.RowBatch, error) {
	if err := it.ctx.Err(); err != nil {
		return nil, err
	}
	if it.cursor >= len(it.batches) {
		return nil, nil
	}
	ret := it.batches[it.cursor]
	it.cursor++
	return ret, nil
}

// Sink receives materialized output. WriteBatch may be called any number of
// times before Close.
type Sink interface {
	WriteBatch(batch *storage.RowBatch) error
	Close() error
}

// MemorySink accumulates everything written to it.
type MemorySink struct {
	Batches []*storage.RowBatch
	closed  bool
}

func (sink *MemorySink) WriteBatch(batch *storage.RowBatch) error {
	if sink.closed {
		return errors.New("write to closed sink")
	}
	sink.Batches = append(sink.Batches, batch)
	return nil
}

func (sink *MemorySink) Close() error {
	sink.closed = true
	return nil
}

func (sink *MemorySink) RowCount() int64 {
	var ret int64
	for _, batch := range sink.Batches {
		ret += int64(batch.RowCount())
	}
	return ret
}
