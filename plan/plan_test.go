package plan

import (
	"context"

	"github.com/xiaobogaga/minidf/config"
	"github.com/xiaobogaga/minidf/storage"
)

// testSource is a schema-and-estimates-only source; plan construction,
// optimization and lowering never pull a row from it.
type testSource struct {
	schema *storage.TableSchema
	rows   int64
	bytes  int64
}

func (s *testSource) Schema() *storage.TableSchema { return s.schema }

func (s *testSource) Scan(ctx context.Context) RowIterator { return emptyIterator{} }

func (s *testSource) EstimatedRows() int64 { return s.rows }

func (s *testSource) EstimatedSizeBytes() int64 { return s.bytes }

type emptyIterator struct{}

func (emptyIterator) Next() (*storage.RowBatch, error) { return nil, nil }

func casesSchema() *storage.TableSchema {
	return storage.NewTableSchema(
		storage.Field{Name: "country", TP: storage.Text},
		storage.Field{Name: "date", TP: storage.Text},
		storage.Field{Name: "confirmed", TP: storage.Int},
		storage.Field{Name: "deaths", TP: storage.Int},
	)
}

func regionsSchema() *storage.TableSchema {
	return storage.NewTableSchema(
		storage.Field{Name: "country", TP: storage.Text},
		storage.Field{Name: "population", TP: storage.Int},
	)
}

// casesSet is a large source, well over the broadcast threshold.
func casesSet() *DataSet {
	src := &testSource{schema: casesSchema(), rows: 2_000_000, bytes: 64 * 1024 * 1024}
	ds, err := FromSource("cases", src, config.Default())
	if err != nil {
		panic(err)
	}
	return ds
}

// regionsSet is a small source, comfortably broadcastable.
func regionsSet() *DataSet {
	src := &testSource{schema: regionsSchema(), rows: 200, bytes: 8 * 1024}
	ds, err := FromSource("regions", src, config.Default())
	if err != nil {
		panic(err)
	}
	return ds
}
