package storage

import (
	"fmt"
)

type FieldTP string

const (
	Int   FieldTP = "int"
	Float FieldTP = "float"
	Bool  FieldTP = "bool"
	Text  FieldTP = "text"
)

// Field is one typed column definition. A nullable field can hold null cells,
// which is how failed try-casts are represented.
type Field struct {
	Name     string  `json:"name"`
	TP       FieldTP `json:"tp"`
	Nullable bool    `json:"nullable"`
}

func (f Field) IsNumeric() bool {
	return f.TP == Int || f.TP == Float
}

// Comparable returns whether two fields can appear on the two sides of a
// comparison or a join key pair.
func (f Field) Comparable(other Field) bool {
	if f.TP == other.TP {
		return true
	}
	return f.IsNumeric() && other.IsNumeric()
}

func (f Field) String() string {
	if f.Nullable {
		return fmt.Sprintf("%s %s null", f.Name, f.TP)
	}
	return fmt.Sprintf("%s %s", f.Name, f.TP)
}

// TableSchema is an ordered sequence of column definitions. A RowBatch layout
// must exactly match its schema.
type TableSchema struct {
	Columns []Field `json:"columns"`
}

func NewTableSchema(columns ...Field) *TableSchema {
	return &TableSchema{Columns: columns}
}

func (schema *TableSchema) AppendColumn(f Field) {
	schema.Columns = append(schema.Columns, f)
}

func (schema *TableSchema) HasColumn(name string) bool {
	return schema.ColumnIndex(name) >= 0
}

func (schema *TableSchema) ColumnIndex(name string) int {
	for i, col := range schema.Columns {
		if col.Name == name {
			return i
		}
	}
	return -1
}

func (schema *TableSchema) GetField(name string) Field {
	i := schema.ColumnIndex(name)
	if i < 0 {
		return Field{}
	}
	return schema.Columns[i]
}

func (schema *TableSchema) ColumnNames() (ret []string) {
	for _, col := range schema.Columns {
		ret = append(ret, col.Name)
	}
	return
}

// Merge builds the joined schema of two inputs. Column names must be disjoint.
func (schema *TableSchema) Merge(right *TableSchema) (*TableSchema, error) {
	ret := &TableSchema{}
	ret.Columns = append(ret.Columns, schema.Columns...)
	for _, col := range right.Columns {
		if schema.HasColumn(col.Name) {
			return nil, fmt.Errorf("ambiguous column %s on merge", col.Name)
		}
		ret.Columns = append(ret.Columns, col)
	}
	return ret, nil
}

func (schema *TableSchema) Equal(other *TableSchema) bool {
	if len(schema.Columns) != len(other.Columns) {
		return false
	}
	for i, col := range schema.Columns {
		if col != other.Columns[i] {
			return false
		}
	}
	return true
}

// Project returns the sub schema holding the named columns in the given order.
func (schema *TableSchema) Project(names []string) *TableSchema {
	ret := &TableSchema{}
	for _, name := range names {
		ret.AppendColumn(schema.GetField(name))
	}
	return ret
}
