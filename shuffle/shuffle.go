// Package shuffle moves materialized row batches between partitions. It is
// the only place rows cross partition boundaries: hash redistribution by
// key, replication to every partition, and gathering into one.
package shuffle

import (
	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/xiaobogaga/minidf/storage"
)

// ErrBroadcastSizeExceeded is returned when a side forced to broadcast is
// estimated larger than the configured threshold. Replicating it to every
// partition would multiply the regression, so planning fails instead.
var ErrBroadcastSizeExceeded = errors.New("broadcast side exceeds size threshold")

// PartitionOf maps a key cell to a partition. Null keys all land in
// partition 0 so equal keys, null included, always meet in one partition.
func PartitionOf(value []byte, isNull bool, count int) int {
	if isNull || count <= 1 {
		return 0
	}
	return int(xxhash.Sum64(value) % uint64(count))
}

// HashSplit redistributes one batch into count batches by hash of the key
// column. Every row with the same key value lands in the same output slot.
func HashSplit(batch *storage.RowBatch, key string, count int) ([]*storage.RowBatch, error) {
	keyCol := batch.GetColumnValue(key)
	if keyCol == nil {
		return nil, errors.Errorf("shuffle key %s not in batch schema", key)
	}
	ret := make([]*storage.RowBatch, count)
	for i := 0; i < count; i++ {
		ret[i] = storage.MakeEmptyRowBatch(batch.Schema())
	}
	for row := 0; row < batch.RowCount(); row++ {
		key := storage.HashKey(keyCol.RawValue(row), keyCol.Field.TP)
		p := PartitionOf(key, keyCol.IsNull(row), count)
		ret[p].AppendRow(batch, row)
	}
	return ret, nil
}

// Shuffle hash-redistributes per-partition batch lists into count output
// partitions keyed on key.
func Shuffle(inputs [][]*storage.RowBatch, key string, count int) ([][]*storage.RowBatch, error) {
	ret := make([][]*storage.RowBatch, count)
	for _, partition := range inputs {
		for _, batch := range partition {
			split, err := HashSplit(batch, key, count)
			if err != nil {
				return nil, err
			}
			for i, out := range split {
				if out.RowCount() == 0 {
					continue
				}
				ret[i] = append(ret[i], out)
			}
		}
	}
	return ret, nil
}

// RoundRobin deals batches evenly into count partitions without looking at
// any key.
func RoundRobin(inputs [][]*storage.RowBatch, count int) [][]*storage.RowBatch {
	ret := make([][]*storage.RowBatch, count)
	next := 0
	for _, partition := range inputs {
		for _, batch := range partition {
			ret[next%count] = append(ret[next%count], batch)
			next++
		}
	}
	return ret
}

// Broadcast replicates every input batch to all count partitions. Batches
// are shared, not copied; downstream operators treat input batches as read
// only.
func Broadcast(inputs [][]*storage.RowBatch, count int) [][]*storage.RowBatch {
	var all []*storage.RowBatch
	for _, partition := range inputs {
		all = append(all, partition...)
	}
	ret := make([][]*storage.RowBatch, count)
	for i := 0; i < count; i++ {
		ret[i] = all
	}
	return ret
}

// Gather concentrates every partition into partition 0 of a single-partition
// output, preserving partition order then batch order.
func Gather(inputs [][]*storage.RowBatch) [][]*storage.RowBatch {
	var all []*storage.RowBatch
	for _, partition := range inputs {
		all = append(all, partition...)
	}
	return [][]*storage.RowBatch{all}
}

// SizeBytes is the total encoded cell volume across partitions, the measure
// compared against the broadcast threshold.
func SizeBytes(inputs [][]*storage.RowBatch) int64 {
	var total int64
	for _, partition := range inputs {
		for _, batch := range partition {
			total += batch.SizeBytes()
		}
	}
	return total
}
