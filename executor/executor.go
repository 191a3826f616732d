// Package executor runs physical plans: it materializes row batches at every
// exchange, redistributes them through the shuffle engine, and pulls the
// stage between two exchanges batch by batch on a bounded worker pool.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"

	"github.com/xiaobogaga/minidf/config"
	"github.com/xiaobogaga/minidf/metrics"
	"github.com/xiaobogaga/minidf/plan"
	"github.com/xiaobogaga/minidf/shuffle"
	"github.com/xiaobogaga/minidf/storage"
	"github.com/xiaobogaga/minidf/util"
)

var execLog = util.GetLog("executor")

type Executor struct {
	conf *config.Config
	pool *ants.Pool
}

func New(conf *config.Config) (*Executor, error) {
	if conf == nil {
		conf = config.Default()
	}
	pool, err := ants.NewPool(conf.Workers, ants.WithPanicHandler(func(v interface{}) {
		execLog.ErrorF("partition task panic: %v", v)
	}))
	if err != nil {
		return nil, err
	}
	return &Executor{conf: conf, pool: pool}, nil
}

func (exec *Executor) Close() {
	exec.pool.Release()
}

// Materialize optimizes, lowers and runs the data set's plan. It is the only
// trigger of execution; everything before it was pure plan building.
func Materialize(ctx context.Context, ds *plan.DataSet) (*Result, error) {
	optimized, err := plan.Optimize(ds.Plan(), ds.Conf())
	if err != nil {
		return nil, err
	}
	phys, err := plan.NewPlanner(ds.Conf()).Plan(optimized)
	if err != nil {
		return nil, err
	}
	exec, err := New(ds.Conf())
	if err != nil {
		return nil, err
	}
	defer exec.Close()
	return exec.Run(ctx, phys)
}

// Run executes a lowered plan and gathers every output partition into one
// result.
func (exec *Executor) Run(ctx context.Context, phys plan.PhysicalPlan) (*Result, error) {
	stats := metrics.NewRunStats()
	stats.Plan = plan.Explain(phys)
	partitions, err := exec.runPlan(ctx, phys, stats)
	stats.Finish(err)
	if err != nil {
		return nil, err
	}
	var batches []*storage.RowBatch
	var rows int64
	for _, partition := range partitions {
		for _, batch := range partition {
			batches = append(batches, batch)
			rows += int64(batch.RowCount())
		}
	}
	stats.AddRowsOut(rows)
	execLog.InfoF("run finished: %d rows, %d shuffles, %s",
		rows, stats.Shuffles, stats.Elapsed().Round(time.Millisecond))
	return &Result{schema: phys.Schema(), batches: batches, stats: stats}, nil
}

// runPlan materializes the subtree rooted at p into per-partition batch
// lists. Exchanges drain their input fully before redistributing: they are
// the synchronization barriers between stages.
func (exec *Executor) runPlan(ctx context.Context, p plan.PhysicalPlan,
	stats *metrics.RunStats) ([][]*storage.RowBatch, error) {
	if ex, ok := p.(*plan.PhysicalExchange); ok {
		return exec.runExchange(ctx, ex, stats)
	}
	if scan, ok := p.(*plan.PhysicalScan); ok {
		return exec.runScan(ctx, scan)
	}
	return exec.runStage(ctx, p, stats)
}

func (exec *Executor) runExchange(ctx context.Context, ex *plan.PhysicalExchange,
	stats *metrics.RunStats) ([][]*storage.RowBatch, error) {
	input, err := exec.runPlan(ctx, ex.Input, stats)
	if err != nil {
		return nil, err
	}
	switch ex.TP {
	case plan.ShuffleExchange:
		stats.AddShuffle()
		out, err := shuffle.Shuffle(input, ex.Key, ex.Count)
		if err != nil {
			return nil, err
		}
		stats.MergeStage(metrics.StageStats{
			Name:        ex.String(),
			Partitions:  ex.Count,
			ShuffledRow: countRows(input),
		})
		return out, nil
	case plan.RoundRobinExchange:
		stats.AddShuffle()
		stats.MergeStage(metrics.StageStats{
			Name:        ex.String(),
			Partitions:  ex.Count,
			ShuffledRow: countRows(input),
		})
		return shuffle.RoundRobin(input, ex.Count), nil
	case plan.BroadcastExchange:
		if size := shuffle.SizeBytes(input); size > exec.conf.BroadcastThresholdBytes {
			return nil, errors.Wrapf(shuffle.ErrBroadcastSizeExceeded,
				"%d bytes over %d", size, exec.conf.BroadcastThresholdBytes)
		}
		return shuffle.Broadcast(input, ex.Count), nil
	case plan.GatherExchange:
		stats.AddGather()
		return shuffle.Gather(input), nil
	}
	return nil, errors.Errorf("unknown exchange %s", ex.String())
}

// runScan drains the source once and deals its batches round robin over the
// scan's partitions, re-slicing to the configured batch size.
func (exec *Executor) runScan(ctx context.Context, scan *plan.PhysicalScan) ([][]*storage.RowBatch, error) {
	count := scan.Part.Count
	ret := make([][]*storage.RowBatch, count)
	it := scan.Source.Scan(ctx)
	next := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := it.Next()
		if err != nil {
			return nil, err
		}
		if batch == nil {
			return ret, nil
		}
		for from := 0; ; from += exec.conf.BatchSize {
			slice := batch.Slice(from, exec.conf.BatchSize)
			if slice == nil {
				break
			}
			ret[next%count] = append(ret[next%count], slice)
			next++
		}
	}
}

// runStage materializes every leaf below p (stopping at exchanges and
// scans), then runs one partition pipeline per output partition on the
// worker pool.
func (exec *Executor) runStage(ctx context.Context, p plan.PhysicalPlan,
	stats *metrics.RunStats) ([][]*storage.RowBatch, error) {
	leaves := map[plan.PhysicalPlan][][]*storage.RowBatch{}
	if err := exec.materializeLeaves(ctx, p, stats, leaves); err != nil {
		return nil, err
	}
	count := p.Partitioning().Count
	if count <= 0 {
		count = 1
	}
	start := time.Now()
	ret := make([][]*storage.RowBatch, count)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}
	for i := 0; i < count; i++ {
		partition := i
		wg.Add(1)
		err := exec.pool.Submit(func() {
			defer wg.Done()
			op, err := buildOperator(p, partition, leaves)
			if err != nil {
				fail(err)
				return
			}
			for {
				if err := runCtx.Err(); err != nil {
					fail(err)
					return
				}
				batch, err := op.Next()
				if err != nil {
					fail(err)
					return
				}
				if batch == nil {
					return
				}
				ret[partition] = append(ret[partition], batch)
			}
		})
		if err != nil {
			wg.Done()
			fail(errors.Wrap(err, "submit partition task"))
			break
		}
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	stats.MergeStage(metrics.StageStats{
		Name:       p.String(),
		Partitions: count,
		RowsIn:     leafRows(leaves),
		RowsOut:    countRows(ret),
		Elapsed:    time.Since(start),
	})
	return ret, nil
}

// materializeLeaves walks down from p and fills leaves for every exchange
// and scan found, without descending through them.
func (exec *Executor) materializeLeaves(ctx context.Context, p plan.PhysicalPlan,
	stats *metrics.RunStats, leaves map[plan.PhysicalPlan][][]*storage.RowBatch) error {
	switch p.(type) {
	case *plan.PhysicalExchange, *plan.PhysicalScan:
		data, err := exec.runPlan(ctx, p, stats)
		if err != nil {
			return err
		}
		leaves[p] = data
		return nil
	}
	for _, child := range p.Children() {
		if err := exec.materializeLeaves(ctx, child, stats, leaves); err != nil {
			return err
		}
	}
	return nil
}

func countRows(partitions [][]*storage.RowBatch) int64 {
	var ret int64
	for _, partition := range partitions {
		for _, batch := range partition {
			ret += int64(batch.RowCount())
		}
	}
	return ret
}

func leafRows(leaves map[plan.PhysicalPlan][][]*storage.RowBatch) int64 {
	var ret int64
	for _, data := range leaves {
		ret += countRows(data)
	}
	return ret
}

// Result iterates the materialized output batch by batch.
type Result struct {
	schema  *storage.TableSchema
	batches []*storage.RowBatch
	cursor  int
	stats   *metrics.RunStats
}

func (r *Result) Schema() *storage.TableSchema { return r.schema }

func (r *Result) Stats() *metrics.RunStats { return r.stats }

func (r *Result) Next() *storage.RowBatch {
	if r.cursor >= len(r.batches) {
		return nil
	}
	ret := r.batches[r.cursor]
	r.cursor++
	return ret
}

func (r *Result) RowCount() int64 {
	var ret int64
	for _, batch := range r.batches {
		ret += int64(batch.RowCount())
	}
	return ret
}

// Collect concatenates every remaining batch into one.
func (r *Result) Collect() *storage.RowBatch {
	ret := storage.MakeEmptyRowBatch(r.schema)
	for batch := r.Next(); batch != nil; batch = r.Next() {
		ret.Append(batch)
	}
	return ret
}

// WriteTo drains the result into a sink, closing it at the end.
func (r *Result) WriteTo(sink Sink) error {
	for batch := r.Next(); batch != nil; batch = r.Next() {
		if err := sink.WriteBatch(batch); err != nil {
			return err
		}
	}
	return sink.Close()
}
