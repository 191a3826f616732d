// Package metrics tracks execution statistics two ways: a RunStats value
// owned by one materialization and merged at stage boundaries, and process
// level prometheus counters for embedders that scrape.
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "minidf",
		Name:      "runs_total",
		Help:      "Completed materializations.",
	})
	runErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "minidf",
		Name:      "run_errors_total",
		Help:      "Materializations that returned an error.",
	})
	shufflesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "minidf",
		Name:      "shuffles_total",
		Help:      "Hash shuffle boundaries executed.",
	})
	rowsShuffledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "minidf",
		Name:      "rows_shuffled_total",
		Help:      "Rows moved across shuffle boundaries.",
	})
	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "minidf",
		Name:      "run_duration_seconds",
		Help:      "Wall time of one materialization.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
	})
)

// StageStats is what one stage of one run recorded.
type StageStats struct {
	Name        string
	Partitions  int
	RowsIn      int64
	RowsOut     int64
	ShuffledRow int64
	Elapsed     time.Duration
}

// RunStats accumulates over one materialization. It is passed through the
// executor explicitly and merged under its own lock, never shared between
// runs.
type RunStats struct {
	mu       sync.Mutex
	start    time.Time
	ID       string
	Stages   []StageStats
	Shuffles int64
	Gathers  int64
	RowsOut  int64
	Plan     string
}

func NewRunStats() *RunStats {
	return &RunStats{ID: uuid.NewString(), start: time.Now()}
}

// MergeStage appends one finished stage's numbers.
func (stats *RunStats) MergeStage(stage StageStats) {
	stats.mu.Lock()
	defer stats.mu.Unlock()
	stats.Stages = append(stats.Stages, stage)
	if stage.ShuffledRow > 0 {
		rowsShuffledTotal.Add(float64(stage.ShuffledRow))
	}
}

func (stats *RunStats) AddShuffle() {
	stats.mu.Lock()
	defer stats.mu.Unlock()
	stats.Shuffles++
	shufflesTotal.Inc()
}

func (stats *RunStats) AddGather() {
	stats.mu.Lock()
	defer stats.mu.Unlock()
	stats.Gathers++
}

func (stats *RunStats) AddRowsOut(n int64) {
	stats.mu.Lock()
	defer stats.mu.Unlock()
	stats.RowsOut += n
}

// Finish closes the run, recording the outcome on the process counters.
func (stats *RunStats) Finish(err error) {
	runDuration.Observe(time.Since(stats.start).Seconds())
	if err != nil {
		runErrorsTotal.Inc()
		return
	}
	runsTotal.Inc()
}

func (stats *RunStats) Elapsed() time.Duration { return time.Since(stats.start) }

// String renders a short human report, the companion of the explain output.
func (stats *RunStats) String() string {
	stats.mu.Lock()
	defer stats.mu.Unlock()
	buf := &strings.Builder{}
	fmt.Fprintf(buf, "run: %d shuffles, %d gathers, %d rows out, %s elapsed\n",
		stats.Shuffles, stats.Gathers, stats.RowsOut, time.Since(stats.start).Round(time.Microsecond))
	for _, stage := range stats.Stages {
		fmt.Fprintf(buf, "  stage %s: %d partitions, %d rows in, %d rows out, %s\n",
			stage.Name, stage.Partitions, stage.RowsIn, stage.RowsOut,
			stage.Elapsed.Round(time.Microsecond))
	}
	return buf.String()
}
