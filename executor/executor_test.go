package executor

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/xiaobogaga/minidf/config"
	"github.com/xiaobogaga/minidf/plan"
	"github.com/xiaobogaga/minidf/shuffle"
	"github.com/xiaobogaga/minidf/storage"
)

func testConf() *config.Config {
	conf := config.Default()
	conf.Partitions = 3
	conf.Workers = 3
	conf.BatchSize = 2
	return conf
}

func casesSource(t *testing.T) *MemorySource {
	schema := storage.NewTableSchema(
		storage.Field{Name: "country", TP: storage.Text},
		storage.Field{Name: "date", TP: storage.Text},
		storage.Field{Name: "confirmed_raw", TP: storage.Text},
	)
	src, err := NewMemorySourceFromRows(schema, [][]interface{}{
		{"de", "2020-01-10", "10"},
		{"de", "2020-02-10", "20"},
		{"de", "2019-12-31", "99"},
		{"de", "2020-03-01", "bad"},
		{"fr", "2020-01-15", "5"},
		{"fr", "2020-02-15", "x"},
		{"fr", "2019-11-11", "7"},
		{"it", "2020-05-05", "50"},
		{"us", "2020-04-04", "40"},
	})
	assert.Nil(t, err)
	return src
}

func regionsSource(t *testing.T) *MemorySource {
	schema := storage.NewTableSchema(
		storage.Field{Name: "country", TP: storage.Text},
		storage.Field{Name: "population", TP: storage.Int},
	)
	src, err := NewMemorySourceFromRows(schema, [][]interface{}{
		{"de", 80},
		{"fr", 60},
		{"it", 50},
	})
	assert.Nil(t, err)
	return src
}

// covidPipeline is the reference query: cast the raw counter, keep 2020
// rows with a well-formed counter, total per country, attach population,
// rank by total.
func covidPipeline(t *testing.T, conf *config.Config, hint plan.JoinHint, repartition bool) *plan.DataSet {
	cases, err := plan.FromSource("cases", casesSource(t), conf)
	assert.Nil(t, err)
	regions, err := plan.FromSource("regions", regionsSource(t), conf)
	assert.Nil(t, err)

	ds := cases
	if repartition {
		ds, err = ds.Repartition("date", conf.Partitions)
		assert.Nil(t, err)
	}
	ds, err = ds.WithColumn("confirmed", plan.TryCast(plan.Col("confirmed_raw"), storage.Int))
	assert.Nil(t, err)
	ds, err = ds.Filter(plan.Ge(plan.Col("date"), plan.TextLit("2020-01-01")))
	assert.Nil(t, err)
	ds, err = ds.Filter(plan.Gt(plan.Col("confirmed"), plan.IntLit(0)))
	assert.Nil(t, err)
	ds, err = ds.GroupByAgg([]string{"country"},
		plan.Sum("confirmed", "total"), plan.CountAll("cnt"))
	assert.Nil(t, err)
	ds, err = ds.Join(regions, "country", "country", hint)
	assert.Nil(t, err)
	ds, err = ds.Sort([]string{"total"}, []bool{false})
	assert.Nil(t, err)
	return ds
}

func collectRows(t *testing.T, ret *Result) [][]string {
	batch := ret.Collect()
	var rows [][]string
	for row := 0; row < batch.RowCount(); row++ {
		var cells []string
		for _, record := range batch.Records {
			if record.IsNull(row) {
				cells = append(cells, "null")
				continue
			}
			cells = append(cells, storage.DecodeToString(record.RawValue(row), record.Field.TP))
		}
		rows = append(rows, cells)
	}
	return rows
}

func TestMaterializeCovidPipeline(t *testing.T) {
	ds := covidPipeline(t, testConf(), plan.NoHint, false)
	ds, err := ds.Limit(2)
	assert.Nil(t, err)

	ret, err := Materialize(context.Background(), ds)
	assert.Nil(t, err)
	assert.Equal(t, []string{"country", "total", "cnt", "population"},
		ret.Schema().ColumnNames())
	// malformed counters turned null and fell out of both the filter and
	// the sums; 2019 rows filtered; us has no region row
	assert.Equal(t, [][]string{
		{"it", "50", "1", "50"},
		{"de", "30", "2", "80"},
	}, collectRows(t, ret))
	assert.Equal(t, int64(1), ret.Stats().Shuffles)
}

func TestJoinStrategiesAgree(t *testing.T) {
	broadcast := covidPipeline(t, testConf(), plan.HintBroadcastRight, false)
	shuffled := covidPipeline(t, testConf(), plan.HintShuffle, false)

	first, err := Materialize(context.Background(), broadcast)
	assert.Nil(t, err)
	second, err := Materialize(context.Background(), shuffled)
	assert.Nil(t, err)
	assert.Equal(t, collectRows(t, first), collectRows(t, second))
	// the broadcast run never shuffled the join inputs
	assert.Less(t, first.Stats().Shuffles, second.Stats().Shuffles)
}

func TestJoinOfSortedInputsKeepsCardinality(t *testing.T) {
	conf := testConf()
	cases, err := plan.FromSource("cases", casesSource(t), conf)
	assert.Nil(t, err)
	cases, err = cases.Sort([]string{"country"}, []bool{true})
	assert.Nil(t, err)
	regions, err := plan.FromSource("regions", regionsSource(t), conf)
	assert.Nil(t, err)
	regions, err = regions.Sort([]string{"country"}, []bool{true})
	assert.Nil(t, err)
	ds, err := cases.Join(regions, "country", "country", plan.HintShuffle)
	assert.Nil(t, err)

	ret, err := Materialize(context.Background(), ds)
	assert.Nil(t, err)
	// both sides land gathered into one partition, each matching row must
	// come out exactly once: de 4, fr 3, it 1, us unmatched
	assert.Equal(t, int64(8), ret.RowCount())
	assert.Equal(t, int64(0), ret.Stats().Shuffles)
}

func TestSelfJoinQualifiedColumns(t *testing.T) {
	conf := testConf()
	left, err := plan.FromSource("cases", casesSource(t), conf)
	assert.Nil(t, err)
	right, err := plan.FromSource("cases", casesSource(t), conf)
	assert.Nil(t, err)
	ds, err := left.Join(right, "country", "country", plan.HintBroadcastRight)
	assert.Nil(t, err)

	ret, err := Materialize(context.Background(), ds)
	assert.Nil(t, err)
	assert.Equal(t, []string{"country", "date", "confirmed_raw",
		"right.date", "right.confirmed_raw"}, ret.Schema().ColumnNames())
	// every country pairs with its own rows: 4*4 + 3*3 + 1 + 1
	assert.Equal(t, int64(27), ret.RowCount())

	// the qualified pair carries the right side values
	single, err := ds.Filter(plan.Eq(plan.Col("country"), plan.TextLit("it")))
	assert.Nil(t, err)
	only, err := Materialize(context.Background(), single)
	assert.Nil(t, err)
	assert.Equal(t, [][]string{{"it", "2020-05-05", "50", "2020-05-05", "50"}},
		collectRows(t, only))
}

func TestOptimizedPlanShufflesLess(t *testing.T) {
	conf := testConf()
	naiveSet := covidPipeline(t, conf, plan.NoHint, true)
	naive, err := plan.NewPlanner(conf).Plan(naiveSet.Plan())
	assert.Nil(t, err)

	optimizedLogic, err := plan.Optimize(naiveSet.Plan(), conf)
	assert.Nil(t, err)
	optimized, err := plan.NewPlanner(conf).Plan(optimizedLogic)
	assert.Nil(t, err)

	// the eager repartition plus unhinted join cost the naive plan extra
	// boundaries; optimization keeps the repartition but picks broadcast
	// and leaves nothing else to move
	assert.GreaterOrEqual(t, plan.CountShuffles(naive), 3)
	assert.Equal(t, 2, plan.CountShuffles(optimized))

	// both plans compute the same result
	exec, err := New(conf)
	assert.Nil(t, err)
	defer exec.Close()
	first, err := exec.Run(context.Background(), naive)
	assert.Nil(t, err)
	second, err := exec.Run(context.Background(), optimized)
	assert.Nil(t, err)
	assert.Equal(t, collectRows(t, first), collectRows(t, second))
}

func TestTopNFormsAgree(t *testing.T) {
	conf := testConf()
	limited := covidPipeline(t, conf, plan.NoHint, false)
	limited, err := limited.Limit(2)
	assert.Nil(t, err)

	ranked := covidPipeline(t, conf, plan.NoHint, false)
	ranked, err = ranked.Select(plan.Col("country"), plan.Col("total"),
		plan.As(plan.RowNumber(), "rank"))
	assert.Nil(t, err)
	ranked, err = ranked.Filter(plan.Le(plan.Col("rank"), plan.IntLit(2)))
	assert.Nil(t, err)

	first, err := Materialize(context.Background(), limited)
	assert.Nil(t, err)
	second, err := Materialize(context.Background(), ranked)
	assert.Nil(t, err)

	firstRows := collectRows(t, first)
	secondRows := collectRows(t, second)
	assert.Len(t, secondRows, 2)
	for i, row := range secondRows {
		assert.Equal(t, firstRows[i][0], row[0])
		assert.Equal(t, firstRows[i][1], row[1])
	}
	assert.Equal(t, [][]string{{"it", "50", "1"}, {"de", "30", "2"}},
		[][]string{secondRows[0][:3], secondRows[1][:3]})
}

func TestGroupByAggregatesWithNulls(t *testing.T) {
	schema := storage.NewTableSchema(
		storage.Field{Name: "k", TP: storage.Text},
		storage.Field{Name: "v", TP: storage.Int, Nullable: true},
	)
	src, err := NewMemorySourceFromRows(schema, [][]interface{}{
		{"a", 1}, {"a", nil}, {"a", 3},
		{"b", nil}, {"b", nil},
		{"c", 10},
	})
	assert.Nil(t, err)
	ds, err := plan.FromSource("t", src, testConf())
	assert.Nil(t, err)
	ds, err = ds.GroupByAgg([]string{"k"},
		plan.Sum("v", "sum_v"), plan.Count("v", "cnt_v"), plan.CountAll("cnt"),
		plan.Avg("v", "avg_v"), plan.Max("v", "max_v"), plan.Min("v", "min_v"))
	assert.Nil(t, err)
	ds, err = ds.Sort([]string{"k"}, []bool{true})
	assert.Nil(t, err)

	ret, err := Materialize(context.Background(), ds)
	assert.Nil(t, err)
	assert.Equal(t, [][]string{
		// nulls count in count(*) but in no other aggregate
		{"a", "4", "2", "3", "2", "3", "1"},
		{"b", "null", "0", "2", "null", "null", "null"},
		{"c", "10", "1", "1", "10", "10", "10"},
	}, collectRows(t, ret))
}

func TestGlobalAggregate(t *testing.T) {
	ds, err := plan.FromSource("cases", casesSource(t), testConf())
	assert.Nil(t, err)
	ds, err = ds.GroupByAgg(nil, plan.CountAll("cnt"))
	assert.Nil(t, err)
	ret, err := Materialize(context.Background(), ds)
	assert.Nil(t, err)
	assert.Equal(t, [][]string{{"9"}}, collectRows(t, ret))
}

func TestGlobalAggregateOverEmptyInput(t *testing.T) {
	ds, err := plan.FromSource("cases", casesSource(t), testConf())
	assert.Nil(t, err)
	ds, err = ds.Filter(plan.Eq(plan.Col("country"), plan.TextLit("nowhere")))
	assert.Nil(t, err)
	ds, err = ds.GroupByAgg(nil, plan.CountAll("cnt"), plan.Max("date", "last"))
	assert.Nil(t, err)
	ret, err := Materialize(context.Background(), ds)
	assert.Nil(t, err)
	// count over nothing is 0, max over nothing is null
	assert.Equal(t, [][]string{{"0", "null"}}, collectRows(t, ret))
}

func TestGroupedAggregateOverEmptyInput(t *testing.T) {
	ds, err := plan.FromSource("cases", casesSource(t), testConf())
	assert.Nil(t, err)
	ds, err = ds.Filter(plan.Eq(plan.Col("country"), plan.TextLit("nowhere")))
	assert.Nil(t, err)
	ds, err = ds.GroupByAgg([]string{"country"}, plan.CountAll("cnt"))
	assert.Nil(t, err)
	ret, err := Materialize(context.Background(), ds)
	assert.Nil(t, err)
	assert.Equal(t, int64(0), ret.RowCount())
}

func TestRuntimeBroadcastGuard(t *testing.T) {
	conf := testConf()
	conf.BroadcastThresholdBytes = 4

	cases, err := plan.FromSource("cases", casesSource(t), conf)
	assert.Nil(t, err)
	regions := regionsSource(t)
	// an unknown estimate passes planning on a forced hint; the executor
	// still refuses to replicate the oversized side
	regions.SetEstimates(-1, -1)
	small, err := plan.FromSource("regions", regions, conf)
	assert.Nil(t, err)
	ds, err := cases.Join(small, "country", "country", plan.HintBroadcastRight)
	assert.Nil(t, err)

	_, err = Materialize(context.Background(), ds)
	assert.True(t, errors.Is(err, shuffle.ErrBroadcastSizeExceeded))
}

func TestMaterializeCancellation(t *testing.T) {
	ds := covidPipeline(t, testConf(), plan.NoHint, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Materialize(ctx, ds)
	assert.NotNil(t, err)
}

func TestResultSinkAndStats(t *testing.T) {
	ds := covidPipeline(t, testConf(), plan.NoHint, false)
	ret, err := Materialize(context.Background(), ds)
	assert.Nil(t, err)

	assert.NotEmpty(t, ret.Stats().ID)
	assert.NotEmpty(t, ret.Stats().Plan)
	assert.Contains(t, ret.Stats().String(), "shuffles")

	sink := &MemorySink{}
	rows := ret.RowCount()
	assert.Nil(t, ret.WriteTo(sink))
	assert.Equal(t, rows, sink.RowCount())
	assert.NotNil(t, sink.WriteBatch(storage.MakeEmptyRowBatch(ret.Schema())))
}
