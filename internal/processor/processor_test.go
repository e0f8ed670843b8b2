package processor_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmu-db/tscout/internal/interval"
	"github.com/cmu-db/tscout/internal/model"
	"github.com/cmu-db/tscout/internal/processor"
	"github.com/cmu-db/tscout/internal/queue"
	"github.com/cmu-db/tscout/internal/uapi"
)

func TestRunWritesHeaderThenDrainsToCompletion(t *testing.T) {
	mdl := model.New()
	ou, err := mdl.ByIndex(0)
	require.NoError(t, err)

	q := queue.NewOUQueue(0)
	rec := interval.Record{
		OUIndex:         ou.Index,
		PID:             123,
		EndCPU:          2,
		StartTime:       1_000_000,
		EndTime:         1_005_000,
		InvocationCount: 1,
		Features:        interval.Features{PlanNodeID: 4, QueryID: 99},
	}
	q.TryEnqueue(uapi.MarshalRecord(rec))
	q.Poison()

	sink := processor.NewMemorySink()
	p := processor.New(ou, q, sink, true, nil)

	require.NoError(t, p.Run(context.Background()))

	lines := strings.Split(strings.TrimRight(sink.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(append(ou.FeaturesColumns(), metricNames()...), ","), lines[0])
	assert.Contains(t, lines[1], "99") // query_id
	assert.True(t, sink.IsClosed())
}

func TestRunWithoutHeaderSkipsIt(t *testing.T) {
	mdl := model.New()
	ou, err := mdl.ByIndex(0)
	require.NoError(t, err)

	q := queue.NewOUQueue(0)
	q.Poison()

	sink := processor.NewMemorySink()
	p := processor.New(ou, q, sink, false, nil)

	require.NoError(t, p.Run(context.Background()))
	assert.Empty(t, sink.String())
	assert.True(t, sink.IsClosed())
}

func TestRunSkipsMalformedRowsWithoutStopping(t *testing.T) {
	mdl := model.New()
	ou, err := mdl.ByIndex(0)
	require.NoError(t, err)

	q := queue.NewOUQueue(0)
	q.TryEnqueue([]byte("too short"))
	q.TryEnqueue(uapi.MarshalRecord(interval.Record{OUIndex: ou.Index, PID: 7}))
	q.Poison()

	sink := processor.NewMemorySink()
	p := processor.New(ou, q, sink, false, nil)

	require.NoError(t, p.Run(context.Background()))
	lines := strings.Split(strings.TrimRight(sink.String(), "\n"), "\n")
	require.Len(t, lines, 1)
}

func metricNames() []string {
	names := make([]string, 0)
	for _, m := range model.Metrics() {
		names = append(names, m.Name)
	}
	return names
}
