package collector_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tscout "github.com/cmu-db/tscout"
	"github.com/cmu-db/tscout/internal/collector"
	"github.com/cmu-db/tscout/internal/interfaces"
	"github.com/cmu-db/tscout/internal/interval"
	"github.com/cmu-db/tscout/internal/model"
	"github.com/cmu-db/tscout/internal/queue"
	"github.com/cmu-db/tscout/internal/uapi"
)

func TestRunPropagatesLoadFailure(t *testing.T) {
	loader := &tscout.MockProbeLoader{LoadErr: errors.New("boom")}
	c := collector.New(collector.Config{
		PID:         42,
		Model:       model.New(),
		ProbeLoader: loader,
	})

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, loader.CallCounts()["load"])
	assert.Equal(t, 0, loader.CallCounts()["attach"])
}

func TestRunPropagatesAttachFailureAndUnloads(t *testing.T) {
	loader := &tscout.MockProbeLoader{AttachErr: errors.New("attach failed")}
	c := collector.New(collector.Config{
		PID:         42,
		Model:       model.New(),
		ProbeLoader: loader,
	})

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, loader.CallCounts()["attach"])
	assert.Equal(t, 1, loader.CallCounts()["unload"])
}

func TestLostEventsAccumulateAcrossOUs(t *testing.T) {
	loader := &tscout.MockProbeLoader{}
	readerA := tscout.NewMockPerfReader()
	readerA.Enqueue(interval.Record{OUIndex: 0}, 3)
	readerA.Close()
	readerB := tscout.NewMockPerfReader()
	readerB.Enqueue(interval.Record{OUIndex: 1}, 5)
	readerB.Close()

	qA := queue.NewOUQueue(0)
	qB := queue.NewOUQueue(0)

	c := collector.New(collector.Config{
		PID:         7,
		Model:       model.New(),
		ProbeLoader: loader,
		PerfReaders: map[int]interfaces.PerfReader{0: readerA, 1: readerB},
		Queues:      map[int]*queue.OUQueue{0: qA, 1: qB},
	})

	err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(8), c.LostEvents())
	assert.Equal(t, 1, qA.Len())
	assert.Equal(t, 1, qB.Len())
}

func TestRunHonorsRunFlagBetweenPolls(t *testing.T) {
	loader := &tscout.MockProbeLoader{}
	reader := tscout.NewMockPerfReader() // never enqueues, never closes

	var runFlag atomic.Bool
	runFlag.Store(true)

	c := collector.New(collector.Config{
		PID:         9,
		Model:       model.New(),
		ProbeLoader: loader,
		PerfReaders: map[int]interfaces.PerfReader{0: reader},
		Queues:      map[int]*queue.OUQueue{0: queue.NewOUQueue(0)},
		RunFlag:     &runFlag,
	})

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	runFlag.Store(false)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after run-flag cleared")
	}
}

func TestQueueFullCountsAsDrop(t *testing.T) {
	loader := &tscout.MockProbeLoader{}
	reader := tscout.NewMockPerfReader()
	reader.Enqueue(interval.Record{OUIndex: 0}, 0)
	reader.Enqueue(interval.Record{OUIndex: 0}, 0)
	reader.Close()

	q := queue.NewOUQueue(1)

	c := collector.New(collector.Config{
		PID:         3,
		Model:       model.New(),
		ProbeLoader: loader,
		PerfReaders: map[int]interfaces.PerfReader{0: reader},
		Queues:      map[int]*queue.OUQueue{0: q},
	})

	err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.QueueDrops())
}

func TestEnqueuedRowIsLeasedFromPoolAndDecodesCorrectly(t *testing.T) {
	loader := &tscout.MockProbeLoader{}
	reader := tscout.NewMockPerfReader()
	reader.Enqueue(interval.Record{OUIndex: 0, PID: 99, StartTime: 100, EndTime: 200}, 0)
	reader.Close()

	q := queue.NewOUQueue(0)

	c := collector.New(collector.Config{
		PID:         5,
		Model:       model.New(),
		ProbeLoader: loader,
		PerfReaders: map[int]interfaces.PerfReader{0: reader},
		Queues:      map[int]*queue.OUQueue{0: q},
	})

	err := c.Run(context.Background())
	require.NoError(t, err)

	row, ok := q.Dequeue()
	require.True(t, ok)
	assert.Len(t, row, uapi.RecordSize)

	rec, err := uapi.UnmarshalRecord(0, row)
	require.NoError(t, err)
	assert.Equal(t, uint32(99), rec.PID)
	assert.Equal(t, uint64(100), rec.StartTime)
	assert.Equal(t, uint64(200), rec.EndTime)

	queue.PutBuffer(row)
}
