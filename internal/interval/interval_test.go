package interval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleInvocationEmitsOneRecord(t *testing.T) {
	e := NewEngine(4242)

	e.Begin(0, 25, 1000, CounterSnapshot{CPUCycles: 100})
	require.NoError(t, e.SetFeatures(0, Features{PlanNodeID: 1, QueryID: 42}))
	require.NoError(t, e.End(0, 1500, CounterSnapshot{CPUCycles: 400}))
	rec, ok := e.Flush(0, 25)

	require.True(t, ok)
	assert.Equal(t, 25, rec.OUIndex)
	assert.Equal(t, uint32(4242), rec.PID)
	assert.GreaterOrEqual(t, rec.EndTime, rec.StartTime)
	assert.Equal(t, uint64(1), rec.InvocationCount)
	assert.Equal(t, uint64(300), rec.Counters.CPUCycles)
	assert.Equal(t, int32(1), rec.Features.PlanNodeID)
}

func TestNestedInvocationChargesParent(t *testing.T) {
	e := NewEngine(1)

	e.Begin(0, 9 /* ExecHashJoinImpl */, 0, CounterSnapshot{CPUCycles: 0})
	e.Begin(0, 25 /* ExecSeqScan */, 10, CounterSnapshot{CPUCycles: 10})
	require.NoError(t, e.End(0, 60, CounterSnapshot{CPUCycles: 60}))
	child, ok := e.Flush(0, 25)
	require.True(t, ok)

	require.NoError(t, e.End(0, 100, CounterSnapshot{CPUCycles: 100}))
	parent, ok := e.Flush(0, 9)
	require.True(t, ok)

	assert.Equal(t, uint64(50), child.Counters.CPUCycles)
	assert.GreaterOrEqual(t, parent.Counters.CPUCycles, child.Counters.CPUCycles)
}

func TestCPUMigrationRecordsEndSideCPU(t *testing.T) {
	e := NewEngine(7)

	e.Begin(0, 25, 0, CounterSnapshot{CPUCycles: 1000})
	require.NoError(t, e.End(3, 50, CounterSnapshot{CPUCycles: 1500}))
	rec, ok := e.Flush(3, 25)

	require.True(t, ok)
	assert.Equal(t, uint32(3), rec.EndCPU)
	assert.Equal(t, uint32(0), rec.BeginCPU)
	assert.Equal(t, uint64(500), rec.Counters.CPUCycles)
	assert.GreaterOrEqual(t, int64(rec.Counters.CPUCycles), int64(0))
}

func TestDuplicateFeaturesMarkerIsIgnoredAndCounted(t *testing.T) {
	e := NewEngine(1)
	e.Begin(0, 0, 0, CounterSnapshot{})

	require.NoError(t, e.SetFeatures(0, Features{PlanNodeID: 1}))
	require.NoError(t, e.SetFeatures(0, Features{PlanNodeID: 2}))

	require.NoError(t, e.End(0, 1, CounterSnapshot{}))
	rec, ok := e.Flush(0, 0)
	require.True(t, ok)

	assert.Equal(t, int32(1), rec.Features.PlanNodeID, "first features marker wins")
	assert.Equal(t, uint64(1), e.DuplicateFeatures())
}

func TestStackOverflowIsDroppedNotPanicking(t *testing.T) {
	e := NewEngine(1)
	for i := 0; i < MaxStackDepth+5; i++ {
		e.Begin(0, i, uint64(i), CounterSnapshot{})
	}
	assert.Equal(t, uint64(5), e.OverflowDrops())
}

func TestFlushWithNoMatchingFrameIsNoOp(t *testing.T) {
	e := NewEngine(1)
	_, ok := e.Flush(0, 3)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), e.DanglingFlushes())
}

func TestFeaturesWithNoOpenFrameErrors(t *testing.T) {
	e := NewEngine(1)
	err := e.SetFeatures(0, Features{})
	assert.Error(t, err)
}
