package uapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmu-db/tscout/internal/interval"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	rec := interval.Record{
		OUIndex:         25,
		PID:             4242,
		EndCPU:          3,
		StartTime:       1000,
		EndTime:         1500,
		InvocationCount: 1,
		Features: interval.Features{
			PlanNodeID:         1,
			QueryID:            42,
			DBID:               7,
			StatementTimestamp: 99,
			Payload:            1234,
		},
		Counters: interval.CounterSnapshot{CPUCycles: 300, Instructions: 200},
	}

	buf := MarshalRecord(rec)
	require.Len(t, buf, RecordSize)

	got, err := UnmarshalRecord(25, buf)
	require.NoError(t, err)
	assert.Equal(t, rec.PID, got.PID)
	assert.Equal(t, rec.EndCPU, got.EndCPU)
	assert.Equal(t, rec.StartTime, got.StartTime)
	assert.Equal(t, rec.EndTime, got.EndTime)
	assert.Equal(t, rec.Features.QueryID, got.Features.QueryID)
	assert.Equal(t, rec.Counters.CPUCycles, got.Counters.CPUCycles)
	assert.Equal(t, rec.InvocationCount, got.InvocationCount)
}

func TestUnmarshalRejectsOrdinalMismatch(t *testing.T) {
	rec := interval.Record{OUIndex: 1}
	buf := MarshalRecord(rec)
	_, err := UnmarshalRecord(2, buf)
	assert.Error(t, err)
}

func TestUnmarshalRejectsShortBuffer(t *testing.T) {
	_, err := UnmarshalRecord(0, make([]byte, 4))
	assert.Error(t, err)
}

func TestMarshalRecordIntoWritesIntoCallerBuffer(t *testing.T) {
	rec := interval.Record{OUIndex: 3, PID: 55, StartTime: 10, EndTime: 20}
	buf := make([]byte, RecordSize)

	MarshalRecordInto(buf, rec)

	got, err := UnmarshalRecord(3, buf)
	require.NoError(t, err)
	assert.Equal(t, rec.PID, got.PID)
	assert.Equal(t, rec.StartTime, got.StartTime)
	assert.Equal(t, rec.EndTime, got.EndTime)
	assert.Equal(t, MarshalRecord(rec), buf)
}
