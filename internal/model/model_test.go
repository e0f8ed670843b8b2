package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAssignsDenseOrdinals(t *testing.T) {
	m := New()
	units := m.OperatingUnits()
	require.Len(t, units, len(OUDefs))

	for i, ou := range units {
		assert.Equal(t, i, ou.Index)
		assert.Equal(t, OUDefs[i], ou.Function)
	}
	assert.Equal(t, len(OUDefs), m.N())
}

func TestByIndexAndByName(t *testing.T) {
	m := New()

	ou, err := m.ByIndex(0)
	require.NoError(t, err)
	assert.Equal(t, "ExecAgg", ou.Name())

	_, err = m.ByIndex(-1)
	assert.Error(t, err)
	_, err = m.ByIndex(m.N())
	assert.Error(t, err)

	found, ok := m.ByName("ExecSeqScan")
	require.True(t, ok)
	assert.Equal(t, "ExecSeqScan", found.Function)

	_, ok = m.ByName("NotAnOperatingUnit")
	assert.False(t, ok)
}

func TestMarkerNames(t *testing.T) {
	ou := OperatingUnit{Function: "ExecSeqScan", Index: 25}

	assert.Equal(t, "ExecSeqScan_begin", ou.BeginMarker())
	assert.Equal(t, "ExecSeqScan_end", ou.EndMarker())
	assert.Equal(t, "ExecSeqScan_flush", ou.FlushMarker())
	assert.Equal(t, []string{"ExecSeqScan_features", "ExecSeqScan_features_payload"}, ou.FeatureMarkers())

	names := ou.MarkerNames()
	assert.Len(t, names, 5)
	assert.Equal(t, "ExecSeqScan_begin", names[0])
	assert.Equal(t, "ExecSeqScan_flush", names[len(names)-1])
}

func TestMetricsVectorOrderAndAccumulation(t *testing.T) {
	metrics := Metrics()
	require.Len(t, metrics, 16)
	assert.Equal(t, "start_time", metrics[0].Name)
	assert.Equal(t, "cpu_id", metrics[len(metrics)-1].Name)
	assert.Equal(t, "start_time", FirstMetricName())

	excluded := map[string]bool{"start_time": true, "end_time": true, "pid": true, "cpu_id": true}
	for _, m := range metrics {
		assert.Equal(t, !excluded[m.Name], m.Accumulate, "accumulate flag mismatch for %s", m.Name)
	}

	accum := AccumulatedMetrics()
	assert.Len(t, accum, 16-4)
}

func TestFeaturesColumns(t *testing.T) {
	p := FeaturesPayload{}
	cols := p.Columns()
	assert.Equal(t, []string{
		"plan_node_id",
		"left_child_plan_node_id",
		"right_child_plan_node_id",
		"query_id",
		"db_id",
		"statement_timestamp",
		"payload",
	}, cols)
}

func TestBPFTypeWidthAndCType(t *testing.T) {
	cases := []struct {
		typ   BPFType
		width int
		c     string
		float bool
	}{
		{TypeU64, 8, "uint64_t", false},
		{TypeU32, 4, "uint32_t", false},
		{TypeFloat, 4, "float", true},
		{TypeDouble, 8, "double", true},
	}
	for _, c := range cases {
		assert.Equal(t, c.width, c.typ.Width())
		assert.Equal(t, c.c, c.typ.CType())
		assert.Equal(t, c.float, c.typ.IsFloating())
	}
}
