package probebuilder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmu-db/tscout/internal/model"
)

func TestBuildIsPureAndByteIdentical(t *testing.T) {
	m := model.New()
	params := Params{MaxCPUs: 8}

	out1, err := Build(m, params)
	require.NoError(t, err)
	out2, err := Build(m, params)
	require.NoError(t, err)

	assert.Equal(t, out1, out2)
	assert.NotContains(t, out1, "{{")
	assert.Contains(t, out1, "ExecSeqScan_begin")
	assert.Contains(t, out1, "ExecSeqScan_flush")
	assert.Contains(t, out1, "#define MAX_CPUS 8")
}

func TestBuildWithClientSocketFD(t *testing.T) {
	m := model.New()
	fd := 7
	out, err := Build(m, Params{MaxCPUs: 4, ClientSocketFD: &fd})
	require.NoError(t, err)
	assert.Contains(t, out, "#define CLIENT_SOCKET_FD 7")
}

func TestBuildOmitsClientSocketFDWhenAbsent(t *testing.T) {
	m := model.New()
	out, err := Build(m, Params{MaxCPUs: 4})
	require.NoError(t, err)
	assert.NotContains(t, out, "CLIENT_SOCKET_FD")
}

func TestSubstituteRejectsUnresolvedPlaceholder(t *testing.T) {
	_, err := substitute("before {{MISSING}} after", map[string]string{"OTHER": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MISSING")
}

func TestGenerateReadArgsUsesPointerFormForWideFields(t *testing.T) {
	m := model.New()
	ou, ok := m.ByName("ExecSeqScan")
	require.True(t, ok)

	args := generateReadArgs(ou)
	assert.True(t, strings.Contains(args, "bpf_usdt_readarg_p"), "expected at least one wide field read via pointer")
	assert.True(t, strings.Contains(args, "bpf_usdt_readarg("), "expected at least one narrow field read by value")
}

func TestBuildLifecycleIsFixedAndHasAllFourMarkers(t *testing.T) {
	out1, err := BuildLifecycle()
	require.NoError(t, err)
	out2, err := BuildLifecycle()
	require.NoError(t, err)

	assert.Equal(t, out1, out2)
	for _, marker := range []string{"fork_backend", "fork_background", "reap_backend", "reap_background"} {
		assert.Contains(t, out1, marker)
	}
}

func TestBuildDefinesTheInKernelIntervalEngine(t *testing.T) {
	m := model.New()
	out, err := Build(m, Params{MaxCPUs: 4})
	require.NoError(t, err)

	for _, want := range []string{
		"struct frame_t {",
		"union features_t {",
		"struct pid_stack_t {",
		"static __always_inline struct frame_t *push_frame(",
		"static __always_inline struct frame_t *top_frame(",
		"static __always_inline struct frame_t *parent_frame(",
		"static __always_inline void pop_frame(",
		"static __always_inline void snapshot_counters(",
		"struct ExecSeqScan_record_t {",
		"} __attribute__((packed));",
		"static __always_inline void emit_and_pop_ExecSeqScan(",
		"emit_and_pop_ExecSeqScan(ctx);",
	} {
		assert.Contains(t, out, want)
	}
}

func TestBuildRecordStructFieldOrderMatchesWireCodec(t *testing.T) {
	m := model.New()
	out, err := Build(m, Params{MaxCPUs: 4})
	require.NoError(t, err)

	start := strings.Index(out, "struct ExecSeqScan_record_t {")
	require.GreaterOrEqual(t, start, 0)
	end := strings.Index(out[start:], "} __attribute__((packed));")
	require.GreaterOrEqual(t, end, 0)
	record := out[start : start+end]

	// Field order must match internal/uapi.UnmarshalRecord exactly, since
	// that struct is marked packed and read back byte-for-byte.
	wantOrder := []string{
		"ou_index", "plan_node_id", "left_child_plan_node_id", "right_child_plan_node_id",
		"query_id", "db_id", "statement_timestamp", "payload",
		"start_time", "end_time",
		"cpu_cycles", "instructions", "cache_references", "cache_misses", "ref_cpu_cycles",
		"network_bytes_read", "network_bytes_written", "disk_bytes_read", "disk_bytes_written", "memory_bytes",
		"invocation_count", "pid", "cpu_id",
	}
	lastIdx := -1
	for _, field := range wantOrder {
		idx := strings.Index(record, " "+field+";")
		require.Greaterf(t, idx, lastIdx, "field %s should appear after the previous field", field)
		lastIdx = idx
	}

	// elapsed_us is derived downstream by internal/processor, never carried
	// on the wire or accumulated in-kernel.
	assert.NotContains(t, record, "elapsed_us")
}

func TestHelperStructDefsAreDeduplicatedAndSorted(t *testing.T) {
	m := model.New()
	out, err := Build(m, Params{MaxCPUs: 1})
	require.NoError(t, err)

	// Every OU's features struct should appear exactly once.
	for _, ou := range m.OperatingUnits() {
		want := "struct " + ou.Function + "_features_t {"
		assert.Equal(t, 1, strings.Count(out, want), "struct for %s should appear exactly once", ou.Function)
	}
}
