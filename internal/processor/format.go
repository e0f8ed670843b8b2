package processor

import (
	"math"
	"strconv"

	"github.com/cmu-db/tscout/internal/interval"
	"github.com/cmu-db/tscout/internal/model"
)

// formatFeatures renders ou's feature columns in declaration order. Extra
// fields (none are declared by any Operating Unit today) have no carried
// value in interval.Features and render as an empty column rather than
// panicking, since the wire format only has a slot for the canonical set.
func formatFeatures(ou model.OperatingUnit, f interval.Features) []string {
	raw := map[string]uint64{
		"plan_node_id":             uint64(int64(f.PlanNodeID)),
		"left_child_plan_node_id":  uint64(int64(f.LeftChildPlanNodeID)),
		"right_child_plan_node_id": uint64(int64(f.RightChildPlanNodeID)),
		"query_id":                 f.QueryID,
		"db_id":                    uint64(f.DBID),
		"statement_timestamp":      f.StatementTimestamp,
		"payload":                  f.Payload,
	}

	fields := ou.Features.Fields()
	out := make([]string, len(fields))
	for i, fld := range fields {
		v, ok := raw[fld.Name]
		if !ok {
			out[i] = ""
			continue
		}
		out[i] = formatValue(fld.Type, v)
	}
	return out
}

// formatMetrics renders the canonical metrics vector in model.Metrics()
// order, deriving elapsed_us and cpu_id the same way interval.Engine does.
func formatMetrics(rec interval.Record) []string {
	elapsedUs := (rec.EndTime - rec.StartTime) / 1000
	raw := []uint64{
		rec.StartTime,
		rec.EndTime,
		rec.Counters.CPUCycles,
		rec.Counters.Instructions,
		rec.Counters.CacheReferences,
		rec.Counters.CacheMisses,
		rec.Counters.RefCPUCycles,
		rec.Counters.NetworkBytesRead,
		rec.Counters.NetworkBytesWritten,
		rec.Counters.DiskBytesRead,
		rec.Counters.DiskBytesWritten,
		rec.Counters.MemoryBytes,
		elapsedUs,
		rec.InvocationCount,
		uint64(rec.PID),
		uint64(rec.EndCPU),
	}

	metrics := model.Metrics()
	out := make([]string, len(metrics))
	for i, m := range metrics {
		out[i] = formatValue(m.Type, raw[i])
	}
	return out
}

// formatValue renders raw according to t: floating types reinterpret raw as
// an IEEE-754 bit pattern and print with 3 decimal digits; signed integer
// types sign-extend; everything else prints as an unsigned decimal.
func formatValue(t model.BPFType, raw uint64) string {
	switch t {
	case model.TypeFloat:
		return strconv.FormatFloat(float64(math.Float32frombits(uint32(raw))), 'f', 3, 32)
	case model.TypeDouble:
		return strconv.FormatFloat(math.Float64frombits(raw), 'f', 3, 64)
	case model.TypeI8, model.TypeI16, model.TypeI32, model.TypeI64:
		return strconv.FormatInt(int64(raw), 10)
	default:
		return strconv.FormatUint(raw, 10)
	}
}
