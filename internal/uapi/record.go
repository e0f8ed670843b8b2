// Package uapi marshals and unmarshals the fixed-layout records that cross
// the kernel/user-space boundary: one ordinal index, one features payload,
// and the full metrics vector, packed exactly the way the generated probe
// program lays them out in memory. Because the probe program and this
// package always run on the same host, no endianness conversion is
// performed; reads use the platform's native byte order, matching spec.md
// section 3's word-alignment invariant.
package uapi

import (
	"encoding/binary"
	"fmt"

	"github.com/cmu-db/tscout/internal/interval"
)

// nativeEndian is the machine's own byte order, matching the generated
// probe program's in-memory layout on this host.
var nativeEndian = binary.NativeEndian

// RecordSize is the fixed wire size of one emitted record: a uint32
// ordinal index, the canonical features payload, and the metrics vector.
const (
	featuresSize = 4*3 + 8 + 4 + 8 + 8 // plan ids (3xi32) + query_id(u64) + db_id(u32) + stmt_ts(u64) + payload(u64)
	metricsSize  = 8*13 + 4 + 4        // 13 u64 fields + pid(u32) + cpu_id(u32)
	RecordSize   = 4 + featuresSize + metricsSize
)

// MarshalError reports a fixed-layout encode/decode failure.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

// UnmarshalRecord decodes a RecordSize-byte buffer produced by the probe
// program into an interval.Record. OUIndex, BeginCPU/EndCPU bookkeeping
// fields that only exist on the Go side (not emitted on the wire) are left
// zero; callers that need them already have them from the perf buffer's
// routing (one buffer per OU).
func UnmarshalRecord(ouIndex int, data []byte) (interval.Record, error) {
	if len(data) < RecordSize {
		return interval.Record{}, MarshalError(fmt.Sprintf("uapi: record too short: got %d bytes, want %d", len(data), RecordSize))
	}

	off := 0
	readU32 := func() uint32 {
		v := nativeEndian.Uint32(data[off:])
		off += 4
		return v
	}
	readI32 := func() int32 { return int32(readU32()) }
	readU64 := func() uint64 {
		v := nativeEndian.Uint64(data[off:])
		off += 8
		return v
	}

	wireOUIndex := readU32()
	if int(wireOUIndex) != ouIndex {
		return interval.Record{}, MarshalError(fmt.Sprintf("uapi: record ordinal mismatch: buffer for %d carried %d", ouIndex, wireOUIndex))
	}

	rec := interval.Record{OUIndex: ouIndex}
	rec.Features.PlanNodeID = readI32()
	rec.Features.LeftChildPlanNodeID = readI32()
	rec.Features.RightChildPlanNodeID = readI32()
	rec.Features.QueryID = readU64()
	rec.Features.DBID = readU32()
	rec.Features.StatementTimestamp = readU64()
	rec.Features.Payload = readU64()

	rec.StartTime = readU64()
	rec.EndTime = readU64()
	rec.Counters.CPUCycles = readU64()
	rec.Counters.Instructions = readU64()
	rec.Counters.CacheReferences = readU64()
	rec.Counters.CacheMisses = readU64()
	rec.Counters.RefCPUCycles = readU64()
	rec.Counters.NetworkBytesRead = readU64()
	rec.Counters.NetworkBytesWritten = readU64()
	rec.Counters.DiskBytesRead = readU64()
	rec.Counters.DiskBytesWritten = readU64()
	rec.Counters.MemoryBytes = readU64()
	rec.InvocationCount = readU64()
	rec.PID = readU32()
	rec.EndCPU = readU32()

	return rec, nil
}

// MarshalRecord encodes rec into the same fixed layout UnmarshalRecord
// reads. Used by tests and by the pure-Go simulation mode in
// internal/collector to produce buffers indistinguishable from a real
// probe program's output.
func MarshalRecord(rec interval.Record) []byte {
	buf := make([]byte, RecordSize)
	MarshalRecordInto(buf, rec)
	return buf
}

// MarshalRecordInto encodes rec into buf, which must be at least
// RecordSize bytes long, without allocating. Collector uses this to fill a
// buffer leased from internal/queue's pool instead of allocating one row
// at a time on the polling hot path.
func MarshalRecordInto(buf []byte, rec interval.Record) {
	_ = buf[RecordSize-1] // bounds check hint, mirrors encoding/binary's own idiom
	off := 0
	writeU32 := func(v uint32) {
		nativeEndian.PutUint32(buf[off:], v)
		off += 4
	}
	writeI32 := func(v int32) { writeU32(uint32(v)) }
	writeU64 := func(v uint64) {
		nativeEndian.PutUint64(buf[off:], v)
		off += 8
	}

	writeU32(uint32(rec.OUIndex))
	writeI32(rec.Features.PlanNodeID)
	writeI32(rec.Features.LeftChildPlanNodeID)
	writeI32(rec.Features.RightChildPlanNodeID)
	writeU64(rec.Features.QueryID)
	writeU32(rec.Features.DBID)
	writeU64(rec.Features.StatementTimestamp)
	writeU64(rec.Features.Payload)

	writeU64(rec.StartTime)
	writeU64(rec.EndTime)
	writeU64(rec.Counters.CPUCycles)
	writeU64(rec.Counters.Instructions)
	writeU64(rec.Counters.CacheReferences)
	writeU64(rec.Counters.CacheMisses)
	writeU64(rec.Counters.RefCPUCycles)
	writeU64(rec.Counters.NetworkBytesRead)
	writeU64(rec.Counters.NetworkBytesWritten)
	writeU64(rec.Counters.DiskBytesRead)
	writeU64(rec.Counters.DiskBytesWritten)
	writeU64(rec.Counters.MemoryBytes)
	writeU64(rec.InvocationCount)
	writeU32(rec.PID)
	writeU32(rec.EndCPU)
}
