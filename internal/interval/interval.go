// Package interval is a Go-side reference model of the Interval Engine
// described in spec.md section 4.3. The actual engine runs inside the
// generated eBPF program (internal/probebuilder); this package exists so
// the engine's state-machine semantics — nesting, CPU migration, the
// either-or features decision — are expressible and testable without a
// kernel, and so the Collector has a pure-Go simulation mode for
// environments where loading a real probe program is not possible (tests,
// non-Linux development).
package interval

import (
	"fmt"
)

// MaxStackDepth is the fixed-depth stack bound per spec.md section 4.3: a
// compile-time constant guarding against runaway recursion. Overflow is
// counted and dropped silently at the top of the stack.
const MaxStackDepth = 16

// CounterSnapshot is a point-in-time read of the hardware/software counters
// the Engine tracks, keyed by the metric names that participate in the
// accumulator (internal/model.AccumulatedMetrics, minus elapsed_us and
// invocation_count which the Engine derives rather than snapshots).
type CounterSnapshot struct {
	CPUCycles            uint64
	Instructions         uint64
	CacheReferences      uint64
	CacheMisses          uint64
	RefCPUCycles         uint64
	NetworkBytesRead     uint64
	NetworkBytesWritten  uint64
	DiskBytesRead        uint64
	DiskBytesWritten     uint64
	MemoryBytes          uint64
}

func (c CounterSnapshot) sub(base CounterSnapshot) CounterSnapshot {
	return CounterSnapshot{
		CPUCycles:           c.CPUCycles - base.CPUCycles,
		Instructions:        c.Instructions - base.Instructions,
		CacheReferences:     c.CacheReferences - base.CacheReferences,
		CacheMisses:         c.CacheMisses - base.CacheMisses,
		RefCPUCycles:        c.RefCPUCycles - base.RefCPUCycles,
		NetworkBytesRead:    c.NetworkBytesRead - base.NetworkBytesRead,
		NetworkBytesWritten: c.NetworkBytesWritten - base.NetworkBytesWritten,
		DiskBytesRead:       c.DiskBytesRead - base.DiskBytesRead,
		DiskBytesWritten:    c.DiskBytesWritten - base.DiskBytesWritten,
		MemoryBytes:         c.MemoryBytes - base.MemoryBytes,
	}
}

func (c *CounterSnapshot) add(delta CounterSnapshot) {
	c.CPUCycles += delta.CPUCycles
	c.Instructions += delta.Instructions
	c.CacheReferences += delta.CacheReferences
	c.CacheMisses += delta.CacheMisses
	c.RefCPUCycles += delta.RefCPUCycles
	c.NetworkBytesRead += delta.NetworkBytesRead
	c.NetworkBytesWritten += delta.NetworkBytesWritten
	c.DiskBytesRead += delta.DiskBytesRead
	c.DiskBytesWritten += delta.DiskBytesWritten
	c.MemoryBytes += delta.MemoryBytes
}

// Features is an opaque per-invocation payload carried alongside the
// accumulated metrics. The Engine never interprets it.
type Features struct {
	PlanNodeID            int32
	LeftChildPlanNodeID   int32
	RightChildPlanNodeID  int32
	QueryID               uint64
	DBID                  uint32
	StatementTimestamp    uint64
	Payload               uint64
}

// Record is the tuple emitted to a perf buffer on flush: ordinal index,
// features payload, and the full metrics vector (spec.md section 3
// invariant).
type Record struct {
	OUIndex         int
	PID             uint32
	BeginCPU        uint32
	EndCPU          uint32
	StartTime       uint64
	EndTime         uint64
	InvocationCount uint64
	Features        Features
	Counters        CounterSnapshot
}

// frame is one active invocation on a PID's call stack.
type frame struct {
	ouIndex         int
	startTime       uint64
	startTimeFinal  uint64
	endTimeFinal    uint64
	baseline        CounterSnapshot
	beginCPU        uint32
	endCPU          uint32
	pid             uint32
	features        Features
	featuresSet     bool
	totals          CounterSnapshot
	invocationCount uint64
	done            bool
}

// Engine is the state machine for one tracked process's single logical
// call stack. A backend or background worker runs on exactly one CPU at a
// time but may migrate between invocations of nested operators, so frames
// are tracked on one stack per PID rather than partitioned per CPU; cpu_id
// is recorded on each frame as metadata, not used to select which stack a
// marker call applies to. One Engine belongs to exactly one Collector.
type Engine struct {
	pid   uint32
	stack []*frame
	// overflowDrops counts _begin calls dropped because the stack was
	// already at MaxStackDepth.
	overflowDrops uint64
	// danglingFlushes counts _flush calls with no matching frame.
	danglingFlushes uint64
	// duplicateFeatures counts a second features marker firing on a frame
	// that already received one, per the either-or decision in DESIGN.md.
	duplicateFeatures uint64
}

// NewEngine constructs an Engine for the given tracked PID.
func NewEngine(pid uint32) *Engine {
	return &Engine{pid: pid}
}

// Begin pushes a new frame for ouIndex, snapshotting counters as the
// frame's baseline and cpu as its starting cpu_id. If the stack is already
// at MaxStackDepth, the push is silently dropped and counted.
func (e *Engine) Begin(cpu uint32, ouIndex int, now uint64, counters CounterSnapshot) {
	if len(e.stack) >= MaxStackDepth {
		e.overflowDrops++
		return
	}
	f := &frame{
		ouIndex:   ouIndex,
		startTime: now,
		baseline:  counters,
		beginCPU:  cpu,
		pid:       e.pid,
	}
	e.stack = append(e.stack, f)
}

// SetFeatures copies payload into the top frame's features slot, honoring
// the either-or decision: the first features marker to fire on an open
// frame wins; a second is logged as a duplicate and ignored.
func (e *Engine) SetFeatures(cpu uint32, payload Features) error {
	f := e.top()
	if f == nil {
		return fmt.Errorf("interval: features marker with no open frame on cpu %d", cpu)
	}
	if f.featuresSet {
		e.duplicateFeatures++
		return nil
	}
	f.features = payload
	f.featuresSet = true
	return nil
}

// End computes the delta between counters and the top frame's baseline,
// adds the delta into the frame's running totals (and, if a parent frame
// exists on the stack, into the parent's totals too, per spec.md section
// 4.3's nested-charging rule), and increments invocation_count. The
// frame's recorded end CPU is always the CPU End was called on, per the
// CPU-migration decision in DESIGN.md, even when it differs from the CPU
// Begin was called on.
func (e *Engine) End(cpu uint32, now uint64, counters CounterSnapshot) error {
	f := e.top()
	if f == nil {
		return fmt.Errorf("interval: end marker with no open frame on cpu %d", cpu)
	}
	delta := counters.sub(f.baseline)
	f.endCPU = cpu
	endTime := now
	f.totals.add(delta)
	f.invocationCount++
	f.done = true
	f.startTimeFinal, f.endTimeFinal = f.startTime, endTime

	if len(e.stack) >= 2 {
		parent := e.stack[len(e.stack)-2]
		parent.totals.add(delta)
	}
	return nil
}

// Flush pops the top frame for ouIndex and returns its emitted Record. cpu
// is accepted for symmetry with the other marker calls but does not
// affect routing, since the stack it pops from is already keyed by PID
// alone. A flush with no matching frame (e.g. because the matching begin
// overflowed the stack) is a documented no-op and is counted rather than
// erroring.
func (e *Engine) Flush(cpu uint32, ouIndex int) (Record, bool) {
	if len(e.stack) == 0 {
		e.danglingFlushes++
		return Record{}, false
	}
	top := e.stack[len(e.stack)-1]
	if top.ouIndex != ouIndex || !top.done {
		e.danglingFlushes++
		return Record{}, false
	}
	e.stack = e.stack[:len(e.stack)-1]

	return Record{
		OUIndex:         top.ouIndex,
		PID:             top.pid,
		BeginCPU:        top.beginCPU,
		EndCPU:          top.endCPU,
		StartTime:       top.startTimeFinal,
		EndTime:         top.endTimeFinal,
		InvocationCount: top.invocationCount,
		Features:        top.features,
		Counters:        top.totals,
	}, true
}

func (e *Engine) top() *frame {
	if len(e.stack) == 0 {
		return nil
	}
	return e.stack[len(e.stack)-1]
}

// OverflowDrops returns the count of _begin calls dropped due to stack
// overflow.
func (e *Engine) OverflowDrops() uint64 { return e.overflowDrops }

// DanglingFlushes returns the count of _flush calls with no matching frame.
func (e *Engine) DanglingFlushes() uint64 { return e.danglingFlushes }

// DuplicateFeatures returns the count of features markers that fired on an
// already-featured frame.
func (e *Engine) DuplicateFeatures() uint64 { return e.duplicateFeatures }
