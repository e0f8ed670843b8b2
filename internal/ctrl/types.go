package ctrl

// ProbeParams configures one Controller.Load call: the generated probe
// program for a single tracked PID, plus the handful of runtime knobs the
// loader needs to decide how to attach it.
type ProbeParams struct {
	// PID is the tracked backend process. One Controller loads exactly
	// one probe program against exactly one PID, per spec.md section
	// 4.2's one-Collector-per-PID rule.
	PID uint32

	// ProgramObject is the compiled BPF object produced from
	// internal/probebuilder's generated C source; Controller never
	// invokes a compiler itself, only a loader.
	ProgramObject []byte

	// ClientSocketFD, when non-nil, is wired into the loaded program's
	// CLIENT_SOCKET_FD so network-bytes metrics can attribute traffic to
	// the right file descriptor. Nil means the backend has not yet
	// accepted a client connection.
	ClientSocketFD *int

	// PinPath, if non-empty, pins the loaded program's maps under this
	// bpffs path so a crashed Collector's state can be recovered instead
	// of requiring a full re-attach.
	PinPath string
}

// DefaultProbeParams returns sensible defaults for pid, with no client
// socket yet known and no pinning.
func DefaultProbeParams(pid uint32) ProbeParams {
	return ProbeParams{PID: pid}
}

// ProbeInfo reports what got attached, for logging and the Collector's
// bookkeeping.
type ProbeInfo struct {
	PID uint32

	// MarkerCount is the number of USDT-equivalent markers successfully
	// attached (begin/end/flush, plus feature markers where the OU
	// defines one).
	MarkerCount int

	// PerfMapFDs maps each Operating Unit's ordinal index to the file
	// descriptor of its perf event array map (collector_results_<index>),
	// handed to internal/collector to construct a cilium/ebpf/perf.Reader
	// against. An OU the running binary never invokes still gets a map,
	// since the generated program declares one per OU in the Model
	// regardless of whether it was ever hit.
	PerfMapFDs map[int]int
}
