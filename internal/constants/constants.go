package constants

import "time"

// Default configuration constants, overridable via internal/config.Config.
const (
	// DefaultCollectorSlowIntervalSeconds is how often the scraper samples
	// the infrequent catalog targets (pg_class, pg_index, pg_attribute).
	DefaultCollectorSlowIntervalSeconds = 60

	// DefaultCollectorFastIntervalSeconds is how often the scraper samples
	// the frequent targets (pg_settings, pg_stat_activity-derived knobs).
	DefaultCollectorFastIntervalSeconds = 1

	// DefaultQueueCapacity is the default per-OU queue bound, 0 meaning
	// unbounded. A positive override trades memory safety for back-pressure
	// visibility via the drop counters in internal/collector.
	DefaultQueueCapacity = 0
)

// Polling and shutdown timing.
//
// These delays account for perf ring-buffer flush latency and the time a
// tracked backend process takes to exit after its socket closes. Collector
// shutdown must outlast any in-flight marker that fired just before the
// run-flag was cleared, or the final few invocations are lost instead of
// flushed.
const (
	// PerfPollTimeout bounds how long a Collector's perf.Reader.Read call
	// blocks before re-checking its run-flag. Short enough that shutdown
	// is prompt, long enough to avoid a busy-poll loop under light load.
	PerfPollTimeout = 200 * time.Millisecond

	// ShutdownGracePeriod is how long the Supervisor waits for all
	// Collectors to observe a cleared run-flag and exit their poll loops
	// before it proceeds to poison the Processors.
	ShutdownGracePeriod = 2 * time.Second

	// ProcessVanishPollInterval is how often the Supervisor checks whether
	// a tracked PID's /proc entry still exists, to detect a backend that
	// exited without the Supervisor seeing it on the listen socket.
	ProcessVanishPollInterval = 250 * time.Millisecond
)

// Buffer and stack sizing.
const (
	// MaxStackDepth bounds the Interval Engine's per-(PID,CPU) nesting
	// depth. Mirrors internal/interval.MaxStackDepth; kept here too since
	// the probe program template needs the same constant independently of
	// the Go package that imports it.
	MaxStackDepth = 16
)
