// Package interfaces provides internal interface definitions for tscout.
// These are separate from the concrete internal/ctrl, internal/collector
// and internal/scraper implementations to avoid circular imports and to
// give tests a narrow seam to mock against.
package interfaces

import (
	"context"

	"github.com/cmu-db/tscout/internal/interval"
)

// ProbeLoader loads a generated probe program against a tracked PID,
// attaches its USDT-equivalent markers, and tears them down again. One
// loader instance belongs to exactly one Collector.
type ProbeLoader interface {
	Load(ctx context.Context, pid uint32, programSource string, clientSocketFD *int) error
	Attach(ctx context.Context) error
	Detach() error
	Unload() error
}

// PerfReader polls one OU's perf buffer for decoded records. Real
// implementations wrap github.com/cilium/ebpf/perf.Reader; test doubles
// replay canned records.
type PerfReader interface {
	// Read blocks until a record is available, the reader is closed, or
	// ctx is cancelled. lost is the number of samples the kernel dropped
	// since the last Read, used for the Lost event accounting in spec.md
	// section 7.
	Read(ctx context.Context) (rec interval.Record, lost uint64, err error)
	Close() error
}

// PerfReaderProvider is implemented by a ProbeLoader that can hand out one
// PerfReader per Operating Unit once its probe program has been loaded. A
// Collector queries it after Load succeeds, since the per-OU perf maps
// only exist once the generated program is loaded into the kernel.
type PerfReaderProvider interface {
	PerfReaders() (map[int]PerfReader, error)
}

// LifecycleEventKind enumerates the four postmaster lifecycle markers the
// Supervisor attaches to.
type LifecycleEventKind int

const (
	ForkBackend LifecycleEventKind = iota
	ForkBackground
	ReapBackend
	ReapBackground
)

// LifecycleEvent is one decoded postmaster fork/reap notification.
type LifecycleEvent struct {
	Kind LifecycleEventKind
	PID  uint32

	// ClientSocketFD is set only for ForkBackend events.
	ClientSocketFD *int
}

// LifecycleWatcher polls the postmaster's lifecycle probe buffer for
// fork/reap events. Real implementations wrap cilium/ebpf/perf.Reader over
// the postmaster_events map; test doubles replay canned events.
type LifecycleWatcher interface {
	Watch(ctx context.Context) (LifecycleEvent, error)
	Close() error
}

// Logger is the narrow logging surface internal packages depend on,
// matching internal/logging.Logger's printf-style methods.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer receives Collector-level telemetry for metrics collection.
// Implementations must be thread-safe; methods are called from the poll
// loop.
type Observer interface {
	ObserveRecord(ouIndex int, latencyNs uint64)
	ObserveLostEvents(ouIndex int, count uint64)
	ObserveQueueDepth(ouIndex int, depth int)
	ObserveQueueDrop(ouIndex int)
}

// ScraperConn is the narrow surface internal/scraper needs from a database
// connection, letting tests substitute an in-memory fake instead of a real
// pgx connection.
type ScraperConn interface {
	QueryRows(ctx context.Context, sql string) (columns []string, rows [][]any, err error)
	Close(ctx context.Context) error
}
