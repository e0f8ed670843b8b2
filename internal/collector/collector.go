// Package collector implements the per-tracked-PID worker: it materializes
// and loads a probe program, attaches its markers, polls every Operating
// Unit's perf buffer until told to stop, and forwards decoded records to
// the matching Processor queue.
package collector

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/cmu-db/tscout/internal/constants"
	"github.com/cmu-db/tscout/internal/interfaces"
	"github.com/cmu-db/tscout/internal/logging"
	"github.com/cmu-db/tscout/internal/model"
	"github.com/cmu-db/tscout/internal/probebuilder"
	"github.com/cmu-db/tscout/internal/queue"
	"github.com/cmu-db/tscout/internal/uapi"
)

// Config wires one Collector to its tracked PID, probe loader, per-OU perf
// readers, and the queues those readers feed.
type Config struct {
	PID uint32

	Model       *model.Model
	ProbeLoader interfaces.ProbeLoader

	// PerfReaders holds one reader per Operating Unit, keyed by ordinal
	// index. A Collector with a reader missing for some OU simply never
	// polls that OU, which is normal for an OU the running binary never
	// invokes. Ignored once ProbeLoader also implements
	// interfaces.PerfReaderProvider, since real per-OU perf maps cannot
	// exist until after a successful Load.
	PerfReaders map[int]interfaces.PerfReader

	// Queues holds the destination queue for each OU's decoded rows, keyed
	// by the same ordinal index as PerfReaders.
	Queues map[int]*queue.OUQueue

	Observer interfaces.Observer
	Logger   *logging.Logger

	// ClientSocketFD is the fork_backend-supplied socket descriptor, used
	// for network byte counting. nil for background workers.
	ClientSocketFD *int

	// MaxCPUs bounds the per-CPU state the generated probe program
	// allocates; it should match the online CPU count.
	MaxCPUs int

	// RunFlag is the shared flag the Lifecycle Supervisor clears to signal
	// this Collector should drain and exit. A Collector with a nil RunFlag
	// runs until ctx is cancelled.
	RunFlag *atomic.Bool
}

// Collector is one running instance of the per-PID worker described above.
type Collector struct {
	cfg       Config
	logger    *logging.Logger
	lostTotal atomic.Uint64
	dropTotal atomic.Uint64
}

// New constructs a Collector, filling in a NoOpObserver and the default
// logger if the caller left them unset.
func New(cfg Config) *Collector {
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Collector{cfg: cfg, logger: logger}
}

// Run builds and loads the probe program, attaches it, and polls every
// configured OU's perf buffer until every reader reports closed or ctx is
// cancelled. It blocks until all polling goroutines exit, then logs the
// summary lost-events line.
func (c *Collector) Run(ctx context.Context) error {
	source, err := probebuilder.Build(c.cfg.Model, probebuilder.Params{
		MaxCPUs:        c.cfg.MaxCPUs,
		ClientSocketFD: c.cfg.ClientSocketFD,
	})
	if err != nil {
		return fmt.Errorf("collector: building probe program for pid %d: %w", c.cfg.PID, err)
	}

	if err := c.cfg.ProbeLoader.Load(ctx, c.cfg.PID, source, c.cfg.ClientSocketFD); err != nil {
		return fmt.Errorf("collector: loading probe program for pid %d: %w", c.cfg.PID, err)
	}
	if err := c.cfg.ProbeLoader.Attach(ctx); err != nil {
		_ = c.cfg.ProbeLoader.Unload()
		return fmt.Errorf("collector: attaching probes for pid %d: %w", c.cfg.PID, err)
	}
	defer func() {
		_ = c.cfg.ProbeLoader.Detach()
		_ = c.cfg.ProbeLoader.Unload()
	}()

	readers := c.cfg.PerfReaders
	if provider, ok := c.cfg.ProbeLoader.(interfaces.PerfReaderProvider); ok {
		r, err := provider.PerfReaders()
		if err != nil {
			return fmt.Errorf("collector: opening perf readers for pid %d: %w", c.cfg.PID, err)
		}
		readers = r
	}

	var wg sync.WaitGroup
	for ouIndex, reader := range readers {
		wg.Add(1)
		go c.pollOU(ctx, ouIndex, reader, &wg)
	}
	wg.Wait()

	c.logger.Infof("collector pid=%d done: %d lost events, %d queue drops",
		c.cfg.PID, c.lostTotal.Load(), c.dropTotal.Load())
	return nil
}

// LostEvents reports the cumulative count of kernel-reported dropped
// samples across every OU this Collector polled.
func (c *Collector) LostEvents() uint64 { return c.lostTotal.Load() }

// QueueDrops reports the cumulative count of records dropped because a
// destination queue was full.
func (c *Collector) QueueDrops() uint64 { return c.dropTotal.Load() }

// pollOU repeatedly reads decoded records for one OU's perf buffer, using a
// bounded per-poll timeout so the run-flag and ctx cancellation are checked
// between polls rather than only when a record arrives.
func (c *Collector) pollOU(ctx context.Context, ouIndex int, reader interfaces.PerfReader, wg *sync.WaitGroup) {
	defer wg.Done()

	// Pin to an OS thread so the affinity set below actually sticks, then
	// spread OUs round-robin across the online CPUs rather than letting the
	// Go scheduler bounce every poller onto whichever CPU is free.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if c.cfg.MaxCPUs > 0 {
		var mask unix.CPUSet
		mask.Set(ouIndex % c.cfg.MaxCPUs)
		if err := unix.SchedSetaffinity(0, &mask); err != nil {
			c.logger.Debugf("collector pid=%d ou=%d: failed to set CPU affinity: %v", c.cfg.PID, ouIndex, err)
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if c.cfg.RunFlag != nil && !c.cfg.RunFlag.Load() {
			return
		}

		pollCtx, cancel := context.WithTimeout(ctx, constants.PerfPollTimeout)
		rec, lost, err := reader.Read(pollCtx)
		cancel()

		if lost > 0 {
			c.lostTotal.Add(lost)
			c.cfg.Observer.ObserveLostEvents(ouIndex, lost)
		}

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			c.logger.Debugf("collector pid=%d ou=%d: reader closed: %v", c.cfg.PID, ouIndex, err)
			return
		}

		q := c.cfg.Queues[ouIndex]
		if q == nil {
			continue
		}
		row := queue.GetBuffer(uapi.RecordSize)
		uapi.MarshalRecordInto(row, rec)
		if !q.TryEnqueue(row) {
			queue.PutBuffer(row)
			c.dropTotal.Add(1)
			c.cfg.Observer.ObserveQueueDrop(ouIndex)
			continue
		}
		c.cfg.Observer.ObserveRecord(ouIndex, rec.EndTime-rec.StartTime)
		c.cfg.Observer.ObserveQueueDepth(ouIndex, q.Len())
	}
}

// noopObserver is the zero-value Observer used when a Collector is built
// without one.
type noopObserver struct{}

func (noopObserver) ObserveRecord(int, uint64)     {}
func (noopObserver) ObserveLostEvents(int, uint64) {}
func (noopObserver) ObserveQueueDepth(int, int)    {}
func (noopObserver) ObserveQueueDrop(int)          {}

var _ interfaces.Observer = noopObserver{}
