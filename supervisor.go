package tscout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cmu-db/tscout/internal/collector"
	"github.com/cmu-db/tscout/internal/config"
	"github.com/cmu-db/tscout/internal/ctrl"
	"github.com/cmu-db/tscout/internal/interfaces"
	"github.com/cmu-db/tscout/internal/logging"
	"github.com/cmu-db/tscout/internal/model"
	"github.com/cmu-db/tscout/internal/processor"
	"github.com/cmu-db/tscout/internal/queue"
	"github.com/cmu-db/tscout/internal/scraper"
)

// reapJoinTimeout bounds how long reapCollector waits for a reaped PID's
// Collector to drain before giving up and logging a warning; the Collector
// itself keeps running to completion regardless.
const reapJoinTimeout = 5 * time.Second

// ProbeLoaderFactory constructs a fresh interfaces.ProbeLoader for one
// newly forked backend PID. Production wiring points this at
// ctrl.NewController; tests substitute a factory returning MockProbeLoader
// (or MockProbeLoaderWithReaders, to exercise the dynamic-discovery path).
type ProbeLoaderFactory func(pid uint32) interfaces.ProbeLoader

// SinkFactory opens the output destination for one Operating Unit,
// reporting whether a header row still needs writing. The default,
// production factory is processor.OpenFile against Config.OutDir; tests
// substitute one backed by processor.NewMemorySink.
type SinkFactory func(ou model.OperatingUnit) (sink io.WriteCloser, writeHeader bool, err error)

// SupervisorConfig wires together everything one tracked postmaster run
// needs. Only Model, Settings, and Lifecycle are required; the rest fall
// back to production defaults when left zero.
type SupervisorConfig struct {
	Model    *model.Model
	Settings config.Config

	// Lifecycle watches the tracked postmaster's fork/reap event stream.
	// Production callers pass a ctrl.NewLifecycleController(); tests pass
	// a MockLifecycleWatcher.
	Lifecycle interfaces.LifecycleWatcher

	// NewProbeLoader builds one ProbeLoader per forked backend PID.
	// Defaults to wrapping ctrl.NewController.
	NewProbeLoader ProbeLoaderFactory

	// Sinks opens one Operating Unit's output destination. Defaults to
	// processor.OpenFile against Settings.OutDir/Append.
	Sinks SinkFactory

	// ScraperConn is the already-connected external SQL Scraper
	// connection. Nil disables the Scraper entirely, which is the
	// correct behavior when Settings.ScraperDSN was left empty.
	ScraperConn interfaces.ScraperConn

	// QueueCapacity bounds each OU's queue; 0 means unbounded, per
	// internal/queue's default policy.
	QueueCapacity int

	// MaxCPUs bounds the per-CPU state each Collector's probe program
	// allocates. Defaults to runtime.NumCPU() when left 0.
	MaxCPUs int

	Observer interfaces.Observer
	Logger   *logging.Logger
}

// Supervisor is the Lifecycle Supervisor described in section 4.5: it
// mirrors a tracked postmaster's backend/background worker population into
// one Collector per live PID, owns the one Processor per Operating Unit
// and the external SQL Scraper for the whole run, and sequences shutdown
// so every buffered row reaches disk before the process exits.
type Supervisor struct {
	cfg SupervisorConfig

	model  *model.Model
	logger *logging.Logger

	queues     map[int]*queue.OUQueue
	processors map[int]*processor.Processor

	scraper *scraper.Scraper

	mu         sync.Mutex
	collectors map[uint32]*trackedCollector

	collectorWG sync.WaitGroup
	processorWG sync.WaitGroup
	scraperWG   sync.WaitGroup
}

// trackedCollector pairs one running Collector with the run-flag the
// Supervisor clears on reap and a channel closed once its goroutine
// returns, so reapCollector can honor the "join the Collector (bounded
// wait)" rule without blocking every other in-flight lifecycle event.
type trackedCollector struct {
	collector *collector.Collector
	runFlag   *atomic.Bool
	done      chan struct{}
}

// NewSupervisor builds a Supervisor's per-OU Processors and queues from
// cfg.Model, and its Scraper from cfg.ScraperConn if one was supplied. It
// does not attach to the tracked postmaster; call Run for that.
func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("tscout: supervisor requires a Model")
	}
	if cfg.Lifecycle == nil {
		return nil, fmt.Errorf("tscout: supervisor requires a LifecycleWatcher")
	}
	if cfg.NewProbeLoader == nil {
		cfg.NewProbeLoader = func(pid uint32) interfaces.ProbeLoader { return ctrl.NewController() }
	}
	if cfg.Sinks == nil {
		cfg.Sinks = func(ou model.OperatingUnit) (io.WriteCloser, bool, error) {
			return processor.OpenFile(cfg.Settings.OutDir, ou, cfg.Settings.Append)
		}
	}
	if cfg.Observer == nil {
		cfg.Observer = NoOpObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	s := &Supervisor{
		cfg:        cfg,
		model:      cfg.Model,
		logger:     cfg.Logger,
		queues:     make(map[int]*queue.OUQueue),
		processors: make(map[int]*processor.Processor),
		collectors: make(map[uint32]*trackedCollector),
	}

	for _, ou := range cfg.Model.OperatingUnits() {
		sink, writeHeader, err := cfg.Sinks(ou)
		if err != nil {
			return nil, fmt.Errorf("tscout: opening sink for %s: %w", ou.Name(), err)
		}
		q := queue.NewOUQueue(cfg.QueueCapacity)
		s.queues[ou.Index] = q
		s.processors[ou.Index] = processor.New(ou, q, sink, writeHeader, cfg.Logger)
	}

	if cfg.ScraperConn != nil {
		s.scraper = scraper.New(cfg.ScraperConn, cfg.Settings, cfg.Logger)
	}

	return s, nil
}

// Run starts every Processor and the Scraper, then watches the tracked
// postmaster's lifecycle events until ctx is cancelled, at which point it
// runs the full shutdown sequence from section 4.5 before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	for idx, p := range s.processors {
		s.processorWG.Add(1)
		go func(idx int, p *processor.Processor) {
			defer s.processorWG.Done()
			if err := p.Run(ctx); err != nil {
				s.logger.Warnf("supervisor: processor ou=%d: %v", idx, err)
			}
		}(idx, p)
	}

	if s.scraper != nil {
		s.scraperWG.Add(1)
		go func() {
			defer s.scraperWG.Done()
			if err := s.scraper.Run(ctx); err != nil {
				s.logger.Warnf("supervisor: scraper: %v", err)
			}
		}()
	}

	watchErr := s.watchLifecycle(ctx)
	s.shutdown()
	return watchErr
}

// watchLifecycle polls Lifecycle for fork/reap events until ctx is done or
// a fatal protocol error (an unrecognized event type) is reported.
func (s *Supervisor) watchLifecycle(ctx context.Context) error {
	for {
		ev, err := s.cfg.Lifecycle.Watch(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			var te *Error
			if errors.As(err, &te) && te.Code.Fatal() {
				s.logger.Errorf("supervisor: fatal lifecycle error: %v", err)
				return err
			}
			s.logger.Warnf("supervisor: lifecycle watcher closed: %v", err)
			return nil
		}

		switch ev.Kind {
		case interfaces.ForkBackend, interfaces.ForkBackground:
			s.spawnCollector(ctx, ev.PID, ev.ClientSocketFD)
		case interfaces.ReapBackend, interfaces.ReapBackground:
			s.reapCollector(ev.PID)
		}
	}
}

// spawnCollector starts one Collector for a freshly forked PID and
// registers it under the Supervisor's PID-keyed map, per the fork_backend
// / fork_background handling in section 4.5.
func (s *Supervisor) spawnCollector(ctx context.Context, pid uint32, clientSocketFD *int) {
	runFlag := &atomic.Bool{}
	runFlag.Store(true)

	c := collector.New(collector.Config{
		PID:            pid,
		Model:          s.model,
		ProbeLoader:    s.cfg.NewProbeLoader(pid),
		Queues:         s.queues,
		Observer:       s.cfg.Observer,
		Logger:         s.cfg.Logger,
		ClientSocketFD: clientSocketFD,
		MaxCPUs:        s.cfg.MaxCPUs,
		RunFlag:        runFlag,
	})
	tc := &trackedCollector{collector: c, runFlag: runFlag, done: make(chan struct{})}

	s.mu.Lock()
	s.collectors[pid] = tc
	s.mu.Unlock()

	s.collectorWG.Add(1)
	go func() {
		defer s.collectorWG.Done()
		defer close(tc.done)
		if err := c.Run(ctx); err != nil {
			s.logger.Warnf("supervisor: collector pid=%d: %v", pid, err)
		}
	}()
}

// reapCollector clears the run-flag for pid, waits (bounded) for its
// Collector to finish draining, and removes it from the tracked map, per
// the reap_backend / reap_background handling in section 4.5. A PID that
// the Supervisor never saw forked (e.g. it predates this run) is a no-op.
func (s *Supervisor) reapCollector(pid uint32) {
	s.mu.Lock()
	tc, ok := s.collectors[pid]
	if ok {
		delete(s.collectors, pid)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	tc.runFlag.Store(false)
	select {
	case <-tc.done:
	case <-time.After(reapJoinTimeout):
		s.logger.Warnf("supervisor: collector pid=%d did not exit within %s of reap", pid, reapJoinTimeout)
	}
}

// shutdown runs the ordered teardown from section 4.5: every run-flag is
// cleared and every Collector joined first, so no Processor queue can
// receive another row; only then are the queues poisoned and the
// Processors joined; the Scraper is joined and flushed last, after every
// per-OU CSV is already complete.
func (s *Supervisor) shutdown() {
	s.mu.Lock()
	remaining := make([]*trackedCollector, 0, len(s.collectors))
	for pid, tc := range s.collectors {
		tc.runFlag.Store(false)
		remaining = append(remaining, tc)
		delete(s.collectors, pid)
	}
	s.mu.Unlock()

	for _, tc := range remaining {
		<-tc.done
	}
	s.collectorWG.Wait()

	for _, q := range s.queues {
		q.Poison()
	}
	s.processorWG.Wait()

	s.scraperWG.Wait()
	if s.scraper != nil {
		if err := s.scraper.Flush(s.cfg.Settings.OutDir, s.cfg.Settings.Append); err != nil {
			s.logger.Errorf("supervisor: scraper flush: %v", err)
		}
	}
}

// Collectors reports the PIDs currently tracked, for tests and diagnostics.
func (s *Supervisor) Collectors() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	pids := make([]uint32, 0, len(s.collectors))
	for pid := range s.collectors {
		pids = append(pids, pid)
	}
	return pids
}
