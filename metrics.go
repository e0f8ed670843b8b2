package tscout

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cmu-db/tscout/internal/interfaces"
	"github.com/cmu-db/tscout/internal/model"
)

// LatencyBuckets are the per-invocation elapsed-time histogram edges in
// nanoseconds, covering the range from a few-microsecond index probe to a
// multi-second aggregate plan scan.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics accumulates the operational counters named in section 7's error
// taxonomy (lost events, queue drops) alongside per-invocation latency, for
// every OU a process of Collectors observes. One Metrics instance is
// shared process-wide; per-OU breakdowns live in the perOU map.
type Metrics struct {
	RecordsEmitted atomic.Uint64
	LostEvents     atomic.Uint64
	QueueDrops     atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64

	mu    sync.Mutex
	perOU map[int]*perOUCounters
}

type perOUCounters struct {
	recordsEmitted uint64
	lostEvents     uint64
	queueDrops     uint64
	queueDepth     int
}

// NewMetrics creates a zeroed Metrics with its clock started.
func NewMetrics() *Metrics {
	m := &Metrics{perOU: make(map[int]*perOUCounters)}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) ou(ouIndex int) *perOUCounters {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.perOU[ouIndex]
	if !ok {
		c = &perOUCounters{}
		m.perOU[ouIndex] = c
	}
	return c
}

// RecordEmitted records one flushed invocation's latency.
func (m *Metrics) RecordEmitted(ouIndex int, latencyNs uint64) {
	m.RecordsEmitted.Add(1)
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}

	m.mu.Lock()
	m.ou(ouIndex).recordsEmitted++
	m.mu.Unlock()
}

// RecordLostEvents adds count to the running total of perf-buffer overflow
// drops for ouIndex, per section 7's Lost event category.
func (m *Metrics) RecordLostEvents(ouIndex int, count uint64) {
	m.LostEvents.Add(count)
	m.mu.Lock()
	m.ou(ouIndex).lostEvents += count
	m.mu.Unlock()
}

// RecordQueueDrop increments the Queue full drop counter for ouIndex.
func (m *Metrics) RecordQueueDrop(ouIndex int) {
	m.QueueDrops.Add(1)
	m.mu.Lock()
	m.ou(ouIndex).queueDrops++
	m.mu.Unlock()
}

// RecordQueueDepth records the most recently observed depth of ouIndex's
// queue, used for the drop-risk gauge.
func (m *Metrics) RecordQueueDepth(ouIndex int, depth int) {
	m.mu.Lock()
	m.ou(ouIndex).queueDepth = depth
	m.mu.Unlock()
}

// Stop marks the process as shut down, freezing uptime calculations.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time read of Metrics.
type MetricsSnapshot struct {
	RecordsEmitted uint64
	LostEvents     uint64
	QueueDrops     uint64

	AvgLatencyNs  uint64
	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	UptimeNs           uint64
	RecordsPerSecond   float64
	LostEventRate      float64
}

// Snapshot produces a MetricsSnapshot, computing derived rates and
// percentiles from the running histogram.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		RecordsEmitted: m.RecordsEmitted.Load(),
		LostEvents:     m.LostEvents.Load(),
		QueueDrops:     m.QueueDrops.Load(),
	}

	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
		snap.LatencyP50Ns = m.percentile(0.50)
		snap.LatencyP99Ns = m.percentile(0.99)
		snap.LatencyP999Ns = m.percentile(0.999)
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}
	if snap.UptimeNs > 0 {
		seconds := float64(snap.UptimeNs) / 1e9
		snap.RecordsPerSecond = float64(snap.RecordsEmitted) / seconds
	}
	total := snap.RecordsEmitted + snap.LostEvents
	if total > 0 {
		snap.LostEventRate = float64(snap.LostEvents) / float64(total) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}
	return snap
}

func (m *Metrics) percentile(p float64) uint64 {
	total := m.OpCount.Load()
	if total == 0 {
		return 0
	}
	target := uint64(float64(total) * p)
	prevBucket, prevCount := uint64(0), uint64(0)
	for i, bucket := range LatencyBuckets {
		count := m.LatencyBuckets[i].Load()
		if count >= target {
			if count == prevCount {
				return bucket
			}
			fraction := float64(target-prevCount) / float64(count-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket, prevCount = bucket, count
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters, used by tests.
func (m *Metrics) Reset() {
	m.RecordsEmitted.Store(0)
	m.LostEvents.Store(0)
	m.QueueDrops.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.mu.Lock()
	m.perOU = make(map[int]*perOUCounters)
	m.mu.Unlock()
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// NoOpObserver satisfies interfaces.Observer while discarding everything,
// used where a caller has not configured any metrics sink.
type NoOpObserver struct{}

func (NoOpObserver) ObserveRecord(int, uint64)     {}
func (NoOpObserver) ObserveLostEvents(int, uint64) {}
func (NoOpObserver) ObserveQueueDepth(int, int)    {}
func (NoOpObserver) ObserveQueueDrop(int)          {}

// MetricsObserver adapts Metrics to interfaces.Observer.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver wraps m as an interfaces.Observer.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveRecord(ouIndex int, latencyNs uint64) {
	o.metrics.RecordEmitted(ouIndex, latencyNs)
}
func (o *MetricsObserver) ObserveLostEvents(ouIndex int, count uint64) {
	o.metrics.RecordLostEvents(ouIndex, count)
}
func (o *MetricsObserver) ObserveQueueDepth(ouIndex int, depth int) {
	o.metrics.RecordQueueDepth(ouIndex, depth)
}
func (o *MetricsObserver) ObserveQueueDrop(ouIndex int) {
	o.metrics.RecordQueueDrop(ouIndex)
}

// PrometheusObserver registers the same four signals as Prometheus
// collectors, labeled by OU name, so an operator can scrape them alongside
// whatever else monitors the host without needing Metrics' in-process
// snapshot API.
type PrometheusObserver struct {
	m *model.Model

	recordsEmitted *prometheus.CounterVec
	lostEvents     *prometheus.CounterVec
	queueDrops     *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
	recordLatency  *prometheus.HistogramVec
}

// NewPrometheusObserver registers its collectors against reg and returns an
// Observer ready to pass to every Collector. m supplies OU names for
// labeling; passing a nil registry uses the default global registry.
func NewPrometheusObserver(m *model.Model, reg prometheus.Registerer) *PrometheusObserver {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		m: m,
		recordsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tscout_records_emitted_total",
			Help: "Operating unit invocations flushed to a CSV row.",
		}, []string{"ou"}),
		lostEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tscout_lost_events_total",
			Help: "Perf buffer overflow drops, per operating unit.",
		}, []string{"ou"}),
		queueDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tscout_queue_drops_total",
			Help: "Rows dropped because a bounded OU queue was full.",
		}, []string{"ou"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tscout_queue_depth",
			Help: "Most recently observed depth of a per-OU queue.",
		}, []string{"ou"}),
		recordLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tscout_record_latency_seconds",
			Help:    "Elapsed time of flushed operating unit invocations.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 10, 8),
		}, []string{"ou"}),
	}
	reg.MustRegister(o.recordsEmitted, o.lostEvents, o.queueDrops, o.queueDepth, o.recordLatency)
	return o
}

func (o *PrometheusObserver) label(ouIndex int) string {
	if ou, err := o.m.ByIndex(ouIndex); err == nil {
		return ou.Name()
	}
	return "unknown"
}

func (o *PrometheusObserver) ObserveRecord(ouIndex int, latencyNs uint64) {
	label := o.label(ouIndex)
	o.recordsEmitted.WithLabelValues(label).Inc()
	o.recordLatency.WithLabelValues(label).Observe(float64(latencyNs) / 1e9)
}

func (o *PrometheusObserver) ObserveLostEvents(ouIndex int, count uint64) {
	o.lostEvents.WithLabelValues(o.label(ouIndex)).Add(float64(count))
}

func (o *PrometheusObserver) ObserveQueueDepth(ouIndex int, depth int) {
	o.queueDepth.WithLabelValues(o.label(ouIndex)).Set(float64(depth))
}

func (o *PrometheusObserver) ObserveQueueDrop(ouIndex int) {
	o.queueDrops.WithLabelValues(o.label(ouIndex)).Inc()
}

// MultiObserver fans every call out to several Observers, so a Collector
// can feed both the in-process Metrics accumulator and Prometheus without
// either knowing about the other.
type MultiObserver []interfaces.Observer

func (m MultiObserver) ObserveRecord(ouIndex int, latencyNs uint64) {
	for _, o := range m {
		o.ObserveRecord(ouIndex, latencyNs)
	}
}
func (m MultiObserver) ObserveLostEvents(ouIndex int, count uint64) {
	for _, o := range m {
		o.ObserveLostEvents(ouIndex, count)
	}
}
func (m MultiObserver) ObserveQueueDepth(ouIndex int, depth int) {
	for _, o := range m {
		o.ObserveQueueDepth(ouIndex, depth)
	}
}
func (m MultiObserver) ObserveQueueDrop(ouIndex int) {
	for _, o := range m {
		o.ObserveQueueDrop(ouIndex)
	}
}

var (
	_ interfaces.Observer = (*MetricsObserver)(nil)
	_ interfaces.Observer = (*PrometheusObserver)(nil)
	_ interfaces.Observer = NoOpObserver{}
	_ interfaces.Observer = MultiObserver(nil)
)
