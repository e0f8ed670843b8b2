package tscout

import (
	"context"
	"errors"
	"sync"

	"github.com/cmu-db/tscout/internal/interfaces"
	"github.com/cmu-db/tscout/internal/interval"
)

// ErrMockReaderClosed is returned by MockPerfReader.Read once Close has been
// called and its canned records are exhausted, standing in for
// perf.ErrClosed.
var ErrMockReaderClosed = errors.New("tscout: mock perf reader closed")

// MockProbeLoader is a canned interfaces.ProbeLoader for Collector tests
// that never touch a real kernel. Each method call is tallied and its
// return value configurable, mirroring the teacher's MockBackend call-count
// tracking.
type MockProbeLoader struct {
	mu sync.Mutex

	LoadErr   error
	AttachErr error
	DetachErr error
	UnloadErr error

	loadCalls   int
	attachCalls int
	detachCalls int
	unloadCalls int

	lastPID            uint32
	lastProgramSource  string
	lastClientSocketFD *int
}

func (m *MockProbeLoader) Load(ctx context.Context, pid uint32, programSource string, clientSocketFD *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadCalls++
	m.lastPID = pid
	m.lastProgramSource = programSource
	m.lastClientSocketFD = clientSocketFD
	return m.LoadErr
}

func (m *MockProbeLoader) Attach(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachCalls++
	return m.AttachErr
}

func (m *MockProbeLoader) Detach() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detachCalls++
	return m.DetachErr
}

func (m *MockProbeLoader) Unload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unloadCalls++
	return m.UnloadErr
}

// CallCounts reports how many times each lifecycle method fired.
func (m *MockProbeLoader) CallCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]int{
		"load":   m.loadCalls,
		"attach": m.attachCalls,
		"detach": m.detachCalls,
		"unload": m.unloadCalls,
	}
}

// LastLoad returns the arguments of the most recent Load call.
func (m *MockProbeLoader) LastLoad() (pid uint32, programSource string, clientSocketFD *int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPID, m.lastProgramSource, m.lastClientSocketFD
}

// MockProbeLoaderWithReaders wraps a MockProbeLoader and additionally
// implements interfaces.PerfReaderProvider, for Collector tests exercising
// the post-Load reader-discovery path a real ctrl.Controller uses. Plain
// MockProbeLoader deliberately does NOT implement PerfReaderProvider, so
// tests that configure Collector.Config.PerfReaders directly keep working
// unchanged.
type MockProbeLoaderWithReaders struct {
	*MockProbeLoader

	PerfReadersErr error
	perfReaders    map[int]interfaces.PerfReader
}

// NewMockProbeLoaderWithReaders wraps loader, serving readers from
// PerfReaders once Load/Attach succeed.
func NewMockProbeLoaderWithReaders(loader *MockProbeLoader, readers map[int]interfaces.PerfReader) *MockProbeLoaderWithReaders {
	return &MockProbeLoaderWithReaders{MockProbeLoader: loader, perfReaders: readers}
}

func (m *MockProbeLoaderWithReaders) PerfReaders() (map[int]interfaces.PerfReader, error) {
	if m.PerfReadersErr != nil {
		return nil, m.PerfReadersErr
	}
	return m.perfReaders, nil
}

// mockPerfEvent pairs one canned record with the lost-sample count the
// kernel would have reported alongside it.
type mockPerfEvent struct {
	rec  interval.Record
	lost uint64
}

// MockPerfReader replays a canned sequence of records for Collector tests,
// standing in for a cilium/ebpf/perf.Reader.
type MockPerfReader struct {
	mu     sync.Mutex
	events []mockPerfEvent
	pos    int
	closed bool
}

// NewMockPerfReader creates a reader with no queued events.
func NewMockPerfReader() *MockPerfReader {
	return &MockPerfReader{}
}

// Enqueue appends a record to be returned by a future Read call, with lost
// reporting the kernel-side drop count observed alongside it.
func (r *MockPerfReader) Enqueue(rec interval.Record, lost uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, mockPerfEvent{rec: rec, lost: lost})
}

func (r *MockPerfReader) Read(ctx context.Context) (interval.Record, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pos < len(r.events) {
		ev := r.events[r.pos]
		r.pos++
		return ev.rec, ev.lost, nil
	}
	if r.closed {
		return interval.Record{}, 0, ErrMockReaderClosed
	}
	select {
	case <-ctx.Done():
		return interval.Record{}, 0, ctx.Err()
	default:
		return interval.Record{}, 0, ErrMockReaderClosed
	}
}

func (r *MockPerfReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// mockQueryResult is one canned QueryRows response.
type mockQueryResult struct {
	columns []string
	rows    [][]any
	err     error
}

// MockScraperConn is a canned interfaces.ScraperConn keyed by the exact SQL
// text a caller issues, for scraper tests that never dial a real Postgres
// connection.
type MockScraperConn struct {
	mu        sync.Mutex
	responses map[string]mockQueryResult
	queries   []string
	closed    bool
	CloseErr  error
}

// NewMockScraperConn creates a connection with no canned responses.
func NewMockScraperConn() *MockScraperConn {
	return &MockScraperConn{responses: make(map[string]mockQueryResult)}
}

// SetResponse configures what QueryRows returns for the exact string sql.
func (c *MockScraperConn) SetResponse(sql string, columns []string, rows [][]any, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[sql] = mockQueryResult{columns: columns, rows: rows, err: err}
}

func (c *MockScraperConn) QueryRows(ctx context.Context, sql string) ([]string, [][]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, sql)
	resp, ok := c.responses[sql]
	if !ok {
		return nil, nil, nil
	}
	return resp.columns, resp.rows, resp.err
}

func (c *MockScraperConn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.CloseErr
}

// Queries returns every SQL string QueryRows was called with, in order.
func (c *MockScraperConn) Queries() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.queries))
	copy(out, c.queries)
	return out
}

// IsClosed reports whether Close has been called.
func (c *MockScraperConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// MockLifecycleWatcher replays a sequence of postmaster fork/reap events for
// Supervisor tests, standing in for a ctrl.LifecycleController. Unlike
// MockPerfReader, Watch blocks when no event is queued rather than treating
// an empty queue as closed: a real LifecycleController's Watch blocks on a
// perf.Reader.Read call until the kernel has something to report, and
// Supervisor tests rely on being able to Enqueue a reap event after Run is
// already watching, which a non-blocking empty-queue error would race.
type MockLifecycleWatcher struct {
	events    chan interfaces.LifecycleEvent
	closed    chan struct{}
	closeOnce sync.Once
	CloseErr  error
}

// NewMockLifecycleWatcher creates a watcher with no queued events.
func NewMockLifecycleWatcher() *MockLifecycleWatcher {
	return &MockLifecycleWatcher{
		events: make(chan interfaces.LifecycleEvent, 64),
		closed: make(chan struct{}),
	}
}

// Enqueue appends one event to be returned by a future Watch call. Safe to
// call before or after Run has started watching.
func (w *MockLifecycleWatcher) Enqueue(ev interfaces.LifecycleEvent) {
	w.events <- ev
}

func (w *MockLifecycleWatcher) Watch(ctx context.Context) (interfaces.LifecycleEvent, error) {
	select {
	case ev := <-w.events:
		return ev, nil
	case <-w.closed:
		return interfaces.LifecycleEvent{}, ErrMockReaderClosed
	case <-ctx.Done():
		return interfaces.LifecycleEvent{}, ctx.Err()
	}
}

func (w *MockLifecycleWatcher) Close() error {
	w.closeOnce.Do(func() { close(w.closed) })
	return w.CloseErr
}

var (
	_ interfaces.ProbeLoader        = (*MockProbeLoader)(nil)
	_ interfaces.PerfReaderProvider = (*MockProbeLoaderWithReaders)(nil)
	_ interfaces.PerfReader         = (*MockPerfReader)(nil)
	_ interfaces.ScraperConn        = (*MockScraperConn)(nil)
	_ interfaces.LifecycleWatcher   = (*MockLifecycleWatcher)(nil)
)
