package ctrl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/perf"

	"github.com/cmu-db/tscout/internal/interfaces"
	"github.com/cmu-db/tscout/internal/interval"
	"github.com/cmu-db/tscout/internal/uapi"
)

// perCPUBufferBytes sizes each CPU's perf ring buffer. 64 pages matches the
// buffer depth the original source opened per OU, large enough to absorb a
// burst of invocations between Collector polls without the kernel dropping
// samples.
const perCPUBufferBytes = 64 * 4096

// perfMapReader adapts a cilium/ebpf/perf.Reader over one Operating Unit's
// perf event array map to interfaces.PerfReader. A lost-sample notification
// carries no record of its own, so Read folds any lost count into the next
// real sample instead of returning early.
type perfMapReader struct {
	ouIndex int
	reader  *perf.Reader
}

func newPerfMapReader(m *ebpf.Map, ouIndex int) (*perfMapReader, error) {
	r, err := perf.NewReader(m, perCPUBufferBytes)
	if err != nil {
		return nil, fmt.Errorf("ctrl: new perf reader: %w", err)
	}
	return &perfMapReader{ouIndex: ouIndex, reader: r}, nil
}

// Read blocks until a record for this OU arrives, ctx is done, or the
// reader is closed. Kernel-reported lost samples are accumulated and
// returned alongside the next successfully decoded record, or alone if ctx
// expires first.
func (r *perfMapReader) Read(ctx context.Context) (interval.Record, uint64, error) {
	if deadline, ok := ctx.Deadline(); ok {
		r.reader.SetDeadline(deadline)
	} else {
		r.reader.SetDeadline(time.Time{})
	}

	var lostTotal uint64
	for {
		raw, err := r.reader.Read()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return interval.Record{}, lostTotal, context.DeadlineExceeded
			}
			return interval.Record{}, lostTotal, fmt.Errorf("ctrl: perf read ou %d: %w", r.ouIndex, err)
		}
		if raw.LostSamples > 0 {
			lostTotal += raw.LostSamples
			continue
		}
		rec, err := uapi.UnmarshalRecord(r.ouIndex, raw.RawSample)
		if err != nil {
			return interval.Record{}, lostTotal, fmt.Errorf("ctrl: unmarshal ou %d: %w", r.ouIndex, err)
		}
		return rec, lostTotal, nil
	}
}

func (r *perfMapReader) Close() error {
	return r.reader.Close()
}

var _ interfaces.PerfReader = (*perfMapReader)(nil)
