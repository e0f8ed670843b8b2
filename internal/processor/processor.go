// Package processor implements the per-Operating-Unit CSV writer: it owns
// one append-only output file, consumes pre-serialized rows from a single
// queue, and drains to completion on a poison pill before closing.
package processor

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cmu-db/tscout/internal/logging"
	"github.com/cmu-db/tscout/internal/model"
	"github.com/cmu-db/tscout/internal/queue"
	"github.com/cmu-db/tscout/internal/uapi"
)

// Processor owns exactly one Operating Unit's output file and queue.
type Processor struct {
	ou          model.OperatingUnit
	queue       *queue.OUQueue
	sink        io.WriteCloser
	writeHeader bool
	logger      *logging.Logger
}

// New constructs a Processor. writeHeader controls whether the header row
// is emitted before the first data row; OpenFile computes the correct
// value from the append flag and whether the file already existed.
func New(ou model.OperatingUnit, q *queue.OUQueue, sink io.WriteCloser, writeHeader bool, logger *logging.Logger) *Processor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Processor{ou: ou, queue: q, sink: sink, writeHeader: writeHeader, logger: logger}
}

// OpenFile opens outDir/<ou-name>.csv, truncating and reporting that a
// header is needed unless appendMode is set and the file already exists.
func OpenFile(outDir string, ou model.OperatingUnit, appendMode bool) (*os.File, bool, error) {
	path := filepath.Join(outDir, ou.Name()+".csv")

	_, statErr := os.Stat(path)
	exists := statErr == nil
	writeHeader := !(appendMode && exists)

	flags := os.O_WRONLY | os.O_CREATE
	if appendMode && exists {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("processor: opening %s: %w", path, err)
	}
	return f, writeHeader, nil
}

// header renders the fixed header line: features columns, then metrics
// columns.
func (p *Processor) header() string {
	cols := append([]string{}, p.ou.FeaturesColumns()...)
	for _, m := range model.Metrics() {
		cols = append(cols, m.Name)
	}
	return strings.Join(cols, ",") + "\n"
}

// Run drains the queue until the poison pill is reached (Dequeue reports
// ok=false), writing one CSV line per row, then closes the sink.
func (p *Processor) Run(ctx context.Context) error {
	if p.writeHeader {
		if _, err := io.WriteString(p.sink, p.header()); err != nil {
			return fmt.Errorf("processor %s: writing header: %w", p.ou.Name(), err)
		}
	}

	for {
		row, ok := p.queue.Dequeue()
		if !ok {
			break
		}
		rec, err := uapi.UnmarshalRecord(p.ou.Index, row)
		queue.PutBuffer(row)
		if err != nil {
			p.logger.Warnf("processor %s: dropping malformed row: %v", p.ou.Name(), err)
			continue
		}

		fields := append(formatFeatures(p.ou, rec.Features), formatMetrics(rec)...)
		if _, err := io.WriteString(p.sink, strings.Join(fields, ",")+"\n"); err != nil {
			p.logger.Errorf("processor %s: write failed: %v", p.ou.Name(), err)
		}
	}

	return p.sink.Close()
}
