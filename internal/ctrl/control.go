// Package ctrl owns the probe program lifecycle: compiling the source
// internal/probebuilder generates, loading it against a tracked PID,
// attaching its markers, and tearing everything down again. Every step
// rolls back what it already did on the first failure, so a half-attached
// program never lingers.
package ctrl

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"

	"github.com/cmu-db/tscout/internal/interfaces"
	"github.com/cmu-db/tscout/internal/logging"
)

// perfMapPrefix is the name prefix internal/probebuilder gives every OU's
// perf event array map, followed by its ordinal index.
const perfMapPrefix = "collector_results_"

var (
	_ interfaces.ProbeLoader        = (*Controller)(nil)
	_ interfaces.PerfReaderProvider = (*Controller)(nil)
)

// Compiler turns generated C probe source into a loadable BPF ELF object.
// The default shells out to clang; tests inject a fake that returns a
// canned object (or an error) so Controller's guard-clause behavior is
// exercisable without a real toolchain.
type Compiler func(source string) ([]byte, error)

// Controller owns the probe program for exactly one tracked PID. One
// Controller belongs to exactly one Collector, per spec.md section 4.2.
type Controller struct {
	logger  *logging.Logger
	compile Compiler

	pid   uint32
	coll  *ebpf.Collection
	links []link.Link
	info  ProbeInfo
}

// NewController constructs a Controller with no program loaded yet.
func NewController() *Controller {
	return &Controller{logger: logging.Default(), compile: clangCompile}
}

// SetLogger swaps the logger used for load/attach diagnostics.
func (c *Controller) SetLogger(logger *logging.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// SetCompiler overrides the compile step. Used by tests to avoid shelling
// out to clang.
func (c *Controller) SetCompiler(compile Compiler) {
	if compile != nil {
		c.compile = compile
	}
}

// Info returns the most recently attached program's bookkeeping, the zero
// value before Attach has succeeded.
func (c *Controller) Info() ProbeInfo { return c.info }

func clangCompile(source string) ([]byte, error) {
	cmd := exec.Command("clang", "-target", "bpf", "-O2", "-g", "-c", "-x", "c", "-", "-o", "-")
	cmd.Stdin = bytes.NewBufferString(source)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ctrl: clang compile failed: %w: %s", err, stderr.String())
	}
	return out.Bytes(), nil
}

// Load compiles programSource and loads it as a BPF collection, without
// attaching anything yet. clientSocketFD is recorded for Attach's logging
// but does not otherwise affect loading, since it is baked into
// programSource itself by internal/probebuilder.
func (c *Controller) Load(ctx context.Context, pid uint32, programSource string, clientSocketFD *int) error {
	c.logger.Debug("compiling probe program", "pid", pid, "has_client_socket_fd", clientSocketFD != nil)

	object, err := c.compile(programSource)
	if err != nil {
		return fmt.Errorf("ctrl: load pid %d: %w", pid, err)
	}

	spec, err := ebpf.LoadCollectionSpecFromReader(bytes.NewReader(object))
	if err != nil {
		return fmt.Errorf("ctrl: parse probe object for pid %d: %w", pid, err)
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return fmt.Errorf("ctrl: load probe collection for pid %d: %w", pid, err)
	}

	c.pid = pid
	c.coll = coll
	c.info = ProbeInfo{PID: pid}
	return nil
}

// Attach opens pid's executable and attaches one marker per program in the
// loaded collection, uprobe-style — the closest cilium/ebpf analog to USDT
// attachment. On any failure it rolls back every marker already attached
// during this call before returning.
func (c *Controller) Attach(ctx context.Context) error {
	if c.coll == nil {
		return fmt.Errorf("ctrl: attach called before load for pid %d", c.pid)
	}

	exe, err := link.OpenExecutable(fmt.Sprintf("/proc/%d/exe", c.pid))
	if err != nil {
		return fmt.Errorf("ctrl: open executable for pid %d: %w", c.pid, err)
	}

	var attached []link.Link
	rollback := func() {
		for _, l := range attached {
			l.Close()
		}
	}

	for name, prog := range c.coll.Programs {
		l, err := exe.Uprobe(name, prog, &link.UprobeOptions{PID: int(c.pid)})
		if err != nil {
			rollback()
			return fmt.Errorf("ctrl: attach marker %s for pid %d: %w", name, c.pid, err)
		}
		attached = append(attached, l)
	}

	c.links = attached
	c.info.MarkerCount = len(attached)
	c.info.PerfMapFDs = make(map[int]int)
	for name, m := range c.coll.Maps {
		if !strings.HasPrefix(name, perfMapPrefix) {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimPrefix(name, perfMapPrefix))
		if err != nil {
			continue
		}
		c.info.PerfMapFDs[idx] = m.FD()
	}

	c.logger.Info("attached probe markers", "pid", c.pid, "count", c.info.MarkerCount)
	return nil
}

// PerfReaders builds one interfaces.PerfReader per Operating Unit perf
// event array map found in the loaded collection, keyed by ordinal index.
// Must be called after a successful Load; the per-OU perf maps already
// exist once the collection is loaded, before any marker is attached.
func (c *Controller) PerfReaders() (map[int]interfaces.PerfReader, error) {
	if c.coll == nil {
		return nil, fmt.Errorf("ctrl: perf readers requested before load for pid %d", c.pid)
	}
	readers := make(map[int]interfaces.PerfReader, len(c.info.PerfMapFDs))
	for name, m := range c.coll.Maps {
		if !strings.HasPrefix(name, perfMapPrefix) {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimPrefix(name, perfMapPrefix))
		if err != nil {
			continue
		}
		r, err := newPerfMapReader(m, idx)
		if err != nil {
			for _, opened := range readers {
				opened.Close()
			}
			return nil, fmt.Errorf("ctrl: opening perf reader for ou %d: %w", idx, err)
		}
		readers[idx] = r
	}
	return readers, nil
}

// Detach closes every attached marker link without unloading the
// collection, leaving Load's state intact for a possible re-Attach.
func (c *Controller) Detach() error {
	for _, l := range c.links {
		if err := l.Close(); err != nil {
			c.logger.Warn("detach: closing marker link failed", "pid", c.pid, "err", err)
		}
	}
	c.links = nil
	c.info.MarkerCount = 0
	return nil
}

// Unload detaches (if still attached) and releases the loaded collection.
// Safe to call on a Controller that was never successfully Loaded.
func (c *Controller) Unload() error {
	if err := c.Detach(); err != nil {
		return err
	}
	if c.coll != nil {
		c.coll.Close()
		c.coll = nil
	}
	return nil
}
