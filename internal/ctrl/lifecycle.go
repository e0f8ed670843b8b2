package ctrl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cilium/ebpf/perf"

	"github.com/cmu-db/tscout/internal/interfaces"
	"github.com/cmu-db/tscout/internal/logging"
	"github.com/cmu-db/tscout/internal/probebuilder"
	"github.com/cmu-db/tscout/internal/uapi"
)

// postmasterEventsMap is the name internal/probebuilder's lifecycle
// program gives its shared fork/reap output buffer.
const postmasterEventsMap = "postmaster_events"

// LifecycleController attaches the four postmaster fork/reap markers and
// polls their shared perf buffer, implementing interfaces.LifecycleWatcher.
// One LifecycleController belongs to exactly one Supervisor.
type LifecycleController struct {
	ctrl   *Controller
	reader *perf.Reader
}

// NewLifecycleController constructs a LifecycleController with nothing
// attached yet.
func NewLifecycleController() *LifecycleController {
	return &LifecycleController{ctrl: NewController()}
}

// SetLogger swaps the logger used for load/attach diagnostics and dropped
// lifecycle event warnings.
func (l *LifecycleController) SetLogger(logger *logging.Logger) {
	l.ctrl.SetLogger(logger)
}

// SetCompiler overrides the compile step, mirroring Controller.SetCompiler.
// Used by tests to avoid shelling out to clang.
func (l *LifecycleController) SetCompiler(compile Compiler) {
	l.ctrl.SetCompiler(compile)
}

// Attach compiles and loads the lifecycle probe program against pid and
// opens a perf reader over its output map.
func (l *LifecycleController) Attach(ctx context.Context, pid uint32) error {
	source, err := probebuilder.BuildLifecycle()
	if err != nil {
		return fmt.Errorf("ctrl: building lifecycle program: %w", err)
	}
	if err := l.ctrl.Load(ctx, pid, source, nil); err != nil {
		return err
	}
	if err := l.ctrl.Attach(ctx); err != nil {
		_ = l.ctrl.Unload()
		return err
	}

	m, ok := l.ctrl.coll.Maps[postmasterEventsMap]
	if !ok {
		_ = l.ctrl.Unload()
		return fmt.Errorf("ctrl: %s map not found in lifecycle program for pid %d", postmasterEventsMap, pid)
	}
	reader, err := perf.NewReader(m, perCPUBufferBytes)
	if err != nil {
		_ = l.ctrl.Unload()
		return fmt.Errorf("ctrl: opening lifecycle perf reader for pid %d: %w", pid, err)
	}
	l.reader = reader
	return nil
}

// Watch blocks until one postmaster lifecycle event arrives, ctx is done,
// or Close has been called.
func (l *LifecycleController) Watch(ctx context.Context) (interfaces.LifecycleEvent, error) {
	if deadline, ok := ctx.Deadline(); ok {
		l.reader.SetDeadline(deadline)
	} else {
		l.reader.SetDeadline(time.Time{})
	}

	for {
		raw, err := l.reader.Read()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return interfaces.LifecycleEvent{}, context.DeadlineExceeded
			}
			return interfaces.LifecycleEvent{}, fmt.Errorf("ctrl: lifecycle read: %w", err)
		}
		if raw.LostSamples > 0 {
			l.ctrl.logger.Warn("dropped postmaster lifecycle events", "count", raw.LostSamples)
			continue
		}
		return uapi.UnmarshalLifecycleEvent(raw.RawSample)
	}
}

// Close tears down the perf reader and the underlying probe program.
func (l *LifecycleController) Close() error {
	var first error
	if l.reader != nil {
		if err := l.reader.Close(); err != nil {
			first = err
		}
	}
	if err := l.ctrl.Unload(); err != nil && first == nil {
		first = err
	}
	return first
}

var _ interfaces.LifecycleWatcher = (*LifecycleController)(nil)
