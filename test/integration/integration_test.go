// Package integration exercises the full Supervisor -> Collector ->
// Processor -> Scraper pipeline end to end, against mock probe loaders,
// perf readers, and a lifecycle watcher instead of a real kernel, plus
// real temporary-directory CSV output so append-mode behavior is genuinely
// exercised against the filesystem.
package integration

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmu-db/tscout"
	"github.com/cmu-db/tscout/internal/config"
	"github.com/cmu-db/tscout/internal/interfaces"
	"github.com/cmu-db/tscout/internal/interval"
	"github.com/cmu-db/tscout/internal/model"
	"github.com/cmu-db/tscout/internal/processor"
)

func runToCompletion(t *testing.T, sup *tscout.Supervisor, lifecycle *tscout.MockLifecycleWatcher, wait func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	wait()
	cancel()
	require.NoError(t, <-done)
}

// TestForkReapCycleProducesOnlyThatPIDsRows covers scenario 5: a postmaster
// forks one backend, the backend's ExecResult operator fires three times,
// and the backend is reaped. The resulting CSV must contain exactly those
// three rows, none of them for any other PID.
func TestForkReapCycleProducesOnlyThatPIDsRows(t *testing.T) {
	m := model.New()
	execResult, ok := m.ByName("ExecResult")
	require.True(t, ok)

	const pid = 4242
	reader := tscout.NewMockPerfReader()
	for i := 0; i < 3; i++ {
		reader.Enqueue(interval.Record{OUIndex: execResult.Index, PID: pid, StartTime: uint64(i), EndTime: uint64(i + 1), InvocationCount: 1}, 0)
	}
	loader := tscout.NewMockProbeLoaderWithReaders(&tscout.MockProbeLoader{}, map[int]interfaces.PerfReader{execResult.Index: reader})

	lifecycle := tscout.NewMockLifecycleWatcher()
	socketFD := 9
	lifecycle.Enqueue(interfaces.LifecycleEvent{Kind: interfaces.ForkBackend, PID: pid, ClientSocketFD: &socketFD})

	sinks := make(map[int]*processor.MemorySink)
	sup, err := tscout.NewSupervisor(tscout.SupervisorConfig{
		Model:          m,
		Settings:       config.Default(),
		Lifecycle:      lifecycle,
		NewProbeLoader: func(uint32) interfaces.ProbeLoader { return loader },
		Sinks: func(ou model.OperatingUnit) (io.WriteCloser, bool, error) {
			sink := processor.NewMemorySink()
			sinks[ou.Index] = sink
			return sink, true, nil
		},
	})
	require.NoError(t, err)

	runToCompletion(t, sup, lifecycle, func() {
		require.Eventually(t, func() bool {
			lines := strings.Count(sinks[execResult.Index].String(), "\n")
			return lines >= 4 // header + 3 rows
		}, 2*time.Second, 5*time.Millisecond)
		lifecycle.Enqueue(interfaces.LifecycleEvent{Kind: interfaces.ReapBackend, PID: pid})
		require.Eventually(t, func() bool { return len(sup.Collectors()) == 0 }, 2*time.Second, 5*time.Millisecond)
	})

	out := sinks[execResult.Index].String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 4)
	for _, line := range lines[1:] {
		assert.NotEmpty(t, line)
	}
}

// TestAppendModeAccumulatesAcrossRuns covers scenario 6: running the
// Supervisor twice against the same real output directory with Append set
// produces one header followed by the rows from both runs.
func TestAppendModeAccumulatesAcrossRuns(t *testing.T) {
	outDir := t.TempDir()
	m := model.New()
	execAgg, ok := m.ByName("ExecAgg")
	require.True(t, ok)

	runOnce := func(pid uint32, rowCount int) {
		reader := tscout.NewMockPerfReader()
		for i := 0; i < rowCount; i++ {
			reader.Enqueue(interval.Record{OUIndex: execAgg.Index, PID: pid, StartTime: uint64(i), EndTime: uint64(i + 1), InvocationCount: 1}, 0)
		}
		loader := tscout.NewMockProbeLoaderWithReaders(&tscout.MockProbeLoader{}, map[int]interfaces.PerfReader{execAgg.Index: reader})

		lifecycle := tscout.NewMockLifecycleWatcher()
		lifecycle.Enqueue(interfaces.LifecycleEvent{Kind: interfaces.ForkBackground, PID: pid})

		cfg := config.Default()
		cfg.OutDir = outDir
		cfg.Append = true

		sup, err := tscout.NewSupervisor(tscout.SupervisorConfig{
			Model:          m,
			Settings:       cfg,
			Lifecycle:      lifecycle,
			NewProbeLoader: func(uint32) interfaces.ProbeLoader { return loader },
		})
		require.NoError(t, err)

		runToCompletion(t, sup, lifecycle, func() {
			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				data, _ := os.ReadFile(filepath.Join(outDir, "ExecAgg.csv"))
				if strings.Count(string(data), "\n") >= rowCount {
					break
				}
				time.Sleep(5 * time.Millisecond)
			}
			lifecycle.Enqueue(interfaces.LifecycleEvent{Kind: interfaces.ReapBackground, PID: pid})
			require.Eventually(t, func() bool { return len(sup.Collectors()) == 0 }, 2*time.Second, 5*time.Millisecond)
		})
	}

	runOnce(1001, 5)
	runOnce(1002, 5)

	data, err := os.ReadFile(filepath.Join(outDir, "ExecAgg.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 11) // 1 header + 10 data rows
}
