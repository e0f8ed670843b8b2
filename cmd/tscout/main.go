package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"syscall"
	"time"

	"github.com/cmu-db/tscout"
	"github.com/cmu-db/tscout/internal/config"
	"github.com/cmu-db/tscout/internal/ctrl"
	"github.com/cmu-db/tscout/internal/interfaces"
	"github.com/cmu-db/tscout/internal/logging"
	"github.com/cmu-db/tscout/internal/model"
	"github.com/cmu-db/tscout/internal/scraper"
)

func main() {
	var (
		outdir      = flag.String("outdir", ".", "directory to write per-OU and scraper CSVs into")
		appendMode  = flag.Bool("append", false, "append to existing CSVs instead of truncating")
		slowSeconds = flag.Int("collector_slow_interval", 60, "SQL scraper slow-cadence tick, in seconds")
		fastSeconds = flag.Int("collector_fast_interval", 1, "SQL scraper fast-cadence tick, in seconds")
		scraperDSN  = flag.String("scraper_dsn", "", "Postgres connection string for the SQL scraper; empty disables it")
		verbose     = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: tscout [flags] <postmaster-pid>")
		os.Exit(2)
	}
	pid, err := strconv.ParseUint(flag.Arg(0), 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid pid %q: %v\n", flag.Arg(0), err)
		os.Exit(2)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	cfg := config.Default()
	cfg.PID = uint32(pid)
	cfg.OutDir = *outdir
	cfg.Append = *appendMode
	cfg.CollectorSlowIntervalSeconds = *slowSeconds
	cfg.CollectorFastIntervalSeconds = *fastSeconds
	cfg.ScraperDSN = *scraperDSN
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lifecycle := ctrl.NewLifecycleController()
	lifecycle.SetLogger(logger)
	if err := lifecycle.Attach(ctx, cfg.PID); err != nil {
		logger.Error("failed to attach postmaster lifecycle probes", "pid", cfg.PID, "error", err)
		os.Exit(1)
	}
	defer lifecycle.Close()

	var scraperConn interfaces.ScraperConn
	if cfg.ScraperDSN != "" {
		conn, err := scraper.Connect(ctx, cfg.ScraperDSN)
		if err != nil {
			logger.Error("failed to connect scraper", "error", err)
			os.Exit(1)
		}
		scraperConn = conn
		defer conn.Close(context.Background())
	}

	sup, err := tscout.NewSupervisor(tscout.SupervisorConfig{
		Model:       model.New(),
		Settings:    cfg,
		Lifecycle:   lifecycle,
		ScraperConn: scraperConn,
		MaxCPUs:     runtime.NumCPU(),
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to build supervisor", "error", err)
		os.Exit(1)
	}

	logger.Info("tscout attached", "pid", cfg.PID, "outdir", cfg.OutDir)
	fmt.Printf("tscout attached to postmaster pid %d, writing CSVs to %s\n", cfg.PID, cfg.OutDir)
	fmt.Printf("Press Ctrl+C to stop...\n")
	fmt.Printf("Send SIGUSR1 (kill -USR1 %d) to dump goroutine stacks\n", os.Getpid())

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1024*1024)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n", buf[:n])
			filename := fmt.Sprintf("tscout-stacks-%d.txt", time.Now().Unix())
			if f, err := os.Create(filename); err == nil {
				fmt.Fprintf(f, "Goroutine stack dump at %s\npid %d\n\n", time.Now().Format(time.RFC3339), os.Getpid())
				f.Write(buf[:n])
				fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
				pprof.Lookup("goroutine").WriteTo(f, 2)
				f.Close()
				logger.Info("stack trace written to file", "file", filename)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runErr := make(chan error, 1)
	go func() { runErr <- sup.Run(ctx) }()

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
		cancel()
		<-runErr
	case err := <-runErr:
		if err != nil {
			logger.Error("supervisor exited", "error", err)
			cancel()
			os.Exit(1)
		}
	}

	logger.Info("tscout stopped")
}
