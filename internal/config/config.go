// Package config holds the CLI-level configuration for a tscout run,
// separated from flag.FlagSet parsing so cmd/tscout and tests can both
// construct one without going through os.Args.
package config

import (
	"fmt"

	"github.com/cmu-db/tscout/internal/constants"
)

// Config is every knob the external CLI surface exposes.
type Config struct {
	// PID is the tracked postmaster PID, the sole positional argument.
	PID uint32

	// OutDir receives per-OU CSVs and scraper CSVs.
	OutDir string

	// Append, if set, opens existing per-OU CSVs in append mode instead of
	// truncating and re-emitting the header.
	Append bool

	// CollectorSlowIntervalSeconds and CollectorFastIntervalSeconds set the
	// SQL Scraper's tick cadence; slow must be >= fast.
	CollectorSlowIntervalSeconds int
	CollectorFastIntervalSeconds int

	// ScraperDSN is the connection string for the external SQL Scraper.
	// Empty disables the Scraper entirely.
	ScraperDSN string
}

// Default returns a Config with every documented default applied, save for
// PID which has no sensible default and must be set by the caller.
func Default() Config {
	return Config{
		OutDir:                       ".",
		Append:                       false,
		CollectorSlowIntervalSeconds: constants.DefaultCollectorSlowIntervalSeconds,
		CollectorFastIntervalSeconds: constants.DefaultCollectorFastIntervalSeconds,
	}
}

// Validate checks the invariants the CLI contract requires, returning the
// first violation found.
func (c Config) Validate() error {
	if c.PID == 0 {
		return fmt.Errorf("config: PID is required")
	}
	if c.OutDir == "" {
		return fmt.Errorf("config: outdir must not be empty")
	}
	if c.CollectorFastIntervalSeconds <= 0 {
		return fmt.Errorf("config: collector_fast_interval must be positive, got %d", c.CollectorFastIntervalSeconds)
	}
	if c.CollectorSlowIntervalSeconds <= 0 {
		return fmt.Errorf("config: collector_slow_interval must be positive, got %d", c.CollectorSlowIntervalSeconds)
	}
	if c.CollectorSlowIntervalSeconds < c.CollectorFastIntervalSeconds {
		return fmt.Errorf("config: collector_slow_interval (%d) must be >= collector_fast_interval (%d)",
			c.CollectorSlowIntervalSeconds, c.CollectorFastIntervalSeconds)
	}
	return nil
}

// SlowTickEvery returns how many fast ticks elapse between slow ticks.
func (c Config) SlowTickEvery() int {
	return c.CollectorSlowIntervalSeconds / c.CollectorFastIntervalSeconds
}
