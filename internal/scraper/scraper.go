// Package scraper implements the external SQL Scraper: a fast/slow-cadence
// poller that snapshots Postgres settings on every tick and catalog tables
// on the slower cadence, buffering everything in memory and flushing to CSV
// once at shutdown.
package scraper

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cmu-db/tscout/internal/config"
	"github.com/cmu-db/tscout/internal/interfaces"
	"github.com/cmu-db/tscout/internal/logging"
)

const settingsTarget = "pg_settings"

// Scraper polls one database connection on a fast/slow cadence, buffering
// every row it reads until Flush writes it all to CSV.
type Scraper struct {
	conn   interfaces.ScraperConn
	fast   time.Duration
	every  int
	logger *logging.Logger

	mu      sync.Mutex
	columns map[string][]string
	rows    map[string][][]string
}

// New constructs a Scraper against an already-connected conn.
func New(conn interfaces.ScraperConn, cfg config.Config, logger *logging.Logger) *Scraper {
	if logger == nil {
		logger = logging.Default()
	}
	return &Scraper{
		conn:    conn,
		fast:    time.Duration(cfg.CollectorFastIntervalSeconds) * time.Second,
		every:   cfg.SlowTickEvery(),
		logger:  logger,
		columns: make(map[string][]string),
		rows:    make(map[string][][]string),
	}
}

// Run ticks at the configured fast interval until ctx is cancelled. Every
// tick it re-snapshots settings; every `every`th tick it additionally
// scrapes the catalog Targets. A failed tick is logged and retried at the
// next tick rather than stopping the Scraper, per the scraper-connection
// error being local and non-fatal.
func (s *Scraper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.fast)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scrapeOnce(ctx, tick); err != nil {
				s.logger.Warnf("scraper: tick %d failed: %v", tick, err)
			}
			tick++
		}
	}
}

func (s *Scraper) scrapeOnce(ctx context.Context, tick int) error {
	if err := s.scrapeSettings(ctx); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	if s.every <= 0 || tick%s.every == 0 {
		for _, tgt := range Targets {
			if err := s.scrapeTarget(ctx, tgt); err != nil {
				s.logger.Warnf("scraper: target %s: %v", tgt.Name, err)
			}
		}
	}
	return nil
}

func (s *Scraper) scrapeSettings(ctx context.Context) error {
	cols, rows, err := s.conn.QueryRows(ctx, "SHOW ALL;")
	if err != nil {
		return err
	}
	nameIdx, settingIdx := indexOfCol(cols, "name"), indexOfCol(cols, "setting")
	if nameIdx < 0 || settingIdx < 0 {
		return fmt.Errorf("SHOW ALL result missing name/setting columns")
	}

	type parsedSetting struct{ name, value string }
	var parsed []parsedSetting
	for _, row := range rows {
		name, _ := row[nameIdx].(string)
		settingType, known := Knobs[name]
		if !known {
			continue
		}
		raw, _ := row[settingIdx].(string)
		value, err := ParseField(settingType, raw)
		if err != nil {
			s.logger.Debugf("scraper: skipping setting %s: %v", name, err)
			continue
		}
		parsed = append(parsed, parsedSetting{name, value})
	}
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].name < parsed[j].name })

	outCols := make([]string, 0, len(parsed)+1)
	outVals := make([]string, 0, len(parsed)+1)
	for _, p := range parsed {
		outCols = append(outCols, p.name)
		outVals = append(outVals, p.value)
	}
	outCols = append(outCols, "time")
	outVals = append(outVals, strconv.FormatInt(time.Now().UnixMicro(), 10))

	s.append(settingsTarget, outCols, outVals)
	return nil
}

func (s *Scraper) scrapeTarget(ctx context.Context, tgt Target) error {
	cols, rows, err := s.conn.QueryRows(ctx, tgt.Query)
	if err != nil {
		return err
	}
	for _, row := range rows {
		vals := make([]string, len(row))
		for i, v := range row {
			vals[i] = formatCell(v)
		}
		s.append(tgt.Name, cols, vals)
	}
	return nil
}

func (s *Scraper) append(target string, cols []string, row []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.columns[target]; !ok {
		s.columns[target] = cols
	}
	s.rows[target] = append(s.rows[target], row)
}

// Flush writes every accumulated target to outDir/<target>.csv, honoring
// the same header-on-first-open-unless-append rule as the per-OU
// Processors. It is meant to be called once, after Run has returned.
func (s *Scraper) Flush(outDir string, appendMode bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for target, cols := range s.columns {
		f, writeHeader, err := openCSV(outDir, target, appendMode)
		if err != nil {
			return err
		}
		if writeHeader {
			if _, err := f.WriteString(strings.Join(cols, ",") + "\n"); err != nil {
				f.Close()
				return fmt.Errorf("scraper: writing %s header: %w", target, err)
			}
		}
		for _, row := range s.rows[target] {
			if _, err := f.WriteString(strings.Join(row, ",") + "\n"); err != nil {
				f.Close()
				return fmt.Errorf("scraper: writing %s row: %w", target, err)
			}
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("scraper: closing %s: %w", target, err)
		}
	}
	return nil
}

func openCSV(outDir, name string, appendMode bool) (*os.File, bool, error) {
	path := filepath.Join(outDir, name+".csv")
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
		return nil, false, fmt.Errorf("scraper: opening %s: %w", path, err)
	}
	return f, writeHeader, nil
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return hex.EncodeToString(t)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

func indexOfCol(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}
