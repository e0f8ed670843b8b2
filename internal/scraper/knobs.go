package scraper

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// SettingType names how a Postgres GUC's textual SHOW ALL value should be
// interpreted.
type SettingType int

const (
	SettingBoolean SettingType = iota
	SettingInteger
	SettingBytes
	SettingIntegerTime
	SettingFloatTime
	SettingFloat
	SettingEnum
)

// Knobs is the known-settings table: every Postgres GUC the settings
// snapshot normalizes, mapped to how its value string should be parsed.
var Knobs = map[string]SettingType{
	"autovacuum":                             SettingBoolean,
	"autovacuum_max_workers":                 SettingInteger,
	"autovacuum_naptime":                     SettingIntegerTime,
	"autovacuum_vacuum_threshold":            SettingInteger,
	"autovacuum_vacuum_insert_threshold":     SettingInteger,
	"autovacuum_analyze_threshold":           SettingInteger,
	"autovacuum_vacuum_scale_factor":         SettingFloat,
	"autovacuum_vacuum_insert_scale_factor":  SettingFloat,
	"autovacuum_analyze_scale_factor":        SettingFloat,
	"autovacuum_freeze_max_age":              SettingInteger,
	"autovacuum_multixact_freeze_max_age":    SettingInteger,
	"autovacuum_vacuum_cost_delay":           SettingFloatTime,
	"autovacuum_vacuum_cost_limit":           SettingInteger,
	"maintenance_work_mem":                   SettingBytes,
	"autovacuum_work_mem":                    SettingBytes,
	"vacuum_cost_delay":                      SettingFloatTime,
	"vacuum_cost_page_hit":                   SettingInteger,
	"vacuum_cost_page_miss":                  SettingInteger,
	"vacuum_cost_page_dirty":                 SettingInteger,
	"vacuum_cost_limit":                      SettingInteger,
	"effective_io_concurrency":               SettingInteger,
	"maintenance_io_concurrency":             SettingInteger,
	"max_worker_processes":                   SettingInteger,
	"max_parallel_workers_per_gather":        SettingInteger,
	"max_parallel_maintenance_workers":       SettingInteger,
	"max_parallel_workers":                   SettingInteger,
	"jit":                                    SettingBoolean,
	"hash_mem_multiplier":                    SettingFloat,
	"effective_cache_size":                   SettingBytes,
	"shared_buffers":                         SettingBytes,
}

var (
	bytesPattern    = regexp.MustCompile(`(?i)(\d+)\s*([kmgtp]?b)`)
	byteUnitOrder   = []string{"b", "kb", "mb", "gb", "tb", "pb"}
	intTimePattern  = regexp.MustCompile(`(?i)(\d+)\s*(d|h|min|s|ms|us)?`)
	floatTimePatt   = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(d|h|min|s|ms|us)?`)
)

// timeUnitToMs returns the multiplier converting a count of unit into
// milliseconds.
func timeUnitToMs(unit string) (float64, bool) {
	switch strings.ToLower(unit) {
	case "d":
		return 1000 * 60 * 60 * 24, true
	case "h":
		return 1000 * 60 * 60, true
	case "min":
		return 1000 * 60, true
	case "s":
		return 1000, true
	case "ms":
		return 1, true
	case "us":
		return 1.0 / 1000, true
	default:
		return 0, false
	}
}

func parseBoolean(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "y", "yes", "t", "true", "on":
		return true, nil
	case "0", "n", "no", "f", "false", "off":
		return false, nil
	default:
		return false, fmt.Errorf("scraper: invalid boolean setting %q", raw)
	}
}

func parseBytes(raw string) (int64, error) {
	if raw == "-1" || raw == "0" {
		return strconv.ParseInt(raw, 10, 64)
	}
	m := bytesPattern.FindStringSubmatch(raw)
	if m == nil {
		return 0, fmt.Errorf("scraper: cannot parse byte size %q", raw)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, err
	}
	idx := indexOfString(byteUnitOrder, strings.ToLower(m[2]))
	if idx < 0 {
		return 0, fmt.Errorf("scraper: unknown byte unit in %q", raw)
	}
	return n * int64(math.Pow(1024, float64(idx))), nil
}

func parseIntegerTimeMs(raw string) (int64, error) {
	if raw == "-1" {
		return -1, nil
	}
	m := intTimePattern.FindStringSubmatch(raw)
	if m == nil {
		return 0, fmt.Errorf("scraper: cannot parse time %q", raw)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, err
	}
	mult, ok := timeUnitToMs(m[2])
	if !ok {
		return 0, fmt.Errorf("scraper: cannot parse time unit in %q", raw)
	}
	return int64(float64(n) * mult), nil
}

func parseFloatTimeMs(raw string) (float64, error) {
	if raw == "0" {
		return 0, nil
	}
	m := floatTimePatt.FindStringSubmatch(raw)
	if m == nil {
		return 0, fmt.Errorf("scraper: cannot parse time %q", raw)
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, err
	}
	mult, ok := timeUnitToMs(m[2])
	if !ok {
		return 0, fmt.Errorf("scraper: cannot parse time unit in %q", raw)
	}
	return n * mult, nil
}

// ParseField normalizes a Postgres setting's raw string value according to
// t, returning the canonical string to write into the settings CSV row.
func ParseField(t SettingType, raw string) (string, error) {
	switch t {
	case SettingBoolean:
		b, err := parseBoolean(raw)
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	case SettingInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return "", fmt.Errorf("scraper: cannot parse integer %q: %w", raw, err)
		}
		return strconv.FormatInt(n, 10), nil
	case SettingBytes:
		n, err := parseBytes(raw)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(n, 10), nil
	case SettingIntegerTime:
		n, err := parseIntegerTimeMs(raw)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(n, 10), nil
	case SettingFloatTime:
		f, err := parseFloatTimeMs(raw)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	case SettingFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", fmt.Errorf("scraper: cannot parse float %q: %w", raw, err)
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	case SettingEnum:
		return raw, nil
	default:
		return raw, nil
	}
}

func indexOfString(haystack []string, needle string) int {
	for i, v := range haystack {
		if v == needle {
			return i
		}
	}
	return -1
}
