// Package config loads optional static defaults for the agent's command
// line flags from a TOML file, so a deployment can pin its tuning constants
// once instead of repeating them on every invocation.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Defaults mirrors the subset of agent flags worth pinning in a config
// file. Zero values leave the flag's value as it is. A nonzero value
// replaces the flag's value, including one given on the command line, and a
// true boolean turns its flag on even when the flag was not passed.
type Defaults struct {
	UtilInterval     int     `toml:"util_interval"`
	MetricInterval   int     `toml:"metric_interval"`
	LLCCycles        int     `toml:"llc_cycles"`
	QuotaCycles      int     `toml:"quota_cycles"`
	MarginRatio      float64 `toml:"margin_ratio"`
	ThreshFile       string  `toml:"thresh_file"`
	KeyByCID         bool    `toml:"key_by_cid"`
	EnableHold       bool    `toml:"enable_hold"`
	DisableCAT       bool    `toml:"disable_cat"`
	EnablePrometheus bool    `toml:"enable_prometheus"`
	PrometheusAddr   string  `toml:"prometheus_addr"`
}

// Load decodes a TOML defaults file. A missing file is not an error: it
// returns a zero Defaults so callers fall back entirely to flag defaults.
func Load(path string) (Defaults, error) {
	var d Defaults
	if path == "" {
		return d, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return d, nil
	}
	if _, err := toml.DecodeFile(path, &d); err != nil {
		return d, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return d, nil
}
