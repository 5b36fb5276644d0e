// Package config loads the server configuration from a JSON-with-comments
// (JWCC) file, applying spec defaults for anything the file omits.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"github.com/flashdb/kvstore/internal/engine"
)

// Config is the on-disk shape of the server configuration file. Field names
// match spec.md §6's configuration table; ListenAddr (for the transport
// adapter) and LogLevel (for logging) are this module's own additions.
type Config struct {
	WALPath       string `json:"wal_path"`
	StripeCount   int    `json:"stripe_count"`
	MaxKeyBytes   uint32 `json:"max_key_bytes"`
	MaxValueBytes uint32 `json:"max_value_bytes"`
	FsyncOnAppend bool   `json:"fsync_on_append"`
	ListenAddr    string `json:"listen_addr"`
	LogLevel      string `json:"log_level"`
}

// Default returns spec.md §6's documented defaults.
func Default() Config {
	return Config{
		WALPath:       "wal.log",
		StripeCount:   64,
		MaxKeyBytes:   4096,
		MaxValueBytes: 1 << 20,
		FsyncOnAppend: true,
		ListenAddr:    ":7070",
		LogLevel:      "info",
	}
}

// Load reads a JWCC (JSON with comments and trailing commas) file at path
// and overlays it onto Default(). A missing file is not an error: Load
// returns the defaults unchanged, since every field has a documented
// fallback.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	standard, err := hujson.Standardize(raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := json.Unmarshal(standard, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return cfg, nil
}

// EngineConfig projects Config onto the subset engine.New needs.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		WALPath:       c.WALPath,
		StripeCount:   c.StripeCount,
		MaxKeyBytes:   c.MaxKeyBytes,
		MaxValueBytes: c.MaxValueBytes,
		FsyncOnAppend: c.FsyncOnAppend,
	}
}
