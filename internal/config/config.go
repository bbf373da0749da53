// Package config handles loading application configuration from a YAML file
// with environment variable overrides.
//
// Config file format (caderneta.yaml):
//
//	listen_addr: ":8080"
//	data_dir: "./data"
//	auth_password: "mysecretpassword"
//	backend: "sqlite"
//	quota_bytes: 5242880
//	page_turn_delay: "200ms"
//
// Configuration sources, in increasing priority order:
//  1. Built-in defaults
//  2. YAML config file (located by FindConfigFile or explicit path)
//  3. Environment variables (LISTEN_ADDR, DATA_DIR, AUTH_PASSWORD, BACKEND,
//     STORAGE_KEY, QUOTA_BYTES, TOTAL_SLOTS, PAGE_SIZE, JPEG_QUALITY,
//     RESAMPLER, PERSIST_POLICY, PAGE_TURN_DELAY, DOUBLE_TAP_DELAY, LOG_LEVEL)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// ListenAddr is the TCP address for the HTTP server (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// DataDir is the directory holding the album storage.
	DataDir string `yaml:"data_dir"`

	// Password is the shared password for form-based authentication.
	// Leave empty to disable authentication (development/trusted-network use only).
	Password string `yaml:"auth_password"`

	// Backend selects the storage implementation.
	// "sqlite" – single caderneta.db file (default)
	// "fs"     – one JSON file per key
	Backend string `yaml:"backend"`

	// StorageKey is the key the album record is stored under.
	StorageKey string `yaml:"storage_key"`

	// QuotaBytes caps the total size of stored records, like a browser's
	// per-origin storage limit. 0 disables the cap.
	QuotaBytes int64 `yaml:"quota_bytes"`

	// TotalSlots is the fixed album size.
	TotalSlots int `yaml:"total_slots"`

	// PageSize is the number of slots shown per page.
	PageSize int `yaml:"page_size"`

	// JPEGQuality is the encoding quality of normalized images (1-100).
	JPEGQuality int `yaml:"jpeg_quality"`

	// Resampler is the resize kernel: catmullrom, bilinear or lanczos3.
	Resampler string `yaml:"resampler"`

	// PersistPolicy decides what happens to memory when a save is rejected:
	// "keep" keeps the in-memory change, "write-first" discards it.
	PersistPolicy string `yaml:"persist_policy"`

	// PageTurnDelayStr is the page-turn transition time as a duration
	// string (e.g. "200ms"). "0" turns pages immediately.
	// Parsed into PageTurnDelay by Load().
	PageTurnDelayStr string `yaml:"page_turn_delay"`

	// PageTurnDelay is the parsed form of PageTurnDelayStr.
	PageTurnDelay time.Duration `yaml:"-"`

	// DoubleTapDelayStr is the window in which a second tap on the same
	// slot counts as a double tap. Parsed into DoubleTapDelay by Load().
	DoubleTapDelayStr string `yaml:"double_tap_delay"`

	// DoubleTapDelay is the parsed form of DoubleTapDelayStr.
	DoubleTapDelay time.Duration `yaml:"-"`

	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr:        ":8080",
		DataDir:           "./data",
		Backend:           "sqlite",
		StorageKey:        "caderneta_v1",
		QuotaBytes:        5 << 20,
		TotalSlots:        1000,
		PageSize:          16,
		JPEGQuality:       80,
		Resampler:         "catmullrom",
		PersistPolicy:     "keep",
		PageTurnDelayStr:  "200ms",
		PageTurnDelay:     200 * time.Millisecond,
		DoubleTapDelayStr: "300ms",
		DoubleTapDelay:    300 * time.Millisecond,
		LogLevel:          "info",
	}
}

// Load reads configuration from the YAML file at path (if non-empty), then
// applies environment variable overrides on top. Returns the merged Config.
// If path is empty, only defaults and environment variables are applied.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	// Environment variables always override file values so that Docker /
	// systemd overrides still work even when a config file is present.
	envString("LISTEN_ADDR", &cfg.ListenAddr)
	envString("DATA_DIR", &cfg.DataDir)
	envString("AUTH_PASSWORD", &cfg.Password)
	envString("BACKEND", &cfg.Backend)
	envString("STORAGE_KEY", &cfg.StorageKey)
	envString("RESAMPLER", &cfg.Resampler)
	envString("PERSIST_POLICY", &cfg.PersistPolicy)
	envString("PAGE_TURN_DELAY", &cfg.PageTurnDelayStr)
	envString("DOUBLE_TAP_DELAY", &cfg.DoubleTapDelayStr)
	envString("LOG_LEVEL", &cfg.LogLevel)
	if v := os.Getenv("QUOTA_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.QuotaBytes = n
		}
	}
	envInt("TOTAL_SLOTS", &cfg.TotalSlots)
	envInt("PAGE_SIZE", &cfg.PageSize)
	envInt("JPEG_QUALITY", &cfg.JPEGQuality)

	// "0" turns pages without a transition; invalid strings keep the default.
	cfg.PageTurnDelay = parseDuration(cfg.PageTurnDelayStr, cfg.PageTurnDelay, true)
	cfg.DoubleTapDelay = parseDuration(cfg.DoubleTapDelayStr, cfg.DoubleTapDelay, false)

	return cfg, nil
}

// Validate reports settings the application cannot run with.
func (c Config) Validate() error {
	switch {
	case c.TotalSlots <= 0:
		return fmt.Errorf("total_slots must be positive, got %d", c.TotalSlots)
	case c.PageSize <= 0:
		return fmt.Errorf("page_size must be positive, got %d", c.PageSize)
	case c.JPEGQuality < 1 || c.JPEGQuality > 100:
		return fmt.Errorf("jpeg_quality must be 1-100, got %d", c.JPEGQuality)
	case c.QuotaBytes < 0:
		return fmt.Errorf("quota_bytes must not be negative, got %d", c.QuotaBytes)
	case c.Backend != "fs" && c.Backend != "sqlite":
		return fmt.Errorf("unknown backend %q (want fs or sqlite)", c.Backend)
	case c.DoubleTapDelay <= 0:
		return fmt.Errorf("double_tap_delay must be positive, got %v", c.DoubleTapDelay)
	}
	return nil
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func parseDuration(s string, def time.Duration, zeroOK bool) time.Duration {
	if s == "" {
		return def
	}
	if s == "0" {
		if zeroOK {
			return 0
		}
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// FindConfigFile returns the path to the first config file found in the
// standard search order, or "" if none is found.
//
// Search order:
//  1. CADERNETA_CONFIG environment variable (explicit override)
//  2. ./caderneta.yaml (current working directory)
//  3. ~/.config/caderneta/config.yaml (XDG user config)
func FindConfigFile() string {
	// 1. Explicit path via environment variable.
	if p := os.Getenv("CADERNETA_CONFIG"); p != "" {
		return p
	}

	// 2. Config file in the current working directory.
	if _, err := os.Stat("caderneta.yaml"); err == nil {
		return "caderneta.yaml"
	}

	// 3. XDG user config directory.
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".config", "caderneta", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
