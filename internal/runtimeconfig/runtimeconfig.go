// Package runtimeconfig reads the environment knobs cmd/talaria honors,
// once, at startup. Other components take their configuration as
// explicit struct fields, set from the values this package resolves; the
// exceptions are layout.Default and logging.LevelFromEnv, which read
// TALARIA_HOME and TALARIA_LOG themselves.
package runtimeconfig

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Config is the resolved set of environment knobs.
type Config struct {
	// Home is the repository root. Corresponds to TALARIA_HOME.
	Home string

	// ManifestServer is the remote manifest server base URL, used for
	// collaborative/remote manifest lookups. Corresponds to
	// TALARIA_MANIFEST_SERVER. Empty means local-only operation.
	ManifestServer string

	// PreserveAlways, if set, keeps every download workspace directory
	// regardless of outcome. Corresponds to TALARIA_PRESERVE_ALWAYS.
	PreserveAlways bool

	// PreserveOnFailure keeps a workspace's tracked files when its
	// state machine enters Failed. Corresponds to
	// TALARIA_PRESERVE_ON_FAILURE.
	PreserveOnFailure bool

	// DownloadRateLimitKBs caps download throughput. Zero means
	// unthrottled. Corresponds to TALARIA_DOWNLOAD_RATE_LIMIT.
	DownloadRateLimitKBs uint64

	// Threads caps the blob store's parallel hash/compress pool (PutMany)
	// and its parallel rehash pool (VerifyAll). Defaults to
	// runtime.GOMAXPROCS(0). Corresponds to TALARIA_THREADS.
	Threads int

	// LogLevel is the component-default log level filter, as parsed by
	// internal/logging.LevelFromEnv. Corresponds to TALARIA_LOG.
	LogLevel slog.Level
}

// Load reads every environment knob into a Config. Malformed values
// (a non-numeric TALARIA_THREADS, for example) are reported as errors
// rather than silently ignored, so a typo surfaces at startup instead
// of as a quietly wrong default downstream.
func Load() (Config, error) {
	cfg := Config{
		Home:              os.Getenv("TALARIA_HOME"),
		ManifestServer:    os.Getenv("TALARIA_MANIFEST_SERVER"),
		PreserveAlways:    boolEnv("TALARIA_PRESERVE_ALWAYS"),
		PreserveOnFailure: boolEnv("TALARIA_PRESERVE_ON_FAILURE"),
		Threads:           runtime.GOMAXPROCS(0),
		LogLevel:          levelFromEnv(),
	}

	if v := strings.TrimSpace(os.Getenv("TALARIA_DOWNLOAD_RATE_LIMIT")); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("runtimeconfig: TALARIA_DOWNLOAD_RATE_LIMIT=%q: %w", v, err)
		}
		cfg.DownloadRateLimitKBs = n
	}

	if v := strings.TrimSpace(os.Getenv("TALARIA_THREADS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("runtimeconfig: TALARIA_THREADS=%q: %w", v, err)
		}
		if n <= 0 {
			return Config{}, fmt.Errorf("runtimeconfig: TALARIA_THREADS=%q: must be positive", v)
		}
		cfg.Threads = n
	}

	return cfg, nil
}

func boolEnv(name string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// levelFromEnv duplicates internal/logging.LevelFromEnv's parsing so
// this package reports a typed slog.Level without importing logging
// back (logging has no dependency on runtimeconfig and should stay
// that way; cmd/talaria wires the two together).
func levelFromEnv() slog.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("TALARIA_LOG"))) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
