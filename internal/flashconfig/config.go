// Package flashconfig loads ambient CLI configuration from an optional
// rc file plus environment variables (out of spec.md's core scope, but
// part of the ambient stack every CLI in this teacher's style carries).
package flashconfig

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds settings the CLI front-end needs but the core spec
// treats as an external collaborator's concern (logging format, status
// server bind address, default progress rate).
type Config struct {
	LogFormat    string // "json" (default) or "text"
	StatusAddr   string // empty disables the status server
	ProgressHz   float64
	BL2LoadAddr  uint64
	NoTUI        bool
	CopyReport   bool
}

const rcFileName = ".flashthingrc"

func defaults() Config {
	return Config{
		LogFormat:   "json",
		StatusAddr:  "",
		ProgressHz:  20,
		BL2LoadAddr: 0xd9000000,
	}
}

// Load builds a Config by layering, in increasing precedence: built-in
// defaults, a .flashthingrc file (cwd, then each parent up to and
// including the directory holding go.mod or the filesystem root), then
// FLASHTHING_* environment variables. Grounded on HASHER's
// internal/config .env-then-os.Getenv layering, generalized to a
// walk-up-to-project-root search and a wider field set.
func Load() Config {
	cfg := defaults()

	if path := findRCFile(); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			applyRCFile(string(data), &cfg)
		}
	}

	applyEnv(&cfg)
	return cfg
}

func findRCFile() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	dir := cwd
	for {
		candidate := filepath.Join(dir, rcFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func applyRCFile(content string, cfg *Config) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		applyField(strings.TrimSpace(key), strings.TrimSpace(value), cfg)
	}
}

func applyEnv(cfg *Config) {
	for _, key := range []string{"LOG_FORMAT", "STATUS_ADDR", "PROGRESS_HZ", "BL2_LOAD_ADDR", "NO_TUI", "COPY_REPORT"} {
		if v := os.Getenv("FLASHTHING_" + key); v != "" {
			applyField(key, v, cfg)
		}
	}
}

func applyField(key, value string, cfg *Config) {
	switch key {
	case "LOG_FORMAT":
		cfg.LogFormat = value
	case "STATUS_ADDR":
		cfg.StatusAddr = value
	case "PROGRESS_HZ":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			cfg.ProgressHz = f
		}
	case "BL2_LOAD_ADDR":
		base := 10
		trimmed := value
		if strings.HasPrefix(strings.ToLower(trimmed), "0x") {
			base = 16
			trimmed = trimmed[2:]
		}
		if n, err := strconv.ParseUint(trimmed, base, 64); err == nil {
			cfg.BL2LoadAddr = n
		}
	case "NO_TUI":
		cfg.NoTUI = parseBool(value)
	case "COPY_REPORT":
		cfg.CopyReport = parseBool(value)
	}
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
