// Package logger provides the subsystem-aware logging facade used across
// the transport, port-mapping, and peer packages.
package logger

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// LogFormat selects the slog handler used for output.
type LogFormat int

const (
	// FormatText is the default, human-readable handler.
	FormatText LogFormat = iota
	// FormatJSON emits structured JSON records.
	FormatJSON
)

// Config controls per-subsystem log levels and output format.
type Config struct {
	// DefaultLevel is used for subsystems with no explicit override.
	DefaultLevel slog.Level

	// SubsystemLevels overrides DefaultLevel per subsystem name.
	SubsystemLevels map[string]slog.Level

	// Format selects text or JSON output.
	Format LogFormat

	// AddSource includes the call site in each record.
	AddSource bool
}

// LevelForSubsystem resolves the effective level for a subsystem name.
func (c *Config) LevelForSubsystem(subsystem string) slog.Level {
	if level, ok := c.SubsystemLevels[subsystem]; ok {
		return level
	}
	return c.DefaultLevel
}

var (
	configCache *Config
	configOnce  sync.Once
)

// ConfigFromEnv parses NATSIM_LOG_LEVEL / NATSIM_LOG_FORMAT / NATSIM_LOG_ADD_SOURCE.
//
// NATSIM_LOG_LEVEL format: "subsystem=level,subsystem=level,defaultLevel"
// e.g. "peer=debug,nat=warn,info"
func ConfigFromEnv() *Config {
	configOnce.Do(func() {
		configCache = parseConfig()
	})
	return configCache
}

func parseConfig() *Config {
	cfg := &Config{
		DefaultLevel:    slog.LevelInfo,
		SubsystemLevels: make(map[string]slog.Level),
		Format:          FormatText,
		AddSource:       false,
	}

	if levelStr := os.Getenv("NATSIM_LOG_LEVEL"); levelStr != "" {
		parseLevelConfig(cfg, levelStr)
	}

	if formatStr := os.Getenv("NATSIM_LOG_FORMAT"); formatStr != "" {
		switch strings.ToLower(formatStr) {
		case "json":
			cfg.Format = FormatJSON
		default:
			cfg.Format = FormatText
		}
	}

	if addSourceStr := os.Getenv("NATSIM_LOG_ADD_SOURCE"); addSourceStr != "" {
		cfg.AddSource = addSourceStr != "false" && addSourceStr != "0"
	}

	return cfg
}

func parseLevelConfig(cfg *Config, levelStr string) {
	for _, part := range strings.Split(levelStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "=") {
			kv := strings.SplitN(part, "=", 2)
			if len(kv) == 2 {
				subsystem := strings.TrimSpace(kv[0])
				if level, ok := parseLevel(strings.TrimSpace(kv[1])); ok {
					cfg.SubsystemLevels[subsystem] = level
				}
			}
			continue
		}
		if level, ok := parseLevel(part); ok {
			cfg.DefaultLevel = level
		}
	}
}

func parseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// ResetConfig clears the cached config. Test-only.
func ResetConfig() {
	configOnce = sync.Once{}
	configCache = nil
}
