package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the tab suspension daemon.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// TickInterval is how often the alarm loop checks the sweep due cursor.
	// The sweep cadence itself derives from the idle threshold.
	TickInterval time.Duration

	BridgeRPCTimeout time.Duration

	PlaceholderPrefix string
	RecoveryCap       int

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("TABNAP_BIND_ADDR", "127.0.0.1:7632"),
		MetricsNamespace:  envOrDefault("TABNAP_METRICS_NAMESPACE", "tabnap"),
		AllowAnyOrigin:    false,
		PlaceholderPrefix: envOrDefault("TABNAP_PLACEHOLDER_PREFIX", ""),
		DatabaseURL:       trimmedEnv("DATABASE_URL"),
		ShutdownTimeout:   15 * time.Second,
		TickInterval:      30 * time.Second,
		BridgeRPCTimeout:  15 * time.Second,
		RecoveryCap:       50,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("TABNAP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TickInterval, err = durationFromEnv("TABNAP_TICK_INTERVAL", cfg.TickInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.BridgeRPCTimeout, err = durationFromEnv("TABNAP_BRIDGE_RPC_TIMEOUT", cfg.BridgeRPCTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RecoveryCap, err = intFromEnv("TABNAP_RECOVERY_CAP", cfg.RecoveryCap)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("TABNAP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.TickInterval < time.Second {
		return Config{}, fmt.Errorf("TABNAP_TICK_INTERVAL must be at least 1s")
	}
	if cfg.BridgeRPCTimeout < time.Second {
		return Config{}, fmt.Errorf("TABNAP_BRIDGE_RPC_TIMEOUT must be at least 1s")
	}
	if cfg.RecoveryCap <= 0 {
		return Config{}, fmt.Errorf("TABNAP_RECOVERY_CAP must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
