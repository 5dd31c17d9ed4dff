package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error joining every problem found.
func Validate(cfg *Config) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.LocalPath == "" {
		add("local_path", "must not be empty")
	}
	if cfg.TesterPath == "" {
		add("tester_path", "must not be empty")
	}

	// The deployed tree is removed with rm -rf, so refuse anything that
	// could resolve to a home or root directory.
	switch strings.TrimRight(strings.TrimSpace(cfg.RemoteSrc), "/") {
	case "", ".", "..", "~":
		add("remote_src", "must name a dedicated directory (got %q)", cfg.RemoteSrc)
	}
	if cfg.ClientSrc != "" && !cfg.Remote {
		add("client_src", "only applies with --remote")
	}

	if cfg.User == "" {
		add("user", "could not be determined; pass --user")
	}
	if cfg.MserverHost == "" {
		add("mserver_host", "must not be empty")
	}
	for _, p := range []struct {
		field string
		port  int
	}{
		{"client_port", cfg.ClientPort},
		{"server_port", cfg.ServerPort},
	} {
		if p.port < 1 || p.port > 65535 {
			add(p.field, "must be between 1 and 65535 (got %d)", p.port)
		}
	}
	if cfg.ClientPort == cfg.ServerPort {
		add("server_port", "must differ from client_port (both %d)", cfg.ClientPort)
	}

	if cfg.Warmup <= 0 {
		add("warmup", "must be positive")
	}
	if cfg.StopTimeout <= 0 {
		add("stop_timeout", "must be positive")
	}
	if cfg.InjectorDelay < 0 {
		add("injector_delay", "must not be negative")
	}

	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			add("metrics_addr", "must be host:port (got %q)", cfg.MetricsAddr)
		}
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		add("log_format", "must be 'json' or 'text' (got %q)", cfg.LogFormat)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.LogLevel] {
		add("log_level", "must be one of: debug, info, warn, error (got %q)", cfg.LogLevel)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
