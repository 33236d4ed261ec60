// Carelog - Clinic Audit and Compliance Trail
// Copyright 2026 Carelog Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/carelog/carelog

// Package config provides layered configuration for Carelog using Koanf v2.
// Precedence: environment variables > YAML config file > built-in defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Logging  LoggingConfig  `koanf:"logging"`
	API      APIConfig      `koanf:"api"`
	Security SecurityConfig `koanf:"security"`
	Audit    AuditConfig    `koanf:"audit"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	// Path is the DuckDB database file; ":memory:" for ephemeral storage.
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	// Threads limits DuckDB worker threads; 0 uses runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// APIConfig holds query API settings.
type APIConfig struct {
	DefaultPageSize int `koanf:"default_page_size"`
	MaxPageSize     int `koanf:"max_page_size"`
	// ExportLimit caps the number of entries rendered by an export.
	ExportLimit int `koanf:"export_limit"`
}

// SecurityConfig holds authentication and rate limiting settings.
type SecurityConfig struct {
	// JWTSecret verifies bearer tokens issued by the clinic's auth service.
	JWTSecret         string        `koanf:"jwt_secret"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// AuditConfig holds audit trail settings.
type AuditConfig struct {
	Enabled bool `koanf:"enabled"`

	// RetentionDays is how long entries are kept before the janitor
	// deletes them.
	RetentionDays int `koanf:"retention_days"`

	// CleanupInterval is how often the retention janitor runs.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`

	// BufferSize is the capacity of the async write buffer; entries are
	// dropped when the buffer is full.
	BufferSize int `koanf:"buffer_size"`

	// MaxBodyCapture bounds how much of a mutation request body is
	// captured into NewValues, in bytes.
	MaxBodyCapture int `koanf:"max_body_capture"`

	// SensitiveResources are the resources whose reads are audited.
	SensitiveResources []string `koanf:"sensitive_resources"`

	// SkipPaths are path substrings that suppress auditing entirely.
	SkipPaths []string `koanf:"skip_paths"`
}

// defaultConfig returns a Config with all default values applied.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8440,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Database: DatabaseConfig{
			Path:      "/data/carelog.duckdb",
			MaxMemory: "1GB",
			Threads:   0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		API: APIConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
			ExportLimit:     10000,
		},
		Security: SecurityConfig{
			JWTSecret:         "",
			RateLimitReqs:     100,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
			CORSOrigins:       []string{"*"},
		},
		Audit: AuditConfig{
			Enabled:         true,
			RetentionDays:   365,
			CleanupInterval: 24 * time.Hour,
			BufferSize:      1000,
			MaxBodyCapture:  64 * 1024,
			SensitiveResources: []string{
				"users", "patients", "appointments", "medical-records", "audit",
			},
			SkipPaths: []string{
				"/health", "/metrics", "/documentation", "/audit", "/static", "/favicon.ico",
			},
		},
	}
}

// Validate checks the configuration for invalid or inconsistent values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.API.DefaultPageSize < 1 || c.API.DefaultPageSize > c.API.MaxPageSize {
		return fmt.Errorf("api.default_page_size must be between 1 and api.max_page_size")
	}
	if c.API.MaxPageSize > 1000 {
		return fmt.Errorf("api.max_page_size must not exceed 1000, got %d", c.API.MaxPageSize)
	}
	if c.API.ExportLimit < 1 {
		return fmt.Errorf("api.export_limit must be positive, got %d", c.API.ExportLimit)
	}
	if c.Audit.RetentionDays < 1 {
		return fmt.Errorf("audit.retention_days must be positive, got %d", c.Audit.RetentionDays)
	}
	if c.Audit.CleanupInterval < time.Minute {
		return fmt.Errorf("audit.cleanup_interval must be at least 1m, got %s", c.Audit.CleanupInterval)
	}
	if c.Audit.BufferSize < 1 {
		return fmt.Errorf("audit.buffer_size must be positive, got %d", c.Audit.BufferSize)
	}
	if c.Server.Environment == "production" && c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret is required in production")
	}
	return nil
}
