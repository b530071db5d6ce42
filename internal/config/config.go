// Package config holds the runtime settings shared by the merryhere commands.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

const (
	StoreBackendGorm = "gorm"
	StoreBackendPgx  = "pgx"

	defaultDatabaseURL    = "sqlite://merryhere.db"
	defaultHTTPAddr       = ":8080"
	defaultGRPCAddr       = ":7000"
	defaultTimeZone       = "Asia/Seoul"
	defaultAllowedOrigin  = "http://localhost:3000"
	defaultSessionIssuer  = "tauth"
	defaultSessionCookie  = "app_session"
	defaultAdminRole      = "admin"
	defaultAMQPExchange   = "merryhere.events"
	defaultRequestTimeout = 5 * time.Second
)

// Config aggregates runtime settings for the server and the admin commands.
type Config struct {
	DatabaseURL       string
	StoreBackend      string
	HTTPAddr          string
	GRPCAddr          string
	TimeZone          string
	AllowedOrigins    []string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	AdminRole         string
	AMQPURL           string
	AMQPExchange      string
	RequestTimeout    time.Duration
}

// Validate applies defaults and rejects values the server cannot run with.
func (cfg *Config) Validate() error {
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.StoreBackend = strings.ToLower(defaultIfEmpty(cfg.StoreBackend, StoreBackendGorm))
	cfg.HTTPAddr = defaultIfEmpty(cfg.HTTPAddr, defaultHTTPAddr)
	cfg.GRPCAddr = defaultIfEmpty(cfg.GRPCAddr, defaultGRPCAddr)
	cfg.TimeZone = defaultIfEmpty(cfg.TimeZone, defaultTimeZone)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	cfg.AdminRole = defaultIfEmpty(cfg.AdminRole, defaultAdminRole)
	cfg.AMQPExchange = defaultIfEmpty(cfg.AMQPExchange, defaultAMQPExchange)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	switch cfg.StoreBackend {
	case StoreBackendGorm, StoreBackendPgx:
	default:
		return fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
	if cfg.StoreBackend == StoreBackendPgx && !IsPostgresURL(cfg.DatabaseURL) {
		return errors.New("pgx store backend requires a postgres database url")
	}
	if _, err := cfg.Location(); err != nil {
		return err
	}
	return nil
}

// ValidateServer additionally requires the settings only the HTTP server needs.
func (cfg *Config) ValidateServer() error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(cfg.SessionSigningKey) == 0 {
		return errors.New("jwt signing key is required")
	}
	return nil
}

// Location resolves TimeZone.
func (cfg *Config) Location() (*time.Location, error) {
	location, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("time zone %q: %w", cfg.TimeZone, err)
	}
	return location, nil
}

// IsPostgresURL reports whether a database url points at postgres.
func IsPostgresURL(databaseURL string) bool {
	lowered := strings.ToLower(strings.TrimSpace(databaseURL))
	return strings.HasPrefix(lowered, "postgres://") || strings.HasPrefix(lowered, "postgresql://")
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
