package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig
	Store     StoreConfig
	Events    EventsConfig
	Ledger    LedgerConfig
	Providers ProvidersConfig
	LogLevel  string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// StoreConfig selects the document store backend
type StoreConfig struct {
	Backend string // "sqlite" or "memory"
}

// EventsConfig holds event channel settings
type EventsConfig struct {
	QueueSize int
}

// LedgerConfig holds ledger policy settings
type LedgerConfig struct {
	Currency string
	// MaxCreditAmount caps a single credit; zero means unlimited.
	MaxCreditAmount   decimal.Decimal
	IdempotentRefunds bool
}

// ProvidersConfig is the parsed providers file
type ProvidersConfig struct {
	File      string
	Providers []ProviderConfig
	Prices    map[Category]decimal.Decimal
	Fallbacks FallbackConfig
}

// ProviderConfig holds the settings of one upstream gateway
type ProviderConfig struct {
	Name              string
	BaseURL           string
	Token             string
	Timeout           time.Duration
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	Jitter            time.Duration
	PerMinute         int
	MinSpacing        time.Duration
	RateLimitFallback time.Duration
	MaxRateLimitWaits int
	Fallbacks         []string
	Schemas           []ProviderSchema
}

// FallbackConfig holds settings of the free fallback sources
type FallbackConfig struct {
	AddressURL     string
	AddressTimeout time.Duration
}
