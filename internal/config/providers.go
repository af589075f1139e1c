package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"lookup-billing-go/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// DefaultPrices is the category price table used when the providers file has none
var DefaultPrices = map[models.Category]decimal.Decimal{
	models.CategoryIdentity: decimal.RequireFromString("0.90"),
	models.CategoryCredit:   decimal.RequireFromString("1.80"),
	models.CategoryVehicle:  decimal.RequireFromString("2.50"),
	models.CategoryAddress:  decimal.Zero,
	models.CategoryOther:    decimal.RequireFromString("1.00"),
}

type providerEntry struct {
	Name              string                  `yaml:"name"`
	BaseURL           string                  `yaml:"base_url"`
	Token             string                  `yaml:"token"`
	TokenEnv          string                  `yaml:"token_env"`
	Timeout           string                  `yaml:"timeout"`
	MaxRetries        *int                    `yaml:"max_retries"`
	BaseDelay         string                  `yaml:"base_delay"`
	MaxDelay          string                  `yaml:"max_delay"`
	Jitter            string                  `yaml:"jitter"`
	PerMinute         int                     `yaml:"per_minute"`
	MinSpacing        string                  `yaml:"min_spacing"`
	RateLimitFallback string                  `yaml:"rate_limit_fallback"`
	MaxRateLimitWaits int                     `yaml:"max_rate_limit_waits"`
	Fallbacks         []string                `yaml:"fallbacks"`
	Schemas           []models.ProviderSchema `yaml:"schemas"`
}

type providersFile struct {
	Prices    map[string]string `yaml:"prices"`
	Fallbacks struct {
		AddressURL     string `yaml:"address_url"`
		AddressTimeout string `yaml:"address_timeout"`
	} `yaml:"fallbacks"`
	Providers []providerEntry `yaml:"providers"`
}

// LoadProviders parses the providers file. A missing file yields the defaults
// (no providers, default prices) unless PROVIDERS_FILE was set explicitly.
func LoadProviders(providersPath string) (*models.ProvidersConfig, error) {
	path := providersPath
	if !filepath.IsAbs(path) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		path = filepath.Join(wd, providersPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && os.Getenv("PROVIDERS_FILE") == "" {
			return defaultProviders(providersPath), nil
		}
		return nil, fmt.Errorf("unable to read %s: %w", providersPath, err)
	}

	return ParseProviders(providersPath, data)
}

// ParseProviders decodes and validates the YAML content of a providers file.
func ParseProviders(name string, data []byte) (*models.ProvidersConfig, error) {
	var file providersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", name, err)
	}

	cfg := defaultProviders(name)

	for category, raw := range file.Prices {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid price for category %s: %q (%w)", category, raw, err)
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("price for category %s cannot be negative", category)
		}
		cfg.Prices[models.Category(category)] = price
	}

	if file.Fallbacks.AddressURL != "" {
		cfg.Fallbacks.AddressURL = file.Fallbacks.AddressURL
	}
	if file.Fallbacks.AddressTimeout != "" {
		d, err := parseDuration("fallbacks.address_timeout", file.Fallbacks.AddressTimeout, cfg.Fallbacks.AddressTimeout)
		if err != nil {
			return nil, err
		}
		cfg.Fallbacks.AddressTimeout = d
	}

	seen := make(map[string]bool)
	for i, entry := range file.Providers {
		if entry.Name == "" {
			return nil, fmt.Errorf("provider at index %d missing name", i)
		}
		if seen[entry.Name] {
			return nil, fmt.Errorf("duplicate provider %q", entry.Name)
		}
		seen[entry.Name] = true
		if entry.BaseURL == "" {
			return nil, fmt.Errorf("provider %s missing base_url", entry.Name)
		}

		provider, err := buildProvider(entry)
		if err != nil {
			return nil, err
		}
		cfg.Providers = append(cfg.Providers, provider)
	}

	return cfg, nil
}

func buildProvider(entry providerEntry) (models.ProviderConfig, error) {
	provider := models.ProviderConfig{
		Name:              entry.Name,
		BaseURL:           entry.BaseURL,
		Token:             entry.Token,
		MaxRetries:        3,
		PerMinute:         entry.PerMinute,
		MaxRateLimitWaits: entry.MaxRateLimitWaits,
		Fallbacks:         entry.Fallbacks,
		Schemas:           entry.Schemas,
	}
	if entry.TokenEnv != "" {
		provider.Token = os.Getenv(entry.TokenEnv)
	}
	if entry.MaxRetries != nil {
		if *entry.MaxRetries < 0 {
			return provider, fmt.Errorf("provider %s: max_retries cannot be negative", entry.Name)
		}
		provider.MaxRetries = *entry.MaxRetries
	}
	if provider.PerMinute <= 0 {
		provider.PerMinute = 60
	}
	if provider.MaxRateLimitWaits <= 0 {
		provider.MaxRateLimitWaits = 10
	}

	durations := []struct {
		field string
		raw   string
		def   time.Duration
		dst   *time.Duration
	}{
		{"timeout", entry.Timeout, 60 * time.Second, &provider.Timeout},
		{"base_delay", entry.BaseDelay, 500 * time.Millisecond, &provider.BaseDelay},
		{"max_delay", entry.MaxDelay, 10 * time.Second, &provider.MaxDelay},
		{"jitter", entry.Jitter, 250 * time.Millisecond, &provider.Jitter},
		{"min_spacing", entry.MinSpacing, 200 * time.Millisecond, &provider.MinSpacing},
		{"rate_limit_fallback", entry.RateLimitFallback, 30 * time.Second, &provider.RateLimitFallback},
	}
	for _, d := range durations {
		value, err := parseDuration(entry.Name+"."+d.field, d.raw, d.def)
		if err != nil {
			return provider, err
		}
		*d.dst = value
	}

	for i, schema := range provider.Schemas {
		if schema.ServiceId == "" || schema.Endpoint == "" {
			return provider, fmt.Errorf("provider %s: schema at index %d needs service_id and endpoint", entry.Name, i)
		}
		for j, field := range schema.Fields {
			switch field.Type {
			case models.FieldDocument, models.FieldDate, models.FieldPlate, models.FieldText:
			case "":
				provider.Schemas[i].Fields[j].Type = models.FieldText
			default:
				return provider, fmt.Errorf("provider %s: schema %s field %s has unknown type %q",
					entry.Name, schema.ServiceId, field.Name, field.Type)
			}
		}
	}

	return provider, nil
}

func defaultProviders(file string) *models.ProvidersConfig {
	prices := make(map[models.Category]decimal.Decimal, len(DefaultPrices))
	for k, v := range DefaultPrices {
		prices[k] = v
	}
	return &models.ProvidersConfig{
		File:   file,
		Prices: prices,
		Fallbacks: models.FallbackConfig{
			AddressURL:     "https://viacep.com.br/ws",
			AddressTimeout: 5 * time.Second,
		},
	}
}

func parseDuration(field, raw string, defaultValue time.Duration) (time.Duration, error) {
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %q (%w)", field, raw, err)
	}
	return d, nil
}
