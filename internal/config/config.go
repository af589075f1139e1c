/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"lookup-billing-go/internal/models"

	"github.com/shopspring/decimal"
)

func Load() (*models.Config, error) {
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	maxCredit, err := getEnvDecimal("LEDGER_MAX_CREDIT_AMOUNT", decimal.Zero)
	if err != nil {
		return nil, err
	}
	if maxCredit.IsNegative() {
		return nil, fmt.Errorf("LEDGER_MAX_CREDIT_AMOUNT cannot be negative, got %s", maxCredit.String())
	}

	backend := strings.ToLower(getEnvString("STORE_BACKEND", "sqlite"))
	if backend != "sqlite" && backend != "memory" {
		return nil, fmt.Errorf("invalid STORE_BACKEND %q: expected sqlite or memory", backend)
	}

	cfg := &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "billing.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Store: models.StoreConfig{
			Backend: backend,
		},
		Events: models.EventsConfig{
			QueueSize: getEnvInt("EVENT_QUEUE_SIZE", 1024),
		},
		Ledger: models.LedgerConfig{
			Currency:          getEnvString("LEDGER_CURRENCY", "BRL"),
			MaxCreditAmount:   maxCredit,
			IdempotentRefunds: getEnvBool("LEDGER_REFUND_IDEMPOTENT", false),
		},
		LogLevel: getEnvString("LOG_LEVEL", "info"),
	}

	providersFile := getEnvString("PROVIDERS_FILE", "providers.yaml")
	providers, err := LoadProviders(providersFile)
	if err != nil {
		return nil, err
	}
	cfg.Providers = *providers

	return cfg, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	if value := os.Getenv(key); value != "" {
		d, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid decimal for %s: %q (%w)", key, value, err)
		}
		return d, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
