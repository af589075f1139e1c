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

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lookup-billing-go/internal/common"
	"lookup-billing-go/internal/config"

	"go.uber.org/zap"
)

func main() {
	reconcileInterval := flag.Duration("reconcile-interval", 0, "Periodically reconcile every account balance against its transactions (0 disables)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting lookup billing service",
		zap.String("store", cfg.Store.Backend),
		zap.String("providers_file", cfg.Providers.File))

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if *reconcileInterval <= 0 {
			<-ctx.Done()
			return
		}
		ticker := time.NewTicker(*reconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reconcileAll(ctx, services)
			}
		}
	}()

	zap.L().Info("Billing subscriber running",
		zap.Strings("providers", services.Providers.Names()))
	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, draining pending events...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	select {
	case <-done:
		zap.L().Info("Background work stopped gracefully")
	case <-shutdownCtx.Done():
		zap.L().Warn("Forced shutdown after timeout")
	}
}

func reconcileAll(ctx context.Context, services *common.Services) {
	accounts, err := services.Ledger.ListAccounts(ctx, "")
	if err != nil {
		zap.L().Error("Failed to list accounts for reconciliation", zap.Error(err))
		return
	}

	mismatches := 0
	for _, account := range accounts {
		if err := services.Ledger.Reconcile(ctx, account.Id); err != nil {
			mismatches++
			zap.L().Error("Reconciliation failed",
				zap.String("account_id", account.Id),
				zap.String("tenant_id", account.TenantId),
				zap.Error(err))
		}
	}
	zap.L().Info("Reconciliation pass finished",
		zap.Int("accounts", len(accounts)),
		zap.Int("mismatches", mismatches))
}
