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
	"fmt"

	"lookup-billing-go/internal/common"
	"lookup-billing-go/internal/config"
	"lookup-billing-go/internal/ledger"
	"lookup-billing-go/internal/models"

	"go.uber.org/zap"
)

type balanceStats struct {
	totalAccounts     int
	totalTransactions int
	accountsWithFunds int
}

func printTransaction(tx models.Transaction, isLast bool) {
	symbol, detail := common.TreePrefixes(isLast)

	fmt.Printf("%s %-16s %16s %-9s (id: %s, %s)\n",
		symbol,
		tx.Kind,
		common.FormatMoney(tx.Amount, tx.Currency),
		tx.Status,
		common.ShortId(tx.Id),
		tx.CreatedAt.Format("2006-01-02 15:04:05"))

	if tx.LookupId != "" {
		fmt.Printf("%s    lookup: %s\n", detail, tx.LookupId)
	}
	if tx.SourceTxId != "" {
		fmt.Printf("%s    refunds: %s\n", detail, common.ShortId(tx.SourceTxId))
	}
}

func printTransactions(items []models.Transaction) {
	for i, tx := range items {
		printTransaction(tx, i == len(items)-1)
	}
}

func printBuckets(buckets []models.AggregateBucket) {
	for i, bucket := range buckets {
		branch, _ := common.TreePrefixes(i == len(buckets)-1)
		fmt.Printf("%s %-10s sum %10s  avg %8s  count %d\n",
			branch,
			bucket.Key,
			bucket.Sum.StringFixed(2),
			bucket.Avg.StringFixed(2),
			bucket.Count)
	}
}

func printAccountHeader(account models.Account, total int) {
	fmt.Printf("\n┌─ Account: %s (tenant %s)\n", account.Id, account.TenantId)
	fmt.Printf("│  Status: %s\n", account.Status)
	fmt.Printf("│  Balance: %s (v%d, last_tx: %s, updated: %s)\n",
		account.Balance.StringFixed(2),
		account.Version,
		common.ShortId(account.LastTxId),
		account.UpdatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("│  Transactions: %d\n", total)
	common.PrintBoxSeparator(78)
}

func processAccount(ctx context.Context, account models.Account, ledgerService *ledger.Service, perPage int, granularity models.Granularity) (int, error) {
	page, err := ledgerService.ListTransactions(ctx, models.TransactionFilters{
		AccountId: account.Id,
		PerPage:   perPage,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list transactions: %w", err)
	}

	printAccountHeader(account, page.Total)
	printTransactions(page.Items)

	if granularity != "" && page.Total > 0 {
		buckets, err := ledgerService.Aggregate(ctx, models.TransactionFilters{AccountId: account.Id}, granularity)
		if err != nil {
			return page.Total, fmt.Errorf("failed to aggregate transactions: %w", err)
		}
		fmt.Printf("│\n│  By %s:\n", granularity)
		printBuckets(buckets)
	}

	return page.Total, nil
}

func processAccountsAndGenerateReport(ctx context.Context, accounts []models.Account, ledgerService *ledger.Service, perPage int, granularity models.Granularity) balanceStats {
	stats := balanceStats{}

	for _, account := range accounts {
		stats.totalAccounts++

		count, err := processAccount(ctx, account, ledgerService, perPage, granularity)
		if err != nil {
			zap.L().Error("Failed to process account",
				zap.String("account_id", account.Id),
				zap.String("tenant_id", account.TenantId),
				zap.Error(err))
			continue
		}

		stats.totalTransactions += count
		if account.Balance.IsPositive() {
			stats.accountsWithFunds++
		}
	}

	return stats
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	// Parse command line flags
	tenantFlag := flag.String("tenant", "", "Filter by tenant id (optional)")
	accountFlag := flag.String("account", "", "Show a single account (optional)")
	perPageFlag := flag.Int("per-page", ledger.DefaultPerPage, "Most recent transactions shown per account")
	granularityFlag := flag.String("by", "", "Aggregate transactions by day, week or month (optional)")
	flag.Parse()

	logger.Info("Starting balance query")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Read-only: no event channel or providers needed
	logger.Info("Connecting to store", zap.String("backend", cfg.Store.Backend), zap.String("path", cfg.Database.Path))
	ledgerService, st, err := common.InitializeLedgerOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize ledger", zap.Error(err))
	}
	defer st.Close()

	var accounts []models.Account
	if *accountFlag != "" {
		account, err := ledgerService.GetAccount(ctx, *accountFlag)
		if err != nil {
			logger.Fatal("Failed to load account", zap.String("account_id", *accountFlag), zap.Error(err))
		}
		accounts = []models.Account{*account}
	} else {
		accounts, err = ledgerService.ListAccounts(ctx, *tenantFlag)
		if err != nil {
			logger.Fatal("Failed to list accounts", zap.Error(err))
		}
	}

	// Print header
	common.PrintHeader("ACCOUNT BALANCE REPORT", common.DefaultWidth)

	// Process accounts and generate report
	stats := processAccountsAndGenerateReport(ctx, accounts, ledgerService, *perPageFlag, models.Granularity(*granularityFlag))

	// Print footer summary
	summary := fmt.Sprintf("SUMMARY: %d accounts with funds (%d transactions across %d accounts queried)",
		stats.accountsWithFunds, stats.totalTransactions, stats.totalAccounts)
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("Balance query completed",
		zap.Int("accounts_queried", stats.totalAccounts),
		zap.Int("accounts_with_funds", stats.accountsWithFunds),
		zap.Int("total_transactions", stats.totalTransactions))
}
