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
	"os"

	"lookup-billing-go/internal/common"
	"lookup-billing-go/internal/config"
	"lookup-billing-go/internal/ledger"
	"lookup-billing-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const usage = `usage: adjust <command> [flags]

commands:
  open       -tenant T -account A
  credit     -account A -amount N [-reason R]
  debit      -account A -amount N [-reason R]
  refund     -tx ID [-amount N] [-reason R]
  reconcile  -account A
  suspend    -account A
  activate   -account A
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	tenant := fs.String("tenant", "", "Tenant id")
	account := fs.String("account", "", "Account id")
	amount := fs.String("amount", "", "Amount, e.g. 10.50")
	txId := fs.String("tx", "", "Transaction id to refund")
	reason := fs.String("reason", "", "Reason recorded with the adjustment")
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx := context.Background()
	ledgerService, st, err := common.InitializeLedgerOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize ledger", zap.Error(err))
	}
	defer st.Close()

	if err := run(ctx, ledgerService, command, *tenant, *account, *amount, *txId, *reason); err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", command, err)
		loggerCleanup()
		st.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, l *ledger.Service, command, tenant, account, rawAmount, txId, reason string) error {
	var metadata map[string]string
	if reason != "" {
		metadata = map[string]string{"reason": reason}
	}

	switch command {
	case "open":
		acct, err := l.OpenAccount(ctx, tenant, account)
		if err != nil {
			return err
		}
		fmt.Printf("Account %s open for tenant %s (balance %s)\n", acct.Id, acct.TenantId, acct.Balance.StringFixed(2))

	case "credit", "debit":
		amount, err := decimal.NewFromString(rawAmount)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", rawAmount, err)
		}
		var res models.LedgerResult
		if command == "credit" {
			res = l.Credit(ctx, account, amount.Abs(), models.KindManualCredit, metadata)
		} else {
			res = l.Debit(ctx, account, amount.Abs().Neg(), models.KindManualDebit, metadata)
		}
		if !res.Success {
			return fmt.Errorf("%s", res.Error)
		}
		fmt.Printf("Transaction %s applied, new balance %s\n", res.TransactionId, res.NewBalance.StringFixed(2))

	case "refund":
		var explicit *decimal.Decimal
		if rawAmount != "" {
			amount, err := decimal.NewFromString(rawAmount)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", rawAmount, err)
			}
			explicit = &amount
		}
		res := l.Refund(ctx, txId, explicit, reason)
		if !res.Success {
			return fmt.Errorf("%s", res.Error)
		}
		fmt.Printf("Refund %s of %s applied\n", res.RefundId, common.FormatMoney(res.Amount, ""))

	case "reconcile":
		if err := l.Reconcile(ctx, account); err != nil {
			return err
		}
		fmt.Printf("Account %s reconciles\n", account)

	case "suspend", "activate":
		status := models.AccountActive
		if command == "suspend" {
			status = models.AccountSuspended
		}
		if err := l.SetAccountStatus(ctx, account, status); err != nil {
			return err
		}
		fmt.Printf("Account %s is now %s\n", account, status)

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}
