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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind classifies a balance change
type TransactionKind string

const (
	KindCreditPurchase TransactionKind = "credit-purchase"
	KindLookupDebit    TransactionKind = "lookup-debit"
	KindRefund         TransactionKind = "refund"
	KindManualCredit   TransactionKind = "manual-credit"
	KindManualDebit    TransactionKind = "manual-debit"
)

// TransactionStatus is the only mutable part of a Transaction
type TransactionStatus string

const (
	StatusCompleted TransactionStatus = "completed"
	StatusRefunded  TransactionStatus = "refunded"
	// StatusFailed marks a transaction whose balance update never landed.
	StatusFailed TransactionStatus = "failed"
)

// Applied reports whether the transaction amount is reflected in the account balance.
func (s TransactionStatus) Applied() bool {
	return s == StatusCompleted || s == StatusRefunded
}

const (
	AccountActive    = "active"
	AccountSuspended = "suspended"
)

// Account is a tenant-scoped billable principal (current state - hot data)
type Account struct {
	Id        string          `json:"id"`
	TenantId  string          `json:"tenantId"`
	Balance   decimal.Decimal `json:"balance"`
	Status    string          `json:"status"`
	Version   int64           `json:"version"`
	LastTxId  string          `json:"lastTransactionId,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Transaction is the immutable ledger record of a balance change (audit trail - cold data)
type Transaction struct {
	Id            string            `json:"id"`
	AccountId     string            `json:"accountId"`
	TenantId      string            `json:"tenantId"`
	Kind          TransactionKind   `json:"kind"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	Status        TransactionStatus `json:"status"`
	BalanceBefore decimal.Decimal   `json:"balanceBefore"`
	BalanceAfter  decimal.Decimal   `json:"balanceAfter"`
	SourceTxId    string            `json:"sourceTransactionId,omitempty"`
	PluginId      string            `json:"pluginId,omitempty"`
	LookupId      string            `json:"lookupId,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// LedgerResult is the outcome of a debit or credit
type LedgerResult struct {
	Success       bool            `json:"ok"`
	TransactionId string          `json:"transactionId,omitempty"`
	NewBalance    decimal.Decimal `json:"newBalance,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// RefundResult is the outcome of a refund
type RefundResult struct {
	Success  bool            `json:"ok"`
	RefundId string          `json:"refundId,omitempty"`
	Amount   decimal.Decimal `json:"amount,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// TransactionFilters narrows ListTransactions and Aggregate
type TransactionFilters struct {
	TenantId  string
	AccountId string
	Kind      TransactionKind
	Status    TransactionStatus
	From      time.Time
	To        time.Time
	Page      int
	PerPage   int
}

// TransactionPage is one page of transaction history
type TransactionPage struct {
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"perPage"`
	Items   []Transaction `json:"items"`
}

// Granularity selects the calendar bucket used by Aggregate
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

// AggregateBucket summarizes the transactions of one calendar bucket
type AggregateBucket struct {
	Key   string          `json:"key"`
	Sum   decimal.Decimal `json:"sum"`
	Avg   decimal.Decimal `json:"avg"`
	Count int             `json:"count"`
}
