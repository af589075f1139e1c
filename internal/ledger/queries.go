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

package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"lookup-billing-go/internal/models"
	"lookup-billing-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// ListAccounts returns the accounts of a tenant, or every account when
// tenantId is empty, ordered by id.
func (s *Service) ListAccounts(ctx context.Context, tenantId string) ([]models.Account, error) {
	filters := store.Filters{}
	if tenantId != "" {
		filters["tenantId"] = tenantId
	}

	docs, err := s.store.List(ctx, store.CollectionAccounts, filters)
	if err != nil {
		zap.L().Error("Failed to list accounts", zap.String("tenant_id", tenantId), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrProcessing, err)
	}

	accounts := make([]models.Account, 0, len(docs))
	for _, doc := range docs {
		var account models.Account
		if err := store.Decode(doc, &account); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProcessing, err)
		}
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Id < accounts[j].Id })
	return accounts, nil
}

// ListTransactions returns one page of matching transactions, newest first.
func (s *Service) ListTransactions(ctx context.Context, filters models.TransactionFilters) (models.TransactionPage, error) {
	page, perPage := clampPage(filters.Page, filters.PerPage)

	items, err := s.matchingTransactions(ctx, filters)
	if err != nil {
		return models.TransactionPage{}, err
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	result := models.TransactionPage{
		Total:   len(items),
		Page:    page,
		PerPage: perPage,
		Items:   []models.Transaction{},
	}

	start := (page - 1) * perPage
	if start < len(items) {
		end := min(start+perPage, len(items))
		result.Items = items[start:end]
	}
	return result, nil
}

// Aggregate groups matching transactions by calendar bucket of their creation
// time. Buckets are sorted by key. Paging fields of filters are ignored.
func (s *Service) Aggregate(ctx context.Context, filters models.TransactionFilters, granularity models.Granularity) ([]models.AggregateBucket, error) {
	keyFn, err := bucketKey(granularity)
	if err != nil {
		return nil, err
	}

	items, err := s.matchingTransactions(ctx, filters)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]*models.AggregateBucket)
	for _, tx := range items {
		key := keyFn(tx.CreatedAt.UTC())
		bucket, ok := byKey[key]
		if !ok {
			bucket = &models.AggregateBucket{Key: key, Sum: decimal.Zero}
			byKey[key] = bucket
		}
		bucket.Sum = bucket.Sum.Add(tx.Amount)
		bucket.Count++
	}

	buckets := make([]models.AggregateBucket, 0, len(byKey))
	for _, bucket := range byKey {
		bucket.Avg = Normalize(bucket.Sum.Div(decimal.NewFromInt(int64(bucket.Count))))
		buckets = append(buckets, *bucket)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Key < buckets[j].Key })

	return buckets, nil
}

// Reconcile verifies that the account balance equals the sum of every applied
// transaction. A refunded debit stays applied; its refund is a separate credit.
func (s *Service) Reconcile(ctx context.Context, accountId string) error {
	zap.L().Info("Reconciling balance", zap.String("account_id", accountId))

	unlock := s.locks.Lock(accountId)
	defer unlock()

	account, err := s.GetAccount(ctx, accountId)
	if err != nil {
		return err
	}

	docs, err := s.store.List(ctx, store.CollectionTransactions, store.Filters{"accountId": accountId})
	if err != nil {
		return fmt.Errorf("%w: failed to list transactions: %w", ErrProcessing, err)
	}

	calculated := decimal.Zero
	for _, doc := range docs {
		var tx models.Transaction
		if err := store.Decode(doc, &tx); err != nil {
			return fmt.Errorf("%w: %w", ErrProcessing, err)
		}
		if tx.Status.Applied() {
			calculated = calculated.Add(tx.Amount)
		}
	}

	if !account.Balance.Equal(calculated) {
		zap.L().Error("Balance reconciliation failed",
			zap.String("account_id", accountId),
			zap.String("current_balance", account.Balance.String()),
			zap.String("calculated_balance", calculated.String()),
			zap.String("difference", account.Balance.Sub(calculated).String()))
		return fmt.Errorf("%w: current=%s, calculated=%s", ErrBalanceMismatch, account.Balance.String(), calculated.String())
	}

	zap.L().Info("Balance reconciliation successful",
		zap.String("account_id", accountId),
		zap.String("balance", account.Balance.String()))
	return nil
}

func (s *Service) matchingTransactions(ctx context.Context, filters models.TransactionFilters) ([]models.Transaction, error) {
	if !filters.From.IsZero() && !filters.To.IsZero() && filters.To.Before(filters.From) {
		return nil, fmt.Errorf("%w: date range end precedes its start", ErrValidation)
	}

	storeFilters := store.Filters{}
	if filters.TenantId != "" {
		storeFilters["tenantId"] = filters.TenantId
	}
	if filters.AccountId != "" {
		storeFilters["accountId"] = filters.AccountId
	}
	if filters.Kind != "" {
		storeFilters["kind"] = string(filters.Kind)
	}
	if filters.Status != "" {
		storeFilters["status"] = string(filters.Status)
	}

	docs, err := s.store.List(ctx, store.CollectionTransactions, storeFilters)
	if err != nil {
		zap.L().Error("Failed to list transactions", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrProcessing, err)
	}

	items := make([]models.Transaction, 0, len(docs))
	for _, doc := range docs {
		var tx models.Transaction
		if err := store.Decode(doc, &tx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProcessing, err)
		}
		if !filters.From.IsZero() && tx.CreatedAt.Before(filters.From) {
			continue
		}
		if !filters.To.IsZero() && !tx.CreatedAt.Before(filters.To) {
			continue
		}
		items = append(items, tx)
	}
	return items, nil
}

func clampPage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}

func bucketKey(granularity models.Granularity) (func(time.Time) string, error) {
	switch granularity {
	case models.GranularityDay:
		return func(t time.Time) string { return t.Format("2006-01-02") }, nil
	case models.GranularityWeek:
		return func(t time.Time) string {
			year, week := t.ISOWeek()
			return fmt.Sprintf("%04d-W%02d", year, week)
		}, nil
	case models.GranularityMonth:
		return func(t time.Time) string { return t.Format("2006-01") }, nil
	default:
		return nil, fmt.Errorf("%w: unknown granularity %q", ErrValidation, granularity)
	}
}
