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

// Package ledger is the credit ledger: the only writer of account balances.
//
// Every balance mutation on an account runs under that account's mutex from a
// keymutex.Arena, so the read-modify-persist sequence against the document
// store never interleaves with another mutation of the same account.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lookup-billing-go/internal/audit"
	"lookup-billing-go/internal/keymutex"
	"lookup-billing-go/internal/models"
	"lookup-billing-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Sentinel errors for ledger operations. Their messages are the error strings
// returned in LedgerResult and RefundResult.
var (
	ErrValidation          = errors.New("validation error")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotFound            = errors.New("not found")
	ErrProcessing          = errors.New("processing error")
	ErrAlreadyRefunded     = errors.New("transaction already refunded")
	ErrBalanceMismatch     = errors.New("balance mismatch")
)

// Metadata keys copied onto dedicated transaction fields.
const (
	MetaLookupId   = "lookupId"
	MetaLookupType = "lookupType"
	MetaPluginId   = "pluginId"
)

const DefaultCurrency = "BRL"

type Service struct {
	store    store.DocumentStore
	recorder audit.Recorder
	locks    *keymutex.Arena
	policy   models.LedgerConfig
	now      func() time.Time
}

func NewService(st store.DocumentStore, recorder audit.Recorder, policy models.LedgerConfig) *Service {
	if policy.Currency == "" {
		policy.Currency = DefaultCurrency
	}
	return &Service{
		store:    st,
		recorder: recorder,
		locks:    keymutex.New(),
		policy:   policy,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Normalize rounds an amount to exactly two decimal places, half away from zero.
func Normalize(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// OpenAccount creates the account at balance zero, or returns it if it already exists.
func (s *Service) OpenAccount(ctx context.Context, tenantId, accountId string) (*models.Account, error) {
	if tenantId == "" || accountId == "" {
		return nil, fmt.Errorf("%w: tenant id and account id are required", ErrValidation)
	}

	unlock := s.locks.Lock(accountId)
	defer unlock()

	existing, err := s.loadAccount(ctx, accountId)
	if err == nil {
		if existing.TenantId != tenantId {
			return nil, fmt.Errorf("%w: account %s belongs to another tenant", ErrValidation, accountId)
		}
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := s.now()
	account := &models.Account{
		Id:        accountId,
		TenantId:  tenantId,
		Balance:   decimal.Zero,
		Status:    models.AccountActive,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	doc, err := store.Encode(account)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProcessing, err)
	}
	if _, err := s.store.Create(ctx, store.CollectionAccounts, accountId, doc); err != nil {
		zap.L().Error("Failed to create account", zap.String("account_id", accountId), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrProcessing, err)
	}

	zap.L().Info("Account opened", zap.String("tenant_id", tenantId), zap.String("account_id", accountId))
	audit.BestEffort(ctx, s.recorder, models.AuditEntry{
		TenantId:   tenantId,
		AccountId:  accountId,
		Action:     audit.ActionOpen,
		Resource:   audit.ResourceAcct,
		ResourceId: accountId,
		Outcome:    models.AuditSuccess,
	})
	return account, nil
}

// SetAccountStatus switches an account between active and suspended.
func (s *Service) SetAccountStatus(ctx context.Context, accountId, status string) error {
	if status != models.AccountActive && status != models.AccountSuspended {
		return fmt.Errorf("%w: unknown account status %q", ErrValidation, status)
	}

	unlock := s.locks.Lock(accountId)
	defer unlock()

	if _, err := s.loadAccount(ctx, accountId); err != nil {
		return err
	}
	if _, err := s.store.Update(ctx, store.CollectionAccounts, accountId, store.Document{
		"status":    status,
		"updatedAt": s.now(),
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrProcessing, err)
	}
	return nil
}

func (s *Service) GetAccount(ctx context.Context, accountId string) (*models.Account, error) {
	if accountId == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrValidation)
	}
	return s.loadAccount(ctx, accountId)
}

func (s *Service) GetBalance(ctx context.Context, accountId string) (decimal.Decimal, error) {
	account, err := s.GetAccount(ctx, accountId)
	if err != nil {
		return decimal.Zero, err
	}

	zap.L().Debug("Retrieved balance", zap.String("account_id", accountId), zap.String("balance", account.Balance.String()))
	return account.Balance, nil
}

func (s *Service) GetTransaction(ctx context.Context, transactionId string) (*models.Transaction, error) {
	if transactionId == "" {
		return nil, fmt.Errorf("%w: transaction id is required", ErrValidation)
	}
	return s.loadTransaction(ctx, transactionId)
}

func (s *Service) loadAccount(ctx context.Context, accountId string) (*models.Account, error) {
	doc, err := s.store.Get(ctx, store.CollectionAccounts, accountId)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, accountId)
	}
	if err != nil {
		zap.L().Error("Failed to load account", zap.String("account_id", accountId), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrProcessing, err)
	}

	var account models.Account
	if err := store.Decode(doc, &account); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProcessing, err)
	}
	return &account, nil
}

func (s *Service) loadTransaction(ctx context.Context, transactionId string) (*models.Transaction, error) {
	doc, err := s.store.Get(ctx, store.CollectionTransactions, transactionId)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, transactionId)
	}
	if err != nil {
		zap.L().Error("Failed to load transaction", zap.String("transaction_id", transactionId), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrProcessing, err)
	}

	var tx models.Transaction
	if err := store.Decode(doc, &tx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProcessing, err)
	}
	return &tx, nil
}

// ResultError maps an internal error onto the public error string.
func ResultError(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return err.Error()
	case errors.Is(err, ErrInsufficientBalance):
		return ErrInsufficientBalance.Error()
	case errors.Is(err, ErrNotFound):
		return ErrNotFound.Error()
	default:
		return ErrProcessing.Error()
	}
}

func newTransactionId() string {
	return uuid.New().String()
}
