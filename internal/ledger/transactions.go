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

	"lookup-billing-go/internal/audit"
	"lookup-billing-go/internal/models"
	"lookup-billing-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// mutation is one balance change applied under the account lock.
type mutation struct {
	accountId    string
	amount       decimal.Decimal
	kind         models.TransactionKind
	metadata     map[string]string
	sourceTxId   string
	reason       string
	requireFunds bool

	// guard runs under the lock before anything is written.
	guard func(ctx context.Context, account *models.Account) error

	// link runs under the lock after every check has passed and before the
	// transaction is written. unlink reverses it if a later write fails.
	link   func(ctx context.Context) error
	unlink func(ctx context.Context)
}

func (m mutation) undo(ctx context.Context) {
	if m.unlink != nil {
		m.unlink(ctx)
	}
}

// Debit removes credits from an account. amount must be negative.
func (s *Service) Debit(ctx context.Context, accountId string, amount decimal.Decimal, kind models.TransactionKind, metadata map[string]string) models.LedgerResult {
	amount = Normalize(amount)
	if kind == "" {
		kind = models.KindLookupDebit
	}

	if err := validateAccountId(accountId); err != nil {
		return s.reject(ctx, audit.ActionDebit, accountId, amount, err)
	}
	if !amount.IsNegative() {
		return s.reject(ctx, audit.ActionDebit, accountId, amount,
			fmt.Errorf("%w: debit amount must be negative, got %s", ErrValidation, amount.String()))
	}

	tx, err := s.apply(ctx, mutation{
		accountId:    accountId,
		amount:       amount,
		kind:         kind,
		metadata:     metadata,
		requireFunds: true,
	})
	if err != nil {
		return s.reject(ctx, audit.ActionDebit, accountId, amount, err)
	}

	s.recordApplied(ctx, audit.ActionDebit, tx)
	return models.LedgerResult{Success: true, TransactionId: tx.Id, NewBalance: tx.BalanceAfter}
}

// Credit adds credits to an account. amount must be positive and, when a
// credit limit is configured, no larger than it.
func (s *Service) Credit(ctx context.Context, accountId string, amount decimal.Decimal, kind models.TransactionKind, metadata map[string]string) models.LedgerResult {
	amount = Normalize(amount)
	if kind == "" {
		kind = models.KindCreditPurchase
	}

	if err := validateAccountId(accountId); err != nil {
		return s.reject(ctx, audit.ActionCredit, accountId, amount, err)
	}
	if !amount.IsPositive() {
		return s.reject(ctx, audit.ActionCredit, accountId, amount,
			fmt.Errorf("%w: credit amount must be positive, got %s", ErrValidation, amount.String()))
	}
	if limit := s.policy.MaxCreditAmount; limit.IsPositive() && amount.GreaterThan(limit) {
		return s.reject(ctx, audit.ActionCredit, accountId, amount,
			fmt.Errorf("%w: credit amount %s exceeds the limit of %s", ErrValidation, amount.String(), limit.String()))
	}

	tx, err := s.apply(ctx, mutation{
		accountId: accountId,
		amount:    amount,
		kind:      kind,
		metadata:  metadata,
	})
	if err != nil {
		return s.reject(ctx, audit.ActionCredit, accountId, amount, err)
	}

	s.recordApplied(ctx, audit.ActionCredit, tx)
	return models.LedgerResult{Success: true, TransactionId: tx.Id, NewBalance: tx.BalanceAfter}
}

// Refund credits back a debit. Without an explicit amount the full debit is
// returned. The source transaction is flipped to refunded under the same
// account lock as the credit, so a failed flip fails the refund.
//
// Unless IdempotentRefunds is set, a source transaction may be refunded more
// than once.
func (s *Service) Refund(ctx context.Context, transactionId string, amount *decimal.Decimal, reason string) models.RefundResult {
	fail := func(err error) models.RefundResult {
		zap.L().Warn("Refund rejected", zap.String("transaction_id", transactionId), zap.Error(err))
		audit.BestEffort(ctx, s.recorder, models.AuditEntry{
			Action:     audit.ActionRefund,
			Resource:   audit.ResourceTx,
			ResourceId: transactionId,
			Outcome:    models.AuditFailure,
			Reason:     err.Error(),
		})
		return models.RefundResult{Success: false, Error: ResultError(err)}
	}

	if transactionId == "" {
		return fail(fmt.Errorf("%w: transaction id is required", ErrValidation))
	}

	source, err := s.loadTransaction(ctx, transactionId)
	if err != nil {
		return fail(err)
	}

	refundAmount, err := refundAmountFor(source, amount)
	if err != nil {
		return fail(err)
	}

	var previous models.TransactionStatus
	tx, err := s.apply(ctx, mutation{
		accountId:  source.AccountId,
		amount:     refundAmount,
		kind:       models.KindRefund,
		sourceTxId: source.Id,
		reason:     reason,
		metadata:   map[string]string{"sourceKind": string(source.Kind)},
		guard: func(ctx context.Context, _ *models.Account) error {
			// Re-read under the lock so concurrent refunds see each other.
			current, err := s.loadTransaction(ctx, source.Id)
			if err != nil {
				return err
			}
			if current.Status == models.StatusFailed {
				return fmt.Errorf("%w: transaction %s never applied", ErrValidation, source.Id)
			}
			if s.policy.IdempotentRefunds && current.Status == models.StatusRefunded {
				return fmt.Errorf("%w: %w", ErrValidation, ErrAlreadyRefunded)
			}
			previous = current.Status
			return nil
		},
		link: func(ctx context.Context) error {
			return s.setTransactionStatus(ctx, source.Id, models.StatusRefunded)
		},
		unlink: func(ctx context.Context) {
			if err := s.setTransactionStatus(ctx, source.Id, previous); err != nil {
				zap.L().Error("Failed to restore source transaction status",
					zap.String("transaction_id", source.Id),
					zap.Error(err))
			}
		},
	})
	if err != nil {
		return fail(err)
	}

	s.recordApplied(ctx, audit.ActionRefund, tx)
	return models.RefundResult{Success: true, RefundId: tx.Id, Amount: tx.Amount}
}

func refundAmountFor(source *models.Transaction, explicit *decimal.Decimal) (decimal.Decimal, error) {
	if !source.Amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: only debits can be refunded, transaction %s has amount %s",
			ErrValidation, source.Id, source.Amount.String())
	}

	refund := source.Amount.Neg()
	if explicit != nil {
		refund = Normalize(*explicit).Abs()
		if refund.IsZero() {
			return decimal.Zero, fmt.Errorf("%w: refund amount must not be zero", ErrValidation)
		}
		if refund.GreaterThan(source.Amount.Abs()) {
			return decimal.Zero, fmt.Errorf("%w: refund amount %s exceeds the debited %s",
				ErrValidation, refund.String(), source.Amount.Abs().String())
		}
	}
	return refund, nil
}

// apply runs the read-modify-persist sequence for one account under its lock.
func (s *Service) apply(ctx context.Context, m mutation) (*models.Transaction, error) {
	unlock := s.locks.Lock(m.accountId)
	defer unlock()

	account, err := s.loadAccount(ctx, m.accountId)
	if err != nil {
		return nil, err
	}

	if m.guard != nil {
		if err := m.guard(ctx, account); err != nil {
			return nil, err
		}
	}

	if m.requireFunds {
		if account.Status != models.AccountActive {
			return nil, fmt.Errorf("%w: account %s is %s", ErrValidation, account.Id, account.Status)
		}
		if account.Balance.Add(m.amount).IsNegative() {
			return nil, fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientBalance,
				account.Balance.String(), m.amount.Abs().String())
		}
	}

	if m.link != nil {
		if err := m.link(ctx); err != nil {
			zap.L().Error("Failed to update source transaction",
				zap.String("account_id", account.Id),
				zap.String("source_transaction_id", m.sourceTxId),
				zap.Error(err))
			return nil, fmt.Errorf("%w: %w", ErrProcessing, err)
		}
	}

	newBalance := Normalize(account.Balance.Add(m.amount))
	now := s.now()

	tx := &models.Transaction{
		Id:            newTransactionId(),
		AccountId:     account.Id,
		TenantId:      account.TenantId,
		Kind:          m.kind,
		Amount:        m.amount,
		Currency:      s.policy.Currency,
		Status:        models.StatusCompleted,
		BalanceBefore: account.Balance,
		BalanceAfter:  newBalance,
		SourceTxId:    m.sourceTxId,
		PluginId:      m.metadata[MetaPluginId],
		LookupId:      m.metadata[MetaLookupId],
		Reason:        m.reason,
		Metadata:      m.metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	zap.L().Info("Processing transaction",
		zap.String("account_id", account.Id),
		zap.String("kind", string(tx.Kind)),
		zap.String("amount", tx.Amount.String()),
		zap.String("transaction_id", tx.Id))

	doc, err := store.Encode(tx)
	if err != nil {
		m.undo(ctx)
		return nil, fmt.Errorf("%w: %w", ErrProcessing, err)
	}
	if _, err := s.store.Create(ctx, store.CollectionTransactions, tx.Id, doc); err != nil {
		zap.L().Error("Failed to persist transaction", zap.String("transaction_id", tx.Id), zap.Error(err))
		m.undo(ctx)
		return nil, fmt.Errorf("%w: %w", ErrProcessing, err)
	}

	if _, err := s.store.Update(ctx, store.CollectionAccounts, account.Id, store.Document{
		"balance":           newBalance,
		"version":           account.Version + 1,
		"lastTransactionId": tx.Id,
		"updatedAt":         now,
	}); err != nil {
		zap.L().Error("Failed to update balance",
			zap.String("account_id", account.Id),
			zap.String("transaction_id", tx.Id),
			zap.Error(err))
		s.markFailed(ctx, tx.Id)
		m.undo(ctx)
		return nil, fmt.Errorf("%w: %w", ErrProcessing, err)
	}

	zap.L().Info("Transaction processed successfully",
		zap.String("transaction_id", tx.Id),
		zap.String("account_id", account.Id),
		zap.String("old_balance", account.Balance.String()),
		zap.String("new_balance", newBalance.String()))

	return tx, nil
}

func (s *Service) setTransactionStatus(ctx context.Context, transactionId string, status models.TransactionStatus) error {
	_, err := s.store.Update(ctx, store.CollectionTransactions, transactionId, store.Document{
		"status":    status,
		"updatedAt": s.now(),
	})
	return err
}

// markFailed flags a transaction whose balance update never landed.
func (s *Service) markFailed(ctx context.Context, transactionId string) {
	if err := s.setTransactionStatus(ctx, transactionId, models.StatusFailed); err != nil {
		zap.L().Error("Failed to mark transaction failed", zap.String("transaction_id", transactionId), zap.Error(err))
	}
}

func (s *Service) reject(ctx context.Context, action, accountId string, amount decimal.Decimal, err error) models.LedgerResult {
	zap.L().Warn("Ledger operation rejected",
		zap.String("action", action),
		zap.String("account_id", accountId),
		zap.String("amount", amount.String()),
		zap.Error(err))

	audit.BestEffort(ctx, s.recorder, models.AuditEntry{
		AccountId:  accountId,
		Action:     action,
		Resource:   audit.ResourceAcct,
		ResourceId: accountId,
		Outcome:    models.AuditFailure,
		Reason:     err.Error(),
		Metadata:   map[string]string{"amount": amount.String()},
	})
	return models.LedgerResult{Success: false, Error: ResultError(err)}
}

func (s *Service) recordApplied(ctx context.Context, action string, tx *models.Transaction) {
	metadata := map[string]string{
		"amount":        tx.Amount.String(),
		"balanceBefore": tx.BalanceBefore.String(),
		"balanceAfter":  tx.BalanceAfter.String(),
		"kind":          string(tx.Kind),
	}
	if tx.SourceTxId != "" {
		metadata["sourceTransactionId"] = tx.SourceTxId
	}

	audit.BestEffort(ctx, s.recorder, models.AuditEntry{
		TenantId:   tx.TenantId,
		AccountId:  tx.AccountId,
		Action:     action,
		Resource:   audit.ResourceTx,
		ResourceId: tx.Id,
		Outcome:    models.AuditSuccess,
		Metadata:   metadata,
	})
}

func validateAccountId(accountId string) error {
	if accountId == "" {
		return fmt.Errorf("%w: account id is required", ErrValidation)
	}
	return nil
}
