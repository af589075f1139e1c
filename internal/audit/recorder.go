// Package audit records ledger actions to an append-only trail.
//
// Recording is best-effort: callers go through BestEffort, which absorbs
// every error and panic so an audit failure never fails the action it describes.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lookup-billing-go/internal/models"
	"lookup-billing-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ledger actions
const (
	ActionDebit  = "ledger.debit"
	ActionCredit = "ledger.credit"
	ActionRefund = "ledger.refund"
	ActionOpen   = "ledger.account_opened"
	ResourceTx   = "transaction"
	ResourceAcct = "account"
)

// Compile-time interface checks.
var (
	_ Recorder = RecorderFunc(nil)
	_ Recorder = (*LogRecorder)(nil)
	_ Recorder = (*StoreRecorder)(nil)
	_ Recorder = Multi(nil)
)

// Recorder is the interface audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, entry *models.AuditEntry) error
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, entry *models.AuditEntry) error

func (f RecorderFunc) Record(ctx context.Context, entry *models.AuditEntry) error {
	return f(ctx, entry)
}

// LogRecorder writes entries to the global zap logger.
type LogRecorder struct{}

func (LogRecorder) Record(_ context.Context, entry *models.AuditEntry) error {
	zap.L().Info("Audit",
		zap.String("audit_id", entry.Id),
		zap.String("action", entry.Action),
		zap.String("resource", entry.Resource),
		zap.String("resource_id", entry.ResourceId),
		zap.String("tenant_id", entry.TenantId),
		zap.String("account_id", entry.AccountId),
		zap.String("outcome", entry.Outcome),
		zap.Any("metadata", entry.Metadata))
	return nil
}

// StoreRecorder appends entries to the audits collection.
type StoreRecorder struct {
	store store.DocumentStore
}

func NewStoreRecorder(s store.DocumentStore) *StoreRecorder {
	return &StoreRecorder{store: s}
}

func (r *StoreRecorder) Record(ctx context.Context, entry *models.AuditEntry) error {
	doc, err := store.Encode(entry)
	if err != nil {
		return err
	}
	if _, err := r.store.Create(ctx, store.CollectionAudits, entry.Id, doc); err != nil {
		return fmt.Errorf("failed to store audit entry: %w", err)
	}
	return nil
}

// Multi fans an entry out to every recorder and joins their errors.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, entry *models.AuditEntry) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BestEffort records entry and absorbs any failure. A nil recorder is a no-op.
func BestEffort(ctx context.Context, r Recorder, entry models.AuditEntry) {
	if r == nil {
		return
	}
	if entry.Id == "" {
		entry.Id = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	defer func() {
		if p := recover(); p != nil {
			zap.L().Warn("Audit recorder panicked",
				zap.String("action", entry.Action),
				zap.Any("panic", p))
		}
	}()

	if err := r.Record(ctx, &entry); err != nil {
		zap.L().Warn("Failed to record audit entry",
			zap.String("action", entry.Action),
			zap.String("resource_id", entry.ResourceId),
			zap.Error(err))
	}
}
