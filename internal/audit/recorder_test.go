package audit

import (
	"context"
	"errors"
	"testing"

	"lookup-billing-go/internal/models"
	"lookup-billing-go/internal/store"
	"lookup-billing-go/internal/store/memory"
)

func TestBestEffort_FillsIdAndTimestamp(t *testing.T) {
	var got *models.AuditEntry
	r := RecorderFunc(func(ctx context.Context, entry *models.AuditEntry) error {
		got = entry
		return nil
	})

	BestEffort(context.Background(), r, models.AuditEntry{Action: ActionDebit})

	if got == nil {
		t.Fatal("Expected recorder to be called")
	}
	if got.Id == "" {
		t.Error("Expected generated audit id")
	}
	if got.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}
}

func TestBestEffort_AbsorbsErrorsAndPanics(t *testing.T) {
	failing := RecorderFunc(func(ctx context.Context, entry *models.AuditEntry) error {
		return errors.New("sink down")
	})
	panicking := RecorderFunc(func(ctx context.Context, entry *models.AuditEntry) error {
		panic("sink exploded")
	})

	// Neither call may propagate a failure
	BestEffort(context.Background(), failing, models.AuditEntry{Action: ActionCredit})
	BestEffort(context.Background(), panicking, models.AuditEntry{Action: ActionCredit})
	BestEffort(context.Background(), nil, models.AuditEntry{Action: ActionCredit})
}

func TestStoreRecorder_AppendsToAudits(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	r := NewStoreRecorder(s)

	BestEffort(ctx, r, models.AuditEntry{
		TenantId:   "t1",
		AccountId:  "acc1",
		Action:     ActionDebit,
		Resource:   ResourceTx,
		ResourceId: "tx1",
		Outcome:    models.AuditSuccess,
	})

	docs, err := s.List(ctx, store.CollectionAudits, store.Filters{"accountId": "acc1"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("Expected 1 audit entry, got %d", len(docs))
	}

	var entry models.AuditEntry
	if err := store.Decode(docs[0], &entry); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if entry.Action != ActionDebit || entry.ResourceId != "tx1" {
		t.Errorf("Unexpected audit entry: %+v", entry)
	}
}

func TestMulti_JoinsErrors(t *testing.T) {
	var calls int
	ok := RecorderFunc(func(ctx context.Context, entry *models.AuditEntry) error {
		calls++
		return nil
	})
	errA := errors.New("a")
	bad := RecorderFunc(func(ctx context.Context, entry *models.AuditEntry) error {
		calls++
		return errA
	})

	err := Multi{ok, bad, LogRecorder{}}.Record(context.Background(), &models.AuditEntry{Action: ActionRefund})
	if !errors.Is(err, errA) {
		t.Errorf("Expected joined error to contain errA, got %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected both function recorders to be called, got %d", calls)
	}
}

func TestStoreRecorder_ClosedStore(t *testing.T) {
	s := memory.New()
	s.Close()

	err := NewStoreRecorder(s).Record(context.Background(), &models.AuditEntry{Id: "a1"})
	if !errors.Is(err, store.ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
