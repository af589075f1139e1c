package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"lookup-billing-go/internal/models"

	"github.com/shopspring/decimal"
)

func seedHistory(t *testing.T) *Service {
	t.Helper()
	svc, _ := setupLedger(t, models.LedgerConfig{})
	ctx := context.Background()

	base := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC) // Monday, ISO week 10
	svc.now = fixedClock(base)
	if _, err := svc.OpenAccount(ctx, "tenant1", "acc1"); err != nil {
		t.Fatalf("OpenAccount failed: %v", err)
	}
	if _, err := svc.OpenAccount(ctx, "tenant2", "acc2"); err != nil {
		t.Fatalf("OpenAccount failed: %v", err)
	}

	steps := []struct {
		at      time.Time
		account string
		amount  string
	}{
		{base, "acc1", "20"},                             // 2025-03-03 credit
		{base.Add(1 * time.Hour), "acc1", "-1.80"},       // 2025-03-03
		{base.Add(24 * time.Hour), "acc1", "-2.50"},      // 2025-03-04
		{base.Add(7 * 24 * time.Hour), "acc1", "-0.90"},  // 2025-03-10, week 11
		{base.Add(30 * 24 * time.Hour), "acc1", "-1.00"}, // 2025-04-02
		{base, "acc2", "5"},
	}
	for _, step := range steps {
		svc.now = fixedClock(step.at)
		amount := decimal.RequireFromString(step.amount)
		var res models.LedgerResult
		if amount.IsPositive() {
			res = svc.Credit(ctx, step.account, amount, models.KindCreditPurchase, nil)
		} else {
			res = svc.Debit(ctx, step.account, amount, models.KindLookupDebit, nil)
		}
		if !res.Success {
			t.Fatalf("Seed step %+v failed: %s", step, res.Error)
		}
	}
	return svc
}

func TestListTransactions_FiltersAndOrder(t *testing.T) {
	svc := seedHistory(t)
	ctx := context.Background()

	page, err := svc.ListTransactions(ctx, models.TransactionFilters{TenantId: "tenant1"})
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if page.Total != 5 || len(page.Items) != 5 {
		t.Fatalf("Expected 5 tenant1 transactions, got total=%d items=%d", page.Total, len(page.Items))
	}
	if page.Page != 1 || page.PerPage != DefaultPerPage {
		t.Errorf("Expected default paging 1/%d, got %d/%d", DefaultPerPage, page.Page, page.PerPage)
	}
	if !page.Items[0].Amount.Equal(decimal.RequireFromString("-1")) {
		t.Errorf("Expected newest transaction first, got %s", page.Items[0].Amount)
	}

	debits, _ := svc.ListTransactions(ctx, models.TransactionFilters{TenantId: "tenant1", Kind: models.KindLookupDebit})
	if debits.Total != 4 {
		t.Errorf("Expected 4 debits, got %d", debits.Total)
	}

	ranged, _ := svc.ListTransactions(ctx, models.TransactionFilters{
		AccountId: "acc1",
		From:      time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC),
		To:        time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC),
	})
	if ranged.Total != 2 {
		t.Errorf("Expected 2 transactions in range, got %d", ranged.Total)
	}

	if _, err := svc.ListTransactions(ctx, models.TransactionFilters{
		From: time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected validation error for inverted range, got %v", err)
	}
}

func TestListTransactions_Paging(t *testing.T) {
	svc := seedHistory(t)
	ctx := context.Background()

	second, err := svc.ListTransactions(ctx, models.TransactionFilters{AccountId: "acc1", Page: 2, PerPage: 2})
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if second.Total != 5 || len(second.Items) != 2 {
		t.Errorf("Expected page of 2 out of 5, got %d/%d", len(second.Items), second.Total)
	}

	beyond, _ := svc.ListTransactions(ctx, models.TransactionFilters{AccountId: "acc1", Page: 9, PerPage: 2})
	if beyond.Items == nil || len(beyond.Items) != 0 {
		t.Errorf("Expected empty non-nil page beyond the end, got %v", beyond.Items)
	}

	clamped, _ := svc.ListTransactions(ctx, models.TransactionFilters{Page: -1, PerPage: 1000})
	if clamped.Page != 1 || clamped.PerPage != MaxPerPage {
		t.Errorf("Expected clamped paging 1/%d, got %d/%d", MaxPerPage, clamped.Page, clamped.PerPage)
	}
}

func TestAggregate_Granularities(t *testing.T) {
	svc := seedHistory(t)
	ctx := context.Background()
	debits := models.TransactionFilters{AccountId: "acc1", Kind: models.KindLookupDebit}

	tests := []struct {
		granularity models.Granularity
		want        []models.AggregateBucket
	}{
		{models.GranularityDay, []models.AggregateBucket{
			{Key: "2025-03-03", Sum: decimal.RequireFromString("-1.8"), Avg: decimal.RequireFromString("-1.8"), Count: 1},
			{Key: "2025-03-04", Sum: decimal.RequireFromString("-2.5"), Avg: decimal.RequireFromString("-2.5"), Count: 1},
			{Key: "2025-03-10", Sum: decimal.RequireFromString("-0.9"), Avg: decimal.RequireFromString("-0.9"), Count: 1},
			{Key: "2025-04-02", Sum: decimal.RequireFromString("-1"), Avg: decimal.RequireFromString("-1"), Count: 1},
		}},
		{models.GranularityWeek, []models.AggregateBucket{
			{Key: "2025-W10", Sum: decimal.RequireFromString("-4.3"), Avg: decimal.RequireFromString("-2.15"), Count: 2},
			{Key: "2025-W11", Sum: decimal.RequireFromString("-0.9"), Avg: decimal.RequireFromString("-0.9"), Count: 1},
			{Key: "2025-W14", Sum: decimal.RequireFromString("-1"), Avg: decimal.RequireFromString("-1"), Count: 1},
		}},
		{models.GranularityMonth, []models.AggregateBucket{
			{Key: "2025-03", Sum: decimal.RequireFromString("-5.2"), Avg: decimal.RequireFromString("-1.73"), Count: 3},
			{Key: "2025-04", Sum: decimal.RequireFromString("-1"), Avg: decimal.RequireFromString("-1"), Count: 1},
		}},
	}

	for _, tt := range tests {
		got, err := svc.Aggregate(ctx, debits, tt.granularity)
		if err != nil {
			t.Fatalf("%s: Aggregate failed: %v", tt.granularity, err)
		}
		if len(got) != len(tt.want) {
			t.Errorf("%s: expected %d buckets, got %d (%v)", tt.granularity, len(tt.want), len(got), got)
			continue
		}
		for i, want := range tt.want {
			b := got[i]
			if b.Key != want.Key || b.Count != want.Count || !b.Sum.Equal(want.Sum) || !b.Avg.Equal(want.Avg) {
				t.Errorf("%s: bucket %d = %+v, want %+v", tt.granularity, i, b, want)
			}
		}
	}
}

func TestAggregate_UnknownGranularity(t *testing.T) {
	svc, _ := setupLedger(t, models.LedgerConfig{})

	if _, err := svc.Aggregate(context.Background(), models.TransactionFilters{}, "year"); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestListAccounts(t *testing.T) {
	svc := seedHistory(t)
	ctx := context.Background()

	all, err := svc.ListAccounts(ctx, "")
	if err != nil {
		t.Fatalf("ListAccounts failed: %v", err)
	}
	if len(all) != 2 || all[0].Id != "acc1" || all[1].Id != "acc2" {
		t.Fatalf("Expected acc1 and acc2, got %+v", all)
	}
	if !all[0].Balance.Equal(decimal.RequireFromString("13.8")) {
		t.Errorf("Expected acc1 balance 13.8, got %s", all[0].Balance)
	}

	scoped, _ := svc.ListAccounts(ctx, "tenant2")
	if len(scoped) != 1 || scoped[0].Id != "acc2" {
		t.Errorf("Expected only acc2 for tenant2, got %+v", scoped)
	}
}
