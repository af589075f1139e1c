// Package lookup runs a billable lookup for an account: pre-check the
// balance, execute through the provider registry, then publish the billing
// event. The debit itself happens asynchronously in the billing subscriber.
package lookup

import (
	"context"
	"fmt"

	"lookup-billing-go/internal/billing"
	"lookup-billing-go/internal/events"
	"lookup-billing-go/internal/ledger"
	"lookup-billing-go/internal/models"
	"lookup-billing-go/internal/provider"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Accounts is the read side of the ledger used for the pre-check.
type Accounts interface {
	GetAccount(ctx context.Context, accountId string) (*models.Account, error)
}

// Compile-time check: the ledger serves as the account source.
var _ Accounts = (*ledger.Service)(nil)

type Request struct {
	TenantId  string
	AccountId string
	Provider  string
	ServiceId string
	Input     map[string]string
}

type Service struct {
	accounts  Accounts
	providers *provider.Registry
	bus       *events.Bus
	newId     func() string
}

func NewService(accounts Accounts, providers *provider.Registry, bus *events.Bus) *Service {
	return &Service{
		accounts:  accounts,
		providers: providers,
		bus:       bus,
		newId:     func() string { return uuid.New().String() },
	}
}

// Execute never returns nil. A failed pre-check yields an unsuccessful result
// carrying the ledger error string and the provider is not called.
func (s *Service) Execute(ctx context.Context, req Request) *models.LookupResult {
	lookupId := s.newId()
	fail := func(err error) *models.LookupResult {
		zap.L().Warn("Lookup rejected",
			zap.String("lookup_id", lookupId),
			zap.String("tenant_id", req.TenantId),
			zap.String("account_id", req.AccountId),
			zap.String("service_id", req.ServiceId),
			zap.Error(err))
		return &models.LookupResult{
			LookupId:  lookupId,
			ServiceId: req.ServiceId,
			Provider:  req.Provider,
			Cost:      decimal.Zero,
			Error:     ledger.ResultError(err),
		}
	}

	if req.TenantId == "" || req.AccountId == "" || req.ServiceId == "" {
		return fail(fmt.Errorf("%w: tenant, account and service are required", ledger.ErrValidation))
	}

	adapter, err := s.providers.Get(req.Provider)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ledger.ErrValidation, err))
	}

	if err := s.precheck(ctx, adapter, req); err != nil {
		return fail(err)
	}

	result := adapter.Execute(ctx, req.ServiceId, req.Input)
	result.LookupId = lookupId
	if !result.Success || result.Cost.IsZero() {
		return result
	}

	if err := billing.PublishQueryExecuted(ctx, s.bus, req.TenantId, req.AccountId, lookupId, req.ServiceId, result.Cost); err != nil {
		zap.L().Error("Failed to publish billing event, lookup goes unbilled",
			zap.String("lookup_id", lookupId),
			zap.String("account_id", req.AccountId),
			zap.String("cost", result.Cost.String()),
			zap.Error(err))
	}
	return result
}

// precheck is advisory: the debit that follows can still fail when concurrent
// lookups drain the balance first.
func (s *Service) precheck(ctx context.Context, adapter provider.Adapter, req Request) error {
	account, err := s.accounts.GetAccount(ctx, req.AccountId)
	if err != nil {
		return err
	}
	if account.TenantId != req.TenantId {
		return fmt.Errorf("%w: account %s does not belong to tenant %s", ledger.ErrValidation, req.AccountId, req.TenantId)
	}
	if account.Status != models.AccountActive {
		return fmt.Errorf("%w: account %s is %s", ledger.ErrValidation, req.AccountId, account.Status)
	}

	price, err := adapter.Quote(ctx, req.ServiceId)
	if err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrValidation, err)
	}
	if account.Balance.LessThan(price) {
		return fmt.Errorf("%w: balance %s below price %s", ledger.ErrInsufficientBalance, account.Balance, price)
	}
	return nil
}
