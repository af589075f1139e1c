// Package billing turns billing events into ledger calls.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"lookup-billing-go/internal/events"
	"lookup-billing-go/internal/ledger"
	"lookup-billing-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Payload keys of the billing event contract.
const (
	PayloadCost       = "cost"
	PayloadConsultaId = "consultaId"
	PayloadType       = "type"
	PayloadAmount     = "amount"
	PayloadPluginId   = "pluginId"
)

var ErrMalformedEvent = errors.New("malformed billing event")

// Ledger is the part of the ledger the subscriber drives.
type Ledger interface {
	Debit(ctx context.Context, accountId string, amount decimal.Decimal, kind models.TransactionKind, metadata map[string]string) models.LedgerResult
	Credit(ctx context.Context, accountId string, amount decimal.Decimal, kind models.TransactionKind, metadata map[string]string) models.LedgerResult
}

var _ Ledger = (*ledger.Service)(nil)

type Subscriber struct {
	ledger Ledger
	sub    *events.Subscription
}

func NewSubscriber(l Ledger) *Subscriber {
	return &Subscriber{ledger: l}
}

// Register subscribes to query.executed and credits.purchased through a single
// queue, so a purchase published before a lookup is credited before the debit.
func (s *Subscriber) Register(bus *events.Bus) error {
	sub, err := bus.Subscribe(s.Handle, models.EventQueryExecuted, models.EventCreditsPurchased)
	if err != nil {
		return fmt.Errorf("failed to subscribe billing events: %w", err)
	}
	s.sub = sub

	zap.L().Info("Billing subscriber registered")
	return nil
}

func (s *Subscriber) Unregister() {
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
}

// Handle dispatches a billing event by type.
func (s *Subscriber) Handle(ctx context.Context, event models.Event) error {
	switch event.Type {
	case models.EventQueryExecuted:
		return s.HandleQueryExecuted(ctx, event)
	case models.EventCreditsPurchased:
		return s.HandleCreditsPurchased(ctx, event)
	default:
		return fmt.Errorf("%w: unexpected type %q", ErrMalformedEvent, event.Type)
	}
}

// HandleQueryExecuted debits the cost of an executed lookup.
func (s *Subscriber) HandleQueryExecuted(ctx context.Context, event models.Event) error {
	cost, err := amountField(event.Payload, PayloadCost)
	if err != nil {
		return s.malformed(event, err)
	}
	if event.AccountId == "" {
		return s.malformed(event, fmt.Errorf("missing userId"))
	}
	if !cost.IsPositive() {
		zap.L().Debug("Skipping zero cost lookup", zap.String("event_id", event.Id))
		return nil
	}

	metadata := map[string]string{
		ledger.MetaLookupId:   stringField(event.Payload, PayloadConsultaId),
		ledger.MetaLookupType: stringField(event.Payload, PayloadType),
		"eventId":             event.Id,
	}

	res := s.ledger.Debit(ctx, event.AccountId, cost.Neg(), models.KindLookupDebit, metadata)
	if !res.Success {
		return fmt.Errorf("debit of %s for account %s failed: %s", cost.String(), event.AccountId, res.Error)
	}

	zap.L().Info("Lookup billed",
		zap.String("tenant_id", event.TenantId),
		zap.String("account_id", event.AccountId),
		zap.String("cost", cost.String()),
		zap.String("transaction_id", res.TransactionId),
		zap.String("new_balance", res.NewBalance.String()))
	return nil
}

// HandleCreditsPurchased credits a completed purchase.
func (s *Subscriber) HandleCreditsPurchased(ctx context.Context, event models.Event) error {
	amount, err := amountField(event.Payload, PayloadAmount)
	if err != nil {
		return s.malformed(event, err)
	}
	if event.AccountId == "" {
		return s.malformed(event, fmt.Errorf("missing userId"))
	}

	metadata := map[string]string{
		ledger.MetaPluginId: stringField(event.Payload, PayloadPluginId),
		"eventId":           event.Id,
	}

	res := s.ledger.Credit(ctx, event.AccountId, amount, models.KindCreditPurchase, metadata)
	if !res.Success {
		return fmt.Errorf("credit of %s for account %s failed: %s", amount.String(), event.AccountId, res.Error)
	}

	zap.L().Info("Credits purchased",
		zap.String("tenant_id", event.TenantId),
		zap.String("account_id", event.AccountId),
		zap.String("amount", amount.String()),
		zap.String("transaction_id", res.TransactionId))
	return nil
}

func (s *Subscriber) malformed(event models.Event, err error) error {
	zap.L().Warn("Dropping malformed billing event",
		zap.String("event_id", event.Id),
		zap.String("type", event.Type),
		zap.Error(err))
	return fmt.Errorf("%w: %w", ErrMalformedEvent, err)
}

// PublishQueryExecuted emits the event that bills an executed lookup.
func PublishQueryExecuted(ctx context.Context, bus *events.Bus, tenantId, accountId, lookupId, lookupType string, cost decimal.Decimal) error {
	return bus.Publish(ctx, models.Event{
		TenantId:  tenantId,
		AccountId: accountId,
		Type:      models.EventQueryExecuted,
		Payload: map[string]any{
			PayloadCost:       cost,
			PayloadConsultaId: lookupId,
			PayloadType:       lookupType,
		},
	})
}

// PublishCreditsPurchased emits the event a payment plugin raises after checkout.
func PublishCreditsPurchased(ctx context.Context, bus *events.Bus, tenantId, accountId, pluginId string, amount decimal.Decimal) error {
	return bus.Publish(ctx, models.Event{
		TenantId:  tenantId,
		AccountId: accountId,
		Type:      models.EventCreditsPurchased,
		Payload: map[string]any{
			PayloadAmount:   amount,
			PayloadPluginId: pluginId,
		},
	})
}

// amountField accepts the numeric shapes a payload can carry in-process or after JSON decoding.
func amountField(payload map[string]any, key string) (decimal.Decimal, error) {
	raw, ok := payload[key]
	if !ok || raw == nil {
		return decimal.Zero, fmt.Errorf("missing %s", key)
	}

	var amount decimal.Decimal
	var err error
	switch v := raw.(type) {
	case decimal.Decimal:
		amount = v
	case float64:
		amount = decimal.NewFromFloat(v)
	case float32:
		amount = decimal.NewFromFloat32(v)
	case int:
		amount = decimal.NewFromInt(int64(v))
	case int64:
		amount = decimal.NewFromInt(v)
	case json.Number:
		amount, err = decimal.NewFromString(v.String())
	case string:
		amount, err = decimal.NewFromString(v)
	default:
		err = fmt.Errorf("unsupported type %T", raw)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative, got %s", key, amount.String())
	}
	return amount, nil
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}
