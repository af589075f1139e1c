// Package provider holds the pluggable lookup providers: the adapter contract,
// the registry the composition root owns, and the free fallback sources.
package provider

import (
	"context"
	"fmt"
	"sync/atomic"

	"lookup-billing-go/internal/gateway"
	"lookup-billing-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Adapter is one installable lookup provider.
type Adapter interface {
	Name() string
	Install(ctx context.Context) error
	Enable()
	Disable()
	Enabled() bool
	// Quote is the price of a successful call to serviceId, before it runs.
	Quote(ctx context.Context, serviceId string) (decimal.Decimal, error)
	Execute(ctx context.Context, serviceId string, input map[string]string) *models.LookupResult
}

// Compile-time check: *GatewayAdapter must satisfy Adapter.
var _ Adapter = (*GatewayAdapter)(nil)

// GatewayAdapter exposes a resilient gateway as an Adapter. It starts disabled
// until Install succeeds.
type GatewayAdapter struct {
	gateway *gateway.Gateway
	enabled atomic.Bool
}

func NewGatewayAdapter(g *gateway.Gateway) *GatewayAdapter {
	return &GatewayAdapter{gateway: g}
}

func (a *GatewayAdapter) Name() string {
	return a.gateway.Name()
}

func (a *GatewayAdapter) Install(ctx context.Context) error {
	if err := a.gateway.Warm(ctx); err != nil {
		return fmt.Errorf("unable to install provider %s: %w", a.Name(), err)
	}
	a.enabled.Store(true)
	zap.L().Info("Provider installed", zap.String("provider", a.Name()))
	return nil
}

func (a *GatewayAdapter) Enable() {
	a.enabled.Store(true)
}

func (a *GatewayAdapter) Disable() {
	a.enabled.Store(false)
}

func (a *GatewayAdapter) Enabled() bool {
	return a.enabled.Load()
}

func (a *GatewayAdapter) Quote(ctx context.Context, serviceId string) (decimal.Decimal, error) {
	return a.gateway.Quote(ctx, serviceId)
}

func (a *GatewayAdapter) Execute(ctx context.Context, serviceId string, input map[string]string) *models.LookupResult {
	if !a.Enabled() {
		return &models.LookupResult{
			ServiceId: serviceId,
			Provider:  a.Name(),
			Cost:      decimal.Zero,
			Error:     fmt.Sprintf("%s: %s", gateway.ErrDisabled, a.Name()),
		}
	}
	return a.gateway.Execute(ctx, serviceId, input)
}
