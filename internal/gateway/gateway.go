// Package gateway turns one logical lookup into a rate limited, retried call
// against an upstream provider, with a chain of free fallback sources and a
// normalized, priced result.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"lookup-billing-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FallbackRequest is what a fallback source receives once the primary provider failed.
type FallbackRequest struct {
	ServiceId string
	Endpoint  string
	Category  models.Category
	Input     map[string]string
}

// FallbackSource is a narrower, free data source. Sources that cannot serve a
// request return an error.
type FallbackSource interface {
	Name() string
	Lookup(ctx context.Context, req FallbackRequest) (any, error)
}

type Gateway struct {
	cfg       models.ProviderConfig
	client    *http.Client
	limiter   *RateWindow
	schemas   *SchemaCache
	prices    PriceTable
	policy    RetryPolicy
	fallbacks []FallbackSource
	clock     Clock
	jitter    JitterFunc
}

type Option func(*Gateway)

func WithClock(clock Clock) Option {
	return func(g *Gateway) { g.clock = clock }
}

func WithJitter(jitter JitterFunc) Option {
	return func(g *Gateway) { g.jitter = jitter }
}

func WithFallbacks(sources ...FallbackSource) Option {
	return func(g *Gateway) { g.fallbacks = append(g.fallbacks, sources...) }
}

func WithSchemaSource(source SchemaSource) Option {
	return func(g *Gateway) { g.schemas = NewSchemaCache(source) }
}

func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) { g.client = client }
}

func New(cfg models.ProviderConfig, prices PriceTable, opts ...Option) (*Gateway, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("provider name cannot be empty")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("provider %s has an invalid base url: %w", cfg.Name, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRateLimitWaits <= 0 {
		cfg.MaxRateLimitWaits = 10
	}
	if cfg.RateLimitFallback <= 0 {
		cfg.RateLimitFallback = 30 * time.Second
	}

	g := &Gateway{
		cfg:    cfg,
		prices: prices,
		policy: RetryPolicyFromConfig(cfg),
		clock:  SystemClock(),
		jitter: randomJitter,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.schemas == nil {
		g.schemas = NewSchemaCache(NewStaticSchemas(cfg.Schemas))
	}
	if g.client == nil {
		client, err := NewHTTPClient(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("unable to create http client for %s: %w", cfg.Name, err)
		}
		g.client = client
	}
	g.limiter = NewRateWindow(cfg.Name, cfg.PerMinute, cfg.MinSpacing, g.clock)

	return g, nil
}

func (g *Gateway) Name() string {
	return g.cfg.Name
}

// Limiter exposes the rate window of the primary provider.
func (g *Gateway) Limiter() *RateWindow {
	return g.limiter
}

// Warm loads every schema declared for this provider into the cache.
func (g *Gateway) Warm(ctx context.Context) error {
	for _, schema := range g.cfg.Schemas {
		if _, err := g.schemas.Get(ctx, schema.ServiceId); err != nil {
			return fmt.Errorf("unable to load schema %s: %w", schema.ServiceId, err)
		}
	}
	return nil
}

// Quote returns what a successful primary call to serviceId would cost.
func (g *Gateway) Quote(ctx context.Context, serviceId string) (decimal.Decimal, error) {
	endpoint, _, err := g.resolve(ctx, serviceId)
	if err != nil {
		return decimal.Zero, err
	}
	return g.prices.Cost(InferCategory(endpoint)), nil
}

// Execute runs one lookup. It never returns a nil result; failures are
// reported through Success and Error.
func (g *Gateway) Execute(ctx context.Context, serviceId string, input map[string]string) *models.LookupResult {
	result := &models.LookupResult{
		ServiceId:  serviceId,
		Provider:   g.cfg.Name,
		Category:   InferCategory(serviceId),
		Cost:       decimal.Zero,
		ExecutedAt: g.clock.Now().UTC(),
	}

	endpoint := serviceId
	data, attempts, err := func() (any, int, error) {
		var fields []models.FieldSpec
		var err error
		endpoint, fields, err = g.resolve(ctx, serviceId)
		if err != nil {
			return nil, 0, err
		}
		result.Category = InferCategory(endpoint)

		form, err := BuildForm(fields, input, g.cfg.Token, g.cfg.Timeout)
		if err != nil {
			return nil, 0, err
		}

		raw, attempts, err := g.call(ctx, endpoint, form)
		if err != nil {
			return nil, attempts, err
		}
		return NormalizeResponse(result.Category, raw, input), attempts, nil
	}()
	result.Attempts = attempts

	if err == nil {
		result.Success = true
		result.Source = models.SourcePrimary
		result.Data = data
		result.Cost = g.prices.Cost(result.Category)

		zap.L().Info("Lookup executed",
			zap.String("provider", g.cfg.Name),
			zap.String("service_id", serviceId),
			zap.String("category", string(result.Category)),
			zap.Int("attempts", attempts),
			zap.String("cost", result.Cost.String()))
		return result
	}

	zap.L().Warn("Primary provider failed",
		zap.String("provider", g.cfg.Name),
		zap.String("service_id", serviceId),
		zap.Int("attempts", attempts),
		zap.Error(err))

	source, data, chainErr := g.runFallbacks(ctx, FallbackRequest{
		ServiceId: serviceId,
		Endpoint:  endpoint,
		Category:  result.Category,
		Input:     input,
	}, err)
	if chainErr != nil {
		result.Error = chainErr.Error()
		return result
	}

	result.Success = true
	result.Source = source
	result.Data = data
	return result
}

func (g *Gateway) resolve(ctx context.Context, serviceId string) (string, []models.FieldSpec, error) {
	schema, err := g.schemas.Get(ctx, serviceId)
	if err == nil {
		return schema.Endpoint, schema.Fields, nil
	}
	if !errors.Is(err, ErrSchemaNotFound) {
		return "", nil, err
	}

	if fields, ok := fieldsForEndpoint(serviceId); ok {
		return serviceId, fields, nil
	}
	return "", nil, err
}

// call issues attempts until one succeeds or the retry budget is spent.
// 429 responses wait and retry without spending budget, up to MaxRateLimitWaits times.
func (g *Gateway) call(ctx context.Context, endpoint string, form url.Values) (map[string]any, int, error) {
	attempts, retries, waits := 0, 0, 0

	for {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, attempts, err
		}
		attempts++

		body, err := g.post(ctx, endpoint, form)
		if err == nil {
			raw, err := DecodeResponse(body)
			if err != nil {
				return nil, attempts, err
			}
			return raw, attempts, nil
		}

		var upErr *UpstreamError
		if !errors.As(err, &upErr) {
			return nil, attempts, err
		}

		var delay time.Duration
		switch upErr.Kind {
		case RateLimited:
			waits++
			if waits > g.policy.MaxRateLimitWaits {
				return nil, attempts, err
			}
			delay = upErr.RetryAfter
			if delay <= 0 {
				delay = g.cfg.RateLimitFallback
			}
		case Transient:
			if retries >= g.policy.MaxRetries {
				return nil, attempts, err
			}
			delay = g.policy.Backoff(retries) + g.jitter(g.policy.Jitter)
			retries++
		default:
			return nil, attempts, err
		}

		zap.L().Debug("Retrying provider call",
			zap.String("provider", g.cfg.Name),
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempts),
			zap.String("reason", upErr.Kind.String()),
			zap.Duration("delay", delay))

		if err := g.clock.Sleep(ctx, delay); err != nil {
			return nil, attempts, err
		}
	}
}

// runFallbacks tries each source in declared order. Fallbacks are free and do
// not touch the primary rate window.
func (g *Gateway) runFallbacks(ctx context.Context, req FallbackRequest, primaryErr error) (string, any, error) {
	if len(g.fallbacks) == 0 {
		return "", nil, primaryErr
	}

	var lastName string
	var lastErr error
	for _, source := range g.fallbacks {
		data, err := source.Lookup(ctx, req)
		if err == nil {
			zap.L().Info("Lookup served by fallback",
				zap.String("provider", g.cfg.Name),
				zap.String("fallback", source.Name()),
				zap.String("service_id", req.ServiceId))
			return source.Name(), data, nil
		}
		zap.L().Debug("Fallback failed",
			zap.String("fallback", source.Name()),
			zap.String("service_id", req.ServiceId),
			zap.Error(err))
		lastName, lastErr = source.Name(), err
	}

	return "", nil, fmt.Errorf("%w | %s: %w", primaryErr, lastName, lastErr)
}
