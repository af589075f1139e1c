package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"lookup-billing-go/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SchemaSource loads the schema of one service. Unknown services return ErrSchemaNotFound.
type SchemaSource interface {
	Schema(ctx context.Context, serviceId string) (*models.ProviderSchema, error)
}

// StaticSchemas serves schemas declared in the providers file.
type StaticSchemas map[string]models.ProviderSchema

func NewStaticSchemas(schemas []models.ProviderSchema) StaticSchemas {
	s := make(StaticSchemas, len(schemas))
	for _, schema := range schemas {
		s[schema.ServiceId] = schema
	}
	return s
}

func (s StaticSchemas) Schema(_ context.Context, serviceId string) (*models.ProviderSchema, error) {
	schema, ok := s[serviceId]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, serviceId)
	}
	return &schema, nil
}

// SchemaCache loads each schema once, on first use, and keeps it for the life
// of the process. Concurrent first uses share one load.
type SchemaCache struct {
	source SchemaSource
	group  singleflight.Group

	mu     sync.RWMutex
	cached map[string]*models.ProviderSchema

	loads atomic.Int64
}

func NewSchemaCache(source SchemaSource) *SchemaCache {
	return &SchemaCache{
		source: source,
		cached: make(map[string]*models.ProviderSchema),
	}
}

func (c *SchemaCache) Get(ctx context.Context, serviceId string) (*models.ProviderSchema, error) {
	c.mu.RLock()
	schema, ok := c.cached[serviceId]
	c.mu.RUnlock()
	if ok {
		return schema, nil
	}

	v, err, shared := c.group.Do(serviceId, func() (any, error) {
		c.mu.RLock()
		schema, ok := c.cached[serviceId]
		c.mu.RUnlock()
		if ok {
			return schema, nil
		}

		c.loads.Add(1)
		schema, err := c.source.Schema(ctx, serviceId)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.cached[serviceId] = schema
		c.mu.Unlock()

		zap.L().Debug("Schema loaded", zap.String("service_id", serviceId), zap.Int("fields", len(schema.Fields)))
		return schema, nil
	})
	if err != nil {
		if !errors.Is(err, ErrSchemaNotFound) {
			zap.L().Warn("Failed to load schema", zap.String("service_id", serviceId), zap.Bool("shared", shared), zap.Error(err))
		}
		return nil, err
	}
	return v.(*models.ProviderSchema), nil
}

// Loads reports how many times the source was hit.
func (c *SchemaCache) Loads() int64 {
	return c.loads.Load()
}
