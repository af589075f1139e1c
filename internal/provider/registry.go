package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"lookup-billing-go/internal/gateway"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUnknownProvider   = errors.New("unknown provider")
	ErrDuplicateProvider = errors.New("duplicate provider")
)

// Registry maps provider names to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[a.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, a.Name())
	}
	r.adapters[a.Name()] = a
	return nil
}

// Get returns an enabled adapter.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	a, ok := r.adapters[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	if !a.Enabled() {
		return nil, fmt.Errorf("%w: %s", gateway.ErrDisabled, name)
	}
	return a, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InstallAll installs every registered adapter concurrently. Adapters that
// fail stay disabled; the first failure is returned after all have finished.
func (r *Registry) InstallAll(ctx context.Context) error {
	r.mu.RLock()
	adapters := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}
	r.mu.RUnlock()

	var g errgroup.Group
	for _, a := range adapters {
		g.Go(func() error {
			if err := a.Install(ctx); err != nil {
				zap.L().Error("Provider install failed", zap.String("provider", a.Name()), zap.Error(err))
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
