package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/angeloszaimis/edge-router/internal/instance"
	"github.com/angeloszaimis/edge-router/internal/strategy"
)

var (
	ErrEmptyPool  = errors.New("pool has no slots")
	ErrNoInstance = errors.New("no instance for pool slot")
)

// Resolver turns a pool slot index into a running instance, starting or
// waking it when the runtime supports that.
type Resolver interface {
	Resolve(ctx context.Context, index int) (*instance.Instance, error)
}

// Pool is a named group of instances. Each Pick draws a slot with the
// selector and hands it to the resolver.
type Pool struct {
	name     string
	selector strategy.Selector
	resolver Resolver
}

func New(name string, selector strategy.Selector, resolver Resolver) *Pool {
	return &Pool{
		name:     name,
		selector: selector,
		resolver: resolver,
	}
}

// Pick selects one of n slots and resolves it. Resolver errors are wrapped,
// not retried on another slot.
func (p *Pool) Pick(ctx context.Context, n int) (instance.Handle, error) {
	if n < 1 {
		return nil, ErrEmptyPool
	}

	index := p.selector.Select(n)
	if index < 0 || index >= n {
		return nil, fmt.Errorf("selector returned slot %d outside [0,%d)", index, n)
	}

	inst, err := p.resolver.Resolve(ctx, index)
	if err != nil {
		return nil, fmt.Errorf("resolve %s slot %d: %w", p.name, index, err)
	}

	return inst, nil
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// InstanceName is the name given to the instance serving slot index.
func InstanceName(pool string, index int) string {
	return fmt.Sprintf("%s-instance-%d", pool, index)
}
