package pool

import (
	"context"
	"fmt"
	"net/url"

	"github.com/angeloszaimis/edge-router/internal/instance"
)

// StaticResolver maps slot i to the i-th of a fixed list of already
// running instances.
type StaticResolver struct {
	instances []*instance.Instance
}

func NewStaticResolver(pool string, targets []*url.URL, opts ...instance.Option) *StaticResolver {
	instances := make([]*instance.Instance, 0, len(targets))
	for i, target := range targets {
		instances = append(instances, instance.New(InstanceName(pool, i), i, target, opts...))
	}

	return &StaticResolver{instances: instances}
}

func (s *StaticResolver) Resolve(_ context.Context, index int) (*instance.Instance, error) {
	if index < 0 || index >= len(s.instances) {
		return nil, fmt.Errorf("%w: %d of %d", ErrNoInstance, index, len(s.instances))
	}

	return s.instances[index], nil
}

// Instances returns the configured instances in slot order.
func (s *StaticResolver) Instances() []*instance.Instance {
	return s.instances
}
