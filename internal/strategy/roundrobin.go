package strategy

import (
	"sync/atomic"
)

type roundRobinSelector struct {
	current atomic.Uint64
}

func (rb *roundRobinSelector) Select(n int) int {
	if n < 1 {
		return -1
	}

	next := rb.current.Add(1)
	return int((next - 1) % uint64(n))
}

func NewRoundRobinSelector() Selector {
	return &roundRobinSelector{}
}
