package strategy

import (
	"math/rand/v2"
	"sync"
)

type randomSelector struct {
	mutex sync.Mutex
	rng   *rand.Rand
}

func (r *randomSelector) Select(n int) int {
	if n < 1 {
		return -1
	}

	if r.rng == nil {
		return rand.IntN(n)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.rng.IntN(n)
}

// NewRandomSelector draws uniformly from the runtime's shared source,
// which is safe for concurrent use.
func NewRandomSelector() Selector {
	return &randomSelector{}
}

// NewSeededRandomSelector draws uniformly from a PCG source seeded with the
// given values, producing a repeatable sequence.
func NewSeededRandomSelector(seed1, seed2 uint64) Selector {
	return &randomSelector{
		rng: rand.New(rand.NewPCG(seed1, seed2)),
	}
}
