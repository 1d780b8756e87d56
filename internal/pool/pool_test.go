package pool_test

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/edge-router/internal/instance"
	"github.com/angeloszaimis/edge-router/internal/pool"
	"github.com/angeloszaimis/edge-router/internal/strategy"
)

// recordingResolver hands out one instance per slot and counts lookups.
type recordingResolver struct {
	mutex sync.Mutex
	calls map[int]int
	err   error
}

func newRecordingResolver() *recordingResolver {
	return &recordingResolver{calls: make(map[int]int)}
}

func (r *recordingResolver) Resolve(_ context.Context, index int) (*instance.Instance, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.calls[index]++
	if r.err != nil {
		return nil, r.err
	}
	target := mustParseURL(fmt.Sprintf("http://localhost:%d", 8081+index))
	return instance.New(pool.InstanceName("backend", index), index, target), nil
}

func (r *recordingResolver) Calls() map[int]int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	out := make(map[int]int, len(r.calls))
	for k, v := range r.calls {
		out[k] = v
	}
	return out
}

var _ = Describe("Pool", func() {
	var (
		ctx      context.Context
		resolver *recordingResolver
	)

	BeforeEach(func() {
		ctx = context.Background()
		resolver = newRecordingResolver()
	})

	Describe("Pick", func() {
		It("should resolve the slot drawn by the selector", func() {
			p := pool.New("backend", strategy.SelectorFunc(func(n int) int { return 2 }), resolver)

			h, err := p.Pick(ctx, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(h.Name()).To(Equal("backend-instance-2"))
			Expect(resolver.Calls()).To(Equal(map[int]int{2: 1}))
		})

		It("should pass the pool size to the selector", func() {
			var seen []int
			p := pool.New("backend", strategy.SelectorFunc(func(n int) int {
				seen = append(seen, n)
				return 0
			}), resolver)

			_, err := p.Pick(ctx, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(seen).To(Equal([]int{5}))
		})

		It("should reject an empty pool", func() {
			p := pool.New("backend", strategy.NewRandomSelector(), resolver)

			h, err := p.Pick(ctx, 0)
			Expect(err).To(MatchError(pool.ErrEmptyPool))
			Expect(h).To(BeNil())
			Expect(resolver.Calls()).To(BeEmpty())
		})

		DescribeTable("should reject draws outside the pool",
			func(draw int) {
				p := pool.New("backend", strategy.SelectorFunc(func(n int) int { return draw }), resolver)

				h, err := p.Pick(ctx, 3)
				Expect(err).To(HaveOccurred())
				Expect(h).To(BeNil())
				Expect(resolver.Calls()).To(BeEmpty())
			},
			Entry("equal to n", 3),
			Entry("above n", 10),
			Entry("negative", -1),
		)

		It("should propagate resolver failures without retrying", func() {
			boom := errors.New("runtime unavailable")
			resolver.err = boom
			p := pool.New("backend", strategy.SelectorFunc(func(n int) int { return 1 }), resolver)

			h, err := p.Pick(ctx, 3)
			Expect(err).To(MatchError(boom))
			Expect(err.Error()).To(ContainSubstring("backend slot 1"))
			Expect(h).To(BeNil())
			Expect(resolver.Calls()).To(Equal(map[int]int{1: 1}))
		})

		It("should spread random picks across all slots", func() {
			p := pool.New("backend", strategy.NewRandomSelector(), resolver)

			for i := 0; i < 900; i++ {
				_, err := p.Pick(ctx, 3)
				Expect(err).NotTo(HaveOccurred())
			}

			calls := resolver.Calls()
			Expect(calls).To(HaveLen(3))
			for slot := 0; slot < 3; slot++ {
				Expect(calls[slot]).To(BeNumerically("~", 300, 100))
			}
		})
	})

	Describe("InstanceName", func() {
		It("should name instances after the pool and slot", func() {
			Expect(pool.InstanceName("backend", 0)).To(Equal("backend-instance-0"))
			Expect(pool.InstanceName("blackjack", 12)).To(Equal("blackjack-instance-12"))
		})
	})
})

var _ = Describe("StaticResolver", func() {
	var resolver *pool.StaticResolver

	BeforeEach(func() {
		resolver = pool.NewStaticResolver("backend", []*url.URL{
			mustParseURL("http://localhost:8081"),
			mustParseURL("http://localhost:8082"),
			mustParseURL("http://localhost:8083"),
		})
	})

	It("should map slots to configured URLs in order", func() {
		for i, port := range []string{"8081", "8082", "8083"} {
			inst, err := resolver.Resolve(context.Background(), i)
			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Index()).To(Equal(i))
			Expect(inst.Name()).To(Equal(pool.InstanceName("backend", i)))
			Expect(inst.URL().Port()).To(Equal(port))
		}
	})

	It("should return the same instance for the same slot", func() {
		a, _ := resolver.Resolve(context.Background(), 1)
		b, _ := resolver.Resolve(context.Background(), 1)
		Expect(a).To(BeIdenticalTo(b))
	})

	It("should fail for unknown slots", func() {
		_, err := resolver.Resolve(context.Background(), 3)
		Expect(err).To(MatchError(pool.ErrNoInstance))

		_, err = resolver.Resolve(context.Background(), -1)
		Expect(err).To(MatchError(pool.ErrNoInstance))
	})

	It("should list its instances", func() {
		Expect(resolver.Instances()).To(HaveLen(3))
	})
})

func mustParseURL(rawURL string) *url.URL {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}
	return u
}
