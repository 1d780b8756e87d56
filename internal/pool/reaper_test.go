package pool_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/goleak"

	"github.com/angeloszaimis/edge-router/internal/instance"
	"github.com/angeloszaimis/edge-router/internal/pool"
	"github.com/angeloszaimis/edge-router/pkg/logger"
)

type fakeSleeper struct {
	mutex     sync.Mutex
	instances []*instance.Instance
	slept     []string
	failFor   string
}

func (f *fakeSleeper) Instances() []*instance.Instance {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]*instance.Instance(nil), f.instances...)
}

func (f *fakeSleeper) Sleep(_ context.Context, inst *instance.Instance) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if inst.Name() == f.failFor {
		return errors.New("daemon unavailable")
	}
	f.slept = append(f.slept, inst.Name())
	return nil
}

func (f *fakeSleeper) sleptNames() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]string(nil), f.slept...)
}

var _ = Describe("Reaper", func() {
	var (
		start   time.Time
		clock   func() time.Time
		sleeper *fakeSleeper
	)

	newInstance := func(index int) *instance.Instance {
		target := mustParseURL("http://localhost:8080")
		return instance.New(pool.InstanceName("backend", index), index, target, instance.WithClock(func() time.Time { return clock() }))
	}

	BeforeEach(func() {
		start = time.Now().Add(-24 * time.Hour)
		clock = func() time.Time { return start }
		sleeper = &fakeSleeper{}
	})

	Describe("Sweep", func() {
		It("should sleep only instances idle for at least the threshold", func() {
			stale := newInstance(0)
			fresh := newInstance(1)
			sleeper.instances = []*instance.Instance{stale, fresh}

			clock = func() time.Time { return start.Add(90 * time.Minute) }
			fresh.Touch()

			now := start.Add(2 * time.Hour)
			n := pool.Sweep(context.Background(), sleeper, 2*time.Hour, now, logger.Discard())

			Expect(n).To(Equal(1))
			Expect(sleeper.sleptNames()).To(ConsistOf("backend-instance-0"))
		})

		It("should never sleep an instance with requests in flight", func() {
			busy := newInstance(0)
			busy.IncrementConn()
			sleeper.instances = []*instance.Instance{busy}

			n := pool.Sweep(context.Background(), sleeper, time.Minute, start.Add(24*time.Hour), logger.Discard())

			Expect(n).To(BeZero())
			Expect(sleeper.sleptNames()).To(BeEmpty())
		})

		It("should keep going when one instance fails to sleep", func() {
			sleeper.instances = []*instance.Instance{newInstance(0), newInstance(1), newInstance(2)}
			sleeper.failFor = "backend-instance-1"

			n := pool.Sweep(context.Background(), sleeper, time.Hour, start.Add(3*time.Hour), logger.Discard())

			Expect(n).To(Equal(2))
			Expect(sleeper.sleptNames()).To(ConsistOf("backend-instance-0", "backend-instance-2"))
		})
	})

	Describe("Reap", func() {
		It("should sweep on every tick and return when the context ends", func() {
			opt := goleak.IgnoreCurrent()
			sleeper.instances = []*instance.Instance{newInstance(0)}

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				pool.Reap(ctx, sleeper, time.Nanosecond, 10*time.Millisecond, logger.Discard())
			}()

			Eventually(sleeper.sleptNames).Should(ContainElement("backend-instance-0"))

			cancel()
			Eventually(done).Should(BeClosed())
			Expect(goleak.Find(opt)).To(Succeed())
		})
	})
})

var _ = Describe("Reap without an interval", func() {
	It("should return immediately", func() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			pool.Reap(context.Background(), &fakeSleeper{}, time.Hour, 0, logger.Discard())
		}()
		Eventually(done).Should(BeClosed())
	})
})
