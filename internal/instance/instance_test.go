package instance_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/edge-router/internal/instance"
	"github.com/angeloszaimis/edge-router/pkg/logger"
)

type seenRequest struct {
	method string
	path   string
	query  string
	host   string
	header http.Header
	body   string
}

var _ = Describe("Instance", func() {
	var (
		upstream *httptest.Server
		seen     chan seenRequest
		inst     *instance.Instance
	)

	BeforeEach(func() {
		seen = make(chan seenRequest, 1)
		upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			seen <- seenRequest{
				method: r.Method,
				path:   r.URL.Path,
				query:  r.URL.RawQuery,
				host:   r.Host,
				header: r.Header.Clone(),
				body:   string(body),
			}
			w.Header().Set("X-Upstream", "yes")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTeapot)
			w.Write([]byte(`{"from":"upstream"}`))
		}))

		inst = instance.New("backend-instance-1", 1, mustParseURL(upstream.URL), instance.WithLogger(logger.Discard()))
	})

	AfterEach(func() {
		upstream.Close()
	})

	Describe("New", func() {
		It("should expose its identity", func() {
			Expect(inst.Name()).To(Equal("backend-instance-1"))
			Expect(inst.Index()).To(Equal(1))
			Expect(inst.URL().String()).To(Equal(upstream.URL))
		})

		It("should start with no connections and no EWMA", func() {
			Expect(inst.ActiveConnections()).To(Equal(0))
			Expect(inst.EWMATime()).To(BeZero())
		})

		It("should satisfy Handle", func() {
			var h instance.Handle = inst
			Expect(h.Name()).To(Equal("backend-instance-1"))
		})
	})

	Describe("Forward", func() {
		It("should pass the request through unmodified", func() {
			req := httptest.NewRequest(http.MethodPost, "http://edge.example.com/game/42/action?x=1", strings.NewReader(`{"player":0,"action":"hit"}`))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Custom", "abc")
			req.Header.Set("X-Forwarded-For", "203.0.113.9")
			w := httptest.NewRecorder()

			inst.Forward(w, req)

			var got seenRequest
			Eventually(seen).Should(Receive(&got))
			Expect(got.method).To(Equal(http.MethodPost))
			Expect(got.path).To(Equal("/game/42/action"))
			Expect(got.query).To(Equal("x=1"))
			Expect(got.host).To(Equal("edge.example.com"))
			Expect(got.body).To(Equal(`{"player":0,"action":"hit"}`))
			Expect(got.header.Get("X-Custom")).To(Equal("abc"))
			Expect(got.header.Values("X-Forwarded-For")).To(Equal([]string{"203.0.113.9"}))
		})

		It("should not add forwarding headers the client did not send", func() {
			req := httptest.NewRequest(http.MethodGet, "/game", nil)
			inst.Forward(httptest.NewRecorder(), req)

			var got seenRequest
			Eventually(seen).Should(Receive(&got))
			Expect(got.header).NotTo(HaveKey("X-Forwarded-For"))
			Expect(got.header).NotTo(HaveKey("X-Forwarded-Host"))
		})

		It("should return the instance response verbatim", func() {
			req := httptest.NewRequest(http.MethodGet, "/game/42/state", nil)
			w := httptest.NewRecorder()

			inst.Forward(w, req)

			Expect(w.Code).To(Equal(http.StatusTeapot))
			Expect(w.Header().Get("X-Upstream")).To(Equal("yes"))
			Expect(w.Header().Get("Content-Type")).To(Equal("application/json"))
			Expect(w.Body.String()).To(Equal(`{"from":"upstream"}`))
		})

		It("should record a response time and release the connection", func() {
			inst.Forward(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/game", nil))

			Expect(inst.ActiveConnections()).To(Equal(0))
			Expect(inst.EWMATime()).To(BeNumerically(">", 0))
		})

		It("should answer 502 when the instance is unreachable", func() {
			upstream.Close()
			var logs bytes.Buffer
			dead := instance.New("backend-instance-2", 2, mustParseURL(upstream.URL),
				instance.WithLogger(logger.New(logger.Options{Level: "error", Output: &logs})))

			w := httptest.NewRecorder()
			dead.Forward(w, httptest.NewRequest(http.MethodGet, "/game", nil))

			Expect(w.Code).To(Equal(http.StatusBadGateway))
			Expect(logs.String()).To(ContainSubstring("backend-instance-2"))
		})

		It("should forward a query it cannot parse byte for byte", func() {
			w := httptest.NewRecorder()
			inst.Forward(w, httptest.NewRequest(http.MethodGet, "/game/42/state?a=1;b=2&c=3", nil))

			var got seenRequest
			Eventually(seen).Should(Receive(&got))
			Expect(got.path).To(Equal("/game/42/state"))
			Expect(got.query).To(Equal("a=1;b=2&c=3"))
		})

		It("should report transport failures to the failure hook", func() {
			upstream.Close()
			var failed []*instance.Instance
			dead := instance.New("backend-instance-2", 2, mustParseURL(upstream.URL),
				instance.WithLogger(logger.Discard()),
				instance.WithFailureHook(func(i *instance.Instance, err error) {
					Expect(err).To(HaveOccurred())
					failed = append(failed, i)
				}))

			dead.Forward(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/game", nil))

			Expect(failed).To(ConsistOf(dead))
		})

		It("should not blame the instance when the client went away", func() {
			calls := 0
			rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
				return nil, r.Context().Err()
			})
			gone := instance.New("backend-instance-0", 0, mustParseURL("http://fake.invalid"),
				instance.WithTransport(rt),
				instance.WithLogger(logger.Discard()),
				instance.WithFailureHook(func(*instance.Instance, error) { calls++ }))

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			req := httptest.NewRequest(http.MethodGet, "/game", nil).WithContext(ctx)
			gone.Forward(httptest.NewRecorder(), req)

			Expect(calls).To(BeZero())
		})

		It("should use the configured transport", func() {
			calls := 0
			rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
				calls++
				return &http.Response{
					StatusCode: http.StatusAccepted,
					Header:     http.Header{},
					Body:       io.NopCloser(strings.NewReader("fake")),
					Request:    r,
				}, nil
			})
			fake := instance.New("fake", 0, mustParseURL("http://fake.invalid"), instance.WithTransport(rt))

			w := httptest.NewRecorder()
			fake.Forward(w, httptest.NewRequest(http.MethodGet, "/game", nil))

			Expect(calls).To(Equal(1))
			Expect(w.Code).To(Equal(http.StatusAccepted))
			Expect(w.Body.String()).To(Equal("fake"))
		})
	})

	Describe("Activity tracking", func() {
		var (
			now  time.Time
			idle *instance.Instance
		)

		BeforeEach(func() {
			now = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
			idle = instance.New("idle", 0, mustParseURL("http://localhost:8081"),
				instance.WithClock(func() time.Time { return now }))
		})

		It("should report idle time since last activity", func() {
			Expect(idle.IdleFor(now.Add(time.Hour))).To(Equal(time.Hour))
		})

		It("should never be idle with requests in flight", func() {
			idle.IncrementConn()
			Expect(idle.IdleFor(now.Add(3 * time.Hour))).To(BeZero())
		})

		It("should reset idle time on Touch", func() {
			now = now.Add(90 * time.Minute)
			idle.Touch()
			Expect(idle.LastActive()).To(Equal(now))
			Expect(idle.IdleFor(now.Add(time.Minute))).To(Equal(time.Minute))
		})

		It("should update activity when a connection finishes", func() {
			idle.IncrementConn()
			now = now.Add(10 * time.Minute)
			idle.DecrementConn()
			Expect(idle.LastActive()).To(Equal(now))
		})
	})

	Describe("Connection Tracking", func() {
		It("should not go below zero", func() {
			inst.DecrementConn()
			inst.DecrementConn()
			Expect(inst.ActiveConnections()).To(Equal(0))
		})

		It("should be thread-safe", func() {
			var wg sync.WaitGroup
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					inst.IncrementConn()
				}()
			}
			wg.Wait()
			Expect(inst.ActiveConnections()).To(Equal(100))
		})
	})

	Describe("Response Time Tracking (EWMA)", func() {
		It("should seed with the first response", func() {
			inst.RecordResponse(100 * time.Millisecond)
			Expect(inst.EWMATime()).To(Equal(100 * time.Millisecond))
		})

		It("should smooth subsequent responses", func() {
			inst.RecordResponse(100 * time.Millisecond)
			inst.RecordResponse(200 * time.Millisecond)
			Expect(inst.EWMATime()).To(BeNumerically("~", 120*time.Millisecond, time.Microsecond))
		})
	})
})

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func mustParseURL(rawURL string) *url.URL {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}
	return u
}
