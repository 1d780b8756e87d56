package instance

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"
)

// Handle is a forwardable target for one pool slot.
type Handle interface {
	Name() string
	Forward(w http.ResponseWriter, r *http.Request)
}

// Instance is a running backend instance reached through a reverse proxy.
// It tracks in-flight requests, last activity and response time so the
// pool can tell when an instance is idle.
type Instance struct {
	name   string
	index  int
	url    *url.URL
	proxy  *httputil.ReverseProxy
	logger *slog.Logger
	now    func() time.Time

	onFailure func(*Instance, error)

	mutex             sync.Mutex
	activeConnections int
	lastActive        time.Time
	ewmaResponseTime  time.Duration
	hasEWMA           bool
}

const ewmaAlpha = 0.2

// Option configures an Instance.
type Option func(*Instance)

// WithTransport sets the round tripper used for forwarded requests.
func WithTransport(rt http.RoundTripper) Option {
	return func(i *Instance) {
		i.proxy.Transport = rt
	}
}

// WithLogger sets the logger used for forwarding failures.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Instance) {
		i.logger = logger
	}
}

// WithClock replaces time.Now for activity tracking.
func WithClock(now func() time.Time) Option {
	return func(i *Instance) {
		i.now = now
	}
}

// WithFailureHook registers fn to run when a forward fails at the
// transport level, e.g. because the instance is no longer listening.
func WithFailureHook(fn func(*Instance, error)) Option {
	return func(i *Instance) {
		i.onFailure = fn
	}
}

// New creates an Instance for the pool slot index, forwarding to target.
func New(name string, index int, target *url.URL, opts ...Option) *Instance {
	inst := &Instance{
		name:   name,
		index:  index,
		url:    target,
		logger: slog.Default(),
		now:    time.Now,
	}

	inst.proxy = &httputil.ReverseProxy{
		Rewrite:      inst.rewrite,
		ErrorHandler: inst.handleError,
	}

	for _, opt := range opts {
		opt(inst)
	}

	inst.lastActive = inst.now()
	return inst
}

// rewrite points the outbound request at the instance and nothing else:
// the inbound Host and any client supplied forwarding headers are kept.
func (i *Instance) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(i.url)
	// The proxy drops query pairs it cannot parse before calling rewrite.
	pr.Out.URL.RawQuery = pr.In.URL.RawQuery
	pr.Out.Host = pr.In.Host

	for _, h := range []string{"Forwarded", "X-Forwarded-For", "X-Forwarded-Host", "X-Forwarded-Proto"} {
		if v, ok := pr.In.Header[h]; ok {
			pr.Out.Header[h] = v
		}
	}
}

func (i *Instance) handleError(w http.ResponseWriter, r *http.Request, err error) {
	i.logger.Error("Forward failed",
		slog.String("instance", i.name),
		slog.String("target", i.url.String()),
		slog.String("path", r.URL.Path),
		slog.Any("err", err))

	// A client that went away says nothing about the instance.
	if i.onFailure != nil && r.Context().Err() == nil {
		i.onFailure(i, err)
	}

	http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
}

// Forward proxies r to the instance and copies its response to w.
func (i *Instance) Forward(w http.ResponseWriter, r *http.Request) {
	i.IncrementConn()
	defer i.DecrementConn()

	start := i.now()
	i.proxy.ServeHTTP(w, r)
	i.RecordResponse(i.now().Sub(start))
}

// Name returns the instance name, e.g. backend-instance-0.
func (i *Instance) Name() string {
	return i.name
}

// Index returns the pool slot this instance serves.
func (i *Instance) Index() int {
	return i.index
}

// URL returns the instance target URL.
func (i *Instance) URL() *url.URL {
	return i.url
}

// IncrementConn increments the active connection count and marks activity.
func (i *Instance) IncrementConn() {
	i.mutex.Lock()
	i.activeConnections++
	i.lastActive = i.now()
	i.mutex.Unlock()
}

// DecrementConn decrements the active connection count and marks activity.
func (i *Instance) DecrementConn() {
	i.mutex.Lock()
	if i.activeConnections > 0 {
		i.activeConnections--
	}
	i.lastActive = i.now()
	i.mutex.Unlock()
}

// ActiveConnections returns the number of in-flight forwards.
func (i *Instance) ActiveConnections() int {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	return i.activeConnections
}

// Touch marks the instance as used now.
func (i *Instance) Touch() {
	i.mutex.Lock()
	i.lastActive = i.now()
	i.mutex.Unlock()
}

// LastActive returns when the instance last started or finished a request.
func (i *Instance) LastActive() time.Time {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	return i.lastActive
}

// IdleFor reports how long the instance has had no traffic. Instances with
// requests in flight are never idle.
func (i *Instance) IdleFor(now time.Time) time.Duration {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if i.activeConnections > 0 {
		return 0
	}
	return now.Sub(i.lastActive)
}

// RecordResponse updates the exponentially weighted moving average
// response time with the latest forward duration.
func (i *Instance) RecordResponse(duration time.Duration) {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if !i.hasEWMA {
		i.ewmaResponseTime = duration
		i.hasEWMA = true
		return
	}
	//ewma = (1 - α) * ewma + α * latest
	i.ewmaResponseTime = time.Duration((1-ewmaAlpha)*float64(i.ewmaResponseTime) + ewmaAlpha*float64(duration))
}

// EWMATime returns the smoothed response time, or 0 before any response.
func (i *Instance) EWMATime() time.Duration {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if !i.hasEWMA {
		return 0
	}

	return i.ewmaResponseTime
}
