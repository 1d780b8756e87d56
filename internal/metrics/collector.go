package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type EventType string

const (
	EventRequestRouted    EventType = "request_routed"
	EventInstancePicked   EventType = "instance_picked"
	EventPickFailed       EventType = "pick_failed"
	EventForwardCompleted EventType = "forward_completed"
	EventInstanceStarted  EventType = "instance_started"
	EventInstanceSlept    EventType = "instance_slept"
)

type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Route      string
	Instance   string
	Duration   time.Duration
	StatusCode int
}

// Emitter accepts metric events without blocking the caller.
type Emitter interface {
	Emit(event MetricEvent)
}

type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	prom    *promMetrics
	logger  *slog.Logger
	done    chan struct{}
}

type CollectorOption func(*Collector)

// WithRegisterer mirrors every processed event into Prometheus series
// registered on reg.
func WithRegisterer(reg prometheus.Registerer) CollectorOption {
	return func(c *Collector) {
		c.prom = newPromMetrics(reg)
	}
}

func NewCollector(bufferSize int, logger *slog.Logger, opts ...CollectorOption) *Collector {
	c := &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
		done:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Emit queues an event. Events are dropped when the buffer is full, and a
// nil Collector ignores them.
func (c *Collector) Emit(event MetricEvent) {
	if c == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

// Done is closed once the collector has drained and stopped.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")
	defer close(c.done)

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventRequestRouted:
		c.metrics.RecordRoute(event.Route)

	case EventInstancePicked:
		c.metrics.RecordPick(event.Instance)

	case EventPickFailed:
		c.metrics.RecordPickFailure()

	case EventForwardCompleted:
		c.metrics.RecordResponse(event.Instance, event.Duration, event.StatusCode)

	case EventInstanceStarted:
		c.metrics.UpdateRunning(event.Instance, true)

	case EventInstanceSlept:
		c.metrics.UpdateRunning(event.Instance, false)
	}

	c.prom.observe(event)
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot(selection string) Snapshot {
	return c.metrics.Snapshot(selection)
}
