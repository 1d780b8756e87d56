package dispatcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/angeloszaimis/edge-router/internal/instance"
	"github.com/angeloszaimis/edge-router/internal/metrics"
)

// Picker hands out the instance a forwarded request goes to. n is the
// pool size the draw is taken over.
type Picker interface {
	Pick(ctx context.Context, n int) (instance.Handle, error)
}

type Dispatcher struct {
	picker        Picker
	poolSize      int
	rootMessage   string
	forwardPrefix string
	events        metrics.Emitter
	logger        *slog.Logger
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func New(picker Picker, opts ...Option) (*Dispatcher, error) {
	if picker == nil {
		return nil, errors.New("picker is nil")
	}

	d := &Dispatcher{
		picker:        picker,
		poolSize:      DefaultPoolSize,
		rootMessage:   DefaultRootMessage,
		forwardPrefix: DefaultForwardPrefix,
		logger:        slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	return d, nil
}

func (d *Dispatcher) PoolSize() int {
	return d.poolSize
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// The prefix is matched against the path as sent, not its decoded form.
	route := Classify(r.URL.EscapedPath(), d.forwardPrefix)
	d.emit(metrics.MetricEvent{Type: metrics.EventRequestRouted, Route: route.String()})

	switch route {
	case RouteRoot:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, d.rootMessage)

	case RouteForward:
		d.forward(w, r)

	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, "Not Found")
	}
}

func (d *Dispatcher) forward(w http.ResponseWriter, r *http.Request) {
	handle, err := d.picker.Pick(r.Context(), d.poolSize)
	if err != nil {
		d.logger.Warn("Failed to pick instance",
			slog.String("path", r.URL.Path),
			slog.Any("err", err))
		d.emit(metrics.MetricEvent{Type: metrics.EventPickFailed})
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	name := handle.Name()
	d.emit(metrics.MetricEvent{Type: metrics.EventInstancePicked, Instance: name})

	d.logger.Debug("Forwarding to instance",
		slog.String("instance", name),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path))

	start := time.Now()
	wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
	handle.Forward(wrapped, r)

	d.emit(metrics.MetricEvent{
		Type:       metrics.EventForwardCompleted,
		Instance:   name,
		Duration:   time.Since(start),
		StatusCode: wrapped.statusCode,
	})
}

func (d *Dispatcher) emit(event metrics.MetricEvent) {
	if d.events == nil {
		return
	}
	d.events.Emit(event)
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader && code >= http.StatusOK {
		r.statusCode = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer, which
// the reverse proxy needs to flush streamed responses.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
