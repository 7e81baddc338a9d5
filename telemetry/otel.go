// Package telemetry implements core.Telemetry on OpenTelemetry. The global
// otel providers are used, so the embedding binary decides where spans and
// metrics go; with no provider installed everything is a cheap no-op.
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/velzox/apimon/core"
)

// Telemetry is the otel-backed implementation of core.Telemetry.
type Telemetry struct {
	tracer trace.Tracer
	meter  metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram
}

// New builds a Telemetry using the given instrumentation scope name.
func New(name string) *Telemetry {
	return &Telemetry{
		tracer:     otel.Tracer(name),
		meter:      otel.Meter(name),
		counters:   make(map[string]metric.Float64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

// StartSpan implements core.Telemetry.
func (t *Telemetry) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric implements core.Telemetry. Names ending in "_ms" record into
// a histogram, everything else into a counter; unknown names are registered
// on first use.
func (t *Telemetry) RecordMetric(name string, value float64, labels map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}

	if strings.HasSuffix(name, "_ms") {
		h, err := t.histogram(name)
		if err != nil {
			return
		}
		h.Record(context.Background(), value, metric.WithAttributes(attrs...))
		return
	}

	counter, err := t.counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(attrs...))
}

func (t *Telemetry) histogram(name string) (metric.Float64Histogram, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.histograms[name]; ok {
		return h, nil
	}
	h, err := t.meter.Float64Histogram(name, metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	t.histograms[name] = h
	return h, nil
}

func (t *Telemetry) counter(name string) (metric.Float64Counter, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.counters[name]; ok {
		return c, nil
	}
	c, err := t.meter.Float64Counter(name)
	if err != nil {
		return nil, err
	}
	t.counters[name] = c
	return c, nil
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() {
	s.span.End()
}

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}
