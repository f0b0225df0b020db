package shm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/srediag/shmarc/api"
)

const instrumentationName = "github.com/srediag/shmarc/pkg/shm"

var (
	attrName      = attribute.Key("shm.name")
	attrCreated   = attribute.Key("shm.created")
	attrDestroyed = attribute.Key("shm.destroyed")
)

type telemetry struct {
	tracer   trace.Tracer
	observer api.Observer

	attaches metric.Int64Counter
	detaches metric.Int64Counter
	lockWait metric.Float64Histogram
}

func newTelemetry(c *Config) *telemetry {
	t := &telemetry{tracer: c.Tracer, observer: c.Observer}
	if t.tracer == nil {
		t.tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	meter := c.Meter
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}
	if err := t.instruments(meter); err != nil {
		internalLogger.warnf("otel instruments unavailable, metrics disabled: %v", err)
		_ = t.instruments(metricnoop.NewMeterProvider().Meter(instrumentationName))
	}
	return t
}

func (t *telemetry) instruments(meter metric.Meter) (err error) {
	if t.attaches, err = meter.Int64Counter("shmarc.attaches",
		metric.WithDescription("Attachments to shared segments made by this process."),
		metric.WithUnit("{attachment}")); err != nil {
		return err
	}
	if t.detaches, err = meter.Int64Counter("shmarc.detaches",
		metric.WithDescription("Detachments from shared segments made by this process."),
		metric.WithUnit("{attachment}")); err != nil {
		return err
	}
	t.lockWait, err = meter.Float64Histogram("shmarc.lock.wait",
		metric.WithDescription("Time spent waiting for a segment lock."),
		metric.WithUnit("s"))
	return err
}

func (t *telemetry) start(ctx context.Context, op, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "shm."+op, trace.WithAttributes(attrName.String(name)))
}

func (t *telemetry) end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (t *telemetry) attached(ctx context.Context, name string, created bool) {
	trace.SpanFromContext(ctx).SetAttributes(attrCreated.Bool(created))
	t.attaches.Add(ctx, 1, metric.WithAttributes(attrName.String(name), attrCreated.Bool(created)))
	if t.observer != nil {
		t.observer.Attached(name, created)
	}
}

func (t *telemetry) detached(ctx context.Context, name string, destroyed bool) {
	trace.SpanFromContext(ctx).SetAttributes(attrDestroyed.Bool(destroyed))
	t.detaches.Add(ctx, 1, metric.WithAttributes(attrName.String(name), attrDestroyed.Bool(destroyed)))
	if t.observer != nil {
		t.observer.Detached(name, destroyed)
	}
}

func (t *telemetry) lockAcquired(name string, wait time.Duration) {
	t.lockWait.Record(context.Background(), wait.Seconds(), metric.WithAttributes(attrName.String(name)))
	if t.observer != nil {
		t.observer.LockAcquired(name, wait)
	}
}
