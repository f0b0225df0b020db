//go:build unix

package shm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type TelemetryTestSuite struct {
	suite.Suite
	ctx    context.Context
	cfg    *Config
	reader *sdkmetric.ManualReader
	spans  *tracetest.SpanRecorder
}

func (s *TelemetryTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.reader = sdkmetric.NewManualReader()
	s.spans = tracetest.NewSpanRecorder()

	s.cfg = DefaultConfig()
	s.cfg.NamespaceDir = s.T().TempDir()
	s.cfg.Meter = sdkmetric.NewMeterProvider(sdkmetric.WithReader(s.reader)).Meter("test")
	s.cfg.Tracer = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(s.spans)).Tracer("test")
}

func (s *TelemetryTestSuite) collect() map[string]metricdata.Aggregation {
	var rm metricdata.ResourceMetrics
	s.Require().NoError(s.reader.Collect(s.ctx, &rm))
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumWhere(agg metricdata.Aggregation, kv attribute.KeyValue) int64 {
	sum, ok := agg.(metricdata.Sum[int64])
	if !ok {
		return -1
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(kv.Key); ok && v == kv.Value {
			total += dp.Value
		}
	}
	return total
}

func (s *TelemetryTestSuite) TestMetrics() {
	a, err := CreateOrOpen(s.ctx, "metered", uint64(0), s.cfg)
	s.Require().NoError(err)
	b, err := CreateOrOpen(s.ctx, "metered", uint64(0), s.cfg)
	s.Require().NoError(err)
	a.WithLock(func(*uint64) {})
	b.WithLock(func(*uint64) {})
	s.Require().NoError(a.Unlink(s.ctx))
	s.Require().NoError(b.Unlink(s.ctx))

	got := s.collect()
	s.Equal(int64(1), sumWhere(got["shmarc.attaches"], attrCreated.Bool(true)))
	s.Equal(int64(1), sumWhere(got["shmarc.attaches"], attrCreated.Bool(false)))
	s.Equal(int64(1), sumWhere(got["shmarc.detaches"], attrDestroyed.Bool(true)))
	s.Equal(int64(2), sumWhere(got["shmarc.detaches"], attrName.String("metered")))

	hist, ok := got["shmarc.lock.wait"].(metricdata.Histogram[float64])
	s.Require().True(ok)
	s.Require().Len(hist.DataPoints, 1)
	s.Equal(uint64(2), hist.DataPoints[0].Count)
}

func (s *TelemetryTestSuite) TestSpans() {
	c, err := CreateOrOpen(s.ctx, "traced", uint64(0), s.cfg)
	s.Require().NoError(err)
	s.Require().NoError(c.Unlink(s.ctx))
	_, err = Open[uint64](s.ctx, "traced", s.cfg)
	s.Require().ErrorIs(err, ErrNotFound)

	ended := s.spans.Ended()
	s.Require().Len(ended, 3)
	s.Equal("shm.CreateOrOpen", ended[0].Name())
	s.Contains(ended[0].Attributes(), attrCreated.Bool(true))
	s.Equal("shm.Unlink", ended[1].Name())
	s.Contains(ended[1].Attributes(), attrDestroyed.Bool(true))
	s.Equal("shm.Open", ended[2].Name())
	s.Equal(codes.Error, ended[2].Status().Code)
	for _, span := range ended {
		s.Contains(span.Attributes(), attrName.String("traced"))
	}
}

func (s *TelemetryTestSuite) TestNoopDefaults() {
	t := newTelemetry(&Config{})
	ctx, span := t.start(s.ctx, "Open", "x")
	t.attached(ctx, "x", true)
	t.lockAcquired("x", time.Millisecond)
	t.detached(ctx, "x", false)
	t.end(span, nil)
}

func TestTelemetryTestSuite(t *testing.T) {
	suite.Run(t, new(TelemetryTestSuite))
}
