// Package adapter connects shared segments to external monitoring systems.
package adapter

import (
	"strconv"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/shmarc/api"
)

const (
	namespace = "shmarc"
	subsystem = "segment"
)

var _ api.Observer = (*PrometheusObserver)(nil)

// PrometheusObserver exports segment lifecycle events of this process as Prometheus
// metrics and keeps the number of live local handles per segment name.
type PrometheusObserver struct {
	attaches *prometheus.CounterVec
	detaches *prometheus.CounterVec
	lockWait *prometheus.HistogramVec
	live     *prometheus.GaugeVec

	handles cmap.ConcurrentMap[string, int64]
}

// NewPrometheusObserver creates the observer and registers its collectors with reg.
func NewPrometheusObserver(reg prometheus.Registerer) (*PrometheusObserver, error) {
	o := &PrometheusObserver{
		attaches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "attaches_total",
				Help:      "Total number of attachments made by this process.",
			},
			[]string{"name", "created"},
		),
		detaches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "detaches_total",
				Help:      "Total number of detachments made by this process.",
			},
			[]string{"name", "destroyed"},
		),
		lockWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "lock_wait_seconds",
				Help:      "Time spent waiting for a segment lock.",
				Buckets:   prometheus.ExponentialBuckets(1e-6, 10, 8),
			},
			[]string{"name"},
		),
		live: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "live_handles",
				Help:      "Handles of this process currently attached to a segment.",
			},
			[]string{"name"},
		),
		handles: cmap.New[int64](),
	}
	for _, c := range []prometheus.Collector{o.attaches, o.detaches, o.lockWait, o.live} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *PrometheusObserver) Attached(name string, created bool) {
	o.attaches.WithLabelValues(name, strconv.FormatBool(created)).Inc()
	o.handles.Upsert(name, 1, addHandles)
	o.live.WithLabelValues(name).Inc()
}

func (o *PrometheusObserver) Detached(name string, destroyed bool) {
	o.detaches.WithLabelValues(name, strconv.FormatBool(destroyed)).Inc()
	if o.handles.Upsert(name, -1, addHandles) <= 0 {
		o.handles.RemoveCb(name, func(_ string, n int64, exists bool) bool {
			return exists && n <= 0
		})
	}
	o.live.WithLabelValues(name).Dec()
}

func (o *PrometheusObserver) LockAcquired(name string, wait time.Duration) {
	o.lockWait.WithLabelValues(name).Observe(wait.Seconds())
}

// LiveHandles returns the number of handles of this process attached to name.
func (o *PrometheusObserver) LiveHandles(name string) int64 {
	n, _ := o.handles.Get(name)
	return n
}

// Segments returns the names this process holds at least one handle on.
func (o *PrometheusObserver) Segments() []string {
	return o.handles.Keys()
}

func addHandles(exist bool, cur, delta int64) int64 {
	if exist {
		return cur + delta
	}
	return delta
}
