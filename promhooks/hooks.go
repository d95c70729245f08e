// Package promhooks exports layercache.Hooks events as Prometheus metrics.
package promhooks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/unkn0wn-root/layercache"
)

// Hooks counts chain events per layer.
type Hooks struct {
	batches           *prometheus.CounterVec
	batchSize         *prometheus.HistogramVec
	layerFailures     *prometheus.CounterVec
	fallthroughKeys   *prometheus.CounterVec
	writeBackFailures *prometheus.CounterVec
	finalFailures     prometheus.Counter
	finalMissingKeys  prometheus.Counter
}

var _ layercache.Hooks = (*Hooks)(nil)

// New registers the collectors on reg (prometheus.DefaultRegisterer if nil)
// under the given namespace ("layercache" if empty).
func New(reg prometheus.Registerer, namespace string) *Hooks {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "layercache"
	}
	f := promauto.With(reg)
	return &Hooks{
		batches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batched reads dispatched per layer",
		}, []string{"layer"}),
		batchSize: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_keys",
			Help:      "Distinct keys per dispatched batch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"layer"}),
		layerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "layer_failures_total",
			Help:      "Batched reads that failed wholesale and fell through",
		}, []string{"layer"}),
		fallthroughKeys: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallthrough_keys_total",
			Help:      "Keys that missed a layer and were forwarded",
		}, []string{"layer"}),
		writeBackFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writeback_failures_total",
			Help:      "Backfill writes that failed",
		}, []string{"layer"}),
		finalFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "final_failures_total",
			Help:      "Final fetcher batches that failed wholesale",
		}),
		finalMissingKeys: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "final_missing_keys_total",
			Help:      "Keys that reached the end of the chain with no final fetcher set",
		}),
	}
}

func (h *Hooks) BatchDispatched(layer string, keys int) {
	h.batches.WithLabelValues(layer).Inc()
	h.batchSize.WithLabelValues(layer).Observe(float64(keys))
}

func (h *Hooks) LayerFailed(layer string, _ int, _ error) {
	h.layerFailures.WithLabelValues(layer).Inc()
}

func (h *Hooks) FellThrough(layer string, keys int) {
	h.fallthroughKeys.WithLabelValues(layer).Add(float64(keys))
}

func (h *Hooks) WriteBackFailed(err *layercache.WriteBackError) {
	h.writeBackFailures.WithLabelValues(err.Layer).Inc()
}

func (h *Hooks) FinalFailed(int, error) { h.finalFailures.Inc() }

func (h *Hooks) FinalMissing(keys int) { h.finalMissingKeys.Add(float64(keys)) }
