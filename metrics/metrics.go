// Package metrics exposes the runtime's Prometheus surface: channel
// queue depth and in-flight requests, bytes transferred per transfer
// kind, collective stage latency, and the per-context RuntimeOverhead
// profiling counters (§2 SUPPLEMENTED FEATURES).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taskmesh/taskmesh/cmn/nlog"
	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/xfer"
)

// Registry bundles every metric this runtime reports, created once per
// process and threaded into the components that update it (the same
// pattern aistore uses for its own stats.Tracker: a struct of
// pre-registered vectors, no package-level globals).
type Registry struct {
	reg *prometheus.Registry

	queueDepth    *prometheus.GaugeVec
	inFlight      *prometheus.GaugeVec
	bytesTransferred *prometheus.CounterVec
	collectiveLatency *prometheus.HistogramVec
	runtimeOverheadNS *prometheus.GaugeVec
	waitOverheadNS    *prometheus.GaugeVec
	callDepth         *prometheus.GaugeVec
}

func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "taskmesh", Subsystem: "xfer", Name: "queue_depth",
		Help: "number of XferDes descriptors currently queued per channel kind",
	}, []string{"kind"})

	r.inFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "taskmesh", Subsystem: "xfer", Name: "requests_in_flight",
		Help: "number of Requests submitted to a channel and not yet completed",
	}, []string{"kind"})

	r.bytesTransferred = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskmesh", Subsystem: "xfer", Name: "bytes_transferred_total",
		Help: "cumulative bytes moved per channel kind",
	}, []string{"kind"})

	r.collectiveLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "taskmesh", Subsystem: "repl", Name: "collective_stage_latency_seconds",
		Help:    "wall-clock time spent in one collective stage (broadcast tree level, gather level, allgather dissemination stage)",
		Buckets: prometheus.DefBuckets,
	}, []string{"collective"})

	r.runtimeOverheadNS = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "taskmesh", Subsystem: "core", Name: "runtime_overhead_ns",
		Help: "cumulative time a context spent executing runtime calls, per context id",
	}, []string{"context"})
	r.waitOverheadNS = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "taskmesh", Subsystem: "core", Name: "wait_overhead_ns",
		Help: "cumulative time a context spent blocked waiting on a runtime event, per context id",
	}, []string{"context"})
	r.callDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "taskmesh", Subsystem: "core", Name: "runtime_call_depth",
		Help: "current nested runtime-call depth, per context id",
	}, []string{"context"})

	r.reg.MustRegister(
		r.queueDepth, r.inFlight, r.bytesTransferred,
		r.collectiveLatency, r.runtimeOverheadNS, r.waitOverheadNS, r.callDepth,
	)
	return r
}

func (r *Registry) SetQueueDepth(kind xfer.Kind, n int) {
	r.queueDepth.WithLabelValues(kind.String()).Set(float64(n))
}

func (r *Registry) SetInFlight(kind xfer.Kind, n int) {
	r.inFlight.WithLabelValues(kind.String()).Set(float64(n))
}

func (r *Registry) AddBytesTransferred(kind xfer.Kind, n int64) {
	r.bytesTransferred.WithLabelValues(kind.String()).Add(float64(n))
}

func (r *Registry) ObserveCollectiveStage(collective string, d time.Duration) {
	r.collectiveLatency.WithLabelValues(collective).Observe(d.Seconds())
}

// SampleOverhead polls a context's RuntimeOverhead and publishes its
// three counters under the given label, meant to be called periodically
// (e.g. from a ticker in cmd/taskmeshd) for each live top-level context.
func (r *Registry) SampleOverhead(contextLabel string, o *core.RuntimeOverhead) {
	runtimeNS, waitNS, depth := o.Snapshot()
	r.runtimeOverheadNS.WithLabelValues(contextLabel).Set(float64(runtimeNS))
	r.waitOverheadNS.WithLabelValues(contextLabel).Set(float64(waitNS))
	r.callDepth.WithLabelValues(contextLabel).Set(float64(depth))
}

// Serve blocks handling /metrics on addr; call it from its own goroutine.
func (r *Registry) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	nlog.Infof("metrics: serving Prometheus endpoint on %s", addr)
	return http.ListenAndServe(addr, mux)
}
