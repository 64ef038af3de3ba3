package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cs_ranging"

// Registry holds every metric exported by this process. It is separate from
// the global default registry so tests can gather it without interference.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// StepsDecoded counts steps appended by the step decoder, by mode.
	StepsDecoded = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "steps_decoded_total",
		Help:      "Steps decoded from subevent step buffers",
	}, []string{"mode"})

	// DecodeEvents counts decode and assembly diagnostics, by kind.
	DecodeEvents = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decode_events_total",
		Help:      "Diagnostics raised while decoding steps or assembling subevents",
	}, []string{"kind"})

	// SubeventsAssembled counts assembly attempts by outcome (ok, failed).
	SubeventsAssembled = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "subevents_assembled_total",
		Help:      "Subevent assembly attempts by outcome",
	}, []string{"outcome"})

	// PipelineItems counts items taken off each side's queue, by kind
	// (result, placeholder).
	PipelineItems = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_items_total",
		Help:      "Items consumed from the per-radio queues",
	}, []string{"side", "kind"})

	// PairsEmitted counts initiator/reflector pairs handed to the handler.
	PairsEmitted = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pairs_emitted_total",
		Help:      "Procedure counters paired across both radios",
	})

	// Unmatched counts results that never found a partner, by side and
	// reason (end_of_run, superseded, overflow).
	Unmatched = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "unmatched_total",
		Help:      "Results reported as unmatched",
	}, []string{"side", "reason"})

	// Pending is the number of buffered unmatched results per side.
	Pending = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_results",
		Help:      "Results waiting in the pairing buffer",
	}, []string{"side"})

	// QueueDepth samples the fill level of each side's bounded queue.
	QueueDepth = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Items waiting in the per-radio queue",
	}, []string{"side"})

	// RangingSeconds observes the time to compute one ranging result.
	RangingSeconds = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ranging_duration_seconds",
		Help:      "Time spent computing ranging outputs for one pair",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	// DistanceMeters is the latest distance estimate, by method (music,
	// phase_slope).
	DistanceMeters = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "distance_meters",
		Help:      "Most recent distance estimate",
	}, []string{"method"})

	// HandlerErrors counts failures returned by pair handlers, by handler.
	HandlerErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handler_errors_total",
		Help:      "Errors returned by pair handlers",
	}, []string{"handler"})
)

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
}

// Handler serves the metrics in Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
