package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dwellwatch"

// Metrics groups the pipeline counters and gauges on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	FramesRead       *prometheus.CounterVec
	FramesProcessed  *prometheus.CounterVec
	Detections       *prometheus.CounterVec
	Events           *prometheus.CounterVec
	SourceReconnects *prometheus.CounterVec
	DetectorErrors   *prometheus.CounterVec
	ActiveTracks     *prometheus.GaugeVec
	DetectInterval   *prometheus.GaugeVec

	SinkQueueDepth prometheus.Gauge
	SinkWritten    *prometheus.CounterVec
	SinkDropped    prometheus.Counter
	SinkFailures   prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		FramesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_read_total",
			Help:      "Frames read from camera sources",
		}, []string{"camera"}),
		FramesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_processed_total",
			Help:      "Frames sent to the detector",
		}, []string{"camera"}),
		Detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Tracked detections returned by the detector",
		}, []string{"camera"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Dwell events produced by the track registry",
		}, []string{"camera", "type"}),
		SourceReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_reconnects_total",
			Help:      "Frame source reopen attempts",
		}, []string{"camera"}),
		DetectorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_errors_total",
			Help:      "Detector invocations that failed",
		}, []string{"camera"}),
		ActiveTracks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_tracks",
			Help:      "Track sessions currently held by the registry",
		}, []string{"camera"}),
		DetectInterval: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "detect_interval",
			Help:      "Frames between detector invocations",
		}, []string{"camera"}),
		SinkQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sink_queue_depth",
			Help:      "Events waiting to be persisted",
		}),
		SinkWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_written_total",
			Help:      "Events persisted to disk",
		}, []string{"type"}),
		SinkDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_dropped_total",
			Help:      "Events dropped because the queue was full or closed",
		}),
		SinkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_failures_total",
			Help:      "Events that failed to persist",
		}),
	}
	r.MustRegister(
		m.FramesRead, m.FramesProcessed, m.Detections, m.Events,
		m.SourceReconnects, m.DetectorErrors, m.ActiveTracks, m.DetectInterval,
		m.SinkQueueDepth, m.SinkWritten, m.SinkDropped, m.SinkFailures,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
