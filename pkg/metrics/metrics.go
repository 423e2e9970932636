package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "gateway"

	// Status label values for success/error metrics
	StatusSuccess = "success"
	StatusError   = "error"

	Sessions = "sessions"
	Requests = "requests"
	Frames   = "frames"
	Chunks   = "chunks"
	Logs     = "logs"
)

// Labels holds constant labels applied to all metrics.
// These are useful for distinguishing metrics from multiple gateway instances.
type Labels struct {
	Network       string // Upstream network (e.g., "ethereum_mainnet")
	Environment   string // Deployment environment (e.g., "production", "staging", "development")
	Region        string // Cloud region (e.g., "us-east-1", "eu-west-1")
	CloudProvider string // Cloud provider (e.g., "aws", "oci", "gcp")
}

// toPrometheusLabels converts Labels to prometheus.Labels map.
// Only non-empty labels are included to avoid empty label values.
func (l Labels) toPrometheusLabels() prometheus.Labels {
	labels := prometheus.Labels{}
	if l.Network != "" {
		labels["network"] = l.Network
	}
	if l.Environment != "" {
		labels["environment"] = l.Environment
	}
	if l.Region != "" {
		labels["region"] = l.Region
	}
	if l.CloudProvider != "" {
		labels["cloud_provider"] = l.CloudProvider
	}
	return labels
}

type Metrics struct {
	// Connection sessions
	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter

	// Requests and response frames
	requests        *prometheus.CounterVec   // by type, status
	requestDuration *prometheus.HistogramVec // by type
	framesWritten   *prometheus.CounterVec   // by frame type

	errors *prometheus.CounterVec

	// RPC metrics
	rpcCalls    *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec
	rpcInFlight prometheus.Gauge

	// Latest block height reported by the upstream
	upstreamHead prometheus.Gauge

	// Chunk fetches
	chunks         *prometheus.CounterVec
	chunkDuration  prometheus.Histogram
	chunksInFlight prometheus.Gauge

	// Log metrics
	logsFetched   prometheus.Counter
	logsMatched   prometheus.Counter
	logsMalformed prometheus.Counter
}

// New creates a new Metrics instance and registers all metrics with the provided registerer.
// Returns an error if any metric registration fails.
// For metrics with constant labels (e.g., network), use NewWithLabels instead.
func New(reg prometheus.Registerer) (*Metrics, error) {
	return NewWithLabels(reg, Labels{})
}

// NewWithLabels creates a new Metrics instance with constant labels applied to all metrics.
func NewWithLabels(reg prometheus.Registerer, labels Labels) (*Metrics, error) {
	promLabels := labels.toPrometheusLabels()
	if len(promLabels) > 0 {
		reg = prometheus.WrapRegistererWith(promLabels, reg)
	}

	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Sessions,
			Name:      "active",
			Help:      "Number of client connections currently being served",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Sessions,
			Name:      "opened_total",
			Help:      "Total number of client connections accepted",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Requests,
			Name:      "total",
			Help:      "Total requests handled by type and status",
		}, []string{"type", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Requests,
			Name:      "duration_seconds",
			Help:      "Time from request decode to End frame by request type",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"type"}),
		framesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Frames,
			Name:      "written_total",
			Help:      "Total response frames written by frame type",
		}, []string{"type"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total errors by type",
		}, []string{"type"}),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Total RPC calls by method and status",
		}, []string{"method", "status"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "rpc",
			Name:      "duration_seconds",
			Help:      "RPC call duration in seconds",
			// Buckets cover typical RPC latencies: 1ms, 5ms, 10ms, 25ms, 50ms,
			// 100ms, 250ms, 500ms, 1s, 2.5s, 5s, 10s
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		rpcInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "rpc",
			Name:      "in_flight",
			Help:      "Number of RPC calls currently in progress",
		}),
		upstreamHead: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "upstream",
			Name:      "head_block",
			Help:      "Latest block height reported by the upstream source",
		}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Chunks,
			Name:      "fetched_total",
			Help:      "Total chunk fetches by status",
		}, []string{"status"}),
		chunkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Chunks,
			Name:      "fetch_duration_seconds",
			Help:      "Time to fetch the raw logs of one chunk",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		chunksInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Chunks,
			Name:      "in_flight",
			Help:      "Number of chunk fetches currently in progress",
		}),
		logsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Logs,
			Name:      "fetched_total",
			Help:      "Total raw logs returned by the upstream source",
		}),
		logsMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Logs,
			Name:      "matched_total",
			Help:      "Total logs that passed the exact filter and were normalized",
		}),
		logsMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Logs,
			Name:      "malformed_total",
			Help:      "Total upstream logs that could not be normalized",
		}),
	}

	err := errors.Join(
		reg.Register(m.sessionsActive),
		reg.Register(m.sessionsTotal),
		reg.Register(m.requests),
		reg.Register(m.requestDuration),
		reg.Register(m.framesWritten),
		reg.Register(m.errors),
		reg.Register(m.rpcCalls),
		reg.Register(m.rpcDuration),
		reg.Register(m.rpcInFlight),
		reg.Register(m.upstreamHead),
		reg.Register(m.chunks),
		reg.Register(m.chunkDuration),
		reg.Register(m.chunksInFlight),
		reg.Register(m.logsFetched),
		reg.Register(m.logsMatched),
		reg.Register(m.logsMalformed),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Error type constants for errors outside a request (RPC errors are tracked via rpcCalls{status="error"}).
const (
	ErrTypeAccept      = "accept"
	ErrTypeReadFrame   = "read_frame"
	ErrTypeDecode      = "decode"
	ErrTypeWriteFrame  = "write_frame"
	ErrTypeQueryFailed = "query_failed"
	ErrTypeHeadPoll    = "head_poll"
)

// IncError increments the error counter for the given error type.
func (m *Metrics) IncError(errType string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(errType).Inc()
}

// SessionOpened records an accepted connection.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
	m.sessionsActive.Inc()
}

// SessionClosed records the end of a connection.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

// RecordRequest records a handled request by type.
// Pass nil error when the request was terminated normally.
func (m *Metrics) RecordRequest(reqType string, err error, durationSeconds float64) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.requests.WithLabelValues(reqType, status).Inc()
	m.requestDuration.WithLabelValues(reqType).Observe(durationSeconds)
}

// IncFrameWritten increments the written frame counter for a response frame type.
func (m *Metrics) IncFrameWritten(frameType string) {
	if m == nil {
		return
	}
	m.framesWritten.WithLabelValues(frameType).Inc()
}

// IncRPCInFlight increments the in-flight RPC gauge.
func (m *Metrics) IncRPCInFlight() {
	if m == nil {
		return
	}
	m.rpcInFlight.Inc()
}

// DecRPCInFlight decrements the in-flight RPC gauge.
func (m *Metrics) DecRPCInFlight() {
	if m == nil {
		return
	}
	m.rpcInFlight.Dec()
}

// RecordRPCCall records an RPC call outcome.
func (m *Metrics) RecordRPCCall(method string, err error, durationSeconds float64) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.rpcCalls.WithLabelValues(method, status).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(durationSeconds)
}

// SetUpstreamHead records the latest block height seen upstream.
func (m *Metrics) SetUpstreamHead(height uint64) {
	if m == nil {
		return
	}
	m.upstreamHead.Set(float64(height))
}

// IncChunksInFlight increments the in-flight chunk fetch gauge.
func (m *Metrics) IncChunksInFlight() {
	if m == nil {
		return
	}
	m.chunksInFlight.Inc()
}

// DecChunksInFlight decrements the in-flight chunk fetch gauge.
func (m *Metrics) DecChunksInFlight() {
	if m == nil {
		return
	}
	m.chunksInFlight.Dec()
}

// RecordChunk records a chunk fetch outcome with duration and raw log count.
func (m *Metrics) RecordChunk(err error, durationSeconds float64, logCount int) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.chunks.WithLabelValues(status).Inc()
	m.chunkDuration.Observe(durationSeconds)
	if logCount > 0 {
		m.logsFetched.Add(float64(logCount))
	}
}

// AddLogsMatched records logs that passed the exact filter.
func (m *Metrics) AddLogsMatched(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.logsMatched.Add(float64(count))
}

// IncLogsMalformed records one upstream log that failed normalization.
func (m *Metrics) IncLogsMalformed() {
	if m == nil {
		return
	}
	m.logsMalformed.Inc()
}
