package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the sink. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// Datagram path
	DatagramsReceivedTotal prometheus.Counter
	DatagramsDroppedTotal  *prometheus.CounterVec
	ChunksStoredTotal      prometheus.Counter
	ChunksDuplicateTotal   prometheus.Counter
	BytesReceivedTotal     *prometheus.CounterVec
	BlocksCompletedTotal   prometheus.Counter
	PartialDeliveriesTotal prometheus.Counter
	BlocksSkippedTotal     prometheus.Counter
	BlockWaitDuration      prometheus.Histogram
	PendingBlocks          prometheus.Gauge
	Cursor                 prometheus.Gauge

	// Command protocol
	CommandsTotal       *prometheus.CounterVec
	UploadsTotal        *prometheus.CounterVec
	UploadDuration      prometheus.Histogram
	StreamSessionsTotal *prometheus.CounterVec
	StreamSessionsOpen  prometheus.Gauge

	registry prometheus.Gatherer
}

// NewMetrics creates all metrics and registers them on reg. A nil reg uses a
// fresh private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	m := &Metrics{
		DatagramsReceivedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "itskernel_datagrams_received_total",
			Help: "Datagrams read from the one-way socket",
		}),
		DatagramsDroppedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "itskernel_datagrams_dropped_total",
			Help: "Datagrams discarded before reaching a block",
		}, []string{"reason"}),
		ChunksStoredTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "itskernel_chunks_stored_total",
			Help: "Distinct chunks stored into blocks",
		}),
		ChunksDuplicateTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "itskernel_chunks_duplicate_total",
			Help: "Chunks discarded as duplicates",
		}),
		BytesReceivedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "itskernel_bytes_received_total",
			Help: "Payload bytes received",
		}, []string{"transport"}),
		BlocksCompletedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "itskernel_blocks_completed_total",
			Help: "Blocks delivered complete to the decoder",
		}),
		PartialDeliveriesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "itskernel_partial_deliveries_total",
			Help: "Blocks still incomplete when the wait window closed",
		}),
		BlocksSkippedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "itskernel_blocks_skipped_total",
			Help: "Blocks abandoned by cursor skips",
		}),
		BlockWaitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "itskernel_block_wait_duration_seconds",
			Help:    "Time spent waiting for the cursor block",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		PendingBlocks: f.NewGauge(prometheus.GaugeOpts{
			Name: "itskernel_pending_blocks",
			Help: "Blocks held in the store at or after the cursor",
		}),
		Cursor: f.NewGauge(prometheus.GaugeOpts{
			Name: "itskernel_cursor",
			Help: "Next retrievable block id",
		}),
		CommandsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "itskernel_commands_total",
			Help: "Commands received",
		}, []string{"transport", "command"}),
		UploadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "itskernel_uploads_total",
			Help: "sendout attempts by outcome",
		}, []string{"transport", "status"}),
		UploadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "itskernel_upload_duration_seconds",
			Help:    "sendout attempt duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		StreamSessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "itskernel_stream_sessions_total",
			Help: "Stream protocol sessions accepted",
		}, []string{"transport"}),
		StreamSessionsOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "itskernel_stream_sessions_open",
			Help: "Stream protocol sessions currently open",
		}),
		registry: reg,
	}

	return m
}

// RecordDatagram counts a datagram read from the socket.
func (m *Metrics) RecordDatagram(bytes int) {
	if m == nil {
		return
	}
	m.DatagramsReceivedTotal.Inc()
	m.BytesReceivedTotal.WithLabelValues("udp").Add(float64(bytes))
}

// RecordDatagramDropped counts a discarded datagram.
func (m *Metrics) RecordDatagramDropped(reason string) {
	if m == nil {
		return
	}
	m.DatagramsDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordChunk counts a stored or duplicate chunk.
func (m *Metrics) RecordChunk(duplicate bool) {
	if m == nil {
		return
	}
	if duplicate {
		m.ChunksDuplicateTotal.Inc()
	} else {
		m.ChunksStoredTotal.Inc()
	}
}

// RecordBlockWait records the outcome of one cursor wait.
func (m *Metrics) RecordBlockWait(complete bool, seconds float64) {
	if m == nil {
		return
	}
	if complete {
		m.BlocksCompletedTotal.Inc()
	} else {
		m.PartialDeliveriesTotal.Inc()
	}
	m.BlockWaitDuration.Observe(seconds)
}

// RecordStore updates store gauges.
func (m *Metrics) RecordStore(cursor uint32, pending int) {
	if m == nil {
		return
	}
	m.Cursor.Set(float64(cursor))
	m.PendingBlocks.Set(float64(pending))
}

// RecordSkip counts blocks abandoned by a resync skip.
func (m *Metrics) RecordSkip(n uint32) {
	if m == nil {
		return
	}
	m.BlocksSkippedTotal.Add(float64(n))
}

// RecordCommand counts a received command keyword.
func (m *Metrics) RecordCommand(transport, command string) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(transport, command).Inc()
}

// RecordUpload records a sendout outcome.
func (m *Metrics) RecordUpload(transport string, success bool, bytes int, durationSeconds float64) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.UploadsTotal.WithLabelValues(transport, status).Inc()
	m.UploadDuration.Observe(durationSeconds)
	if success && transport != "udp" {
		m.BytesReceivedTotal.WithLabelValues(transport).Add(float64(bytes))
	}
}

// RecordStreamSession tracks stream sessions opening and closing.
func (m *Metrics) RecordStreamSession(transport string, open bool) {
	if m == nil {
		return
	}
	if open {
		m.StreamSessionsTotal.WithLabelValues(transport).Inc()
		m.StreamSessionsOpen.Inc()
	} else {
		m.StreamSessionsOpen.Dec()
	}
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
