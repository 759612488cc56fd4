package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Collector exposes pipeline counters. A nil *Collector is valid and records nothing,
// so components can be built without metrics.
type Collector struct {
	readings     *prometheus.CounterVec
	batches      prometheus.Counter
	batchSize    prometheus.Histogram
	logLines     prometheus.Counter
	logFailures  prometheus.Counter
	framesSent   prometheus.Counter
	frameErrors  prometheus.Counter
	retryBuffer  prometheus.Gauge
	linkUp       prometheus.Gauge
	radioEnabled prometheus.Gauge
}

// NewCollector creates the collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gasnode_readings_total",
			Help: "Channel visits by channel, sensor type and outcome",
		}, []string{"channel", "sensor_type", "status"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gasnode_batches_flushed_total",
			Help: "Batches handed to the sinks",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gasnode_batch_readings",
			Help:    "Readings per flushed batch",
			Buckets: prometheus.LinearBuckets(0, 8, 10),
		}),
		logLines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gasnode_log_lines_total",
			Help: "Rows appended to the durable log",
		}),
		logFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gasnode_log_failures_total",
			Help: "Batches the durable log could not store",
		}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gasnode_radio_frames_sent_total",
			Help: "Notifications pushed to the connected peer",
		}),
		frameErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gasnode_radio_frame_errors_total",
			Help: "Notifications that failed and were re-buffered",
		}),
		retryBuffer: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gasnode_radio_retry_buffer_readings",
			Help: "Readings waiting for wireless delivery",
		}),
		linkUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gasnode_radio_connected",
			Help: "1 while a peer is connected",
		}),
		radioEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gasnode_radio_enabled",
			Help: "1 while the radio is powered",
		}),
	}

	reg.MustRegister(
		c.readings,
		c.batches,
		c.batchSize,
		c.logLines,
		c.logFailures,
		c.framesSent,
		c.frameErrors,
		c.retryBuffer,
		c.linkUp,
		c.radioEnabled,
	)

	return c
}

// RecordReading counts one channel visit.
func (c *Collector) RecordReading(channel int, sensorType string, ok bool) {
	if c == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	c.readings.WithLabelValues(strconv.Itoa(channel), sensorType, status).Inc()
}

// RecordFlush counts a batch hand-off.
func (c *Collector) RecordFlush(size int) {
	if c == nil {
		return
	}
	c.batches.Inc()
	c.batchSize.Observe(float64(size))
}

// RecordLogAppend counts rows written to the durable log.
func (c *Collector) RecordLogAppend(lines int) {
	if c == nil {
		return
	}
	c.logLines.Add(float64(lines))
}

// RecordLogFailure counts a batch the durable log dropped.
func (c *Collector) RecordLogFailure() {
	if c == nil {
		return
	}
	c.logFailures.Inc()
}

// RecordFrame counts one notification attempt.
func (c *Collector) RecordFrame(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.framesSent.Inc()
	} else {
		c.frameErrors.Inc()
	}
}

// SetRetryBuffer publishes the retry buffer depth.
func (c *Collector) SetRetryBuffer(n int) {
	if c == nil {
		return
	}
	c.retryBuffer.Set(float64(n))
}

// SetLink publishes the connection state.
func (c *Collector) SetLink(connected bool) {
	if c == nil {
		return
	}
	c.linkUp.Set(boolGauge(connected))
}

// SetRadioEnabled publishes the radio power state.
func (c *Collector) SetRadioEnabled(enabled bool) {
	if c == nil {
		return
	}
	c.radioEnabled.Set(boolGauge(enabled))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Serve exposes /metrics for gatherer on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("metrics server shutdown")
		}
	}()

	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
