// Package metrics holds the prometheus collectors shared by the feed, the
// dispatch pipeline and the enrichment workflow.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics groups every collector the alerter exports.
type Metrics struct {
	Registry *prometheus.Registry

	FeedFrames      prometheus.Counter
	FeedAlerts      *prometheus.CounterVec // labels: symbol
	FeedDropped     *prometheus.CounterVec // labels: reason
	FeedReconnects  *prometheus.CounterVec // labels: class
	FeedState       *prometheus.GaugeVec   // labels: state
	Dispatched      prometheus.Counter
	InFlight        prometheus.Gauge
	TaskFailures    prometheus.Counter
	Deliveries      *prometheus.CounterVec // labels: result
	SocialSnippets  prometheus.Histogram
	InferenceDur    prometheus.Histogram
	WorkflowDur     prometheus.Histogram
	AnalysisErrors  prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		FeedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whalewatch_feed_frames_total",
			Help: "Text frames received from the alert feed",
		}),
		FeedAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whalewatch_feed_alerts_total",
			Help: "Alerts that passed the subscription filter",
		}, []string{"symbol"}),
		FeedDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whalewatch_feed_dropped_total",
			Help: "Frames discarded by the feed client",
		}, []string{"reason"}),
		FeedReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whalewatch_feed_reconnects_total",
			Help: "Reconnect backoffs by failure class",
		}, []string{"class"}),
		FeedState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "whalewatch_feed_state",
			Help: "1 for the current feed connection state",
		}, []string{"state"}),
		Dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whalewatch_pipeline_dispatched_total",
			Help: "Alerts handed to the enrichment task group",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "whalewatch_pipeline_in_flight",
			Help: "Enrichment tasks currently running",
		}),
		TaskFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whalewatch_pipeline_task_failures_total",
			Help: "Enrichment tasks that panicked or were dropped",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whalewatch_deliveries_total",
			Help: "Chat deliveries by result",
		}, []string{"result"}),
		SocialSnippets: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "whalewatch_social_snippets",
			Help:    "Snippets returned per social context lookup",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		}),
		InferenceDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "whalewatch_inference_duration_seconds",
			Help:    "Model analysis latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		WorkflowDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "whalewatch_workflow_duration_seconds",
			Help:    "End-to-end enrichment and delivery latency",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		AnalysisErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whalewatch_analysis_errors_total",
			Help: "Model analyses that produced an error placeholder",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.FeedFrames,
		m.FeedAlerts,
		m.FeedDropped,
		m.FeedReconnects,
		m.FeedState,
		m.Dispatched,
		m.InFlight,
		m.TaskFailures,
		m.Deliveries,
		m.SocialSnippets,
		m.InferenceDur,
		m.WorkflowDur,
		m.AnalysisErrors,
	)

	return m
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
