package sinks

import (
	"context"
	"fmt"
	"net/url"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/scholar-citations/internal/progress"
)

// PrometheusSink exports run progress via Prometheus collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	itemsTotal    prometheus.Gauge
	nextIndex     prometheus.Gauge

	itemsResolved  *prometheus.CounterVec
	itemDuration   *prometheus.HistogramVec
	citations      prometheus.Counter
	captchas       prometheus.Counter
	suspended      prometheus.Gauge
	rotations      *prometheus.CounterVec
	checkpointsOut prometheus.Counter
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cites_runs_started_total",
			Help: "Total runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cites_runs_completed_total",
			Help: "Total runs completed partitioned by result.",
		}, []string{"result"}),
		itemsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cites_items",
			Help: "Number of items in the current run.",
		}),
		nextIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cites_next_index",
			Help: "Index of the next unresolved item.",
		}),
		itemsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cites_items_resolved_total",
			Help: "Items resolved partitioned by outcome.",
		}, []string{"outcome"}),
		itemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cites_item_duration_seconds",
			Help:    "Wall time spent resolving one item, including captcha waits.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 300, 900},
		}, []string{"outcome"}),
		citations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cites_citations_total",
			Help: "Sum of citation counts extracted so far.",
		}),
		captchas: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cites_captcha_suspensions_total",
			Help: "Number of times the run paused for a manual captcha.",
		}),
		suspended: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cites_suspended",
			Help: "1 while the run waits for a captcha to be solved.",
		}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cites_endpoint_rotations_total",
			Help: "Endpoint rotations partitioned by the host rotated to.",
		}, []string{"host"}),
		checkpointsOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cites_checkpoints_saved_total",
			Help: "Checkpoints written.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.itemsTotal,
		s.nextIndex,
		s.itemsResolved,
		s.itemDuration,
		s.citations,
		s.captchas,
		s.suspended,
		s.rotations,
		s.checkpointsOut,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		s.itemsTotal.Set(float64(evt.Total))
		s.nextIndex.Set(float64(evt.Index))
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues("success").Inc()
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues("error").Inc()
		s.suspended.Set(0)
	case progress.StageItemDone:
		s.itemsResolved.WithLabelValues(evt.Outcome).Inc()
		if evt.Dur > 0 {
			s.itemDuration.WithLabelValues(evt.Outcome).Observe(evt.Dur.Seconds())
		}
		if evt.Citations > 0 {
			s.citations.Add(float64(evt.Citations))
		}
		s.nextIndex.Set(float64(evt.Index + 1))
	case progress.StageCaptchaSuspend:
		s.captchas.Inc()
		s.suspended.Set(1)
	case progress.StageCaptchaResume:
		s.suspended.Set(0)
	case progress.StageEndpointRotate:
		s.rotations.WithLabelValues(hostLabel(evt.Endpoint)).Inc()
	case progress.StageCheckpointSaved:
		s.checkpointsOut.Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func hostLabel(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}
