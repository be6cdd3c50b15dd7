// Package metrics holds the Prometheus collectors for reminder runs and the responder.
package metrics

import (
	"context"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	OutcomeSent   = "sent"
	OutcomeFailed = "failed"
)

// Metrics owns a private registry so tests and separate runs never share state.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	// Deliveries counts reminder send attempts by outcome (sent/failed).
	Deliveries *prometheus.CounterVec
	// RecipientsSkipped counts malformed CHAT_IDS tokens.
	RecipientsSkipped prometheus.Counter
	// RunDuration observes whole fan-out runs in seconds.
	RunDuration prometheus.Histogram
	// Commands counts handled responder commands by name.
	Commands *prometheus.CounterVec
	// UpdatesDropped counts inbound updates dropped because the responder lagged.
	UpdatesDropped prometheus.Counter
}

// New registers every collector. withRuntime adds the Go and process collectors,
// which only make sense for the long-running process.
func New(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	m := &Metrics{
		reg: reg,
		Deliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reminder_deliveries_total",
				Help: "Reminder send attempts by outcome",
			},
			[]string{"outcome"},
		),
		RecipientsSkipped: f.NewCounter(
			prometheus.CounterOpts{
				Name: "reminder_recipients_skipped_total",
				Help: "Recipient tokens skipped because they were not numeric",
			},
		),
		RunDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "reminder_run_duration_seconds",
				Help:    "Duration of a full reminder fan-out",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		Commands: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "responder_commands_total",
				Help: "Handled bot commands by command",
			},
			[]string{"command"},
		),
		UpdatesDropped: f.NewCounter(
			prometheus.CounterOpts{
				Name: "responder_updates_dropped_total",
				Help: "Inbound updates dropped because the responder queue was full",
			},
		),
	}
	// Pre-create label values so they export as 0 before the first event.
	m.Deliveries.WithLabelValues(OutcomeSent)
	m.Deliveries.WithLabelValues(OutcomeFailed)

	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Delivery(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.Deliveries.WithLabelValues(OutcomeSent).Inc()
		return
	}
	m.Deliveries.WithLabelValues(OutcomeFailed).Inc()
}

func (m *Metrics) Skipped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecipientsSkipped.Add(float64(n))
}

func (m *Metrics) ObserveRun(seconds float64) {
	if m == nil {
		return
	}
	m.RunDuration.Observe(seconds)
}

func (m *Metrics) Command(name string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(strings.ToLower(name)).Inc()
}

func (m *Metrics) UpdateDropped() {
	if m == nil {
		return
	}
	m.UpdatesDropped.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Push sends the reminder collectors to a Pushgateway, replacing the job's group.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if m == nil || strings.TrimSpace(url) == "" {
		return nil
	}
	if strings.TrimSpace(job) == "" {
		job = "reminderbot"
	}
	return push.New(url, job).
		Collector(m.Deliveries).
		Collector(m.RecipientsSkipped).
		Collector(m.RunDuration).
		PushContext(ctx)
}
