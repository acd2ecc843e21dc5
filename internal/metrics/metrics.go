// Package metrics owns herald's Prometheus instrumentation on a private
// registry.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"herald/internal/eventbus"
)

// Outcome label values for herald_announcements_total.
const (
	OutcomeSent      = "sent"
	OutcomeFailed    = "failed"
	OutcomePartial   = "partial"
	OutcomeScheduled = "scheduled"
	OutcomeCanceled  = "canceled"
	OutcomeRejected  = "rejected"
	OutcomeStale     = "stale"
)

var outcomeByEvent = map[string]string{
	eventbus.AnnouncementSent:      OutcomeSent,
	eventbus.AnnouncementFailed:    OutcomeFailed,
	eventbus.AnnouncementPartial:   OutcomePartial,
	eventbus.AnnouncementScheduled: OutcomeScheduled,
	eventbus.AnnouncementCanceled:  OutcomeCanceled,
	eventbus.AnnouncementRejected:  OutcomeRejected,
	eventbus.AnnouncementStale:     OutcomeStale,
}

type Service struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	announcements   *prometheus.CounterVec
}

// New registers the collectors. pending reports the number of armed timers
// and may be nil.
func New(pending func() int) *Service {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "herald_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "herald_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	announcements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "herald_announcements_total",
		Help: "Announcement lifecycle outcomes",
	}, []string{"outcome"})

	if pending == nil {
		pending = func() int { return 0 }
	}
	scheduled := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "herald_scheduled_pending",
		Help: "Scheduled announcements with an armed timer",
	}, func() float64 { return float64(pending()) })

	registry.MustRegister(
		requestDuration, requestTotal, announcements, scheduled,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Service{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		announcements:   announcements,
	}
}

func (m *Service) Registry() *prometheus.Registry { return m.registry }

// Handler exposes the Prometheus HTTP handler.
func (m *Service) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

func (m *Service) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// CountOutcome increments herald_announcements_total for one outcome.
func (m *Service) CountOutcome(outcome string) {
	if m == nil || outcome == "" {
		return
	}
	m.announcements.WithLabelValues(outcome).Inc()
}

// Consume counts announcement events from bus until ctx is done.
func (m *Service) Consume(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(e.Type, "announcement.") {
				continue
			}
			m.CountOutcome(outcomeByEvent[e.Type])
		}
	}
}
