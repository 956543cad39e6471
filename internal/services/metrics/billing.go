// Package metrics exports billing counters to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "timecards"

// Billing holds the collectors touched by the ledger and billing engine.
// A nil *Billing is valid and records nothing.
type Billing struct {
	sessionsStarted  prometheus.Counter
	sessionsClosed   *prometheus.CounterVec
	minutesCharged   prometheus.Counter
	minutesShortfall prometheus.Counter
	cardsCreated     *prometheus.CounterVec
	cardsActivated   *prometheus.CounterVec
	cardsExpired     prometheus.Counter
	webhookEvents    *prometheus.CounterVec
	sweepDuration    *prometheus.HistogramVec
}

func NewBilling(namespace string, reg prometheus.Registerer) (*Billing, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	b := &Billing{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Billing sessions opened.",
		}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Billing session close attempts by outcome.",
		}, []string{"outcome"}),
		minutesCharged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "minutes_charged_total",
			Help:      "Minutes deducted from time cards.",
		}),
		minutesShortfall: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "minutes_shortfall_total",
			Help:      "Billed minutes no card could cover.",
		}),
		cardsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cards_created_total",
			Help:      "Time card creation calls by outcome.",
		}, []string{"outcome"}),
		cardsActivated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "card_activations_total",
			Help:      "Activation attempts by outcome.",
		}, []string{"outcome"}),
		cardsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cards_expired_total",
			Help:      "Cards flipped to expired by the sweep.",
		}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Webhook deliveries by source, event type and result.",
		}, []string{"source", "event", "result"}),
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of scheduled sweeps.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sweep"}),
	}

	var err error
	if b.sessionsStarted, err = register(reg, b.sessionsStarted); err != nil {
		return nil, err
	}
	if b.sessionsClosed, err = register(reg, b.sessionsClosed); err != nil {
		return nil, err
	}
	if b.minutesCharged, err = register(reg, b.minutesCharged); err != nil {
		return nil, err
	}
	if b.minutesShortfall, err = register(reg, b.minutesShortfall); err != nil {
		return nil, err
	}
	if b.cardsCreated, err = register(reg, b.cardsCreated); err != nil {
		return nil, err
	}
	if b.cardsActivated, err = register(reg, b.cardsActivated); err != nil {
		return nil, err
	}
	if b.cardsExpired, err = register(reg, b.cardsExpired); err != nil {
		return nil, err
	}
	if b.webhookEvents, err = register(reg, b.webhookEvents); err != nil {
		return nil, err
	}
	if b.sweepDuration, err = register(reg, b.sweepDuration); err != nil {
		return nil, err
	}
	return b, nil
}

// register returns the already registered collector when a second Billing
// is built against the same registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register billing collector: %w", err)
	}
	return c, nil
}

func (b *Billing) SessionStarted() {
	if b == nil {
		return
	}
	b.sessionsStarted.Inc()
}

// SessionClosed records a close attempt and the minutes it moved.
func (b *Billing) SessionClosed(outcome string, charged, shortfall int) {
	if b == nil {
		return
	}
	b.sessionsClosed.WithLabelValues(outcome).Inc()
	if charged > 0 {
		b.minutesCharged.Add(float64(charged))
	}
	if shortfall > 0 {
		b.minutesShortfall.Add(float64(shortfall))
	}
}

func (b *Billing) CardCreated(outcome string) {
	if b == nil {
		return
	}
	b.cardsCreated.WithLabelValues(outcome).Inc()
}

func (b *Billing) CardActivation(outcome string) {
	if b == nil {
		return
	}
	b.cardsActivated.WithLabelValues(outcome).Inc()
}

func (b *Billing) CardsExpired(n int64) {
	if b == nil || n <= 0 {
		return
	}
	b.cardsExpired.Add(float64(n))
}

func (b *Billing) WebhookEvent(source, event, result string) {
	if b == nil {
		return
	}
	b.webhookEvents.WithLabelValues(source, event, result).Inc()
}

func (b *Billing) ObserveSweep(name string, d time.Duration) {
	if b == nil {
		return
	}
	b.sweepDuration.WithLabelValues(name).Observe(d.Seconds())
}
