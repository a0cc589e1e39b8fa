package server

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/heavenideas/dojo-server-go/internal/room"
)

// Metrics holds the relay's prometheus collectors.
type Metrics struct {
	Publishes   *prometheus.CounterVec
	Subscribers *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them on reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Publishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dojo_room_publishes_total",
				Help: "Room publishes by transport and result",
			},
			[]string{"transport", "result"},
		),
		Subscribers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dojo_room_subscribers",
				Help: "Open room subscriptions by transport",
			},
			[]string{"transport"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Publishes, m.Subscribers)
	}
	return m
}

func (m *Metrics) observePublish(transport string, err error) {
	if m == nil {
		return
	}
	m.Publishes.WithLabelValues(transport, publishResult(err)).Inc()
}

func (m *Metrics) subscribed(transport string, delta float64) {
	if m == nil {
		return
	}
	m.Subscribers.WithLabelValues(transport).Add(delta)
}

func publishResult(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, room.ErrStale):
		return "stale"
	default:
		return "error"
	}
}
