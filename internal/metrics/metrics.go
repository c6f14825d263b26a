// Package metrics exposes daemon health counters over Prometheus. The
// collector observes the bus rather than the components themselves, so no
// package has to know it is being measured.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chatchick/chatd/internal/bus"
	"github.com/chatchick/chatd/internal/status"
)

// Collector aggregates bus traffic into Prometheus series.
type Collector struct {
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc

	registry *prometheus.Registry

	eventsReceived prometheus.Counter
	reconnects     prometheus.Counter
	sends          *prometheus.CounterVec
	state          *prometheus.GaugeVec

	everConnected bool
}

func NewCollector(b *bus.Bus, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		bus:      b,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		eventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatd_events_received_total",
			Help: "Server events received over the socket.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatd_reconnects_total",
			Help: "Successful connections after the first.",
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatd_sends_total",
			Help: "Outbound sends by outcome.",
		}, []string{"outcome"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatd_connection_state",
			Help: "Current connection state (1 for the active state).",
		}, []string{"state"}),
	}
	c.registry.MustRegister(c.eventsReceived, c.reconnects, c.sends, c.state)
	c.setState(status.Disconnected)
	return c
}

// Handler serves the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Start begins consuming bus events.
func (c *Collector) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	events, unsubscribe := c.bus.Subscribe("", 256)
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				c.observe(evt)
			}
		}
	}()
}

// Stop halts consumption.
func (c *Collector) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

var sendOutcomes = map[string]string{
	"send.queued":    "queued",
	"send.confirmed": "confirmed",
	"send.rejected":  "rejected",
	"send.failed":    "failed",
}

func (c *Collector) observe(evt bus.Event) {
	switch {
	case evt.Kind == "socket.event":
		c.eventsReceived.Inc()
	case evt.Kind == "socket.connected":
		if c.everConnected {
			c.reconnects.Inc()
		}
		c.everConnected = true
	case evt.Kind == "session.state_changed":
		change, ok := evt.Payload.(status.Change)
		if !ok {
			return
		}
		c.setState(change.To)
	default:
		if outcome, ok := sendOutcomes[evt.Kind]; ok {
			c.sends.WithLabelValues(outcome).Inc()
		}
	}
}

var allStates = []status.State{
	status.Disconnected,
	status.Connecting,
	status.Connected,
	status.Reconnecting,
	status.Failed,
}

func (c *Collector) setState(active status.State) {
	for _, s := range allStates {
		v := 0.0
		if s == active {
			v = 1.0
		}
		c.state.WithLabelValues(string(s)).Set(v)
	}
}
