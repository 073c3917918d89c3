// Package metrics collects and exposes Prometheus metrics for the
// coordinator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the service and transport layers record against.
type Recorder interface {
	RecordPinCreated(pinType string)
	RecordPinRemoved(reason string)
	RecordPermissionError()
	RecordAuthTransition(state string)
	RecordStreamDrop()
	SetActiveSubscriptions(count int)
	SetConnectedSurfaces(count int)
}

// Removal reasons for RecordPinRemoved.
const (
	RemovalExplicit = "removed"
	RemovalExpired  = "expired"
)

// Auth states for RecordAuthTransition.
const (
	AuthSignedIn  = "signed_in"
	AuthSignedOut = "signed_out"
)

// Collector implements Recorder on a Prometheus registry.
type Collector struct {
	pinsCreated         *prometheus.CounterVec
	pinsRemoved         *prometheus.CounterVec
	permissionErrors    prometheus.Counter
	authTransitions     *prometheus.CounterVec
	streamDrops         prometheus.Counter
	activeSubscriptions prometheus.Gauge
	connectedSurfaces   prometheus.Gauge
}

// NewCollector registers the coordinator metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		pinsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pinwire_pins_created_total",
			Help: "Pins created, by pin type.",
		}, []string{"type"}),
		pinsRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pinwire_pins_removed_total",
			Help: "Pins removed, by reason.",
		}, []string{"reason"}),
		permissionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pinwire_permission_errors_total",
			Help: "Store operations rejected for lack of permission.",
		}),
		authTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pinwire_auth_transitions_total",
			Help: "Effective identity transitions, by resulting state.",
		}, []string{"state"}),
		streamDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pinwire_stream_drops_total",
			Help: "Events dropped because a surface stream was full.",
		}),
		activeSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pinwire_active_subscriptions",
			Help: "Sessions with an active store subscription.",
		}),
		connectedSurfaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pinwire_connected_surfaces",
			Help: "Surfaces connected to the event stream.",
		}),
	}
	reg.MustRegister(
		c.pinsCreated,
		c.pinsRemoved,
		c.permissionErrors,
		c.authTransitions,
		c.streamDrops,
		c.activeSubscriptions,
		c.connectedSurfaces,
	)
	return c
}

func (c *Collector) RecordPinCreated(pinType string) {
	c.pinsCreated.WithLabelValues(pinType).Inc()
}

func (c *Collector) RecordPinRemoved(reason string) {
	c.pinsRemoved.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordPermissionError() {
	c.permissionErrors.Inc()
}

func (c *Collector) RecordAuthTransition(state string) {
	c.authTransitions.WithLabelValues(state).Inc()
}

func (c *Collector) RecordStreamDrop() {
	c.streamDrops.Inc()
}

func (c *Collector) SetActiveSubscriptions(count int) {
	c.activeSubscriptions.Set(float64(count))
}

func (c *Collector) SetConnectedSurfaces(count int) {
	c.connectedSurfaces.Set(float64(count))
}

// Handler returns the scrape handler for the gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop is a Recorder that records nothing.
type Nop struct{}

func (Nop) RecordPinCreated(string)    {}
func (Nop) RecordPinRemoved(string)    {}
func (Nop) RecordPermissionError()     {}
func (Nop) RecordAuthTransition(string) {}
func (Nop) RecordStreamDrop()          {}
func (Nop) SetActiveSubscriptions(int) {}
func (Nop) SetConnectedSurfaces(int)   {}
