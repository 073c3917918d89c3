package core

import (
	"pkt.systems/pinwire/internal/metrics"
	"pkt.systems/pslog"
)

// ServiceDeps captures dependencies for the core service. Store and Gate are
// required; the rest default to no-ops.
type ServiceDeps struct {
	Store     Store
	Gate      IdentityGate
	EventSink EventSink
	Metrics   metrics.Recorder
	Logger    pslog.Logger
}
