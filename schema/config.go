package schema

import "time"

// Default pin time-to-live values. The two categories intentionally carry
// different lifetimes; both are configuration, not call-site constants.
const (
	// DefaultPinTTL bounds the lifetime of broadcast pins.
	DefaultPinTTL = 5 * time.Minute
	// DefaultDirectPinTTL bounds the lifetime of direct pins.
	DefaultDirectPinTTL = 30 * time.Second
	// DefaultDispatchDepth is the coordinator event queue depth.
	DefaultDispatchDepth = 256
)

// ServiceConfig controls the coordinator service.
type ServiceConfig struct {
	// MeetHost is the conferencing host session ids resolve against.
	MeetHost string
	// AllowedDomain restricts sign-in to one email domain. Empty admits
	// every account.
	AllowedDomain string
	// PinTTL bounds broadcast pin lifetime.
	PinTTL time.Duration
	// DirectPinTTL bounds direct pin lifetime.
	DirectPinTTL time.Duration
	// DispatchDepth is the coordinator event queue depth.
	DispatchDepth int
}
