package core

import "pkt.systems/pinwire/schema"

// EventSink receives pin, auth, and permission events from the core service.
type EventSink interface {
	OnPinEvent(event schema.PinEvent)
	OnAuthEvent(event schema.AuthEvent)
	OnPermissionEvent(event schema.PermissionEvent)
}
