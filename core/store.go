package core

import (
	"context"

	"pkt.systems/pinwire/schema"
)

// StoreEventKind distinguishes store change feed entries.
type StoreEventKind string

const (
	// StoreAdded reports a pin write.
	StoreAdded StoreEventKind = "added"
	// StoreRemoved reports a pin removal.
	StoreRemoved StoreEventKind = "removed"
	// StorePermissionDenied reports that the store revoked access to the
	// watched session. The feed ends after this event.
	StorePermissionDenied StoreEventKind = "permission_denied"
)

// StoreEvent is one entry of a session change feed. Pin is populated for
// StoreAdded; Err is populated for StorePermissionDenied.
type StoreEvent struct {
	Kind      StoreEventKind
	SessionID schema.SessionID
	PinID     schema.PinID
	Pin       schema.Pin
	Err       error
}

// Store is a shared pin store with realtime change feeds. Implementations
// assign pin ids and creation timestamps on the server side.
type Store interface {
	// CreatePin writes the pin under the session and returns it with its
	// store-generated id and server-assigned timestamp.
	CreatePin(ctx context.Context, sessionID schema.SessionID, pin schema.Pin) (schema.Pin, error)
	// GetPin returns the stored pin or schema.ErrPinNotFound.
	GetPin(ctx context.Context, sessionID schema.SessionID, pinID schema.PinID) (schema.Pin, error)
	// DeletePin removes the pin. Deleting an absent pin succeeds.
	DeletePin(ctx context.Context, sessionID schema.SessionID, pinID schema.PinID) error
	// Watch opens a change feed for the session, delivering events in store
	// order until ctx is canceled. The channel is closed when the feed ends.
	Watch(ctx context.Context, sessionID schema.SessionID) (<-chan StoreEvent, error)
	// Close releases the store.
	Close() error
}
