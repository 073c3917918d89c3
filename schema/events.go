package schema

// PinEventKind distinguishes the two store change feed kinds.
type PinEventKind string

const (
	// PinAdded indicates a pin appeared in the session.
	PinAdded PinEventKind = "added"
	// PinRemoved indicates a pin was removed from the session.
	PinRemoved PinEventKind = "removed"
)

// PinEvent is a store change delivered to surfaces showing the session.
type PinEvent struct {
	SessionID SessionID    `json:"session_id"`
	Kind      PinEventKind `json:"kind"`
	PinID     PinID        `json:"pin_id"`
	Pin       Pin          `json:"pin,omitempty"`
}

// AuthEvent reports an effective identity transition. Identity is nil after
// sign-out, domain rejection, or a provider error.
type AuthEvent struct {
	Identity *Identity `json:"identity"`
}

// PermissionEvent reports that the store rejected a session subscription.
type PermissionEvent struct {
	SessionID SessionID `json:"session_id"`
}
