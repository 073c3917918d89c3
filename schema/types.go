package schema

import "time"

// UserID identifies a signed-in account in the backing store.
type UserID string

// SessionID identifies one conferencing session, derived from the page URL.
type SessionID string

// PinID identifies a pin within a session. The store assigns it.
type PinID string

// PinType is one of the fixed signal kinds a pin can carry.
type PinType string

const (
	// PinQuestion signals "I have a question".
	PinQuestion PinType = "question"
	// PinHand signals a raised hand.
	PinHand PinType = "hand"
	// PinBreak signals a break request.
	PinBreak PinType = "break"
	// PinCoffee signals a coffee/pause ping.
	PinCoffee PinType = "coffee"
	// PinDirect signals a ping aimed at a single participant.
	PinDirect PinType = "direct"
)

// Identity is the effective signed-in identity after allow-list filtering.
// It is an immutable snapshot; the identity gate replaces it wholesale.
type Identity struct {
	UID         UserID `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// Pin is an ephemeral shared signal record scoped to a session.
type Pin struct {
	ID           PinID     `json:"id"`
	Type         PinType   `json:"type"`
	CreatedBy    Identity  `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	IsDirect     bool      `json:"is_direct"`
	TargetUserID UserID    `json:"target_user_id,omitempty"`
}

// ValidatePinType reports whether the type is one of the fixed signal kinds.
func ValidatePinType(t PinType) error {
	switch t {
	case PinQuestion, PinHand, PinBreak, PinCoffee, PinDirect:
		return nil
	default:
		return ErrInvalidPinType
	}
}
