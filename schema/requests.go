package schema

// Credential carries the material a surface presents to start a sign-in.
// Token is a broker-issued credential; Email/Password/TOTP are used by the
// local provider. Providers ignore fields they do not understand.
type Credential struct {
	Token    string `json:"token,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
	TOTP     string `json:"totp,omitempty"`
}

// AuthStatusRequest asks for the current effective identity.
type AuthStatusRequest struct{}

// AuthStatusResponse carries the current effective identity, or nil.
type AuthStatusResponse struct {
	Identity *Identity `json:"identity"`
}

// SignInRequest starts an interactive credential exchange.
type SignInRequest struct {
	Credential Credential `json:"credential"`
}

// SignInResponse reports whether the exchange was initiated. Completion is
// observed through the auth event fan-out, not through this response.
type SignInResponse struct {
	Started bool `json:"started"`
}

// SignOutRequest terminates the current identity session.
type SignOutRequest struct{}

// SignOutResponse acknowledges a sign-out.
type SignOutResponse struct{}

// CreatePinRequest creates an ephemeral pin in a session.
type CreatePinRequest struct {
	SessionID    SessionID `json:"session_id"`
	Type         PinType   `json:"type"`
	IsDirect     bool      `json:"is_direct,omitempty"`
	TargetUserID UserID    `json:"target_user_id,omitempty"`
}

// CreatePinResponse returns the store-generated pin id.
type CreatePinResponse struct {
	PinID PinID `json:"pin_id"`
}

// RemovePinRequest removes a pin on behalf of the current identity.
type RemovePinRequest struct {
	SessionID SessionID `json:"session_id"`
	PinID     PinID     `json:"pin_id"`
}

// RemovePinResponse acknowledges a removal. Removing an already-absent pin
// succeeds.
type RemovePinResponse struct{}

// ResolveURLRequest resolves a navigable URL to a session id.
type ResolveURLRequest struct {
	URL string `json:"url"`
}

// ResolveURLResponse carries the resolved session id; empty when the URL does
// not name a session.
type ResolveURLResponse struct {
	SessionID SessionID `json:"session_id"`
}

// TrackSessionsRequest reconciles live store subscriptions against the set of
// sessions currently shown by open surfaces.
type TrackSessionsRequest struct {
	Active []SessionID `json:"active"`
}

// TrackSessionsResponse reports the subscriptions started and stopped.
type TrackSessionsResponse struct {
	Started []SessionID `json:"started,omitempty"`
	Stopped []SessionID `json:"stopped,omitempty"`
}
