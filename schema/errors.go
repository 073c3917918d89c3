package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotInitialized indicates the identity backend is not connected.
	ErrNotInitialized = errors.New("identity backend not initialized")
	// ErrNotSignedIn indicates an operation that requires an identity.
	ErrNotSignedIn = errors.New("not signed in")
	// ErrDomainRejected indicates the account email fails the allow-list.
	ErrDomainRejected = errors.New("not an allowed account")
	// ErrInvalidSession indicates an invalid session identifier.
	ErrInvalidSession = errors.New("invalid session id")
	// ErrInvalidPinType indicates an unknown pin type.
	ErrInvalidPinType = errors.New("invalid pin type")
	// ErrPinNotFound indicates a pin could not be found.
	ErrPinNotFound = errors.New("pin not found")
	// ErrForbidden indicates a delete attempted by a non-owner.
	ErrForbidden = errors.New("pin belongs to another user")
	// ErrPermissionDenied indicates the store rejected a subscription or write.
	ErrPermissionDenied = errors.New("store permission denied")
)
