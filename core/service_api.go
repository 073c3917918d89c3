package core

import (
	"context"

	"pkt.systems/pinwire/schema"
)

// Service is the transport-agnostic API for identity, pins, and session
// subscriptions.
type Service interface {
	AuthStatus(ctx context.Context, req schema.AuthStatusRequest) (schema.AuthStatusResponse, error)
	SignIn(ctx context.Context, req schema.SignInRequest) (schema.SignInResponse, error)
	SignOut(ctx context.Context, req schema.SignOutRequest) (schema.SignOutResponse, error)
	CreatePin(ctx context.Context, req schema.CreatePinRequest) (schema.CreatePinResponse, error)
	RemovePin(ctx context.Context, req schema.RemovePinRequest) (schema.RemovePinResponse, error)
	ResolveURL(ctx context.Context, req schema.ResolveURLRequest) (schema.ResolveURLResponse, error)
	TrackSessions(ctx context.Context, req schema.TrackSessionsRequest) (schema.TrackSessionsResponse, error)
	Close() error
}

// IdentityGate is the part of the identity layer the service depends on.
type IdentityGate interface {
	Initialize(ctx context.Context) error
	SignIn(ctx context.Context, cred schema.Credential) (schema.Identity, error)
	SignOut(ctx context.Context) error
	Current() *schema.Identity
	Subscribe(listener func(identity *schema.Identity))
}
