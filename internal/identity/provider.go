// Package identity decides who the coordinator is acting as. A Provider
// verifies credentials; the Gate owns the effective identity, applies the
// account domain policy, and tells listeners when the answer changes.
package identity

import (
	"context"

	"pkt.systems/pinwire/schema"
)

// Provider exchanges credentials for a verified identity.
type Provider interface {
	// Connect prepares the provider. It is called by Gate.Initialize and
	// may be called again after a failure.
	Connect(ctx context.Context) error
	// Exchange verifies the credential and returns the identity it proves.
	Exchange(ctx context.Context, cred schema.Credential) (schema.Identity, error)
	// SignOut discards any provider-side session state.
	SignOut(ctx context.Context) error
}
