package identity

import (
	"context"

	"pkt.systems/pinwire/internal/auth"
	"pkt.systems/pinwire/schema"
)

// LocalProvider verifies credentials against the file-backed user store.
type LocalProvider struct {
	store *auth.Store
}

// NewLocalProvider wraps the given store.
func NewLocalProvider(store *auth.Store) *LocalProvider {
	return &LocalProvider{store: store}
}

// Connect implements Provider. The store is loaded at construction.
func (p *LocalProvider) Connect(ctx context.Context) error { return nil }

// SignOut implements Provider. The store keeps no session state.
func (p *LocalProvider) SignOut(ctx context.Context) error { return nil }

// Exchange verifies email, password, and TOTP against the store.
func (p *LocalProvider) Exchange(ctx context.Context, cred schema.Credential) (schema.Identity, error) {
	user, err := p.store.Authenticate(cred.Email, cred.Password, cred.TOTP)
	if err != nil {
		return schema.Identity{}, err
	}
	return user.Identity(), nil
}
