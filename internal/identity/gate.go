package identity

import (
	"context"
	"sync"

	"pkt.systems/pinwire/schema"
	"pkt.systems/pslog"
)

// Listener receives the effective identity after it changes. A nil
// identity means signed out.
type Listener func(identity *schema.Identity)

// Gate wraps a Provider with the account domain policy and change
// notification. All methods are safe for concurrent use.
type Gate struct {
	provider      Provider
	allowedDomain string
	log           pslog.Logger

	mu          sync.Mutex
	initialized bool
	connecting  chan struct{}
	connectErr  error
	current     *schema.Identity
	listeners   []Listener
}

// NewGate builds a gate enforcing the given email domain. An empty domain
// admits every account the provider verifies.
func NewGate(provider Provider, allowedDomain string, logger pslog.Logger) *Gate {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if allowedDomain == "" {
		logger.Warn("identity gate has no allowed domain, admitting every account")
	}
	return &Gate{
		provider:      provider,
		allowedDomain: allowedDomain,
		log:           logger,
	}
}

// Initialize connects the provider exactly once. Callers arriving while an
// attempt is in flight wait for it and share its result. Success is cached;
// a failure leaves the gate uninitialized so a later call retries.
func (g *Gate) Initialize(ctx context.Context) error {
	g.mu.Lock()
	if g.initialized {
		g.mu.Unlock()
		return nil
	}
	if g.connecting != nil {
		done := g.connecting
		g.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.initialized {
			return nil
		}
		return g.connectErr
	}
	done := make(chan struct{})
	g.connecting = done
	g.mu.Unlock()

	err := g.provider.Connect(ctx)

	g.mu.Lock()
	g.connecting = nil
	g.connectErr = err
	if err == nil {
		g.initialized = true
	}
	g.mu.Unlock()
	close(done)

	if err != nil {
		g.log.Warn("identity provider connect failed", "err", err)
		return err
	}
	g.log.Debug("identity gate initialized")
	return nil
}

// SignIn exchanges the credential and, when the account passes the domain
// policy, installs it as the effective identity.
func (g *Gate) SignIn(ctx context.Context, cred schema.Credential) (schema.Identity, error) {
	if err := g.Initialize(ctx); err != nil {
		return schema.Identity{}, err
	}
	identity, err := g.provider.Exchange(ctx, cred)
	if err != nil {
		return schema.Identity{}, err
	}
	if !schema.MatchesDomain(identity.Email, g.allowedDomain) {
		g.log.Warn("identity rejected by domain policy",
			"email", identity.Email, "allowed_domain", g.allowedDomain)
		if err := g.provider.SignOut(ctx); err != nil {
			g.log.Warn("identity provider sign-out failed", "err", err)
		}
		g.setIdentity(nil)
		return schema.Identity{}, schema.ErrDomainRejected
	}
	g.setIdentity(&identity)
	return identity, nil
}

// SignOut clears the effective identity.
func (g *Gate) SignOut(ctx context.Context) error {
	g.mu.Lock()
	initialized := g.initialized
	g.mu.Unlock()
	if !initialized {
		return schema.ErrNotInitialized
	}
	if err := g.provider.SignOut(ctx); err != nil {
		g.log.Warn("identity provider sign-out failed", "err", err)
	}
	g.setIdentity(nil)
	return nil
}

// Current returns a copy of the effective identity, or nil when signed out.
func (g *Gate) Current() *schema.Identity {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return nil
	}
	identity := *g.current
	return &identity
}

// Subscribe registers a listener for identity changes. Listeners run on the
// goroutine that caused the change and only when the effective identity
// actually differs from the previous one.
func (g *Gate) Subscribe(listener func(identity *schema.Identity)) {
	g.mu.Lock()
	g.listeners = append(g.listeners, listener)
	g.mu.Unlock()
}

func (g *Gate) setIdentity(identity *schema.Identity) {
	g.mu.Lock()
	if identitiesEqual(g.current, identity) {
		g.mu.Unlock()
		return
	}
	g.current = identity
	listeners := make([]Listener, len(g.listeners))
	copy(listeners, g.listeners)
	g.mu.Unlock()

	if identity == nil {
		g.log.Info("identity cleared")
	} else {
		g.log.Info("identity changed", "user", identity.UID, "email", identity.Email)
	}
	for _, listener := range listeners {
		var snapshot *schema.Identity
		if identity != nil {
			clone := *identity
			snapshot = &clone
		}
		listener(snapshot)
	}
}

func identitiesEqual(a, b *schema.Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
