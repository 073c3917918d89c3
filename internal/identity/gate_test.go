package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pkt.systems/pinwire/schema"
)

type fakeProvider struct {
	mu          sync.Mutex
	connectErr  error
	connectGate chan struct{}
	connects    int
	signOuts    int
	identities  map[string]schema.Identity
	exchangeErr error
}

func (p *fakeProvider) Connect(ctx context.Context) error {
	p.mu.Lock()
	p.connects++
	gate := p.connectGate
	err := p.connectErr
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (p *fakeProvider) connectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects
}

func (p *fakeProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signOuts++
	return nil
}

func (p *fakeProvider) Exchange(ctx context.Context, cred schema.Credential) (schema.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exchangeErr != nil {
		return schema.Identity{}, p.exchangeErr
	}
	identity, ok := p.identities[cred.Email]
	if !ok {
		return schema.Identity{}, errors.New("invalid credentials")
	}
	return identity, nil
}

type notifyLog struct {
	mu      sync.Mutex
	changes []*schema.Identity
}

func (n *notifyLog) listener(identity *schema.Identity) {
	n.mu.Lock()
	n.changes = append(n.changes, identity)
	n.mu.Unlock()
}

func (n *notifyLog) snapshot() []*schema.Identity {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*schema.Identity, len(n.changes))
	copy(out, n.changes)
	return out
}

func alice() schema.Identity {
	return schema.Identity{UID: "u-alice", Email: "alice@allowed.com", DisplayName: "Alice"}
}

func TestGateInitializeRetriesAfterFailure(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{connectErr: errors.New("offline")}
	gate := NewGate(provider, "allowed.com", nil)

	if err := gate.Initialize(ctx); err == nil {
		t.Fatal("expected first initialize to fail")
	}
	provider.mu.Lock()
	provider.connectErr = nil
	provider.mu.Unlock()
	if err := gate.Initialize(ctx); err != nil {
		t.Fatalf("Initialize retry: %v", err)
	}
	if err := gate.Initialize(ctx); err != nil {
		t.Fatalf("Initialize cached: %v", err)
	}
	provider.mu.Lock()
	connects := provider.connects
	provider.mu.Unlock()
	if connects != 2 {
		t.Fatalf("connects = %d, want 2", connects)
	}
}

func TestGateSignInNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{identities: map[string]schema.Identity{
		"alice@allowed.com": alice(),
	}}
	gate := NewGate(provider, "allowed.com", nil)
	var log notifyLog
	gate.Subscribe(log.listener)

	cred := schema.Credential{Email: "alice@allowed.com", Password: "pw"}
	identity, err := gate.SignIn(ctx, cred)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if identity != alice() {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if current := gate.Current(); current == nil || *current != alice() {
		t.Fatalf("unexpected current identity: %+v", current)
	}

	// Same account again: effective identity is unchanged, no notification.
	if _, err := gate.SignIn(ctx, cred); err != nil {
		t.Fatalf("SignIn repeat: %v", err)
	}
	changes := log.snapshot()
	if len(changes) != 1 {
		t.Fatalf("changes = %d, want 1", len(changes))
	}
	if changes[0] == nil || *changes[0] != alice() {
		t.Fatalf("unexpected change payload: %+v", changes[0])
	}
}

func TestGateRejectsDisallowedDomain(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{identities: map[string]schema.Identity{
		"mallory@other.com": {UID: "u-mallory", Email: "mallory@other.com", DisplayName: "Mallory"},
	}}
	gate := NewGate(provider, "allowed.com", nil)
	var log notifyLog
	gate.Subscribe(log.listener)

	_, err := gate.SignIn(ctx, schema.Credential{Email: "mallory@other.com"})
	if !errors.Is(err, schema.ErrDomainRejected) {
		t.Fatalf("err = %v, want ErrDomainRejected", err)
	}
	if gate.Current() != nil {
		t.Fatal("expected no effective identity")
	}
	provider.mu.Lock()
	signOuts := provider.signOuts
	provider.mu.Unlock()
	if signOuts != 1 {
		t.Fatalf("signOuts = %d, want 1", signOuts)
	}
	// Gate was already signed out, so the rejection is not a change.
	if changes := log.snapshot(); len(changes) != 0 {
		t.Fatalf("changes = %d, want 0", len(changes))
	}
}

func TestGateEmptyDomainAdmitsAnyAccount(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{identities: map[string]schema.Identity{
		"mallory@other.com": {UID: "u-mallory", Email: "mallory@other.com", DisplayName: "Mallory"},
	}}
	gate := NewGate(provider, "", nil)
	if _, err := gate.SignIn(ctx, schema.Credential{Email: "mallory@other.com"}); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if gate.Current() == nil {
		t.Fatal("expected effective identity")
	}
}

func TestGateSignOut(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{identities: map[string]schema.Identity{
		"alice@allowed.com": alice(),
	}}
	gate := NewGate(provider, "allowed.com", nil)

	if err := gate.SignOut(ctx); !errors.Is(err, schema.ErrNotInitialized) {
		t.Fatalf("err = %v, want ErrNotInitialized", err)
	}

	var log notifyLog
	gate.Subscribe(log.listener)
	if _, err := gate.SignIn(ctx, schema.Credential{Email: "alice@allowed.com"}); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if err := gate.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if gate.Current() != nil {
		t.Fatal("expected identity cleared")
	}
	changes := log.snapshot()
	if len(changes) != 2 {
		t.Fatalf("changes = %d, want 2", len(changes))
	}
	if changes[1] != nil {
		t.Fatalf("final change = %+v, want nil", changes[1])
	}
	// Signing out again does not fire another notification.
	if err := gate.SignOut(ctx); err != nil {
		t.Fatalf("SignOut repeat: %v", err)
	}
	if changes := log.snapshot(); len(changes) != 2 {
		t.Fatalf("changes = %d, want 2", len(changes))
	}
}

func TestGateInitializeConnectsOnceUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	provider := &fakeProvider{connectGate: release}
	gate := NewGate(provider, "allowed.com", nil)

	results := make(chan error, 2)
	go func() { results <- gate.Initialize(ctx) }()
	go func() { results <- gate.Initialize(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for provider.connectCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no initialize attempt reached the provider")
		}
		time.Sleep(time.Millisecond)
	}
	close(release)

	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			t.Fatalf("initialize: %v", err)
		}
	}
	if got := provider.connectCount(); got != 1 {
		t.Fatalf("connects = %d, want exactly 1", got)
	}
	if err := gate.Initialize(ctx); err != nil {
		t.Fatalf("initialize after success: %v", err)
	}
	if got := provider.connectCount(); got != 1 {
		t.Fatalf("connects after cached success = %d, want 1", got)
	}
}

func TestGateInitializeWaiterAndRetryAfterFailure(t *testing.T) {
	release := make(chan struct{})
	provider := &fakeProvider{connectGate: release, connectErr: errors.New("offline")}
	gate := NewGate(provider, "allowed.com", nil)

	result := make(chan error, 1)
	go func() { result <- gate.Initialize(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for provider.connectCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no initialize attempt reached the provider")
		}
		time.Sleep(time.Millisecond)
	}

	// The attempt is still in flight, so this caller takes the waiting
	// path and honors its own context.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := gate.Initialize(cancelled); !errors.Is(err, context.Canceled) {
		t.Fatalf("waiter with cancelled context: %v", err)
	}
	if got := provider.connectCount(); got != 1 {
		t.Fatalf("connects = %d, want exactly 1", got)
	}

	close(release)
	if err := <-result; err == nil {
		t.Fatal("expected connect failure")
	}

	provider.mu.Lock()
	provider.connectErr = nil
	provider.connectGate = nil
	provider.mu.Unlock()
	if err := gate.Initialize(context.Background()); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if got := provider.connectCount(); got != 2 {
		t.Fatalf("connects after retry = %d, want 2", got)
	}
}
