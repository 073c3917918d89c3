package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"pkt.systems/pinwire/internal/logx"
	"pkt.systems/pinwire/internal/metrics"
	"pkt.systems/pinwire/schema"
	"pkt.systems/pslog"
)

// service implements the coordinator behavior: one effective identity, one
// live subscription per session, pins with per-category lifetimes. All
// events reach the sink through a single dispatch queue so fan-out order
// matches store order.
type service struct {
	cfg     schema.ServiceConfig
	store   Store
	gate    IdentityGate
	sink    EventSink
	metrics metrics.Recorder
	logger  pslog.Logger

	mu     sync.Mutex
	subs   map[schema.SessionID]*subscription
	timers map[pinKey]*time.Timer
	closed bool
	wg     sync.WaitGroup

	dispatch chan dispatchEvent
	done     chan struct{}
}

type pinKey struct {
	session schema.SessionID
	pin     schema.PinID
}

type dispatchEvent struct {
	pin        *schema.PinEvent
	auth       *schema.AuthEvent
	permission *schema.PermissionEvent
}

// NewService constructs the core service implementation.
func NewService(cfg schema.ServiceConfig, deps ServiceDeps) (Service, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	cfg = normalized
	if deps.Store == nil {
		return nil, errors.New("missing store")
	}
	if deps.Gate == nil {
		return nil, errors.New("missing identity gate")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	recorder := deps.Metrics
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	s := &service{
		cfg:      cfg,
		store:    deps.Store,
		gate:     deps.Gate,
		sink:     deps.EventSink,
		metrics:  recorder,
		logger:   logger,
		subs:     make(map[schema.SessionID]*subscription),
		timers:   make(map[pinKey]*time.Timer),
		dispatch: make(chan dispatchEvent, cfg.DispatchDepth),
		done:     make(chan struct{}),
	}
	go s.dispatchLoop()
	s.gate.Subscribe(s.onIdentityChange)
	return s, nil
}

func (s *service) dispatchLoop() {
	defer close(s.done)
	for ev := range s.dispatch {
		if s.sink == nil {
			continue
		}
		switch {
		case ev.pin != nil:
			s.sink.OnPinEvent(*ev.pin)
		case ev.auth != nil:
			s.sink.OnAuthEvent(*ev.auth)
		case ev.permission != nil:
			s.sink.OnPermissionEvent(*ev.permission)
		}
	}
}

// enqueue publishes under the mutex so no send can race Close closing the
// queue. A full queue drops the event rather than blocking callers.
func (s *service) enqueue(ev dispatchEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.dispatch <- ev:
	default:
		s.logger.Warn("core dispatch queue full, dropping event")
		s.metrics.RecordStreamDrop()
	}
}

func (s *service) onIdentityChange(identity *schema.Identity) {
	if identity == nil {
		s.metrics.RecordAuthTransition(metrics.AuthSignedOut)
		s.stopAll()
	} else {
		s.metrics.RecordAuthTransition(metrics.AuthSignedIn)
	}
	s.enqueue(dispatchEvent{auth: &schema.AuthEvent{Identity: identity}})
}

func (s *service) AuthStatus(ctx context.Context, req schema.AuthStatusRequest) (schema.AuthStatusResponse, error) {
	if ctx == nil {
		return schema.AuthStatusResponse{}, errors.New("missing context")
	}
	if err := s.gate.Initialize(ctx); err != nil {
		return schema.AuthStatusResponse{}, err
	}
	return schema.AuthStatusResponse{Identity: s.gate.Current()}, nil
}

func (s *service) SignIn(ctx context.Context, req schema.SignInRequest) (schema.SignInResponse, error) {
	if ctx == nil {
		return schema.SignInResponse{}, errors.New("missing context")
	}
	log := pslog.Ctx(ctx)
	identity, err := s.gate.SignIn(ctx, req.Credential)
	if err != nil {
		log.Warn("core sign-in failed", "err", err)
		return schema.SignInResponse{}, err
	}
	logx.WithUser(ctx, identity.UID).Info("core sign-in ok", "email", identity.Email)
	return schema.SignInResponse{Started: true}, nil
}

func (s *service) SignOut(ctx context.Context, req schema.SignOutRequest) (schema.SignOutResponse, error) {
	if ctx == nil {
		return schema.SignOutResponse{}, errors.New("missing context")
	}
	if err := s.gate.SignOut(ctx); err != nil {
		return schema.SignOutResponse{}, err
	}
	pslog.Ctx(ctx).Info("core sign-out ok")
	return schema.SignOutResponse{}, nil
}

func (s *service) ResolveURL(ctx context.Context, req schema.ResolveURLRequest) (schema.ResolveURLResponse, error) {
	if ctx == nil {
		return schema.ResolveURLResponse{}, errors.New("missing context")
	}
	sessionID, ok := schema.ResolveSessionID(req.URL, s.cfg.MeetHost)
	if !ok {
		return schema.ResolveURLResponse{}, nil
	}
	return schema.ResolveURLResponse{SessionID: sessionID}, nil
}

func (s *service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
	}
	for id, sub := range s.subs {
		sub.cancel()
		delete(s.subs, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
	close(s.dispatch)
	<-s.done
	return nil
}

func (s *service) currentIdentity() (schema.Identity, error) {
	identity := s.gate.Current()
	if identity == nil {
		return schema.Identity{}, schema.ErrNotSignedIn
	}
	return *identity, nil
}
