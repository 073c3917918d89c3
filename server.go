// Package pinwire composes the coordinator daemon: the pin service, the
// identity gate, the shared store, and the HTTP surface API.
package pinwire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pkt.systems/pinwire/core"
	"pkt.systems/pinwire/httpapi"
	"pkt.systems/pinwire/internal/appconfig"
	"pkt.systems/pinwire/internal/auth"
	"pkt.systems/pinwire/internal/identity"
	"pkt.systems/pinwire/internal/memstore"
	"pkt.systems/pinwire/internal/metrics"
	"pkt.systems/pinwire/internal/pgstore"
	"pkt.systems/pinwire/internal/prefs"
	"pkt.systems/pinwire/schema"
	"pkt.systems/pslog"
)

// Server is the coordinator's lifecycle handle.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Service        schema.ServiceConfig
	HTTP           httpapi.Config
	Auth           AuthConfig
	Store          StoreConfig
	PrefsFile      string
	HubHistory     int
	DisableMetrics bool
}

// AuthConfig selects and configures the identity provider.
type AuthConfig struct {
	// Provider is "local" or "token".
	Provider    string
	TokenSecret string
	TokenIssuer string
	UserFile    string
	RequireTOTP bool
	SeedUsers   []appconfig.SeedUser
}

// StoreConfig selects the shared store engine.
type StoreConfig struct {
	// Engine is "memory" or "postgres".
	Engine      string
	DatabaseURL string
}

// ServerDeps overrides components the compositor would otherwise build from
// config. Nil fields are constructed.
type ServerDeps struct {
	Store     core.Store
	Gate      core.IdentityGate
	EventSink core.EventSink
	Logger    pslog.Logger
}

// ServerConfigFromApp maps a loaded application config onto the compositor
// config.
func ServerConfigFromApp(cfg appconfig.Config) ServerConfig {
	return ServerConfig{
		Service: schema.ServiceConfig{
			MeetHost:      cfg.Meet.Host,
			AllowedDomain: cfg.Auth.AllowedDomain,
			PinTTL:        time.Duration(cfg.Pins.TTLSeconds) * time.Second,
			DirectPinTTL:  time.Duration(cfg.Pins.DirectTTLSeconds) * time.Second,
		},
		HTTP: httpapi.Config{
			Addr:               cfg.HTTP.Addr,
			SessionCookie:      cfg.HTTP.SessionCookie,
			SessionTTLHours:    cfg.HTTP.SessionTTLHours,
			SessionFile:        cfg.HTTP.SessionFile,
			BaseURL:            cfg.HTTP.BaseURL,
			BasePath:           cfg.HTTP.BasePath,
			LoginRatePerMinute: cfg.HTTP.LoginRatePerMinute,
			DisableRequestLogs: cfg.Logging.DisableRequestLogs,
		},
		Auth: AuthConfig{
			Provider:    cfg.Auth.Provider,
			TokenSecret: cfg.Auth.TokenSecret,
			TokenIssuer: cfg.Auth.TokenIssuer,
			UserFile:    cfg.Auth.UserFile,
			RequireTOTP: cfg.Auth.RequireTOTP,
			SeedUsers:   cfg.Auth.SeedUsers,
		},
		Store: StoreConfig{
			Engine:      cfg.Store.Engine,
			DatabaseURL: cfg.Store.DatabaseURL,
		},
		PrefsFile: cfg.Prefs.File,
	}
}

// New builds the coordinator from config, wiring the store, the identity
// gate, the event fan-out, and the HTTP API together.
func New(cfg ServerConfig, deps ServerDeps) (Server, error) {
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}

	normalized, err := schema.NormalizeServiceConfig(cfg.Service)
	if err != nil {
		return nil, err
	}
	cfg.Service = normalized

	var recorder metrics.Recorder = metrics.Nop{}
	var gatherer prometheus.Gatherer
	if !cfg.DisableMetrics {
		registry := prometheus.NewRegistry()
		recorder = metrics.NewCollector(registry)
		gatherer = registry
	}

	store := deps.Store
	if store == nil {
		store, err = buildStore(cfg.Store, logger)
		if err != nil {
			return nil, err
		}
	}

	gate := deps.Gate
	if gate == nil {
		gate, err = buildGate(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	hub := httpapi.NewHub(cfg.HubHistory, recorder, logger)
	sink := core.EventSink(hub)
	if deps.EventSink != nil {
		sink = eventFanout{sinks: []core.EventSink{hub, deps.EventSink}}
	}

	service, err := core.NewService(cfg.Service, core.ServiceDeps{
		Store:     store,
		Gate:      gate,
		EventSink: sink,
		Metrics:   recorder,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	hub.SetReconcile(func(active []schema.SessionID) {
		_, err := service.TrackSessions(context.Background(), schema.TrackSessionsRequest{Active: active})
		if err != nil && !errors.Is(err, schema.ErrNotSignedIn) {
			logger.Warn("session reconcile failed", "err", err)
		}
	})

	prefsStore, err := prefs.NewStore(cfg.PrefsFile, logger)
	if err != nil {
		_ = service.Close()
		return nil, err
	}

	httpSrv := httpapi.NewServer(cfg.HTTP, service, hub, prefsStore, gatherer)

	return &compositeServer{
		cfg:     cfg,
		service: service,
		store:   store,
		httpSrv: httpSrv,
	}, nil
}

func buildStore(cfg StoreConfig, logger pslog.Logger) (core.Store, error) {
	switch cfg.Engine {
	case "", "memory":
		return memstore.New(logger), nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("postgres store requires a database url")
		}
		return pgstore.New(cfg.DatabaseURL, logger)
	default:
		return nil, fmt.Errorf("unsupported store engine %q", cfg.Engine)
	}
}

func buildGate(cfg ServerConfig, logger pslog.Logger) (core.IdentityGate, error) {
	var provider identity.Provider
	switch cfg.Auth.Provider {
	case "", "local":
		users, err := auth.NewStoreWithLogger(cfg.Auth.UserFile, cfg.Auth.SeedUsers, logger)
		if err != nil {
			return nil, err
		}
		users.SetRequireTOTP(cfg.Auth.RequireTOTP)
		provider = identity.NewLocalProvider(users)
	case "token":
		tokens, err := identity.NewTokenProvider(cfg.Auth.TokenSecret, cfg.Auth.TokenIssuer)
		if err != nil {
			return nil, err
		}
		provider = tokens
	default:
		return nil, fmt.Errorf("unsupported identity provider %q", cfg.Auth.Provider)
	}
	return identity.NewGate(provider, cfg.Service.AllowedDomain, logger), nil
}

type compositeServer struct {
	cfg     ServerConfig
	service core.Service
	store   core.Store
	httpSrv *httpapi.Server

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	logger  pslog.Logger
	started bool
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 1)
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"http_addr", s.cfg.HTTP.Addr,
		"http_base_url", s.cfg.HTTP.BaseURL,
		"http_base_path", s.cfg.HTTP.BasePath,
		"store", s.cfg.Store.Engine,
		"meet_host", s.cfg.Service.MeetHost,
	)
	go func() {
		if err := httpapi.ListenAndServe(s.ctx, s.cfg.HTTP.Addr, s.httpSrv.Handler()); err != nil {
			log.Error("http server failed", "err", err)
			s.errCh <- err
		}
	}()
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	log := s.logger
	s.started = false
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	if cancel != nil {
		cancel()
	}
	if err := s.service.Close(); err != nil {
		log.Warn("server service close failed", "err", err)
	}
	if err := s.store.Close(); err != nil {
		log.Warn("server store close failed", "err", err)
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	log.Info("server stop completed")
	return nil
}
