package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pkt.systems/pinwire/core"
	"pkt.systems/pinwire/internal/logx"
	"pkt.systems/pinwire/internal/metrics"
	"pkt.systems/pinwire/internal/prefs"
	"pkt.systems/pinwire/schema"
)

// Server serves the surface HTTP API: intents in, SSE fan-out.
type Server struct {
	cfg      Config
	service  core.Service
	hub      *Hub
	prefs    *prefs.Store
	gatherer prometheus.Gatherer
	sessions *sessionStore
	limiter  *loginLimiter
	basePath string
	baseHref string
}

// NewServer constructs an HTTP server.
func NewServer(cfg Config, service core.Service, hub *Hub, prefsStore *prefs.Store, gatherer prometheus.Gatherer) *Server {
	ttl := time.Duration(cfg.SessionTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 720 * time.Hour
	}
	return &Server{
		cfg:      cfg,
		service:  service,
		hub:      hub,
		prefs:    prefsStore,
		gatherer: gatherer,
		sessions: newSessionStore(ttl, cfg.SessionFile),
		limiter:  newLoginLimiter(cfg.LoginRatePerMinute),
		basePath: normalizeBasePath(cfg.BasePath),
		baseHref: buildBaseHref(cfg.BaseURL, cfg.BasePath),
	}
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/logout", s.handleLogout)
	mux.HandleFunc("/api/auth", s.handleAuth)
	mux.HandleFunc("/api/pins", s.requireSession(s.handleCreatePin))
	mux.HandleFunc("/api/pins/remove", s.requireSession(s.handleRemovePin))
	mux.HandleFunc("/api/url", s.requireSession(s.handleURL))
	mux.HandleFunc("/api/prefs", s.requireSession(s.handlePrefs))
	mux.HandleFunc("/api/stream", s.requireSession(s.handleStream))
	if s.gatherer != nil {
		mux.Handle("/metrics", metrics.Handler(s.gatherer))
	}

	var handler http.Handler = mux
	if !s.cfg.DisableRequestLogs {
		handler = withRequestLogging(mux, s.lookupSession)
	}
	if s.basePath == "" {
		return handler
	}
	prefix := s.basePath
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	root.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != prefix {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, prefix+"/", http.StatusTemporaryRedirect)
	})
	return root
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.Ctx(r.Context()).With("remote", clientIP(r))
	if !s.limiter.allow(clientIP(r)) {
		log.Warn("http login rate limited")
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}
	var cred schema.Credential
	if err := decodeJSON(r.Body, &cred); err != nil {
		log.Warn("http login decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.SignIn(r.Context(), schema.SignInRequest{Credential: cred})
	if err != nil {
		log.Warn("http login failed", "err", err)
		writeError(w, statusFor(err, http.StatusUnauthorized), err)
		return
	}
	identity := s.currentIdentity(r)
	if identity == nil {
		writeError(w, http.StatusUnauthorized, schema.ErrNotSignedIn)
		return
	}
	token, sess := s.sessions.create(identity.UID)
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.expiresAt,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"started":  resp.Started,
		"identity": identity,
	})
	log.Info("http login ok", "user", identity.UID)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.Ctx(r.Context()).With("remote", clientIP(r))
	token := s.sessionToken(r)
	if token != "" {
		if entry, ok := s.sessions.get(token); ok {
			log = log.With("user", entry.userID, "http_session", entry.id)
		}
		s.sessions.delete(token)
	}
	// Surfaces share the one coordinator identity, so logging out anywhere
	// signs the coordinator out and invalidates every surface session.
	s.sessions.deleteAll()
	if _, err := s.service.SignOut(r.Context(), schema.SignOutRequest{}); err != nil &&
		!errors.Is(err, schema.ErrNotInitialized) {
		log.Warn("http logout sign-out failed", "err", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	log.Info("http logout")
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp, err := s.service.AuthStatus(r.Context(), schema.AuthStatusRequest{})
	if err != nil {
		logx.Ctx(r.Context()).Warn("http auth status failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreatePin(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	var req schema.CreatePinRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn("http pin create decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.CreatePin(r.Context(), req)
	if err != nil {
		log.Warn("http pin create failed", "session", req.SessionID, "err", err)
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Debug("http pin create ok", "session", req.SessionID, "pin", resp.PinID)
}

func (s *Server) handleRemovePin(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	var req schema.RemovePinRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn("http pin remove decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.RemovePin(r.Context(), req)
	if err != nil {
		log.Warn("http pin remove failed", "session", req.SessionID, "pin", req.PinID, "err", err)
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Debug("http pin remove ok", "session", req.SessionID, "pin", req.PinID)
}

func (s *Server) handleURL(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	var req schema.ResolveURLRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn("http url decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.ResolveURL(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err, http.StatusBadRequest), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	log.Debug("http url resolved", "session", resp.SessionID)
}

func (s *Server) handlePrefs(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	log := logx.WithUser(r.Context(), userID)
	identity := s.currentIdentity(r)
	if identity == nil {
		writeError(w, http.StatusUnauthorized, schema.ErrNotSignedIn)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.prefs.Get(identity.UID))
	case http.MethodPost:
		var payload prefs.Prefs
		if err := decodeJSON(r.Body, &payload); err != nil {
			log.Warn("http prefs decode failed", "err", err)
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.prefs.Set(identity.UID, payload); err != nil {
			log.Warn("http prefs save failed", "err", err)
			writeError(w, statusFor(err, http.StatusInternalServerError), err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		log.Debug("http prefs saved", "language", payload.Language)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	log := logx.WithUser(r.Context(), userID)

	var sessionID schema.SessionID
	if raw := r.URL.Query().Get("session"); raw != "" {
		sessionID = schema.SessionID(raw)
		if err := schema.ValidateSessionID(sessionID); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastID := parseUint(r.Header.Get("Last-Event-ID"))

	ch, unsubscribe, missed := s.hub.Subscribe(userID, sessionID, lastID)
	defer unsubscribe()

	for _, event := range missed {
		_ = writeSSEvent(w, event)
	}
	if len(missed) > 0 {
		flusher.Flush()
	}

	notify := r.Context().Done()
	log.Info("http stream opened", "session", sessionID, "last_id", lastID, "replay", len(missed))
	for {
		select {
		case <-notify:
			log.Info("http stream closed", "session", sessionID)
			return
		case event := <-ch:
			_ = writeSSEvent(w, event)
			flusher.Flush()
		}
	}
}

func (s *Server) currentIdentity(r *http.Request) *schema.Identity {
	resp, err := s.service.AuthStatus(r.Context(), schema.AuthStatusRequest{})
	if err != nil {
		return nil
	}
	return resp.Identity
}

func (s *Server) requireSession(next func(http.ResponseWriter, *http.Request, schema.UserID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logx.Ctx(r.Context()).With("remote", clientIP(r))
		token := s.sessionToken(r)
		if token == "" {
			log.Warn("http session missing")
			writeError(w, http.StatusUnauthorized, errors.New("missing session"))
			return
		}
		entry, ok := s.sessions.get(token)
		if !ok {
			log.Warn("http session invalid")
			writeError(w, http.StatusUnauthorized, errors.New("invalid session"))
			return
		}
		log = log.With("user", entry.userID, "http_session", entry.id)
		ctx := logx.ContextWithUserLogger(r.Context(), log, entry.userID)
		next(w, r.WithContext(ctx), entry.userID)
	}
}

func (s *Server) sessionToken(r *http.Request) string {
	cookie, err := r.Cookie(s.cfg.SessionCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (s *Server) lookupSession(r *http.Request) (schema.UserID, string) {
	if s == nil || r == nil {
		return "", ""
	}
	token := s.sessionToken(r)
	if token == "" {
		return "", ""
	}
	entry, ok := s.sessions.get(token)
	if !ok {
		return "", ""
	}
	return entry.userID, entry.id
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeSSEvent(w http.ResponseWriter, event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if event.Seq > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", event.Seq)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(string(data)))
	return nil
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

// statusFor maps shared sentinel errors to HTTP status codes.
func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, schema.ErrNotSignedIn), errors.Is(err, schema.ErrNotInitialized):
		return http.StatusUnauthorized
	case errors.Is(err, schema.ErrDomainRejected),
		errors.Is(err, schema.ErrForbidden),
		errors.Is(err, schema.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, schema.ErrInvalidRequest),
		errors.Is(err, schema.ErrInvalidSession),
		errors.Is(err, schema.ErrInvalidPinType):
		return http.StatusBadRequest
	case errors.Is(err, schema.ErrPinNotFound):
		return http.StatusNotFound
	default:
		return fallback
	}
}
