package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pkt.systems/pinwire/internal/prefs"
	"pkt.systems/pinwire/schema"
)

// stubService is a canned core.Service for handler tests.
type stubService struct {
	identity  *schema.Identity
	signInErr error
	createErr error
	removeErr error
	resolved  schema.SessionID

	signOuts int
	created  []schema.CreatePinRequest
	removed  []schema.RemovePinRequest
}

func (s *stubService) AuthStatus(ctx context.Context, req schema.AuthStatusRequest) (schema.AuthStatusResponse, error) {
	return schema.AuthStatusResponse{Identity: s.identity}, nil
}

func (s *stubService) SignIn(ctx context.Context, req schema.SignInRequest) (schema.SignInResponse, error) {
	if s.signInErr != nil {
		return schema.SignInResponse{}, s.signInErr
	}
	return schema.SignInResponse{Started: true}, nil
}

func (s *stubService) SignOut(ctx context.Context, req schema.SignOutRequest) (schema.SignOutResponse, error) {
	s.signOuts++
	s.identity = nil
	return schema.SignOutResponse{}, nil
}

func (s *stubService) CreatePin(ctx context.Context, req schema.CreatePinRequest) (schema.CreatePinResponse, error) {
	if s.createErr != nil {
		return schema.CreatePinResponse{}, s.createErr
	}
	s.created = append(s.created, req)
	return schema.CreatePinResponse{PinID: "pin-1"}, nil
}

func (s *stubService) RemovePin(ctx context.Context, req schema.RemovePinRequest) (schema.RemovePinResponse, error) {
	if s.removeErr != nil {
		return schema.RemovePinResponse{}, s.removeErr
	}
	s.removed = append(s.removed, req)
	return schema.RemovePinResponse{}, nil
}

func (s *stubService) ResolveURL(ctx context.Context, req schema.ResolveURLRequest) (schema.ResolveURLResponse, error) {
	return schema.ResolveURLResponse{SessionID: s.resolved}, nil
}

func (s *stubService) TrackSessions(ctx context.Context, req schema.TrackSessionsRequest) (schema.TrackSessionsResponse, error) {
	return schema.TrackSessionsResponse{}, nil
}

func (s *stubService) Close() error { return nil }

func newTestServer(t *testing.T, svc *stubService) *Server {
	t.Helper()
	prefsStore, err := prefs.NewStore("", nil)
	if err != nil {
		t.Fatalf("prefs store: %v", err)
	}
	cfg := Config{
		SessionCookie:      "pinwire_session",
		DisableRequestLogs: true,
	}
	return NewServer(cfg, svc, NewHub(0, nil, nil), prefsStore, nil)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, payload any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func loginCookie(t *testing.T, srv *Server, handler http.Handler) *http.Cookie {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/login", schema.Credential{Email: "alice@example.com", Password: "pw"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", rec.Code, rec.Body.String())
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == srv.cfg.SessionCookie && c.Value != "" {
			return c
		}
	}
	t.Fatal("login set no session cookie")
	return nil
}

func TestLoginSetsSessionCookie(t *testing.T) {
	svc := &stubService{identity: &schema.Identity{UID: "u-alice", Email: "alice@example.com"}}
	srv := newTestServer(t, svc)
	handler := srv.Handler()

	cookie := loginCookie(t, srv, handler)
	if _, ok := srv.sessions.get(cookie.Value); !ok {
		t.Fatal("session token not stored")
	}
}

func TestLoginRejectedMapsStatus(t *testing.T) {
	svc := &stubService{signInErr: schema.ErrDomainRejected}
	srv := newTestServer(t, svc)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/login", schema.Credential{Email: "x@other.com"}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("login = %d, want 403", rec.Code)
	}
}

func TestLoginRateLimited(t *testing.T) {
	svc := &stubService{signInErr: schema.ErrNotSignedIn}
	srv := newTestServer(t, svc)
	srv.limiter = newLoginLimiter(1)
	handler := srv.Handler()
	cred := schema.Credential{Email: "x@example.com"}
	if rec := doJSON(t, handler, http.MethodPost, "/api/login", cred, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("first login = %d, want 401", rec.Code)
	}
	if rec := doJSON(t, handler, http.MethodPost, "/api/login", cred, nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second login = %d, want 429", rec.Code)
	}
}

func TestLogoutClearsAllSessions(t *testing.T) {
	svc := &stubService{identity: &schema.Identity{UID: "u-alice"}}
	srv := newTestServer(t, svc)
	handler := srv.Handler()
	first := loginCookie(t, srv, handler)
	second := loginCookie(t, srv, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/logout", nil, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout = %d", rec.Code)
	}
	if svc.signOuts != 1 {
		t.Fatalf("sign-outs = %d, want 1", svc.signOuts)
	}
	if _, ok := srv.sessions.get(second.Value); ok {
		t.Fatal("other surface session survived logout")
	}
}

func TestAuthStatusEndpoint(t *testing.T) {
	svc := &stubService{identity: &schema.Identity{UID: "u-alice", Email: "alice@example.com"}}
	srv := newTestServer(t, svc)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/auth", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("auth = %d", rec.Code)
	}
	var resp schema.AuthStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Identity == nil || resp.Identity.UID != "u-alice" {
		t.Fatalf("identity = %+v", resp.Identity)
	}
}

func TestPinEndpointsRequireSession(t *testing.T) {
	srv := newTestServer(t, &stubService{})
	handler := srv.Handler()
	for _, path := range []string{"/api/pins", "/api/pins/remove", "/api/url"} {
		rec := doJSON(t, handler, http.MethodPost, path, map[string]any{}, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s without session = %d, want 401", path, rec.Code)
		}
	}
}

func TestCreateAndRemovePin(t *testing.T) {
	svc := &stubService{identity: &schema.Identity{UID: "u-alice"}}
	srv := newTestServer(t, svc)
	handler := srv.Handler()
	cookie := loginCookie(t, srv, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/pins",
		schema.CreatePinRequest{SessionID: "standup", Type: schema.PinQuestion}, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body.String())
	}
	var created schema.CreatePinResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.PinID == "" {
		t.Fatal("empty pin id")
	}
	if len(svc.created) != 1 || svc.created[0].SessionID != "standup" {
		t.Fatalf("service saw %+v", svc.created)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/pins/remove",
		schema.RemovePinRequest{SessionID: "standup", PinID: created.PinID}, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("remove = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreatePinErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not signed in", schema.ErrNotSignedIn, http.StatusUnauthorized},
		{"bad type", schema.ErrInvalidPinType, http.StatusBadRequest},
		{"denied", schema.ErrPermissionDenied, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubService{identity: &schema.Identity{UID: "u-alice"}, createErr: tc.err}
			srv := newTestServer(t, svc)
			handler := srv.Handler()
			cookie := loginCookie(t, srv, handler)
			rec := doJSON(t, handler, http.MethodPost, "/api/pins",
				schema.CreatePinRequest{SessionID: "standup", Type: schema.PinHand}, cookie)
			if rec.Code != tc.want {
				t.Fatalf("create = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestRemovePinForbidden(t *testing.T) {
	svc := &stubService{identity: &schema.Identity{UID: "u-bob"}, removeErr: schema.ErrForbidden}
	srv := newTestServer(t, svc)
	handler := srv.Handler()
	cookie := loginCookie(t, srv, handler)
	rec := doJSON(t, handler, http.MethodPost, "/api/pins/remove",
		schema.RemovePinRequest{SessionID: "standup", PinID: "pin-1"}, cookie)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remove = %d, want 403", rec.Code)
	}
}

func TestResolveURLEndpoint(t *testing.T) {
	svc := &stubService{identity: &schema.Identity{UID: "u-alice"}, resolved: "abc-defg-hij"}
	srv := newTestServer(t, svc)
	handler := srv.Handler()
	cookie := loginCookie(t, srv, handler)
	rec := doJSON(t, handler, http.MethodPost, "/api/url",
		schema.ResolveURLRequest{URL: "https://meet.example.com/abc-defg-hij"}, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("url = %d", rec.Code)
	}
	var resp schema.ResolveURLResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SessionID != "abc-defg-hij" {
		t.Fatalf("session = %q", resp.SessionID)
	}
}

func TestPrefsRoundTrip(t *testing.T) {
	svc := &stubService{identity: &schema.Identity{UID: "u-alice"}}
	srv := newTestServer(t, svc)
	handler := srv.Handler()
	cookie := loginCookie(t, srv, handler)

	rec := doJSON(t, handler, http.MethodGet, "/api/prefs", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("prefs get = %d", rec.Code)
	}
	var got prefs.Prefs
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Language != prefs.DefaultLanguage {
		t.Fatalf("language = %q", got.Language)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/prefs", prefs.Prefs{Language: "sv"}, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("prefs set = %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/prefs", nil, cookie)
	var after prefs.Prefs
	if err := json.Unmarshal(rec.Body.Bytes(), &after); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if after.Language != "sv" {
		t.Fatalf("language = %q", after.Language)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/prefs", prefs.Prefs{Language: "not a tag"}, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad prefs = %d, want 400", rec.Code)
	}
}

func TestStreamRejectsBadSessionID(t *testing.T) {
	svc := &stubService{identity: &schema.Identity{UID: "u-alice"}}
	srv := newTestServer(t, svc)
	handler := srv.Handler()
	cookie := loginCookie(t, srv, handler)
	rec := doJSON(t, handler, http.MethodGet, "/api/stream?session=%20bad%20", nil, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("stream = %d, want 400", rec.Code)
	}
}

func TestStreamDeliversEvents(t *testing.T) {
	svc := &stubService{identity: &schema.Identity{UID: "u-alice"}}
	srv := newTestServer(t, svc)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	loginBody, _ := json.Marshal(schema.Credential{Email: "alice@example.com", Password: "pw"})
	resp, err := http.Post(ts.URL+"/api/login", "application/json", bytes.NewReader(loginBody))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	resp.Body.Close()
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == srv.cfg.SessionCookie {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("no session cookie")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/stream?session=standup", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.AddCookie(cookie)
	stream, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer stream.Body.Close()
	if ct := stream.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	waitForSurfaces(t, srv.hub, 1)
	srv.hub.OnPinEvent(schema.PinEvent{SessionID: "standup", Kind: schema.PinAdded, PinID: "p1"})

	line := readSSELine(t, stream.Body)
	if !strings.Contains(line, `"pin_id":"p1"`) {
		t.Fatalf("stream line = %q", line)
	}
}

func waitForSurfaces(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.Lock()
		count := len(hub.surfaces)
		hub.mu.Unlock()
		if count >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("never saw %d connected surfaces", want)
}

func readSSELine(t *testing.T, body io.Reader) string {
	t.Helper()
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		scanner := bufio.NewScanner(body)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data: ") {
				ch <- result{line: line}
				return
			}
		}
		ch <- result{err: scanner.Err()}
	}()
	select {
	case res := <-ch:
		if res.err != nil {
			t.Fatalf("stream read: %v", res.err)
		}
		if res.line == "" {
			t.Fatal("stream ended without data")
		}
		return res.line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out reading stream")
	}
	return ""
}
