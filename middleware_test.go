package vinylauth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	va "github.com/vascoliveira2511/vinylauth"
)

type gateResult struct {
	called    bool
	principal *va.Principal
	header    string
}

func recordingHandler(res *gateResult) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res.called = true
		res.principal, _ = va.PrincipalFromContext(r.Context())
		res.header = r.Header.Get(va.HeaderUserID)
		w.WriteHeader(http.StatusOK)
	})
}

func newGate(t *testing.T, loginURL string) (*va.Middleware, *va.SessionService, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Now().Truncate(time.Second)}
	sessions := newSessions(t, nil, clock)
	m := &va.Middleware{
		AuthTokenCookieName: "token",
		LoginURL:            loginURL,
		Verifier:            sessions,
		Logger:              quietLogger(),
	}
	return m, sessions, clock
}

func TestGateAttachesPrincipal(t *testing.T) {
	m, sessions, _ := newGate(t, "")
	token, _, _ := sessions.Issue(42, "alice", time.Hour)

	res := &gateResult{}
	req := httptest.NewRequest(http.MethodGet, "/api/collection", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: token})
	req.Header.Set(va.HeaderUserID, "999")
	rec := httptest.NewRecorder()
	m.EnsureUser(recordingHandler(res)).ServeHTTP(rec, req)

	if !res.called {
		t.Fatalf("handler not called, status %d", rec.Code)
	}
	if res.principal == nil || res.principal.UserID != 42 || res.principal.Username != "alice" {
		t.Errorf("principal = %+v, want user 42 alice", res.principal)
	}
	if res.header != "42" {
		t.Errorf("%s = %q, want the verified id 42", va.HeaderUserID, res.header)
	}
}

func TestGateRejectsAsJSON(t *testing.T) {
	m, sessions, clock := newGate(t, "")
	expired, _, _ := sessions.Issue(1, "alice", time.Minute)
	clock.Advance(time.Hour)

	tests := []struct {
		name   string
		cookie *http.Cookie
	}{
		{"no cookie", nil},
		{"empty cookie", &http.Cookie{Name: "token", Value: ""}},
		{"garbage", &http.Cookie{Name: "token", Value: "not.a.token"}},
		{"expired", &http.Cookie{Name: "token", Value: expired}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &gateResult{}
			req := httptest.NewRequest(http.MethodGet, "/api/collection", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			req.Header.Set(va.HeaderUserID, "1")
			rec := httptest.NewRecorder()
			m.EnsureUser(recordingHandler(res)).ServeHTTP(rec, req)

			if res.called {
				t.Fatal("handler should not run")
			}
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("body is not JSON: %v", err)
			}
			if body["code"] != va.ErrCodeUnauthorized {
				t.Errorf("code = %q", body["code"])
			}
		})
	}
}

func TestGateRedirectsToLogin(t *testing.T) {
	m, _, _ := newGate(t, "/login")
	res := &gateResult{}
	req := httptest.NewRequest(http.MethodGet, "/collection/rare%20finds", nil)
	rec := httptest.NewRecorder()
	m.EnsureUser(recordingHandler(res)).ServeHTTP(rec, req)

	if res.called {
		t.Fatal("handler should not run")
	}
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	want := "/login?callbackURL=%2Fcollection%2Frare%20finds"
	if got := rec.Header().Get("Location"); got != want {
		t.Errorf("Location = %q, want %q", got, want)
	}
}

func TestExtractUserNeverRejects(t *testing.T) {
	m, sessions, _ := newGate(t, "/login")
	token, _, _ := sessions.Issue(5, "eve", time.Hour)

	t.Run("anonymous", func(t *testing.T) {
		res := &gateResult{}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(va.HeaderUserID, "5")
		m.ExtractUser(recordingHandler(res)).ServeHTTP(httptest.NewRecorder(), req)
		if !res.called || res.principal != nil {
			t.Errorf("called=%v principal=%+v, want called without principal", res.called, res.principal)
		}
		if res.header != "" {
			t.Errorf("client supplied %s leaked through: %q", va.HeaderUserID, res.header)
		}
	})

	t.Run("authenticated", func(t *testing.T) {
		res := &gateResult{}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "token", Value: token})
		m.ExtractUser(recordingHandler(res)).ServeHTTP(httptest.NewRecorder(), req)
		if res.principal == nil || res.principal.UserID != 5 {
			t.Errorf("principal = %+v", res.principal)
		}
		if res.header != strconv.Itoa(5) {
			t.Errorf("header = %q", res.header)
		}
	})
}

func TestUserIDFromContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if id := va.UserIDFromContext(req.Context()); id != 0 {
		t.Errorf("UserIDFromContext() = %d, want 0", id)
	}
	ctx := va.WithPrincipal(req.Context(), &va.Principal{UserID: 3})
	if id := va.UserIDFromContext(ctx); id != 3 {
		t.Errorf("UserIDFromContext() = %d, want 3", id)
	}
}

func TestRequireLoginRedirectsWithZeroConfig(t *testing.T) {
	auth, err := va.New(va.Config{JWTSecretKey: testSecret}, newTestStore(t), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	auth.SetLogger(quietLogger())

	res := &gateResult{}
	rec := httptest.NewRecorder()
	auth.RequireLogin(recordingHandler(res)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/profile", nil))
	if res.called {
		t.Fatal("handler reached without a session")
	}
	if rec.Code != http.StatusFound {
		t.Fatalf("page gate status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/login?callbackURL=%2Fprofile" {
		t.Errorf("Location = %q", loc)
	}

	rec = httptest.NewRecorder()
	auth.RequireAPIUser(recordingHandler(res)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/collection", nil))
	if rec.Code != http.StatusUnauthorized || rec.Header().Get("Location") != "" {
		t.Errorf("API gate status = %d location = %q, want a bare 401", rec.Code, rec.Header().Get("Location"))
	}
}
