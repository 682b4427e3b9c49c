package vinylauth_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2"

	va "github.com/vascoliveira2511/vinylauth"
)

// saveHandshake runs Save and returns the cookies it set.
func saveHandshake(t *testing.T, store va.HandshakeStore, state *va.HandshakeState) []*http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	if err := store.Save(rec, httptest.NewRequest(http.MethodGet, "/api/discogs/connect", nil), state); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return rec.Result().Cookies()
}

func callbackRequest(cookies []*http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/discogs/callback", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func TestCookieHandshakeRoundTrip(t *testing.T) {
	store := va.NewCookieHandshakeStore(testConfig())
	cookies := saveHandshake(t, store, &va.HandshakeState{
		RequestToken:       "req-token",
		RequestTokenSecret: "req-secret",
		UserID:             42,
	})
	if len(cookies) != 3 {
		t.Fatalf("Save() set %d cookies, want 3", len(cookies))
	}
	for _, c := range cookies {
		if !c.HttpOnly || c.SameSite != http.SameSiteLaxMode || c.MaxAge != 600 {
			t.Errorf("cookie %s: httpOnly=%v sameSite=%v maxAge=%d", c.Name, c.HttpOnly, c.SameSite, c.MaxAge)
		}
	}

	state, err := store.Load(callbackRequest(cookies))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if state.RequestToken != "req-token" || state.RequestTokenSecret != "req-secret" || state.UserID != 42 {
		t.Errorf("state = %+v", state)
	}
}

func TestCookieHandshakeRejectsTampering(t *testing.T) {
	store := va.NewCookieHandshakeStore(testConfig())
	victim := saveHandshake(t, store, &va.HandshakeState{RequestToken: "victim-token", RequestTokenSecret: "s1", UserID: 1})
	attacker := saveHandshake(t, store, &va.HandshakeState{RequestToken: "attacker-token", RequestTokenSecret: "s2", UserID: 2})

	byName := func(cookies []*http.Cookie, name string) *http.Cookie {
		for _, c := range cookies {
			if c.Name == name {
				return c
			}
		}
		t.Fatalf("cookie %s missing", name)
		return nil
	}

	tests := []struct {
		name    string
		cookies []*http.Cookie
	}{
		{"none", nil},
		{"binding from another handshake", []*http.Cookie{
			byName(victim, va.CookieRequestToken),
			byName(victim, va.CookieRequestTokenSecret),
			byName(attacker, va.CookieLinkUserID),
		}},
		{"forged user id", []*http.Cookie{
			byName(victim, va.CookieRequestToken),
			byName(victim, va.CookieRequestTokenSecret),
			{Name: va.CookieLinkUserID, Value: "2"},
		}},
		{"missing secret", []*http.Cookie{
			byName(victim, va.CookieRequestToken),
			byName(victim, va.CookieLinkUserID),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.Load(callbackRequest(tt.cookies)); !errors.Is(err, va.ErrUnauthorized) {
				t.Errorf("Load() error = %v, want ErrUnauthorized", err)
			}
		})
	}
}

func TestCookieHandshakeExpires(t *testing.T) {
	clock := &fakeClock{t: time.Now().Truncate(time.Second)}
	store := va.NewCookieHandshakeStore(testConfig())
	store.SetClock(clock.Now)
	cookies := saveHandshake(t, store, &va.HandshakeState{RequestToken: "req-token", RequestTokenSecret: "s", UserID: 1})

	clock.Advance(11 * time.Minute)
	if _, err := store.Load(callbackRequest(cookies)); !errors.Is(err, va.ErrUnauthorized) {
		t.Errorf("Load() after TTL error = %v, want ErrUnauthorized", err)
	}
}

func TestCookieHandshakeClear(t *testing.T) {
	store := va.NewCookieHandshakeStore(testConfig())
	rec := httptest.NewRecorder()
	if err := store.Clear(rec, httptest.NewRequest(http.MethodGet, "/", nil)); err != nil {
		t.Fatal(err)
	}
	cleared := map[string]bool{}
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 && c.Value == "" {
			cleared[c.Name] = true
		}
	}
	for _, name := range []string{va.CookieRequestToken, va.CookieRequestTokenSecret, va.CookieLinkUserID} {
		if !cleared[name] {
			t.Errorf("cookie %s not cleared", name)
		}
	}
}

func TestSessionHandshakeStore(t *testing.T) {
	sessions := scs.New()
	store := &va.SessionHandshakeStore{Sessions: sessions}

	save := sessions.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := store.Save(w, r, &va.HandshakeState{RequestToken: "req-token", RequestTokenSecret: "req-secret", UserID: 7}); err != nil {
			t.Errorf("Save() error = %v", err)
		}
	}))
	var loaded *va.HandshakeState
	var loadErr error
	load := sessions.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		loaded, loadErr = store.Load(r)
		store.Clear(w, r)
	}))

	rec := httptest.NewRecorder()
	save.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/discogs/connect", nil))
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("no session cookie set")
	}

	load.ServeHTTP(httptest.NewRecorder(), callbackRequest(cookies))
	if loadErr != nil {
		t.Fatalf("Load() error = %v", loadErr)
	}
	if loaded.RequestToken != "req-token" || loaded.RequestTokenSecret != "req-secret" || loaded.UserID != 7 {
		t.Errorf("state = %+v", loaded)
	}
	if loaded.IssuedAt.IsZero() {
		t.Error("IssuedAt not recorded")
	}

	// Cleared by the previous request.
	load.ServeHTTP(httptest.NewRecorder(), callbackRequest(cookies))
	if !errors.Is(loadErr, va.ErrUnauthorized) {
		t.Errorf("Load() after Clear error = %v, want ErrUnauthorized", loadErr)
	}

	// A request without the session cookie sees nothing.
	load.ServeHTTP(httptest.NewRecorder(), callbackRequest(nil))
	if !errors.Is(loadErr, va.ErrUnauthorized) {
		t.Errorf("Load() without session error = %v, want ErrUnauthorized", loadErr)
	}
}
