package vinylauth_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	va "github.com/vascoliveira2511/vinylauth"
	"github.com/vascoliveira2511/vinylauth/stores/fs"
)

const testSecret = "vinylauth-test-secret-0123456789abcdef"

func testConfig() va.Config {
	cfg := va.DefaultConfig()
	cfg.JWTSecretKey = testSecret
	cfg.BcryptCost = 4
	cfg.BaseURL = "http://localhost:8080"
	cfg.LoginURL = "/login"
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *fs.FSUserStore {
	t.Helper()
	return fs.NewUserStore(t.TempDir())
}

// createTestUser stores a user with a real bcrypt hash. An empty email
// leaves the account without one.
func createTestUser(t *testing.T, users va.UserStore, username, password, email string) *va.User {
	t.Helper()
	hash, err := va.NewBcryptHasher(4).Hash(password)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	u := &va.User{Username: username, PasswordHash: hash}
	if email != "" {
		u.Email = va.StringPtr(email)
	}
	created, err := users.CreateUser(context.Background(), u)
	if err != nil {
		t.Fatalf("CreateUser(%q) error = %v", username, err)
	}
	return created
}

type sentEmail struct {
	To   string
	Link string
}

// recordingSender captures outgoing mail instead of sending it.
type recordingSender struct {
	mu            sync.Mutex
	verifications []sentEmail
	resets        []sentEmail
}

func (s *recordingSender) SendVerificationEmail(to, link string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifications = append(s.verifications, sentEmail{To: to, Link: link})
	return nil
}

func (s *recordingSender) SendPasswordResetEmail(to, link string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets = append(s.resets, sentEmail{To: to, Link: link})
	return nil
}

func (s *recordingSender) lastVerification(t *testing.T) sentEmail {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.verifications) == 0 {
		t.Fatal("no verification email sent")
	}
	return s.verifications[len(s.verifications)-1]
}

func (s *recordingSender) resetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.resets)
}

// tokenFromLink pulls the token query parameter out of an emailed link.
func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("bad link %q: %v", link, err)
	}
	token := u.Query().Get("token")
	if token == "" {
		t.Fatalf("link %q has no token", link)
	}
	return token
}

// fakeProvider is a scripted LinkProvider.
type fakeProvider struct {
	mu sync.Mutex

	requestErr  error
	accessErr   error
	identityErr error
	username    string

	accessCalls int
}

func (p *fakeProvider) RequestToken(ctx context.Context) (string, string, error) {
	if p.requestErr != nil {
		return "", "", p.requestErr
	}
	return "req-token", "req-secret", nil
}

func (p *fakeProvider) AuthorizationURL(requestToken string) (string, error) {
	return "https://discogs.example/oauth/authorize?oauth_token=" + url.QueryEscape(requestToken), nil
}

func (p *fakeProvider) AccessToken(ctx context.Context, requestToken, requestSecret, verifier string) (string, string, error) {
	p.mu.Lock()
	p.accessCalls++
	p.mu.Unlock()
	if p.accessErr != nil {
		return "", "", p.accessErr
	}
	if requestToken != "req-token" || requestSecret != "req-secret" {
		return "", "", errors.New("unknown request token")
	}
	return "acc-token", "acc-secret", nil
}

func (p *fakeProvider) Identity(ctx context.Context, accessToken, accessSecret string) (string, error) {
	if p.identityErr != nil {
		return "", p.identityErr
	}
	if p.username == "" {
		return "crate_digger", nil
	}
	return p.username, nil
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accessCalls
}

// testServer is the full HTTP surface over an fs store.
type testServer struct {
	auth   *va.VinylAuth
	users  *fs.FSUserStore
	mail   *recordingSender
	link   *fakeProvider
	router http.Handler
}

func newTestServer(t *testing.T, configure ...func(cfg *va.Config)) *testServer {
	t.Helper()
	cfg := testConfig()
	for _, fn := range configure {
		fn(&cfg)
	}
	users := newTestStore(t)
	link := &fakeProvider{}
	auth, err := va.New(cfg, users, link)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	auth.SetLogger(quietLogger())
	mail := &recordingSender{}
	auth.Local.EmailSender = mail
	return &testServer{auth: auth, users: users, mail: mail, link: link, router: auth.Handler()}
}

// do sends a request with a JSON body (or none) and the given cookies.
func (s *testServer) do(method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
