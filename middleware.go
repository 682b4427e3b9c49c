package vinylauth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// HeaderUserID carries the verified user id to downstream handlers. Any
// copy sent by the client is removed before the gate sets its own.
const HeaderUserID = "X-User-Id"

// TokenVerifier is satisfied by SessionService.
type TokenVerifier interface {
	Verify(token string) (*Claims, error)
}

// Middleware is the request gate. It authenticates the session cookie and
// either forwards the request with a Principal in its context or rejects it.
type Middleware struct {
	AuthTokenCookieName string
	CallbackURLParam    string

	// When set, rejected requests are redirected here with the original
	// path attached. When empty they get a JSON 401.
	LoginURL string

	Verifier TokenVerifier
	Logger   *slog.Logger
}

func (m *Middleware) EnsureReasonableDefaults() {
	if m.AuthTokenCookieName == "" {
		m.AuthTokenCookieName = "token"
	}
	if m.CallbackURLParam == "" {
		m.CallbackURLParam = "callbackURL"
	}
	if m.Logger == nil {
		m.Logger = slog.Default()
	}
}

// Authenticate verifies the session cookie on r.
func (m *Middleware) Authenticate(r *http.Request) (*Principal, error) {
	if m.Verifier == nil {
		return nil, fmt.Errorf("%w: no token verifier configured", ErrUnauthorized)
	}
	cookie, err := r.Cookie(m.AuthTokenCookieName)
	if err != nil || cookie.Value == "" {
		return nil, fmt.Errorf("%w: no session cookie", ErrUnauthorized)
	}
	claims, err := m.Verifier.Verify(cookie.Value)
	if err != nil {
		return nil, err
	}
	return PrincipalFromClaims(claims), nil
}

// ExtractUser attaches a principal when the request carries a valid
// session but never rejects.
func (m *Middleware) ExtractUser(next http.Handler) http.Handler {
	m.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del(HeaderUserID)
		if p, err := m.Authenticate(r); err == nil {
			r = m.withPrincipal(r, p)
		}
		next.ServeHTTP(w, r)
	})
}

// EnsureUser only lets authenticated requests through.
func (m *Middleware) EnsureUser(next http.Handler) http.Handler {
	m.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del(HeaderUserID)
		p, err := m.Authenticate(r)
		if err != nil {
			if !errors.Is(err, ErrUnauthorized) {
				m.Logger.Warn("rejected session token", "path", r.URL.Path, "error", err)
			}
			m.reject(w, r)
			return
		}
		next.ServeHTTP(w, m.withPrincipal(r, p))
	})
}

func (m *Middleware) reject(w http.ResponseWriter, r *http.Request) {
	if m.LoginURL != "" {
		encoded := strings.ReplaceAll(url.QueryEscape(r.URL.Path), "+", "%20")
		target := fmt.Sprintf("%s?%s=%s", m.LoginURL, m.CallbackURLParam, encoded)
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	writeError(w, NewAuthError(ErrUnauthorized, ErrCodeUnauthorized, "Authentication required", ""))
}

func (m *Middleware) withPrincipal(r *http.Request, p *Principal) *http.Request {
	r = r.WithContext(WithPrincipal(r.Context(), p))
	r.Header.Set(HeaderUserID, strconv.FormatInt(p.UserID, 10))
	return r
}
