package client

import (
	"net/http"
)

// DefaultCookieName is the cookie the vinylauth server reads the session from.
const DefaultCookieName = "token"

// AuthTransport wraps an http.RoundTripper to attach a fixed session cookie
type AuthTransport struct {
	Base       http.RoundTripper
	Token      string
	CookieName string
}

// RoundTrip implements http.RoundTripper
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Token != "" {
		name := t.CookieName
		if name == "" {
			name = DefaultCookieName
		}
		req = withSessionCookie(req, name, t.Token)
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	return base.RoundTrip(req)
}

// NewAuthTransport creates an AuthTransport with the given token
func NewAuthTransport(token string) *AuthTransport {
	return &AuthTransport{
		Base:  http.DefaultTransport,
		Token: token,
	}
}

// withSessionCookie clones req so the caller's request is never mutated.
func withSessionCookie(req *http.Request, name, token string) *http.Request {
	req = req.Clone(req.Context())
	req.AddCookie(&http.Cookie{Name: name, Value: token})
	return req
}
