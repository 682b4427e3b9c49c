package vinylauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// LocalAuth serves the username/password endpoints and the account
// endpoints behind the gate.
type LocalAuth struct {
	Config   Config
	Users    UserStore
	Hasher   PasswordHasher
	Sessions *SessionService
	Accounts *AccountService
	Emails   *EmailVerifier
	Resets   *PasswordResets

	// Validates credentials during signup. Defaults to NewSignupValidator.
	ValidateSignup SignupValidator

	// Optional. Without it verification and reset links are only logged.
	EmailSender SendEmail

	// Optional throttle for login and forgot-password.
	Limiter RateLimiter

	Logger *slog.Logger
}

func (a *LocalAuth) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

// dummyComparer is implemented by hashers that can equalize the timing of
// a login for an unknown user.
type dummyComparer interface {
	CompareDummy(password string)
}

// HandleLogin checks a username and password and sets the session cookie.
func (a *LocalAuth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	fields, err := parseFields(w, r, "username", "password")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := requireFields(fields, "username", "password"); err != nil {
		writeError(w, NewAuthError(ErrMalformed, ErrCodeMissingField, "Username and password required", "username"))
		return
	}
	username, password := fields["username"], fields["password"]

	limitKey := "login:" + clientIP(r) + ":" + strings.ToLower(username)
	if !a.allow(r.Context(), limitKey, a.Config.LoginAttempts, a.Config.LoginWindow) {
		writeError(w, NewAuthError(ErrRateLimited, ErrCodeRateLimited, "Too many login attempts, try again later", ""))
		return
	}

	user, err := a.Users.GetUserByUsername(r.Context(), username)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			writeError(w, err)
			return
		}
		if dc, ok := a.Hasher.(dummyComparer); ok {
			dc.CompareDummy(password)
		}
		writeError(w, errInvalidLogin)
		return
	}
	if err := a.Hasher.Compare(user.PasswordHash, password); err != nil {
		a.logger().Info("login failed", "user_id", user.ID)
		writeError(w, errInvalidLogin)
		return
	}

	expiresAt, err := a.startSession(w, user, a.Sessions.LoginTTL())
	if err != nil {
		writeError(w, err)
		return
	}
	if a.Limiter != nil {
		a.Limiter.Reset(r.Context(), limitKey)
	}
	a.logger().Info("user logged in", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":      user.Profile(),
		"expiresAt": expiresAt,
	})
}

var errInvalidLogin = NewAuthError(ErrInvalidCredential, ErrCodeInvalidCreds, "Invalid credentials", "password")

// HandleLogout clears the session cookie. Tokens are stateless so there is
// nothing to revoke server side.
func (a *LocalAuth) HandleLogout(w http.ResponseWriter, r *http.Request) {
	a.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Logged out",
	})
}

// HandleRefresh exchanges the current session cookie, even an expired
// one, for a new cookie valid for the refresh TTL.
func (a *LocalAuth) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(a.Config.SessionCookieName)
	if err != nil || cookie.Value == "" {
		writeError(w, NewAuthError(ErrUnauthorized, ErrCodeUnauthorized, "No session to refresh", ""))
		return
	}
	token, expiresAt, claims, err := a.Sessions.Refresh(r.Context(), cookie.Value)
	if err != nil {
		a.clearSessionCookie(w)
		writeError(w, err)
		return
	}
	a.setSessionCookie(w, token, expiresAt)
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":    claims.UserID,
		"username":  claims.Username,
		"expiresAt": expiresAt,
	})
}

// HandleMe returns the profile of the authenticated user.
func (a *LocalAuth) HandleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, ErrUnauthorized)
		return
	}
	user, err := a.Users.GetUserByID(r.Context(), p.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			err = NewAuthError(ErrUnauthorized, ErrCodeUnauthorized, "Account no longer exists", "")
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":      user.Profile(),
		"expiresAt": p.ExpiresAt,
	})
}

// HandleVerifyEmail consumes the token from a verification link.
func (a *LocalAuth) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, NewAuthError(ErrMalformed, ErrCodeMissingField, "Token required", "token"))
		return
	}
	if err := a.Emails.ConsumeVerification(r.Context(), token); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Email verified successfully",
	})
}

// forgotPasswordMessage is returned whether or not the email is known.
const forgotPasswordMessage = "If that email exists, a reset link has been sent"

// HandleForgotPassword answers identically for known and unknown emails.
func (a *LocalAuth) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	fields, err := parseFields(w, r, "email")
	if err != nil {
		writeError(w, err)
		return
	}
	email := NormalizeEmail(fields["email"])
	if err := validateEmail(email); err != nil {
		writeError(w, err)
		return
	}
	if !a.allow(r.Context(), "forgot:"+clientIP(r), a.Config.ForgotAttempts, a.Config.ForgotWindow) {
		writeError(w, NewAuthError(ErrRateLimited, ErrCodeRateLimited, "Too many requests, try again later", ""))
		return
	}

	token, err := a.Resets.RequestReset(r.Context(), email)
	if err != nil {
		// Still report success so the response reveals nothing.
		a.logger().Error("failed to create reset token", "error", err)
	} else if token != "" {
		link := a.link("/reset-password", token)
		if err := a.sender().SendPasswordResetEmail(email, link); err != nil {
			a.logger().Error("failed to send reset email", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": forgotPasswordMessage,
	})
}

// HandleResetPassword consumes a reset token and sets the new password.
func (a *LocalAuth) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	fields, err := parseFields(w, r, "token", "password")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := requireFields(fields, "token", "password"); err != nil {
		writeError(w, err)
		return
	}
	if err := a.Resets.ResetPassword(r.Context(), fields["token"], fields["password"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Password reset successfully",
	})
}

// HandleChangePassword requires the gate.
func (a *LocalAuth) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, ErrUnauthorized)
		return
	}
	fields, err := parseFields(w, r, "currentPassword", "newPassword")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.Accounts.ChangePassword(r.Context(), p.UserID, fields["currentPassword"], fields["newPassword"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Password updated",
	})
}

// HandleDeleteAccount requires the gate. On success the session cookie is
// cleared along with the account.
func (a *LocalAuth) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, ErrUnauthorized)
		return
	}
	fields, err := parseFields(w, r, "password", "confirmation")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.Accounts.DeleteAccount(r.Context(), p.UserID, fields["password"], fields["confirmation"]); err != nil {
		writeError(w, err)
		return
	}
	a.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Account deleted",
	})
}

// HandleAddEmail requires the gate. It attaches an unverified email and
// sends the verification link.
func (a *LocalAuth) HandleAddEmail(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, ErrUnauthorized)
		return
	}
	fields, err := parseFields(w, r, "email")
	if err != nil {
		writeError(w, err)
		return
	}
	token, err := a.Emails.RequestEmailAdd(r.Context(), p.UserID, fields["email"])
	if err != nil {
		writeError(w, err)
		return
	}
	email := NormalizeEmail(fields["email"])
	if err := a.sender().SendVerificationEmail(email, a.link("/verify-email", token)); err != nil {
		a.logger().Error("failed to send verification email", "user_id", p.UserID, "error", err)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"message": "Check your inbox to verify your email",
	})
}

// HandleResendVerification requires the gate.
func (a *LocalAuth) HandleResendVerification(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, ErrUnauthorized)
		return
	}
	email, token, err := a.Emails.ResendVerification(r.Context(), p.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.sender().SendVerificationEmail(email, a.link("/verify-email", token)); err != nil {
		a.logger().Error("failed to send verification email", "user_id", p.UserID, "error", err)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"message": "Verification email sent",
	})
}

func (a *LocalAuth) sender() SendEmail {
	if a.EmailSender == nil {
		return &ConsoleEmailSender{Logger: a.logger()}
	}
	return a.EmailSender
}

func (a *LocalAuth) link(path, token string) string {
	return fmt.Sprintf("%s%s?token=%s", strings.TrimSuffix(a.Config.BaseURL, "/"), path, url.QueryEscape(token))
}

// allow fails open when the limiter itself errors.
func (a *LocalAuth) allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	if a.Limiter == nil || limit <= 0 || window <= 0 {
		return true
	}
	allowed, _, err := a.Limiter.Allow(ctx, key, limit, window)
	if err != nil {
		a.logger().Warn("rate limiter unavailable", "error", err)
		return true
	}
	return allowed
}

func (a *LocalAuth) startSession(w http.ResponseWriter, user *User, ttl time.Duration) (time.Time, error) {
	token, expiresAt, err := a.Sessions.Issue(user.ID, user.Username, ttl)
	if err != nil {
		return time.Time{}, err
	}
	a.setSessionCookie(w, token, expiresAt)
	return expiresAt, nil
}

func (a *LocalAuth) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.Config.SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   a.Config.Production,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *LocalAuth) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.Config.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.Config.Production,
		SameSite: http.SameSiteStrictMode,
	})
}
