package vinylauth

import (
	"log/slog"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
)

// VinylAuth wires the services together and exposes them over HTTP.
// Fields may be replaced after New and before Handler is first called.
type VinylAuth struct {
	Config   Config
	Users    UserStore
	Hasher   PasswordHasher
	Sessions *SessionService
	Local    *LocalAuth
	Linker   *Linker

	// Where a Discogs handshake lives between connect and callback.
	// Defaults to the signed cookie store.
	Handshakes HandshakeStore

	// Required when Handshakes is a SessionHandshakeStore. The Discogs
	// routes are then wrapped in its LoadAndSave.
	SessionManager *scs.SessionManager

	// APIGate answers unauthenticated requests with JSON 401, PageGate
	// redirects them to Config.LoginURL.
	APIGate  *Middleware
	PageGate *Middleware

	Logger *slog.Logger

	router  *mux.Router
	handler http.Handler
}

// New builds every component from cfg. provider may be nil when Discogs
// linking is not configured; the link endpoints then answer 503.
func New(cfg Config, users UserStore, provider LinkProvider) (*VinylAuth, error) {
	cfg.EnsureDefaults()
	sessions, err := NewSessionService(cfg, users)
	if err != nil {
		return nil, err
	}
	hasher := NewBcryptHasher(cfg.BcryptCost)
	a := &VinylAuth{
		Config:     cfg,
		Users:      users,
		Hasher:     hasher,
		Sessions:   sessions,
		Linker:     NewLinker(provider, users, cfg),
		Handshakes: NewCookieHandshakeStore(cfg),
		APIGate: &Middleware{
			AuthTokenCookieName: cfg.SessionCookieName,
			CallbackURLParam:    cfg.CallbackURLParam,
			Verifier:            sessions,
		},
		PageGate: &Middleware{
			AuthTokenCookieName: cfg.SessionCookieName,
			CallbackURLParam:    cfg.CallbackURLParam,
			LoginURL:            cfg.LoginURL,
			Verifier:            sessions,
		},
	}
	a.Local = &LocalAuth{
		Config:   cfg,
		Users:    users,
		Hasher:   hasher,
		Sessions: sessions,
		Accounts: NewAccountService(users, hasher, cfg),
		Emails:   &EmailVerifier{Users: users},
		Resets:   NewPasswordResets(users, hasher, cfg),
	}
	a.SetLogger(slog.Default())
	a.APIGate.EnsureReasonableDefaults()
	a.PageGate.EnsureReasonableDefaults()
	return a, nil
}

// SetLogger points every component at logger.
func (a *VinylAuth) SetLogger(logger *slog.Logger) *VinylAuth {
	a.Logger = logger
	a.Linker.Logger = logger
	a.Local.Logger = logger
	a.Local.Accounts.Logger = logger
	a.APIGate.Logger = logger
	a.PageGate.Logger = logger
	return a
}

// RequireLogin guards host application pages.
func (a *VinylAuth) RequireLogin(next http.Handler) http.Handler {
	return a.PageGate.EnsureUser(next)
}

// RequireAPIUser guards host application API routes.
func (a *VinylAuth) RequireAPIUser(next http.Handler) http.Handler {
	return a.APIGate.EnsureUser(next)
}

// Handler serves every route. Logging and recovery wrap the router itself,
// so unmatched requests are logged too.
func (a *VinylAuth) Handler() http.Handler {
	return a.setupRoutes().handler
}

func (a *VinylAuth) setupRoutes() *VinylAuth {
	if a.router != nil {
		return a
	}
	if a.Logger == nil {
		a.SetLogger(slog.Default())
	}
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()

	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/signup", a.Local.HandleSignup).Methods(http.MethodPost)
	auth.HandleFunc("/login", a.Local.HandleLogin).Methods(http.MethodPost)
	auth.HandleFunc("/logout", a.Local.HandleLogout).Methods(http.MethodPost)
	auth.HandleFunc("/refresh", a.Local.HandleRefresh).Methods(http.MethodPost)
	auth.HandleFunc("/forgot-password", a.Local.HandleForgotPassword).Methods(http.MethodPost)
	auth.HandleFunc("/reset-password", a.Local.HandleResetPassword).Methods(http.MethodPost)
	auth.HandleFunc("/verify-email", a.Local.HandleVerifyEmail).Methods(http.MethodGet)
	auth.Handle("/me", a.APIGate.EnsureUser(http.HandlerFunc(a.Local.HandleMe))).Methods(http.MethodGet)

	account := api.PathPrefix("/account").Subrouter()
	account.Use(a.APIGate.EnsureUser)
	account.HandleFunc("/password", a.Local.HandleChangePassword).Methods(http.MethodPost)
	account.HandleFunc("/delete", a.Local.HandleDeleteAccount).Methods(http.MethodPost)
	account.HandleFunc("/email", a.Local.HandleAddEmail).Methods(http.MethodPost)
	account.HandleFunc("/email/resend", a.Local.HandleResendVerification).Methods(http.MethodPost)

	discogs := api.PathPrefix("/discogs").Subrouter()
	if a.SessionManager != nil {
		discogs.Use(a.SessionManager.LoadAndSave)
	}
	discogs.HandleFunc("/connect", a.HandleConnect).Methods(http.MethodGet)
	discogs.HandleFunc("/callback", a.HandleCallback).Methods(http.MethodGet)
	discogs.Handle("/status", a.APIGate.EnsureUser(http.HandlerFunc(a.HandleLinkStatus))).Methods(http.MethodGet)
	discogs.Handle("/disconnect", a.APIGate.EnsureUser(http.HandlerFunc(a.HandleDisconnect))).Methods(http.MethodPost)

	a.router = r
	a.handler = LogRequests(a.Logger)(Recover(a.Logger)(r))
	return a
}

// HandleConnect starts the Discogs handshake. It authenticates the session
// cookie itself because it is reached by browser navigation.
func (a *VinylAuth) HandleConnect(w http.ResponseWriter, r *http.Request) {
	p, err := a.PageGate.Authenticate(r)
	if err != nil {
		a.PageGate.reject(w, r)
		return
	}
	authURL, state, err := a.Linker.BeginLink(r.Context(), p.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.Handshakes.Save(w, r, state); err != nil {
		writeError(w, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback finishes the handshake. Handshake state is discarded
// before anything else is written, whatever the outcome.
func (a *VinylAuth) HandleCallback(w http.ResponseWriter, r *http.Request) {
	state, loadErr := a.Handshakes.Load(r)
	if err := a.Handshakes.Clear(w, r); err != nil {
		a.Logger.Warn("failed to clear discogs handshake", "error", err)
	}
	if loadErr != nil {
		a.Logger.Info("discogs callback without valid handshake", "error", loadErr)
		state = nil
	}

	q := r.URL.Query()
	params := CallbackParams{
		RequestToken: q.Get("oauth_token"),
		Verifier:     q.Get("oauth_verifier"),
		Denied:       q.Get("denied"),
	}
	if _, err := a.Linker.Callback(r.Context(), state, params); err != nil {
		writeError(w, err)
		return
	}
	http.Redirect(w, r, a.Config.LinkSuccessURL, http.StatusFound)
}

func (a *VinylAuth) HandleLinkStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, ErrUnauthorized)
		return
	}
	status, err := a.Linker.Status(r.Context(), p.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *VinylAuth) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, ErrUnauthorized)
		return
	}
	if err := a.Linker.Disconnect(r.Context(), p.UserID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Discogs account disconnected",
	})
}
