// Package vinylauth is the authentication core of the vinyl collection
// service: session tokens, the request gate, password and account
// operations, email verification, password reset and linking a Discogs
// account over OAuth 1.0a.
//
// # Architecture
//
// SessionService issues and verifies signed, stateless session tokens that
// travel in the "token" cookie. Middleware (the gate) verifies that cookie
// and attaches a Principal to the request context; handlers behind it read
// PrincipalFromContext and never look at the token again.
//
// AccountService, EmailVerifier and PasswordResets implement the account
// operations on top of a UserStore. Implementations of UserStore live in
// stores/fs (JSON files), stores/gorm (any GORM database) and stores/gae
// (Cloud Datastore).
//
// Linker runs the three-legged Discogs handshake. A LinkProvider talks to
// Discogs (see the discogs package) and a HandshakeStore keeps the request
// token between the redirect to Discogs and its callback.
//
// # Basic Usage
//
//	users := fs.NewUserStore("/path/to/storage")
//	cfg := vinylauth.DefaultConfig()
//	cfg.JWTSecretKey = os.Getenv("VINYL_JWT_SECRET")
//	auth, err := vinylauth.New(cfg, users, discogs.NewClient(discogsCfg))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	router := mux.NewRouter()
//	router.PathPrefix("/api/").Handler(auth.Handler())
//	router.Handle("/profile", auth.RequireLogin(profilePage))
//
// # Security
//
// Passwords are hashed with bcrypt. Verification and reset tokens are 32
// random bytes, hex encoded, and single use. Reset tokens expire after an
// hour. Forgot-password responds identically whether or not the email is
// known. Session tokens cannot be revoked before they expire; logout only
// clears the cookie.
package vinylauth
