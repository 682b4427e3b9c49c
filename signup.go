package vinylauth

import (
	"errors"
	"net/http"
)

// HandleSignup registers a user and logs them in. A supplied email starts
// unverified and a verification link is sent to it.
func (a *LocalAuth) HandleSignup(w http.ResponseWriter, r *http.Request) {
	fields, err := parseFields(w, r, "username", "password", "email")
	if err != nil {
		writeError(w, err)
		return
	}
	creds := &Credentials{Username: fields["username"], Password: fields["password"]}
	if fields["email"] != "" {
		email := fields["email"]
		creds.Email = &email
	}

	validate := a.ValidateSignup
	if validate == nil {
		validate = NewSignupValidator(a.Config.MinPasswordLength)
	}
	if err := validate(creds); err != nil {
		writeError(w, err)
		return
	}

	user, verifyToken, err := a.createUser(r, creds)
	if err != nil {
		writeError(w, err)
		return
	}

	if verifyToken != "" {
		if err := a.sender().SendVerificationEmail(user.EmailValue(), a.link("/verify-email", verifyToken)); err != nil {
			a.logger().Error("failed to send verification email", "user_id", user.ID, "error", err)
		}
	}

	expiresAt, err := a.startSession(w, user, a.Sessions.LoginTTL())
	if err != nil {
		writeError(w, err)
		return
	}
	a.logger().Info("user signed up", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":      user.Profile(),
		"expiresAt": expiresAt,
	})
}

func (a *LocalAuth) createUser(r *http.Request, creds *Credentials) (*User, string, error) {
	ctx := r.Context()
	if _, err := a.Users.GetUserByUsername(ctx, creds.Username); err == nil {
		return nil, "", errUsernameTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, "", err
	}
	if creds.Email != nil {
		if _, err := a.Users.GetUserByEmail(ctx, *creds.Email); err == nil {
			return nil, "", errEmailInUse
		} else if !errors.Is(err, ErrNotFound) {
			return nil, "", err
		}
	}

	hash, err := a.Hasher.Hash(creds.Password)
	if err != nil {
		return nil, "", err
	}
	user := &User{
		Username:     creds.Username,
		PasswordHash: hash,
		Email:        creds.Email,
	}
	var verifyToken string
	if creds.Email != nil {
		if verifyToken, err = GenerateSecureToken(); err != nil {
			return nil, "", err
		}
		user.EmailVerificationToken = StringPtr(verifyToken)
	}

	created, err := a.Users.CreateUser(ctx, user)
	if errors.Is(err, ErrConflict) {
		// Lost a race on one of the unique columns.
		return nil, "", NewAuthError(ErrConflict, ErrCodeUsernameTaken, "Username or email is already in use", "username")
	}
	if err != nil {
		return nil, "", err
	}
	return created, verifyToken, nil
}

var errUsernameTaken = NewAuthError(ErrConflict, ErrCodeUsernameTaken, "Username is already taken", "username")
