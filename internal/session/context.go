package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSession indicates the core was asked to operate without a usable
// identity. The caller must obtain fresh credentials from the identity
// provider; nothing in this core can recover from it.
var ErrNoSession = errors.New("no valid session: missing user id or token")

// Context is the immutable identity handed to the core at construction.
// It is the only source of "who am I" — components never read identity
// from ambient state.
type Context struct {
	UserID string
	Token  string
}

// NewContext builds a session context from externally supplied credentials.
func NewContext(userID, token string) Context {
	return Context{UserID: userID, Token: token}
}

// Valid reports whether the context carries both a user id and a token.
func (c Context) Valid() bool {
	return c.UserID != "" && c.Token != ""
}

// RequireValid returns ErrNoSession when the context is unusable. Callers
// issuing transport or store requests check this first so a dead session
// fails fast instead of producing confusing backend rejections.
func (c Context) RequireValid() error {
	if !c.Valid() {
		return ErrNoSession
	}
	if expired, err := c.tokenExpired(); err == nil && expired {
		return fmt.Errorf("%w: token expired", ErrNoSession)
	}
	return nil
}

// tokenExpired inspects the bearer token's exp claim when the token is a
// JWT. The signature is deliberately not verified — the backend is the
// authority; this only avoids connects that are guaranteed to be rejected.
// Opaque (non-JWT) tokens report not-expired.
func (c Context) tokenExpired() (bool, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(c.Token, claims); err != nil {
		return false, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false, err
	}
	return exp.Before(time.Now()), nil
}
