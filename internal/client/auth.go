package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired is returned by CheckToken for an expired bearer token.
var ErrTokenExpired = errors.New("auth token has expired")

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
// ok is false when the token carries no expiry. Opaque (non-JWT) tokens
// return an error.
func TokenExpiry(token string) (exp time.Time, ok bool, err error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false, fmt.Errorf("parse token: %w", err)
	}
	nd, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read exp claim: %w", err)
	}
	if nd == nil {
		return time.Time{}, false, nil
	}
	return nd.Time, true, nil
}

// CheckToken fails when token is a JWT that expires within margin. Empty and
// opaque tokens pass; the server has the final word on them.
func CheckToken(token string, margin time.Duration) error {
	if token == "" {
		return nil
	}
	exp, ok, err := TokenExpiry(token)
	if err != nil || !ok {
		return nil
	}
	if time.Now().Add(margin).After(exp) {
		return fmt.Errorf("%w (expired at %s)", ErrTokenExpired, exp.Format(time.RFC3339))
	}
	return nil
}
