package moodo

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiresAt extracts the expiry timestamp from a Moodo session token.
//
// The token is a JWT issued by the cloud; we cannot verify its signature
// (the signing key is Moodo's), so the claims are parsed unverified purely
// to schedule proactive re-login before the session lapses.
//
// Returns:
//   - time.Time: The exp claim
//   - error: ErrAuth if the token is malformed or carries no expiry
func TokenExpiresAt(token string) (time.Time, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: parsing session token: %w", ErrAuth, err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("%w: session token has no expiry", ErrAuth)
	}
	return exp.Time, nil
}

// TokenExpiringWithin reports whether the token expires inside the given
// window. Tokens that cannot be parsed are treated as expiring so the
// caller re-logs in rather than carrying an opaque credential.
func TokenExpiringWithin(token string, window time.Duration) bool {
	expiresAt, err := TokenExpiresAt(token)
	if err != nil {
		return true
	}
	return time.Until(expiresAt) < window
}
