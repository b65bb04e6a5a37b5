package creds

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenInfo is what the client can read out of its own bearer token without
// holding the server's verification key.
type TokenInfo struct {
	Subject   string
	ExpiresAt time.Time
}

// InspectToken parses claims without verifying the signature; the server
// remains the sole authority on token validity. A malformed or opaque token
// yields a zero TokenInfo, not an error.
func InspectToken(token string) TokenInfo {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return TokenInfo{}
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return TokenInfo{}
	}
	var info TokenInfo
	if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	return info
}

// NearExpiry reports whether the token should be refreshed before use.
func (t TokenInfo) NearExpiry(window time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return time.Until(t.ExpiresAt) < window
}
