package consent

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// The client carries a signed token (cookie) binding it to the session its
// consent was recorded under. The token cannot grant consent by itself; the
// durable row decides on every check, so revoking stays effective even when
// a client keeps presenting a stale cookie.

func signToken(secret []byte, sessionID string, issuedAt, expiresAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// verifyToken returns the session the token vouches for, or "" when the
// token is absent, forged, expired, or signed for another session.
func verifyToken(secret []byte, token string, now time.Time) string {
	if token == "" {
		return ""
	}
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil || !parsed.Valid {
		return ""
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return ""
	}
	return claims.Subject
}
