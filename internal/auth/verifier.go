package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Verification failure kinds. Clients only ever see a generic rejection; the
// distinction is kept for server-side logs.
var (
	ErrMalformed        = errors.New("malformed token")
	ErrExpired          = errors.New("token has expired")
	ErrInvalidSignature = errors.New("invalid token signature")
)

// Claims is the JWT payload issued by the auth layer.
type Claims struct {
	UserID int `json:"user_id"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens presented at connection establishment.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier around a pre-shared HMAC secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify validates the token's signature and expiration and returns the
// authenticated user id. It has no side effects and is called exactly once
// per connection attempt.
func (v *Verifier) Verify(token string) (int, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSignature
		}
		return v.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return 0, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return 0, ErrInvalidSignature
		default:
			return 0, ErrMalformed
		}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == 0 {
		return 0, ErrMalformed
	}
	return claims.UserID, nil
}
