package authgw

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that doesn't verify: expired,
// wrong signature, or missing subject.
var ErrInvalidToken = errors.New("authgw: invalid session token")

// TokenService issues and verifies the JWTs that let a client reconnect
// without re-sending its password.
type TokenService struct {
	secret []byte
	expiry time.Duration
}

// NewTokenService builds a TokenService. secret must be non-empty.
func NewTokenService(secret string, expiry time.Duration) *TokenService {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &TokenService{secret: []byte(secret), expiry: expiry}
}

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Issue mints a signed token carrying the verified email.
func (t *TokenService) Issue(email string) (string, error) {
	c := claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(t.expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(t.secret)
}

// Verify parses a token and returns the email it was issued for.
func (t *TokenService) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.Email == "" {
		return "", ErrInvalidToken
	}
	return c.Email, nil
}
