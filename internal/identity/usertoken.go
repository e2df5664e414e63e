package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrNoSecret is returned when a verifier is built without a signing secret.
var ErrNoSecret = errors.New("identity: jwt secret is empty")

// UserClaims are the JWT claims of a user bearer token. The owner id is the
// standard "sub" claim.
type UserClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// UserID returns the token's subject.
func (c *UserClaims) UserID() string { return c.Subject }

// TokenVerifier issues and verifies HS256 user tokens with a shared secret.
type TokenVerifier struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenVerifier creates a TokenVerifier.
//
//	issuer: expected "iss" claim; empty disables the issuer check.
//	ttl:    lifetime of issued tokens (default: 7 days).
func NewTokenVerifier(secret, issuer string, ttl time.Duration) (*TokenVerifier, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if ttl == 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &TokenVerifier{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// Issue creates a signed token for userID.
func (v *TokenVerifier) Issue(userID, email string) (string, error) {
	now := time.Now().UTC()
	claims := UserClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
			ID:        uuid.New().String(),
		},
		Email: email,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign user token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims.
func (v *TokenVerifier) Verify(tokenStr string) (*UserClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, &UserClaims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("verify user token: %w", err)
	}
	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid user token claims")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("user token has no subject")
	}
	return claims, nil
}
