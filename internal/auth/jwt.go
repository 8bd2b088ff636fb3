// Package auth protects the engine API with short-lived bearer tokens.
//
// AUTHENTICATION FLOW:
//  1. An operator registers API clients as id:bcrypt-hash pairs (API_CLIENTS).
//  2. A client posts its id and secret to POST /auth/token.
//  3. The server checks the secret against the stored hash and returns a
//     signed JWT whose subject is the client id.
//  4. Later calls send "Authorization: Bearer <jwt>"; RequireAuth validates
//     the signature and expiry and puts the client id in the request context.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"sub":"clientID","iss":"code-runner","exp":1234567890}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
//
// Verification needs only the secret; there is no session table.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errMissingToken = errors.New("auth: missing bearer token")

const (
	issuer = "code-runner"

	// DefaultTokenTTL is used when NewTokenService gets a zero ttl.
	DefaultTokenTTL = 15 * time.Minute
)

// TokenService signs and verifies access tokens with one HMAC secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService. The secret must be at least 16
// characters. Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// TTL is the lifetime of tokens issued by Generate.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

type claims struct {
	jwt.RegisteredClaims
}

// Generate issues a token for clientID valid for the service TTL.
func (s *TokenService) Generate(clientID string) (string, error) {
	return s.GenerateWithDuration(clientID, s.ttl)
}

// GenerateWithDuration issues a token with a custom lifetime. A negative d
// yields an already expired token, which the tests rely on.
func (s *TokenService) GenerateWithDuration(clientID string, d time.Duration) (string, error) {
	if clientID == "" {
		return "", errors.New("auth: client id must not be empty")
	}
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a token and returns its client id.
//
// The jwt library checks the signature, the expiry and the issuer.
// jwt.WithValidMethods pins HS256 so a token claiming "alg":"none" is
// rejected before the key func runs.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errors.New("auth: token expired")
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", errors.New("auth: invalid token claims")
	}
	if c.Subject == "" {
		return "", errors.New("auth: token has no subject")
	}
	return c.Subject, nil
}
