// Package service holds business logic that sits between HTTP handlers and
// the lower-level packages.
//
//	AuthHandler (HTTP) → AuthService (client credentials) → auth.SecretHasher
//	                                                       ↘ auth.TokenService
//
// The service knows nothing about HTTP: it returns apperror values and the
// handler maps them to status codes.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/auth"
)

// AuthService exchanges client credentials for access tokens.
type AuthService struct {
	clients map[string]string // client id -> bcrypt hash
	hasher  *auth.SecretHasher
	tokens  *auth.TokenService
	logger  *slog.Logger

	// dummyHash is compared against for unknown clients so both paths cost
	// one bcrypt comparison.
	dummyHash string
}

// NewAuthService creates an AuthService. clients maps client ids to bcrypt
// hashes of their secrets.
func NewAuthService(
	clients map[string]string,
	hasher *auth.SecretHasher,
	tokens *auth.TokenService,
	logger *slog.Logger,
) (*AuthService, error) {
	dummy, err := hasher.Hash("no-such-client")
	if err != nil {
		return nil, fmt.Errorf("service/auth: preparing dummy hash: %w", err)
	}

	copied := make(map[string]string, len(clients))
	for id, hash := range clients {
		copied[id] = hash
	}

	return &AuthService{
		clients:   copied,
		hasher:    hasher,
		tokens:    tokens,
		logger:    logger,
		dummyHash: dummy,
	}, nil
}

// TokenResult is the issued token and its lifetime.
type TokenResult struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// IssueToken verifies clientID and secret and signs a token for the client.
// Unknown clients and wrong secrets get the same Unauthorized error.
func (s *AuthService) IssueToken(ctx context.Context, clientID, secret string) (*TokenResult, error) {
	if clientID == "" || secret == "" {
		return nil, apperror.ValidationFailed("client_id", "client_id and client_secret are required")
	}

	hash, known := s.clients[clientID]
	if !known {
		hash = s.dummyHash
	}
	if err := s.hasher.Verify(hash, secret); err != nil || !known {
		s.logger.WarnContext(ctx, "client authentication failed", slog.String("client_id", clientID))
		return nil, apperror.Unauthorized("invalid client credentials")
	}

	token, err := s.tokens.Generate(clientID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for %s: %w", clientID, err)
	}

	s.logger.InfoContext(ctx, "token issued", slog.String("client_id", clientID))
	return &TokenResult{AccessToken: token, ExpiresIn: s.tokens.TTL()}, nil
}

// ValidateToken returns the client id encoded in tokenStr.
func (s *AuthService) ValidateToken(tokenStr string) (string, error) {
	clientID, err := s.tokens.Validate(tokenStr)
	if err != nil {
		return "", fmt.Errorf("service/auth: %w", err)
	}
	return clientID, nil
}
