package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/code-runner/internal/service"
)

// TokenIssuer is the part of *service.AuthService the handler uses.
type TokenIssuer interface {
	IssueToken(ctx context.Context, clientID, secret string) (*service.TokenResult, error)
}

// AuthHandler exchanges client credentials for bearer tokens.
type AuthHandler struct {
	auth   TokenIssuer
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(auth TokenIssuer, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// HandleToken issues an access token.
//
// HTTP: POST /auth/token
//
//	{"client_id": "ci", "client_secret": "..."}
//	→ 200 {"access_token": "...", "token_type": "Bearer", "expires_in": 900}
func (h *AuthHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.auth.IssueToken(r.Context(), req.ClientID, req.ClientSecret)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: res.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(res.ExpiresIn.Seconds()),
	})
}
