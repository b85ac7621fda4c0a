package api

import (
	"fmt"
	"net/http"
	"time"

	"govorilka/internal/content"
	"govorilka/internal/models"
)

type tokenIssuer interface {
	IssueToken(userID string) (string, time.Time, error)
}

type userForgetter interface {
	ForgetUser(userID string) (int, error)
}

type sessionCloser interface {
	DisconnectUser(userID string) int
}

type AdminHandler struct {
	issuer   tokenIssuer
	chat     userForgetter
	sessions sessionCloser
}

func NewAdminHandler(issuer tokenIssuer, chat userForgetter, sessions sessionCloser) *AdminHandler {
	return &AdminHandler{issuer: issuer, chat: chat, sessions: sessions}
}

type IssueTokenRequest struct {
	UserID string `json:"userId"`
}

type IssueTokenResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Token     string `json:"token,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"` // Unix seconds
}

// IssueTokenHandler signs an access token for a user id. The account
// service normally does this; the endpoint serves operators and tests.
func (h *AdminHandler) IssueTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req IssueTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := content.ValidateUserID(req.UserID); err != nil {
		writeError(w, err)
		return
	}

	token, expiresAt, err := h.issuer.IssueToken(req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, IssueTokenResponse{
		Success:   true,
		UserID:    req.UserID,
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
	})
}

// DeleteUserHandler is called when an account is deleted upstream: the
// user's messages lose their sender and open sessions are closed.
// Conversation membership is left to the clients (leave/remove).
func (h *AdminHandler) DeleteUserHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	detached, err := h.chat.ForgetUser(userID)
	if err != nil {
		writeError(w, err)
		return
	}
	closed := h.sessions.DisconnectUser(userID)

	writeJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: fmt.Sprintf("User %s forgotten: %d messages detached, %d sessions closed", userID, detached, closed),
	})
}
