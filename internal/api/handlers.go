package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"strconv"

	"govorilka/internal/auth"
	"govorilka/internal/chat"
	"govorilka/internal/filestore"
	"govorilka/internal/models"
)

const maxJSONBody = 1 << 20

type tokenService interface {
	GetUserID(token string) (string, error)
	Revoke(token string)
}

type presenceView interface {
	OnlineUsers() []string
}

type API struct {
	auth           tokenService
	chat           *chat.Service
	media          *filestore.Media
	presence       presenceView
	maxAvatarBytes int64
}

func New(auth tokenService, chat *chat.Service, media *filestore.Media, presence presenceView, maxAvatarBytes int64) *API {
	if maxAvatarBytes <= 0 {
		maxAvatarBytes = DefaultMaxAvatarBytes
	}
	return &API{
		auth:           auth,
		chat:           chat,
		media:          media,
		presence:       presence,
		maxAvatarBytes: maxAvatarBytes,
	}
}

type ctxKey struct{}

// RequireAuth resolves the caller from the access token and stores the user
// id in the request context.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.auth.GetUserID(auth.TokenFromRequest(r))
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	}
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

// viewOf returns conv as userID sees it: other participants' unread
// counters are not exposed.
func viewOf(conv models.Conversation, userID string) models.Conversation {
	conv.UnreadCount = map[string]int{userID: conv.Unread(userID)}
	return conv
}

func viewsOf(convs []models.Conversation, userID string) []models.Conversation {
	out := make([]models.Conversation, len(convs))
	for i, c := range convs {
		out[i] = viewOf(c, userID)
	}
	return out
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// writeError maps err onto the error taxonomy. Unclassified errors are
// logged and reported without details.
func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, models.APIResponse{
		Success: false,
		Error:   models.ErrorKind(err),
		Message: msg,
	})
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is required: %w", models.ErrInvalidArgument)
		}
		return fmt.Errorf("invalid request body: %w", models.ErrInvalidArgument)
	}
	return nil
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("invalid limit %q: %w", raw, models.ErrInvalidArgument)
	}
	return limit, nil
}

// LogoffHandler revokes the caller's token.
func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	if token := auth.TokenFromRequest(r); token != "" {
		a.auth.Revoke(token)
	}
	writeOK(w)
}

func (a *API) OnlineUsersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Users []string `json:"users"`
	}{Users: a.presence.OnlineUsers()})
}
