package api

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"govorilka/internal/models"

	"github.com/h2non/filetype"
)

const DefaultMaxAvatarBytes = 5 << 20

// readAvatar reads the "avatar" multipart file and checks that it is an
// image no larger than the configured limit.
func (a *API) readAvatar(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxAvatarBytes+maxJSONBody)
	if err := r.ParseMultipartForm(a.maxAvatarBytes); err != nil {
		return nil, "", fmt.Errorf("invalid multipart form: %w", models.ErrInvalidArgument)
	}

	file, _, err := r.FormFile("avatar")
	if err != nil {
		return nil, "", fmt.Errorf("avatar file is required: %w", models.ErrInvalidArgument)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, a.maxAvatarBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read avatar: %w", err)
	}
	if int64(len(data)) > a.maxAvatarBytes {
		return nil, "", fmt.Errorf("avatar larger than %d bytes: %w", a.maxAvatarBytes, models.ErrInvalidArgument)
	}
	if !filetype.IsImage(data) {
		return nil, "", fmt.Errorf("avatar must be an image: %w", models.ErrInvalidArgument)
	}
	kind, err := filetype.Match(data)
	if err != nil {
		return nil, "", fmt.Errorf("avatar must be an image: %w", models.ErrInvalidArgument)
	}
	return data, kind.MIME.Value, nil
}

func (a *API) UploadGroupAvatarHandler(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	conversationID := r.PathValue("id")

	// Reject non-admins before anything is written to the media store.
	before, err := a.chat.GetConversation(caller, conversationID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !before.IsGroup {
		writeError(w, fmt.Errorf("conversation %s is not a group conversation: %w", conversationID, models.ErrInvalidArgument))
		return
	}
	if !before.IsAdmin(caller) {
		writeError(w, fmt.Errorf("user %s is not an admin of %s: %w", caller, conversationID, models.ErrForbidden))
		return
	}

	data, mimeType, err := a.readAvatar(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	url, err := a.media.Store(data, mimeType, caller, conversationID)
	if err != nil {
		writeError(w, err)
		return
	}

	conv, err := a.chat.UpdateAvatar(caller, conversationID, url)
	if err != nil {
		if url != before.GroupAvatar {
			if relErr := a.media.Release(url); relErr != nil {
				slog.Error("release of unused avatar failed", "url", url, "error", relErr)
			}
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(conv, callerID(r)))
}

// GetMediaHandler serves stored media. Media URLs are unguessable content
// hashes and are embedded in <img> tags, so no token is required.
func (a *API) GetMediaHandler(w http.ResponseWriter, r *http.Request) {
	rc, meta, err := a.media.Open(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if _, err := io.Copy(w, rc); err != nil {
		slog.Debug("media copy interrupted", "id", meta.ID, "error", err)
	}
}
