package filestore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"govorilka/internal/models"
	"govorilka/internal/storage"
)

type MetadataStore interface {
	UpsertFileMetadata(meta storage.FileMetadata) error
	GetFileMetadata(id string) (storage.FileMetadata, error)
	DeleteFileMetadata(id string) error
}

// Media stores uploaded group media and hands out public URLs for it.
type Media struct {
	files   FileStore
	meta    MetadataStore
	baseURL string
	now     func() time.Time
}

func NewMedia(files FileStore, meta MetadataStore, baseURL string) *Media {
	return &Media{
		files:   files,
		meta:    meta,
		baseURL: baseURL,
		now:     time.Now,
	}
}

// mediaID is content-addressed per conversation, so releasing one group's
// avatar never removes a file another group still points at.
func mediaID(conversationID string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(conversationID))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Store saves the file and returns its public URL.
func (m *Media) Store(data []byte, mimeType, userID, conversationID string) (string, error) {
	id := mediaID(conversationID, data)
	if err := m.files.Save(bytes.NewReader(data), id); err != nil {
		return "", fmt.Errorf("failed to save media: %w", err)
	}

	err := m.meta.UpsertFileMetadata(storage.FileMetadata{
		ID:             id,
		MimeType:       mimeType,
		Size:           int64(len(data)),
		CreatedAt:      m.now().UnixMilli(),
		UserID:         userID,
		ConversationID: conversationID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to save media metadata: %w", err)
	}
	return URL(m.baseURL, id), nil
}

// Open returns the content and metadata of a stored file. The caller closes
// the reader.
func (m *Media) Open(id string) (io.ReadCloser, storage.FileMetadata, error) {
	meta, err := m.meta.GetFileMetadata(id)
	if err != nil {
		return nil, storage.FileMetadata{}, err
	}
	r, err := m.files.Get(id)
	if err != nil {
		return nil, storage.FileMetadata{}, err
	}
	return r, meta, nil
}

// Release deletes the file behind a URL issued by Store. URLs this store did
// not issue, such as the default group avatar, are ignored.
func (m *Media) Release(url string) error {
	id, ok := ExtractID(m.baseURL, url)
	if !ok {
		return nil
	}
	if err := m.files.Delete(id); err != nil {
		return err
	}
	if err := m.meta.DeleteFileMetadata(id); err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}
	slog.Debug("media released", "id", id)
	return nil
}
