package filestore

import (
	"io"
	"path/filepath"
	"testing"

	"govorilka/internal/models"
	"govorilka/internal/storage"

	"github.com/stretchr/testify/require"
)

func newTestMedia(t *testing.T) *Media {
	t.Helper()
	files, err := NewLocalFileStore(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)
	meta, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "media.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })
	return NewMedia(files, meta, "http://localhost:8080")
}

func TestMedia(t *testing.T) {
	m := newTestMedia(t)
	data := []byte("\x89PNG fake image")

	url, err := m.Store(data, "image/png", "alice", "g1")
	require.NoError(t, err)

	id, ok := ExtractID("http://localhost:8080", url)
	require.True(t, ok)

	r, meta, err := m.Open(id)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, data, got)
	require.Equal(t, "image/png", meta.MimeType)
	require.Equal(t, "g1", meta.ConversationID)
	require.EqualValues(t, len(data), meta.Size)

	t.Run("SameBytesOtherGroup", func(t *testing.T) {
		other, err := m.Store(data, "image/png", "bob", "g2")
		require.NoError(t, err)
		require.NotEqual(t, url, other)
	})

	t.Run("ReleaseForeignURL", func(t *testing.T) {
		require.NoError(t, m.Release(models.DefaultGroupAvatar))
		require.NoError(t, m.Release("https://elsewhere.example.com/a.png"))
	})

	t.Run("Release", func(t *testing.T) {
		require.NoError(t, m.Release(url))
		_, _, err := m.Open(id)
		require.ErrorIs(t, err, models.ErrNotFound)
		// Releasing twice is harmless.
		require.NoError(t, m.Release(url))
	})
}
