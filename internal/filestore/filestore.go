package filestore

import (
	"io"
	"strings"
)

// FileStore is an interface for storing and retrieving files by their hash.
type FileStore interface {
	// Save saves the file content with the given hash.
	// It is idempotent: if a file with the same hash already exists, it returns nil.
	Save(r io.Reader, hash string) error

	// Get retrieves the file content for the given hash.
	Get(hash string) (io.ReadCloser, error)

	// Delete removes the file. Deleting a missing file is not an error.
	Delete(hash string) error
}

const mediaPath = "/api/media/"

// URL returns the stable public URL of a stored file.
func URL(baseURL, hash string) string {
	return strings.TrimRight(baseURL, "/") + mediaPath + hash
}

// ExtractID returns the file hash from a URL produced by URL for the same
// base. URLs pointing elsewhere (default avatars, external hosts) yield false.
func ExtractID(baseURL, url string) (string, bool) {
	prefix := strings.TrimRight(baseURL, "/") + mediaPath
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	id := strings.TrimPrefix(url, prefix)
	if id == "" || strings.ContainsAny(id, "/?#") {
		return "", false
	}
	return id, true
}
