package commands

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"govorilka/internal/api"
	"govorilka/internal/config"

	"github.com/stretchr/testify/require"
)

func TestIssueToken(t *testing.T) {
	var gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/admin/tokens", r.URL.Path)
		var req api.IssueTokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotUser = req.UserID
		if req.UserID == "bad user" {
			http.Error(w, "invalid user id", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(api.IssueTokenResponse{
			Success:   true,
			UserID:    req.UserID,
			Token:     "signed",
			ExpiresAt: 1700000000,
		})
	}))
	defer srv.Close()

	cfg := &config.Config{AdminAddr: strings.TrimPrefix(srv.URL, "http://")}

	require.NoError(t, IssueToken("alice", cfg))
	require.Equal(t, "alice", gotUser)

	err := IssueToken("bad user", cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "400")
}
