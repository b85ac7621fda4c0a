package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"govorilka/internal/models"

	"github.com/stretchr/testify/require"
)

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter := NewRateLimiter(ctx, 2)
	clock := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return clock }

	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeOK(w)
	}))
	request := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/online", nil)
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, request("10.0.0.1:1000").Code)
	require.Equal(t, http.StatusOK, request("10.0.0.1:1001").Code)

	rec := request("10.0.0.1:1002")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
	var resp models.APIResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.False(t, resp.Success)
	require.Equal(t, "rate_limited", resp.Error)

	// Buckets are per client address.
	require.Equal(t, http.StatusOK, request("10.0.0.2:1000").Code)

	clock = clock.Add(time.Second)
	require.Equal(t, http.StatusOK, request("10.0.0.1:1003").Code)
}
