package auth

import (
	"net/http"
	"strings"
)

// TokenFromRequest extracts the access token from the Authorization bearer
// header, the token header, or the token query parameter, in that order.
// Browsers cannot set headers on websocket upgrades, hence the query form.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if token := r.Header.Get("token"); token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}
