package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"govorilka/internal/api"
	"govorilka/internal/config"
)

// IssueToken asks the running server's admin API for an access token and
// prints it.
func IssueToken(userID string, cfg *config.Config) error {
	reqBody, err := json.Marshal(api.IssueTokenRequest{UserID: userID})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("http://%s/admin/tokens", cfg.AdminAddr)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to issue token (Status: %d): %s", resp.StatusCode, string(body))
	}

	var result api.IssueTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("\nToken issued for %s\n", result.UserID)
	fmt.Printf("Expires at: %s\n", time.Unix(result.ExpiresAt, 0).Format(time.RFC3339))
	fmt.Printf("Token:      %s\n\n", result.Token)
	fmt.Println("Send it as 'Authorization: Bearer <token>' or as ?token= on the websocket URL.")
	return nil
}
