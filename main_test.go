package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"govorilka/internal/api"
	"govorilka/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const (
	testAdminAddr = "127.0.0.1:18888"
	testAPIAddr   = "127.0.0.1:18887"
	testBaseURL   = "http://" + testAPIAddr
)

func doJSON(t *testing.T, method, url, token string, body, out any) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func issueToken(t *testing.T, userID string) string {
	t.Helper()
	var resp api.IssueTokenResponse
	status := doJSON(t, http.MethodPost, "http://"+testAdminAddr+"/admin/tokens", "", api.IssueTokenRequest{UserID: userID}, &resp)
	require.Equal(t, http.StatusOK, status)
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

// readUntil reads frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want models.ServerMessageType) models.ServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg models.ServerMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == want {
			return msg
		}
	}
}

func TestIntegration(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GOVORILKA_DB", filepath.Join(dir, "integration_test.db"))
	t.Setenv("UPLOADS_PATH", filepath.Join(dir, "uploads"))
	t.Setenv("ADMIN_ADDR", testAdminAddr)
	t.Setenv("API_ADDR", testAPIAddr)
	t.Setenv("BASE_URL", testBaseURL)
	t.Setenv("AUTH_SECRET", "very-secure-test-secret")

	// Start server in background
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, nil)
	}()
	defer func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
	}()

	waitForServer(t, "http://"+testAdminAddr+"/admin/tokens", 20)
	waitForServer(t, testBaseURL+"/group-avatar.png", 20)

	alice := issueToken(t, "alice")
	bob := issueToken(t, "bob")
	carol := issueToken(t, "carol")

	// Step 1: Unauthenticated requests are rejected.
	var apiErr models.APIResponse
	status := doJSON(t, http.MethodGet, testBaseURL+"/api/conversations", "", nil, &apiErr)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "unauthorized", apiErr.Error)

	// Step 2: Direct conversation, same id from both sides.
	var direct models.Conversation
	status = doJSON(t, http.MethodPost, testBaseURL+"/api/conversations/direct", alice, map[string]string{"userId": "bob"}, &direct)
	require.Equal(t, http.StatusOK, status)

	var again models.Conversation
	status = doJSON(t, http.MethodPost, testBaseURL+"/api/conversations/direct", bob, map[string]string{"userId": "alice"}, &again)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, direct.ID, again.ID)

	// Step 3: Bob connects to the realtime channel and joins the conversation.
	wsURL := fmt.Sprintf("ws://%s/api/ws?token=%s", testAPIAddr, bob)
	bobConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = bobConn.Close() }()

	require.NoError(t, bobConn.WriteJSON(models.ClientMessage{Type: models.ClientMessageTypeRegisterPresence, UserID: "bob"}))
	online := readUntil(t, bobConn, models.ServerMessageTypeOnlineUsers)
	require.Equal(t, []string{"bob"}, online.Users)

	require.NoError(t, bobConn.WriteJSON(models.ClientMessage{Type: models.ClientMessageTypeJoinConversation, ConversationID: direct.ID}))
	// The reply to getOnlineUsers proves the join was processed.
	require.NoError(t, bobConn.WriteJSON(models.ClientMessage{Type: models.ClientMessageTypeGetOnlineUsers}))
	readUntil(t, bobConn, models.ServerMessageTypeOnlineUsers)

	var onlineResp struct {
		Users []string `json:"users"`
	}
	status = doJSON(t, http.MethodGet, testBaseURL+"/api/online", alice, nil, &onlineResp)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, []string{"bob"}, onlineResp.Users)

	// Step 4: Alice sends, Bob receives the event.
	var sent models.Message
	status = doJSON(t, http.MethodPost, testBaseURL+"/api/conversations/"+direct.ID+"/messages", alice, map[string]string{"text": "hi"}, &sent)
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, []string{"alice"}, sent.IsReadBy)

	event := readUntil(t, bobConn, models.ServerMessageTypeNewMessage)
	require.Equal(t, direct.ID, event.ConversationID)
	require.NotNil(t, event.Message)
	require.Equal(t, "hi", event.Message.Text)

	// Step 5: Unread counter, then markRead.
	var page models.ConversationPage
	status = doJSON(t, http.MethodGet, testBaseURL+"/api/conversations", bob, nil, &page)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, page.Conversations, 1)
	require.Equal(t, 1, page.Conversations[0].UnreadCount["bob"])
	require.Equal(t, "hi", page.Conversations[0].LastMessage)

	status = doJSON(t, http.MethodPost, testBaseURL+"/api/conversations/"+direct.ID+"/read", bob, nil, nil)
	require.Equal(t, http.StatusOK, status)

	var messages models.MessagePage
	status = doJSON(t, http.MethodGet, testBaseURL+"/api/conversations/"+direct.ID+"/messages?limit=10", bob, nil, &messages)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, messages.Messages, 1)
	require.ElementsMatch(t, []string{"alice", "bob"}, messages.Messages[0].IsReadBy)
	require.Nil(t, messages.NextCursor)

	// Carol is not a participant.
	status = doJSON(t, http.MethodGet, testBaseURL+"/api/conversations/"+direct.ID+"/messages", carol, nil, &apiErr)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "forbidden", apiErr.Error)

	// Step 6: Only the sender may delete.
	msgURL := fmt.Sprintf("%s/api/messages/%d", testBaseURL, sent.ID)
	status = doJSON(t, http.MethodDelete, msgURL, bob, nil, nil)
	require.Equal(t, http.StatusForbidden, status)
	status = doJSON(t, http.MethodDelete, msgURL, alice, nil, nil)
	require.Equal(t, http.StatusOK, status)
	deleted := readUntil(t, bobConn, models.ServerMessageTypeMessageDeleted)
	require.Equal(t, sent.ID, deleted.MessageID)

	// Step 7: Groups.
	var group models.Conversation
	status = doJSON(t, http.MethodPost, testBaseURL+"/api/groups", alice, map[string]any{
		"name":         "Trip",
		"participants": []string{"bob", "carol"},
	}, &group)
	require.Equal(t, http.StatusCreated, status)
	require.ElementsMatch(t, []string{"alice", "bob", "carol"}, group.Participants)
	require.Equal(t, []string{"alice"}, group.Admins)
	require.Equal(t, models.DefaultGroupAvatar, group.GroupAvatar)

	status = doJSON(t, http.MethodDelete, testBaseURL+"/api/groups/"+group.ID+"/participants", bob, map[string]any{"userIds": []string{"carol"}}, &apiErr)
	require.Equal(t, http.StatusForbidden, status)

	status = doJSON(t, http.MethodDelete, testBaseURL+"/api/groups/"+group.ID+"/admins", alice, map[string]any{"userIds": []string{"alice"}}, &apiErr)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "conflict", apiErr.Error)

	// Step 8: Group avatar upload and media serving.
	pngBase64 := "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="
	pngDecoded, err := base64.StdEncoding.DecodeString(pngBase64)
	require.NoError(t, err)

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	fw, err := mw.CreateFormFile("avatar", "avatar.png")
	require.NoError(t, err)
	_, err = fw.Write(pngDecoded)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	reqAvatar, err := http.NewRequest(http.MethodPost, testBaseURL+"/api/groups/"+group.ID+"/avatar", &form)
	require.NoError(t, err)
	reqAvatar.Header.Set("Content-Type", mw.FormDataContentType())
	reqAvatar.Header.Set("Authorization", "Bearer "+alice)
	respAvatar, err := http.DefaultClient.Do(reqAvatar)
	require.NoError(t, err)
	defer func() { _ = respAvatar.Body.Close() }()
	require.Equal(t, http.StatusOK, respAvatar.StatusCode)

	var withAvatar models.Conversation
	require.NoError(t, json.NewDecoder(respAvatar.Body).Decode(&withAvatar))
	require.Contains(t, withAvatar.GroupAvatar, testBaseURL+"/api/media/")

	respMedia, err := http.Get(withAvatar.GroupAvatar)
	require.NoError(t, err)
	defer func() { _ = respMedia.Body.Close() }()
	require.Equal(t, http.StatusOK, respMedia.StatusCode)
	require.Equal(t, "image/png", respMedia.Header.Get("Content-Type"))
	served, err := io.ReadAll(respMedia.Body)
	require.NoError(t, err)
	require.Equal(t, pngDecoded, served)

	// Step 9: Everybody leaves; the group is gone.
	for _, token := range []string{alice, bob, carol} {
		var left struct {
			Deleted bool `json:"deleted"`
		}
		status = doJSON(t, http.MethodPost, testBaseURL+"/api/groups/"+group.ID+"/leave", token, nil, &left)
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, token == carol, left.Deleted)
	}
	status = doJSON(t, http.MethodGet, testBaseURL+"/api/conversations/"+group.ID+"/messages", carol, nil, &apiErr)
	require.Equal(t, http.StatusNotFound, status)

	// Step 10: Deleting Bob upstream closes his socket.
	status = doJSON(t, http.MethodDelete, "http://"+testAdminAddr+"/admin/users/bob", "", nil, &apiErr)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, bobConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg models.ServerMessage
		err := bobConn.ReadJSON(&msg)
		if err == nil {
			continue
		}
		var netErr net.Error
		require.False(t, errors.As(err, &netErr) && netErr.Timeout(), "socket was not closed: %v", err)
		break
	}

	// Step 11: Logoff revokes the token.
	status = doJSON(t, http.MethodPost, testBaseURL+"/api/logoff", alice, nil, nil)
	require.Equal(t, http.StatusOK, status)
	status = doJSON(t, http.MethodGet, testBaseURL+"/api/conversations", alice, nil, nil)
	require.Equal(t, http.StatusUnauthorized, status)
}

func waitForServer(t *testing.T, urlStr string, retries int) {
	client := &http.Client{Timeout: 500 * time.Millisecond}

	for i := 0; i < retries; i++ {
		resp, err := client.Get(urlStr)
		if err == nil {
			// Any status means the listener is up.
			_ = resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("Server failed to start at %s after %d retries", urlStr, retries)
}
