package ws

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"govorilka/internal/models"
)

type mockWS struct {
	readCh      chan models.ClientMessage
	writeCh     chan any
	closeCh     chan struct{}
	closeOnce   sync.Once
	closed      bool
	errToReturn error
}

func newMockWS() *mockWS {
	return &mockWS{
		readCh:  make(chan models.ClientMessage, 10),
		writeCh: make(chan any, 10),
		closeCh: make(chan struct{}),
	}
}

func (m *mockWS) Close() error {
	m.closeOnce.Do(func() {
		m.closed = true
		close(m.closeCh)
	})
	return nil
}

func (m *mockWS) WriteJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	m.writeCh <- v
	return nil
}

func (m *mockWS) ReadJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	select {
	case msg, ok := <-m.readCh:
		if !ok {
			return errors.New("closed")
		}
		if ptr, ok := v.(*models.ClientMessage); ok {
			*ptr = msg
		}
		return nil
	case <-m.closeCh:
		return errors.New("connection closed")
	}
}

type mockChat struct {
	members   map[string][]string // conversationID -> participants
	deletedCh chan int64
}

func newMockChat() *mockChat {
	return &mockChat{
		members:   map[string][]string{"c1": {"user1", "user2"}},
		deletedCh: make(chan int64, 10),
	}
}

func (m *mockChat) GetConversation(callerID, conversationID string) (models.Conversation, error) {
	participants, ok := m.members[conversationID]
	if !ok {
		return models.Conversation{}, models.ErrNotFound
	}
	conv := models.Conversation{ID: conversationID, Participants: participants}
	if !conv.HasParticipant(callerID) {
		return models.Conversation{}, models.ErrForbidden
	}
	return conv, nil
}

func (m *mockChat) DeleteMessage(callerID string, messageID int64) error {
	if callerID != "user1" {
		return models.ErrForbidden
	}
	m.deletedCh <- messageID
	return nil
}

func startConnection(t *testing.T, hub *Hub, userID string) (*mockWS, context.CancelFunc, chan error) {
	t.Helper()
	ws := newMockWS()
	conn := NewConnection(hub, newMockChat(), ws, userID)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- conn.Handle(ctx)
	}()
	return ws, cancel, done
}

func nextFrame(t *testing.T, ws *mockWS) models.ServerMessage {
	t.Helper()
	select {
	case received := <-ws.writeCh:
		msg, ok := received.(models.ServerMessage)
		if !ok {
			t.Fatalf("WS received wrong type: %T", received)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("WS did not receive a frame")
	}
	return models.ServerMessage{}
}

func TestConnection_Lifecycle(t *testing.T) {
	hub := NewHub(10)
	ws, cancel, done := startConnection(t, hub, "user1")
	defer cancel()

	// 1. Presence registration is broadcast back to the session.
	ws.readCh <- models.ClientMessage{Type: models.ClientMessageTypeRegisterPresence, UserID: "user1"}
	msg := nextFrame(t, ws)
	if msg.Type != models.ServerMessageTypeOnlineUsers || len(msg.Users) != 1 || msg.Users[0] != "user1" {
		t.Errorf("unexpected frame %+v", msg)
	}

	// 2. Join, then receive a conversation event from the hub.
	ws.readCh <- models.ClientMessage{Type: models.ClientMessageTypeJoinConversation, ConversationID: "c1"}
	ws.readCh <- models.ClientMessage{Type: models.ClientMessageTypeGetOnlineUsers}
	if msg := nextFrame(t, ws); msg.Type != models.ServerMessageTypeOnlineUsers {
		t.Errorf("unexpected frame %+v", msg)
	}

	hub.Publish("c1", models.ServerMessage{
		Type:    models.ServerMessageTypeNewMessage,
		Message: &models.Message{ID: 7, Text: "hi back"},
	})
	msg = nextFrame(t, ws)
	if msg.Message == nil || msg.Message.Text != "hi back" {
		t.Errorf("WS received wrong content: %+v", msg)
	}

	// 3. Stop
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Handle returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Handle did not return after cancel")
	}

	if !ws.closed {
		t.Error("WS Close not called")
	}
	if hub.IsOnline("user1") {
		t.Error("user should be offline after the connection ends")
	}
}

func TestConnection_Errors(t *testing.T) {
	hub := NewHub(10)
	ws, cancel, _ := startConnection(t, hub, "user2")
	defer cancel()

	for _, tc := range []struct {
		name string
		msg  models.ClientMessage
		want string
	}{
		{"PresenceForSomeoneElse", models.ClientMessage{Type: models.ClientMessageTypeRegisterPresence, UserID: "user1"}, "forbidden"},
		{"JoinUnknown", models.ClientMessage{Type: models.ClientMessageTypeJoinConversation, ConversationID: "nope"}, "not_found"},
		{"DeleteOthersMessage", models.ClientMessage{Type: models.ClientMessageTypeDeleteMessage, MessageID: 3}, "forbidden"},
		{"UnknownType", models.ClientMessage{Type: "dance"}, "invalid_argument"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ws.readCh <- tc.msg
			msg := nextFrame(t, ws)
			if msg.Type != models.ServerMessageTypeError || msg.Error != tc.want {
				t.Errorf("expected %s error frame, got %+v", tc.want, msg)
			}
		})
	}
}

func TestConnection_JoinRequiresParticipant(t *testing.T) {
	hub := NewHub(10)
	ws, cancel, _ := startConnection(t, hub, "outsider")
	defer cancel()

	ws.readCh <- models.ClientMessage{Type: models.ClientMessageTypeJoinConversation, ConversationID: "c1"}
	if msg := nextFrame(t, ws); msg.Error != "forbidden" {
		t.Errorf("expected forbidden, got %+v", msg)
	}

	hub.Publish("c1", models.ServerMessage{Type: models.ServerMessageTypeNewMessage})
	select {
	case v := <-ws.writeCh:
		t.Errorf("outsider received %+v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

// removedDuringJoin lets the first membership check pass and removes the
// user right after it, as a concurrent removeParticipants would.
type removedDuringJoin struct {
	*mockChat
	checks int
}

func (m *removedDuringJoin) GetConversation(callerID, conversationID string) (models.Conversation, error) {
	conv, err := m.mockChat.GetConversation(callerID, conversationID)
	m.checks++
	if m.checks == 1 {
		m.members[conversationID] = slices.DeleteFunc(slices.Clone(m.members[conversationID]), func(p string) bool {
			return p == callerID
		})
	}
	return conv, err
}

func TestConnection_JoinRacingRemoval(t *testing.T) {
	hub := NewHub(10)
	ws := newMockWS()
	chat := &removedDuringJoin{mockChat: newMockChat()}
	conn := NewConnection(hub, chat, ws, "user2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = conn.Handle(ctx) }()

	ws.readCh <- models.ClientMessage{Type: models.ClientMessageTypeJoinConversation, ConversationID: "c1"}
	if msg := nextFrame(t, ws); msg.Error != "forbidden" {
		t.Errorf("expected forbidden, got %+v", msg)
	}

	hub.Publish("c1", models.ServerMessage{Type: models.ServerMessageTypeNewMessage})
	select {
	case v := <-ws.writeCh:
		t.Errorf("removed user received %+v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnection_DeleteMessage(t *testing.T) {
	hub := NewHub(10)
	ws := newMockWS()
	chat := newMockChat()
	conn := NewConnection(hub, chat, ws, "user1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = conn.Handle(ctx) }()

	ws.readCh <- models.ClientMessage{Type: models.ClientMessageTypeDeleteMessage, MessageID: 42}
	select {
	case id := <-chat.deletedCh:
		if id != 42 {
			t.Errorf("expected message 42 deleted, got %d", id)
		}
	case <-time.After(time.Second):
		t.Error("DeleteMessage not called")
	}
}

func TestConnection_HubClosesSession(t *testing.T) {
	hub := NewHub(10)
	_, cancel, done := startConnection(t, hub, "user1")
	defer cancel()

	hub.DisconnectUser("user1")
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Handle returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Handle did not return after the hub closed the session")
	}
}

func TestConnection_WSError(t *testing.T) {
	hub := NewHub(10)
	ws := newMockWS()

	conn := NewConnection(hub, newMockChat(), ws, "user2")

	// Simulate ReadJSON error immediately
	ws.errToReturn = errors.New("read error")

	done := make(chan error)
	go func() {
		done <- conn.Handle(context.Background())
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected error from Handle, got nil")
		}
	case <-time.After(time.Second):
		t.Error("Handle did not return on error")
	}

	if !ws.closed {
		t.Error("WS Close not called")
	}
}
