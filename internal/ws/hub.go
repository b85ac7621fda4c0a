package ws

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"govorilka/internal/models"
	"govorilka/internal/presence"

	"github.com/google/uuid"
)

const DefaultBufferSize = 64

type session struct {
	id     string
	userID string
	out    chan models.ServerMessage
	rooms  map[string]struct{}
}

// Hub fans events out to connection sessions. Sessions receive
// conversation events only for the conversation channels they joined.
type Hub struct {
	presence *presence.Registry

	// Map of sessionID -> session
	sessions map[string]*session

	// Map of conversationID -> sessionID -> session
	rooms map[string]map[string]*session

	bufferSize int
	mu         sync.RWMutex
}

func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		presence:   presence.NewRegistry(),
		sessions:   make(map[string]*session),
		rooms:      make(map[string]map[string]*session),
		bufferSize: bufferSize,
	}
}

// Connect opens a session for an authenticated user. The session is not
// counted as online until it registers presence.
func (h *Hub) Connect(userID string) (string, <-chan models.ServerMessage) {
	s := &session{
		id:     uuid.NewString(),
		userID: userID,
		out:    make(chan models.ServerMessage, h.bufferSize),
		rooms:  make(map[string]struct{}),
	}

	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()

	return s.id, s.out
}

// Disconnect closes the session channel, drops it from every room and
// deregisters its presence. Calling it twice is a no-op.
func (h *Hub) Disconnect(sessionID string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	h.dropSessionLocked(s)
	h.mu.Unlock()

	if userID, _ := h.presence.Deregister(sessionID); userID != "" {
		h.broadcastOnline()
	}
}

func (h *Hub) dropSessionLocked(s *session) {
	for conversationID := range s.rooms {
		h.leaveRoomLocked(s, conversationID)
	}
	delete(h.sessions, s.id)
	close(s.out)
}

// DisconnectUser closes every session of the user, e.g. after the account
// was deleted. It returns the number of closed sessions.
func (h *Hub) DisconnectUser(userID string) int {
	h.mu.Lock()
	var closed []string
	for id, s := range h.sessions {
		if s.userID == userID {
			h.dropSessionLocked(s)
			closed = append(closed, id)
		}
	}
	h.mu.Unlock()

	offline := false
	for _, id := range closed {
		if owner, _ := h.presence.Deregister(id); owner != "" {
			offline = true
		}
	}
	if offline {
		h.broadcastOnline()
	}
	return len(closed)
}

// Close disconnects every session. Used on server shutdown, where hijacked
// websocket connections are not tracked by net/http.
func (h *Hub) Close() {
	h.mu.Lock()
	for _, s := range h.sessions {
		h.dropSessionLocked(s)
	}
	h.mu.Unlock()
}

// RegisterPresence marks the session's user online and broadcasts the
// online list to every session. A session may only register its own user.
func (h *Hub) RegisterPresence(sessionID, userID string) error {
	if userID == "" {
		return fmt.Errorf("user id is required: %w", models.ErrInvalidArgument)
	}

	// Held across Register so a concurrent Disconnect cannot leave a stale entry.
	h.mu.RLock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.RUnlock()
		return fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
	}
	if s.userID != userID {
		h.mu.RUnlock()
		return fmt.Errorf("session cannot register presence for %s: %w", userID, models.ErrForbidden)
	}
	h.presence.Register(userID, sessionID)
	h.mu.RUnlock()

	h.broadcastOnline()
	return nil
}

func (h *Hub) OnlineUsers() []string {
	return h.presence.ListOnline()
}

func (h *Hub) IsOnline(userID string) bool {
	return h.presence.IsOnline(userID)
}

func (h *Hub) broadcastOnline() {
	msg := models.ServerMessage{
		Type:  models.ServerMessageTypeOnlineUsers,
		Users: h.presence.ListOnline(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions {
		h.deliver(s, msg)
	}
}

// JoinConversation subscribes the session to the conversation channel.
// Authorization is the caller's job.
func (h *Hub) JoinConversation(sessionID, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("conversation id is required: %w", models.ErrInvalidArgument)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
	}
	room, ok := h.rooms[conversationID]
	if !ok {
		room = make(map[string]*session)
		h.rooms[conversationID] = room
	}
	room[s.id] = s
	s.rooms[conversationID] = struct{}{}
	return nil
}

func (h *Hub) LeaveConversation(sessionID, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.sessions[sessionID]; ok {
		h.leaveRoomLocked(s, conversationID)
	}
}

func (h *Hub) leaveRoomLocked(s *session, conversationID string) {
	delete(s.rooms, conversationID)
	room := h.rooms[conversationID]
	delete(room, s.id)
	if len(room) == 0 {
		delete(h.rooms, conversationID)
	}
}

// Typing relays a typing notice to the other sessions in the channel. The
// notice is dropped when the session has not joined the channel.
func (h *Hub) Typing(sessionID, conversationID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	if _, joined := s.rooms[conversationID]; !joined {
		slog.Debug("typing outside of joined conversation", "session_id", sessionID, "conversation_id", conversationID)
		return
	}

	msg := models.ServerMessage{
		Type:           models.ServerMessageTypeTyping,
		ConversationID: conversationID,
		UserID:         s.userID,
	}
	for id, other := range h.rooms[conversationID] {
		if id == sessionID {
			continue
		}
		h.deliver(other, msg)
	}
}

// Publish delivers an event to every session joined to the conversation.
// Members removed from a group and channels of deleted groups are
// unsubscribed once the event has been queued.
func (h *Hub) Publish(conversationID string, msg models.ServerMessage) {
	msg.ConversationID = conversationID

	evictAll := msg.Type == models.ServerMessageTypeGroupDeleted
	var evictUsers []string
	if msg.Update != nil {
		switch msg.Update.Action {
		case models.GroupActionParticipantsRemoved, models.GroupActionLeft:
			evictUsers = msg.Update.UserIDs
		}
	}

	if !evictAll && len(evictUsers) == 0 {
		h.mu.RLock()
		defer h.mu.RUnlock()
		for _, s := range h.rooms[conversationID] {
			h.deliver(s, msg)
		}
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.rooms[conversationID] {
		h.deliver(s, msg)
		if evictAll || slices.Contains(evictUsers, s.userID) {
			h.leaveRoomLocked(s, conversationID)
		}
	}
}

// deliver never blocks; a session that does not drain its buffer loses
// events. Callers must hold h.mu so the channel cannot be closed concurrently.
func (h *Hub) deliver(s *session, msg models.ServerMessage) {
	select {
	case s.out <- msg:
	default:
		slog.Warn("dropping event for slow session",
			"session_id", s.id,
			"user_id", s.userID,
			"type", msg.Type,
			"conversation_id", msg.ConversationID,
		)
	}
}
