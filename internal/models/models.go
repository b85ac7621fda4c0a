package models

import (
	"errors"
	"slices"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrConflict        = errors.New("conflict")
	ErrRateLimited     = errors.New("rate limited")
)

// ErrorKind returns the short name of the taxonomy error wrapped by err,
// or "internal" for anything unclassified.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "internal"
	}
}

const DefaultGroupAvatar = "/group-avatar.png"

// Conversation is either a direct (exactly two participants) or a group thread.
type Conversation struct {
	ID           string         `json:"id"`
	IsGroup      bool           `json:"isGroup"`
	GroupName    string         `json:"groupName,omitempty"`
	GroupAvatar  string         `json:"groupAvatar,omitempty"`
	GroupBio     string         `json:"groupBio,omitempty"`
	Participants []string       `json:"participants"`
	Admins       []string       `json:"admins,omitempty"`
	LastMessage  string         `json:"lastMessage,omitempty"`
	UnreadCount  map[string]int `json:"unreadCount,omitempty"`
	HiddenBy     []string       `json:"hiddenBy,omitempty"`
	MutedBy      []string       `json:"mutedBy,omitempty"`
	CreatedAt    int64          `json:"createdAt"` // Unix milliseconds
	UpdatedAt    int64          `json:"updatedAt"` // Unix milliseconds
}

func (c *Conversation) HasParticipant(userID string) bool {
	return slices.Contains(c.Participants, userID)
}

func (c *Conversation) IsAdmin(userID string) bool {
	return slices.Contains(c.Admins, userID)
}

func (c *Conversation) IsHiddenBy(userID string) bool {
	return slices.Contains(c.HiddenBy, userID)
}

func (c *Conversation) IsMutedBy(userID string) bool {
	return slices.Contains(c.MutedBy, userID)
}

// Unread returns the unread counter of the user, zero when absent.
func (c *Conversation) Unread(userID string) int {
	return c.UnreadCount[userID]
}

// Message is a single chat message. Sender is empty once the sending
// account has been deleted.
type Message struct {
	ID             int64    `json:"id"`
	ConversationID string   `json:"conversationId"`
	Sender         string   `json:"sender"`
	Text           string   `json:"text"`
	IsReadBy       []string `json:"isReadBy"`
	CreatedAt      int64    `json:"createdAt"` // Unix milliseconds
}

func (m *Message) IsReadByUser(userID string) bool {
	return slices.Contains(m.IsReadBy, userID)
}

type ConversationPage struct {
	Conversations []Conversation `json:"conversations"`
	NextCursor    *string        `json:"nextCursor"`
}

type MessagePage struct {
	Messages   []Message `json:"messages"`
	NextCursor *string   `json:"nextCursor"`
}

type GroupAction string

const (
	GroupActionParticipantsAdded   GroupAction = "participantsAdded"
	GroupActionParticipantsRemoved GroupAction = "participantsRemoved"
	GroupActionPromoted            GroupAction = "promoted"
	GroupActionDemoted             GroupAction = "demoted"
	GroupActionRenamed             GroupAction = "renamed"
	GroupActionBioUpdated          GroupAction = "bioUpdated"
	GroupActionAvatarUpdated       GroupAction = "avatarUpdated"
	GroupActionLeft                GroupAction = "left"
)

// GroupUpdate describes a group mutation so clients can update local state
// without re-fetching.
type GroupUpdate struct {
	Action       GroupAction   `json:"action"`
	ActorID      string        `json:"actorId,omitempty"` // empty for automatic changes
	UserIDs      []string      `json:"userIds,omitempty"`
	Conversation *Conversation `json:"conversation,omitempty"`
}

// ClientMessage represents a frame sent from the client to the server.
type ClientMessage struct {
	Type           ClientMessageType `json:"type"`
	ConversationID string            `json:"conversationId,omitempty"`
	UserID         string            `json:"userId,omitempty"`
	MessageID      int64             `json:"messageId,omitempty"`
}

// ServerMessage represents a frame sent to the client.
type ServerMessage struct {
	Type           ServerMessageType `json:"type"`
	ConversationID string            `json:"conversationId,omitempty"`
	UserID         string            `json:"userId,omitempty"`
	Users          []string          `json:"users,omitempty"`
	Message        *Message          `json:"message,omitempty"`
	MessageID      int64             `json:"messageId,omitempty"`
	Update         *GroupUpdate      `json:"update,omitempty"`
	Error          string            `json:"error,omitempty"`
}

type ClientMessageType string

const (
	ClientMessageTypeRegisterPresence  ClientMessageType = "registerPresence"
	ClientMessageTypeGetOnlineUsers    ClientMessageType = "getOnlineUsers"
	ClientMessageTypeJoinConversation  ClientMessageType = "joinConversation"
	ClientMessageTypeLeaveConversation ClientMessageType = "leaveConversation"
	ClientMessageTypeTyping            ClientMessageType = "typing"
	ClientMessageTypeDeleteMessage     ClientMessageType = "deleteMessage"
)

type ServerMessageType string

const (
	ServerMessageTypeOnlineUsers    ServerMessageType = "onlineUsers"
	ServerMessageTypeNewMessage     ServerMessageType = "newMessage"
	ServerMessageTypeMessageDeleted ServerMessageType = "messageDeleted"
	ServerMessageTypeTyping         ServerMessageType = "typing"
	ServerMessageTypeGroupUpdated   ServerMessageType = "groupUpdated"
	ServerMessageTypeGroupDeleted   ServerMessageType = "groupDeleted"
	ServerMessageTypeError          ServerMessageType = "error"
)

// APIResponse is the generic envelope for acknowledgements and failures.
type APIResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}
