// Package chat implements conversations, messages and group membership on
// top of a Store, publishing real-time events after each committed change.
package chat

import (
	"log/slog"
	"time"

	"govorilka/internal/models"

	"github.com/google/uuid"
)

const (
	DefaultPageSize          = 20
	MaxPageSize              = 100
	MaxConversationMatches   = 10
	MaxMessageSearchMatches  = 20
	minGroupMembersBesidesMe = 2
)

// Store is the persistence the service needs. UpdateConversation must run
// fn and write its result atomically, deleting the conversation with its
// messages when no participants remain. CreateMessage and MarkMessagesRead
// apply their conversation callback in the same transaction as the message
// writes, so unread counters never disagree with read receipts.
type Store interface {
	GetConversation(id string) (models.Conversation, error)
	GetOrCreateDirect(a, b string, candidate models.Conversation) (models.Conversation, bool, error)
	CreateConversation(conv models.Conversation) error
	UpdateConversation(id string, fn func(c *models.Conversation) error) (models.Conversation, bool, error)
	ListUserConversations(userID string) ([]models.Conversation, error)

	CreateMessage(conversationID, sender, text string, createdAt int64, apply func(c *models.Conversation, msg models.Message)) (models.Message, error)
	ListMessagesBefore(conversationID string, before int64, limit int) ([]models.Message, bool, error)
	MarkMessagesRead(conversationID, userID string, check func(c *models.Conversation) error) (int, error)
	DeleteOwnMessage(id int64, requester string) (models.Message, error)
	SearchMessages(conversationID, query string, limit int) ([]models.Message, error)
	DetachSender(userID string) (int, error)
}

// Publisher delivers events to sessions joined to a conversation channel.
// Delivery is best-effort and must not block.
type Publisher interface {
	Publish(conversationID string, msg models.ServerMessage)
}

// MediaStore releases uploaded media the service no longer references.
type MediaStore interface {
	Release(url string) error
}

type Service struct {
	store  Store
	events Publisher
	media  MediaStore
	now    func() time.Time
	newID  func() string
}

type Option func(*Service)

func WithMediaStore(media MediaStore) Option {
	return func(s *Service) { s.media = media }
}

func NewService(store Store, events Publisher, opts ...Option) *Service {
	s := &Service{
		store:  store,
		events: events,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// publish runs after the write has committed; it never fails the request.
func (s *Service) publish(conversationID string, msg models.ServerMessage) {
	if s.events == nil {
		return
	}
	msg.ConversationID = conversationID
	s.events.Publish(conversationID, msg)
}

func (s *Service) nowMillis() int64 {
	return s.now().UnixMilli()
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	default:
		return limit
	}
}

func logFailure(op string, err error, args ...any) {
	slog.Error(op+" failed", append(args, "error", err)...)
}
