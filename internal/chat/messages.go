package chat

import (
	"fmt"
	"slices"
	"strconv"

	"govorilka/internal/content"
	"govorilka/internal/models"
)

// SendMessage stores the message and, in the same write, updates the
// conversation snapshot: last message text, unread counters of every other
// participant, and un-hides the conversation for those recipients. The
// newMessage event is published after the commit. Retries are not
// deduplicated.
func (s *Service) SendMessage(callerID, conversationID, text string) (models.Message, error) {
	text, err := content.NormalizeText(text)
	if err != nil {
		return models.Message{}, err
	}

	msg, err := s.store.CreateMessage(conversationID, callerID, text, s.nowMillis(), func(c *models.Conversation, msg models.Message) {
		c.LastMessage = msg.Text
		c.UpdatedAt = msg.CreatedAt
		recipients := bumpUnread(c, callerID, 1)
		c.HiddenBy, _ = pull(c.HiddenBy, recipients...)
	})
	if err != nil {
		return models.Message{}, err
	}

	s.publish(conversationID, models.ServerMessage{
		Type:    models.ServerMessageTypeNewMessage,
		Message: &msg,
	})
	return msg, nil
}

func parseMessageCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("malformed cursor %q: %w", cursor, models.ErrInvalidArgument)
	}
	return id, nil
}

// GetMessages returns the page of messages older than cursor, oldest first.
// NextCursor is set while older messages remain.
func (s *Service) GetMessages(callerID, conversationID, cursor string, limit int) (models.MessagePage, error) {
	before, err := parseMessageCursor(cursor)
	if err != nil {
		return models.MessagePage{}, err
	}
	if _, err := s.GetConversation(callerID, conversationID); err != nil {
		return models.MessagePage{}, err
	}

	messages, more, err := s.store.ListMessagesBefore(conversationID, before, clampLimit(limit))
	if err != nil {
		return models.MessagePage{}, err
	}
	// Fetched newest first for the cursor walk; callers append pages in timeline order.
	slices.Reverse(messages)

	page := models.MessagePage{Messages: messages}
	if page.Messages == nil {
		page.Messages = []models.Message{}
	}
	if more && len(messages) > 0 {
		next := strconv.FormatInt(messages[0].ID, 10)
		page.NextCursor = &next
	}
	return page, nil
}

// DeleteMessage removes a message on behalf of its sender and notifies the
// conversation channel.
func (s *Service) DeleteMessage(callerID string, messageID int64) error {
	if messageID <= 0 {
		return fmt.Errorf("message id is required: %w", models.ErrInvalidArgument)
	}
	msg, err := s.store.DeleteOwnMessage(messageID, callerID)
	if err != nil {
		return err
	}

	s.publish(msg.ConversationID, models.ServerMessage{
		Type:      models.ServerMessageTypeMessageDeleted,
		MessageID: msg.ID,
	})
	return nil
}

// SearchMessages finds messages in one conversation, newest first.
func (s *Service) SearchMessages(callerID, conversationID, query string) ([]models.Message, error) {
	q, err := content.NormalizeQuery(query)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetConversation(callerID, conversationID); err != nil {
		return nil, err
	}

	found, err := s.store.SearchMessages(conversationID, q, MaxMessageSearchMatches)
	if err != nil {
		return nil, err
	}
	if found == nil {
		found = []models.Message{}
	}
	return found, nil
}

// ForgetUser detaches a deleted account from the messages it sent. The
// messages remain in their conversations with an empty sender.
func (s *Service) ForgetUser(userID string) (int, error) {
	if err := content.ValidateUserID(userID); err != nil {
		return 0, err
	}
	return s.store.DetachSender(userID)
}
