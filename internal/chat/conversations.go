package chat

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"govorilka/internal/content"
	"govorilka/internal/models"
)

// GetOrCreateDirect returns the unique direct conversation between caller and
// other. Concurrent calls for the same pair resolve to one conversation via
// the store's pair constraint.
func (s *Service) GetOrCreateDirect(callerID, otherID string) (models.Conversation, error) {
	if err := content.ValidateUserID(otherID); err != nil {
		return models.Conversation{}, err
	}
	if callerID == otherID {
		return models.Conversation{}, fmt.Errorf("cannot open a direct conversation with yourself: %w", models.ErrInvalidArgument)
	}

	now := s.nowMillis()
	conv, _, err := s.store.GetOrCreateDirect(callerID, otherID, models.Conversation{
		ID:           s.newID(),
		Participants: []string{callerID, otherID},
		UnreadCount:  map[string]int{},
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// GetConversation returns a conversation visible to the caller.
func (s *Service) GetConversation(callerID, conversationID string) (models.Conversation, error) {
	conv, err := s.store.GetConversation(conversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	if err := requireParticipant(&conv, callerID); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// byRecency orders conversations by updatedAt descending, ties by id descending.
func byRecency(a, b models.Conversation) int {
	if c := cmp.Compare(b.UpdatedAt, a.UpdatedAt); c != 0 {
		return c
	}
	return strings.Compare(b.ID, a.ID)
}

func conversationCursor(c models.Conversation) string {
	return strconv.FormatInt(c.UpdatedAt, 10) + "_" + c.ID
}

func parseConversationCursor(cursor string) (models.Conversation, error) {
	ts, id, ok := strings.Cut(cursor, "_")
	if !ok || id == "" {
		return models.Conversation{}, fmt.Errorf("malformed cursor %q: %w", cursor, models.ErrInvalidArgument)
	}
	updatedAt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("malformed cursor %q: %w", cursor, models.ErrInvalidArgument)
	}
	return models.Conversation{ID: id, UpdatedAt: updatedAt}, nil
}

// ListConversations pages through the caller's conversations, most recently
// updated first, skipping the ones the caller has hidden.
func (s *Service) ListConversations(callerID, cursor string, limit int) (models.ConversationPage, error) {
	limit = clampLimit(limit)

	var after *models.Conversation
	if cursor != "" {
		c, err := parseConversationCursor(cursor)
		if err != nil {
			return models.ConversationPage{}, err
		}
		after = &c
	}

	all, err := s.store.ListUserConversations(callerID)
	if err != nil {
		return models.ConversationPage{}, err
	}

	visible := make([]models.Conversation, 0, len(all))
	for _, c := range all {
		if c.IsHiddenBy(callerID) {
			continue
		}
		if after != nil && byRecency(*after, c) >= 0 {
			continue
		}
		visible = append(visible, c)
	}
	slices.SortFunc(visible, byRecency)

	page := models.ConversationPage{Conversations: visible}
	if len(visible) > limit {
		page.Conversations = visible[:limit]
		next := conversationCursor(page.Conversations[limit-1])
		page.NextCursor = &next
	}
	return page, nil
}

// SearchConversations matches the caller's conversations by group name or
// participant id, case-insensitively.
func (s *Service) SearchConversations(callerID, query string) ([]models.Conversation, error) {
	q, err := content.NormalizeQuery(query)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(q)

	all, err := s.store.ListUserConversations(callerID)
	if err != nil {
		return nil, err
	}

	matches := []models.Conversation{}
	for _, c := range all {
		if strings.Contains(strings.ToLower(c.GroupName), needle) ||
			slices.ContainsFunc(c.Participants, func(p string) bool {
				return p != callerID && strings.Contains(strings.ToLower(p), needle)
			}) {
			matches = append(matches, c)
		}
	}
	slices.SortFunc(matches, byRecency)
	if len(matches) > MaxConversationMatches {
		matches = matches[:MaxConversationMatches]
	}
	return matches, nil
}

// updateOwnFlag adds or removes the caller from one of the per-user flag
// sets. Repeated calls are no-ops.
func (s *Service) updateOwnFlag(callerID, conversationID string, field func(c *models.Conversation) *[]string, set bool) error {
	_, _, err := s.store.UpdateConversation(conversationID, func(c *models.Conversation) error {
		if err := requireParticipant(c, callerID); err != nil {
			return err
		}
		flags := field(c)
		if set {
			*flags, _ = addToSet(*flags, callerID)
		} else {
			*flags, _ = pull(*flags, callerID)
		}
		return nil
	})
	return err
}

func hiddenBy(c *models.Conversation) *[]string { return &c.HiddenBy }
func mutedBy(c *models.Conversation) *[]string  { return &c.MutedBy }

func (s *Service) Hide(callerID, conversationID string) error {
	return s.updateOwnFlag(callerID, conversationID, hiddenBy, true)
}

func (s *Service) Unhide(callerID, conversationID string) error {
	return s.updateOwnFlag(callerID, conversationID, hiddenBy, false)
}

func (s *Service) Mute(callerID, conversationID string) error {
	return s.updateOwnFlag(callerID, conversationID, mutedBy, true)
}

func (s *Service) Unmute(callerID, conversationID string) error {
	return s.updateOwnFlag(callerID, conversationID, mutedBy, false)
}

// IncrementUnread bumps the unread counter of every current participant
// except exceptUserID.
func (s *Service) IncrementUnread(conversationID, exceptUserID string, delta int) (models.Conversation, error) {
	conv, _, err := s.store.UpdateConversation(conversationID, func(c *models.Conversation) error {
		bumpUnread(c, exceptUserID, delta)
		return nil
	})
	return conv, err
}

// MarkRead resets the caller's unread counter and marks every message in
// the conversation as read by the caller, in one write. Safe to retry.
func (s *Service) MarkRead(callerID, conversationID string) error {
	_, err := s.store.MarkMessagesRead(conversationID, callerID, func(c *models.Conversation) error {
		if err := requireParticipant(c, callerID); err != nil {
			return err
		}
		if c.UnreadCount == nil {
			c.UnreadCount = make(map[string]int)
		}
		c.UnreadCount[callerID] = 0
		return nil
	})
	return err
}
