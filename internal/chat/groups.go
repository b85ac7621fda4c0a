package chat

import (
	"fmt"
	"slices"

	"govorilka/internal/content"
	"govorilka/internal/models"
)

// CreateGroup creates a group with the caller as its only admin. The group
// needs a name and at least two members besides the caller.
func (s *Service) CreateGroup(callerID, name string, participantIDs []string, bio string) (models.Conversation, error) {
	name, err := content.NormalizeGroupName(name)
	if err != nil {
		return models.Conversation{}, err
	}
	bio, err = content.NormalizeGroupBio(bio)
	if err != nil {
		return models.Conversation{}, err
	}
	others, err := content.UniqueUserIDs(participantIDs)
	if err != nil {
		return models.Conversation{}, err
	}
	others, _ = pull(others, callerID)
	if len(others) < minGroupMembersBesidesMe {
		return models.Conversation{}, fmt.Errorf("group must have at least %d members including you: %w",
			minGroupMembersBesidesMe+1, models.ErrInvalidArgument)
	}

	now := s.nowMillis()
	conv := models.Conversation{
		ID:           s.newID(),
		IsGroup:      true,
		GroupName:    name,
		GroupAvatar:  models.DefaultGroupAvatar,
		GroupBio:     bio,
		Participants: append([]string{callerID}, others...),
		Admins:       []string{callerID},
		UnreadCount:  map[string]int{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateConversation(conv); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// adminUpdate runs an admin-gated mutation of a group. The capability checks
// run inside the store transaction, before fn touches the document.
func (s *Service) adminUpdate(callerID, conversationID string, fn func(c *models.Conversation) error) (models.Conversation, bool, error) {
	return s.store.UpdateConversation(conversationID, func(c *models.Conversation) error {
		if err := requireGroup(c); err != nil {
			return err
		}
		if err := requireAdmin(c, callerID); err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
		c.UpdatedAt = s.nowMillis()
		return nil
	})
}

func (s *Service) publishGroupUpdate(conv models.Conversation, action models.GroupAction, actorID string, userIDs []string) {
	// Every member receives the event; counters are per reader.
	conv.UnreadCount = nil
	s.publish(conv.ID, models.ServerMessage{
		Type: models.ServerMessageTypeGroupUpdated,
		Update: &models.GroupUpdate{
			Action:       action,
			ActorID:      actorID,
			UserIDs:      userIDs,
			Conversation: &conv,
		},
	})
}

func (s *Service) publishGroupDeleted(conversationID string) {
	s.publish(conversationID, models.ServerMessage{
		Type: models.ServerMessageTypeGroupDeleted,
	})
}

func requireTargets(userIDs []string) ([]string, error) {
	ids, err := content.UniqueUserIDs(userIDs)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("at least one user id is required: %w", models.ErrInvalidArgument)
	}
	return ids, nil
}

// AddParticipants adds users who are not yet members and returns the ones
// actually added. Hidden and muted flags of re-added users are left as they were.
func (s *Service) AddParticipants(callerID, conversationID string, userIDs []string) (models.Conversation, []string, error) {
	ids, err := requireTargets(userIDs)
	if err != nil {
		return models.Conversation{}, nil, err
	}

	var added []string
	conv, _, err := s.adminUpdate(callerID, conversationID, func(c *models.Conversation) error {
		c.Participants, added = addToSet(c.Participants, ids...)
		return nil
	})
	if err != nil {
		return models.Conversation{}, nil, err
	}

	if len(added) > 0 {
		s.publishGroupUpdate(conv, models.GroupActionParticipantsAdded, callerID, added)
	}
	return conv, added, nil
}

// RemoveParticipants removes members (and their admin role). Removing every
// member deletes the group. A non-empty group cannot be left without admins.
func (s *Service) RemoveParticipants(callerID, conversationID string, userIDs []string) (models.Conversation, bool, error) {
	ids, err := requireTargets(userIDs)
	if err != nil {
		return models.Conversation{}, false, err
	}

	var removed []string
	conv, deleted, err := s.adminUpdate(callerID, conversationID, func(c *models.Conversation) error {
		removed = dropMember(c, ids...)
		return requireManageable(c)
	})
	if err != nil {
		return models.Conversation{}, false, err
	}

	switch {
	case deleted:
		s.publishGroupDeleted(conversationID)
	case len(removed) > 0:
		s.publishGroupUpdate(conv, models.GroupActionParticipantsRemoved, callerID, removed)
	}
	return conv, deleted, nil
}

// Promote grants admin to participants that are not admins yet. Other ids
// are skipped.
func (s *Service) Promote(callerID, conversationID string, userIDs []string) (models.Conversation, error) {
	ids, err := requireTargets(userIDs)
	if err != nil {
		return models.Conversation{}, err
	}

	var promoted []string
	conv, _, err := s.adminUpdate(callerID, conversationID, func(c *models.Conversation) error {
		eligible := slices.DeleteFunc(slices.Clone(ids), func(id string) bool {
			return !c.HasParticipant(id)
		})
		c.Admins, promoted = addToSet(c.Admins, eligible...)
		return nil
	})
	if err != nil {
		return models.Conversation{}, err
	}

	if len(promoted) > 0 {
		s.publishGroupUpdate(conv, models.GroupActionPromoted, callerID, promoted)
	}
	return conv, nil
}

// Demote revokes admin; ids that are not admins are a no-op. Demoting the
// last admin is rejected.
func (s *Service) Demote(callerID, conversationID string, userIDs []string) (models.Conversation, error) {
	ids, err := requireTargets(userIDs)
	if err != nil {
		return models.Conversation{}, err
	}

	var demoted []string
	conv, _, err := s.adminUpdate(callerID, conversationID, func(c *models.Conversation) error {
		c.Admins, demoted = pull(c.Admins, ids...)
		return requireManageable(c)
	})
	if err != nil {
		return models.Conversation{}, err
	}

	if len(demoted) > 0 {
		s.publishGroupUpdate(conv, models.GroupActionDemoted, callerID, demoted)
	}
	return conv, nil
}

func (s *Service) Rename(callerID, conversationID, name string) (models.Conversation, error) {
	name, err := content.NormalizeGroupName(name)
	if err != nil {
		return models.Conversation{}, err
	}

	conv, _, err := s.adminUpdate(callerID, conversationID, func(c *models.Conversation) error {
		c.GroupName = name
		return nil
	})
	if err != nil {
		return models.Conversation{}, err
	}

	s.publishGroupUpdate(conv, models.GroupActionRenamed, callerID, nil)
	return conv, nil
}

func (s *Service) UpdateBio(callerID, conversationID, bio string) (models.Conversation, error) {
	bio, err := content.NormalizeGroupBio(bio)
	if err != nil {
		return models.Conversation{}, err
	}

	conv, _, err := s.adminUpdate(callerID, conversationID, func(c *models.Conversation) error {
		c.GroupBio = bio
		return nil
	})
	if err != nil {
		return models.Conversation{}, err
	}

	s.publishGroupUpdate(conv, models.GroupActionBioUpdated, callerID, nil)
	return conv, nil
}

// UpdateAvatar stores the URL of an already uploaded avatar. The previous
// avatar is released from the media store after the change commits.
func (s *Service) UpdateAvatar(callerID, conversationID, avatarURL string) (models.Conversation, error) {
	if avatarURL == "" {
		return models.Conversation{}, fmt.Errorf("avatar url is required: %w", models.ErrInvalidArgument)
	}

	var previous string
	conv, _, err := s.adminUpdate(callerID, conversationID, func(c *models.Conversation) error {
		previous = c.GroupAvatar
		c.GroupAvatar = avatarURL
		return nil
	})
	if err != nil {
		return models.Conversation{}, err
	}

	if s.media != nil && previous != "" && previous != avatarURL {
		if err := s.media.Release(previous); err != nil {
			logFailure("release old avatar", err, "conversation_id", conversationID, "url", previous)
		}
	}

	s.publishGroupUpdate(conv, models.GroupActionAvatarUpdated, callerID, nil)
	return conv, nil
}

// Leave removes the caller from a group. When the caller was the only admin
// the earliest remaining member is promoted; when nobody remains the group
// and its messages are deleted.
func (s *Service) Leave(callerID, conversationID string) (models.Conversation, bool, error) {
	var promoted []string
	conv, deleted, err := s.store.UpdateConversation(conversationID, func(c *models.Conversation) error {
		if err := requireGroup(c); err != nil {
			return err
		}
		if err := requireParticipant(c, callerID); err != nil {
			return err
		}
		dropMember(c, callerID)
		if len(c.Participants) > 0 && len(c.Admins) == 0 {
			c.Admins = []string{c.Participants[0]}
			promoted = c.Admins
		}
		c.UpdatedAt = s.nowMillis()
		return nil
	})
	if err != nil {
		return models.Conversation{}, false, err
	}

	if deleted {
		s.publishGroupDeleted(conversationID)
		return conv, true, nil
	}
	s.publishGroupUpdate(conv, models.GroupActionLeft, callerID, []string{callerID})
	if len(promoted) > 0 {
		// Automatic promotion has no acting member.
		s.publishGroupUpdate(conv, models.GroupActionPromoted, "", promoted)
	}
	return conv, false, nil
}

// DeleteGroup deletes the group and all its messages. Admin only.
func (s *Service) DeleteGroup(callerID, conversationID string) error {
	_, _, err := s.adminUpdate(callerID, conversationID, func(c *models.Conversation) error {
		// An empty membership makes the store drop the document and its messages.
		c.Participants = nil
		c.Admins = nil
		return nil
	})
	if err != nil {
		return err
	}

	s.publishGroupDeleted(conversationID)
	return nil
}
