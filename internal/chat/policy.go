package chat

import (
	"fmt"
	"slices"

	"govorilka/internal/models"
)

// requireParticipant is the capability check for any conversation access.
func requireParticipant(c *models.Conversation, userID string) error {
	if !c.HasParticipant(userID) {
		return fmt.Errorf("user %s is not a participant of %s: %w", userID, c.ID, models.ErrForbidden)
	}
	return nil
}

// requireAdmin is the capability check for privileged group operations.
// Admins are always participants, so it implies requireParticipant.
func requireAdmin(c *models.Conversation, userID string) error {
	if err := requireParticipant(c, userID); err != nil {
		return err
	}
	if !c.IsAdmin(userID) {
		return fmt.Errorf("user %s is not an admin of %s: %w", userID, c.ID, models.ErrForbidden)
	}
	return nil
}

func requireGroup(c *models.Conversation) error {
	if !c.IsGroup {
		return fmt.Errorf("conversation %s is not a group conversation: %w", c.ID, models.ErrInvalidArgument)
	}
	return nil
}

// requireManageable rejects states where a non-empty group has no admin.
func requireManageable(c *models.Conversation) error {
	if len(c.Participants) > 0 && len(c.Admins) == 0 {
		return fmt.Errorf("group %s would be left without an admin: %w", c.ID, models.ErrConflict)
	}
	return nil
}

func addToSet(set []string, ids ...string) ([]string, []string) {
	var added []string
	for _, id := range ids {
		if !slices.Contains(set, id) {
			set = append(set, id)
			added = append(added, id)
		}
	}
	return set, added
}

func pull(set []string, ids ...string) ([]string, []string) {
	var removed []string
	out := set[:0:0]
	for _, id := range set {
		if slices.Contains(ids, id) {
			removed = append(removed, id)
			continue
		}
		out = append(out, id)
	}
	return out, removed
}

// dropMember removes every trace of the user's membership: participant,
// admin and unread counter. Hidden/muted flags are personal and stay.
func dropMember(c *models.Conversation, ids ...string) []string {
	var removed []string
	c.Participants, removed = pull(c.Participants, ids...)
	c.Admins, _ = pull(c.Admins, ids...)
	for _, id := range ids {
		delete(c.UnreadCount, id)
	}
	return removed
}

// bumpUnread adds delta to the counter of every participant except the actor.
func bumpUnread(c *models.Conversation, except string, delta int) []string {
	if c.UnreadCount == nil {
		c.UnreadCount = make(map[string]int)
	}
	var recipients []string
	for _, p := range c.Participants {
		if p == except {
			continue
		}
		c.UnreadCount[p] += delta
		if c.UnreadCount[p] < 0 {
			c.UnreadCount[p] = 0
		}
		recipients = append(recipients, p)
	}
	return recipients
}
