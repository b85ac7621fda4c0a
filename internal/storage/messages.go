package storage

import (
	"fmt"
	"slices"
	"strings"

	"govorilka/internal/models"

	"go.etcd.io/bbolt"
)

// CreateMessage appends a message to the conversation. The sender must be a
// current participant and is recorded as having read the message. Ids come
// from one global sequence, so they are monotonic across conversations.
// When apply is set it updates the conversation snapshot in the same
// transaction; it must not change participants.
func (s *BboltStorage) CreateMessage(conversationID, sender, text string, createdAt int64, apply func(c *models.Conversation, msg models.Message)) (models.Message, error) {
	var msg models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		c, err := getConversation(tx, conversationID)
		if err != nil {
			return err
		}
		if !slices.Contains(c.Participants, sender) {
			return fmt.Errorf("user %s in conversation %s: %w", sender, conversationID, models.ErrForbidden)
		}

		root := tx.Bucket(bucketMessages)
		seq, err := root.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate message id: %w", err)
		}
		convMsgs, err := root.CreateBucketIfNotExists([]byte(conversationID))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}

		dbMessage := DBMessage{
			ID:             int64(seq),
			ConversationID: conversationID,
			Sender:         sender,
			Text:           text,
			IsReadBy:       []string{sender},
			CreatedAt:      createdAt,
		}
		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := convMsgs.Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}
		if err := tx.Bucket(bucketMessageIndex).Put(dbMessage.Key(), []byte(conversationID)); err != nil {
			return fmt.Errorf("failed to index message: %w", err)
		}

		msg = dbMessage.toModel()
		if apply == nil {
			return nil
		}
		_, _, err = updateConversation(tx, conversationID, func(c *models.Conversation) error {
			apply(c, msg)
			return nil
		})
		return err
	})
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// ListMessagesBefore returns up to limit messages with id < before (or the
// newest messages when before is 0), newest first. The bool reports whether
// older messages remain.
func (s *BboltStorage) ListMessagesBefore(conversationID string, before int64, limit int) ([]models.Message, bool, error) {
	var (
		messages []models.Message
		more     bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		convMsgs := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if convMsgs == nil {
			return nil
		}

		c := convMsgs.Cursor()
		var k, v []byte
		if before <= 0 {
			k, v = c.Last()
		} else {
			k, v = c.Seek(messageKey(before))
			if k == nil {
				k, v = c.Last()
			} else {
				k, v = c.Prev()
			}
		}

		for ; k != nil; k, v = c.Prev() {
			if before > 0 && messageIDFromKey(k) >= before {
				continue
			}
			if len(messages) == limit {
				more = true
				break
			}
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, dbMsg.toModel())
		}
		return nil
	})
	return messages, more, err
}

// MarkMessagesRead adds userID to isReadBy of every message in the
// conversation that lacks it and returns how many messages changed. When
// check is set it runs against the conversation first, in the same
// transaction, and its error aborts the whole update.
func (s *BboltStorage) MarkMessagesRead(conversationID, userID string, check func(c *models.Conversation) error) (int, error) {
	changed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if check != nil {
			if _, _, err := updateConversation(tx, conversationID, check); err != nil {
				return err
			}
		}

		convMsgs := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if convMsgs == nil {
			return nil
		}

		var updates []DBMessage
		if err := convMsgs.ForEach(func(_, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			if !slices.Contains(dbMsg.IsReadBy, userID) {
				dbMsg.IsReadBy = append(dbMsg.IsReadBy, userID)
				updates = append(updates, dbMsg)
			}
			return nil
		}); err != nil {
			return err
		}

		// Writes happen after iteration; bbolt forbids mutating a bucket under ForEach.
		for i := range updates {
			data, err := updates[i].MarshalBinary()
			if err != nil {
				return err
			}
			if err := convMsgs.Put(updates[i].Key(), data); err != nil {
				return err
			}
		}
		changed = len(updates)
		return nil
	})
	return changed, err
}

// GetMessage looks a message up by id alone.
func (s *BboltStorage) GetMessage(id int64) (models.Message, error) {
	var msg models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbMsg, err := getMessage(tx, id)
		if err != nil {
			return err
		}
		msg = dbMsg.toModel()
		return nil
	})
	return msg, err
}

func getMessage(tx *bbolt.Tx, id int64) (*DBMessage, error) {
	key := messageKey(id)
	convID := tx.Bucket(bucketMessageIndex).Get(key)
	if convID == nil {
		return nil, fmt.Errorf("message %d: %w", id, models.ErrNotFound)
	}
	convMsgs := tx.Bucket(bucketMessages).Bucket(convID)
	if convMsgs == nil {
		return nil, fmt.Errorf("message %d: %w", id, models.ErrNotFound)
	}
	data := convMsgs.Get(key)
	if data == nil {
		return nil, fmt.Errorf("message %d: %w", id, models.ErrNotFound)
	}
	var dbMsg DBMessage
	if err := dbMsg.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message %d: %w", id, err)
	}
	return &dbMsg, nil
}

// DeleteOwnMessage deletes a message on behalf of its original sender.
func (s *BboltStorage) DeleteOwnMessage(id int64, requester string) (models.Message, error) {
	var msg models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		dbMsg, err := getMessage(tx, id)
		if err != nil {
			return err
		}
		if dbMsg.Sender == "" || dbMsg.Sender != requester {
			return fmt.Errorf("message %d not sent by %s: %w", id, requester, models.ErrForbidden)
		}
		if err := tx.Bucket(bucketMessages).Bucket([]byte(dbMsg.ConversationID)).Delete(dbMsg.Key()); err != nil {
			return err
		}
		if err := tx.Bucket(bucketMessageIndex).Delete(dbMsg.Key()); err != nil {
			return err
		}
		msg = dbMsg.toModel()
		return nil
	})
	return msg, err
}

// SearchMessages returns up to limit messages whose text contains query,
// case-insensitively, newest first.
func (s *BboltStorage) SearchMessages(conversationID, query string, limit int) ([]models.Message, error) {
	var messages []models.Message
	needle := strings.ToLower(query)
	err := s.db.View(func(tx *bbolt.Tx) error {
		convMsgs := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if convMsgs == nil {
			return nil
		}
		c := convMsgs.Cursor()
		for k, v := c.Last(); k != nil && len(messages) < limit; k, v = c.Prev() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			if strings.Contains(strings.ToLower(dbMsg.Text), needle) {
				messages = append(messages, dbMsg.toModel())
			}
		}
		return nil
	})
	return messages, err
}

// DetachSender clears the sender of every message written by userID. Used
// when an account is deleted; the messages themselves stay.
func (s *BboltStorage) DetachSender(userID string) (int, error) {
	changed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketMessages)
		var convIDs [][]byte
		if err := root.ForEach(func(k, v []byte) error {
			if v == nil {
				convIDs = append(convIDs, slices.Clone(k))
			}
			return nil
		}); err != nil {
			return err
		}

		for _, convID := range convIDs {
			convMsgs := root.Bucket(convID)
			var updates []DBMessage
			if err := convMsgs.ForEach(func(_, v []byte) error {
				var dbMsg DBMessage
				if err := dbMsg.UnmarshalBinary(v); err != nil {
					return err
				}
				if dbMsg.Sender == userID {
					dbMsg.Sender = ""
					updates = append(updates, dbMsg)
				}
				return nil
			}); err != nil {
				return err
			}
			for i := range updates {
				data, err := updates[i].MarshalBinary()
				if err != nil {
					return err
				}
				if err := convMsgs.Put(updates[i].Key(), data); err != nil {
					return err
				}
			}
			changed += len(updates)
		}
		return nil
	})
	return changed, err
}
