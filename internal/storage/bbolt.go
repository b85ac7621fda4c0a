package storage

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"govorilka/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketConversations     = []byte("conversations")
	bucketDirectPairs       = []byte("direct_pairs")
	bucketUserConversations = []byte("user_conversations")
	bucketMessages          = []byte("messages")
	bucketMessageIndex      = []byte("message_index")
	bucketFiles             = []byte("files")
)

// BboltStorage persists conversations, messages and media metadata.
// Every mutation of a conversation happens inside a single bbolt write
// transaction, so read-modify-write of one document is atomic.
type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketConversations,
			bucketDirectPairs,
			bucketUserConversations,
			bucketMessages,
			bucketMessageIndex,
			bucketFiles,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// directPairKey is the uniqueness constraint for direct conversations:
// the same key for (a, b) and (b, a).
func directPairKey(a, b string) []byte {
	if b < a {
		a, b = b, a
	}
	return []byte(a + "\x00" + b)
}

func getConversation(tx *bbolt.Tx, id string) (*DBConversation, error) {
	data := tx.Bucket(bucketConversations).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	var c DBConversation
	if err := c.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation %s: %w", id, err)
	}
	return &c, nil
}

func putConversation(tx *bbolt.Tx, c *DBConversation) error {
	data, err := c.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	return tx.Bucket(bucketConversations).Put(c.Key(), data)
}

func indexUser(tx *bbolt.Tx, userID, conversationID string) error {
	b, err := tx.Bucket(bucketUserConversations).CreateBucketIfNotExists([]byte(userID))
	if err != nil {
		return fmt.Errorf("failed to create user index bucket: %w", err)
	}
	return b.Put([]byte(conversationID), []byte{})
}

func unindexUser(tx *bbolt.Tx, userID, conversationID string) error {
	b := tx.Bucket(bucketUserConversations).Bucket([]byte(userID))
	if b == nil {
		return nil
	}
	return b.Delete([]byte(conversationID))
}

// GetConversation returns a conversation by id.
func (s *BboltStorage) GetConversation(id string) (models.Conversation, error) {
	var conv models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		c, err := getConversation(tx, id)
		if err != nil {
			return err
		}
		conv = c.toModel()
		return nil
	})
	return conv, err
}

// GetOrCreateDirect returns the direct conversation between a and b, creating
// candidate when none exists. The pair index guarantees at most one
// conversation per unordered pair. The second return value reports whether
// candidate was stored.
func (s *BboltStorage) GetOrCreateDirect(a, b string, candidate models.Conversation) (models.Conversation, bool, error) {
	var (
		conv    models.Conversation
		created bool
	)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		pairs := tx.Bucket(bucketDirectPairs)
		key := directPairKey(a, b)
		if existing := pairs.Get(key); existing != nil {
			c, err := getConversation(tx, string(existing))
			if err != nil {
				return err
			}
			conv = c.toModel()
			return nil
		}

		dbConv := conversationFromModel(candidate)
		if err := putConversation(tx, dbConv); err != nil {
			return err
		}
		if err := pairs.Put(key, []byte(dbConv.ID)); err != nil {
			return err
		}
		for _, p := range dbConv.Participants {
			if err := indexUser(tx, p, dbConv.ID); err != nil {
				return err
			}
		}
		conv = dbConv.toModel()
		created = true
		return nil
	})
	return conv, created, err
}

// CreateConversation stores a new conversation and indexes its participants.
func (s *BboltStorage) CreateConversation(conv models.Conversation) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketConversations).Get([]byte(conv.ID)) != nil {
			return fmt.Errorf("conversation %s: %w", conv.ID, models.ErrConflict)
		}
		dbConv := conversationFromModel(conv)
		if err := putConversation(tx, dbConv); err != nil {
			return err
		}
		for _, p := range dbConv.Participants {
			if err := indexUser(tx, p, dbConv.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateConversation loads the conversation, applies fn and stores the result
// in one transaction. An error from fn aborts the transaction with nothing
// written. A conversation left with no participants is deleted together with
// its messages; the returned bool reports that.
func (s *BboltStorage) UpdateConversation(id string, fn func(c *models.Conversation) error) (models.Conversation, bool, error) {
	var (
		conv    models.Conversation
		deleted bool
	)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		conv, deleted, err = updateConversation(tx, id, fn)
		return err
	})
	return conv, deleted, err
}

// updateConversation applies fn to the stored conversation within tx,
// keeping the user index in step with participant changes.
func updateConversation(tx *bbolt.Tx, id string, fn func(c *models.Conversation) error) (models.Conversation, bool, error) {
	c, err := getConversation(tx, id)
	if err != nil {
		return models.Conversation{}, false, err
	}
	before := slices.Clone(c.Participants)

	conv := c.toModel()
	if err := fn(&conv); err != nil {
		return models.Conversation{}, false, err
	}
	conv.ID = id

	if len(conv.Participants) == 0 {
		return conv, true, deleteConversation(tx, conversationFromModel(conv), before)
	}

	if err := putConversation(tx, conversationFromModel(conv)); err != nil {
		return models.Conversation{}, false, err
	}
	for _, p := range before {
		if !slices.Contains(conv.Participants, p) {
			if err := unindexUser(tx, p, id); err != nil {
				return models.Conversation{}, false, err
			}
		}
	}
	for _, p := range conv.Participants {
		if !slices.Contains(before, p) {
			if err := indexUser(tx, p, id); err != nil {
				return models.Conversation{}, false, err
			}
		}
	}
	return conv, false, nil
}

// DeleteConversation removes the conversation, its messages and all index
// entries pointing at it.
func (s *BboltStorage) DeleteConversation(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		c, err := getConversation(tx, id)
		if err != nil {
			return err
		}
		return deleteConversation(tx, c, c.Participants)
	})
}

func deleteConversation(tx *bbolt.Tx, c *DBConversation, indexed []string) error {
	msgs := tx.Bucket(bucketMessages)
	if convMsgs := msgs.Bucket([]byte(c.ID)); convMsgs != nil {
		index := tx.Bucket(bucketMessageIndex)
		if err := convMsgs.ForEach(func(k, _ []byte) error {
			return index.Delete(k)
		}); err != nil {
			return fmt.Errorf("failed to drop message index: %w", err)
		}
		if err := msgs.DeleteBucket([]byte(c.ID)); err != nil {
			return fmt.Errorf("failed to drop messages: %w", err)
		}
	}

	if !c.IsGroup && len(c.Participants) == 2 {
		if err := tx.Bucket(bucketDirectPairs).Delete(directPairKey(c.Participants[0], c.Participants[1])); err != nil {
			return err
		}
	}

	for _, p := range indexed {
		if err := unindexUser(tx, p, c.ID); err != nil {
			return err
		}
	}

	return tx.Bucket(bucketConversations).Delete(c.Key())
}

// ListUserConversations returns every conversation the user participates in,
// in no particular order.
func (s *BboltStorage) ListUserConversations(userID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		idx := tx.Bucket(bucketUserConversations).Bucket([]byte(userID))
		if idx == nil {
			return nil
		}
		return idx.ForEach(func(k, _ []byte) error {
			c, err := getConversation(tx, string(k))
			if errors.Is(err, models.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			convs = append(convs, c.toModel())
			return nil
		})
	})
	return convs, err
}
