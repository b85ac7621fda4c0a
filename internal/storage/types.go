package storage

import (
	"encoding"
	"encoding/binary"

	"govorilka/internal/models"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBConversation struct {
	ID           string         `msgpack:"id"`
	IsGroup      bool           `msgpack:"isGroup"`
	GroupName    string         `msgpack:"groupName"`
	GroupAvatar  string         `msgpack:"groupAvatar"`
	GroupBio     string         `msgpack:"groupBio"`
	Participants []string       `msgpack:"participants"`
	Admins       []string       `msgpack:"admins"`
	LastMessage  string         `msgpack:"lastMessage"`
	UnreadCount  map[string]int `msgpack:"unreadCount"`
	HiddenBy     []string       `msgpack:"hiddenBy"`
	MutedBy      []string       `msgpack:"mutedBy"`
	CreatedAt    int64          `msgpack:"createdAt"`
	UpdatedAt    int64          `msgpack:"updatedAt"`
}

func (c *DBConversation) Key() []byte {
	return []byte(c.ID)
}

func (c *DBConversation) MarshalBinary() (data []byte, err error) {
	type alias DBConversation
	return msgpack.Marshal((*alias)(c))
}

func (c *DBConversation) UnmarshalBinary(data []byte) error {
	type alias DBConversation
	return msgpack.Unmarshal(data, (*alias)(c))
}

func (c *DBConversation) toModel() models.Conversation {
	return models.Conversation{
		ID:           c.ID,
		IsGroup:      c.IsGroup,
		GroupName:    c.GroupName,
		GroupAvatar:  c.GroupAvatar,
		GroupBio:     c.GroupBio,
		Participants: c.Participants,
		Admins:       c.Admins,
		LastMessage:  c.LastMessage,
		UnreadCount:  c.UnreadCount,
		HiddenBy:     c.HiddenBy,
		MutedBy:      c.MutedBy,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func conversationFromModel(c models.Conversation) *DBConversation {
	return &DBConversation{
		ID:           c.ID,
		IsGroup:      c.IsGroup,
		GroupName:    c.GroupName,
		GroupAvatar:  c.GroupAvatar,
		GroupBio:     c.GroupBio,
		Participants: c.Participants,
		Admins:       c.Admins,
		LastMessage:  c.LastMessage,
		UnreadCount:  c.UnreadCount,
		HiddenBy:     c.HiddenBy,
		MutedBy:      c.MutedBy,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

type DBMessage struct {
	ID             int64    `msgpack:"id"`
	ConversationID string   `msgpack:"conversationId"`
	Sender         string   `msgpack:"sender"`
	Text           string   `msgpack:"text"`
	IsReadBy       []string `msgpack:"isReadBy"`
	CreatedAt      int64    `msgpack:"createdAt"`
}

func (m *DBMessage) Key() []byte {
	return messageKey(m.ID)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

func (m *DBMessage) toModel() models.Message {
	readBy := m.IsReadBy
	if readBy == nil {
		readBy = []string{}
	}
	return models.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         m.Sender,
		Text:           m.Text,
		IsReadBy:       readBy,
		CreatedAt:      m.CreatedAt,
	}
}

// messageKey encodes ids big-endian so bbolt cursor order equals id order.
func messageKey(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

func messageIDFromKey(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key))
}
