package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"govorilka/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v any) error
	ReadJSON(v any) error
}

type messageHub interface {
	Connect(userID string) (string, <-chan models.ServerMessage)
	Disconnect(sessionID string)
	RegisterPresence(sessionID, userID string) error
	OnlineUsers() []string
	JoinConversation(sessionID, conversationID string) error
	LeaveConversation(sessionID, conversationID string)
	Typing(sessionID, conversationID string)
}

// chatService is the part of chat.Service the socket protocol calls into.
type chatService interface {
	GetConversation(callerID, conversationID string) (models.Conversation, error)
	DeleteMessage(callerID string, messageID int64) error
}

type Connection struct {
	ws         wsConnection
	hub        messageHub
	chat       chatService
	userID     string
	sessionID  string
	fromClient chan models.ClientMessage
	fromServer <-chan models.ServerMessage
	errorCh    chan error
}

func NewConnection(
	hub messageHub,
	chat chatService,
	ws wsConnection,
	userID string,
) *Connection {
	sessionID, fromServer := hub.Connect(userID)
	return &Connection{
		ws:         ws,
		hub:        hub,
		chat:       chat,
		userID:     userID,
		sessionID:  sessionID,
		fromClient: make(chan models.ClientMessage),
		fromServer: fromServer,
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.hub.Disconnect(c.sessionID)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	_ = c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var msg models.ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return err
		}
		select {
		case c.fromClient <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case msg := <-c.fromClient:
			reply := c.processClientMessage(msg)
			if reply == nil {
				continue
			}
			if err := c.ws.WriteJSON(*reply); err != nil {
				return err
			}
		case msg, ok := <-c.fromServer:
			if !ok {
				// The hub closed the session.
				return nil
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// processClientMessage handles one client frame and returns the frame to
// send back to this session only, if any.
func (c *Connection) processClientMessage(msg models.ClientMessage) *models.ServerMessage {
	var err error
	switch msg.Type {
	case models.ClientMessageTypeRegisterPresence:
		userID := msg.UserID
		if userID == "" {
			userID = c.userID
		}
		err = c.hub.RegisterPresence(c.sessionID, userID)
	case models.ClientMessageTypeGetOnlineUsers:
		return &models.ServerMessage{
			Type:  models.ServerMessageTypeOnlineUsers,
			Users: c.hub.OnlineUsers(),
		}
	case models.ClientMessageTypeJoinConversation:
		err = c.join(msg.ConversationID)
	case models.ClientMessageTypeLeaveConversation:
		c.hub.LeaveConversation(c.sessionID, msg.ConversationID)
	case models.ClientMessageTypeTyping:
		c.hub.Typing(c.sessionID, msg.ConversationID)
	case models.ClientMessageTypeDeleteMessage:
		err = c.chat.DeleteMessage(c.userID, msg.MessageID)
	default:
		err = fmt.Errorf("unknown message type %q: %w", msg.Type, models.ErrInvalidArgument)
	}

	if err == nil {
		return nil
	}
	kind := models.ErrorKind(err)
	if kind == "internal" {
		slog.Error("socket request failed", "type", msg.Type, "user_id", c.userID, "error", err)
	}
	return &models.ServerMessage{
		Type:           models.ServerMessageTypeError,
		ConversationID: msg.ConversationID,
		MessageID:      msg.MessageID,
		Error:          kind,
	}
}

// join subscribes the session to a conversation the user participates in.
// Membership is checked again after joining: a removal committed before the
// join has already been fanned out without this session, so its eviction
// would be missed. Removals committed later evict the session as usual.
func (c *Connection) join(conversationID string) error {
	if _, err := c.chat.GetConversation(c.userID, conversationID); err != nil {
		return err
	}
	if err := c.hub.JoinConversation(c.sessionID, conversationID); err != nil {
		return err
	}
	if _, err := c.chat.GetConversation(c.userID, conversationID); err != nil {
		c.hub.LeaveConversation(c.sessionID, conversationID)
		return err
	}
	return nil
}
