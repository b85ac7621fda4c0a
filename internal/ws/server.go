package ws

import (
	"log"
	"net/http"

	"govorilka/internal/auth"

	"github.com/gorilla/websocket"
)

type tokenVerifier interface {
	GetUserID(token string) (string, error)
}

type Server struct {
	auth     tokenVerifier
	hub      *Hub
	chat     chatService
	upgrader *websocket.Upgrader
}

func NewServer(auth tokenVerifier, hub *Hub, chat chatService) *Server {
	return &Server{
		auth: auth,
		hub:  hub,
		chat: chat,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Tokens, not cookies, authenticate the socket.
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, err := s.auth.GetUserID(auth.TokenFromRequest(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}

	if err := NewConnection(s.hub, s.chat, conn, userID).Handle(r.Context()); err != nil {
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			log.Printf("websocket connection of %s closed: %v", userID, err)
		}
	}
}
