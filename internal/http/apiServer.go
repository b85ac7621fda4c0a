package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"govorilka/internal/api"
	"govorilka/internal/ws"
	"govorilka/static"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

// NewRouter returns the public API routes. It is separate from the server so
// tests can mount it on httptest.
func NewRouter(apiHandlers *api.API, wsServer *ws.Server) *http.ServeMux {
	auth := apiHandlers.RequireAuth

	mux := http.NewServeMux()

	// Public assets (default group avatar)
	mux.HandleFunc("GET /", NewFileServerHandler(static.Content))

	// Conversations
	mux.HandleFunc("POST /api/conversations/direct", auth(apiHandlers.DirectConversationHandler))
	mux.HandleFunc("GET /api/conversations", auth(apiHandlers.ListConversationsHandler))
	mux.HandleFunc("GET /api/conversations/search", auth(apiHandlers.SearchConversationsHandler))
	mux.HandleFunc("GET /api/conversations/{id}", auth(apiHandlers.GetConversationHandler))
	mux.HandleFunc("GET /api/conversations/{id}/messages", auth(apiHandlers.GetMessagesHandler))
	mux.HandleFunc("POST /api/conversations/{id}/messages", auth(apiHandlers.SendMessageHandler))
	mux.HandleFunc("GET /api/conversations/{id}/messages/search", auth(apiHandlers.SearchMessagesHandler))
	mux.HandleFunc("POST /api/conversations/{id}/read", auth(apiHandlers.MarkReadHandler()))
	mux.HandleFunc("POST /api/conversations/{id}/hide", auth(apiHandlers.HideHandler()))
	mux.HandleFunc("POST /api/conversations/{id}/unhide", auth(apiHandlers.UnhideHandler()))
	mux.HandleFunc("POST /api/conversations/{id}/mute", auth(apiHandlers.MuteHandler()))
	mux.HandleFunc("POST /api/conversations/{id}/unmute", auth(apiHandlers.UnmuteHandler()))
	mux.HandleFunc("DELETE /api/messages/{id}", auth(apiHandlers.DeleteMessageHandler))

	// Groups
	mux.HandleFunc("POST /api/groups", auth(apiHandlers.CreateGroupHandler))
	mux.HandleFunc("POST /api/groups/{id}/participants", auth(apiHandlers.AddParticipantsHandler))
	mux.HandleFunc("DELETE /api/groups/{id}/participants", auth(apiHandlers.RemoveParticipantsHandler))
	mux.HandleFunc("POST /api/groups/{id}/admins", auth(apiHandlers.PromoteHandler()))
	mux.HandleFunc("DELETE /api/groups/{id}/admins", auth(apiHandlers.DemoteHandler()))
	mux.HandleFunc("PUT /api/groups/{id}/name", auth(apiHandlers.RenameGroupHandler))
	mux.HandleFunc("PUT /api/groups/{id}/bio", auth(apiHandlers.UpdateBioHandler))
	mux.HandleFunc("POST /api/groups/{id}/avatar", auth(apiHandlers.UploadGroupAvatarHandler))
	mux.HandleFunc("POST /api/groups/{id}/leave", auth(apiHandlers.LeaveGroupHandler))
	mux.HandleFunc("DELETE /api/groups/{id}", auth(apiHandlers.DeleteGroupHandler))

	mux.HandleFunc("GET /api/media/{id}", apiHandlers.GetMediaHandler)
	mux.HandleFunc("GET /api/online", auth(apiHandlers.OnlineUsersHandler))
	mux.HandleFunc("POST /api/logoff", auth(apiHandlers.LogoffHandler))

	// WebSocket endpoint
	mux.HandleFunc("GET /api/ws", wsServer.HandleConnections)

	return mux
}

// NewAPIServer serves the API routes behind the per-client rate limiter.
func NewAPIServer(apiHandlers *api.API, wsServer *ws.Server, limiter *api.RateLimiter, addr string) *APIServer {
	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: limiter.Middleware(NewRouter(apiHandlers, wsServer)),
		},
	}
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
