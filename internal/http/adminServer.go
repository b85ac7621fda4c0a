package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"govorilka/internal/api"
)

type AdminServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAdminRouter(adminHandler *api.AdminHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/tokens", adminHandler.IssueTokenHandler)
	mux.HandleFunc("DELETE /admin/users/{id}", adminHandler.DeleteUserHandler)
	return mux
}

func NewAdminServer(adminHandler *api.AdminHandler, addr string) *AdminServer {
	if addr == "" {
		addr = "localhost:8081"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:    addr,
			Handler: NewAdminRouter(adminHandler),
		},
	}
}

func (s *AdminServer) Start() error {
	log.Printf("Admin API started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
