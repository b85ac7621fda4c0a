package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"govorilka/internal/api"
	"govorilka/internal/auth"
	"govorilka/internal/chat"
	"govorilka/internal/commands"
	"govorilka/internal/config"
	"govorilka/internal/filestore"
	"govorilka/internal/http"
	"govorilka/internal/storage"
	"govorilka/internal/ws"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("govorilka", flag.ContinueOnError)
	issueToken := flags.String("issue-token", "", "User ID to issue an access token for (calls the admin API of a running server)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*issueToken != "")
	if err != nil {
		return err
	}

	if *issueToken != "" {
		return commands.IssueToken(*issueToken, cfg)
	}

	authConfig := auth.Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte(cfg.AuthSecret)),
		TokenExpiry: cfg.TokenExpiry,
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	authService, err := auth.NewAuthService(ctx, authConfig)
	if err != nil {
		return err
	}

	files, err := filestore.NewLocalFileStore(cfg.UploadsPath)
	if err != nil {
		return err
	}
	media := filestore.NewMedia(files, bbStorage, cfg.BaseURL)

	hub := ws.NewHub(cfg.OutboundBuffer)
	chatService := chat.NewService(bbStorage, hub, chat.WithMediaStore(media))

	apiHandlers := api.New(authService, chatService, media, hub, cfg.MaxAvatarBytes)
	adminHandler := api.NewAdminHandler(authService, chatService, hub)

	adminServer := http.NewAdminServer(adminHandler, cfg.AdminAddr)
	limiter := api.NewRateLimiter(ctx, cfg.RateLimit)
	apiServer := http.NewAPIServer(apiHandlers, ws.NewServer(authService, hub, chatService), limiter, cfg.APIAddr)

	g, gCtx := errgroup.WithContext(ctx)

	// Start Admin Server
	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		// Hijacked websocket connections outlive Shutdown; close them via the hub.
		hub.Close()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
