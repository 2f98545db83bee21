package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/verist/control-room/backend/internal/agent"
	"github.com/verist/control-room/backend/internal/caseid"
	"github.com/verist/control-room/backend/internal/config"
	"github.com/verist/control-room/backend/internal/handler"
	"github.com/verist/control-room/backend/internal/handler/ws"
	"github.com/verist/control-room/backend/internal/realtime"
	sessionservice "github.com/verist/control-room/backend/internal/service/session"
	"github.com/verist/control-room/backend/internal/store"
	"github.com/verist/control-room/backend/internal/token"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Pick the persistence backend: database-backed when configured,
	// in-memory otherwise.
	var sessionStore store.Store
	if cfg.Database.Persistent() {
		gormStore, err := store.NewGormStore(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer func() {
			if err := gormStore.Close(); err != nil {
				log.Printf("warning: closing database: %v", err)
			}
		}()
		sessionStore = gormStore
		log.Printf("session store: %s", cfg.Database.Driver)
	} else {
		sessionStore = store.NewMemoryStore()
		log.Println("session store: in-memory (set DATABASE_DRIVER for persistence)")
	}

	agents, err := agent.NewMemoryStore(cfg.Auth.Seeds)
	if err != nil {
		log.Fatalf("failed to seed agent accounts: %v", err)
	}
	if len(cfg.Auth.Seeds) == 0 {
		log.Println("warning: AGENT_SEED is empty, no agent can log in")
	}

	issuer, err := token.NewIssuer(cfg.Auth.SigningKey, cfg.Auth.GuestTTL, cfg.Auth.AgentTTL)
	if err != nil {
		log.Fatalf("failed to initialize token issuer: %v", err)
	}

	hub := realtime.NewHub()
	go hub.Run()
	defer hub.Close()

	allocator := caseid.New(cfg.Sessions.CaseIDPrefix, sessionStore)
	sessions := sessionservice.NewService(sessionStore, allocator, issuer, hub, cfg.Sessions.KycRedirectURL)

	gateway := ws.NewGateway(sessions, issuer, hub, cfg.Server.JoinTimeout)
	router := handler.NewRouter(sessions, agents, issuer, gateway)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("control room backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
