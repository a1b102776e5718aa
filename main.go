package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gluk-w/muxdeck/internal/auth"
	"github.com/gluk-w/muxdeck/internal/bridge"
	"github.com/gluk-w/muxdeck/internal/config"
	"github.com/gluk-w/muxdeck/internal/discovery"
	"github.com/gluk-w/muxdeck/internal/handlers"
	"github.com/gluk-w/muxdeck/internal/hostconn"
	"github.com/gluk-w/muxdeck/internal/hub"
	"github.com/gluk-w/muxdeck/internal/logging"
	"github.com/gluk-w/muxdeck/internal/middleware"
	"github.com/gluk-w/muxdeck/internal/store"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 && os.Args[1] == "--hash-password" {
		runHashPassword()
		return
	}

	config.Load()
	logging.Init()

	st, err := store.Open(config.Cfg.DataPath)
	if err != nil {
		log.Fatalf("Store init: %v", err)
	}

	hosts, err := config.LoadHosts(config.Cfg.HostsPath)
	if err != nil {
		log.Fatalf("Hosts file: %v", err)
	}
	hostMgr := hostconn.NewManager(hosts)
	log.Printf("Connection manager initialized (%d hosts configured)", len(hosts))

	engine := discovery.NewEngine(discovery.Options{
		Interval:            time.Duration(config.Cfg.PollMS) * time.Millisecond,
		AssistantCommand:    config.Cfg.AssistantCommand,
		IncludeNonAssistant: config.Cfg.IncludeNonAssistant,
	}, st, hostMgr)

	issuer, err := auth.NewTokenIssuer(config.Cfg.AuthSecret,
		time.Duration(config.Cfg.TokenExpiryS)*time.Second)
	if err != nil {
		log.Fatalf("Token issuer: %v", err)
	}

	wsHub := hub.New(engine, time.Duration(config.Cfg.HeartbeatMS)*time.Millisecond)
	bridges := bridge.NewRegistry(wsHub, openShell(engine, hostMgr), engine.SetAssistantStatus)
	wsHub.SetRegistry(bridges)

	handlers.Store = st
	handlers.Engine = engine
	handlers.HostMgr = hostMgr
	handlers.Bridges = bridges
	handlers.Issuer = issuer

	bgCtx, bgCancel := context.WithCancel(context.Background())
	go engine.Run(bgCtx)
	go wsHub.Run(bgCtx)
	maintenance := startMaintenance(st, bridges)

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", handlers.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		// Auth endpoints (no auth required)
		r.Post("/auth/login", handlers.Login)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(issuer))

			r.Get("/auth/me", handlers.CurrentUser)

			// Hosts
			r.Get("/hosts", handlers.ListHosts)
			r.Post("/hosts", handlers.CreateHost)
			r.Post("/hosts/test", handlers.TestHost)
			r.Get("/hosts/{id}", handlers.GetHost)
			r.Put("/hosts/{id}", handlers.UpdateHost)
			r.Delete("/hosts/{id}", handlers.DeleteHost)
			r.Post("/hosts/{id}/connect", handlers.ConnectHost)
			r.Post("/hosts/{id}/disconnect", handlers.DisconnectHost)
			r.Get("/hosts/{id}/events", handlers.HostEvents)

			// Workspaces
			r.Get("/workspaces", handlers.ListWorkspaces)
			r.Post("/workspaces", handlers.CreateWorkspace)
			r.Get("/workspaces/{id}", handlers.GetWorkspace)
			r.Put("/workspaces/{id}", handlers.UpdateWorkspace)
			r.Delete("/workspaces/{id}", handlers.DeleteWorkspace)

			// Sessions
			r.Get("/sessions", handlers.ListSessions)
			r.Post("/sessions", handlers.CreateSession)
			r.Post("/sessions/attach", handlers.AttachSession)
			r.Get("/sessions/available", handlers.AvailableSessions)
			r.Get("/sessions/{id}", handlers.GetSession)
			r.Delete("/sessions/{id}", handlers.DeleteSession)
			r.Post("/sessions/{id}/hide", handlers.HideSession)
			r.Post("/sessions/{id}/unhide", handlers.UnhideSession)
			r.Put("/sessions/{id}/workspace", handlers.SetSessionWorkspace)

			// Todos
			r.Get("/todos", handlers.ListTodos)
			r.Post("/todos", handlers.CreateTodo)
			r.Put("/todos/{id}", handlers.UpdateTodo)
			r.Delete("/todos/{id}", handlers.DeleteTodo)

			// Backlog
			r.Get("/backlog", handlers.ListBacklog)
			r.Post("/backlog", handlers.CreateBacklogItem)
			r.Put("/backlog/{id}", handlers.UpdateBacklogItem)
			r.Delete("/backlog/{id}", handlers.DeleteBacklogItem)

			// Server logs
			r.Get("/logs", handlers.GetLogs)
			r.Delete("/logs", handlers.ClearLogs)
		})
	})

	// Terminal and session-event WebSocket. The middleware accepts the
	// token from the query string since browsers cannot set WS headers.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(issuer))
		r.Get(config.Cfg.WSPath, wsHub.HandleWS)
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", config.Cfg.BindHost, config.Cfg.Port),
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	bridges.CloseAll()
	hostMgr.DisconnectAll()
	bgCancel()
	<-maintenance.Stop().Done()
	st.FlushRetries()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

// openShell resolves a session id to a live terminal stream. Local sessions
// attach through a local PTY; remote ones through the host's SSH transport.
func openShell(engine *discovery.Engine, hostMgr *hostconn.Manager) bridge.OpenFunc {
	return func(ctx context.Context, sessionID string) (hostconn.ShellStream, bool, error) {
		s, ok := engine.Get(sessionID)
		if !ok {
			return nil, false, fmt.Errorf("session %s not found", sessionID)
		}
		if s.Status == discovery.StatusTerminated {
			return nil, false, fmt.Errorf("session %s is terminated", sessionID)
		}

		adapter := engine.Adapter()
		if s.Host.Local {
			shell, err := hostconn.OpenLocalShell(ctx, adapter.AttachArgs(s.Mux.SessionName))
			return shell, s.IsAssistantSession, err
		}
		shell, err := hostMgr.OpenShell(ctx, s.Host.ID, adapter.AttachCommand(s.Mux.SessionName))
		return shell, s.IsAssistantSession, err
	}
}

func runHashPassword() {
	fs := flag.NewFlagSet("hash-password", flag.ExitOnError)
	password := fs.String("password", "", "Password to hash")
	fs.Parse(os.Args[2:])

	if *password == "" {
		fmt.Fprintln(os.Stderr, "Usage: muxdeck --hash-password --password <pass>")
		os.Exit(1)
	}

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}
	fmt.Println(hash)
}
