package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gluk-w/termhub/internal/buffer"
	"github.com/gluk-w/termhub/internal/cleanup"
	"github.com/gluk-w/termhub/internal/config"
	"github.com/gluk-w/termhub/internal/database"
	"github.com/gluk-w/termhub/internal/gateway"
	"github.com/gluk-w/termhub/internal/handlers"
	"github.com/gluk-w/termhub/internal/logging"
	"github.com/gluk-w/termhub/internal/session"
	"github.com/gluk-w/termhub/internal/shellhost"
	"github.com/gluk-w/termhub/internal/status"
	"github.com/gluk-w/termhub/internal/vault"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func main() {
	config.Load()
	logging.Init()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	// Credential vault is optional: without a master password the SSH
	// handlers fall back to inline credentials only.
	var v *vault.Vault
	if config.Cfg.VaultMasterPassword != "" {
		path := config.Cfg.VaultPath
		if path == "" {
			path = filepath.Join(config.Cfg.DataPath, "vault.json")
		}
		v = vault.New(path)
		if err := v.Init(config.Cfg.VaultMasterPassword, config.Cfg.VaultSalt); err != nil {
			log.Fatalf("Vault init: %v", err)
		}
		log.Printf("Vault initialized (%d credentials)", len(v.List()))
	} else {
		log.Printf("Vault disabled: VAULT_MASTER_PASSWORD not set")
	}

	host, err := shellhost.NewTmuxHost()
	if err != nil {
		log.Fatalf("Shell host: %v", err)
	}

	buffers := buffer.NewEngine(config.Cfg.ScrollbackLines, true)
	buffers.Start(config.Cfg.FlushInterval())

	var custom []status.Pattern
	if config.Cfg.StatusPatternsFile != "" {
		loaded, err := status.LoadPatternFile(config.Cfg.StatusPatternsFile)
		if err != nil {
			log.Fatalf("Status patterns: %v", err)
		}
		custom = loaded
		log.Printf("Loaded %d custom status patterns from %s", len(loaded), config.Cfg.StatusPatternsFile)
	}
	detector, err := status.NewDetector(status.Options{CustomPatterns: custom})
	if err != nil {
		log.Fatalf("Status detector: %v", err)
	}

	mgr := session.NewManager(host, buffers, detector)

	gw := gateway.New(mgr, buffers, detector, v, config.Cfg.CORSOrigin)
	mgr.Callbacks = session.Callbacks{
		OnOutput:       gw.FanoutOutput,
		OnStatusChange: gw.FanoutStatusChange,
		OnStateChange:  gw.FanoutStateChange,
		OnTermination:  gw.FanoutTermination,
		OnSessionError: gw.FanoutSessionError,
	}

	ctx := context.Background()
	if err := mgr.Initialize(ctx); err != nil {
		log.Printf("WARNING: session recovery: %v", err)
	}

	sweeper := cleanup.NewService(mgr, host,
		config.Cfg.IdleTimeout(), config.Cfg.TmuxMaxSessions, config.Cfg.CleanupInterval())
	sweeper.ConfigureSessionExpiry(config.Cfg.PausedTimeout(), config.Cfg.SessionSweepInterval())
	sweeper.Start()

	projects := &handlers.Projects{Mgr: mgr}
	notes := &handlers.Notes{}
	credentials := &handlers.Credentials{Vault: v}
	health := &handlers.Health{Host: host}
	stats := &handlers.Stats{Mgr: mgr, Buffers: buffers, Cleanup: sweeper, Gateway: gw}

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", health.Check)
	r.Get("/ws", gw.HandleWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/projects", projects.List)
		r.Post("/projects", projects.Create)
		r.Get("/projects/{id}", projects.Get)
		r.Put("/projects/{id}", projects.Update)
		r.Delete("/projects/{id}", projects.Delete)
		r.Get("/projects/{id}/sessions", projects.Sessions)

		r.Get("/projects/{id}/notes", notes.List)
		r.Post("/projects/{id}/notes", notes.Create)
		r.Put("/projects/{id}/notes/{noteId}", notes.Update)
		r.Delete("/projects/{id}/notes/{noteId}", notes.Delete)

		r.Get("/credentials", credentials.List)
		r.Post("/credentials", credentials.Create)
		r.Get("/credentials/{id}", credentials.Get)
		r.Delete("/credentials/{id}", credentials.Delete)

		r.Get("/sessions", stats.Sessions)
		r.Get("/sessions/{id}/buffer", stats.Buffer)
		r.Get("/stats", stats.Overview)
		r.Get("/logs", handlers.ServerLogs)
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", config.Cfg.Host, config.Cfg.Port),
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

	sweeper.Stop()
	if err := buffers.Flush(); err != nil {
		log.Printf("Final buffer flush: %v", err)
	}
	buffers.Destroy()
	mgr.Destroy()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
