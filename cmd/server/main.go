package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ameliade/crosspost/internal/api"
	"github.com/ameliade/crosspost/internal/auth"
	"github.com/ameliade/crosspost/internal/config"
	"github.com/ameliade/crosspost/internal/crypto"
	"github.com/ameliade/crosspost/internal/db"
	"github.com/ameliade/crosspost/internal/images"
	"github.com/ameliade/crosspost/internal/mail"
	"github.com/ameliade/crosspost/internal/models"
	"github.com/ameliade/crosspost/internal/sites"
	"github.com/ameliade/crosspost/internal/uploader"
	ws "github.com/ameliade/crosspost/internal/websocket"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseConnection(pool)

	log.Printf("Successfully connected to database")

	server, err := NewServer(cfg, pool)
	if err != nil {
		log.Fatalf("Failed to build server: %v", err)
	}

	address := ":" + cfg.Port
	log.Printf("Crosspost backend server starting on %s (environment: %s)", address, cfg.Environment)

	if err := http.ListenAndServe(address, server); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

// NewServer creates and returns a new HTTP handler for the Crosspost API
// server.
func NewServer(cfg *config.Config, dbPool *pgxpool.Pool) (http.Handler, error) {
	store := db.NewStore(dbPool)
	vault := crypto.NewVault()

	imageStore, err := images.NewFileStore(cfg.ImageDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open image store: %w", err)
	}

	oauth := make(map[models.Site]sites.OAuthApp, len(cfg.OAuth))
	for site, app := range cfg.OAuth {
		oauth[site] = sites.OAuthApp{
			ClientID:     app.ClientID,
			ClientSecret: app.ClientSecret,
			RedirectURL:  app.RedirectURL,
		}
	}

	registry := sites.NewRegistry(&sites.Deps{
		Client: &http.Client{Timeout: 2 * time.Minute},
		Vault:  vault,
		Store:  store,
		Resize: images.Resize,
		OAuth:  oauth,
	})

	orchestrator := uploader.New(store, vault, registry, imageStore, cfg.GroupCooldown)
	sessions := auth.NewSessionStore(cfg.SessionMaxIdle)
	sender := mail.NewSender(cfg)
	wsHub := ws.NewHub(10)

	authHandler := api.NewAuthHandler(store, sessions, vault)
	accountsHandler := api.NewAccountsHandler(store, registry, vault, sender)
	draftsHandler := api.NewDraftsHandler(store, imageStore)
	submitHandler := api.NewSubmitHandler(store, imageStore, orchestrator, wsHub)
	wsHandler := api.NewWebSocketHandler(sessions, wsHub)

	requireSession := func(h http.HandlerFunc) http.Handler {
		return auth.RequireSession(sessions, h)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/", handleRoot)

	mux.HandleFunc("/api/auth/register", authHandler.Register)
	mux.HandleFunc("/api/auth/login", authHandler.Login)
	mux.Handle("/api/auth/logout", requireSession(authHandler.Logout))
	mux.Handle("/api/auth/password", requireSession(authHandler.ChangePassword))

	mux.Handle("/api/sites", requireSession(accountsHandler.HandleSites))
	mux.Handle("/api/sites/", requireSession(accountsHandler.HandleSite))
	mux.Handle("/api/accounts", requireSession(accountsHandler.HandleAccounts))
	mux.Handle("/api/accounts/", requireSession(accountsHandler.HandleAccount))

	mux.Handle("/api/drafts", requireSession(draftsHandler.HandleDrafts))
	mux.Handle("/api/drafts/", requireSession(draftsHandler.HandleDraft))
	mux.Handle("/api/groups", requireSession(draftsHandler.HandleGroups))
	mux.Handle("/api/groups/", requireSession(draftsHandler.HandleGroup))

	mux.Handle("/api/submit", requireSession(submitHandler.HandleSubmit))
	mux.Handle("/api/submit/", requireSession(submitHandler.HandleSubmitSaved))

	// WebSocket handler handles its own authentication via query parameter
	// (since browsers can't set headers on WebSocket connections).
	mux.Handle("/api/ws", http.HandlerFunc(wsHandler.Handle))

	return mux, nil
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Crosspost API is running")
}
