package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"

	"go-converse/internal/auth"
	"go-converse/internal/config"
	"go-converse/internal/database"
	"go-converse/internal/server"
)

type App struct {
	log            *log.Logger
	db             database.ChatRepository
	mux            *http.Server
	cs             *server.ChatServer
	verifier       *auth.TokenVerifier
	validate       *validator.Validate
	allowedOrigins []string
	// overridable in tests
	generateShortId func() (string, error)
}

func NewApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.ChatRepository, verifier *auth.TokenVerifier, cfg *config.Config) *App {
	a := &App{
		log:             logger,
		db:              db,
		cs:              cs,
		verifier:        verifier,
		validate:        validator.New(),
		allowedOrigins:  cfg.AllowedOrigins,
		generateShortId: shortid.Generate,
	}

	mux.HandleFunc("POST /api/auth/register", a.createAccount)
	mux.HandleFunc("POST /api/auth/login", a.login)
	mux.HandleFunc("GET /api/auth/session", a.authMiddleware(a.session))
	mux.Handle("GET /api/auth/logout", a.authMiddleware(a.logout))
	mux.Handle("GET /api/users", a.authMiddleware(a.listUsers))
	mux.Handle("POST /api/conversations", a.authMiddleware(a.createConversation))
	mux.Handle("GET /api/conversations", a.authMiddleware(a.listConversations))
	mux.Handle("GET /api/messages", a.authMiddleware(a.getMessages))
	mux.Handle("GET /ws", a.authMiddleware(a.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = a.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	a.mux = srv
	return a
}

func (a *App) Start() error {
	a.log.Printf("starting server on %s\n", a.mux.Addr)
	return a.mux.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.log.Println("shutting down HTTP server...")
	if err := a.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
