package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/erazemk/svezina/internal/account"
	"github.com/erazemk/svezina/internal/auth"
	"github.com/erazemk/svezina/internal/imaging"
	"github.com/erazemk/svezina/internal/jobs"
	"github.com/erazemk/svezina/internal/tracker"
)

// Config wires the router to its services.
type Config struct {
	DB          *sql.DB
	Accounts    *account.Service
	Tracker     *tracker.Service
	Queue       *jobs.Queue
	JWTSecret   string
	TokenTTL    time.Duration
	AdminEmails []string
	CORSOrigins []string
	Images      imaging.Options
	Logger      *slog.Logger
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tokens := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	authHandler := &AuthHandler{DB: cfg.DB, Accounts: cfg.Accounts, Tokens: tokens}
	itemsHandler := &ItemsHandler{DB: cfg.DB, Tracker: cfg.Tracker, Images: cfg.Images}
	alertsHandler := &AlertsHandler{DB: cfg.DB, Queue: cfg.Queue, Tracker: cfg.Tracker}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Route("/api", func(r chi.Router) {
		// Public.
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(tokens, cfg.DB))

			r.Put("/auth/password", authHandler.ChangePassword)
			r.Post("/auth/logout", authHandler.Logout)

			r.Route("/items", func(r chi.Router) {
				r.Get("/", itemsHandler.List)
				r.Post("/", itemsHandler.Create)
				r.Get("/{id}", itemsHandler.Get)
				r.Put("/{id}", itemsHandler.Update)
				r.Delete("/{id}", itemsHandler.Delete)
				r.Put("/{id}/image", itemsHandler.UploadImage)
				r.Get("/{id}/image", itemsHandler.GetImage)
			})

			r.Get("/alerts", alertsHandler.Pending)
			r.Get("/notifications", alertsHandler.Notifications)
			r.Post("/notifications/{id}/read", alertsHandler.MarkRead)

			r.With(RequireAdmin(cfg.AdminEmails)).Post("/admin/clear", alertsHandler.Clear)
		})
	})

	return r
}
