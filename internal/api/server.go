// Package api exposes the dashboard and public widget HTTP surface.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"botnest/internal/auth"
	"botnest/internal/chat"
	"botnest/internal/metrics"
	"botnest/internal/queue"
	"botnest/internal/realtime"
	"botnest/internal/storage"
)

type Server struct {
	store          *storage.Store
	auth           *auth.Manager
	chat           *chat.Service
	bots           chat.BotSource
	limiter        *queue.RateLimiter
	ws             *realtime.Handler
	validate       *validator.Validate
	logger         zerolog.Logger
	metrics        *metrics.Metrics
	allowedOrigin  string
	healthPath     string
	metricsPath    string
	requestTimeout time.Duration
}

type ServerConfig struct {
	Store          *storage.Store
	Auth           *auth.Manager
	Chat           *chat.Service
	Bots           chat.BotSource
	RateLimiter    *queue.RateLimiter
	Realtime       *realtime.Handler
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
	AllowedOrigin  string
	HealthPath     string
	MetricsPath    string
	RequestTimeout time.Duration
}

func NewServer(cfg ServerConfig) *Server {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	bots := cfg.Bots
	if bots == nil {
		bots = cfg.Store
	}
	if cfg.AllowedOrigin == "" {
		cfg.AllowedOrigin = "*"
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/healthz"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	return &Server{
		store:          cfg.Store,
		auth:           cfg.Auth,
		chat:           cfg.Chat,
		bots:           bots,
		limiter:        cfg.RateLimiter,
		ws:             cfg.Realtime,
		validate:       validator.New(),
		logger:         cfg.Logger,
		metrics:        m,
		allowedOrigin:  cfg.AllowedOrigin,
		healthPath:     cfg.HealthPath,
		metricsPath:    cfg.MetricsPath,
		requestTimeout: cfg.RequestTimeout,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get(s.healthPath, func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, s.metricsPath, promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.requestTimeout))
			r.Post("/auth/register", s.handleRegister)
			r.Post("/auth/login", s.handleLogin)
		})

		// Public widget surface.
		r.Group(func(r chi.Router) {
			r.Use(s.widgetCORS)
			r.Use(middleware.Timeout(s.requestTimeout))
			r.Get("/chat/{chatbotID}/config", s.handleWidgetConfig)
			r.Post("/chat/{chatbotID}/message", s.handleWidgetMessage)
		})

		// Websocket routes stay outside the request timeout: connections are
		// long-lived by design.
		if s.ws != nil {
			r.Get("/ws/widget/{conversationID}", s.ws.Widget)
			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Get("/ws/dashboard/{chatbotID}", s.handleDashboardSocket)
			})
		}

		// Owner dashboard surface.
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Use(middleware.Timeout(s.requestTimeout))

			r.Get("/me", s.handleGetMe)
			r.Put("/me", s.handleUpdateMe)
			r.Delete("/me", s.handleDeleteMe)
			r.Get("/usage", s.handleUsage)

			r.Post("/chatbots", s.handleCreateChatbot)
			r.Get("/chatbots", s.handleListChatbots)
			r.Get("/chatbots/{chatbotID}", s.handleGetChatbot)
			r.Put("/chatbots/{chatbotID}", s.handleUpdateChatbot)
			r.Delete("/chatbots/{chatbotID}", s.handleDeleteChatbot)
			r.Get("/chatbots/{chatbotID}/analytics", s.handleAnalytics)
			r.Get("/chatbots/{chatbotID}/conversations", s.handleListConversations)

			r.Get("/conversations/{conversationID}/messages", s.handleListMessages)
			r.Post("/conversations/{conversationID}/end", s.handleEndConversation)
		})
	})

	return r
}

// handleDashboardSocket checks chatbot ownership before handing the upgrade
// to the realtime handler.
func (s *Server) handleDashboardSocket(w http.ResponseWriter, r *http.Request) {
	if _, err := s.ownedChatbot(r, chi.URLParam(r, "chatbotID")); err != nil {
		respondError(w, s.logger, err)
		return
	}
	s.ws.Dashboard(w, r)
}
