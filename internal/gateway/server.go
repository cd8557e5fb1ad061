// Package gateway is the HTTP surface: the JSON API, provider webhook
// endpoints, the realtime socket and the metrics exposition.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"unibox/internal/channel"
	"unibox/internal/config"
	"unibox/internal/dispatch"
	"unibox/internal/domain"
	"unibox/internal/metrics"
	"unibox/internal/realtime"
	"unibox/internal/template"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxBodySize = 1 << 20 // 1MB

// Deps carries the collaborators the server routes requests to.
type Deps struct {
	Config     *config.Config
	Store      domain.Store
	Registry   *channel.Registry
	Dispatcher *dispatch.Dispatcher
	Normalizer *dispatch.Normalizer
	Sweeper    *dispatch.Sweeper
	Hub        *realtime.Hub // optional
	Templates  *template.Library
	Logger     *slog.Logger
}

type Server struct {
	deps   Deps
	logger *slog.Logger
	server *http.Server
}

func NewServer(deps Deps) *Server {
	return &Server{deps: deps, logger: deps.Logger}
}

// Router assembles the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/messages", s.handleSendMessage)
		r.Get("/messages", s.handleListMessages)
		r.Get("/contacts", s.handleListContacts)
		r.Post("/contacts", s.handleCreateContact)
		r.Get("/threads", s.handleListThreads)
		r.Get("/integrations/status", s.handleIntegrationStatus)
		r.Get("/analytics", s.handleAnalytics)
		r.Get("/templates", s.handleListTemplates)
		r.Get("/cron/scheduled-messages", s.handleCronSweep)
	})

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/twilio", s.handleTwilioWebhook)
		r.Get("/facebook", s.handleFacebookVerify)
		r.Post("/facebook", s.handleFacebookWebhook)
		r.Post("/twitter", s.channelWebhook(domain.ChannelTwitter))
		r.Post("/email", s.channelWebhook(domain.ChannelEmail))
		r.Post("/telegram", s.channelWebhook(domain.ChannelTelegram))
	})

	if s.deps.Hub != nil {
		r.Get("/ws", s.deps.Hub.ServeWS)
	}
	if s.deps.Config.Metrics.Enabled {
		r.Get("/metrics", metrics.Collector.Handler())
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.deps.Config.Server.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	s.logger.Info("gateway started", "addr", s.deps.Config.Server.Addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if s.deps.Hub != nil {
			s.deps.Hub.Shutdown()
		}
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
