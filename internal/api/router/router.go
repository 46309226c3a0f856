package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/medspa-nurture/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/medspa-nurture/internal/http/middleware"
	"github.com/wolfman30/medspa-nurture/pkg/logging"
)

// Config holds router configuration. Nil handlers leave their routes unmounted.
type Config struct {
	Logger          *logging.Logger
	Sessions        *handlers.SessionsHandler
	AutoTag         *handlers.AutoTagHandler
	Flows           *handlers.FlowsHandler
	BusinessHours   *handlers.BusinessHoursHandler
	Events          *handlers.EventsHandler
	AdminAuthSecret string
	MetricsHandler  http.Handler
	// Ready reports dependency health for /health; nil means always healthy.
	Ready func(r *http.Request) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Group(func(public chi.Router) {
		public.Get("/health", health(cfg.Ready))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
		api.Route("/orgs/{orgID}", func(org chi.Router) {
			org.Use(requireOrgID)
			if cfg.Sessions != nil {
				cfg.Sessions.Routes(org)
			}
			if cfg.AutoTag != nil {
				cfg.AutoTag.Routes(org)
			}
			if cfg.Flows != nil {
				cfg.Flows.Routes(org)
			}
			if cfg.BusinessHours != nil {
				cfg.BusinessHours.Routes(org)
			}
			if cfg.Events != nil {
				cfg.Events.Routes(org)
			}
		})
	})

	return r
}

func health(ready func(r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if ready != nil {
			if err := ready(r); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
