package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hackgods/clinic-queue/internal/appointment"
	"github.com/hackgods/clinic-queue/internal/messaging"
	"github.com/hackgods/clinic-queue/internal/notify"
)

// Session is the operator view of the messaging session.
type Session interface {
	Status() messaging.Status
	Connect() error
	Challenge() (messaging.Challenge, error)
	Disconnect(ctx context.Context) error
}

type DispatcherStats interface {
	Stats() notify.Stats
}

type RouterConfig struct {
	Service    *appointment.Service
	Session    Session
	Dispatcher DispatcherStats
	Postgres   Check
	Redis      Check
	Logger     zerolog.Logger
	Env        string
	Version    string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Session, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Post("/appointments", createAppointmentHandler(cfg.Service))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
	r.Get("/appointments/{id}/queue", appointmentQueueHandler(cfg.Service))
	r.Patch("/appointments/{id}/status", changeStatusHandler(cfg.Service))
	r.Get("/doctors/{id}/queue", doctorQueueHandler(cfg.Service))

	m := &messagingHandler{session: cfg.Session, dispatcher: cfg.Dispatcher, logger: cfg.Logger}
	r.Route("/messaging", func(r chi.Router) {
		r.Get("/status", m.status)
		r.Post("/connect", m.connect)
		r.Get("/pairing", m.pairing)
		r.Post("/logout", m.logout)
	})

	return otelhttp.NewHandler(r, "clinic-queue-api")
}
