package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/voicebridge/call-gateway/internal/app"
)

// NewRouter constructs the HTTP router for the service: Vonage webhooks, the
// media websocket and the operator API.
func NewRouter(application *app.Application) http.Handler {
	h := newHandlers(application)
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(log.Logger))

	// The media socket is long-lived and hijacked; it logs its own lifecycle.
	r.Get("/socket", h.mediaSocket)

	r.Group(func(r chi.Router) {
		r.Use(accessLog)

		// Vonage webhooks
		r.Get("/answer", h.answer)
		r.Post("/events", h.callEvent)

		// Health endpoints
		r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
			if !application.Ready() {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("not ready"))
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
		})

		// Operator API
		r.Route("/v1", func(r chi.Router) {
			r.Get("/calls", h.listCalls)
			r.Post("/calls/{callId}/listen", h.beginListening)
			r.Get("/utterances", h.listUtterances)
			r.Get("/utterances/{id}", h.getUtterance)
		})
	})

	return r
}

var accessLog = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("requestId", middleware.GetReqID(r.Context())).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("HTTP request")
})
