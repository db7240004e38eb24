// Package http exposes the gateway over HTTP: the Vonage answer and event
// webhooks, the media websocket and the operator API.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voicebridge/call-gateway/internal/app"
	"github.com/voicebridge/call-gateway/internal/models"
	"github.com/voicebridge/call-gateway/internal/observability/logging"
	"github.com/voicebridge/call-gateway/internal/service/callcontrol/vonage"
	"github.com/voicebridge/call-gateway/internal/service/session"
)

const maxFrameBytes = 1 << 20

type handlers struct {
	app      *app.Application
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

func newHandlers(a *app.Application) *handlers {
	return &handlers{
		app: a,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			// Vonage connects from its media servers without an Origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logging.WithComponent("http"),
	}
}

type listenRequest struct {
	TimeoutMs    int64 `json:"timeoutMs"`
	MaxSilenceMs int64 `json:"maxSilenceMs"`
}

type listenResponse struct {
	SessionID string `json:"sessionId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// answer returns the NCCO that connects the call audio to /socket.
func (h *handlers) answer(w http.ResponseWriter, r *http.Request) {
	callId := r.URL.Query().Get("uuid")
	cfg := h.app.Answer
	if cfg.PublicHost == "" {
		cfg.PublicHost = r.Host
	}

	h.logger.Info().
		Str("callId", callId).
		Str("from", r.URL.Query().Get("from")).
		Str("to", r.URL.Query().Get("to")).
		Msg("Answering call")

	writeJSON(w, http.StatusOK, vonage.AnswerNCCO(cfg, callId))
}

// callEvent logs a Vonage call event and releases the session once the call
// has ended.
func (h *handlers) callEvent(w http.ResponseWriter, r *http.Request) {
	var ev vonage.CallEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		h.logger.Warn().Err(err).Msg("Unreadable call event")
		w.WriteHeader(http.StatusOK)
		return
	}

	h.logger.Info().
		Str("callId", ev.UUID).
		Str("status", ev.Status).
		Str("direction", ev.Direction).
		Msg("Call event")

	if ev.IsTerminal() && ev.UUID != "" {
		if err := h.app.Sessions.Detach(ev.UUID); err != nil && !errors.Is(err, session.ErrUnknownCall) {
			h.logger.Warn().Err(err).Str("callId", ev.UUID).Msg("Error detaching call")
		}
	}
	w.WriteHeader(http.StatusOK)
}

// mediaSocket receives the call's audio. Text frames carry the Vonage
// handshake; binary frames are linear16 audio.
func (h *handlers) mediaSocket(w http.ResponseWriter, r *http.Request) {
	callId := r.URL.Query().Get("call_id")
	if callId == "" {
		callId = uuid.NewString()
	}
	logger := logging.WithCall(callId)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	start := time.Now()
	s := h.app.Sessions.Attach(callId)
	defer func() {
		if err := h.app.Sessions.Detach(callId); err != nil && !errors.Is(err, session.ErrUnknownCall) {
			logger.Warn().Err(err).Msg("Error detaching call")
		}
		logger.Info().Dur("duration", time.Since(start)).Msg("Media socket closed")
	}()

	logger.Info().Str("remote", r.RemoteAddr).Msg("Media socket connected")

	if h.app.Cfg.Listen.AutoStart {
		if _, err := s.BeginListening(r.Context(), session.ListenOptions{}); err != nil {
			logger.Warn().Err(err).Msg("Failed to start listening")
		}
	}

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("Media socket read ended")
			}
			return
		}

		switch mt {
		case websocket.BinaryMessage:
			s.PushFrame(data)
		case websocket.TextMessage:
			if json.Valid(data) {
				logger.Info().RawJSON("handshake", data).Msg("Media socket handshake")
			} else {
				logger.Info().Str("text", string(data)).Msg("Media socket text message")
			}
		}
	}
}

func (h *handlers) beginListening(w http.ResponseWriter, r *http.Request) {
	callId := chi.URLParam(r, "callId")

	var req listenRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.TimeoutMs < 0 || req.MaxSilenceMs < 0 {
		writeError(w, http.StatusBadRequest, "timeoutMs and maxSilenceMs must not be negative")
		return
	}

	id, err := h.app.Sessions.BeginListening(r.Context(), callId, session.ListenOptions{
		MaxDuration: time.Duration(req.TimeoutMs) * time.Millisecond,
		MaxSilence:  time.Duration(req.MaxSilenceMs) * time.Millisecond,
	})
	switch {
	case errors.Is(err, session.ErrUnknownCall):
		writeError(w, http.StatusNotFound, "not found")
		return
	case errors.Is(err, session.ErrSessionClosed):
		writeError(w, http.StatusConflict, "call ended")
		return
	case err != nil:
		h.logger.Warn().Err(err).Str("callId", callId).Msg("Begin listening failed")
		writeError(w, http.StatusBadGateway, "transcription backend unavailable")
		return
	}

	writeJSON(w, http.StatusOK, listenResponse{SessionID: id})
}

func (h *handlers) listCalls(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Sessions.Calls())
}

func (h *handlers) listUtterances(w http.ResponseWriter, r *http.Request) {
	var recs []models.UtteranceRecord
	if callId := r.URL.Query().Get("callId"); callId != "" {
		recs = h.app.Registry.ListByCall(callId)
	} else {
		recs = h.app.Registry.List()
	}
	if recs == nil {
		recs = []models.UtteranceRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handlers) getUtterance(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.app.Registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
