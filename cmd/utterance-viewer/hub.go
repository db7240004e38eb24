package main

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/voicebridge/call-gateway/internal/models"
)

// viewerEvent is the flattened form pushed to browsers for both topics.
type viewerEvent struct {
	Kind      string `json:"kind"`
	CallID    string `json:"callId"`
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
	IsFinal   bool   `json:"isFinal"`
	Reason    string `json:"reason,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// decodeEvent turns a Kafka message value from either topic into a
// viewerEvent, keyed off its eventType.
func decodeEvent(value []byte) (viewerEvent, error) {
	var envelope struct {
		EventType string `json:"eventType"`
	}
	if err := json.Unmarshal(value, &envelope); err != nil {
		return viewerEvent{}, err
	}

	switch envelope.EventType {
	case models.EventTypeTranscriptInterim, models.EventTypeTranscriptFinal:
		var ev models.TranscriptEvent
		if err := json.Unmarshal(value, &ev); err != nil {
			return viewerEvent{}, err
		}
		kind := "interim"
		if ev.IsFinal {
			kind = "final"
		}
		return viewerEvent{
			Kind:      kind,
			CallID:    ev.CallID,
			SessionID: ev.SessionID,
			Text:      ev.Text,
			IsFinal:   ev.IsFinal,
			Timestamp: ev.Timestamp,
		}, nil
	case models.EventTypeUtterance:
		var ev models.UtteranceEvent
		if err := json.Unmarshal(value, &ev); err != nil {
			return viewerEvent{}, err
		}
		return viewerEvent{
			Kind:      "utterance",
			CallID:    ev.CallID,
			SessionID: ev.SessionID,
			Text:      ev.Transcript,
			IsFinal:   true,
			Reason:    ev.Reason,
			Timestamp: ev.Timestamp,
		}, nil
	default:
		return viewerEvent{}, fmt.Errorf("unknown event type %q", envelope.EventType)
	}
}

// Hub fans events out to connected browsers.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan viewerEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan viewerEvent, 100),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) stop() {
	close(h.done)
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			log.Info().Int("clients", h.clientCount()).Msg("Viewer connected")

		case conn := <-h.unregister:
			h.drop(conn)
			log.Info().Int("clients", h.clientCount()).Msg("Viewer disconnected")

		case event := <-h.broadcast:
			h.mu.RLock()
			var failed []*websocket.Conn
			for conn := range h.clients {
				if err := conn.WriteJSON(event); err != nil {
					log.Debug().Err(err).Msg("Viewer write failed")
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()
			for _, conn := range failed {
				h.drop(conn)
			}

		case <-h.done:
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
}
