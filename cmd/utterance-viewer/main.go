// Command utterance-viewer shows live transcripts and finished utterances
// from the gateway's Kafka topics in a browser.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func wsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("WebSocket upgrade failed")
			return
		}
		hub.register <- conn

		go func() {
			defer func() {
				select {
				case hub.unregister <- conn:
				case <-hub.done:
				}
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

func consumeKafka(ctx context.Context, hub *Hub, brokers []string, topic string, lookback time.Duration) {
	// Partition reader without a consumer group so every viewer sees the
	// whole stream.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-lookback)); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Failed to seek, reading from the start")
	}
	log.Info().Str("topic", topic).Dur("lookback", lookback).Msg("Consuming topic")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("topic", topic).Msg("Kafka read failed")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		event, err := decodeEvent(msg.Value)
		if err != nil {
			log.Debug().Err(err).Str("topic", topic).Msg("Skipping message")
			continue
		}
		log.Debug().
			Str("kind", event.Kind).
			Str("callId", event.CallID).
			Str("text", truncate(event.Text, 40)).
			Msg("Received event")

		select {
		case hub.broadcast <- event:
		case <-ctx.Done():
			return
		}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicInterim := flag.String("topic-interim", "call.transcript.interim", "Transcript fragment topic")
	topicUtterance := flag.String("topic-utterance", "call.utterance.finalized", "Finished utterance topic")
	lookback := flag.Duration("lookback", time.Hour, "How far back to replay on start")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := newHub()
	go hub.run()
	defer hub.stop()

	brokerList := strings.Split(*brokers, ",")
	go consumeKafka(ctx, hub, brokerList, *topicInterim, *lookback)
	go consumeKafka(ctx, hub, brokerList, *topicUtterance, *lookback)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(indexHTML))
	})
	mux.HandleFunc("/ws", wsHandler(hub))

	srv := &http.Server{Addr: ":" + *port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("url", "http://localhost:"+*port).
		Strs("brokers", brokerList).
		Strs("topics", []string{*topicInterim, *topicUtterance}).
		Msg("Utterance viewer starting")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server error")
	}
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Call utterances</title>
<style>
body { font-family: sans-serif; margin: 2em; }
.interim { color: #888; font-style: italic; }
.final { color: #222; }
.utterance { color: #064; font-weight: bold; }
.meta { color: #999; font-size: 0.8em; margin-right: 0.5em; }
</style>
</head>
<body>
<h1>Call utterances</h1>
<div id="log"></div>
<script>
const log = document.getElementById("log");
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
ws.onmessage = (msg) => {
  const ev = JSON.parse(msg.data);
  const row = document.createElement("div");
  row.className = ev.kind;
  const meta = document.createElement("span");
  meta.className = "meta";
  meta.textContent = ev.callId + " " + ev.kind + (ev.reason ? " (" + ev.reason + ")" : "");
  row.appendChild(meta);
  row.appendChild(document.createTextNode(ev.text));
  log.prepend(row);
};
</script>
</body>
</html>
`
