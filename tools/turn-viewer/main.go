// Turn Viewer - live view of voice sessions.
// Consumes turn and result events from Kafka and relays them to browsers over WebSocket.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Event is the union of the engine's turn and result payloads.
type Event struct {
	EventType  string `json:"eventType"`
	SessionID  string `json:"sessionId"`
	Mode       string `json:"mode"`
	Timestamp  int64  `json:"timestamp"`
	Index      int    `json:"index,omitempty"`
	Speaker    string `json:"speaker,omitempty"`
	Kind       string `json:"kind,omitempty"`
	State      string `json:"state,omitempty"`
	Content    string `json:"content,omitempty"`
	Verdict    string `json:"verdict,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Score      int    `json:"score,omitempty"`
	Total      int    `json:"total,omitempty"`
}

// Hub manages WebSocket connections
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan Event
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Event, 100),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

func (h *Hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			n := len(h.clients)
			h.mu.Unlock()
			log.Info().Int("clients", n).Msg("Client connected")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			log.Info().Int("clients", n).Msg("Client disconnected")

		case event := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteJSON(event); err != nil {
					log.Warn().Err(err).Msg("Write error")
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local dev
	},
}

func wsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("WebSocket upgrade error")
			return
		}
		hub.register <- conn

		// Keep connection alive, handle disconnects
		go func() {
			defer func() {
				hub.unregister <- conn
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					break
				}
			}
		}()
	}
}

func consumeKafka(ctx context.Context, hub *Hub, brokers []string, topic, group string) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	log.Info().Str("topic", topic).Str("group", group).Msg("Consuming from Kafka")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("topic", topic).Msg("Kafka read error")
			time.Sleep(time.Second)
			continue
		}

		var event Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Warn().Err(err).Msg("JSON unmarshal error")
			continue
		}

		log.Debug().
			Str("eventType", event.EventType).
			Str("sessionId", event.SessionID).
			Str("content", truncate(event.Content+event.Transcript, 40)).
			Msg("Received event")
		select {
		case hub.broadcast <- event:
		case <-ctx.Done():
			return
		}
	}
}

func main() {
	port := flag.String("port", "8081", "HTTP server port")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicTurns := flag.String("topic-turns", "voice.turn", "Turn event topic")
	topicResults := flag.String("topic-results", "voice.result", "Result event topic")
	group := flag.String("group", "turn-viewer", "Kafka consumer group")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	hub := newHub()
	go hub.run(ctx)

	list := strings.Split(*brokers, ",")
	go consumeKafka(ctx, hub, list, *topicTurns, *group)
	go consumeKafka(ctx, hub, list, *topicResults, *group)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(indexHTML))
	})
	mux.HandleFunc("/ws", wsHandler(hub))

	srv := &http.Server{Addr: ":" + *port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("url", "http://localhost:"+*port).
		Strs("brokers", list).
		Str("turns", *topicTurns).
		Str("results", *topicResults).
		Msg("Turn Viewer starting")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}
}

const indexHTML = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>Turn Viewer</title>
<style>
body { font-family: sans-serif; margin: 2em; background: #fafafa; }
.session { background: #fff; border: 1px solid #ddd; border-radius: 6px; margin-bottom: 1em; padding: 1em; }
.turn { margin: .25em 0; }
.system { color: #555; }
.user { color: #0645ad; }
.correct { color: #1a7f37; }
.incorrect { color: #cf222e; }
.cancelled { text-decoration: line-through; color: #999; }
.result { font-weight: bold; margin-top: .5em; }
</style>
</head>
<body>
<h1>Voice sessions</h1>
<div id="sessions"></div>
<script>
const sessions = {};
function box(id, mode) {
  if (!sessions[id]) {
    const el = document.createElement('div');
    el.className = 'session';
    el.innerHTML = '<h3></h3><div class="turns"></div>';
    el.querySelector('h3').textContent = id + ' (' + mode + ')';
    document.getElementById('sessions').prepend(el);
    sessions[id] = el;
  }
  return sessions[id];
}
const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
ws.onmessage = (msg) => {
  const ev = JSON.parse(msg.data);
  const el = box(ev.sessionId, ev.mode);
  const line = document.createElement('div');
  if (ev.eventType === 'voice.turn') {
    line.className = 'turn ' + ev.speaker + ' ' + (ev.verdict || '') + ' ' + ev.state;
    line.textContent = '[' + ev.kind + '] ' + ev.content;
  } else {
    line.className = 'result';
    line.textContent = ev.mode === 'quiz' ? 'Score ' + (ev.score || 0) + ' / ' + ev.total : 'Transcript: ' + ev.transcript;
  }
  el.querySelector('.turns').appendChild(line);
};
</script>
</body>
</html>
`
