package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 25 * time.Second
	outboxSize   = 64
)

// Hub streams notifications to websocket subscribers. A subscriber that
// named a participant only receives broadcasts and that participant's own
// notifications; an anonymous subscriber (a relay) receives everything.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscriber
	nextID      atomic.Uint64
	dropped     atomic.Uint64

	upgrader websocket.Upgrader
}

type subscriber struct {
	participant string
	out         chan []byte
}

// NewHub creates a hub with no subscribers.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[uint64]*subscriber),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Hub) Broadcast(p Payload) { h.publish("", p) }

func (h *Hub) Send(id string, p Payload) { h.publish(id, p) }

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Dropped returns how many messages were discarded for slow subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) publish(to string, p Payload) {
	b, err := json.Marshal(Envelope{Kind: p.Kind(), To: to, Payload: p, Time: time.Now().UTC()})
	if err != nil {
		slog.Warn("notify: marshal failed", "kind", p.Kind(), "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subscribers {
		if to != "" && s.participant != "" && s.participant != to {
			continue
		}
		select {
		case s.out <- b:
		default:
			// Never block the main context on a slow reader.
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) subscribe(participant string) (uint64, *subscriber) {
	id := h.nextID.Add(1)
	s := &subscriber{participant: participant, out: make(chan []byte, outboxSize)}
	h.mu.Lock()
	h.subscribers[id] = s
	h.mu.Unlock()
	return id, s
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	delete(h.subscribers, id)
	h.mu.Unlock()
}

// ServeWS upgrades the request and streams notifications until the client
// goes away. The optional ?participant= query narrows the stream.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	participant := r.URL.Query().Get("participant")
	id, sub := h.subscribe(participant)
	defer h.unsubscribe(id)
	slog.Info("stream client connected", "sub_id", id, "participant", participant)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(1024)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case b := <-sub.out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			slog.Info("stream client disconnected", "sub_id", id)
			return
		}
	}
}

// ServeHTTPFunc adapts ServeWS for a mux or test server.
func (h *Hub) ServeHTTPFunc() http.HandlerFunc {
	return h.ServeWS
}
