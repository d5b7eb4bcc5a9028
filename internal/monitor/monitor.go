// Package monitor exposes the controller's recent activity over HTTP. It is
// read-only: nothing here drives the relay or the strip.
package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/funtimes-dotstar/internal/command"
)

const clientQueue = 32

type Health struct {
	RelayOn   bool           `json:"relay_on"`
	Commands  uint64         `json:"commands"`
	Payloads  uint64         `json:"payloads"`
	PowerOffs uint64         `json:"poweroffs"`
	Errors    uint64         `json:"errors"`
	LastEvent *command.Event `json:"last_event,omitempty"`
	UptimeS   float64        `json:"uptime_s"`
}

// Hub counts dispatcher events and fans them out to websocket clients.
// Relay state comes from relayOn on every Health call.
type Hub struct {
	mu        sync.RWMutex
	health    Health
	relayOn   func() bool
	startTime time.Time
	clients   map[*websocket.Conn]chan command.Event
	up        websocket.Upgrader
}

// NewHub reports relay state through relayOn, which may be nil.
func NewHub(relayOn func() bool) *Hub {
	return &Hub{
		relayOn:   relayOn,
		startTime: time.Now(),
		clients:   map[*websocket.Conn]chan command.Event{},
		up:        websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

// Observe never blocks; a client that falls behind loses events.
func (h *Hub) Observe(ev command.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch ev.Kind {
	case command.EventPayload:
		h.health.Commands++
		h.health.Payloads++
	case command.EventPowerOff:
		h.health.Commands++
		h.health.PowerOffs++
	case command.EventTransmitError, command.EventPayloadRejected:
		h.health.Commands++
		h.health.Errors++
	case command.EventOverflow:
		h.health.Errors++
	}
	last := ev
	h.health.LastEvent = &last

	for _, ch := range h.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *Hub) Health() Health {
	h.mu.RLock()
	out := h.health
	h.mu.RUnlock()

	if h.relayOn != nil {
		out.RelayOn = h.relayOn()
	}
	out.UptimeS = time.Since(h.startTime).Seconds()
	return out
}

func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.HandleHealth)
	mux.HandleFunc("/events", h.HandleEventsWS)
	return mux
}

func (h *Hub) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.Health())
}

func (h *Hub) HandleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ch := make(chan command.Event, clientQueue)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()
	for {
		select {
		case ev := <-ch:
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("monitor client gone")
				return
			}
		case <-done:
			return
		}
	}
}

// Serve listens on addr in the background; close the returned server to stop.
func (h *Hub) Serve(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("monitor listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("monitor server stopped")
		}
	}()
	return srv
}
