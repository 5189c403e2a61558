package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/warserver-project/warserver/internal/game"
	"github.com/warserver-project/warserver/internal/util"
)

const (
	observerWriteWait    = 10 * time.Second
	observerPongWait     = 60 * time.Second
	observerPingInterval = 50 * time.Second
	observerPushInterval = 6 * time.Second
)

// observerHub pushes state deltas to websocket observers whenever the game
// changes, and at least every few seconds regardless. Observers are
// read-only; anything they send is discarded.
type observerHub struct {
	state    *game.State
	upgrader websocket.Upgrader
	notify   chan struct{}
	logger   zerolog.Logger

	mu      sync.Mutex
	clients map[*observerClient]bool
}

type observerClient struct {
	conn  *websocket.Conn
	send  chan []byte
	since time.Time
}

func newObserverHub(state *game.State) *observerHub {
	h := &observerHub{
		state: state,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Cross-origin policy is enforced by the CORS middleware.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		notify:  make(chan struct{}, 1),
		clients: make(map[*observerClient]bool),
		logger:  util.ComponentLogger("observer"),
	}
	state.RegisterNotification(h.notify)
	return h
}

// handleUpgrade turns an HTTP request into an observer connection.
func (h *observerHub) handleUpgrade(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug().Err(err).Str("client", c.ClientIP()).Msg("websocket upgrade failed")
		return
	}
	client := &observerClient{
		conn: conn,
		send: make(chan []byte, 8),
	}
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	h.logger.Info().Str("client", c.ClientIP()).Msg("observer connected")

	go h.writePump(client)
	go h.readPump(client)
}

// run pushes updates until the context is cancelled.
func (h *observerHub) run(ctx context.Context) {
	ticker := time.NewTicker(observerPushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-h.notify:
		case <-ticker.C:
		}
		h.push()
	}
}

// push sends each observer the delta since its last successful push. Slow
// observers that cannot drain their queue are dropped.
func (h *observerHub) push() {
	now := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		update := h.state.GetUpdates(client.since, game.Viewer{})
		payload, err := json.Marshal(update)
		if err != nil {
			h.logger.Error().Err(err).Msg("failed to encode observer update")
			return
		}
		select {
		case client.send <- payload:
			client.since = now
		default:
			h.logger.Warn().Msg("dropping slow observer")
			delete(h.clients, client)
			close(client.send)
		}
	}
}

func (h *observerHub) remove(client *observerClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client] {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *observerHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

// writePump drains the send queue onto the websocket and keeps the
// connection alive with pings.
func (h *observerHub) writePump(client *observerClient) {
	ticker := time.NewTicker(observerPingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(observerWriteWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(observerWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames and notices when the peer goes away.
func (h *observerHub) readPump(client *observerClient) {
	defer func() {
		h.remove(client)
		client.conn.Close()
	}()
	client.conn.SetReadLimit(512)
	client.conn.SetReadDeadline(time.Now().Add(observerPongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(observerPongWait))
		return nil
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}
