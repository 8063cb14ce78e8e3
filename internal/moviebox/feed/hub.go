package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pocketscreen/mobile-services/internal/moviebox/models"
	"github.com/pocketscreen/mobile-services/internal/moviebox/observability"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second
	// Ping period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Clients only send pong and close frames.
	maxMessageSize = 512

	// A client this far behind is disconnected rather than allowed to
	// block the hub.
	clientBufferSize = 256

	snapshotType = "catalog_snapshot"
)

// SnapshotFunc returns the full catalog for the first frame sent to a client.
type SnapshotFunc func(ctx context.Context) ([]models.Movie, error)

// snapshotMessage is the first frame on every connection; deltas follow as
// plain feed events.
type snapshotMessage struct {
	Type   string         `json:"type"`
	Movies []models.Movie `json:"movies"`
}

// Hub streams the catalog to websocket clients: a full snapshot on connect,
// then live deltas in feed order. The client set is owned by the Run
// goroutine; registration, removal, and fan-out all happen there, which is
// what makes the snapshot gap-free (no delta can be delivered between the
// snapshot read and the client joining the set).
type Hub struct {
	feed     *Feed
	snapshot SnapshotFunc
	logger   *zap.Logger
	upgrader websocket.Upgrader

	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub over the given feed. Call Run to start it.
func NewHub(f *Feed, snapshot SnapshotFunc, logger *zap.Logger) *Hub {
	return &Hub{
		feed:     f,
		snapshot: snapshot,
		logger:   logger.Named("websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
	}
}

// Run subscribes to the feed and serves clients until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	events, cancel := h.feed.Subscribe()
	defer cancel()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			observability.WebsocketClients.Set(0)
			return

		case client := <-h.register:
			payload, err := h.snapshotPayload(ctx)
			if err != nil {
				h.logger.Error("catalog snapshot failed", zap.Error(err))
				close(client.send)
				continue
			}
			// The send buffer is empty at this point, so the snapshot
			// is always the first frame.
			client.send <- payload
			h.clients[client] = true
			observability.WebsocketClients.Set(float64(len(h.clients)))
			h.logger.Debug("client registered", zap.Int("client_count", len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			observability.WebsocketClients.Set(float64(len(h.clients)))
			h.logger.Debug("client unregistered", zap.Int("client_count", len(h.clients)))

		case event, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("marshal feed event", zap.Error(err))
				continue
			}
			for client := range h.clients {
				select {
				case client.send <- payload:
				default:
					delete(h.clients, client)
					close(client.send)
					h.logger.Warn("dropping slow client", zap.Int("client_count", len(h.clients)))
				}
			}
			observability.WebsocketClients.Set(float64(len(h.clients)))
		}
	}
}

func (h *Hub) snapshotPayload(ctx context.Context) ([]byte, error) {
	movies, err := h.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if movies == nil {
		movies = []models.Movie{}
	}
	return json.Marshal(snapshotMessage{Type: snapshotType, Movies: movies})
}

// HandleConnection upgrades the request to a websocket and hands the client
// to the hub.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", zap.Error(err), zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &wsClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientBufferSize),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump discards inbound frames; it exists to run the pong handler and to
// notice the peer going away.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump streams queued frames to the peer and keeps the connection alive
// with pings. The gorilla connection allows one concurrent writer, which is
// this goroutine.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
