package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/presence/internal/app"
	"github.com/dkeye/presence/internal/domain"
)

const writeWait = 5 * time.Second

// frame is the envelope for every application message in either
// direction: an event name and an opaque body.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// joinMessage is the body of the inbound "room" event.
type joinMessage struct {
	Name    domain.RoomName `json:"name"`
	UserKey domain.UserKey  `json:"userKey"`
}

// Hub owns every live websocket and the channel subscriptions that back
// SendToRoom. It implements core.Sender for the app layer.
type Hub struct {
	presence *app.Presence

	readLimit  int64
	pingPeriod time.Duration
	upgrader   websocket.Upgrader

	mu       sync.RWMutex
	conns    map[domain.ConnID]*wsConn
	channels map[domain.RoomName]map[domain.ConnID]struct{}
}

func NewHub(allowedOrigins []string, readLimit int64, pingPeriod time.Duration) *Hub {
	h := &Hub{
		readLimit:  readLimit,
		pingPeriod: pingPeriod,
		conns:      make(map[domain.ConnID]*wsConn),
		channels:   make(map[domain.RoomName]map[domain.ConnID]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: originChecker(allowedOrigins),
	}
	return h
}

// SetPresence wires the controller in after construction; the hub needs
// the presence and the presence's gateway needs the hub.
func (h *Hub) SetPresence(p *app.Presence) { h.presence = p }

// An empty origin list allows everyone, mirroring the server's default
// open configuration.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.Header.Get("Origin")]
		return ok
	}
}

// Handle upgrades the request and runs the connection until it drops.
func (h *Hub) Handle(ctx context.Context, c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Msg("upgrade failed")
		return
	}

	id := domain.ConnID(uuid.NewString())
	wc := newWSConn(id, conn)

	h.mu.Lock()
	h.conns[id] = wc
	h.mu.Unlock()
	log.Info().Str("module", "adapters.ws").Str("conn", string(id)).Msg("connection open")

	go h.writePump(ctx, wc)
	h.readPump(ctx, wc)
}

func (h *Hub) writePump(ctx context.Context, c *wsConn) {
	ping := time.NewTicker(h.pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "adapters.ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.ws").Msg("writePump write error")
				return
			}
		}
	}
}

func (h *Hub) readPump(ctx context.Context, c *wsConn) {
	defer func() {
		log.Info().Str("module", "adapters.ws").Str("conn", string(c.id)).Msg("connection closed")
		h.drop(c)
		h.presence.HandleDisconnect(c.id)
	}()

	if h.readLimit > 0 {
		c.conn.SetReadLimit(h.readLimit)
	}
	readWait := h.pingPeriod * 2
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			h.dispatch(c, data)
		}
	}
}

func (h *Hub) dispatch(c *wsConn, data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Warn().Err(err).Str("module", "adapters.ws").Str("conn", string(c.id)).Msg("bad frame")
		return
	}
	switch f.Event {
	case "room":
		var join joinMessage
		if err := json.Unmarshal(f.Data, &join); err != nil {
			log.Warn().Err(err).Str("module", "adapters.ws").Str("conn", string(c.id)).Msg("bad join payload")
			return
		}
		h.presence.HandleJoin(c.id, join.Name, join.UserKey)
	default:
		log.Warn().Str("module", "adapters.ws").Str("event", f.Event).Msg("unknown event")
	}
}

// drop unregisters the connection from the hub and every channel, then
// closes it. Safe to call more than once.
func (h *Hub) drop(c *wsConn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	for name, subs := range h.channels {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(h.channels, name)
		}
	}
	h.mu.Unlock()
	c.close()
}

// JoinChannel subscribes the connection so it receives future
// SendToRoom traffic for that name. Idempotent.
func (h *Hub) JoinChannel(id domain.ConnID, room domain.RoomName) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[id]; !ok {
		return
	}
	subs, ok := h.channels[room]
	if !ok {
		subs = make(map[domain.ConnID]struct{})
		h.channels[room] = subs
	}
	subs[id] = struct{}{}
}

// SendToRoom fans the payload out to every subscriber of the room. A
// slow or closed subscriber is dropped from the fanout; it never blocks
// delivery to the others.
func (h *Hub) SendToRoom(room domain.RoomName, event string, payload json.RawMessage) error {
	data, err := json.Marshal(frame{Event: event, Data: payload})
	if err != nil {
		return err
	}

	h.mu.RLock()
	targets := make([]*wsConn, 0, len(h.channels[room]))
	for id := range h.channels[room] {
		if c, ok := h.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.trySend(data); err != nil {
			log.Warn().Err(err).Str("module", "adapters.ws").Str("conn", string(c.id)).Str("room", string(room)).Msg("dropping slow subscriber")
			if errors.Is(err, ErrBackpressure) {
				h.drop(c)
			}
		}
	}
	return nil
}

// SendToConn delivers to exactly one connection.
func (h *Hub) SendToConn(id domain.ConnID, event string, payload json.RawMessage) error {
	data, err := json.Marshal(frame{Event: event, Data: payload})
	if err != nil {
		return err
	}

	h.mu.RLock()
	c, ok := h.conns[id]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("send to %s: %w", id, ErrClosed)
	}
	return c.trySend(data)
}
