package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/heavenideas/dojo-server-go/internal/room"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 20
	sendBuffer     = 256
)

// Frame types exchanged over the websocket.
const (
	FrameJoined  = "joined"
	FramePublish = "publish"
	FrameState   = "state"
	FrameError   = "error"
)

// Frame is the websocket message envelope. Record is set on joined (when the
// room already has state), publish and state frames.
type Frame struct {
	Type   string       `json:"type"`
	Record *room.Record `json:"record,omitempty"`
	Error  string       `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection bound to a room.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	roomID string
}

type roomMessage struct {
	roomID string
	data   []byte
}

type reply struct {
	client *Client
	data   []byte
}

type roomClients struct {
	clients map[*Client]struct{}
	cancel  context.CancelFunc
}

// Hub relays room records between websocket clients and the room store.
// Each room with at least one client holds one store subscription; the hub
// loop owns all client and room bookkeeping.
type Hub struct {
	store   room.Store
	logger  *zap.Logger
	metrics *Metrics

	register   chan *Client
	unregister chan *Client
	broadcast  chan roomMessage
	replies    chan reply
	quit       chan struct{}

	rooms map[string]*roomClients
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub(store room.Store, metrics *Metrics, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		store:      store,
		logger:     logger,
		metrics:    metrics,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan roomMessage),
		replies:    make(chan reply),
		quit:       make(chan struct{}),
		rooms:      make(map[string]*roomClients),
	}
}

// Run processes hub events until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.quit)
	for {
		select {
		case <-ctx.Done():
			for roomID, rc := range h.rooms {
				rc.cancel()
				for client := range rc.clients {
					close(client.send)
					h.metrics.subscribed("websocket", -1)
				}
				delete(h.rooms, roomID)
			}
			return

		case client := <-h.register:
			h.add(ctx, client)

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			rc, ok := h.rooms[msg.roomID]
			if !ok {
				continue
			}
			for client := range rc.clients {
				select {
				case client.send <- msg.data:
				default:
					h.logger.Warn("dropping slow websocket client", zap.String("room_id", msg.roomID))
					h.remove(client)
				}
			}

		case r := <-h.replies:
			if rc, ok := h.rooms[r.client.roomID]; ok {
				if _, ok := rc.clients[r.client]; ok {
					select {
					case r.client.send <- r.data:
					default:
					}
				}
			}
		}
	}
}

func (h *Hub) add(ctx context.Context, client *Client) {
	rc, ok := h.rooms[client.roomID]
	if !ok {
		subCtx, cancel := context.WithCancel(ctx)
		feed, err := h.store.Subscribe(subCtx, client.roomID)
		if err != nil {
			cancel()
			h.logger.Error("failed to subscribe room",
				zap.String("room_id", client.roomID),
				zap.Error(err),
			)
			client.send <- mustFrame(Frame{Type: FrameError, Error: "room unavailable"})
			close(client.send)
			return
		}
		rc = &roomClients{clients: make(map[*Client]struct{}), cancel: cancel}
		h.rooms[client.roomID] = rc
		go h.follow(client.roomID, feed)
	}
	rc.clients[client] = struct{}{}
	h.metrics.subscribed("websocket", 1)
	h.logger.Debug("websocket client registered", zap.String("room_id", client.roomID))

	// The room is already subscribed, so nothing written after this fetch
	// is missed. The joined frame may trail a state frame; clients keep
	// whichever record supersedes.
	go h.greet(ctx, client)
}

// greet fetches the stored record for a new client off the hub loop and
// hands the joined frame back through replies.
func (h *Hub) greet(ctx context.Context, client *Client) {
	joined := Frame{Type: FrameJoined}
	rec, err := h.store.Fetch(ctx, client.roomID)
	switch {
	case err == nil:
		joined.Record = &rec
	case !errors.Is(err, room.ErrNotFound):
		h.logger.Warn("failed to fetch room for new client",
			zap.String("room_id", client.roomID),
			zap.Error(err),
		)
	}
	h.reply(client, joined)
}

func (h *Hub) remove(client *Client) {
	rc, ok := h.rooms[client.roomID]
	if !ok {
		return
	}
	if _, ok := rc.clients[client]; !ok {
		return
	}
	delete(rc.clients, client)
	close(client.send)
	h.metrics.subscribed("websocket", -1)
	if len(rc.clients) == 0 {
		rc.cancel()
		delete(h.rooms, client.roomID)
	}
	h.logger.Debug("websocket client unregistered", zap.String("room_id", client.roomID))
}

// follow forwards the store feed of one room into the hub loop.
func (h *Hub) follow(roomID string, feed <-chan room.Record) {
	for rec := range feed {
		msg := roomMessage{roomID: roomID, data: mustFrame(Frame{Type: FrameState, Record: &rec})}
		select {
		case h.broadcast <- msg:
		case <-h.quit:
			return
		}
	}
}

func (h *Hub) handleFrame(ctx context.Context, client *Client, frame Frame) {
	switch frame.Type {
	case FramePublish:
		if frame.Record == nil {
			h.reply(client, Frame{Type: FrameError, Error: "publish frame has no record"})
			return
		}
		rec := *frame.Record
		rec.RoomID = client.roomID
		err := h.store.Upsert(ctx, rec)
		h.metrics.observePublish("websocket", err)
		if err != nil {
			h.logger.Debug("websocket publish rejected",
				zap.String("room_id", rec.RoomID),
				zap.Uint64("revision", rec.Revision),
				zap.Error(err),
			)
			h.reply(client, Frame{Type: FrameError, Error: err.Error()})
		}
	default:
		h.reply(client, Frame{Type: FrameError, Error: "unknown frame type " + frame.Type})
	}
}

func (h *Hub) reply(client *Client, frame Frame) {
	select {
	case h.replies <- reply{client: client, data: mustFrame(frame)}:
	case <-h.quit:
	}
}

// ServeWS upgrades the request and attaches the connection to the room
// named by the room query parameter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		http.Error(w, "room query parameter is required", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		roomID: roomID,
	}
	select {
	case h.register <- client:
	case <-h.quit:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.quit:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			h.reply(c, Frame{Type: FrameError, Error: "malformed frame"})
			continue
		}
		h.handleFrame(context.Background(), c, frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// mustFrame encodes f. A record whose state is not valid JSON is replaced
// by an error frame.
func mustFrame(f Frame) []byte {
	data, err := json.Marshal(f)
	if err != nil {
		data, _ = json.Marshal(Frame{Type: FrameError, Error: "unencodable record"})
	}
	return data
}
