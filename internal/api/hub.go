package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/wppdash/internal/bus"
	"github.com/matheus3301/wppdash/internal/manager"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Frame is the JSON envelope pushed to websocket clients.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// frameTypes maps bus kinds onto the frame types the dashboard listens for.
var frameTypes = map[bus.Kind]string{
	bus.SessionConnecting:    "whatsapp_connecting",
	bus.SessionConnected:     "whatsapp_connected",
	bus.SessionDisconnected:  "whatsapp_disconnected",
	bus.SessionLoggedOut:     "whatsapp_logged_out",
	bus.SessionQR:            "whatsapp_qr",
	bus.SessionStatusChanged: "whatsapp_status_updated",
	bus.MessageReceived:      "whatsapp_message",
	bus.MessageSent:          "message_sent",
	bus.MessageSendFailed:    "send_error",
	bus.ChatCreated:          "chat_created",
	bus.ChatUpdated:          "chat_updated",
	bus.ChatPresence:         "chat_presence",
	bus.ChatsSynced:          "chats_synced",
	bus.ContactSaved:         "contact_saved",
	bus.ContactUpdated:       "contact_updated",
	bus.ContactRemoved:       "contact_removed",
	bus.BackupCreated:        "backup_created",
	bus.BackupRestored:       "backup_restored",
}

// FrameFor translates a bus event into a websocket frame.
func FrameFor(evt bus.Event) (Frame, bool) {
	typ, ok := frameTypes[evt.Kind]
	if !ok {
		return Frame{}, false
	}
	data := evt.Payload
	switch evt.Kind {
	case bus.SessionConnected:
		data = map[string]any{"isConnected": true}
	case bus.SessionDisconnected:
		data = map[string]any{"isConnected": false, "detail": evt.Payload}
	case bus.SessionQR:
		if qr, ok := evt.Payload.(manager.QREvent); ok {
			data = map[string]any{"qrCode": qr.Image, "code": qr.Code}
		}
	}
	return Frame{Type: typ, Data: data}, true
}

// Hub fans bus events out to connected websocket clients.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	stop    func()
}

type wsClient struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// NewHub creates a hub subscribed to every bus event.
func NewHub(b *bus.Bus, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
	h.stop = b.Handle("", h.publish)
	return h
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a frame to every client. Clients whose buffer is full are
// dropped.
func (h *Hub) Broadcast(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.logger.Warn("encode frame", zap.String("type", f.Type), zap.Error(err))
		return
	}
	h.mu.RLock()
	var slow []*wsClient
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow websocket client", zap.String("client", c.id))
		h.remove(c)
	}
}

func (h *Hub) publish(evt bus.Event) {
	if f, ok := FrameFor(evt); ok {
		h.Broadcast(f)
	}
}

// Close unsubscribes from the bus and disconnects every client.
func (h *Hub) Close() {
	if h.stop != nil {
		h.stop()
	}
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.remove(c)
	}
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &wsClient{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("websocket client connected", zap.String("client", c.id))

	go c.writePump()
	go c.readPump()
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.once.Do(func() { close(c.send) })
		h.logger.Info("websocket client disconnected", zap.String("client", c.id))
	}
}

// readPump consumes client frames. Only pings are answered.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read error", zap.String("client", c.id), zap.Error(err))
			}
			return
		}
		if f.Type == "ping" {
			data, _ := json.Marshal(Frame{Type: "pong"})
			c.trySend(data)
		}
	}
}

func (c *wsClient) trySend(data []byte) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.hub.logger.Warn("websocket write error", zap.String("client", c.id), zap.Error(err))
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
