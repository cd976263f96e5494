package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"fairroll-backend/internal/lib/logger/sl"
	"fairroll-backend/internal/models"
	"fairroll-backend/internal/services"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Message struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id,omitempty"`
	Data   any    `json:"data"`
}

type Client struct {
	UserID int64
	Conn   *websocket.Conn

	send chan *Message
	done chan struct{}
}

// WebSocketHub pushes settlement events to the connections of their user. It
// is an EventSink; the event queue feeds it after each commit.
type WebSocketHub struct {
	clients    map[int64]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	log        *slog.Logger
}

var _ services.EventSink = (*WebSocketHub)(nil)

func NewWebSocketHub(log *slog.Logger) *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[int64]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 100),
		log:        log,
	}
}

// Run owns the client registry until ctx ends.
func (hub *WebSocketHub) Run(ctx context.Context) error {
	for {
		select {
		case client := <-hub.register:
			if hub.clients[client.UserID] == nil {
				hub.clients[client.UserID] = make(map[*Client]struct{})
			}
			hub.clients[client.UserID][client] = struct{}{}
			hub.log.Debug("client registered", sl.UserID(client.UserID))

		case client := <-hub.unregister:
			hub.drop(client)

		case message := <-hub.broadcast:
			for client := range hub.clients[message.UserID] {
				select {
				case client.send <- message:
				default:
					hub.log.Warn("client too slow, dropping", sl.UserID(client.UserID))
					hub.drop(client)
				}
			}

		case <-ctx.Done():
			for _, conns := range hub.clients {
				for client := range conns {
					hub.drop(client)
				}
			}
			return nil
		}
	}
}

func (hub *WebSocketHub) drop(client *Client) {
	conns, ok := hub.clients[client.UserID]
	if !ok {
		return
	}
	if _, ok := conns[client]; !ok {
		return
	}

	delete(conns, client)
	if len(conns) == 0 {
		delete(hub.clients, client.UserID)
	}
	close(client.done)
	hub.log.Debug("client unregistered", sl.UserID(client.UserID))
}

func (hub *WebSocketHub) Deliver(ctx context.Context, event models.Event) error {
	msg := &Message{
		Type:   string(event.Type),
		UserID: event.UserID,
		Data:   event,
	}

	select {
	case hub.broadcast <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type WebSocketHandler struct {
	redisService *services.RedisService
	hub          *WebSocketHub
	log          *slog.Logger
}

func NewWebSocketHandler(redisService *services.RedisService, hub *WebSocketHub, log *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		redisService: redisService,
		hub:          hub,
		log:          log,
	}
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	userID := c.GetInt64("user_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("failed to upgrade to websocket", sl.UserID(userID), sl.Err(err))
		return
	}

	client := &Client{
		UserID: userID,
		Conn:   conn,
		send:   make(chan *Message, sendBuffer),
		done:   make(chan struct{}),
	}

	if msg, ok := h.balanceMessage(c.Request.Context(), userID); ok {
		client.send <- msg
	}

	select {
	case h.hub.register <- client:
	case <-c.Request.Context().Done():
		conn.Close()
		return
	}

	go h.writePump(client)

	defer func() {
		select {
		case h.hub.unregister <- client:
		case <-client.done:
		}
		conn.Close()
	}()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("websocket closed", sl.UserID(userID), sl.Err(err))
			}
			return
		}

		h.handleMessage(client, &msg)
	}
}

func (h *WebSocketHandler) handleMessage(client *Client, msg *Message) {
	switch msg.Type {
	case "PING":
		reply(client, &Message{
			Type: "PONG",
			Data: gin.H{"timestamp": time.Now().Unix()},
		})
	case "BALANCE":
		if m, ok := h.balanceMessage(context.Background(), client.UserID); ok {
			reply(client, m)
		}
	}
}

func (h *WebSocketHandler) balanceMessage(ctx context.Context, userID int64) (*Message, bool) {
	wallet, err := h.redisService.GetWallet(ctx, userID)
	if err != nil {
		h.log.Warn("failed to get wallet for websocket", sl.UserID(userID), sl.Err(err))
		return nil, false
	}

	return &Message{
		Type:   "BALANCE_UPDATE",
		UserID: userID,
		Data:   wallet.BalanceResponse(),
	}, true
}

func reply(client *Client, msg *Message) {
	select {
	case client.send <- msg:
	case <-client.done:
	default:
	}
}

// writePump is the only writer of client.Conn.
func (h *WebSocketHandler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case msg := <-client.send:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-client.done:
			_ = client.Conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
