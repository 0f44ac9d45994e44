package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType 消息类型
type MessageType string

const (
	PredictionMessage MessageType = "prediction"
	HeartbeatMessage  MessageType = "heartbeat"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = 60 * time.Second
)

// Message 推送消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	ID        string          `json:"id"`
}

// PredictionEvent is pushed to feed subscribers after every /predict call,
// successful or not.
type PredictionEvent struct {
	RequestID string   `json:"request_id"`
	Features  any      `json:"features"`
	Response  *float64 `json:"response,omitempty"`
	ErrorKind string   `json:"error_kind,omitempty"`
	LatencyMs float64  `json:"latency_ms"`
}

// Client WebSocket客户端
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	clientID string
}

// Hub fans prediction events out to connected websocket clients. A single
// goroutine (Start) owns the client set.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewHub 创建WebSocket中心
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.Named("feed"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 启动WebSocket中心，阻塞直到 Stop
func (h *Hub) Start() {
	defer h.logger.Debug("websocket hub stopped")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			WebSocketClients.Set(float64(count))
			h.logger.Info("feed client connected", zap.String("client_id", client.clientID), zap.Int("clients", count))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			WebSocketClients.Set(float64(count))
			h.logger.Info("feed client disconnected", zap.String("client_id", client.clientID), zap.Int("clients", count))

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			count := len(h.clients)
			h.mu.Unlock()
			WebSocketClients.Set(float64(count))

		case <-h.ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			WebSocketClients.Set(0)
			return
		}
	}
}

// Stop 停止WebSocket中心
func (h *Hub) Stop() {
	h.cancel()
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket 处理WebSocket连接
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:     conn,
		send:     make(chan []byte, 64),
		clientID: uuid.NewString(),
	}

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	go client.writePump(h.logger)
	go client.readPump(h)
}

// PublishPrediction 广播预测事件
func (h *Hub) PublishPrediction(event PredictionEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("prediction event not encodable", zap.Error(err))
		return
	}
	message, err := json.Marshal(Message{
		Type:      PredictionMessage,
		Timestamp: time.Now(),
		Data:      data,
		ID:        event.RequestID,
	})
	if err != nil {
		return
	}
	h.Broadcast(message)
}

// Broadcast 广播消息
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("websocket broadcast queue is full, dropping message")
	}
}

// writePump WebSocket写入泵
func (c *Client) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("websocket write error", zap.String("client_id", c.clientID), zap.Error(err))
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

// readPump drains client frames; the feed is one-way, so anything received
// other than control frames is ignored.
func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read error", zap.String("client_id", c.clientID), zap.Error(err))
			}
			return
		}
	}
}
