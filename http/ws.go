package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ecoharvest/forecast"
	"ecoharvest/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// MessageType 推送消息类型
type MessageType string

const (
	ModelStatusMessage MessageType = "model_status"
)

// Message 推送消息结构
type Message struct {
	Type      MessageType          `json:"type"`
	Timestamp time.Time            `json:"timestamp"`
	Data      forecast.StatusEvent `json:"data"`
}

type wsClient struct {
	conn     *websocket.Conn
	send     chan []byte
	clientID string
}

// StatusHub 把模型生命周期事件推送给所有连接的客户端，实现 forecast.StatusSink
type StatusHub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	current    func() forecast.StatusEvent
	logger     *logging.Logger
}

// NewStatusHub current 返回新连接收到的首条状态，可为nil
func NewStatusHub(origins []string, current func() forecast.StatusEvent, logger *logging.Logger) *StatusHub {
	if logger == nil {
		logger = logging.Nop()
	}
	return &StatusHub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || originAllowed(origins, origin)
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		current: current,
		logger:  logger,
	}
}

// Run 处理注册与广播，直到ctx取消
func (h *StatusHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debugw("status client connected", "client", client.clientID, "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debugw("status client disconnected", "client", client.clientID, "total", total)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// 慢客户端直接断开
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// PublishStatus 非阻塞广播；队列满时丢弃
func (h *StatusHub) PublishStatus(event forecast.StatusEvent) {
	payload, err := encodeStatus(event)
	if err != nil {
		h.logger.Warnw("failed to encode status event", "error", err)
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warnw("status broadcast queue is full, dropping event", "status", event.Status)
	}
}

// ClientCount 当前连接数
func (h *StatusHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket 处理WebSocket连接
func (h *StatusHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn:     conn,
		send:     make(chan []byte, 16),
		clientID: uuid.NewString(),
	}
	if h.current != nil {
		if payload, err := encodeStatus(h.current()); err == nil {
			client.send <- payload
		}
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump(h.logger)
	go client.readPump(h)
}

func encodeStatus(event forecast.StatusEvent) ([]byte, error) {
	return json.Marshal(Message{Type: ModelStatusMessage, Timestamp: event.Time, Data: event})
}

func (c *wsClient) writePump(logger *logging.Logger) {
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
				logger.Debugw("websocket write failed", "client", c.clientID, "error", err)
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

// readPump 只处理控制帧，客户端消息被忽略
func (c *wsClient) readPump(h *StatusHub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debugw("websocket read failed", "client", c.clientID, "error", err)
			}
			return
		}
	}
}
