package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"stockapi/service"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = 54 * time.Second
	wsPushInterval   = 5 * time.Second
	wsSendBufferSize = 16
)

// QuoteHub 实时行情推送中心
//
// 客户端通过subscribe/unsubscribe消息维护自己的订阅列表，
// hub按固定间隔批量拉取并推送订阅的最新行情。
type QuoteHub struct {
	resolver *service.Resolver
	log      *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[*quoteClient]struct{}

	upgrader websocket.Upgrader
	ctx      context.Context
	cancel   context.CancelFunc
}

type quoteClient struct {
	conn *websocket.Conn
	send chan []byte

	mu      sync.Mutex
	closed  bool
	symbols map[string]struct{}
}

// trySend 非阻塞投递；慢客户端或已关闭的客户端直接丢弃
//
// Sends and close are serialized on the client mutex: a send on a closed
// channel is always ready and panics even under select/default, so the
// closed flag must be checked under the same lock that close holds.
func (c *quoteClient) trySend(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (c *quoteClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// clientMessage 客户端控制消息
type clientMessage struct {
	Type   string `json:"type"` // subscribe, unsubscribe, ping
	Symbol string `json:"symbol,omitempty"`
}

// pushMessage 服务端推送消息
type pushMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewQuoteHub 创建行情推送中心
func NewQuoteHub(resolver *service.Resolver, log *zap.SugaredLogger) *QuoteHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &QuoteHub{
		resolver: resolver,
		log:      log,
		clients:  make(map[*quoteClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 启动推送循环
func (h *QuoteHub) Start() {
	go h.pushLoop()
}

// Stop 停止推送并断开所有客户端
func (h *QuoteHub) Stop() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.close()
		client.conn.Close()
	}
	h.clients = make(map[*quoteClient]struct{})
}

// HandleWebSocket websocket接入点
func (h *QuoteHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", "error", err)
		return
	}

	client := &quoteClient{
		conn:    conn,
		send:    make(chan []byte, wsSendBufferSize),
		symbols: make(map[string]struct{}),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writePump(client)
	go h.readPump(client)
}

func (h *QuoteHub) pushLoop() {
	ticker := time.NewTicker(wsPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.pushQuotes()
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *QuoteHub) pushQuotes() {
	h.mu.RLock()
	clients := make([]*quoteClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		symbols := client.subscribed()
		if len(symbols) == 0 {
			continue
		}

		quotes := h.resolver.BatchGetInfo(h.ctx, symbols)
		if len(quotes) == 0 {
			continue
		}

		payload, err := json.Marshal(pushMessage{
			Type:      "quotes",
			Data:      quotes,
			Timestamp: time.Now().Unix(),
		})
		if err != nil {
			continue
		}

		client.trySend(payload)
	}
}

func (h *QuoteHub) readPump(client *quoteClient) {
	defer h.removeClient(client)

	client.conn.SetReadLimit(1024)
	client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "subscribe":
			if msg.Symbol != "" {
				client.mu.Lock()
				client.symbols[msg.Symbol] = struct{}{}
				client.mu.Unlock()
			}
		case "unsubscribe":
			client.mu.Lock()
			delete(client.symbols, msg.Symbol)
			client.mu.Unlock()
		case "ping":
			if payload, err := json.Marshal(pushMessage{Type: "pong", Timestamp: time.Now().Unix()}); err == nil {
				client.trySend(payload)
			}
		}
	}
}

func (h *QuoteHub) writePump(client *quoteClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *QuoteHub) removeClient(client *quoteClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.close()
		client.conn.Close()
	}
}

func (c *quoteClient) subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		out = append(out, s)
	}
	return out
}
