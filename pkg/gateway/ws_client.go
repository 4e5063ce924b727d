package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsClient serializes writes to one WebSocket connection.
type wsClient struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func newWSClient(conn *websocket.Conn, writeTimeout time.Duration) *wsClient {
	return &wsClient{conn: conn, writeTimeout: writeTimeout}
}

func (c *wsClient) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsClient) writeControl(messageType int, data []byte) error {
	return c.conn.WriteControl(messageType, data, time.Now().Add(5*time.Second))
}

func (c *wsClient) close() error {
	return c.conn.Close()
}

func (g *Gateway) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || g.originAllowed(origin)
		},
	}
}
