package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/fitsync/pkg/dashboard"
	"github.com/DeBrosOfficial/fitsync/pkg/logging"
	"github.com/DeBrosOfficial/fitsync/pkg/session"
)

// clientMessage is what a widget may send over its socket.
type clientMessage struct {
	Action string `json:"action"` // "refresh"
}

// feedWebsocketHandler attaches one consumer per connection and streams every
// state change as a dashboard.View.
func (g *Gateway) feedWebsocketHandler(w http.ResponseWriter, r *http.Request) {
	principal, _ := session.FromContext(r.Context())
	channel := chi.URLParam(r, "channel")
	limit, err := queryLimit(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	stream, err := g.service.Open(session.Static(principal), channel, limit)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	defer stream.Close()

	conn, err := g.upgrader().Upgrade(w, r, nil)
	if err != nil {
		g.logRequestError(r, "feed ws: upgrade failed", err)
		return
	}
	client := newWSClient(conn, g.cfg.WriteTimeout)
	defer client.close()

	connID := uuid.NewString()
	log := g.logger.With(zap.String("conn_id", connID), zap.String("channel", channel))
	log.ComponentDebug(logging.ComponentGateway, "feed ws: connected")
	defer log.ComponentDebug(logging.ComponentGateway, "feed ws: disconnected")

	done := make(chan struct{})
	go g.wsReaderLoop(client, stream, done, log)

	stream.Start()
	g.wsWriterLoop(client, stream, done, log)
}

// wsWriterLoop sends the current view after every change and pings on idle.
func (g *Gateway) wsWriterLoop(client *wsClient, stream dashboard.Stream, done <-chan struct{}, log *logging.ColoredLogger) {
	ticker := time.NewTicker(g.cfg.PingInterval)
	defer ticker.Stop()

	if err := client.writeJSON(stream.View()); err != nil {
		return
	}
	for {
		select {
		case _, ok := <-stream.Changes():
			if !ok {
				_ = client.writeControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := client.writeJSON(stream.View()); err != nil {
				log.ComponentDebug(logging.ComponentGateway, "feed ws: write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := client.writeControl(websocket.PingMessage, []byte("ping")); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// wsReaderLoop handles client actions and detects the socket closing.
func (g *Gateway) wsReaderLoop(client *wsClient, stream dashboard.Stream, done chan<- struct{}, log *logging.ColoredLogger) {
	defer close(done)
	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.ComponentDebug(logging.ComponentGateway, "feed ws: ignoring malformed message", zap.Error(err))
			continue
		}
		if msg.Action == "refresh" {
			stream.Refresh()
		}
	}
}
