// Package wsfeed implements a feed.Source over an upstream WebSocket that
// streams JSON snapshot frames per channel.
package wsfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/fitsync/pkg/feed"
	"github.com/DeBrosOfficial/fitsync/pkg/logging"
)

// Frame types sent by the upstream.
const (
	FrameSnapshot = "snapshot"
	FrameError    = "error"
)

// Frame is one upstream message.
type Frame struct {
	Type    string    `json:"type"`
	Rows    feed.Rows `json:"rows,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Config configures a Source.
type Config struct {
	URL          string // base URL, e.g. ws://sync.internal/feeds
	DialTimeout  time.Duration
	PingInterval time.Duration // zero disables keepalive
	Header       http.Header
}

// Source dials one WebSocket per subscribed target.
type Source struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *logging.ColoredLogger
}

// New creates a Source.
func New(cfg Config, logger *logging.ColoredLogger) *Source {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Source{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
		logger: logging.OrNop(logger),
	}
}

// TargetURL returns the URL dialled for target: the channel is appended to the
// base path and the principal and params become query parameters.
func (s *Source) TargetURL(target feed.Target) (string, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid websocket URL: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + url.PathEscape(target.Channel)

	q := u.Query()
	q.Set("principal", target.Principal)
	for k, v := range target.Params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subscribe dials the upstream and streams frames into sink. A read failure is
// reported once through sink.Fail and ends the stream; recovering needs a new
// subscription.
func (s *Source) Subscribe(ctx context.Context, target feed.Target, sink feed.Sink) (feed.CancelFunc, error) {
	u, err := s.TargetURL(target)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	conn, resp, err := s.dialer.DialContext(dialCtx, u, s.cfg.Header)
	cancel()
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	st := &stream{
		conn:   conn,
		target: target,
		sink:   sink,
		logger: s.logger,
		done:   make(chan struct{}),
		ping:   s.cfg.PingInterval,
	}
	go st.readLoop()
	if st.ping > 0 {
		go st.pingLoop()
	}
	go func() {
		select {
		case <-ctx.Done():
			st.stop()
		case <-st.done:
		}
	}()

	s.logger.ComponentDebug(logging.ComponentSource, "WebSocket feed connected",
		zap.String("target", target.String()))
	return st.stop, nil
}

type stream struct {
	conn   *websocket.Conn
	target feed.Target
	sink   feed.Sink
	logger *logging.ColoredLogger
	ping   time.Duration

	once sync.Once
	done chan struct{}
}

func (st *stream) stop() {
	st.once.Do(func() {
		close(st.done)
		_ = st.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = st.conn.Close()
	})
}

func (st *stream) stopped() bool {
	select {
	case <-st.done:
		return true
	default:
		return false
	}
}

func (st *stream) extendDeadline() {
	if st.ping > 0 {
		_ = st.conn.SetReadDeadline(time.Now().Add(2 * st.ping))
	}
}

func (st *stream) readLoop() {
	st.extendDeadline()
	st.conn.SetPongHandler(func(string) error {
		st.extendDeadline()
		return nil
	})

	for {
		_, data, err := st.conn.ReadMessage()
		if err != nil {
			if st.stopped() {
				return
			}
			st.logger.ComponentWarn(logging.ComponentSource, "WebSocket feed read failed",
				zap.String("target", st.target.String()),
				zap.Error(err))
			st.sink.Fail(fmt.Errorf("read from %s: %w", st.target, err))
			st.stop()
			return
		}
		st.extendDeadline()

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			st.sink.Fail(fmt.Errorf("decode frame from %s: %w", st.target, err))
			continue
		}
		switch f.Type {
		case FrameSnapshot:
			rows := f.Rows
			if rows == nil {
				rows = feed.Rows{}
			}
			st.sink.Push(rows)
		case FrameError:
			st.sink.Fail(errors.New(f.Message))
		default:
			st.logger.ComponentDebug(logging.ComponentSource, "Ignoring unknown frame",
				zap.String("target", st.target.String()),
				zap.String("type", f.Type))
		}
	}
}

func (st *stream) pingLoop() {
	ticker := time.NewTicker(st.ping)
	defer ticker.Stop()

	for {
		select {
		case <-st.done:
			return
		case <-ticker.C:
			if err := st.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
