package wsfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeBrosOfficial/fitsync/pkg/feed"
	"github.com/DeBrosOfficial/fitsync/pkg/logging"
)

type sinkRecorder struct {
	mu    sync.Mutex
	snaps []feed.Rows
	errs  []error
}

func (s *sinkRecorder) Push(snapshot any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snapshot.(feed.Rows))
}

func (s *sinkRecorder) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *sinkRecorder) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps), len(s.errs)
}

// upstream is a test server that sends the given frames and then either holds
// the connection open or closes it.
type upstream struct {
	frames    []Frame
	closeEnd  bool
	requested chan *http.Request
	closed    chan struct{}
}

func newUpstream(t *testing.T, frames []Frame, closeEnd bool) (*upstream, string) {
	t.Helper()
	up := &upstream{frames: frames, closeEnd: closeEnd, requested: make(chan *http.Request, 1), closed: make(chan struct{})}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up.requested <- r
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range up.frames {
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		}
		if up.closeEnd {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				close(up.closed)
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return up, "ws" + strings.TrimPrefix(srv.URL, "http") + "/feeds"
}

var target = feed.Target{Principal: "u1", Channel: "pipelines", Params: feed.Params{"limit": "20"}}

func TestSubscribe_StreamsSnapshots(t *testing.T) {
	up, base := newUpstream(t, []Frame{
		{Type: FrameSnapshot, Rows: feed.Rows{{"id": "p1"}}},
		{Type: "hello"},
		{Type: FrameSnapshot, Rows: feed.Rows{{"id": "p1"}, {"id": "p2"}}},
		{Type: FrameSnapshot},
	}, false)
	src := New(Config{URL: base, DialTimeout: time.Second}, logging.NewNop())

	var sink sinkRecorder
	cancel, err := src.Subscribe(context.Background(), target, &sink)
	require.NoError(t, err)
	defer cancel()

	req := <-up.requested
	assert.Equal(t, "/feeds/pipelines", req.URL.Path)
	assert.Equal(t, "u1", req.URL.Query().Get("principal"))
	assert.Equal(t, "20", req.URL.Query().Get("limit"))

	require.Eventually(t, func() bool { n, _ := sink.counts(); return n == 3 }, 2*time.Second, 5*time.Millisecond)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.snaps[0], 1)
	assert.Len(t, sink.snaps[1], 2)
	assert.NotNil(t, sink.snaps[2])
	assert.Empty(t, sink.errs)
}

func TestSubscribe_ErrorFrame(t *testing.T) {
	_, base := newUpstream(t, []Frame{{Type: FrameError, Message: "quota exceeded"}}, false)
	src := New(Config{URL: base}, logging.NewNop())

	var sink sinkRecorder
	cancel, err := src.Subscribe(context.Background(), target, &sink)
	require.NoError(t, err)
	defer cancel()

	require.Eventually(t, func() bool { _, n := sink.counts(); return n == 1 }, 2*time.Second, 5*time.Millisecond)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.EqualError(t, sink.errs[0], "quota exceeded")
}

func TestSubscribe_UpstreamCloseFailsOnce(t *testing.T) {
	_, base := newUpstream(t, []Frame{{Type: FrameSnapshot, Rows: feed.Rows{}}}, true)
	src := New(Config{URL: base}, logging.NewNop())

	var sink sinkRecorder
	cancel, err := src.Subscribe(context.Background(), target, &sink)
	require.NoError(t, err)
	defer cancel()

	require.Eventually(t, func() bool { _, n := sink.counts(); return n == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	pushes, fails := sink.counts()
	assert.Equal(t, 1, pushes)
	assert.Equal(t, 1, fails)
}

func TestSubscribe_CancelClosesQuietly(t *testing.T) {
	up, base := newUpstream(t, nil, false)
	src := New(Config{URL: base, PingInterval: 10 * time.Millisecond}, logging.NewNop())

	var sink sinkRecorder
	cancel, err := src.Subscribe(context.Background(), target, &sink)
	require.NoError(t, err)

	cancel()
	cancel()
	select {
	case <-up.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream connection was not closed")
	}
	_, fails := sink.counts()
	assert.Equal(t, 0, fails)
}

func TestSubscribe_ContextCancel(t *testing.T) {
	up, base := newUpstream(t, nil, false)
	src := New(Config{URL: base}, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	var sink sinkRecorder
	_, err := src.Subscribe(ctx, target, &sink)
	require.NoError(t, err)

	cancel()
	select {
	case <-up.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("context cancellation must close the connection")
	}
}

func TestSubscribe_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	src := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), DialTimeout: time.Second}, nil)

	var sink sinkRecorder
	_, err := src.Subscribe(context.Background(), target, &sink)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestTargetURL(t *testing.T) {
	src := New(Config{URL: "wss://sync.example.com/v1/feeds/"}, nil)
	u, err := src.TargetURL(feed.Target{Principal: "u 1", Channel: "pending-inputs"})
	require.NoError(t, err)
	assert.Equal(t, "wss://sync.example.com/v1/feeds/pending-inputs?principal=u+1", u)
}
