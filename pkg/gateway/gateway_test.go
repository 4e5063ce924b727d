package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/DeBrosOfficial/fitsync/pkg/dashboard"
	ferrors "github.com/DeBrosOfficial/fitsync/pkg/errors"
	"github.com/DeBrosOfficial/fitsync/pkg/feed"
	"github.com/DeBrosOfficial/fitsync/pkg/feed/feedtest"
	"github.com/DeBrosOfficial/fitsync/pkg/logging"
	"github.com/DeBrosOfficial/fitsync/pkg/session"
	"github.com/DeBrosOfficial/fitsync/pkg/snapcache"
)

const pipelinesTarget = "u1/pipelines?limit=20"

type testGateway struct {
	server *httptest.Server
	src    *feedtest.Source
	svc    *dashboard.Service
	store  *snapcache.MemoryStore
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	src := feedtest.New()
	reg := feed.NewRegistry(src, logging.NewNop())
	t.Cleanup(reg.Close)
	svc := dashboard.NewService(reg, dashboard.Config{DefaultLimit: 20, MaxLimit: 50}, logging.NewNop())

	store := snapcache.NewMemoryStore()
	mirror := snapcache.NewMirror(store, 4, logging.NewNop())
	t.Cleanup(func() { mirror.Close(context.Background()) })

	g := New(logging.NewNop(), &Config{
		APIKeys:         map[string]string{"key-u1": "u1", "key-u2": "u2"},
		PrincipalHeader: "X-Principal-ID",
		PingInterval:    time.Second,
	}, svc, mirror)

	srv := httptest.NewServer(g.Routes())
	t.Cleanup(srv.Close)
	return &testGateway{server: srv, src: src, svc: svc, store: store}
}

func (tg *testGateway) get(t *testing.T, path, apiKey string) (*http.Response, map[string]any) {
	t.Helper()
	return tg.do(t, http.MethodGet, path, apiKey)
}

func (tg *testGateway) do(t *testing.T, method, path, apiKey string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, tg.server.URL+path, nil)
	require.NoError(t, err)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

// attach starts a pipeline consumer for u1 and pushes one snapshot.
func (tg *testGateway) attach(t *testing.T) *dashboard.PipelineFeed {
	t.Helper()
	f, err := tg.svc.Pipelines(session.Static("u1"), 0)
	require.NoError(t, err)
	t.Cleanup(f.Close)
	f.Start()
	tg.src.Push(pipelinesTarget, feed.Rows{{"id": "p1", "updated_at": int64(1)}})
	return f
}

func TestExtractAPIKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer ak_foo")
	if got := extractAPIKey(r); got != "ak_foo" {
		t.Fatalf("got %q", got)
	}
	r.Header.Set("Authorization", "ApiKey ak2")
	if got := extractAPIKey(r); got != "ak2" {
		t.Fatalf("got %q", got)
	}
	r.Header.Set("Authorization", "ak3raw")
	if got := extractAPIKey(r); got != "ak3raw" {
		t.Fatalf("got %q", got)
	}
	r.Header = http.Header{}
	r.Header.Set("X-API-Key", "xkey")
	if got := extractAPIKey(r); got != "xkey" {
		t.Fatalf("got %q", got)
	}
	r = httptest.NewRequest(http.MethodGet, "/?api_key=qkey", nil)
	if got := extractAPIKey(r); got != "qkey" {
		t.Fatalf("got %q", got)
	}
}

func TestHealth(t *testing.T) {
	tg := newTestGateway(t)
	resp, body := tg.get(t, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestAuth(t *testing.T) {
	tg := newTestGateway(t)

	resp, body := tg.get(t, "/v1/feeds", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", body["code"])
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), `realm="fitsync"`)

	resp, _ = tg.get(t, "/v1/feeds", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "invalid_token")

	resp, _ = tg.get(t, "/v1/feeds", "key-u1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, tg.server.URL+"/v1/feeds", nil)
	req.Header.Set("X-Principal-ID", "u9")
	hr, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	hr.Body.Close()
	assert.Equal(t, http.StatusOK, hr.StatusCode)
}

func TestWriteErrorLogsUpstreamFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	g := New(&logging.ColoredLogger{Logger: zap.New(core)}, &Config{}, nil, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/feeds/pipelines", nil)
	g.writeError(rec, req, ferrors.NewAttachError(pipelinesTarget, errors.New("dial refused")))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	entries := logs.FilterField(zap.String("code", ferrors.CodeAttach)).All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, string(ferrors.CategoryFeed), fields["category"])
	assert.Equal(t, false, fields["retryable"])
	assert.Contains(t, fields["stack"], "TestWriteErrorLogsUpstreamFailures")

	rec = httptest.NewRecorder()
	g.writeError(rec, req, ferrors.NewNotFoundError("feed", pipelinesTarget))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1, logs.Len(), "client errors are not logged")
}

func TestListFeedsFiltersByPrincipal(t *testing.T) {
	tg := newTestGateway(t)
	tg.attach(t)

	_, body := tg.get(t, "/v1/feeds", "key-u1")
	assert.Equal(t, float64(1), body["count"])
	feeds := body["feeds"].([]any)
	assert.Equal(t, pipelinesTarget, feeds[0].(map[string]any)["feed"])

	_, body = tg.get(t, "/v1/feeds", "key-u2")
	assert.Equal(t, float64(0), body["count"])
}

func TestGetFeed_Live(t *testing.T) {
	tg := newTestGateway(t)
	tg.attach(t)

	resp, body := tg.get(t, "/v1/feeds/pipelines", "key-u1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "live", body["source"])
	assert.Equal(t, true, body["listening"])
	rows := body["data"].([]any)
	assert.Equal(t, "p1", rows[0].(map[string]any)["id"])
}

func TestGetFeed_CacheFallback(t *testing.T) {
	tg := newTestGateway(t)

	resp, body := tg.get(t, "/v1/feeds/pipelines", "key-u1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", body["code"])

	require.NoError(t, tg.store.Put(context.Background(), pipelinesTarget, []byte(`[{"id":"cached"}]`)))
	resp, body = tg.get(t, "/v1/feeds/pipelines", "key-u1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cache", body["source"])
	assert.Equal(t, "cached", body["data"].([]any)[0].(map[string]any)["id"])
}

func TestGetFeed_BadRequests(t *testing.T) {
	tg := newTestGateway(t)

	resp, _ := tg.get(t, "/v1/feeds/workouts", "key-u1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = tg.get(t, "/v1/feeds/pipelines?limit=abc", "key-u1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRefreshFeed(t *testing.T) {
	tg := newTestGateway(t)

	resp, _ := tg.do(t, http.MethodPost, "/v1/feeds/pipelines/refresh", "key-u1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	tg.attach(t)
	resp, body := tg.do(t, http.MethodPost, "/v1/feeds/pipelines/refresh", "key-u1")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, pipelinesTarget, body["feed"])
	assert.Equal(t, 2, tg.src.Subscribes(pipelinesTarget))
	assert.Equal(t, 1, tg.src.Cancels(pipelinesTarget))
}

func TestFeedWebsocket(t *testing.T) {
	tg := newTestGateway(t)

	wsURL := "ws" + strings.TrimPrefix(tg.server.URL, "http") + "/v1/feeds/pipelines/ws?api_key=key-u1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return tg.src.Subscribes(pipelinesTarget) == 1 },
		2*time.Second, 5*time.Millisecond)
	tg.src.Push(pipelinesTarget, feed.Rows{{"id": "p1", "updated_at": int64(1)}})

	view := readUntil(t, conn, func(v dashboard.View) bool { return v.Listening })
	assert.Equal(t, "pipelines", view.Channel)
	assert.Equal(t, feed.PhaseActive, view.Phase)
	assert.Len(t, view.Data, 1)

	require.NoError(t, conn.WriteJSON(clientMessage{Action: "refresh"}))
	require.Eventually(t, func() bool { return tg.src.Subscribes(pipelinesTarget) == 2 },
		2*time.Second, 5*time.Millisecond)
	readUntil(t, conn, func(v dashboard.View) bool { return v.Phase == feed.PhaseAttaching })

	conn.Close()
	require.Eventually(t, func() bool { return tg.src.Cancels(pipelinesTarget) == 2 },
		2*time.Second, 5*time.Millisecond, "closing the socket releases the feed")
}

func TestFeedWebsocket_UnknownChannel(t *testing.T) {
	tg := newTestGateway(t)
	wsURL := "ws" + strings.TrimPrefix(tg.server.URL, "http") + "/v1/feeds/workouts/ws?api_key=key-u1"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type wireView struct {
	Channel   string     `json:"channel"`
	Data      []any      `json:"data"`
	Loading   bool       `json:"loading"`
	Error     string     `json:"error"`
	Listening bool       `json:"listening"`
	Phase     feed.Phase `json:"phase"`
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(dashboard.View) bool) dashboard.View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var w wireView
		require.NoError(t, conn.ReadJSON(&w))
		v := dashboard.View{Channel: w.Channel, Loading: w.Loading, Error: w.Error, Listening: w.Listening, Phase: w.Phase}
		if w.Data != nil {
			v.Data = w.Data
		}
		if match(v) {
			return v
		}
	}
}
