package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/heavenideas/dojo-server-go/internal/room"
	"github.com/heavenideas/dojo-server-go/internal/room/memory"
	"github.com/heavenideas/dojo-server-go/internal/room/remote"
	"github.com/heavenideas/dojo-server-go/internal/room/roomtest"
)

func startRelay(t *testing.T, store room.Store, metrics *Metrics) *remote.Store {
	t.Helper()
	logger := zaptest.NewLogger(t)
	lis := bufconn.Listen(1 << 20)

	srv := grpc.NewServer(
		grpc.UnaryInterceptor(ChainUnaryInterceptors(
			RecoveryInterceptor(logger),
			LoggingInterceptor(logger),
		)),
		grpc.StreamInterceptor(StreamRecoveryInterceptor(logger)),
	)
	RegisterRoomServiceServer(srv, NewRoomService(store, metrics, logger))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	// The client stream goroutine can outlive the test.
	return remote.New(conn, zap.NewNop())
}

func TestRemoteStoreOverRelay(t *testing.T) {
	roomtest.Run(t, func(t *testing.T) room.Store {
		return startRelay(t, memory.New(zaptest.NewLogger(t)), nil)
	})
}

func TestPublishMetrics(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	client := startRelay(t, memory.New(zap.NewNop()), metrics)
	ctx := context.Background()

	require.NoError(t, client.Upsert(ctx, roomtest.Record("r1", 2, "a", `{}`)))
	require.ErrorIs(t, client.Upsert(ctx, roomtest.Record("r1", 1, "a", `{}`)), room.ErrStale)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Publishes.WithLabelValues("grpc", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Publishes.WithLabelValues("grpc", "stale")))
}

func TestPublishRejectsInvalidRecord(t *testing.T) {
	svc := NewRoomService(memory.New(zap.NewNop()), nil, zaptest.NewLogger(t))

	_, err := svc.Publish(context.Background(), nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = svc.Fetch(context.Background(), nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestRecoveryInterceptor(t *testing.T) {
	interceptor := RecoveryInterceptor(zaptest.NewLogger(t))
	info := &grpc.UnaryServerInfo{FullMethod: "/test/Panic"}

	_, err := interceptor(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestChainUnaryInterceptorsOrder(t *testing.T) {
	var calls []string
	mark := func(name string) grpc.UnaryServerInterceptor {
		return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
			calls = append(calls, name)
			return handler(ctx, req)
		}
	}

	chained := ChainUnaryInterceptors(mark("outer"), mark("inner"))
	resp, err := chained(context.Background(), "req", &grpc.UnaryServerInfo{}, func(ctx context.Context, req interface{}) (interface{}, error) {
		calls = append(calls, "handler")
		return req, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "req", resp)
	assert.Equal(t, []string{"outer", "inner", "handler"}, calls)
}

type relayHTTP struct {
	store   room.Store
	metrics *Metrics
	server  *httptest.Server
}

func startHTTP(t *testing.T) *relayHTTP {
	t.Helper()
	return startHTTPWith(t, memory.New(zap.NewNop()))
}

func startHTTPWith(t *testing.T, store room.Store) *relayHTTP {
	t.Helper()
	// Hub goroutines log while connections wind down after the test.
	logger := zap.NewNop()
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(store, metrics, logger)
	go hub.Run(ctx)

	srv := httptest.NewServer(NewHandler(store, hub, registry, logger))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &relayHTTP{store: store, metrics: metrics, server: srv}
}

func (r *relayHTTP) dial(t *testing.T, roomID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(r.server.URL, "http") + "/ws?room=" + roomID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestHTTPRoutes(t *testing.T) {
	relay := startHTTP(t)
	ctx := context.Background()

	resp, err := http.Get(relay.server.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	resp, err = http.Get(relay.server.URL + "/rooms/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, relay.store.Upsert(ctx, roomtest.Record("r1", 4, "w", `{"turn":2}`)))
	resp, err = http.Get(relay.server.URL + "/rooms/r1")
	require.NoError(t, err)
	var rec room.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	resp.Body.Close()
	roomtest.AssertRecord(t, roomtest.Record("r1", 4, "w", `{"turn":2}`), rec)

	resp, err = http.Get(relay.server.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebsocketRelay(t *testing.T) {
	relay := startHTTP(t)
	require.NoError(t, relay.store.Upsert(context.Background(), roomtest.Record("r1", 1, "seed", `{"turn":1}`)))

	alice := relay.dial(t, "r1")
	joined := readFrame(t, alice)
	assert.Equal(t, FrameJoined, joined.Type)
	require.NotNil(t, joined.Record)
	assert.EqualValues(t, 1, joined.Record.Revision)

	bob := relay.dial(t, "r1")
	assert.Equal(t, FrameJoined, readFrame(t, bob).Type)

	rec := roomtest.Record("ignored", 2, "alice", `{"turn":2}`)
	require.NoError(t, alice.WriteJSON(Frame{Type: FramePublish, Record: &rec}))

	got := readFrame(t, bob)
	assert.Equal(t, FrameState, got.Type)
	require.NotNil(t, got.Record)
	roomtest.AssertRecord(t, roomtest.Record("r1", 2, "alice", `{"turn":2}`), *got.Record)
	assert.Equal(t, FrameState, readFrame(t, alice).Type)

	stale := roomtest.Record("r1", 1, "bob", `{"turn":9}`)
	require.NoError(t, bob.WriteJSON(Frame{Type: FramePublish, Record: &stale}))
	errFrame := readFrame(t, bob)
	assert.Equal(t, FrameError, errFrame.Type)
	assert.Contains(t, errFrame.Error, "stale")

	assert.Equal(t, 1.0, testutil.ToFloat64(relay.metrics.Publishes.WithLabelValues("websocket", "accepted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(relay.metrics.Subscribers.WithLabelValues("websocket")))

	resp, err := http.Get(relay.server.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "dojo_room_publishes_total")
}

func TestWebsocketRoomsAreIsolated(t *testing.T) {
	relay := startHTTP(t)

	alice := relay.dial(t, "r1")
	assert.Equal(t, FrameJoined, readFrame(t, alice).Type)
	carol := relay.dial(t, "r2")
	assert.Equal(t, FrameJoined, readFrame(t, carol).Type)

	require.NoError(t, relay.store.Upsert(context.Background(), roomtest.Record("r2", 1, "carol", `{}`)))
	assert.Equal(t, "r2", readFrame(t, carol).Record.RoomID)

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := alice.ReadMessage()
	assert.Error(t, err)
}

// slowFetchStore blocks Fetch for one room until release is closed.
type slowFetchStore struct {
	room.Store
	slowRoom string
	release  chan struct{}
}

func (s *slowFetchStore) Fetch(ctx context.Context, roomID string) (room.Record, error) {
	if roomID == s.slowRoom {
		select {
		case <-s.release:
		case <-ctx.Done():
			return room.Record{}, ctx.Err()
		}
	}
	return s.Store.Fetch(ctx, roomID)
}

func TestWebsocketSlowFetchDoesNotBlockOtherRooms(t *testing.T) {
	store := &slowFetchStore{Store: memory.New(zap.NewNop()), slowRoom: "slow", release: make(chan struct{})}
	relay := startHTTPWith(t, store)
	require.NoError(t, store.Upsert(context.Background(), roomtest.Record("slow", 3, "seed", `{"turn":3}`)))

	waiting := relay.dial(t, "slow")

	carol := relay.dial(t, "fast")
	assert.Equal(t, FrameJoined, readFrame(t, carol).Type)
	require.NoError(t, store.Upsert(context.Background(), roomtest.Record("fast", 1, "carol", `{}`)))
	assert.Equal(t, FrameState, readFrame(t, carol).Type)

	close(store.release)
	joined := readFrame(t, waiting)
	assert.Equal(t, FrameJoined, joined.Type)
	require.NotNil(t, joined.Record)
	assert.EqualValues(t, 3, joined.Record.Revision)
}
