package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"collab-backend/internal/auth"
	"collab-backend/internal/config"
	"collab-backend/internal/event"
	"collab-backend/internal/handler"
	"collab-backend/internal/persist"
	"collab-backend/internal/relay"
)

const testSecret = "server-test-secret"

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			IdleTimeout:     30 * time.Second,
			ShutdownTimeout: 2 * time.Second,
			RateLimit:       1000,
		},
		WebSocket: config.WebSocketConfig{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			WriteTimeout:    time.Second,
			PingInterval:    time.Second,
			PongWait:        5 * time.Second,
			SendQueueSize:   64,
			MaxMessageSize:  1 << 20,
		},
		CORS: config.CORSConfig{AllowOrigins: "*", AllowHeaders: "Authorization"},
		Auth: config.AuthConfig{JWTSecret: testSecret, AccessTokenExpiry: time.Hour},
	}
}

type testEnv struct {
	addr  string
	store *persist.Memory
	jwt   *auth.JWTManager
	srv   *Server
}

func startServer(t *testing.T) *testEnv {
	t.Helper()
	cfg := testConfig()
	store := persist.NewMemory()

	folder := relay.NewFolder(store, relay.FolderConfig{
		Workers:         1,
		QueueSize:       64,
		WriteTimeout:    time.Second,
		Attempts:        1,
		InitialInterval: time.Millisecond,
	}, zap.NewNop())
	folder.Start(context.Background())
	hub := relay.NewHub(store, folder, relay.Config{InboxSize: 64, LoadTimeout: time.Second}, zap.NewNop())

	srv := New(cfg, Deps{Hub: hub, Folder: folder, Log: zap.NewNop()})
	srv.SetupMiddleware()
	srv.SetupRoutes()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	return &testEnv{
		addr:  ln.Addr().String(),
		store: store,
		jwt:   auth.NewJWTManager(testSecret, time.Hour),
		srv:   srv,
	}
}

func (e *testEnv) token(t *testing.T, userID, name string) string {
	t.Helper()
	tok, err := e.jwt.GenerateAccessToken(userID, name, "")
	require.NoError(t, err)
	return tok
}

func (e *testEnv) dial(t *testing.T, userID, name string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+e.addr+"/ws?token="+e.token(t, userID, name), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ event.Type, roomID string, payload any) {
	t.Helper()
	env, err := event.New(typ, roomID, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
}

// expect reads frames until one of typ arrives.
func expect(t *testing.T, conn *websocket.Conn, typ event.Type) *event.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", typ)
		env, err := event.Decode(data)
		require.NoError(t, err)
		if env.Type == typ {
			return env
		}
	}
}

func TestSync_JoinAndRelay(t *testing.T) {
	env := startServer(t)

	alice := env.dial(t, "u1", "Alice")
	send(t, alice, event.TypeJoin, "r1", nil)
	aliceSnap, err := event.PayloadOf[event.RoomSnapshot](expect(t, alice, event.TypeRoomSnapshot))
	require.NoError(t, err)
	assert.Equal(t, "Alice", aliceSnap.You.Name)
	assert.Empty(t, aliceSnap.Objects)

	bob := env.dial(t, "u2", "Bob")
	send(t, bob, event.TypeJoin, "r1", nil)
	bobSnap, err := event.PayloadOf[event.RoomSnapshot](expect(t, bob, event.TypeRoomSnapshot))
	require.NoError(t, err)
	require.Len(t, bobSnap.Participants, 2)

	joined, err := event.PayloadOf[event.ParticipantChange](expect(t, alice, event.TypeParticipantJoined))
	require.NoError(t, err)
	assert.Equal(t, bobSnap.You.SessionID, joined.Participant.SessionID)

	obj, err := event.NewObject("s1", event.KindShape, map[string]any{"w": 10})
	require.NoError(t, err)
	send(t, alice, event.TypeObjectUpsert, "r1", obj)

	got := expect(t, bob, event.TypeObjectUpsert)
	assert.Equal(t, aliceSnap.You.SessionID, got.From)
	assert.NotZero(t, got.Seq)

	// chat은 보낸 사람에게도 돌아온다
	send(t, bob, event.TypeChatAppend, "r1", event.ChatAppend{Text: "hi"})
	echo, err := event.PayloadOf[event.ChatMessage](expect(t, bob, event.TypeChatAppend))
	require.NoError(t, err)
	assert.Equal(t, "hi", echo.Text)
	assert.NotEmpty(t, echo.ID)

	// REST 스냅샷은 라이브 룸을 본다
	req, err := http.NewRequest(http.MethodGet, "http://"+env.addr+"/api/rooms/r1/snapshot", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+env.token(t, "u3", "Carol"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body handler.SnapshotResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Live)
	require.Len(t, body.State.Objects, 1)
	assert.Equal(t, "s1", body.State.Objects[0].ID)
}

func TestSync_SignalGoesOnlyToTarget(t *testing.T) {
	env := startServer(t)

	a := env.dial(t, "u1", "A")
	send(t, a, event.TypeJoin, "r1", nil)
	aSnap, _ := event.PayloadOf[event.RoomSnapshot](expect(t, a, event.TypeRoomSnapshot))

	b := env.dial(t, "u2", "B")
	send(t, b, event.TypeJoin, "r1", nil)
	bSnap, _ := event.PayloadOf[event.RoomSnapshot](expect(t, b, event.TypeRoomSnapshot))

	c := env.dial(t, "u3", "C")
	send(t, c, event.TypeJoin, "r1", nil)
	expect(t, c, event.TypeRoomSnapshot)

	offer, err := event.New(event.TypeSignalOffer, "r1", map[string]any{"sdp": map[string]string{"type": "offer", "sdp": "v=0"}})
	require.NoError(t, err)
	offer.To = bSnap.You.SessionID
	require.NoError(t, a.WriteJSON(offer))

	got := expect(t, b, event.TypeSignalOffer)
	assert.Equal(t, aSnap.You.SessionID, got.From)

	// C는 offer 대신 다음 브로드캐스트를 먼저 받아야 한다
	send(t, a, event.TypeClear, "r1", nil)
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := c.ReadMessage()
		require.NoError(t, err)
		frame, err := event.Decode(data)
		require.NoError(t, err)
		require.NotEqual(t, event.TypeSignalOffer, frame.Type)
		if frame.Type == event.TypeClear {
			break
		}
	}
}

func TestSync_PublishBeforeJoinIsRejected(t *testing.T) {
	env := startServer(t)

	conn := env.dial(t, "u1", "A")
	send(t, conn, event.TypeClear, "r1", nil)

	errEnv := expect(t, conn, event.TypeError)
	p, err := event.PayloadOf[event.ErrorPayload](errEnv)
	require.NoError(t, err)
	assert.Equal(t, "not_member", p.Code)
}

func TestSync_RejectsMissingToken(t *testing.T) {
	env := startServer(t)

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+env.addr+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthRoutes(t *testing.T) {
	env := startServer(t)
	app := env.srv.App()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "OK", string(body))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health handler.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "not_configured", health.Checks["database"].Status)
	assert.Equal(t, "not_configured", health.Checks["redis"].Status)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/rooms/r1/snapshot", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRoomSnapshot_NotFound(t *testing.T) {
	env := startServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms/missing/snapshot", nil)
	req.Header.Set("Authorization", "Bearer "+env.token(t, "u1", "A"))
	resp, err := env.srv.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
