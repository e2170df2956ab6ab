package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-backend/internal/event"
	"collab-backend/internal/mesh"
	"collab-backend/internal/presence"
)

type recorder struct {
	mu   sync.Mutex
	sent []*event.Envelope
}

func (r *recorder) Send(env *event.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, env)
	return nil
}

func (r *recorder) types() []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Type, 0, len(r.sent))
	for _, e := range r.sent {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) last() *event.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return nil
	}
	return r.sent[len(r.sent)-1]
}

func snapshotFrame(t *testing.T, you string, others ...string) *event.Envelope {
	t.Helper()
	obj, err := event.NewObject("o1", event.KindText, map[string]any{"text": "hello"})
	require.NoError(t, err)

	parts := []event.Participant{}
	for _, id := range others {
		parts = append(parts, event.Participant{SessionID: id, Name: id})
	}
	parts = append(parts, event.Participant{SessionID: you, Name: you})

	return event.MustNew(event.TypeRoomSnapshot, "r1", event.RoomSnapshot{
		You:          event.Participant{SessionID: you, Name: you},
		Objects:      []event.Object{obj},
		Code:         "print(1)",
		Participants: parts,
		Seq:          7,
	})
}

func remote(t *testing.T, typ event.Type, from string, seq uint64, payload any) *event.Envelope {
	t.Helper()
	env, err := event.New(typ, "r1", payload)
	require.NoError(t, err)
	env.From = from
	env.Seq = seq
	return env
}

func TestMirror_AppliesSnapshotThenRemoteEdits(t *testing.T) {
	rec := &recorder{}
	m := NewMirror("r1", rec, Options{})

	require.NoError(t, m.Handle(snapshotFrame(t, "me", "s2")))
	select {
	case <-m.Joined():
	default:
		t.Fatal("joined channel should be closed after the snapshot")
	}
	assert.Equal(t, "me", m.Self().SessionID)
	assert.Len(t, m.Participants(), 2)

	obj, err := event.NewObject("o1", event.KindText, map[string]any{"text": "bye"})
	require.NoError(t, err)
	require.NoError(t, m.Handle(remote(t, event.TypeObjectUpsert, "s2", 8, obj)))
	require.NoError(t, m.Handle(remote(t, event.TypeCodeReplace, "s2", 9, event.CodeReplace{Code: "print(2)"})))

	snap := m.Snapshot()
	require.Len(t, snap.Objects, 1)
	assert.JSONEq(t, `{"id":"o1","kind":"text","text":"bye"}`, string(snap.Objects[0].Raw))
	assert.Equal(t, "print(2)", snap.Code)
	assert.Equal(t, uint64(9), snap.Seq)
}

func TestMirror_LocalEditsAreOptimistic(t *testing.T) {
	rec := &recorder{}
	m := NewMirror("r1", rec, Options{})
	require.NoError(t, m.Handle(snapshotFrame(t, "me")))

	obj, err := event.NewObject("o2", event.KindShape, map[string]any{"w": 3})
	require.NoError(t, err)
	require.NoError(t, m.UpsertObject(obj))
	require.NoError(t, m.DeleteObject("o1"))

	snap := m.Snapshot()
	require.Len(t, snap.Objects, 1)
	assert.Equal(t, "o2", snap.Objects[0].ID)
	assert.Equal(t, []event.Type{event.TypeObjectUpsert, event.TypeObjectDelete}, rec.types())

	// 채팅은 relay가 돌려줄 때까지 로그에 없다
	require.NoError(t, m.SendChat("hi"))
	assert.Empty(t, m.Snapshot().Chat)

	echo := remote(t, event.TypeChatAppend, "me", 3, event.ChatMessage{ID: "01J", From: "me", Text: "hi"})
	require.NoError(t, m.Handle(echo))
	require.Len(t, m.Snapshot().Chat, 1)
	assert.Equal(t, "hi", m.Snapshot().Chat[0].Text)
}

func TestMirror_RejectsInvalidLocalEdit(t *testing.T) {
	rec := &recorder{}
	m := NewMirror("r1", rec, Options{})

	err := m.DeleteObject("")
	require.Error(t, err)
	assert.ErrorIs(t, err, event.ErrInvalidPayload)
	assert.Empty(t, rec.types())
}

func TestMirror_DepartureClearsPresence(t *testing.T) {
	rec := &recorder{}
	m := NewMirror("r1", rec, Options{})
	require.NoError(t, m.Handle(snapshotFrame(t, "me", "s2")))

	require.NoError(t, m.Handle(remote(t, event.TypeCursor, "s2", 0, event.Cursor{Point: event.Point{X: 1, Y: 2}})))
	require.NoError(t, m.Handle(remote(t, event.TypeStrokeStart, "s2", 0, event.StrokeStart{Origin: event.Point{X: 0, Y: 0}})))
	_, ok := m.Presence.Get("s2", presence.KindLiveStroke)
	require.True(t, ok)

	m.Viewport.SetFollow("s2")
	require.NoError(t, m.Handle(remote(t, event.TypeViewport, "s2", 0, event.Viewport{Zoom: 2, OffsetX: 5})))
	assert.Equal(t, 2.0, m.Viewport.Local().Zoom)

	left := event.MustNew(event.TypeParticipantLeft, "r1", event.ParticipantChange{Participant: event.Participant{SessionID: "s2"}})
	require.NoError(t, m.Handle(left))

	assert.Empty(t, m.Presence.Entries())
	assert.Empty(t, m.Viewport.Following())
	assert.Len(t, m.Participants(), 1)
}

func TestMirror_IgnoresOtherRooms(t *testing.T) {
	m := NewMirror("r1", &recorder{}, Options{})
	require.NoError(t, m.Handle(snapshotFrame(t, "me")))

	env, err := event.New(event.TypeCodeReplace, "r2", event.CodeReplace{Code: "x"})
	require.NoError(t, err)
	require.NoError(t, m.Handle(env))
	assert.Equal(t, "print(1)", m.Snapshot().Code)
}

func TestMirror_PresenceIsThrottled(t *testing.T) {
	rec := &recorder{}
	m := NewMirror("r1", rec, Options{Throttles: presence.Throttles{Cursor: time.Hour}})

	sent, err := m.MoveCursor(event.Point{X: 1})
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = m.MoveCursor(event.Point{X: 2})
	require.NoError(t, err)
	assert.False(t, sent)

	// start/end는 스로틀링하지 않는다
	require.NoError(t, m.StartStroke(event.Point{}, nil))
	path, err := event.NewObject("p1", event.KindPath, map[string]any{"points": []float64{0, 0, 1, 1}})
	require.NoError(t, err)
	require.NoError(t, m.EndStroke(path))
	assert.Equal(t, []event.Type{event.TypeCursor, event.TypeStrokeStart, event.TypeStrokeEnd, event.TypeObjectUpsert}, rec.types())
}

func TestMirror_CursorCarriesColorAndName(t *testing.T) {
	rec := &recorder{}
	m := NewMirror("r1", rec, Options{Color: "#ff0066"})
	require.NoError(t, m.Handle(snapshotFrame(t, "me")))

	_, err := m.MoveCursor(event.Point{X: 4, Y: 5})
	require.NoError(t, err)
	_, err = m.Select("o1")
	require.NoError(t, err)

	cur, err := event.PayloadOf[event.Cursor](rec.sent[0])
	require.NoError(t, err)
	assert.Equal(t, event.Point{X: 4, Y: 5}, cur.Point)
	assert.Equal(t, "#ff0066", cur.Color)
	assert.Equal(t, "me", cur.Name)
	assert.JSONEq(t, `{"x":4,"y":5,"color":"#ff0066","name":"me"}`, string(rec.sent[0].Payload))

	sel, err := event.PayloadOf[event.Selection](rec.sent[1])
	require.NoError(t, err)
	assert.Equal(t, "#ff0066", sel.Color)

	// 원격 커서의 색은 tracker에 그대로 남는다
	require.NoError(t, m.Handle(remote(t, event.TypeCursor, "s2", 0, event.Cursor{Color: "blue"})))
	e, ok := m.Presence.Get("s2", presence.KindCursor)
	require.True(t, ok)
	assert.Equal(t, "blue", e.Cursor.Color)
}

type stubSession struct{}

func (stubSession) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (stubSession) HandleOffer(webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (stubSession) HandleAnswer(webrtc.SessionDescription) error { return nil }
func (stubSession) AddCandidate(webrtc.ICECandidateInit) error   { return nil }
func (stubSession) Close() error                                 { return nil }

func stubFactory(string, mesh.SessionHooks) (mesh.Session, error) {
	return stubSession{}, nil
}

func TestMirror_MeshRoles(t *testing.T) {
	// 기존 참가자: 새 참가자에게 offer
	rec := &recorder{}
	existing := NewMirror("r1", rec, Options{MeshFactory: stubFactory})
	require.NoError(t, existing.Handle(snapshotFrame(t, "old")))

	joined := event.MustNew(event.TypeParticipantJoined, "r1", event.ParticipantChange{Participant: event.Participant{SessionID: "new"}})
	require.NoError(t, existing.Handle(joined))

	offer := rec.last()
	require.NotNil(t, offer)
	assert.Equal(t, event.TypeSignalOffer, offer.Type)
	assert.Equal(t, "new", offer.To)

	// 새 참가자: 먼저 offer하지 않고 받은 offer에 answer
	rec2 := &recorder{}
	newcomer := NewMirror("r1", rec2, Options{MeshFactory: stubFactory})
	require.NoError(t, newcomer.Handle(snapshotFrame(t, "new", "old")))
	assert.Empty(t, rec2.types())

	in := offer.Clone()
	in.From = "old"
	in.To = ""
	require.NoError(t, newcomer.Handle(in))

	answer := rec2.last()
	require.NotNil(t, answer)
	assert.Equal(t, event.TypeSignalAnswer, answer.Type)
	assert.Equal(t, "old", answer.To)
	require.Len(t, newcomer.Links(), 1)
	assert.Equal(t, mesh.RoleResponder, newcomer.Links()[0].Role)
}

type chanSource struct {
	ch     chan *event.Envelope
	once   sync.Once
	closed chan struct{}
}

func newChanSource() *chanSource {
	return &chanSource{ch: make(chan *event.Envelope, 16), closed: make(chan struct{})}
}

func (s *chanSource) Read() (*event.Envelope, error) {
	select {
	case env := <-s.ch:
		return env, nil
	case <-s.closed:
		return nil, errors.New("closed")
	}
}

func (s *chanSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func TestMirror_RunStopsOnCancel(t *testing.T) {
	m := NewMirror("r1", &recorder{}, Options{})
	src := newChanSource()
	src.ch <- snapshotFrame(t, "me")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, src) }()

	select {
	case <-m.Joined():
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot not applied")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestConn_SendAndRead(t *testing.T) {
	upgrader := websocket.Upgrader{}
	authCh := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCh <- r.Header.Get("Authorization")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			// 모르는 이벤트를 먼저 보내도 클라이언트는 건너뛴다
			_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"teleport"}`))
			_ = ws.WriteMessage(mt, data)
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), "tok")
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "Bearer tok", <-authCh)

	env, err := event.New(event.TypeJoin, "r1", nil)
	require.NoError(t, err)
	require.NoError(t, conn.Send(env))

	got, err := conn.Read()
	require.NoError(t, err)
	assert.Equal(t, event.TypeJoin, got.Type)
	assert.Equal(t, "r1", got.RoomID)

	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Send(env), ErrConnClosed)
}
