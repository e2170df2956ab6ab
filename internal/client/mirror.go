package client

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"collab-backend/internal/event"
	"collab-backend/internal/mesh"
	"collab-backend/internal/presence"
	"collab-backend/internal/store"
	"collab-backend/internal/viewport"
)

// Sender relay로 이벤트 전송 (Conn)
type Sender interface {
	Send(env *event.Envelope) error
}

// Source relay에서 이벤트 수신 (Conn)
type Source interface {
	Read() (*event.Envelope, error)
	Close() error
}

// Options Mirror 설정
type Options struct {
	Presence  presence.Config
	Throttles presence.Throttles
	// MeshFactory가 nil이면 미디어 메시를 만들지 않는다
	MeshFactory mesh.SessionFactory
	// Color 원격 커서/선택 영역 표시 색
	Color string
	Log   *zap.Logger
}

// Mirror 한 룸의 로컬 복제본
//
// relay가 보낸 순서대로 원격 이벤트를 적용한다. 로컬 문서 편집은
// 먼저 로컬에 반영하고 전송한다 (relay는 보낸 사람에게 되돌려주지 않는다).
// 채팅만 예외로, relay가 ID를 붙여 돌려준 뒤에 로그에 들어간다.
type Mirror struct {
	roomID string
	sender Sender
	opts   Options
	log    *zap.Logger

	Presence *presence.Tracker
	Viewport *viewport.Coordinator
	pub      *presence.Publisher

	mu           sync.RWMutex
	doc          *store.Document
	self         event.Participant
	participants []event.Participant
	lastSeq      uint64
	joined       chan struct{}
	meshCoord    *mesh.Coordinator
	onEvent      func(*event.Envelope)
}

// NewMirror Mirror 생성
func NewMirror(roomID string, sender Sender, opts Options) *Mirror {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Presence == (presence.Config{}) {
		opts.Presence = presence.DefaultConfig()
	}
	pub := presence.NewPublisher(roomID, sender, opts.Throttles)
	return &Mirror{
		roomID:   roomID,
		sender:   sender,
		opts:     opts,
		log:      opts.Log.With(zap.String("room", roomID)),
		Presence: presence.NewTracker(opts.Presence),
		Viewport: viewport.NewCoordinator(pub),
		pub:      pub,
		doc:      store.NewDocument(),
		joined:   make(chan struct{}),
	}
}

// OnEvent registers a callback run after each remote event is applied.
func (m *Mirror) OnEvent(fn func(*event.Envelope)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvent = fn
}

// Join join 이벤트 전송. 스냅샷 도착은 Joined로 기다린다
func (m *Mirror) Join() error {
	return m.send(event.TypeJoin, nil)
}

// Leave 명시적 퇴장
func (m *Mirror) Leave() error {
	return m.send(event.TypeLeave, nil)
}

// Joined is closed once the first room snapshot has been applied.
func (m *Mirror) Joined() <-chan struct{} {
	return m.joined
}

// Run reads src until it fails or ctx ends, applying every event.
func (m *Mirror) Run(ctx context.Context, src Source) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		m.Presence.Run(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return src.Close()
	})
	g.Go(func() error {
		defer m.closeMesh()
		for {
			env, err := src.Read()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("read: %w", err)
			}
			if err := m.Handle(env); err != nil {
				m.log.Warn("[Mirror] event not applied", zap.String("type", string(env.Type)), zap.Error(err))
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handle applies one event received from the relay.
func (m *Mirror) Handle(env *event.Envelope) error {
	if env.RoomID != "" && env.RoomID != m.roomID && env.Type != event.TypeError {
		return nil
	}

	var err error
	switch {
	case env.Type == event.TypeRoomSnapshot:
		err = m.applySnapshot(env)
	case env.Type == event.TypeParticipantJoined:
		err = m.applyJoined(env)
	case env.Type == event.TypeParticipantLeft:
		err = m.applyLeft(env)
	case env.Type.Durable():
		err = m.applyDurable(env)
	case env.Type.IsPresence():
		err = m.Presence.Observe(env)
	case env.Type == event.TypeViewport:
		_, err = m.Viewport.ApplyRemote(env)
	case env.Type.IsSignal():
		err = m.handleSignal(env)
	case env.Type == event.TypeError:
		p, perr := event.PayloadOf[event.ErrorPayload](env)
		if perr == nil {
			m.log.Warn("[Mirror] relay error", zap.String("code", p.Code), zap.String("message", p.Message))
		}
	}
	if err != nil {
		return err
	}

	m.mu.RLock()
	fn := m.onEvent
	m.mu.RUnlock()
	if fn != nil {
		fn(env)
	}
	return nil
}

func (m *Mirror) applySnapshot(env *event.Envelope) error {
	snap, err := event.PayloadOf[event.RoomSnapshot](env)
	if err != nil {
		return err
	}

	m.mu.Lock()
	first := m.self.SessionID == ""
	m.doc = store.Restore(snap.Objects, snap.Code, snap.Chat)
	m.self = snap.You
	m.participants = slices.Clone(snap.Participants)
	m.lastSeq = snap.Seq
	if m.opts.MeshFactory != nil && m.meshCoord == nil {
		// 새 참가자는 offer를 먼저 보내지 않는다. 기존 참가자의 offer를 기다린다
		m.meshCoord = mesh.NewCoordinator(snap.You.SessionID, m.roomID, m.sender, m.opts.MeshFactory, m.log)
	}
	m.mu.Unlock()

	if first {
		close(m.joined)
	}
	return nil
}

func (m *Mirror) applyJoined(env *event.Envelope) error {
	p, err := event.PayloadOf[event.ParticipantChange](env)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if !slices.ContainsFunc(m.participants, func(x event.Participant) bool {
		return x.SessionID == p.Participant.SessionID
	}) {
		m.participants = append(m.participants, p.Participant)
	}
	mc := m.meshCoord
	m.mu.Unlock()

	if mc != nil {
		return mc.PeerJoined(p.Participant.SessionID)
	}
	return nil
}

func (m *Mirror) applyLeft(env *event.Envelope) error {
	p, err := event.PayloadOf[event.ParticipantChange](env)
	if err != nil {
		return err
	}
	id := p.Participant.SessionID

	m.mu.Lock()
	m.participants = slices.DeleteFunc(m.participants, func(x event.Participant) bool {
		return x.SessionID == id
	})
	mc := m.meshCoord
	m.mu.Unlock()

	m.Presence.OwnerDeparted(id)
	m.Viewport.OwnerDeparted(id)
	if mc != nil {
		mc.PeerLeft(id)
	}
	return nil
}

func (m *Mirror) applyDurable(env *event.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	change, err := m.doc.Apply(env)
	if err != nil {
		return err
	}
	if change.Anomaly() {
		m.log.Warn("[Mirror] object id reused with a different kind", zap.String("object", change.Object.ID))
	}
	if env.Seq > m.lastSeq {
		m.lastSeq = env.Seq
	}
	return nil
}

func (m *Mirror) handleSignal(env *event.Envelope) error {
	m.mu.RLock()
	mc := m.meshCoord
	m.mu.RUnlock()
	if mc == nil {
		return nil
	}
	return mc.HandleSignal(env)
}

func (m *Mirror) closeMesh() {
	m.mu.Lock()
	mc := m.meshCoord
	m.mu.Unlock()
	if mc != nil {
		mc.Close()
	}
}

// =============================================================================
// 로컬 편집
// =============================================================================

// UpsertObject 로컬 반영 후 전송
func (m *Mirror) UpsertObject(obj event.Object) error {
	return m.sendDurable(event.TypeObjectUpsert, obj)
}

// DeleteObject 로컬 반영 후 전송
func (m *Mirror) DeleteObject(id string) error {
	return m.sendDurable(event.TypeObjectDelete, event.ObjectDelete{ID: id})
}

// Clear 캔버스 전체 삭제
func (m *Mirror) Clear() error {
	return m.sendDurable(event.TypeClear, nil)
}

// ReplaceCode 코드 버퍼 전체 교체
func (m *Mirror) ReplaceCode(code string) error {
	return m.sendDurable(event.TypeCodeReplace, event.CodeReplace{Code: code})
}

// SendChat 채팅 전송. relay가 되돌려주면 로그에 추가된다
func (m *Mirror) SendChat(text string) error {
	return m.send(event.TypeChatAppend, event.ChatAppend{Text: text})
}

func (m *Mirror) sendDurable(typ event.Type, payload any) error {
	env, err := event.New(typ, m.roomID, payload)
	if err != nil {
		return err
	}
	if err := env.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	_, err = m.doc.Apply(env)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.sender.Send(env)
}

// MoveCursor 커서 위치 (스로틀링)
func (m *Mirror) MoveCursor(p event.Point) (bool, error) {
	return m.pub.Publish(event.TypeCursor, event.Cursor{Point: p, Color: m.opts.Color, Name: m.Self().Name})
}

// Select 선택 영역 (스로틀링)
func (m *Mirror) Select(ids ...string) (bool, error) {
	return m.pub.Publish(event.TypeSelection, event.Selection{ObjectIDs: ids, Color: m.opts.Color, Name: m.Self().Name})
}

// TypeAt 코드 에디터 캐럿 위치 (스로틀링)
func (m *Mirror) TypeAt(line, col int) (bool, error) {
	return m.pub.Publish(event.TypeTyping, event.Typing{Line: line, Col: col, Name: m.Self().Name})
}

// StartStroke live stroke 시작
func (m *Mirror) StartStroke(origin event.Point, style map[string]any) error {
	_, err := m.pub.Publish(event.TypeStrokeStart, event.StrokeStart{Origin: origin, Style: style})
	return err
}

// ExtendStroke live stroke 점 추가 (스로틀링)
func (m *Mirror) ExtendStroke(p event.Point) (bool, error) {
	return m.pub.Publish(event.TypeStrokeUpdate, event.StrokeUpdate{Point: p})
}

// EndStroke ends the live stroke and commits the finished path as an object.
func (m *Mirror) EndStroke(path event.Object) error {
	if _, err := m.pub.Publish(event.TypeStrokeEnd, nil); err != nil {
		return err
	}
	return m.UpsertObject(path)
}

// ChangeView 메인 화면 전환 알림
func (m *Mirror) ChangeView(v event.View) error {
	return m.send(event.TypeViewChange, event.ViewChange{View: v})
}

// ToggleTheme 테마 전환 알림
func (m *Mirror) ToggleTheme(dark bool) error {
	return m.send(event.TypeThemeToggle, event.ThemeToggle{Dark: dark})
}

// ShareOutput 실행 결과 공유
func (m *Mirror) ShareOutput(output string, running bool) error {
	return m.send(event.TypeCodeOutput, event.CodeOutput{Output: output, Running: running})
}

func (m *Mirror) send(typ event.Type, payload any) error {
	env, err := event.New(typ, m.roomID, payload)
	if err != nil {
		return err
	}
	return m.sender.Send(env)
}

// =============================================================================
// 조회
// =============================================================================

// Self join 후 relay가 알려준 내 세션
func (m *Mirror) Self() event.Participant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.self
}

// Participants 현재 참가자 (입장 순서)
func (m *Mirror) Participants() []event.Participant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.participants)
}

// Snapshot 로컬 문서 복사본
func (m *Mirror) Snapshot() event.RoomSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := m.doc.Snapshot()
	snap.You = m.self
	snap.Participants = slices.Clone(m.participants)
	snap.Seq = m.lastSeq
	return snap
}

// Links 미디어 링크 상태
func (m *Mirror) Links() []mesh.PeerLink {
	m.mu.RLock()
	mc := m.meshCoord
	m.mu.RUnlock()
	if mc == nil {
		return nil
	}
	return mc.Links()
}
