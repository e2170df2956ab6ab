package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"collab-backend/internal/event"
	"collab-backend/internal/persist"
)

var (
	ErrRoomClosed = errors.New("room closed")
	ErrNotMember  = errors.New("peer is not a member of the room")
	ErrHubClosed  = errors.New("hub closed")
)

// Roster 룸 참가자 목록 외부 기록 (Redis)
type Roster interface {
	Add(ctx context.Context, roomID string, p event.Participant) error
	Remove(ctx context.Context, roomID, sessionID string) error
}

// Config relay 설정
type Config struct {
	InboxSize     int           `env:"ROOM_INBOX_SIZE" envDefault:"512"`
	LoadTimeout   time.Duration `env:"ROOM_LOAD_TIMEOUT" envDefault:"3s"`
	RosterTimeout time.Duration `env:"ROSTER_TIMEOUT" envDefault:"2s"`
}

// Hub 룸 arena. 룸마다 goroutine 하나가 이벤트 순서를 결정한다.
//
// 룸 맵은 xsync.MapOf로 전역 락 없이 관리한다.
// 마지막 참가자가 나가면 룸은 스스로 맵에서 빠진다.
type Hub struct {
	rooms  *xsync.MapOf[string, *Room]
	store  persist.Store
	folder *Folder
	roster Roster
	cfg    Config
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option Hub 옵션
type Option func(*Hub)

// WithRoster records membership changes in r.
func WithRoster(r Roster) Option {
	return func(h *Hub) { h.roster = r }
}

// NewHub creates a hub. folder may be nil, in which case nothing is persisted.
func NewHub(store persist.Store, folder *Folder, cfg Config, log *zap.Logger, opts ...Option) *Hub {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 512
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 3 * time.Second
	}
	if cfg.RosterTimeout <= 0 {
		cfg.RosterTimeout = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		rooms:  xsync.NewMapOf[string, *Room](),
		store:  store,
		folder: folder,
		cfg:    cfg,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Join subscribes p to roomID. The room-snapshot frame is queued to p
// before any later room event, and participant-joined goes to everyone else.
func (h *Hub) Join(ctx context.Context, roomID string, p *Peer) (event.RoomSnapshot, error) {
	if roomID == "" {
		return event.RoomSnapshot{}, errors.New("room id is empty")
	}
	for {
		if h.ctx.Err() != nil {
			return event.RoomSnapshot{}, ErrHubClosed
		}
		room := h.getOrCreate(roomID)
		snap, err := room.join(ctx, p)
		if errors.Is(err, ErrRoomClosed) {
			// 닫히는 중인 룸을 잡았다. 새 룸으로 재시도
			continue
		}
		return snap, err
	}
}

// Leave removes p from roomID. Unknown rooms are ignored.
func (h *Hub) Leave(roomID string, p *Peer) {
	room, ok := h.rooms.Load(roomID)
	if !ok {
		p.removeRoom(roomID)
		return
	}
	if err := room.leave(p); err != nil && !errors.Is(err, ErrRoomClosed) {
		h.log.Warn("[Hub] leave failed", zap.String("room", roomID), zap.String("peer", p.ID()), zap.Error(err))
	}
	p.removeRoom(roomID)
}

// Disconnect leaves every room p belongs to. Used for abrupt disconnects.
func (h *Hub) Disconnect(p *Peer) {
	for _, roomID := range p.Rooms() {
		h.Leave(roomID, p)
	}
	p.Close()
}

// Publish hands a client event to the room's ordering goroutine.
// It never waits for delivery.
func (h *Hub) Publish(roomID string, p *Peer, env *event.Envelope) error {
	room, ok := h.rooms.Load(roomID)
	if !ok {
		return fmt.Errorf("publish %s: %w", env.Type, ErrNotMember)
	}
	return room.publish(p, env)
}

// Snapshot returns the live snapshot of roomID, or the persisted one when
// the room is not live. live reports which one was returned.
func (h *Hub) Snapshot(ctx context.Context, roomID string) (snap event.RoomSnapshot, live bool, err error) {
	if room, ok := h.rooms.Load(roomID); ok {
		snap, err = room.snapshot(ctx)
		if err == nil {
			return snap, true, nil
		}
		if !errors.Is(err, ErrRoomClosed) {
			return snap, true, err
		}
	}

	stored, err := h.store.LoadRoom(ctx, roomID)
	if err != nil {
		return event.RoomSnapshot{}, false, err
	}
	return event.RoomSnapshot{
		Objects:      stored.Objects,
		Code:         stored.Code,
		Chat:         stored.Chat,
		Participants: []event.Participant{},
	}, false, nil
}

// RoomCount 활성 룸 수
func (h *Hub) RoomCount() int {
	return h.rooms.Size()
}

// Shutdown stops every room loop and waits for them until ctx expires.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("[Hub] all rooms stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("hub shutdown: %w", ctx.Err())
	}
}

func (h *Hub) getOrCreate(roomID string) *Room {
	room, loaded := h.rooms.LoadOrCompute(roomID, func() *Room {
		r := newRoom(h, roomID)
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			r.run(h.ctx)
		}()
		return r
	})
	if !loaded {
		h.log.Info("[Hub] room created", zap.String("room", roomID))
	}
	return room
}

// removeRoom는 포인터가 같을 때만 맵에서 지운다.
func (h *Hub) removeRoom(r *Room) {
	h.rooms.Compute(r.id, func(old *Room, loaded bool) (*Room, bool) {
		if !loaded {
			return nil, true
		}
		return old, old == r
	})
	h.log.Info("[Hub] room removed", zap.String("room", r.id))
}

func (h *Hub) submit(env *event.Envelope) {
	if h.folder == nil {
		return
	}
	if err := h.folder.Submit(env); err != nil && !errors.Is(err, ErrFolderClosed) {
		h.log.Warn("[Hub] persistence submit failed", zap.String("room", env.RoomID), zap.Error(err))
	}
}

// rosterAsync Redis 기록은 fire-and-forget
func (h *Hub) rosterAsync(fn func(ctx context.Context, r Roster) error) {
	if h.roster == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.RosterTimeout)
		defer cancel()
		if err := fn(ctx, h.roster); err != nil {
			h.log.Warn("[Hub] roster update failed", zap.Error(err))
		}
	}()
}
