package relay

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"collab-backend/internal/event"
	"collab-backend/internal/persist"
	"collab-backend/internal/store"
)

type joinCmd struct {
	peer  *Peer
	reply chan joinResult
	state *atomic.Int32
}

// joinCmd.state. 호출자와 룸 루프 중 먼저 CAS한 쪽이 결과를 정한다
const (
	joinPending int32 = iota
	joinTaken
	joinAbandoned
)

type joinResult struct {
	snap event.RoomSnapshot
	err  error
}

type leaveCmd struct {
	peer *Peer
	done chan struct{}
}

type publishCmd struct {
	peer *Peer
	env  *event.Envelope
}

type snapshotCmd struct {
	reply chan event.RoomSnapshot
}

// Room 룸 하나의 단일 순서 결정 지점
//
// 모든 상태(문서, 멤버, seq)는 run goroutine만 만진다.
type Room struct {
	id  string
	hub *Hub
	log *zap.Logger

	inbox chan any
	done  chan struct{}

	doc     *store.Document
	members map[string]*Peer
	order   []string
	seq     uint64
}

func newRoom(h *Hub, id string) *Room {
	return &Room{
		id:      id,
		hub:     h,
		log:     h.log.With(zap.String("room", id)),
		inbox:   make(chan any, h.cfg.InboxSize),
		done:    make(chan struct{}),
		members: make(map[string]*Peer),
	}
}

func (r *Room) run(ctx context.Context) {
	r.doc = r.load(ctx)

	for {
		select {
		case <-ctx.Done():
			r.close()
			return
		case cmd := <-r.inbox:
			r.handle(cmd)
			if len(r.members) == 0 {
				r.close()
				return
			}
		}
	}
}

// load 저장된 문서 복원. 실패하면 빈 문서로 시작한다.
func (r *Room) load(ctx context.Context) *store.Document {
	lctx, cancel := context.WithTimeout(ctx, r.hub.cfg.LoadTimeout)
	defer cancel()

	snap, err := r.hub.store.LoadRoom(lctx, r.id)
	if err != nil {
		if !errors.Is(err, persist.ErrNotFound) {
			r.log.Error("[Room] load failed, starting empty", zap.Error(err))
		}
		return store.NewDocument()
	}
	r.log.Info("[Room] restored",
		zap.Int("objects", len(snap.Objects)),
		zap.Int("chat", len(snap.Chat)))
	return store.Restore(snap.Objects, snap.Code, snap.Chat)
}

func (r *Room) close() {
	r.hub.removeRoom(r)
	close(r.done)

	// 이미 큐에 들어온 명령 정리. join은 새 룸으로 재시도하게 한다.
	for {
		select {
		case cmd := <-r.inbox:
			switch c := cmd.(type) {
			case joinCmd:
				c.reply <- joinResult{err: ErrRoomClosed}
			case leaveCmd:
				close(c.done)
			}
		default:
			return
		}
	}
}

func (r *Room) send(ctx context.Context, cmd any) error {
	select {
	case <-r.done:
		return ErrRoomClosed
	default:
	}
	select {
	case r.inbox <- cmd:
		return nil
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) join(ctx context.Context, p *Peer) (event.RoomSnapshot, error) {
	reply := make(chan joinResult, 1)
	state := atomic.NewInt32(joinPending)
	if err := r.send(ctx, joinCmd{peer: p, reply: reply, state: state}); err != nil {
		return event.RoomSnapshot{}, err
	}
	select {
	case res := <-reply:
		return res.snap, res.err
	case <-r.done:
		select {
		case res := <-reply:
			return res.snap, res.err
		default:
			return event.RoomSnapshot{}, ErrRoomClosed
		}
	case <-ctx.Done():
		if state.CompareAndSwap(joinPending, joinAbandoned) {
			// 룸 루프가 아직 꺼내지 않았다. 꺼내도 입장시키지 않는다
			return event.RoomSnapshot{}, ctx.Err()
		}
		// 이미 처리 중이면 결과를 그대로 따른다
		select {
		case res := <-reply:
			return res.snap, res.err
		case <-r.done:
			select {
			case res := <-reply:
				return res.snap, res.err
			default:
				return event.RoomSnapshot{}, ErrRoomClosed
			}
		}
	}
}

func (r *Room) leave(p *Peer) error {
	done := make(chan struct{})
	if err := r.send(context.Background(), leaveCmd{peer: p, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
	case <-r.done:
	}
	return nil
}

func (r *Room) publish(p *Peer, env *event.Envelope) error {
	select {
	case <-r.done:
		return ErrRoomClosed
	default:
	}
	select {
	case r.inbox <- publishCmd{peer: p, env: env}:
		return nil
	case <-r.done:
		return ErrRoomClosed
	default:
		if env.Type.Delivery() == event.Volatile {
			return nil
		}
		// reliable 이벤트는 룸 루프가 받을 때까지 기다린다
		return r.send(context.Background(), publishCmd{peer: p, env: env})
	}
}

func (r *Room) snapshot(ctx context.Context) (event.RoomSnapshot, error) {
	reply := make(chan event.RoomSnapshot, 1)
	if err := r.send(ctx, snapshotCmd{reply: reply}); err != nil {
		return event.RoomSnapshot{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-r.done:
		return event.RoomSnapshot{}, ErrRoomClosed
	case <-ctx.Done():
		return event.RoomSnapshot{}, ctx.Err()
	}
}

// =============================================================================
// run goroutine 전용
// =============================================================================

func (r *Room) handle(cmd any) {
	switch c := cmd.(type) {
	case joinCmd:
		if !c.state.CompareAndSwap(joinPending, joinTaken) {
			r.log.Debug("[Room] abandoned join skipped", zap.String("peer", c.peer.ID()))
			return
		}
		c.reply <- r.handleJoin(c.peer)
	case leaveCmd:
		r.handleLeave(c.peer)
		close(c.done)
	case publishCmd:
		r.handlePublish(c.peer, c.env)
	case snapshotCmd:
		c.reply <- r.currentSnapshot()
	}
}

func (r *Room) handleJoin(p *Peer) joinResult {
	if p.closed() {
		return joinResult{err: errors.New("peer closed before join")}
	}

	_, rejoin := r.members[p.ID()]
	if !rejoin {
		r.members[p.ID()] = p
		r.order = append(r.order, p.ID())
		p.addRoom(r.id)
	}

	snap := r.currentSnapshot()
	snap.You = p.Participant
	frame, err := event.MustNew(event.TypeRoomSnapshot, r.id, snap).Encode()
	if err != nil {
		return joinResult{err: err}
	}
	if !p.deliver(frame, event.Reliable) {
		r.removeMember(p)
		return joinResult{err: errors.New("peer queue overflow on join")}
	}
	if rejoin {
		return joinResult{snap: snap}
	}

	r.log.Info("[Room] joined",
		zap.String("peer", p.ID()),
		zap.String("name", p.Participant.Name),
		zap.Int("members", len(r.members)))

	r.broadcast(event.MustNew(event.TypeParticipantJoined, r.id, event.ParticipantChange{Participant: p.Participant}), p.ID())

	participant := p.Participant
	r.hub.rosterAsync(func(ctx context.Context, ros Roster) error {
		return ros.Add(ctx, r.id, participant)
	})
	return joinResult{snap: snap}
}

func (r *Room) handleLeave(p *Peer) {
	if _, ok := r.members[p.ID()]; !ok {
		return
	}
	r.removeMember(p)
	r.log.Info("[Room] left", zap.String("peer", p.ID()), zap.Int("members", len(r.members)))
	r.broadcast(event.MustNew(event.TypeParticipantLeft, r.id, event.ParticipantChange{Participant: p.Participant}), "")

	sessionID := p.ID()
	r.hub.rosterAsync(func(ctx context.Context, ros Roster) error {
		return ros.Remove(ctx, r.id, sessionID)
	})
}

func (r *Room) handlePublish(p *Peer, env *event.Envelope) {
	if _, ok := r.members[p.ID()]; !ok {
		r.log.Debug("[Room] event from non-member dropped", zap.String("peer", p.ID()), zap.String("type", string(env.Type)))
		r.replyError(p, "not_member", ErrNotMember.Error())
		return
	}

	env = env.Clone()
	env.RoomID = r.id
	env.From = p.ID()
	env.Seq = 0

	switch {
	case env.Type == event.TypeJoin || env.Type == event.TypeLeave || !env.Type.FromClient():
		r.replyError(p, "bad_event", "event cannot be published: "+string(env.Type))

	case env.Type.Targeted():
		target, ok := r.members[env.To]
		if !ok {
			r.log.Warn("[Room] signal to unknown peer dropped",
				zap.String("from", env.From),
				zap.String("to", env.To),
				zap.String("type", string(env.Type)))
			return
		}
		frame, err := env.Encode()
		if err != nil {
			r.log.Error("[Room] encode failed", zap.Error(err))
			return
		}
		if !target.deliver(frame, env.Type.Delivery()) {
			r.evict(target)
		}

	case env.Type.Durable():
		r.handleDurable(p, env)

	default:
		r.broadcast(env, p.ID())
	}
}

// handleDurable 문서에 적용 → 즉시 브로드캐스트 → 비동기 영속화
func (r *Room) handleDurable(p *Peer, env *event.Envelope) {
	exclude := p.ID()

	if env.Type == event.TypeChatAppend {
		in, err := event.PayloadOf[event.ChatAppend](env)
		if err != nil {
			r.replyError(p, "bad_payload", err.Error())
			return
		}
		stamped, err := event.New(event.TypeChatAppend, r.id, event.ChatMessage{
			ID:     ulid.Make().String(),
			From:   p.ID(),
			Name:   p.Participant.Name,
			Text:   in.Text,
			SentAt: time.Now().UTC(),
		})
		if err != nil {
			r.replyError(p, "bad_payload", err.Error())
			return
		}
		stamped.From = env.From
		env = stamped
		// 채팅은 발신자에게도 돌려보내 모두가 같은 순서를 본다
		exclude = ""
	}

	change, err := r.doc.Apply(env)
	if err != nil {
		r.log.Warn("[Room] rejected document event", zap.String("type", string(env.Type)), zap.Error(err))
		r.replyError(p, "bad_payload", err.Error())
		return
	}
	if change.Anomaly() {
		r.log.Warn("[Room] object id reused with a different kind",
			zap.String("object", change.Object.ID),
			zap.String("prev", string(change.Upsert.PrevKind)),
			zap.String("next", string(change.Object.Kind)),
			zap.String("from", p.ID()))
	}

	r.seq++
	env.Seq = r.seq
	r.broadcast(env, exclude)
	r.hub.submit(env)
}

func (r *Room) broadcast(env *event.Envelope, exclude string) {
	frame, err := env.Encode()
	if err != nil {
		r.log.Error("[Room] encode failed", zap.String("type", string(env.Type)), zap.Error(err))
		return
	}
	mode := env.Type.Delivery()

	var evicted []*Peer
	for _, id := range r.order {
		if id == exclude {
			continue
		}
		m := r.members[id]
		if !m.deliver(frame, mode) {
			evicted = append(evicted, m)
		}
	}
	for _, m := range evicted {
		r.evict(m)
	}
}

// evict 송신 큐가 넘친 멤버를 제거하고 퇴장을 알린다
func (r *Room) evict(p *Peer) {
	if _, ok := r.members[p.ID()]; !ok {
		return
	}
	r.log.Warn("[Room] peer evicted, outbound queue full", zap.String("peer", p.ID()))
	r.handleLeave(p)
}

func (r *Room) removeMember(p *Peer) {
	delete(r.members, p.ID())
	for i, id := range r.order {
		if id == p.ID() {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	p.removeRoom(r.id)
}

func (r *Room) replyError(p *Peer, code, msg string) {
	p.SendError(r.id, code, msg)
}

func (r *Room) currentSnapshot() event.RoomSnapshot {
	snap := r.doc.Snapshot()
	snap.Seq = r.seq
	snap.Participants = make([]event.Participant, 0, len(r.order))
	for _, id := range r.order {
		snap.Participants = append(snap.Participants, r.members[id].Participant)
	}
	return snap
}
