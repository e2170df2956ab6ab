package mesh

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"collab-backend/internal/event"
)

var ErrClosed = errors.New("mesh coordinator closed")

// Signaler relay로 시그널 전송
type Signaler interface {
	Send(env *event.Envelope) error
}

// Coordinator 풀 메시 시그널링
//
// 참가자 n명이면 링크가 n(n-1)/2개 생긴다. 소규모 룸을 전제로 하며
// 인원 제한이나 SFU 전환은 하지 않는다.
//
// 새 참가자가 들어오면 기존 참가자 전원이 initiator가 되고,
// 새 참가자는 먼저 offer를 보내지 않는다.
type Coordinator struct {
	localID string
	roomID  string
	signal  Signaler
	factory SessionFactory
	log     *zap.Logger

	mu     sync.Mutex
	links  map[string]*PeerLink
	closed bool
}

func NewCoordinator(localID, roomID string, signal Signaler, factory SessionFactory, log *zap.Logger) *Coordinator {
	return &Coordinator{
		localID: localID,
		roomID:  roomID,
		signal:  signal,
		factory: factory,
		log:     log.With(zap.String("room", roomID), zap.String("local", localID)),
		links:   make(map[string]*PeerLink),
	}
}

// PeerJoined 기존 참가자 입장에서 새 참가자를 향한 initiator 링크 생성
func (c *Coordinator) PeerJoined(remoteID string) error {
	if remoteID == c.localID {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if l, ok := c.links[remoteID]; ok && l.State != StateClosed {
		// 중복 링크 방지
		return nil
	}

	link, err := c.newLinkLocked(remoteID, RoleInitiator)
	if err != nil {
		return err
	}
	link.State = StateOffering

	offer, err := link.session.CreateOffer()
	if err != nil {
		c.dropLocked(remoteID)
		return fmt.Errorf("create offer for %s: %w", remoteID, err)
	}
	return c.sendLocked(event.TypeSignalOffer, remoteID, event.SessionSignal{SDP: offer})
}

// HandleSignal processes an offer/answer/candidate forwarded by the relay.
func (c *Coordinator) HandleSignal(env *event.Envelope) error {
	remoteID := env.From
	if remoteID == "" || remoteID == c.localID {
		return fmt.Errorf("signal %s: bad sender %q", env.Type, remoteID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	link, known := c.links[remoteID]
	if known && link.State == StateClosed {
		known = false
	}

	switch env.Type {
	case event.TypeSignalOffer:
		p, err := event.PayloadOf[event.SessionSignal](env)
		if err != nil {
			return err
		}
		if !known {
			// 모르는 원격의 첫 시그널은 초기 offer로 취급
			if link, err = c.newLinkLocked(remoteID, RoleResponder); err != nil {
				return err
			}
		}
		answer, err := link.session.HandleOffer(p.SDP)
		if err != nil {
			return fmt.Errorf("handle offer from %s: %w", remoteID, err)
		}
		if link.State < StateAnswering {
			link.State = StateAnswering
		}
		return c.sendLocked(event.TypeSignalAnswer, remoteID, event.SessionSignal{SDP: answer})

	case event.TypeSignalAnswer:
		if !known {
			c.log.Warn("[Mesh] answer for unknown peer dropped", zap.String("remote", remoteID))
			return nil
		}
		p, err := event.PayloadOf[event.SessionSignal](env)
		if err != nil {
			return err
		}
		if err := link.session.HandleAnswer(p.SDP); err != nil {
			return fmt.Errorf("handle answer from %s: %w", remoteID, err)
		}
		if link.State < StateAnswering {
			link.State = StateAnswering
		}
		return nil

	case event.TypeSignalCandidate:
		if !known {
			c.log.Warn("[Mesh] candidate for unknown peer dropped", zap.String("remote", remoteID))
			return nil
		}
		p, err := event.PayloadOf[event.CandidateSignal](env)
		if err != nil {
			return err
		}
		if err := link.session.AddCandidate(p.Candidate); err != nil {
			return fmt.Errorf("add candidate from %s: %w", remoteID, err)
		}
		return nil
	}
	return fmt.Errorf("mesh: unexpected event %s", env.Type)
}

// PeerLeft tears down and forgets the link to remoteID.
func (c *Coordinator) PeerLeft(remoteID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked(remoteID)
}

// Link 링크 상태 조회 (세션 제외 복사본)
func (c *Coordinator) Link(remoteID string) (PeerLink, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.links[remoteID]
	if !ok {
		return PeerLink{}, false
	}
	cp := *l
	cp.session = nil
	return cp, true
}

// Links returns copies of every link ordered by remote id.
func (c *Coordinator) Links() []PeerLink {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PeerLink, 0, len(c.links))
	for _, l := range c.links {
		cp := *l
		cp.session = nil
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteID < out[j].RemoteID })
	return out
}

// Close 모든 링크 종료
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id := range c.links {
		c.dropLocked(id)
	}
}

func (c *Coordinator) newLinkLocked(remoteID string, role Role) (*PeerLink, error) {
	if old, ok := c.links[remoteID]; ok && old.session != nil {
		_ = old.session.Close()
	}

	link := &PeerLink{LocalID: c.localID, RemoteID: remoteID, Role: role, State: StateIdle}
	session, err := c.factory(remoteID, SessionHooks{
		OnCandidate: func(cand webrtc.ICECandidateInit) { c.onCandidate(remoteID, cand) },
		OnConnected: func() { c.setState(link, StateConnected) },
		OnFailed:    func() { c.log.Warn("[Mesh] media session failed", zap.String("remote", remoteID)) },
	})
	if err != nil {
		return nil, fmt.Errorf("open session to %s: %w", remoteID, err)
	}
	link.session = session
	c.links[remoteID] = link

	c.log.Info("[Mesh] link created",
		zap.String("remote", remoteID),
		zap.Stringer("role", role),
		zap.Int("links", len(c.links)))
	return link, nil
}

func (c *Coordinator) onCandidate(remoteID string, cand webrtc.ICECandidateInit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if l, ok := c.links[remoteID]; !ok || l.State == StateClosed {
		return
	}
	if err := c.sendLocked(event.TypeSignalCandidate, remoteID, event.CandidateSignal{Candidate: cand}); err != nil {
		c.log.Warn("[Mesh] send candidate failed", zap.String("remote", remoteID), zap.Error(err))
	}
}

func (c *Coordinator) setState(link *PeerLink, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if link.State == StateClosed {
		return
	}
	link.State = s
	c.log.Info("[Mesh] link state", zap.String("remote", link.RemoteID), zap.Stringer("state", s))
}

func (c *Coordinator) dropLocked(remoteID string) {
	link, ok := c.links[remoteID]
	if !ok {
		return
	}
	link.State = StateClosed
	delete(c.links, remoteID)
	if link.session != nil {
		if err := link.session.Close(); err != nil {
			c.log.Warn("[Mesh] session close failed", zap.String("remote", remoteID), zap.Error(err))
		}
	}
	c.log.Info("[Mesh] link removed", zap.String("remote", remoteID), zap.Int("links", len(c.links)))
}

func (c *Coordinator) sendLocked(typ event.Type, to string, payload any) error {
	env, err := event.New(typ, c.roomID, payload)
	if err != nil {
		return err
	}
	env.To = to
	if err := c.signal.Send(env); err != nil {
		return fmt.Errorf("send %s to %s: %w", typ, to, err)
	}
	return nil
}
