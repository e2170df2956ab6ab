package relay

import (
	"sync"

	"go.uber.org/atomic"

	"collab-backend/internal/event"
)

// Peer 웹소켓 연결 하나에 대응하는 relay 측 참가자
//
// 송신 큐는 닫지 않는다. 종료는 Done()으로만 알린다.
type Peer struct {
	Participant event.Participant

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once

	dropped atomic.Uint64
	evicted atomic.Bool

	mu    sync.Mutex
	rooms map[string]struct{}
}

func NewPeer(p event.Participant, queueSize int) *Peer {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Peer{
		Participant: p,
		out:         make(chan []byte, queueSize),
		done:        make(chan struct{}),
		rooms:       make(map[string]struct{}),
	}
}

func (p *Peer) ID() string {
	return p.Participant.SessionID
}

// Outbound 웹소켓 writer가 소비하는 송신 큐
func (p *Peer) Outbound() <-chan []byte {
	return p.out
}

// Done is closed when the peer is closed or evicted.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

func (p *Peer) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// Evicted reports whether the peer was closed because its reliable queue overflowed.
func (p *Peer) Evicted() bool {
	return p.evicted.Load()
}

// Dropped returns the number of volatile frames discarded for this peer.
func (p *Peer) Dropped() uint64 {
	return p.dropped.Load()
}

// Rooms returns the ids of every room the peer currently belongs to.
func (p *Peer) Rooms() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.rooms))
	for id := range p.rooms {
		out = append(out, id)
	}
	return out
}

func (p *Peer) addRoom(id string) {
	p.mu.Lock()
	p.rooms[id] = struct{}{}
	p.mu.Unlock()
}

func (p *Peer) removeRoom(id string) {
	p.mu.Lock()
	delete(p.rooms, id)
	p.mu.Unlock()
}

func (p *Peer) closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// deliver는 절대 블록하지 않는다.
// volatile 프레임은 큐가 가득 차면 버리고, reliable 프레임이 넘치면 연결을 끊는다.
func (p *Peer) deliver(frame []byte, mode event.Delivery) bool {
	if p.closed() {
		return false
	}
	select {
	case p.out <- frame:
		return true
	default:
	}

	if mode == event.Volatile {
		p.dropped.Inc()
		return true
	}
	p.evicted.Store(true)
	p.Close()
	return false
}

// SendError queues an error frame. It is dropped if the queue is full.
func (p *Peer) SendError(roomID, code, msg string) {
	frame, err := event.MustNew(event.TypeError, roomID, event.ErrorPayload{Code: code, Message: msg}).Encode()
	if err != nil {
		return
	}
	p.deliver(frame, event.Volatile)
}
