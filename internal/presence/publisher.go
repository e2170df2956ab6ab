package presence

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"collab-backend/internal/event"
)

// Sender 송신 추상화 (웹소켓 클라이언트 등)
type Sender interface {
	Send(env *event.Envelope) error
}

// Throttles 송신측 최소 전송 간격
type Throttles struct {
	Cursor       time.Duration `env:"CURSOR_THROTTLE" envDefault:"50ms"`
	Selection    time.Duration `env:"SELECTION_THROTTLE" envDefault:"50ms"`
	Typing       time.Duration `env:"TYPING_THROTTLE" envDefault:"80ms"`
	StrokeUpdate time.Duration `env:"STROKE_UPDATE_THROTTLE" envDefault:"25ms"`
	Viewport     time.Duration `env:"VIEWPORT_THROTTLE" envDefault:"30ms"`
}

func DefaultThrottles() Throttles {
	return Throttles{
		Cursor:       50 * time.Millisecond,
		Selection:    50 * time.Millisecond,
		Typing:       80 * time.Millisecond,
		StrokeUpdate: 25 * time.Millisecond,
		Viewport:     30 * time.Millisecond,
	}
}

func (t Throttles) interval(typ event.Type) time.Duration {
	switch typ {
	case event.TypeCursor:
		return t.Cursor
	case event.TypeSelection:
		return t.Selection
	case event.TypeTyping:
		return t.Typing
	case event.TypeStrokeUpdate:
		return t.StrokeUpdate
	case event.TypeViewport:
		return t.Viewport
	}
	return 0
}

// Publisher 송신측 자체 스로틀링. 서버는 스로틀링하지 않는다.
//
// 간격 안에 들어온 호출은 조용히 버려진다 (fire-and-forget).
// stroke-start / stroke-end는 스로틀링하지 않는다.
type Publisher struct {
	roomID string
	sender Sender

	mu       sync.Mutex
	limiters map[event.Type]*rate.Limiter
}

func NewPublisher(roomID string, sender Sender, throttles Throttles) *Publisher {
	p := &Publisher{
		roomID:   roomID,
		sender:   sender,
		limiters: make(map[event.Type]*rate.Limiter),
	}
	for _, typ := range []event.Type{event.TypeCursor, event.TypeSelection, event.TypeTyping, event.TypeStrokeUpdate, event.TypeViewport} {
		if iv := throttles.interval(typ); iv > 0 {
			p.limiters[typ] = rate.NewLimiter(rate.Every(iv), 1)
		}
	}
	return p
}

// Publish sends payload unless the per-kind throttle drops it.
// It reports whether the event left the publisher.
func (p *Publisher) Publish(typ event.Type, payload any) (bool, error) {
	if !p.allow(typ) {
		return false, nil
	}
	env, err := event.New(typ, p.roomID, payload)
	if err != nil {
		return false, err
	}
	if err := p.sender.Send(env); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Publisher) allow(typ event.Type) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.limiters[typ]
	if !ok {
		return true
	}
	return l.Allow()
}
