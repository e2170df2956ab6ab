package viewport

import (
	"fmt"
	"sync"

	"collab-backend/internal/event"
)

// Publisher 스로틀링된 송신 (presence.Publisher)
type Publisher interface {
	Publish(typ event.Type, payload any) (bool, error)
}

// Coordinator 로컬 뷰포트와 follow 모드 관리
//
// follow는 순수 로컬 상태다. 네트워크로 아무것도 보내지 않으며,
// 대상이 보낸 뷰포트가 도착할 때마다 로컬 뷰포트를 덮어쓴다.
type Coordinator struct {
	pub Publisher

	mu       sync.Mutex
	local    event.Viewport
	follow   string
	onChange func(event.Viewport)
}

func NewCoordinator(pub Publisher) *Coordinator {
	return &Coordinator{
		pub:   pub,
		local: event.Viewport{Zoom: 1},
	}
}

// OnChange registers a callback fired when a followed viewport is applied.
func (c *Coordinator) OnChange(fn func(event.Viewport)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// Broadcast 로컬 뷰포트 갱신 후 전송 (스로틀링되면 전송 생략)
func (c *Coordinator) Broadcast(v event.Viewport) (bool, error) {
	if err := v.Validate(); err != nil {
		return false, err
	}
	c.mu.Lock()
	c.local = v
	c.mu.Unlock()

	sent, err := c.pub.Publish(event.TypeViewport, v)
	if err != nil {
		return false, fmt.Errorf("broadcast viewport: %w", err)
	}
	return sent, nil
}

// SetFollow starts following owner. An empty owner cancels follow mode.
func (c *Coordinator) SetFollow(owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.follow = owner
}

// Following returns the followed owner or "".
func (c *Coordinator) Following() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.follow
}

func (c *Coordinator) Local() event.Viewport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

// ApplyRemote handles a viewport event from another participant.
// It reports whether the local viewport was overwritten.
func (c *Coordinator) ApplyRemote(env *event.Envelope) (bool, error) {
	if env.Type != event.TypeViewport {
		return false, fmt.Errorf("viewport: unexpected event %s", env.Type)
	}
	v, err := event.PayloadOf[event.Viewport](env)
	if err != nil {
		return false, err
	}
	if err := v.Validate(); err != nil {
		return false, err
	}

	c.mu.Lock()
	if c.follow == "" || env.From != c.follow {
		c.mu.Unlock()
		return false, nil
	}
	c.local = v
	fn := c.onChange
	c.mu.Unlock()

	if fn != nil {
		fn(v)
	}
	return true, nil
}

// OwnerDeparted 따라가던 대상이 나가면 follow 해제
func (c *Coordinator) OwnerDeparted(owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.follow == owner {
		c.follow = ""
	}
}
