package presence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"collab-backend/internal/event"
)

// Kind 프레즌스 엔트리 종류
type Kind string

const (
	KindCursor     Kind = "cursor"
	KindSelection  Kind = "selection"
	KindTyping     Kind = "typing"
	KindLiveStroke Kind = "live-stroke"
)

// Stroke 그리는 중인 선 (end 전까지 버퍼링)
type Stroke struct {
	Origin event.Point    `json:"origin"`
	Style  map[string]any `json:"style,omitempty"`
	Points []event.Point  `json:"points"`
}

// Entry 참가자별 휘발성 상태. 저장되지 않는다.
type Entry struct {
	OwnerID    string
	Kind       Kind
	Cursor     event.Cursor
	Selection  event.Selection
	Typing     event.Typing
	Stroke     *Stroke
	LastSeenAt time.Time
}

// Update 구독자에게 전달되는 변경. Removed면 엔트리가 사라진 것
type Update struct {
	Entry   Entry
	Removed bool
}

// Config 만료 윈도우
type Config struct {
	CursorTTL     time.Duration `env:"CURSOR_TTL" envDefault:"3s"`
	SelectionTTL  time.Duration `env:"SELECTION_TTL" envDefault:"3s"`
	TypingTTL     time.Duration `env:"TYPING_TTL" envDefault:"2s"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"250ms"`
}

func DefaultConfig() Config {
	return Config{
		CursorTTL:     3 * time.Second,
		SelectionTTL:  3 * time.Second,
		TypingTTL:     2 * time.Second,
		SweepInterval: 250 * time.Millisecond,
	}
}

type entryKey struct {
	owner string
	kind  Kind
}

// Tracker 수신측 프레즌스 상태 관리
//
// cursor/selection/typing은 윈도우 동안 갱신이 없으면 만료되고,
// live-stroke는 end 또는 소유자 퇴장 시에만 제거된다.
type Tracker struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	entries map[entryKey]*Entry
	subs    map[int]chan Update
	nextSub int
}

func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		cfg:     cfg,
		now:     time.Now,
		entries: make(map[entryKey]*Entry),
		subs:    make(map[int]chan Update),
	}
}

// Subscribe 변경 스트림 구독. 버퍼가 가득 차면 업데이트를 버린다.
func (t *Tracker) Subscribe(buffer int) (<-chan Update, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextSub
	t.nextSub++
	ch := make(chan Update, buffer)
	t.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Observe applies a presence event received from the relay. env.From is the owner.
func (t *Tracker) Observe(env *event.Envelope) error {
	owner := env.From
	if owner == "" {
		return fmt.Errorf("presence %s: missing owner", env.Type)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()

	switch env.Type {
	case event.TypeCursor:
		p, err := event.PayloadOf[event.Cursor](env)
		if err != nil {
			return err
		}
		e := t.touch(owner, KindCursor, now)
		e.Cursor = p
		t.emit(Update{Entry: *e})
	case event.TypeSelection:
		p, err := event.PayloadOf[event.Selection](env)
		if err != nil {
			return err
		}
		e := t.touch(owner, KindSelection, now)
		e.Selection = p
		t.emit(Update{Entry: *e})
	case event.TypeTyping:
		p, err := event.PayloadOf[event.Typing](env)
		if err != nil {
			return err
		}
		e := t.touch(owner, KindTyping, now)
		e.Typing = p
		t.emit(Update{Entry: *e})
	case event.TypeStrokeStart:
		p, err := event.PayloadOf[event.StrokeStart](env)
		if err != nil {
			return err
		}
		// 이전 stroke가 끝나지 않았으면 버리고 새로 시작
		e := t.touch(owner, KindLiveStroke, now)
		e.Stroke = &Stroke{Origin: p.Origin, Style: p.Style, Points: []event.Point{p.Origin}}
		t.emit(Update{Entry: t.copyEntry(e)})
	case event.TypeStrokeUpdate:
		e, ok := t.entries[entryKey{owner, KindLiveStroke}]
		if !ok {
			return nil
		}
		p, err := event.PayloadOf[event.StrokeUpdate](env)
		if err != nil {
			return err
		}
		e.Stroke.Points = append(e.Stroke.Points, p.Point)
		e.LastSeenAt = now
		t.emit(Update{Entry: t.copyEntry(e)})
	case event.TypeStrokeEnd:
		t.remove(entryKey{owner, KindLiveStroke})
	default:
		return fmt.Errorf("presence: unexpected event %s", env.Type)
	}
	return nil
}

// OwnerDeparted 소유자의 모든 엔트리 제거
func (t *Tracker) OwnerDeparted(owner string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range []Kind{KindCursor, KindSelection, KindTyping, KindLiveStroke} {
		t.remove(entryKey{owner, k})
	}
}

// Expire removes entries whose window has elapsed at now and returns how many.
func (t *Tracker) Expire(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for k, e := range t.entries {
		if !t.expired(k, e, now) {
			continue
		}
		t.remove(k)
		n++
	}
	return n
}

// Run sweeps expired entries until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	interval := t.cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultConfig().SweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.Expire(now)
		}
	}
}

// Get 단일 엔트리 조회
func (t *Tracker) Get(owner string, kind Kind) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := entryKey{owner, kind}
	e, ok := t.entries[k]
	if !ok || t.expired(k, e, t.now()) {
		return Entry{}, false
	}
	return t.copyEntry(e), true
}

// Entries returns every live entry ordered by owner then kind.
func (t *Tracker) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	out := make([]Entry, 0, len(t.entries))
	for k, e := range t.entries {
		// 스윕 전이라도 윈도우가 지난 엔트리는 보이지 않는다
		if t.expired(k, e, now) {
			continue
		}
		out = append(out, t.copyEntry(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OwnerID != out[j].OwnerID {
			return out[i].OwnerID < out[j].OwnerID
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

func (t *Tracker) ttl(k Kind) time.Duration {
	switch k {
	case KindCursor:
		return t.cfg.CursorTTL
	case KindSelection:
		return t.cfg.SelectionTTL
	case KindTyping:
		return t.cfg.TypingTTL
	}
	return 0
}

func (t *Tracker) expired(k entryKey, e *Entry, now time.Time) bool {
	ttl := t.ttl(k.kind)
	return ttl > 0 && now.Sub(e.LastSeenAt) >= ttl
}

func (t *Tracker) touch(owner string, kind Kind, now time.Time) *Entry {
	k := entryKey{owner, kind}
	e, ok := t.entries[k]
	if !ok {
		e = &Entry{OwnerID: owner, Kind: kind}
		t.entries[k] = e
	}
	e.LastSeenAt = now
	return e
}

func (t *Tracker) remove(k entryKey) {
	e, ok := t.entries[k]
	if !ok {
		return
	}
	delete(t.entries, k)
	t.emit(Update{Entry: t.copyEntry(e), Removed: true})
}

func (t *Tracker) copyEntry(e *Entry) Entry {
	c := *e
	if e.Stroke != nil {
		s := *e.Stroke
		s.Points = append([]event.Point(nil), e.Stroke.Points...)
		c.Stroke = &s
	}
	return c
}

// emit는 mu를 잡은 상태에서 호출
func (t *Tracker) emit(u Update) {
	for _, ch := range t.subs {
		select {
		case ch <- u:
		default:
		}
	}
}
