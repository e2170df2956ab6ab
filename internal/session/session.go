package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"collab-backend/internal/event"
)

// State WebSocket 연결 상태
type State int

const (
	StateAwaitingJoin State = iota // join 대기
	StateActive                    // 룸 참여 중
	StateClosed                    // 연결 종료
)

// String 상태를 문자열로 반환
func (s State) String() string {
	switch s {
	case StateAwaitingJoin:
		return "awaiting_join"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session 클라이언트 세션 (Thread-Safe)
//
// 같은 사용자가 탭을 여러 개 열면 세션도 여러 개다. 시그널링 주소는 세션 ID.
type Session struct {
	ID          string
	UserID      string
	Name        string
	Avatar      string
	ConnectedAt time.Time

	// 동시성 제어
	mu        sync.RWMutex
	state     State
	framesIn  uint64
	framesOut uint64
	rejected  uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// New 새 세션 생성
func New(userID, name, avatar string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:          uuid.New().String(),
		UserID:      userID,
		Name:        name,
		Avatar:      avatar,
		ConnectedAt: time.Now(),
		state:       StateAwaitingJoin,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Participant relay에 등록되는 참가자 정보
func (s *Session) Participant() event.Participant {
	return event.Participant{
		SessionID: s.ID,
		UserID:    s.UserID,
		Name:      s.Name,
		Avatar:    s.Avatar,
	}
}

// Context 세션 컨텍스트 반환. Close 시 취소된다.
func (s *Session) Context() context.Context {
	return s.ctx
}

// SetState 상태 전환. 닫힌 세션은 되살리지 않는다.
func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = state
}

// GetState 현재 상태 조회
func (s *Session) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// RecordIn 수신 프레임 카운트. rejected면 검증 실패 프레임
func (s *Session) RecordIn(rejected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.framesIn++
	if rejected {
		s.rejected++
	}
}

// RecordOut 송신 프레임 카운트
func (s *Session) RecordOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.framesOut++
}

// Stats 세션 통계
type Stats struct {
	FramesIn  uint64
	FramesOut uint64
	Rejected  uint64
	Duration  time.Duration
}

// GetStats 통계 조회
func (s *Session) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		FramesIn:  s.framesIn,
		FramesOut: s.framesOut,
		Rejected:  s.rejected,
		Duration:  time.Since(s.ConnectedAt),
	}
}

// Close 세션 정리 (idempotent)
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.cancel()
}

// IsClosed 세션 종료 여부 확인
func (s *Session) IsClosed() bool {
	return s.GetState() == StateClosed
}
