package mesh

import "github.com/pion/webrtc/v4"

// Role 링크에서의 역할
type Role int

const (
	RoleInitiator Role = iota // 기존 참가자
	RoleResponder             // 새로 들어온 참가자
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "unknown"
	}
}

// State 링크 상태 (idle → offering → answering → connected → closed)
type State int

const (
	StateIdle State = iota
	StateOffering
	StateAnswering
	StateConnected
	StateClosed
)

// String 상태를 문자열로 반환
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOffering:
		return "offering"
	case StateAnswering:
		return "answering"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session 원격 참가자 한 명과의 미디어 세션
type Session interface {
	CreateOffer() (webrtc.SessionDescription, error)
	// HandleOffer applies a remote offer and returns the local answer.
	HandleOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	HandleAnswer(answer webrtc.SessionDescription) error
	AddCandidate(c webrtc.ICECandidateInit) error
	Close() error
}

// SessionHooks 세션이 비동기로 알려주는 이벤트
// Session 메서드 실행 중에 동기적으로 호출하면 안 된다 (coordinator 락).
type SessionHooks struct {
	OnCandidate func(webrtc.ICECandidateInit)
	OnConnected func()
	OnFailed    func()
}

// SessionFactory creates a media session toward remoteID.
type SessionFactory func(remoteID string, hooks SessionHooks) (Session, error)

// PeerLink 로컬-원격 참가자 사이의 미디어 링크
type PeerLink struct {
	LocalID  string
	RemoteID string
	Role     Role
	State    State

	session Session
}
