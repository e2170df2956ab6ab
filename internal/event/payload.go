package event

import (
	"errors"
	"time"

	"github.com/pion/webrtc/v4"
)

var ErrInvalidViewport = errors.New("viewport zoom must be positive")

// Participant 룸 참가자 (세션 단위)
type Participant struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
	Name      string `json:"name"`
	Avatar    string `json:"avatar,omitempty"`
}

// ObjectDelete payload
type ObjectDelete struct {
	ID string `json:"id"`
}

// CodeReplace payload
type CodeReplace struct {
	Code string `json:"code"`
}

// ChatAppend 클라이언트가 보내는 채팅
type ChatAppend struct {
	Text string `json:"text"`
}

// ChatMessage relay가 ID/시간을 채운 채팅 메시지
type ChatMessage struct {
	ID     string    `json:"id"`
	From   string    `json:"from"`
	Name   string    `json:"name"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sentAt"`
}

// Point 캔버스 좌표
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Cursor payload. Color/Name는 원격 커서 표시용 (선택)
type Cursor struct {
	Point
	Color string `json:"color,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Selection payload
type Selection struct {
	ObjectIDs []string `json:"objectIds"`
	Color     string   `json:"color,omitempty"`
	Name      string   `json:"name,omitempty"`
}

// Typing 코드 에디터 캐럿 위치
type Typing struct {
	Line int    `json:"line"`
	Col  int    `json:"col"`
	Name string `json:"name,omitempty"`
}

// StrokeStart payload
type StrokeStart struct {
	Origin Point          `json:"origin"`
	Style  map[string]any `json:"style,omitempty"`
}

// StrokeUpdate payload
type StrokeUpdate struct {
	Point Point `json:"point"`
}

// Viewport 줌/오프셋
type Viewport struct {
	Zoom    float64 `json:"zoom"`
	OffsetX float64 `json:"offsetX"`
	OffsetY float64 `json:"offsetY"`
}

// Validate rejects non-positive zoom.
func (v Viewport) Validate() error {
	if v.Zoom <= 0 {
		return ErrInvalidViewport
	}
	return nil
}

// SessionSignal offer/answer payload
type SessionSignal struct {
	SDP webrtc.SessionDescription `json:"sdp"`
}

// CandidateSignal ICE candidate payload
type CandidateSignal struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// CodeOutput 공유 실행 결과
type CodeOutput struct {
	Output  string `json:"output"`
	Running bool   `json:"running"`
}

// View 메인 화면 모드
type View string

const (
	ViewWhiteboard View = "whiteboard"
	ViewCode       View = "code"
)

// Valid reports whether v is a known view.
func (v View) Valid() bool {
	return v == ViewWhiteboard || v == ViewCode
}

// ViewChange payload
type ViewChange struct {
	View View `json:"view"`
}

// ThemeToggle payload
type ThemeToggle struct {
	Dark bool `json:"dark"`
}

// RoomSnapshot join 직후 전달하는 룸 전체 상태
type RoomSnapshot struct {
	You          Participant   `json:"you"`
	Objects      []Object      `json:"objects"`
	Code         string        `json:"code"`
	Chat         []ChatMessage `json:"chat"`
	Participants []Participant `json:"participants"`
	Seq          uint64        `json:"seq"`
}

// ParticipantChange participant-joined / participant-left payload
type ParticipantChange struct {
	Participant Participant `json:"participant"`
}

// ErrorPayload 클라이언트에게 돌려주는 에러
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
