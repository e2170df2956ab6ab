package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownType    = errors.New("unknown event type")
	ErrNotClientEvent = errors.New("event type is server-originated")
	ErrMissingTarget  = errors.New("signal event requires a target session")
	ErrInvalidPayload = errors.New("invalid event payload")
	ErrInvalidRoomID  = errors.New("invalid room id")
)

// MaxRoomIDLength 룸 ID 최대 길이 (DB 컬럼 크기와 같다)
const MaxRoomIDLength = 128

// ValidRoomID reports whether id can name a room.
func ValidRoomID(id string) bool {
	if id == "" || len(id) > MaxRoomIDLength {
		return false
	}
	for _, r := range id {
		if r <= ' ' || r == '/' || r == 0x7f {
			return false
		}
	}
	return true
}

// Envelope 웹소켓 위에서 오가는 모든 메시지의 공통 포맷
//
// From과 Seq는 relay가 채운다. 클라이언트가 보낸 값은 덮어쓴다.
type Envelope struct {
	Type    Type            `json:"type"`
	RoomID  string          `json:"roomId,omitempty"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New 페이로드를 인코딩해서 Envelope 생성
func New(t Type, roomID string, payload any) (*Envelope, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	env := &Envelope{Type: t, RoomID: roomID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", t, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// MustNew is New for server-built payloads that cannot fail to encode.
func MustNew(t Type, roomID string, payload any) *Envelope {
	env, err := New(t, roomID, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode parses a frame and rejects unknown tags.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if !env.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return &env, nil
}

// DecodeClient parses a frame received from a client and validates its payload.
func DecodeClient(data []byte) (*Envelope, error) {
	env, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if !env.Type.FromClient() {
		return nil, fmt.Errorf("%w: %q", ErrNotClientEvent, env.Type)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// Encode 직렬화
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Clone returns a shallow copy sharing the payload bytes.
func (e *Envelope) Clone() *Envelope {
	c := *e
	return &c
}

// Validate checks the payload against the fixed schema of the tag.
func (e *Envelope) Validate() error {
	if !ValidRoomID(e.RoomID) {
		return fmt.Errorf("%s: %w: %q", e.Type, ErrInvalidRoomID, e.RoomID)
	}
	if e.Type.Targeted() && e.To == "" {
		return fmt.Errorf("%s: %w", e.Type, ErrMissingTarget)
	}

	var err error
	switch e.Type {
	case TypeObjectUpsert:
		_, err = PayloadOf[Object](e)
	case TypeObjectDelete:
		var p ObjectDelete
		if p, err = PayloadOf[ObjectDelete](e); err == nil {
			err = validObjectID(p.ID)
		}
	case TypeCodeReplace:
		_, err = PayloadOf[CodeReplace](e)
	case TypeChatAppend:
		var p ChatAppend
		if p, err = PayloadOf[ChatAppend](e); err == nil && p.Text == "" {
			err = errors.New("chat text is empty")
		}
	case TypeCursor:
		_, err = PayloadOf[Cursor](e)
	case TypeSelection:
		_, err = PayloadOf[Selection](e)
	case TypeTyping:
		_, err = PayloadOf[Typing](e)
	case TypeStrokeStart:
		_, err = PayloadOf[StrokeStart](e)
	case TypeStrokeUpdate:
		_, err = PayloadOf[StrokeUpdate](e)
	case TypeViewport:
		var v Viewport
		if v, err = PayloadOf[Viewport](e); err == nil {
			err = v.Validate()
		}
	case TypeSignalOffer, TypeSignalAnswer:
		_, err = PayloadOf[SessionSignal](e)
	case TypeSignalCandidate:
		_, err = PayloadOf[CandidateSignal](e)
	case TypeCodeOutput:
		_, err = PayloadOf[CodeOutput](e)
	case TypeViewChange:
		var v ViewChange
		if v, err = PayloadOf[ViewChange](e); err == nil && !v.View.Valid() {
			err = fmt.Errorf("unknown view %q", v.View)
		}
	case TypeThemeToggle:
		_, err = PayloadOf[ThemeToggle](e)
	}
	if err != nil {
		return fmt.Errorf("%s: %w: %w", e.Type, ErrInvalidPayload, err)
	}
	return nil
}

// PayloadOf decodes the envelope payload into T.
func PayloadOf[T any](e *Envelope) (T, error) {
	var v T
	if len(e.Payload) == 0 {
		return v, errors.New("payload is empty")
	}
	if err := json.Unmarshal(e.Payload, &v); err != nil {
		return v, err
	}
	if o, ok := any(&v).(interface{ validate() error }); ok {
		if err := o.validate(); err != nil {
			return v, err
		}
	}
	return v, nil
}
