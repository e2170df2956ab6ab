package event

// Type 이벤트 종류 (closed set)
type Type string

const (
	// 클라이언트 → 서버
	TypeJoin         Type = "join"
	TypeLeave        Type = "leave"
	TypeObjectUpsert Type = "object-upsert"
	TypeObjectDelete Type = "object-delete"
	TypeClear        Type = "clear"
	TypeCodeReplace  Type = "code-replace"
	TypeChatAppend   Type = "chat-append"

	TypeCursor    Type = "presence-cursor"
	TypeSelection Type = "presence-selection"
	TypeTyping    Type = "presence-typing"

	TypeStrokeStart  Type = "stroke-start"
	TypeStrokeUpdate Type = "stroke-update"
	TypeStrokeEnd    Type = "stroke-end"

	TypeViewport Type = "viewport"

	TypeSignalOffer     Type = "signal-offer"
	TypeSignalAnswer    Type = "signal-answer"
	TypeSignalCandidate Type = "signal-candidate"

	// Room-wide UI sync (not persisted)
	TypeCodeOutput  Type = "code-output"
	TypeViewChange  Type = "view-change"
	TypeThemeToggle Type = "theme-toggle"

	// 서버 → 클라이언트
	TypeRoomSnapshot      Type = "room-snapshot"
	TypeParticipantJoined Type = "participant-joined"
	TypeParticipantLeft   Type = "participant-left"
	TypeError             Type = "error"
)

// Delivery 전송 보장 수준
type Delivery int

const (
	Reliable Delivery = iota // 큐가 가득 차면 수신자 연결 종료
	Volatile                 // 큐가 가득 차면 버림
)

// String 전송 모드를 문자열로 반환
func (d Delivery) String() string {
	switch d {
	case Reliable:
		return "reliable"
	case Volatile:
		return "volatile"
	default:
		return "unknown"
	}
}

type traits struct {
	delivery   Delivery
	durable    bool
	fromClient bool
	targeted   bool
}

var registry = map[Type]traits{
	TypeJoin:         {delivery: Reliable, fromClient: true},
	TypeLeave:        {delivery: Reliable, fromClient: true},
	TypeObjectUpsert: {delivery: Reliable, durable: true, fromClient: true},
	TypeObjectDelete: {delivery: Reliable, durable: true, fromClient: true},
	TypeClear:        {delivery: Reliable, durable: true, fromClient: true},
	TypeCodeReplace:  {delivery: Reliable, durable: true, fromClient: true},
	TypeChatAppend:   {delivery: Reliable, durable: true, fromClient: true},

	TypeCursor:    {delivery: Volatile, fromClient: true},
	TypeSelection: {delivery: Volatile, fromClient: true},
	TypeTyping:    {delivery: Volatile, fromClient: true},

	TypeStrokeStart:  {delivery: Reliable, fromClient: true},
	TypeStrokeUpdate: {delivery: Volatile, fromClient: true},
	TypeStrokeEnd:    {delivery: Reliable, fromClient: true},

	TypeViewport: {delivery: Volatile, fromClient: true},

	TypeSignalOffer:     {delivery: Reliable, fromClient: true, targeted: true},
	TypeSignalAnswer:    {delivery: Reliable, fromClient: true, targeted: true},
	TypeSignalCandidate: {delivery: Reliable, fromClient: true, targeted: true},

	TypeCodeOutput:  {delivery: Reliable, fromClient: true},
	TypeViewChange:  {delivery: Reliable, fromClient: true},
	TypeThemeToggle: {delivery: Reliable, fromClient: true},

	TypeRoomSnapshot:      {delivery: Reliable},
	TypeParticipantJoined: {delivery: Reliable},
	TypeParticipantLeft:   {delivery: Reliable},
	TypeError:             {delivery: Reliable},
}

// Valid reports whether t is a known tag.
func (t Type) Valid() bool {
	_, ok := registry[t]
	return ok
}

// Delivery 태그별 전송 모드
func (t Type) Delivery() Delivery {
	return registry[t].delivery
}

// Durable reports whether the event mutates the persisted document.
func (t Type) Durable() bool {
	return registry[t].durable
}

// FromClient reports whether a client may send this tag.
func (t Type) FromClient() bool {
	return registry[t].fromClient
}

// Targeted reports whether the event is addressed to one session instead of the room.
func (t Type) Targeted() bool {
	return registry[t].targeted
}

// IsSignal reports whether t is part of the peer-mesh handshake.
func (t Type) IsSignal() bool {
	return t == TypeSignalOffer || t == TypeSignalAnswer || t == TypeSignalCandidate
}

// IsPresence reports whether t feeds the presence tracker.
func (t Type) IsPresence() bool {
	switch t {
	case TypeCursor, TypeSelection, TypeTyping, TypeStrokeStart, TypeStrokeUpdate, TypeStrokeEnd:
		return true
	}
	return false
}
