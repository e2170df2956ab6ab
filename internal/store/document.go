package store

import (
	"fmt"
	"slices"

	"collab-backend/internal/event"
)

// Document 룸의 공유 문서 (캔버스 + 코드 + 채팅)
type Document struct {
	Objects *ObjectStore
	code    string
	chat    []event.ChatMessage
}

// Change 적용 결과. 중복 id 이상 징후 로깅에 사용
type Change struct {
	Type    event.Type
	Object  event.Object
	Upsert  UpsertResult
	Deleted bool
}

// Anomaly reports an upsert that changed the kind of an existing id.
func (c Change) Anomaly() bool {
	return c.Type == event.TypeObjectUpsert && c.Upsert.KindChanged(c.Object.Kind)
}

func NewDocument() *Document {
	return &Document{Objects: NewObjectStore()}
}

// Restore 저장된 상태로 문서 구성
func Restore(objects []event.Object, code string, chat []event.ChatMessage) *Document {
	d := NewDocument()
	for _, o := range objects {
		d.Objects.Upsert(o)
	}
	d.code = code
	d.chat = slices.Clone(chat)
	return d
}

// Apply folds one durable event into the document.
// chat-append must already carry a stamped ChatMessage.
func (d *Document) Apply(env *event.Envelope) (Change, error) {
	ch := Change{Type: env.Type}
	switch env.Type {
	case event.TypeObjectUpsert:
		obj, err := event.PayloadOf[event.Object](env)
		if err != nil {
			return ch, fmt.Errorf("apply upsert: %w", err)
		}
		ch.Object = obj
		ch.Upsert = d.Objects.Upsert(obj)
	case event.TypeObjectDelete:
		p, err := event.PayloadOf[event.ObjectDelete](env)
		if err != nil {
			return ch, fmt.Errorf("apply delete: %w", err)
		}
		ch.Deleted = d.Objects.Delete(p.ID)
	case event.TypeClear:
		d.Objects.Clear()
	case event.TypeCodeReplace:
		p, err := event.PayloadOf[event.CodeReplace](env)
		if err != nil {
			return ch, fmt.Errorf("apply code: %w", err)
		}
		d.code = p.Code
	case event.TypeChatAppend:
		m, err := event.PayloadOf[event.ChatMessage](env)
		if err != nil {
			return ch, fmt.Errorf("apply chat: %w", err)
		}
		d.chat = append(d.chat, m)
	default:
		return ch, fmt.Errorf("apply: %s is not a document event", env.Type)
	}
	return ch, nil
}

func (d *Document) Code() string {
	return d.code
}

// Chat returns a copy of the log in arrival order.
func (d *Document) Chat() []event.ChatMessage {
	return append(make([]event.ChatMessage, 0, len(d.chat)), d.chat...)
}

// Snapshot 현재 문서 상태 (참가자 목록은 relay가 채운다)
func (d *Document) Snapshot() event.RoomSnapshot {
	return event.RoomSnapshot{
		Objects: d.Objects.GetAll(),
		Code:    d.code,
		Chat:    d.Chat(),
	}
}
