package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collab-backend/internal/event"
)

var (
	ErrNotFound = errors.New("room not found")
	ErrBadEvent = errors.New("event cannot be persisted")
)

// Snapshot 저장소에 보관된 룸 문서
type Snapshot struct {
	RoomID    string              `json:"roomId"`
	Objects   []event.Object      `json:"objects"`
	Code      string              `json:"code"`
	Chat      []event.ChatMessage `json:"chat"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// Store 룸 문서 영속화
//
// 모든 쓰기는 재시도해도 결과가 같아야 한다 (chat은 메시지 ID 기준).
type Store interface {
	LoadRoom(ctx context.Context, roomID string) (*Snapshot, error)
	UpsertObject(ctx context.Context, roomID string, obj event.Object) error
	DeleteObject(ctx context.Context, roomID, objectID string) error
	ClearObjects(ctx context.Context, roomID string) error
	SetCode(ctx context.Context, roomID, code string) error
	AppendChat(ctx context.Context, roomID string, msg event.ChatMessage) error
}

// Warmer is implemented by caches that can take a whole snapshot.
type Warmer interface {
	PutRoom(ctx context.Context, snap *Snapshot) error
}

// Apply folds one durable envelope into s.
func Apply(ctx context.Context, s Store, env *event.Envelope) error {
	switch env.Type {
	case event.TypeObjectUpsert:
		obj, err := event.PayloadOf[event.Object](env)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBadEvent, err)
		}
		return s.UpsertObject(ctx, env.RoomID, obj)
	case event.TypeObjectDelete:
		p, err := event.PayloadOf[event.ObjectDelete](env)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBadEvent, err)
		}
		return s.DeleteObject(ctx, env.RoomID, p.ID)
	case event.TypeClear:
		return s.ClearObjects(ctx, env.RoomID)
	case event.TypeCodeReplace:
		p, err := event.PayloadOf[event.CodeReplace](env)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBadEvent, err)
		}
		return s.SetCode(ctx, env.RoomID, p.Code)
	case event.TypeChatAppend:
		m, err := event.PayloadOf[event.ChatMessage](env)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBadEvent, err)
		}
		return s.AppendChat(ctx, env.RoomID, m)
	}
	return fmt.Errorf("%w: %s is not durable", ErrBadEvent, env.Type)
}
