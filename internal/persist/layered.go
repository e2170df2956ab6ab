package persist

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"collab-backend/internal/event"
)

// Layered 캐시(Redis) + 원본(Postgres) 조합
//
// 읽기는 캐시 우선, 미스면 원본에서 읽고 캐시를 채운다.
// 쓰기는 원본 → 캐시 순서이며 실패는 errors.Join으로 합친다.
type Layered struct {
	primary Store
	cache   Store
	log     *zap.Logger
}

// NewLayered returns primary unchanged when cache is nil.
func NewLayered(primary, cache Store, log *zap.Logger) Store {
	if cache == nil {
		return primary
	}
	return &Layered{primary: primary, cache: cache, log: log}
}

func (l *Layered) LoadRoom(ctx context.Context, roomID string) (*Snapshot, error) {
	snap, err := l.cache.LoadRoom(ctx, roomID)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, ErrNotFound) {
		l.log.Warn("[Store] cache load failed, falling back", zap.String("room", roomID), zap.Error(err))
	}

	snap, err = l.primary.LoadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if w, ok := l.cache.(Warmer); ok {
		if werr := w.PutRoom(ctx, snap); werr != nil {
			l.log.Warn("[Store] cache warm failed", zap.String("room", roomID), zap.Error(werr))
		}
	}
	return snap, nil
}

func (l *Layered) UpsertObject(ctx context.Context, roomID string, obj event.Object) error {
	return errors.Join(l.primary.UpsertObject(ctx, roomID, obj), l.cache.UpsertObject(ctx, roomID, obj))
}

func (l *Layered) DeleteObject(ctx context.Context, roomID, objectID string) error {
	return errors.Join(l.primary.DeleteObject(ctx, roomID, objectID), l.cache.DeleteObject(ctx, roomID, objectID))
}

func (l *Layered) ClearObjects(ctx context.Context, roomID string) error {
	return errors.Join(l.primary.ClearObjects(ctx, roomID), l.cache.ClearObjects(ctx, roomID))
}

func (l *Layered) SetCode(ctx context.Context, roomID, code string) error {
	return errors.Join(l.primary.SetCode(ctx, roomID, code), l.cache.SetCode(ctx, roomID, code))
}

func (l *Layered) AppendChat(ctx context.Context, roomID string, msg event.ChatMessage) error {
	return errors.Join(l.primary.AppendChat(ctx, roomID, msg), l.cache.AppendChat(ctx, roomID, msg))
}
