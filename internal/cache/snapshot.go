package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"collab-backend/internal/event"
	"collab-backend/internal/persist"
)

// SnapshotStore 룸 문서의 Redis 사본 (persist.Store + persist.Warmer)
//
// 키 구성:
//
//	room:<id>:meta     hash  (code, updated)
//	room:<id>:objects  hash  objectId → JSON
//	room:<id>:order    zset  objectId (score = 최초 삽입 시각)
//	room:<id>:chat     zset  message JSON (score = sentAt)
//
// 캐시가 채워진 룸(meta 존재)에만 쓴다. 일부만 채워진 캐시를 읽지 않기 위함.
type SnapshotStore struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

func NewSnapshotStore(rdb *redis.Client, ttl time.Duration) *SnapshotStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SnapshotStore{rdb: rdb, ttl: ttl, now: time.Now}
}

var (
	_ persist.Store  = (*SnapshotStore)(nil)
	_ persist.Warmer = (*SnapshotStore)(nil)
)

type roomKeys struct {
	meta, objects, order, chat string
}

func keysFor(roomID string) roomKeys {
	prefix := "room:" + roomID + ":"
	return roomKeys{
		meta:    prefix + "meta",
		objects: prefix + "objects",
		order:   prefix + "order",
		chat:    prefix + "chat",
	}
}

func (k roomKeys) all() []string {
	return []string{k.meta, k.objects, k.order, k.chat}
}

func (s *SnapshotStore) LoadRoom(ctx context.Context, roomID string) (*persist.Snapshot, error) {
	k := keysFor(roomID)

	var (
		meta    *redis.MapStringStringCmd
		order   *redis.StringSliceCmd
		objects *redis.MapStringStringCmd
		chat    *redis.StringSliceCmd
	)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		meta = p.HGetAll(ctx, k.meta)
		order = p.ZRange(ctx, k.order, 0, -1)
		objects = p.HGetAll(ctx, k.objects)
		chat = p.ZRange(ctx, k.chat, 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis load %s: %w", roomID, err)
	}
	if len(meta.Val()) == 0 {
		return nil, persist.ErrNotFound
	}

	snap := &persist.Snapshot{
		RoomID:  roomID,
		Code:    meta.Val()["code"],
		Objects: make([]event.Object, 0, len(order.Val())),
		Chat:    make([]event.ChatMessage, 0, len(chat.Val())),
	}
	if ns, err := strconv.ParseInt(meta.Val()["updated"], 10, 64); err == nil {
		snap.UpdatedAt = time.Unix(0, ns)
	}

	values := objects.Val()
	for _, id := range order.Val() {
		raw, ok := values[id]
		if !ok {
			continue
		}
		var obj event.Object
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			return nil, fmt.Errorf("redis decode object %s/%s: %w", roomID, id, err)
		}
		snap.Objects = append(snap.Objects, obj)
	}
	for _, raw := range chat.Val() {
		var m event.ChatMessage
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("redis decode chat %s: %w", roomID, err)
		}
		snap.Chat = append(snap.Chat, m)
	}
	return snap, nil
}

// PutRoom replaces the cached copy of a room with snap.
func (s *SnapshotStore) PutRoom(ctx context.Context, snap *persist.Snapshot) error {
	k := keysFor(snap.RoomID)
	now := s.now()

	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, k.all()...)
		p.HSet(ctx, k.meta, "code", snap.Code, "updated", now.UnixNano())
		for i, obj := range snap.Objects {
			data, err := json.Marshal(obj)
			if err != nil {
				return err
			}
			p.HSet(ctx, k.objects, obj.ID, data)
			p.ZAdd(ctx, k.order, redis.Z{Score: float64(i), Member: obj.ID})
		}
		for _, m := range snap.Chat {
			data, err := json.Marshal(m)
			if err != nil {
				return err
			}
			p.ZAdd(ctx, k.chat, redis.Z{Score: float64(m.SentAt.UnixMicro()), Member: data})
		}
		s.expire(ctx, p, k)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put %s: %w", snap.RoomID, err)
	}
	return nil
}

func (s *SnapshotStore) UpsertObject(ctx context.Context, roomID string, obj event.Object) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return s.writeIfWarm(ctx, roomID, func(p redis.Pipeliner, k roomKeys) {
		p.HSet(ctx, k.objects, obj.ID, data)
		// 이미 있는 id는 순서 유지
		p.ZAddNX(ctx, k.order, redis.Z{Score: float64(s.now().UnixMicro()), Member: obj.ID})
	})
}

func (s *SnapshotStore) DeleteObject(ctx context.Context, roomID, objectID string) error {
	return s.writeIfWarm(ctx, roomID, func(p redis.Pipeliner, k roomKeys) {
		p.HDel(ctx, k.objects, objectID)
		p.ZRem(ctx, k.order, objectID)
	})
}

func (s *SnapshotStore) ClearObjects(ctx context.Context, roomID string) error {
	return s.writeIfWarm(ctx, roomID, func(p redis.Pipeliner, k roomKeys) {
		p.Del(ctx, k.objects, k.order)
	})
}

func (s *SnapshotStore) SetCode(ctx context.Context, roomID, code string) error {
	return s.writeIfWarm(ctx, roomID, func(p redis.Pipeliner, k roomKeys) {
		p.HSet(ctx, k.meta, "code", code)
	})
}

func (s *SnapshotStore) AppendChat(ctx context.Context, roomID string, msg event.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	// 같은 JSON은 zset에서 한 번만 저장된다
	return s.writeIfWarm(ctx, roomID, func(p redis.Pipeliner, k roomKeys) {
		p.ZAdd(ctx, k.chat, redis.Z{Score: float64(msg.SentAt.UnixMicro()), Member: data})
	})
}

// Evict drops the cached copy of a room.
func (s *SnapshotStore) Evict(ctx context.Context, roomID string) error {
	return s.rdb.Del(ctx, keysFor(roomID).all()...).Err()
}

func (s *SnapshotStore) writeIfWarm(ctx context.Context, roomID string, fn func(p redis.Pipeliner, k roomKeys)) error {
	k := keysFor(roomID)
	n, err := s.rdb.Exists(ctx, k.meta).Result()
	if err != nil {
		return fmt.Errorf("redis exists %s: %w", roomID, err)
	}
	if n == 0 {
		return nil
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		fn(p, k)
		p.HSet(ctx, k.meta, "updated", s.now().UnixNano())
		s.expire(ctx, p, k)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis write %s: %w", roomID, err)
	}
	return nil
}

func (s *SnapshotStore) expire(ctx context.Context, p redis.Pipeliner, k roomKeys) {
	for _, key := range k.all() {
		p.Expire(ctx, key, s.ttl)
	}
}
