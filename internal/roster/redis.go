package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"collab-backend/internal/event"
)

var ErrNotFound = errors.New("roster entry not found")

// Entry Redis에 저장될 참가자 데이터
type Entry struct {
	Participant   event.Participant `json:"participant"`
	ServerID      string            `json:"server_id"` // 멀티 서버 확장 대비
	JoinedAt      int64             `json:"joined_at"`
	LastHeartbeat int64             `json:"last_heartbeat"`
}

// Manager 룸 참가자 목록 관리자 (relay.Roster)
//
// 참가자별 키는 TTL을 가지며 heartbeat로 연장된다.
// 프로세스가 죽어도 TTL이 지나면 목록에서 사라진다.
type Manager struct {
	client   *redis.Client
	serverID string
	ttl      time.Duration
	now      func() time.Time
}

// NewManager 생성자
func NewManager(client *redis.Client, serverID string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Manager{client: client, serverID: serverID, ttl: ttl, now: time.Now}
}

// Key 생성 유틸
func (m *Manager) entryKey(roomID, sessionID string) string {
	return fmt.Sprintf("roster:%s:%s", roomID, sessionID)
}

func (m *Manager) setKey(roomID string) string {
	return fmt.Sprintf("roster:%s:members", roomID)
}

// Add 참가자 등록 (Join)
func (m *Manager) Add(ctx context.Context, roomID string, p event.Participant) error {
	now := m.now().Unix()
	data, err := json.Marshal(Entry{
		Participant:   p,
		ServerID:      m.serverID,
		JoinedAt:      now,
		LastHeartbeat: now,
	})
	if err != nil {
		return err
	}

	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, m.entryKey(roomID, p.SessionID), data, m.ttl)
		pipe.SAdd(ctx, m.setKey(roomID), p.SessionID)
		pipe.Expire(ctx, m.setKey(roomID), 2*m.ttl)
		return nil
	})
	return err
}

// Heartbeat 생존 신고 (TTL 연장)
func (m *Manager) Heartbeat(ctx context.Context, roomID, sessionID string) error {
	ok, err := m.client.Expire(ctx, m.entryKey(roomID, sessionID), m.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s/%s: %w", roomID, sessionID, ErrNotFound)
	}
	return m.client.Expire(ctx, m.setKey(roomID), 2*m.ttl).Err()
}

// Remove 참가자 삭제 (Leave, Disconnect)
func (m *Manager) Remove(ctx context.Context, roomID, sessionID string) error {
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, m.entryKey(roomID, sessionID))
		pipe.SRem(ctx, m.setKey(roomID), sessionID)
		return nil
	})
	return err
}

// List 룸 참가자 조회. 만료된 엔트리는 목록에서 정리한다.
func (m *Manager) List(ctx context.Context, roomID string) ([]Entry, error) {
	ids, err := m.client.SMembers(ctx, m.setKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Entry{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = m.entryKey(roomID, id)
	}

	// MGET으로 한 번에 조회
	results, err := m.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(results))
	var stale []any
	for i, result := range results {
		strVal, ok := result.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(strVal), &e); err == nil {
			entries = append(entries, e)
		}
	}
	if len(stale) > 0 {
		_ = m.client.SRem(ctx, m.setKey(roomID), stale...).Err()
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].JoinedAt < entries[j].JoinedAt })
	return entries, nil
}
