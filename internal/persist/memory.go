package persist

import (
	"context"
	"sync"
	"time"

	"collab-backend/internal/event"
	"collab-backend/internal/store"
)

// Memory 프로세스 메모리 저장소 (DB 없이 실행할 때, 테스트)
type Memory struct {
	mu    sync.Mutex
	rooms map[string]*memRoom
}

type memRoom struct {
	doc     *store.Document
	chatIDs map[string]struct{}
	updated time.Time
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[string]*memRoom)}
}

func (m *Memory) room(roomID string) *memRoom {
	r, ok := m.rooms[roomID]
	if !ok {
		r = &memRoom{doc: store.NewDocument(), chatIDs: make(map[string]struct{})}
		m.rooms[roomID] = r
	}
	r.updated = time.Now()
	return r
}

func (m *Memory) LoadRoom(_ context.Context, roomID string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	s := r.doc.Snapshot()
	return &Snapshot{RoomID: roomID, Objects: s.Objects, Code: s.Code, Chat: s.Chat, UpdatedAt: r.updated}, nil
}

func (m *Memory) UpsertObject(_ context.Context, roomID string, obj event.Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.room(roomID).doc.Objects.Upsert(obj)
	return nil
}

func (m *Memory) DeleteObject(_ context.Context, roomID, objectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.room(roomID).doc.Objects.Delete(objectID)
	return nil
}

func (m *Memory) ClearObjects(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.room(roomID).doc.Objects.Clear()
	return nil
}

func (m *Memory) SetCode(_ context.Context, roomID, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.room(roomID).doc.Apply(event.MustNew(event.TypeCodeReplace, roomID, event.CodeReplace{Code: code}))
	return err
}

func (m *Memory) AppendChat(_ context.Context, roomID string, msg event.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.room(roomID)
	if _, dup := r.chatIDs[msg.ID]; dup {
		return nil
	}
	r.chatIDs[msg.ID] = struct{}{}
	_, err := r.doc.Apply(event.MustNew(event.TypeChatAppend, roomID, msg))
	return err
}
