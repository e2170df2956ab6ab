package store

import (
	"slices"

	"collab-backend/internal/event"
)

// ObjectStore 순서가 있는 LWW 오브젝트 저장소
//
// id당 최대 한 개의 오브젝트만 존재하고, 마지막으로 도착한 전체 값이 이긴다.
// 기존 id를 upsert하면 위치(z-order)는 유지된다.
// 한 goroutine(룸 루프 또는 클라이언트 미러)이 소유하며 동시 사용에 안전하지 않다.
type ObjectStore struct {
	order   []string
	objects map[string]event.Object
}

// UpsertResult describes what an upsert replaced.
type UpsertResult struct {
	Replaced bool
	PrevKind event.Kind
}

// KindChanged reports the duplicate-id anomaly: same id, different kind.
func (r UpsertResult) KindChanged(next event.Kind) bool {
	return r.Replaced && r.PrevKind != next
}

func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string]event.Object)}
}

// Upsert 전체 값 교체 또는 삽입
func (s *ObjectStore) Upsert(obj event.Object) UpsertResult {
	prev, ok := s.objects[obj.ID]
	if !ok {
		s.order = append(s.order, obj.ID)
	}
	s.objects[obj.ID] = obj
	return UpsertResult{Replaced: ok, PrevKind: prev.Kind}
}

// Delete removes id if present and reports whether anything was removed.
func (s *ObjectStore) Delete(id string) bool {
	if _, ok := s.objects[id]; !ok {
		return false
	}
	delete(s.objects, id)
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	return true
}

// Clear 전체 삭제
func (s *ObjectStore) Clear() {
	s.order = nil
	clear(s.objects)
}

// Get returns the object stored under id.
func (s *ObjectStore) Get(id string) (event.Object, bool) {
	obj, ok := s.objects[id]
	return obj, ok
}

// GetAll returns an ordered copy of every object.
func (s *ObjectStore) GetAll() []event.Object {
	out := make([]event.Object, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.objects[id])
	}
	return out
}

func (s *ObjectStore) Len() int {
	return len(s.order)
}
