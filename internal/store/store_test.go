package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-backend/internal/event"
)

func obj(t *testing.T, id string, kind event.Kind, fields map[string]any) event.Object {
	t.Helper()
	o, err := event.NewObject(id, kind, fields)
	require.NoError(t, err)
	return o
}

func ids(objs []event.Object) []string {
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.ID)
	}
	return out
}

func TestObjectStore_LastWriterWins(t *testing.T) {
	s := NewObjectStore()
	s.Upsert(obj(t, "a", event.KindShape, map[string]any{"w": 1}))
	s.Upsert(obj(t, "a", event.KindShape, map[string]any{"h": 2}))

	got, ok := s.Get("a")
	require.True(t, ok)
	// no field merge: "w" from the first value is gone
	assert.JSONEq(t, `{"id":"a","kind":"shape","h":2}`, string(got.Raw))
	assert.Equal(t, 1, s.Len())
}

func TestObjectStore_UpsertKeepsPosition(t *testing.T) {
	s := NewObjectStore()
	s.Upsert(obj(t, "a", event.KindPath, nil))
	s.Upsert(obj(t, "b", event.KindPath, nil))
	s.Upsert(obj(t, "c", event.KindPath, nil))
	s.Upsert(obj(t, "a", event.KindPath, map[string]any{"moved": true}))

	assert.Equal(t, []string{"a", "b", "c"}, ids(s.GetAll()))
}

func TestObjectStore_UpsertIsIdempotent(t *testing.T) {
	s := NewObjectStore()
	s.Upsert(obj(t, "a", event.KindShape, map[string]any{"w": 1}))
	v := obj(t, "b", event.KindText, map[string]any{"text": "hi"})
	s.Upsert(v)
	s.Upsert(obj(t, "c", event.KindPath, nil))

	before := s.GetAll()
	res := s.Upsert(v)
	assert.True(t, res.Replaced)
	assert.False(t, res.KindChanged(v.Kind))

	assert.Equal(t, before, s.GetAll())
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []string{"a", "b", "c"}, ids(s.GetAll()))
}

func TestObjectStore_DeleteIsIdempotent(t *testing.T) {
	s := NewObjectStore()
	s.Upsert(obj(t, "a", event.KindText, nil))

	assert.True(t, s.Delete("a"))
	assert.False(t, s.Delete("a"))
	assert.False(t, s.Delete("never"))
	assert.Empty(t, s.GetAll())
}

func TestObjectStore_DeleteThenCreate(t *testing.T) {
	s := NewObjectStore()
	s.Upsert(obj(t, "a", event.KindText, nil))
	s.Upsert(obj(t, "b", event.KindText, nil))
	s.Delete("a")
	s.Upsert(obj(t, "a", event.KindShape, nil))

	assert.Equal(t, []string{"b", "a"}, ids(s.GetAll()))
	got, _ := s.Get("a")
	assert.Equal(t, event.KindShape, got.Kind)
}

func TestObjectStore_Clear(t *testing.T) {
	s := NewObjectStore()
	s.Upsert(obj(t, "a", event.KindGroup, nil))
	s.Upsert(obj(t, "b", event.KindGroup, nil))
	s.Clear()

	assert.Empty(t, s.GetAll())
	s.Upsert(obj(t, "c", event.KindGroup, nil))
	assert.Equal(t, []string{"c"}, ids(s.GetAll()))
}

func TestDocument_Apply(t *testing.T) {
	d := NewDocument()

	apply := func(typ event.Type, payload any) Change {
		t.Helper()
		ch, err := d.Apply(event.MustNew(typ, "r1", payload))
		require.NoError(t, err)
		return ch
	}

	apply(event.TypeObjectUpsert, obj(t, "a", event.KindPath, nil))
	ch := apply(event.TypeObjectUpsert, obj(t, "a", event.KindText, nil))
	assert.True(t, ch.Anomaly(), "kind change on an existing id is flagged")

	apply(event.TypeCodeReplace, event.CodeReplace{Code: "print(1)"})
	apply(event.TypeCodeReplace, event.CodeReplace{Code: "print(2)"})
	apply(event.TypeChatAppend, event.ChatMessage{ID: "1", Text: "hi"})
	apply(event.TypeChatAppend, event.ChatMessage{ID: "2", Text: "there"})

	snap := d.Snapshot()
	assert.Equal(t, "print(2)", snap.Code)
	require.Len(t, snap.Chat, 2)
	assert.Equal(t, "hi", snap.Chat[0].Text)
	assert.Equal(t, "there", snap.Chat[1].Text)
	require.Len(t, snap.Objects, 1)
	assert.Equal(t, event.KindText, snap.Objects[0].Kind)

	ch = apply(event.TypeObjectDelete, event.ObjectDelete{ID: "a"})
	assert.True(t, ch.Deleted)
	ch = apply(event.TypeObjectDelete, event.ObjectDelete{ID: "a"})
	assert.False(t, ch.Deleted)
}

func TestDocument_ApplyUpsertTwice(t *testing.T) {
	d := NewDocument()
	first := event.MustNew(event.TypeObjectUpsert, "r1", obj(t, "a", event.KindShape, map[string]any{"w": 1}))
	v := event.MustNew(event.TypeObjectUpsert, "r1", obj(t, "b", event.KindText, map[string]any{"text": "hi"}))

	_, err := d.Apply(first)
	require.NoError(t, err)
	_, err = d.Apply(v)
	require.NoError(t, err)
	before := d.Snapshot()

	ch, err := d.Apply(v)
	require.NoError(t, err)
	assert.False(t, ch.Anomaly())

	after := d.Snapshot()
	assert.Equal(t, before.Objects, after.Objects)
	assert.Equal(t, []string{"a", "b"}, ids(after.Objects))
}

func TestDocument_ApplyRejectsNonDocumentEvents(t *testing.T) {
	d := NewDocument()
	_, err := d.Apply(event.MustNew(event.TypeCursor, "r1", event.Cursor{}))
	assert.Error(t, err)
}

func TestRestore(t *testing.T) {
	d := Restore(
		[]event.Object{obj(t, "x", event.KindPath, nil), obj(t, "y", event.KindShape, nil)},
		"code",
		[]event.ChatMessage{{ID: "m1", Text: "hello"}},
	)
	snap := d.Snapshot()
	assert.Equal(t, []string{"x", "y"}, ids(snap.Objects))
	assert.Equal(t, "code", snap.Code)
	assert.Len(t, snap.Chat, 1)
}
