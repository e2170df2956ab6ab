package persist

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"collab-backend/internal/event"
)

func mustObj(t *testing.T, id string) event.Object {
	t.Helper()
	o, err := event.NewObject(id, event.KindPath, nil)
	require.NoError(t, err)
	return o
}

func TestApply_DispatchesDurableEvents(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, Apply(ctx, m, event.MustNew(event.TypeObjectUpsert, "r1", mustObj(t, "a"))))
	require.NoError(t, Apply(ctx, m, event.MustNew(event.TypeObjectUpsert, "r1", mustObj(t, "b"))))
	require.NoError(t, Apply(ctx, m, event.MustNew(event.TypeObjectDelete, "r1", event.ObjectDelete{ID: "a"})))
	require.NoError(t, Apply(ctx, m, event.MustNew(event.TypeCodeReplace, "r1", event.CodeReplace{Code: "x = 1"})))
	require.NoError(t, Apply(ctx, m, event.MustNew(event.TypeChatAppend, "r1", event.ChatMessage{ID: "m1", Text: "hi"})))

	snap, err := m.LoadRoom(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, snap.Objects, 1)
	assert.Equal(t, "b", snap.Objects[0].ID)
	assert.Equal(t, "x = 1", snap.Code)
	assert.Len(t, snap.Chat, 1)

	require.NoError(t, Apply(ctx, m, event.MustNew(event.TypeClear, "r1", nil)))
	snap, _ = m.LoadRoom(ctx, "r1")
	assert.Empty(t, snap.Objects)

	assert.Error(t, Apply(ctx, m, event.MustNew(event.TypeCursor, "r1", event.Cursor{})))
}

func TestMemory_ChatAppendIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	msg := event.ChatMessage{ID: "m1", Text: "hi"}

	require.NoError(t, m.AppendChat(ctx, "r1", msg))
	require.NoError(t, m.AppendChat(ctx, "r1", msg))

	snap, err := m.LoadRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, snap.Chat, 1)
}

func TestMemory_LoadUnknownRoom(t *testing.T) {
	_, err := NewMemory().LoadRoom(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

type warmingMemory struct {
	*Memory
	warmed  int
	loadErr error
}

func (w *warmingMemory) LoadRoom(ctx context.Context, roomID string) (*Snapshot, error) {
	if w.loadErr != nil {
		return nil, w.loadErr
	}
	return w.Memory.LoadRoom(ctx, roomID)
}

func (w *warmingMemory) PutRoom(ctx context.Context, snap *Snapshot) error {
	w.warmed++
	for _, o := range snap.Objects {
		if err := w.UpsertObject(ctx, snap.RoomID, o); err != nil {
			return err
		}
	}
	return w.SetCode(ctx, snap.RoomID, snap.Code)
}

func TestLayered_ReadThroughAndWarm(t *testing.T) {
	ctx := context.Background()
	primary := NewMemory()
	cache := &warmingMemory{Memory: NewMemory()}
	require.NoError(t, primary.UpsertObject(ctx, "r1", mustObj(t, "a")))

	s := NewLayered(primary, cache, zap.NewNop())

	snap, err := s.LoadRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, snap.Objects, 1)
	assert.Equal(t, 1, cache.warmed)

	// second load is served by the cache
	_, err = s.LoadRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.warmed)
}

func TestLayered_CacheErrorFallsBack(t *testing.T) {
	ctx := context.Background()
	primary := NewMemory()
	require.NoError(t, primary.SetCode(ctx, "r1", "code"))
	cache := &warmingMemory{Memory: NewMemory(), loadErr: errors.New("redis down")}

	snap, err := NewLayered(primary, cache, zap.NewNop()).LoadRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "code", snap.Code)
}

type failingStore struct{ Store }

var errDisk = errors.New("disk full")

func (failingStore) SetCode(context.Context, string, string) error { return errDisk }

func TestLayered_WriteErrorsJoined(t *testing.T) {
	ctx := context.Background()
	cache := NewMemory()
	s := NewLayered(failingStore{NewMemory()}, cache, zap.NewNop())

	err := s.SetCode(ctx, "r1", "x")
	assert.ErrorIs(t, err, errDisk)

	// the cache write still happened
	snap, lerr := cache.LoadRoom(ctx, "r1")
	require.NoError(t, lerr)
	assert.Equal(t, "x", snap.Code)
}

func TestNewLayered_NilCache(t *testing.T) {
	primary := NewMemory()
	assert.Same(t, primary, NewLayered(primary, nil, zap.NewNop()))
}
