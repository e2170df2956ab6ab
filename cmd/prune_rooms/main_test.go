package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRooms struct {
	ids    []string
	err    error
	dryRun bool
}

func (f *fakeRooms) PruneInactive(_ context.Context, _ time.Time, dryRun bool) ([]string, error) {
	f.dryRun = dryRun
	return f.ids, f.err
}

type fakeCache struct {
	evicted []string
	failOn  string
}

func (f *fakeCache) Evict(_ context.Context, roomID string) error {
	if roomID == f.failOn {
		return errors.New("redis down")
	}
	f.evicted = append(f.evicted, roomID)
	return nil
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Now()

	t.Run("evicts every pruned room", func(t *testing.T) {
		rooms := &fakeRooms{ids: []string{"a", "b"}}
		c := &fakeCache{}
		ids, err := prune(ctx, rooms, c, cutoff, false)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, ids)
		assert.Equal(t, []string{"a", "b"}, c.evicted)
	})

	t.Run("dry run leaves the cache alone", func(t *testing.T) {
		rooms := &fakeRooms{ids: []string{"a"}}
		c := &fakeCache{}
		ids, err := prune(ctx, rooms, c, cutoff, true)
		require.NoError(t, err)
		assert.True(t, rooms.dryRun)
		assert.Equal(t, []string{"a"}, ids)
		assert.Empty(t, c.evicted)
	})

	t.Run("without redis", func(t *testing.T) {
		ids, err := prune(ctx, &fakeRooms{ids: []string{"a"}}, nil, cutoff, false)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, ids)
	})

	t.Run("database error skips eviction", func(t *testing.T) {
		c := &fakeCache{}
		_, err := prune(ctx, &fakeRooms{err: errors.New("boom")}, c, cutoff, false)
		assert.Error(t, err)
		assert.Empty(t, c.evicted)
	})

	t.Run("eviction error is reported", func(t *testing.T) {
		c := &fakeCache{failOn: "b"}
		ids, err := prune(ctx, &fakeRooms{ids: []string{"a", "b"}}, c, cutoff, false)
		assert.ErrorContains(t, err, "evict cached room b")
		assert.Equal(t, []string{"a", "b"}, ids)
		assert.Equal(t, []string{"a"}, c.evicted)
	})
}
