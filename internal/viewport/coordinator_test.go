package viewport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-backend/internal/event"
)

type stubPublisher struct {
	published []event.Viewport
	drop      bool
}

func (p *stubPublisher) Publish(typ event.Type, payload any) (bool, error) {
	if p.drop {
		return false, nil
	}
	p.published = append(p.published, payload.(event.Viewport))
	return true, nil
}

func remote(owner string, v event.Viewport) *event.Envelope {
	env := event.MustNew(event.TypeViewport, "room", v)
	env.From = owner
	return env
}

func TestBroadcast_RejectsNonPositiveZoom(t *testing.T) {
	pub := &stubPublisher{}
	c := NewCoordinator(pub)

	_, err := c.Broadcast(event.Viewport{Zoom: 0})
	assert.ErrorIs(t, err, event.ErrInvalidViewport)
	_, err = c.Broadcast(event.Viewport{Zoom: -1})
	assert.ErrorIs(t, err, event.ErrInvalidViewport)
	assert.Empty(t, pub.published)
}

func TestBroadcast_UpdatesLocalEvenWhenThrottled(t *testing.T) {
	pub := &stubPublisher{drop: true}
	c := NewCoordinator(pub)

	sent, err := c.Broadcast(event.Viewport{Zoom: 2, OffsetX: 10})
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Equal(t, event.Viewport{Zoom: 2, OffsetX: 10}, c.Local())
}

func TestFollow(t *testing.T) {
	pub := &stubPublisher{}
	c := NewCoordinator(pub)

	var changed []event.Viewport
	c.OnChange(func(v event.Viewport) { changed = append(changed, v) })

	applied, err := c.ApplyRemote(remote("u2", event.Viewport{Zoom: 3}))
	require.NoError(t, err)
	assert.False(t, applied, "not following anyone")

	c.SetFollow("u2")
	applied, err = c.ApplyRemote(remote("u3", event.Viewport{Zoom: 4}))
	require.NoError(t, err)
	assert.False(t, applied, "viewport from someone else")

	applied, err = c.ApplyRemote(remote("u2", event.Viewport{Zoom: 5, OffsetY: 7}))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, event.Viewport{Zoom: 5, OffsetY: 7}, c.Local())

	c.SetFollow("")
	applied, _ = c.ApplyRemote(remote("u2", event.Viewport{Zoom: 6}))
	assert.False(t, applied)
	assert.Len(t, changed, 1)

	// follow never touches the network
	assert.Empty(t, pub.published)
}

func TestFollow_TargetDeparts(t *testing.T) {
	c := NewCoordinator(&stubPublisher{})
	c.SetFollow("u2")
	c.OwnerDeparted("u3")
	assert.Equal(t, "u2", c.Following())
	c.OwnerDeparted("u2")
	assert.Equal(t, "", c.Following())
}
