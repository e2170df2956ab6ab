package event

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_RejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"teleport","roomId":"r1"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeClient(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantErr error
	}{
		{"upsert ok", `{"type":"object-upsert","roomId":"r","payload":{"id":"a","kind":"path","points":[1,2]}}`, nil},
		{"upsert unknown kind", `{"type":"object-upsert","roomId":"r","payload":{"id":"a","kind":"blob"}}`, ErrInvalidPayload},
		{"upsert missing id", `{"type":"object-upsert","roomId":"r","payload":{"kind":"text"}}`, ErrInvalidPayload},
		{"upsert id at limit", `{"type":"object-upsert","roomId":"r","payload":{"id":"` + strings.Repeat("a", MaxObjectIDLength) + `","kind":"text"}}`, nil},
		{"upsert id too long", `{"type":"object-upsert","roomId":"r","payload":{"id":"` + strings.Repeat("a", MaxObjectIDLength+1) + `","kind":"text"}}`, ErrInvalidPayload},
		{"delete missing id", `{"type":"object-delete","roomId":"r","payload":{}}`, ErrInvalidPayload},
		{"delete id too long", `{"type":"object-delete","roomId":"r","payload":{"id":"` + strings.Repeat("a", MaxObjectIDLength+1) + `"}}`, ErrInvalidPayload},
		{"clear without payload", `{"type":"clear","roomId":"r"}`, nil},
		{"viewport zero zoom", `{"type":"viewport","roomId":"r","payload":{"zoom":0}}`, ErrInvalidPayload},
		{"viewport ok", `{"type":"viewport","roomId":"r","payload":{"zoom":1.5,"offsetX":3}}`, nil},
		{"offer without target", `{"type":"signal-offer","roomId":"r","payload":{"sdp":{"type":"offer","sdp":"v=0"}}}`, ErrMissingTarget},
		{"offer ok", `{"type":"signal-offer","roomId":"r","to":"s2","payload":{"sdp":{"type":"offer","sdp":"v=0"}}}`, nil},
		{"server event from client", `{"type":"room-snapshot","roomId":"r","payload":{}}`, ErrNotClientEvent},
		{"empty chat", `{"type":"chat-append","roomId":"r","payload":{"text":""}}`, ErrInvalidPayload},
		{"missing room", `{"type":"clear"}`, ErrInvalidRoomID},
		{"room with slash", `{"type":"clear","roomId":"a/b"}`, ErrInvalidRoomID},
		{"unknown view", `{"type":"view-change","roomId":"r","payload":{"view":"slides"}}`, ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeClient([]byte(tt.frame))
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestObject_KeepsFullValue(t *testing.T) {
	frame := `{"type":"object-upsert","roomId":"r","payload":{"id":"s1","kind":"shape","w":10,"style":{"fill":"#fff"}}}`
	env, err := DecodeClient([]byte(frame))
	require.NoError(t, err)

	obj, err := PayloadOf[Object](env)
	require.NoError(t, err)
	assert.Equal(t, "s1", obj.ID)
	assert.Equal(t, KindShape, obj.Kind)

	out, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"s1","kind":"shape","w":10,"style":{"fill":"#fff"}}`, string(out))
}

func TestTraits(t *testing.T) {
	for _, typ := range []Type{TypeCursor, TypeSelection, TypeTyping, TypeStrokeUpdate, TypeViewport} {
		assert.Equal(t, Volatile, typ.Delivery(), typ)
		assert.False(t, typ.Durable(), typ)
	}
	for _, typ := range []Type{TypeObjectUpsert, TypeObjectDelete, TypeClear, TypeCodeReplace, TypeChatAppend} {
		assert.Equal(t, Reliable, typ.Delivery(), typ)
		assert.True(t, typ.Durable(), typ)
	}
	assert.Equal(t, Reliable, TypeStrokeStart.Delivery())
	assert.Equal(t, Reliable, TypeStrokeEnd.Delivery())
	assert.True(t, TypeSignalCandidate.Targeted())
	assert.False(t, TypeParticipantLeft.FromClient())
}

func TestNewObject(t *testing.T) {
	obj, err := NewObject("t1", KindText, map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"t1","kind":"text","text":"hi"}`, string(obj.Raw))

	_, err = NewObject("", KindText, nil)
	assert.Error(t, err)
}
