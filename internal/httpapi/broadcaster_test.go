package httpapi

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/pose-coach/internal/session"
)

func event(t *testing.T, sessionID string, seq uint64) *SerializedEvent {
	t.Helper()
	ev, err := Serialize(session.Payload{OK: true, Session: sessionID, Seq: seq})
	require.NoError(t, err)
	return ev
}

func TestSerializeFormats(t *testing.T) {
	ev := event(t, "s1", 7)

	payload := decodeJSONMap(t, ev.JSONData)
	assert.Equal(t, "s1", payload["session"])
	assert.Equal(t, float64(7), payload["seq"])

	data, err := base64.StdEncoding.DecodeString(string(ev.ProtobufData))
	require.NoError(t, err)
	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(data, &st))
	assert.Equal(t, float64(7), st.AsMap()["seq"])
}

func TestBroadcasterFiltersBySession(t *testing.T) {
	b := NewPayloadBroadcaster(nil)
	allID, all := b.Subscribe("")
	_, one := b.Subscribe("s1")
	require.Equal(t, 2, b.ClientCount())

	b.Broadcast(event(t, "s1", 1))
	b.Broadcast(event(t, "s2", 1))

	assert.Len(t, all, 2)
	require.Len(t, one, 1)
	assert.Equal(t, "s1", (<-one).Payload.Session)

	b.Unsubscribe(allID)
	_, open := <-all
	assert.True(t, open, "buffered events are still readable")
	assert.Equal(t, 1, b.ClientCount())
}

func TestBroadcasterDropsForSlowClients(t *testing.T) {
	b := NewPayloadBroadcaster(nil)
	_, ch := b.Subscribe("s1")
	for i := range 10 {
		b.Broadcast(event(t, "s1", uint64(i+1)))
	}
	assert.Len(t, ch, cap(ch))
	assert.Equal(t, uint64(1), (<-ch).Payload.Seq)
}

func TestBroadcasterEndSession(t *testing.T) {
	b := NewPayloadBroadcaster(nil)
	_, s1 := b.Subscribe("s1")
	_, all := b.Subscribe("")

	b.EndSession("s1")
	_, open := <-s1
	assert.False(t, open)
	assert.Equal(t, 1, b.ClientCount())

	b.Broadcast(event(t, "s2", 1))
	assert.Len(t, all, 1)
}
