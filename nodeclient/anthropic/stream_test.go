package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/fleetserve/servingplane/runtime/cluster"
)

type testDecoder struct {
	events []ssestream.Event
	i      int
}

func (d *testDecoder) Event() ssestream.Event { return d.events[d.i-1] }
func (d *testDecoder) Next() bool {
	if d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}
func (d *testDecoder) Close() error { return nil }
func (d *testDecoder) Err() error   { return nil }

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func eventFrom(t *testing.T, typ string, body string) ssestream.Event {
	t.Helper()
	ev := sdk.MessageStreamEventUnion{}
	require.NoError(t, json.Unmarshal([]byte(body), &ev))
	return ssestream.Event{Type: typ, Data: mustJSON(ev)}
}

func TestDrainStreamForwardsTextDeltasAndDoneMarker(t *testing.T) {
	events := []ssestream.Event{
		eventFrom(t, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hel"}}`),
		eventFrom(t, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`),
		eventFrom(t, "message_stop", `{"type":"message_stop"}`),
	}
	dec := &testDecoder{events: events}
	stream := ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil)

	var got []cluster.TokenEvent
	full, err := drainStream(stream, func(ev cluster.TokenEvent) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", full)
	require.Len(t, got, 3)
	assert.Equal(t, "hel", got[0].Text)
	assert.Equal(t, "lo", got[1].Text)
	assert.True(t, got[2].Done)
}

func TestDrainStreamStopsOnTokenCallbackError(t *testing.T) {
	events := []ssestream.Event{
		eventFrom(t, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"a"}}`),
		eventFrom(t, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"b"}}`),
	}
	dec := &testDecoder{events: events}
	stream := ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil)

	callCount := 0
	_, err := drainStream(stream, func(ev cluster.TokenEvent) error {
		callCount++
		return assert.AnError
	})
	require.Error(t, err)
	assert.Equal(t, 1, callCount)
}
