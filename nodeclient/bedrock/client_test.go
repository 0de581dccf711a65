package bedrock

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/fleetserve/servingplane/runtime/cluster"
)

type mockRuntime struct {
	converseOut *bedrockruntime.ConverseOutput
	converseErr error

	streamOut StreamOutput
	streamErr error
}

func (m *mockRuntime) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	if m.converseErr != nil {
		return nil, m.converseErr
	}
	if m.converseOut != nil {
		return m.converseOut, nil
	}
	return &bedrockruntime.ConverseOutput{}, nil
}

func (m *mockRuntime) ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (StreamOutput, error) {
	if m.streamErr != nil {
		return nil, m.streamErr
	}
	return m.streamOut, nil
}

type fakeStreamReader struct {
	events chan brtypes.ConverseStreamOutput
	err    error
}

func (r *fakeStreamReader) Events() <-chan brtypes.ConverseStreamOutput { return r.events }
func (r *fakeStreamReader) Close() error                                { return nil }
func (r *fakeStreamReader) Err() error                                  { return r.err }

type fakeStreamOutput struct {
	stream *bedrockruntime.ConverseStreamEventStream
}

func (f *fakeStreamOutput) GetStream() *bedrockruntime.ConverseStreamEventStream { return f.stream }

func newFakeStreamOutput(events []brtypes.ConverseStreamOutput, err error) *fakeStreamOutput {
	ch := make(chan brtypes.ConverseStreamOutput, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	reader := &fakeStreamReader{events: ch, err: err}
	stream := bedrockruntime.NewConverseStreamEventStream(func(es *bedrockruntime.ConverseStreamEventStream) {
		es.Reader = reader
	})
	return &fakeStreamOutput{stream: stream}
}

func TestIsAvailableFailsWithNoModelsConfigured(t *testing.T) {
	c, err := New(Options{Runtime: &mockRuntime{}})
	require.NoError(t, err)
	ok, err := c.IsAvailable(context.Background())
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestIsAvailableSucceedsOnSuccessfulProbe(t *testing.T) {
	c, err := New(Options{Runtime: &mockRuntime{}, Models: []string{"anthropic.claude-test"}})
	require.NoError(t, err)
	ok, err := c.IsAvailable(context.Background())
	assert.True(t, ok)
	assert.NoError(t, err)
}

func TestIsAvailablePropagatesProbeFailure(t *testing.T) {
	c, err := New(Options{Runtime: &mockRuntime{converseErr: errors.New("boom")}, Models: []string{"m"}})
	require.NoError(t, err)
	ok, err := c.IsAvailable(context.Background())
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestGenerateForwardsTextDeltasFromConverseStream(t *testing.T) {
	events := []brtypes.ConverseStreamOutput{
		&brtypes.ConverseStreamOutputMemberContentBlockDelta{
			Value: brtypes.ContentBlockDeltaEvent{
				Delta: &brtypes.ContentBlockDeltaMemberText{Value: "hel"},
			},
		},
		&brtypes.ConverseStreamOutputMemberContentBlockDelta{
			Value: brtypes.ContentBlockDeltaEvent{
				Delta: &brtypes.ContentBlockDeltaMemberText{Value: "lo"},
			},
		},
		&brtypes.ConverseStreamOutputMemberMessageStop{},
	}
	runtime := &mockRuntime{streamOut: newFakeStreamOutput(events, nil)}
	c, err := New(Options{Runtime: runtime, Models: []string{"m"}})
	require.NoError(t, err)

	var got []cluster.TokenEvent
	full, err := c.Generate(context.Background(), "m", cluster.GenerateRequest{Message: "hi"}, func(ev cluster.TokenEvent) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", full)
	require.Len(t, got, 3)
	assert.True(t, got[2].Done)
}

func TestWebSearchIsUnsupported(t *testing.T) {
	c, err := New(Options{Runtime: &mockRuntime{}, Models: []string{"m"}})
	require.NoError(t, err)
	_, err = c.WebSearch(context.Background(), "q", 1)
	assert.Error(t, err)
}
