package anthropic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

type fakeMessages struct {
	newErr  error
	newResp *sdk.Message
}

func (f *fakeMessages) New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error) {
	if f.newErr != nil {
		return nil, f.newErr
	}
	if f.newResp != nil {
		return f.newResp, nil
	}
	return &sdk.Message{}, nil
}

func (f *fakeMessages) NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	return ssestream.NewStream[sdk.MessageStreamEventUnion](&testDecoder{}, nil)
}

func TestNewRejectsNilMessagesClient(t *testing.T) {
	_, err := New(nil, Options{})
	assert.Error(t, err)
}

func TestIsAvailableFailsWithNoModelsConfigured(t *testing.T) {
	c, err := New(&fakeMessages{}, Options{})
	require.NoError(t, err)
	ok, err := c.IsAvailable(context.Background())
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestIsAvailableSucceedsOnSuccessfulProbe(t *testing.T) {
	c, err := New(&fakeMessages{}, Options{Models: []string{"claude-test"}})
	require.NoError(t, err)
	ok, err := c.IsAvailable(context.Background())
	assert.True(t, ok)
	assert.NoError(t, err)
}

func TestIsAvailablePropagatesProbeFailure(t *testing.T) {
	c, err := New(&fakeMessages{newErr: errors.New("boom")}, Options{Models: []string{"claude-test"}})
	require.NoError(t, err)
	ok, err := c.IsAvailable(context.Background())
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestListModelsReturnsConfiguredSet(t *testing.T) {
	c, err := New(&fakeMessages{}, Options{Models: []string{"a", "b"}})
	require.NoError(t, err)
	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "a", models[0].Name)
}

func TestWebSearchIsUnsupported(t *testing.T) {
	c, err := New(&fakeMessages{}, Options{Models: []string{"a"}})
	require.NoError(t, err)
	_, err = c.WebSearch(context.Background(), "query", 5)
	assert.Error(t, err)
}
