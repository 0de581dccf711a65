package openai

import (
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/fleetserve/servingplane/runtime/cluster"
)

// drainStream reads every chunk off stream, forwarding text deltas to
// onToken and accumulating the full response text.
func drainStream(stream *ssestream.Stream[sdk.ChatCompletionChunk], onToken func(cluster.TokenEvent) error) (string, error) {
	defer func() { _ = stream.Close() }()

	var full strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if delta := choice.Delta.Content; delta != "" {
			full.WriteString(delta)
			if err := onToken(cluster.TokenEvent{Text: delta}); err != nil {
				return full.String(), err
			}
		}
		if choice.FinishReason != "" {
			if err := onToken(cluster.TokenEvent{Done: true}); err != nil {
				return full.String(), err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return full.String(), err
	}
	return full.String(), nil
}
