package anthropic

import (
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/fleetserve/servingplane/runtime/cluster"
)

// drainStream reads every event off stream, forwarding text deltas to
// onToken and accumulating the full response text to return once the
// stream ends. It stops and returns promptly if onToken returns an error
// (the caller cancelled or the downstream consumer hung up).
func drainStream(stream *ssestream.Stream[sdk.MessageStreamEventUnion], onToken func(cluster.TokenEvent) error) (string, error) {
	defer func() { _ = stream.Close() }()

	var full strings.Builder
	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(sdk.TextDelta); ok && delta.Text != "" {
				full.WriteString(delta.Text)
				if err := onToken(cluster.TokenEvent{Text: delta.Text}); err != nil {
					return full.String(), err
				}
			}
		case sdk.MessageStopEvent:
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
