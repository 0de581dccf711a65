package bedrock

import (
	"fmt"
	"strings"

	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/fleetserve/servingplane/runtime/cluster"
)

// drainStream reads every event off out's event stream, forwarding text
// deltas to onToken and accumulating the full response text.
func drainStream(out StreamOutput, onToken func(cluster.TokenEvent) error) (string, error) {
	stream := out.GetStream()
	defer func() { _ = stream.Close() }()

	var full strings.Builder
	for event := range stream.Events() {
		switch ev := event.(type) {
		case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
			if textDelta, ok := ev.Value.Delta.(*brtypes.ContentBlockDeltaMemberText); ok && textDelta.Value != "" {
				full.WriteString(textDelta.Value)
				if err := onToken(cluster.TokenEvent{Text: textDelta.Value}); err != nil {
					return full.String(), err
				}
			}
		case *brtypes.ConverseStreamOutputMemberMessageStop:
			if err := onToken(cluster.TokenEvent{Done: true}); err != nil {
				return full.String(), err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return full.String(), fmt.Errorf("bedrock nodeclient: stream: %w", err)
	}
	return full.String(), nil
}
