package mcp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestNormalizeToolResultEmptyContentBecomesPlaceholder(t *testing.T) {
	result := normalizeToolResult(toolsCallResult{Content: nil})
	assert.Len(t, result.Content, 1)
	assert.Equal(t, ContentText, result.Content[0].Kind)
	assert.Equal(t, emptyResultText, result.Content[0].Text)
}

func TestNormalizeToolResultBlankTextBecomesPlaceholder(t *testing.T) {
	result := normalizeToolResult(toolsCallResult{Content: []contentItem{{Type: "text", Text: strPtr("")}}})
	assert.Len(t, result.Content, 1)
	assert.Equal(t, emptyResultText, result.Content[0].Text)
}

func TestNormalizeToolResultDetectsJSONMimeType(t *testing.T) {
	result := normalizeToolResult(toolsCallResult{
		Content: []contentItem{{Type: "text", Text: strPtr(`{"ok":true}`), MimeType: strPtr("application/json")}},
	})
	assert.Len(t, result.Content, 1)
	assert.Equal(t, ContentJSON, result.Content[0].Kind)
	assert.JSONEq(t, `{"ok":true}`, string(result.Content[0].JSON))
}

func TestNormalizeToolResultFallsBackToTextOnInvalidJSON(t *testing.T) {
	result := normalizeToolResult(toolsCallResult{
		Content: []contentItem{{Type: "text", Text: strPtr("not json"), MimeType: strPtr("application/json")}},
	})
	assert.Len(t, result.Content, 1)
	assert.Equal(t, ContentText, result.Content[0].Kind)
	assert.Equal(t, "not json", result.Content[0].Text)
}

func TestNormalizeToolResultPreservesIsError(t *testing.T) {
	result := normalizeToolResult(toolsCallResult{Content: []contentItem{{Type: "text", Text: strPtr("boom")}}, IsError: true})
	assert.True(t, result.IsError)
}

func TestCallerErrorConvertsRPCError(t *testing.T) {
	rpcErr := &rpcError{Code: JSONRPCInvalidParams, Message: "bad params"}
	err := rpcErr.callerError()
	assert.Equal(t, JSONRPCInvalidParams, err.Code)
	assert.Equal(t, "bad params", err.Message)
}

func TestRPCResponseDecodesError(t *testing.T) {
	var resp rpcResponse
	raw := `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid params"}}`
	assert := assert.New(t)
	assert.NoError(json.Unmarshal([]byte(raw), &resp))
	assert.NotNil(resp.Error)
	assert.Equal(-32602, resp.Error.Code)
}
