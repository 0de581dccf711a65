package mcp

import "encoding/json"

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      uint64 `json:"id"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      uint64          `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) callerError() *Error {
	if e == nil {
		return nil
	}
	return &Error{Code: e.Code, Message: e.Message}
}

type toolsCallResult struct {
	Content []contentItem `json:"content"`
	IsError bool          `json:"isError"`
}

type contentItem struct {
	Type     string  `json:"type"`
	Text     *string `json:"text"`
	MimeType *string `json:"mimeType"`
}

// normalizeToolResult maps the wire shape onto Result. An empty content
// list is rewritten to a single "(empty result)" text chunk (spec §4.7)
// rather than treated as a transport failure.
func normalizeToolResult(raw toolsCallResult) Result {
	if len(raw.Content) == 0 {
		return Result{Content: []Content{{Kind: ContentText, Text: emptyResultText}}, IsError: raw.IsError}
	}
	out := make([]Content, 0, len(raw.Content))
	for _, item := range raw.Content {
		text := ""
		if item.Text != nil {
			text = *item.Text
		}
		if item.MimeType != nil && *item.MimeType == "application/json" && json.Valid([]byte(text)) {
			out = append(out, Content{Kind: ContentJSON, JSON: json.RawMessage(text)})
			continue
		}
		if text == "" {
			text = emptyResultText
		}
		out = append(out, Content{Kind: ContentText, Text: text})
	}
	return Result{Content: out, IsError: raw.IsError}
}
