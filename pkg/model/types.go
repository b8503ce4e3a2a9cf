package model

import (
	"context"
	"strings"
)

// Model is the black-box model provider contract the agent loop drives:
// {createMessage(messages, tools, system) -> {content, stopReason, usage}}.
type Model interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	CompleteStream(ctx context.Context, req Request, cb StreamHandler) error
}

// Request captures one model call: the message history, available tools,
// and system prompt, plus per-call overrides.
type Request struct {
	Messages          []Message
	System            string
	Model             string
	MaxTokens         int
	Temperature       *float64
	Tools             []ToolDefinition
	SessionID         string
	EnablePromptCache bool
	ReasoningEffort   string
}

// ToolDefinition is the JSON-schema view of a tool handed to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Response is the provider's reply to a Request: a finished assistant
// message plus usage and the reason generation stopped.
type Response struct {
	Message    Message
	Usage      Usage
	StopReason string
}

// Message is the provider-facing message shape used to build wire requests
// and to surface finished assistant turns. It mirrors the flattened fields
// providers speak natively (role/text/tool-calls/reasoning) rather than the
// conversation-level tagged ContentBlock union in pkg/message; the bridge
// lives in pkg/api's convertMessages/convertAPIContentBlocks helpers.
type Message struct {
	Role             string
	Content          string
	ContentBlocks    []ContentBlock
	ToolCalls        []ToolCall
	ReasoningContent string
}

// TextContent returns the concatenated text of m's ContentBlocks, falling
// back to Content when there are no text blocks.
func (m Message) TextContent() string {
	var sb strings.Builder
	for _, b := range m.ContentBlocks {
		if b.Type == ContentBlockText {
			sb.WriteString(b.Text)
		}
	}
	if sb.Len() == 0 {
		return m.Content
	}
	return sb.String()
}

// ContentBlockType discriminates ContentBlock's kind.
type ContentBlockType string

const (
	ContentBlockText     ContentBlockType = "text"
	ContentBlockImage    ContentBlockType = "image"
	ContentBlockDocument ContentBlockType = "document"
)

// ContentBlock is multimodal request content (image/document/text) attached
// to a user message.
type ContentBlock struct {
	Type      ContentBlockType
	Text      string
	MediaType string
	Data      string
	URL       string
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
	Result    string
}

// Usage records token accounting for a single model call.
type Usage struct {
	InputTokens         int
	OutputTokens        int
	TotalTokens         int
	CacheReadTokens     int
	CacheCreationTokens int
}

// StreamResult is a single increment delivered to a StreamHandler while a
// CompleteStream call is in flight: either a text delta, a finished tool
// call, or (when Final is true) the assembled terminal Response.
type StreamResult struct {
	Delta    string
	ToolCall *ToolCall
	Final    bool
	Response *Response
}

// StreamHandler receives incremental StreamResults from CompleteStream.
// Returning a non-nil error aborts the stream.
type StreamHandler func(StreamResult) error
