package decode

import "encoding/json"

// ContentBlock is one block of a streaming assistant message. Type
// discriminates which fields are meaningful (text, thinking, tool_use,
// tool_result, image), mirroring the content-block union in the data model.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text      string   `json:"text,omitempty"`
	Citations []string `json:"citations,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_use streaming internals: whether the final content_block_stop
	// resolved the accumulated input as malformed (spec's open-question
	// fallback: empty object + flag). The raw input_json_delta buffer is
	// kept in Decoder.toolBuf; rawInput is not written by the decoder.
	rawInput  string
	malformed bool

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Malformed reports whether a finalized tool_use block's accumulated JSON
// buffer failed to parse even after the content_block_stop tolerant-parse
// attempt (input falls back to {} in this case).
func (b ContentBlock) Malformed() bool { return b.malformed }

// Usage tracks token accounting merged from message_start/message_delta.
type Usage struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// MessageState is the accumulated snapshot of one streaming assistant
// message, rebuilt incrementally as events arrive.
type MessageState struct {
	ID         string         `json:"id,omitempty"`
	Role       string         `json:"role,omitempty"`
	Model      string         `json:"model,omitempty"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason,omitempty"`
	StopSeq    string         `json:"stop_sequence,omitempty"`
	Usage      Usage          `json:"usage"`
}

// wire payload shapes decoded from SSEEvent.Data.

type wireMessageStart struct {
	Message struct {
		ID    string `json:"id"`
		Role  string `json:"role"`
		Model string `json:"model"`
		Usage Usage  `json:"usage"`
	} `json:"message"`
}

type wireContentBlockStart struct {
	Index        int             `json:"index"`
	ContentBlock json.RawMessage `json:"content_block"`
}

type wireContentBlockDelta struct {
	Index int       `json:"index"`
	Delta wireDelta `json:"delta"`
}

type wireDelta struct {
	Type        string          `json:"type"`
	Text        string          `json:"text,omitempty"`
	Thinking    string          `json:"thinking,omitempty"`
	PartialJSON string          `json:"partial_json,omitempty"`
	Citation    json.RawMessage `json:"citation,omitempty"`
	Signature   string          `json:"signature,omitempty"`
}

type wireContentBlockStop struct {
	Index int `json:"index"`
}

type wireMessageDelta struct {
	Delta struct {
		StopReason string `json:"stop_reason"`
		StopSeq    string `json:"stop_sequence"`
	} `json:"delta"`
	Usage Usage `json:"usage"`
}
