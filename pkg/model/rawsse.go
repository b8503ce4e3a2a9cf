package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hearthlabs/agentloop/pkg/agenterr"
	"github.com/hearthlabs/agentloop/pkg/decode"
)

// RawSSEConfig configures a RawSSEModel: an Anthropic-messages-compatible
// provider that bypasses the vendor SDK's own SSE accumulator and drives
// pkg/decode directly. Some Anthropic-compatible proxies (third-party
// gateways fronting other model backends) emit SSE streams that the
// anthropic-sdk-go client's ssestream reader rejects on minor framing
// deviations; this transport only depends on the documented wire format.
type RawSSEConfig struct {
	APIKey     string
	BaseURL    string // defaults to https://api.anthropic.com
	Model      string
	MaxTokens  int
	System     string
	HTTPClient *http.Client
	Timeout    time.Duration
	// MaxRetries caps retries of retryable request failures (429, 5xx,
	// transport errors). Zero applies the default cap; negative disables
	// retries entirely.
	MaxRetries int
}

type rawSSEModel struct {
	cfg    RawSSEConfig
	client *http.Client
}

// NewRawSSE constructs a Model that talks to an Anthropic-compatible
// /v1/messages endpoint over raw HTTP, decoding the response with
// pkg/decode instead of a vendor SDK accumulator.
func NewRawSSE(cfg RawSSEConfig) Model {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 0}
	}
	return &rawSSEModel{cfg: cfg, client: client}
}

func (m *rawSSEModel) baseURL() string {
	if strings.TrimSpace(m.cfg.BaseURL) != "" {
		return strings.TrimRight(m.cfg.BaseURL, "/")
	}
	if envURL := strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL")); envURL != "" {
		return strings.TrimRight(envURL, "/")
	}
	return "https://api.anthropic.com"
}

func (m *rawSSEModel) apiKey() string {
	if key := strings.TrimSpace(m.cfg.APIKey); key != "" {
		return key
	}
	if key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); key != "" {
		return key
	}
	return strings.TrimSpace(os.Getenv("ANTHROPIC_AUTH_TOKEN"))
}

type rawWireMessage struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []rawWireTurn `json:"messages"`
	Tools     []rawWireTool `json:"tools,omitempty"`
	Stream    bool          `json:"stream"`
}

type rawWireTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type rawWireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

func (m *rawSSEModel) buildBody(req Request) ([]byte, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = m.cfg.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	model := req.Model
	if model == "" {
		model = m.cfg.Model
	}
	system := req.System
	if system == "" {
		system = m.cfg.System
	}

	turns := make([]rawWireTurn, 0, len(req.Messages))
	for _, msg := range req.Messages {
		turns = append(turns, rawWireTurn{Role: msg.Role, Content: msg.Content})
	}
	tools := make([]rawWireTool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, rawWireTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}

	body := rawWireMessage{
		Model:     model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  turns,
		Tools:     tools,
		Stream:    true,
	}
	return json.Marshal(body)
}

func (m *rawSSEModel) doRequest(ctx context.Context, req Request) (*http.Response, error) {
	body, err := m.buildBody(req)
	if err != nil {
		return nil, fmt.Errorf("rawsse: build request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL()+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rawsse: new request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("accept", "text/event-stream")
	if key := m.apiKey(); key != "" {
		httpReq.Header.Set("x-api-key", key)
		httpReq.Header.Set("authorization", "Bearer "+key)
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rawsse: do request: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return nil, &rawStatusError{code: resp.StatusCode, body: string(data)}
	}
	return resp, nil
}

type rawStatusError struct {
	code int
	body string
}

func (e *rawStatusError) Error() string {
	return fmt.Sprintf("rawsse: status %d: %s", e.code, e.body)
}

func (m *rawSSEModel) retryCap() int {
	switch {
	case m.cfg.MaxRetries < 0:
		return 0
	case m.cfg.MaxRetries == 0:
		return modelNetworkRetryCap
	default:
		return min(m.cfg.MaxRetries, modelNetworkRetryCap)
	}
}

// doRequestWithRetry applies the same backoff policy as the SDK-backed
// providers: 429 and 5xx responses and transport errors retry, anything
// else fails fast as a fatal model error.
func (m *rawSSEModel) doRequestWithRetry(ctx context.Context, req Request) (*http.Response, error) {
	attempts := 0
	for {
		resp, err := m.doRequest(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, agenterr.Wrap(agenterr.Cancelled, ctx.Err())
		}
		var statusErr *rawStatusError
		retryable := true
		if errors.As(err, &statusErr) {
			retryable = statusErr.code == http.StatusTooManyRequests || statusErr.code >= 500
		}
		if !retryable {
			return nil, agenterr.Wrap(agenterr.ModelFatalError, err)
		}
		if attempts >= m.retryCap() {
			return nil, agenterr.Wrap(agenterr.ModelNetworkError, err)
		}
		attempts++
		select {
		case <-ctx.Done():
			return nil, agenterr.Wrap(agenterr.Cancelled, ctx.Err())
		case <-time.After(backoffDelay(attempts)):
		}
	}
}

// CompleteStream drives the raw SSE body through pkg/decode, forwarding
// text deltas and finished tool calls to cb, then the terminal Response.
func (m *rawSSEModel) CompleteStream(ctx context.Context, req Request, cb StreamHandler) error {
	if cb == nil {
		return fmt.Errorf("rawsse: stream callback required")
	}
	resp, err := m.doRequestWithRetry(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var streamErr error
	cbs := decode.Callbacks{
		OnText: func(delta string, _ *decode.MessageState) {
			if streamErr != nil {
				return
			}
			streamErr = cb(StreamResult{Delta: delta})
		},
		OnContentBlock: func(_ int, block decode.ContentBlock) {
			if streamErr != nil || block.Type != "tool_use" {
				return
			}
			streamErr = cb(StreamResult{ToolCall: &ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			}})
		},
		OnMessage: func(final *decode.MessageState) {
			if streamErr != nil || final == nil {
				return
			}
			streamErr = cb(StreamResult{Final: true, Response: convertMessageState(final)})
		},
		OnError: func(err error) { streamErr = err },
	}

	opts := decode.Options{}
	if m.cfg.Timeout > 0 {
		opts.Timeout = m.cfg.Timeout
	}
	d := decode.New(cbs, opts)
	if err := d.Run(ctx, resp.Body); err != nil {
		return agenterr.Wrap(agenterr.DecoderError, fmt.Errorf("rawsse: decode: %w", err))
	}
	return streamErr
}

// Complete drains CompleteStream into a single Response, for callers that
// do not need incremental deltas.
func (m *rawSSEModel) Complete(ctx context.Context, req Request) (*Response, error) {
	var final *Response
	err := m.CompleteStream(ctx, req, func(r StreamResult) error {
		if r.Final {
			final = r.Response
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if final == nil {
		return nil, fmt.Errorf("rawsse: stream ended without a final message")
	}
	return final, nil
}

func convertMessageState(s *decode.MessageState) *Response {
	msg := Message{Role: s.Role}
	var text strings.Builder
	for _, block := range s.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	msg.Content = text.String()
	return &Response{
		Message:    msg,
		StopReason: s.StopReason,
		Usage: Usage{
			InputTokens:  s.Usage.InputTokens,
			OutputTokens: s.Usage.OutputTokens,
			TotalTokens:  s.Usage.InputTokens + s.Usage.OutputTokens,
		},
	}
}
