package decode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/hearthlabs/agentloop/internal/obs"
)

// eventQueueCap bounds the decoder's internal event queue. On overflow the
// oldest queued event is dropped (logged at warn); downstream sees a
// message-shape inconsistency, itself reported as an error.
const eventQueueCap = 100

// ErrFatal wraps a terminal decoder error (malformed block ordering, index
// out of range, etc). Aborted/ended/errored are terminal states; no
// callbacks fire after one.
type ErrFatal struct {
	Reason string
}

func (e *ErrFatal) Error() string { return "decode: " + e.Reason }

// Callbacks receives the decoder's notifications. Any of these may be nil.
type Callbacks struct {
	OnText         func(delta string, snapshot *MessageState)
	OnContentBlock func(index int, block ContentBlock)
	OnInputJSON    func(index int, partial string, current map[string]any)
	OnMessage      func(final *MessageState)
	OnAbort        func()
	OnError        func(err error)
	OnHeartbeat    func()
}

// Options configures optional timeout/heartbeat behavior.
type Options struct {
	// Timeout bounds the whole decode; zero disables it.
	Timeout time.Duration
	// HeartbeatIdle fires OnHeartbeat when no bytes arrive for this long;
	// zero disables heartbeat monitoring.
	HeartbeatIdle time.Duration
	// HeartbeatTimeout fires OnError(heartbeat timeout) when idle exceeds
	// this larger threshold; zero disables it.
	HeartbeatTimeout time.Duration
}

type decoderState int

const (
	stateRunning decoderState = iota
	stateAborted
	stateEnded
	stateErrored
)

// Decoder reduces a byte stream carrying SSE-framed events into MessageState
// snapshots. One Decoder is driven by one producer; it is not safe for
// concurrent Feed calls.
type Decoder struct {
	cb   Callbacks
	opts Options
	log  zerolog.Logger

	lines lineDecoder
	sse   sseEventDecoder
	queue chan SSEEvent

	current *MessageState
	toolBuf map[int]*string // raw input_json_delta accumulation, keyed by block index

	state      decoderState
	abortOnce  bool
	doneCh     chan struct{}
	cancelOnce bool
}

// New constructs a Decoder. A nil Callbacks is treated as all-no-op.
func New(cb Callbacks, opts Options) *Decoder {
	return &Decoder{
		cb:      cb,
		opts:    opts,
		log:     obs.Logger().With().Str("component", "decode").Logger(),
		queue:   make(chan SSEEvent, eventQueueCap),
		toolBuf: make(map[int]*string),
		doneCh:  make(chan struct{}),
	}
}

// Run drives the decoder to completion (or abort/error/timeout) reading from
// r. It is the single entry point; Run blocks until the stream ends or ctx
// is canceled.
func (d *Decoder) Run(ctx context.Context, r io.Reader) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	byteCh := make(chan []byte, 1)
	errCh := make(chan error, 1)
	go d.readLoop(r, byteCh, errCh)

	var idleTimer, hbTimer *time.Timer
	var idleC, hbC <-chan time.Time
	if d.opts.HeartbeatIdle > 0 {
		idleTimer = time.NewTimer(d.opts.HeartbeatIdle)
		idleC = idleTimer.C
		defer idleTimer.Stop()
	}
	if d.opts.HeartbeatTimeout > 0 {
		hbTimer = time.NewTimer(d.opts.HeartbeatTimeout)
		hbC = hbTimer.C
		defer hbTimer.Stop()
	}
	resetTimer := func(t *time.Timer, d time.Duration) {
		if t == nil {
			return
		}
		if !t.Stop() {
			select {
			case <-t.C:
			default:
			}
		}
		t.Reset(d)
	}

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && d.opts.Timeout > 0 {
				d.fail(fmt.Errorf("decode: timeout"))
				return ctx.Err()
			}
			d.abort()
			return ctx.Err()
		case <-idleC:
			if d.cb.OnHeartbeat != nil {
				d.cb.OnHeartbeat()
			}
			resetTimer(idleTimer, d.opts.HeartbeatIdle)
		case <-hbC:
			d.fail(fmt.Errorf("decode: heartbeat timeout"))
			return &ErrFatal{Reason: "heartbeat timeout"}
		case chunk, ok := <-byteCh:
			if !ok {
				continue
			}
			resetTimer(idleTimer, d.opts.HeartbeatIdle)
			resetTimer(hbTimer, d.opts.HeartbeatTimeout)
			if err := d.feed(chunk); err != nil {
				d.fail(err)
				return err
			}
		case err := <-errCh:
			if err == nil || err == io.EOF {
				d.finish()
				return nil
			}
			d.fail(err)
			return err
		}
	}
}

func (d *Decoder) readLoop(r io.Reader, byteCh chan<- []byte, errCh chan<- error) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			byteCh <- chunk
		}
		if err != nil {
			errCh <- err
			return
		}
	}
}

// feed processes one chunk of bytes through the line/SSE/state layers.
func (d *Decoder) feed(chunk []byte) error {
	if d.state != stateRunning {
		return nil
	}
	for _, line := range d.lines.feed(chunk) {
		if err := d.feedLine(line); err != nil {
			return err
		}
	}
	return nil
}

func (d *Decoder) feedLine(line string) error {
	evt, ok := d.sse.feed(line)
	if !ok {
		return nil
	}
	return d.enqueue(evt)
}

// enqueue pushes an event onto the bounded queue, dropping the oldest event
// on overflow (logged), then drains synchronously (single-threaded
// cooperative dispatch — no concurrent handler execution).
func (d *Decoder) enqueue(evt SSEEvent) error {
	select {
	case d.queue <- evt:
	default:
		select {
		case dropped := <-d.queue:
			d.log.Warn().Str("dropped_event", dropped.Event).Msg("decode: event queue overflow, dropping oldest event")
		default:
		}
		select {
		case d.queue <- evt:
		default:
			// Still full (pathological producer outracing us); drop the new one too.
			d.log.Warn().Str("dropped_event", evt.Event).Msg("decode: event queue overflow, dropping newest event")
			return nil
		}
	}
	return d.drainOne()
}

// drainOne pulls and applies exactly one event per underlying SSE dispatch,
// matching the "one producer drives the reducer" contract.
func (d *Decoder) drainOne() error {
	select {
	case evt := <-d.queue:
		return d.apply(evt)
	default:
		return nil
	}
}

func (d *Decoder) apply(evt SSEEvent) error {
	switch evt.Event {
	case "message_start":
		var w wireMessageStart
		if err := json.Unmarshal([]byte(evt.Data), &w); err != nil {
			return nil // malformed data payload: yield to consumers, not fatal
		}
		d.current = &MessageState{
			ID:    w.Message.ID,
			Role:  w.Message.Role,
			Model: w.Message.Model,
			Usage: w.Message.Usage,
		}
	case "content_block_start":
		return d.applyContentBlockStart(evt)
	case "content_block_delta":
		return d.applyContentBlockDelta(evt)
	case "content_block_stop":
		return d.applyContentBlockStop(evt)
	case "message_delta":
		d.applyMessageDelta(evt)
	case "message_stop":
		d.finish()
	case "ping":
		// keepalive, no-op
	}
	return nil
}

func (d *Decoder) applyContentBlockStart(evt SSEEvent) error {
	if d.current == nil {
		return &ErrFatal{Reason: "content_block_start before message_start"}
	}
	var w wireContentBlockStart
	if err := json.Unmarshal([]byte(evt.Data), &w); err != nil {
		return nil
	}
	var block ContentBlock
	_ = json.Unmarshal(w.ContentBlock, &block)

	idx := w.Index
	for len(d.current.Content) <= idx {
		d.current.Content = append(d.current.Content, ContentBlock{})
	}
	d.current.Content[idx] = block
	if block.Type == "tool_use" {
		buf := ""
		d.toolBuf[idx] = &buf
	}
	return nil
}

func (d *Decoder) applyContentBlockDelta(evt SSEEvent) error {
	if d.current == nil {
		return &ErrFatal{Reason: "content_block_delta before message_start"}
	}
	var w wireContentBlockDelta
	if err := json.Unmarshal([]byte(evt.Data), &w); err != nil {
		return nil
	}
	idx := w.Index
	if idx < 0 || idx >= len(d.current.Content) {
		return &ErrFatal{Reason: "content_block_delta index out of range"}
	}
	block := &d.current.Content[idx]

	switch w.Delta.Type {
	case "text_delta":
		block.Text += w.Delta.Text
		if d.cb.OnText != nil {
			d.cb.OnText(w.Delta.Text, d.current)
		}
	case "thinking_delta":
		block.Thinking += w.Delta.Thinking
	case "signature_delta":
		block.Signature = w.Delta.Signature
	case "citations_delta":
		if len(w.Delta.Citation) > 0 {
			block.Citations = append(block.Citations, string(w.Delta.Citation))
		}
	case "input_json_delta":
		bufPtr, ok := d.toolBuf[idx]
		if !ok {
			b := ""
			bufPtr = &b
			d.toolBuf[idx] = bufPtr
		}
		*bufPtr += w.Delta.PartialJSON
		if parsed, ok := tolerantParse(*bufPtr); ok {
			block.Input = parsed
			block.malformed = false
		} else {
			block.malformed = true
		}
		if d.cb.OnInputJSON != nil {
			d.cb.OnInputJSON(idx, w.Delta.PartialJSON, block.Input)
		}
	}
	return nil
}

func (d *Decoder) applyContentBlockStop(evt SSEEvent) error {
	if d.current == nil {
		return &ErrFatal{Reason: "content_block_stop before message_start"}
	}
	var w wireContentBlockStop
	if err := json.Unmarshal([]byte(evt.Data), &w); err != nil {
		return nil
	}
	idx := w.Index
	if idx < 0 || idx >= len(d.current.Content) {
		return &ErrFatal{Reason: "content_block_stop index out of range"}
	}
	block := &d.current.Content[idx]
	if bufPtr, ok := d.toolBuf[idx]; ok {
		// Authoritative commit: a buffer that is strictly valid JSON parses
		// exactly via the strict path inside tolerantParse; only a buffer
		// that is still malformed after repair falls back to {}.
		if parsed, ok := tolerantParse(*bufPtr); ok {
			block.Input = parsed
			block.malformed = false
		} else {
			block.Input = map[string]any{}
			block.malformed = true
		}
		delete(d.toolBuf, idx)
	}
	if d.cb.OnContentBlock != nil {
		d.cb.OnContentBlock(idx, *block)
	}
	return nil
}

func (d *Decoder) applyMessageDelta(evt SSEEvent) {
	if d.current == nil {
		return
	}
	var w wireMessageDelta
	if err := json.Unmarshal([]byte(evt.Data), &w); err != nil {
		return
	}
	if w.Delta.StopReason != "" {
		d.current.StopReason = w.Delta.StopReason
	}
	if w.Delta.StopSeq != "" {
		d.current.StopSeq = w.Delta.StopSeq
	}
	if w.Usage.InputTokens > 0 {
		d.current.Usage.InputTokens = w.Usage.InputTokens
	}
	if w.Usage.OutputTokens > d.current.Usage.OutputTokens {
		d.current.Usage.OutputTokens = w.Usage.OutputTokens
	}
}

func (d *Decoder) finish() {
	if d.state != stateRunning {
		return
	}
	for _, line := range d.lines.flush() {
		_ = d.feedLine(line)
	}
	d.state = stateEnded
	if d.cb.OnMessage != nil {
		d.cb.OnMessage(d.current)
	}
	close(d.doneCh)
}

func (d *Decoder) abort() {
	if d.state != stateRunning {
		return
	}
	d.state = stateAborted
	if d.cb.OnAbort != nil && !d.abortOnce {
		d.abortOnce = true
		d.cb.OnAbort()
	}
	close(d.doneCh)
}

func (d *Decoder) fail(err error) {
	if d.state != stateRunning {
		return
	}
	d.state = stateErrored
	if d.cb.OnError != nil {
		d.cb.OnError(err)
	}
	close(d.doneCh)
}

// Current returns the in-progress (or final) MessageState snapshot.
func (d *Decoder) Current() *MessageState { return d.current }
