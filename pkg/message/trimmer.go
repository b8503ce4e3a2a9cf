package message

// TokenCounter returns an estimated token cost for a message.
type TokenCounter interface {
	Count(msg Message) int
}

// Estimation constants. The estimator is cheap and local, used for
// budgeting only; authoritative counts come from server usage.
const (
	// asciiCharsPerToken approximates English text at one token per
	// four characters.
	asciiCharsPerToken = 4
	// imageTokens is the flat cost of an image block; no dimension
	// information survives to this layer, so the fixed figure applies.
	imageTokens = 1500
	// perMessageOverhead covers role and framing around each message.
	perMessageOverhead = 4
)

// NaiveCounter approximates tokens from text shape: ASCII runs cost about
// one token per four characters, non-ASCII runes cost a full token each
// (CJK and similar scripts tokenize near one token per character), images
// cost a flat amount, and every message carries a small framing overhead.
type NaiveCounter struct{}

// estimateText prices a string by splitting it into ASCII and non-ASCII
// runes and weighting the two separately.
func estimateText(s string) int {
	ascii, other := 0, 0
	for _, r := range s {
		if r < 128 {
			ascii++
		} else {
			other++
		}
	}
	return ascii/asciiCharsPerToken + other
}

// Count implements TokenCounter.
func (NaiveCounter) Count(msg Message) int {
	tokens := perMessageOverhead
	tokens += estimateText(msg.Content)
	for _, block := range msg.ContentBlocks {
		switch block.Type {
		case ContentBlockText:
			tokens += estimateText(block.Text)
		case ContentBlockImage:
			tokens += imageTokens
		default:
			// Other block kinds (documents and the like) are priced by
			// their payload text.
			tokens += estimateText(block.Data)
		}
	}
	for _, call := range msg.ToolCalls {
		tokens += estimateText(call.Name)
		for k, v := range call.Arguments {
			tokens += estimateText(k)
			if s, ok := v.(string); ok {
				tokens += estimateText(s)
			} else {
				tokens++
			}
		}
		tokens += estimateText(call.Result)
	}
	tokens += estimateText(msg.ReasoningContent)
	return tokens
}

// Trimmer removes the oldest messages when the estimated token budget exceeds
// MaxTokens. The newest messages are preserved.
type Trimmer struct {
	MaxTokens int
	Counter   TokenCounter
}

// NewTrimmer constructs a Trimmer with the provided token limit. When counter
// is nil a NaiveCounter is used.
func NewTrimmer(limit int, counter TokenCounter) *Trimmer {
	if counter == nil {
		counter = NaiveCounter{}
	}
	return &Trimmer{MaxTokens: limit, Counter: counter}
}

// Trim returns a trimmed copy of messages that fits within the token limit. If
// the limit is zero or negative an empty slice is returned.
func (t *Trimmer) Trim(history []Message) []Message {
	if t == nil || t.MaxTokens <= 0 {
		return []Message{}
	}

	counter := t.Counter
	if counter == nil {
		counter = NaiveCounter{}
	}

	tokens := 0
	kept := make([]Message, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		candidate := history[i]
		cost := counter.Count(candidate)
		if tokens+cost > t.MaxTokens {
			break
		}
		kept = append(kept, CloneMessage(candidate))
		tokens += cost
	}

	// Reverse to restore chronological order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}
