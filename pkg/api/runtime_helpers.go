package api

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hearthlabs/agentloop/pkg/message"
	"github.com/hearthlabs/agentloop/pkg/model"
	"github.com/hearthlabs/agentloop/pkg/sandbox"
	"github.com/hearthlabs/agentloop/pkg/tool"
)

func availableTools(registry *tool.Registry, whitelist map[string]struct{}) []model.ToolDefinition {
	if registry == nil {
		return nil
	}
	tools := registry.List()
	defs := make([]model.ToolDefinition, 0, len(tools))
	for _, impl := range tools {
		if impl == nil {
			continue
		}
		name := strings.TrimSpace(impl.Name())
		if name == "" {
			continue
		}
		canon := canonicalToolName(name)
		if canon == "" {
			continue
		}
		if len(whitelist) > 0 {
			if _, ok := whitelist[canon]; !ok {
				continue
			}
		}
		defs = append(defs, model.ToolDefinition{
			Name:        name,
			Description: strings.TrimSpace(impl.Description()),
			Parameters:  schemaToMap(impl.Schema()),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func schemaToMap(schema *tool.JSONSchema) map[string]any {
	if schema == nil {
		return nil
	}
	payload := map[string]any{}
	if schema.Type != "" {
		payload["type"] = schema.Type
	}
	if len(schema.Properties) > 0 {
		payload["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		payload["required"] = append([]string(nil), schema.Required...)
	}
	return payload
}

func convertMessages(msgs []message.Message) []model.Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]model.Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, model.Message{
			Role:             msg.Role,
			Content:          msg.Content,
			ContentBlocks:    convertContentBlocksToModel(msg.ContentBlocks),
			ToolCalls:        convertToolCalls(msg.ToolCalls),
			ReasoningContent: msg.ReasoningContent,
		})
	}
	return out
}

func convertContentBlocksToModel(blocks []message.ContentBlock) []model.ContentBlock {
	if len(blocks) == 0 {
		return nil
	}
	out := make([]model.ContentBlock, len(blocks))
	for i, b := range blocks {
		out[i] = model.ContentBlock{
			Type:      model.ContentBlockType(b.Type),
			Text:      b.Text,
			MediaType: b.MediaType,
			Data:      b.Data,
			URL:       b.URL,
		}
	}
	return out
}

func convertAPIContentBlocks(blocks []model.ContentBlock) []message.ContentBlock {
	if len(blocks) == 0 {
		return nil
	}
	out := make([]message.ContentBlock, len(blocks))
	for i, b := range blocks {
		out[i] = message.ContentBlock{
			Type:      message.ContentBlockType(b.Type),
			Text:      b.Text,
			MediaType: b.MediaType,
			Data:      b.Data,
			URL:       b.URL,
		}
	}
	return out
}

func convertToolCalls(calls []message.ToolCall) []model.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]model.ToolCall, len(calls))
	for i, call := range calls {
		out[i] = model.ToolCall{
			ID:        call.ID,
			Name:      call.Name,
			Arguments: cloneArguments(call.Arguments),
			Result:    call.Result,
		}
	}
	return out
}

func cloneArguments(args map[string]any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	dup := make(map[string]any, len(args))
	for k, v := range args {
		dup[k] = v
	}
	return dup
}

type historyStore struct {
	mu       sync.Mutex
	data     map[string]*message.History
	lastUsed map[string]time.Time
	maxSize  int
	onEvict  func(string)
	loader   func(string) ([]message.Message, error)
}

func newHistoryStore(maxSize int) *historyStore {
	if maxSize <= 0 {
		maxSize = defaultMaxSessions
	}
	return &historyStore{
		data:     map[string]*message.History{},
		lastUsed: map[string]time.Time{},
		maxSize:  maxSize,
	}
}

func (s *historyStore) Get(id string) *message.History {
	if strings.TrimSpace(id) == "" {
		id = defaultSessionID(defaultEntrypoint)
	}
	s.mu.Lock()
	now := time.Now()
	if hist, ok := s.data[id]; ok {
		s.lastUsed[id] = now
		s.mu.Unlock()
		return hist
	}
	hist := message.NewHistory()
	s.data[id] = hist
	s.lastUsed[id] = now
	onEvict := s.onEvict
	loader := s.loader
	evicted := ""
	if len(s.data) > s.maxSize {
		evicted = s.evictOldest()
	}
	s.mu.Unlock()
	if loader != nil {
		if loaded, err := loader(id); err == nil && len(loaded) > 0 {
			hist.Replace(loaded)
		}
	}
	if evicted != "" {
		cleanupToolOutputSessionDir(evicted) //nolint:errcheck
		if onEvict != nil {
			onEvict(evicted)
		}
	}
	return hist
}

func (s *historyStore) evictOldest() string {
	if len(s.data) <= s.maxSize {
		return ""
	}
	var oldestKey string
	var oldestTime time.Time
	first := true
	for id, ts := range s.lastUsed {
		if first || ts.Before(oldestTime) {
			oldestKey = id
			oldestTime = ts
			first = false
		}
	}
	if oldestKey == "" {
		return ""
	}
	delete(s.data, oldestKey)
	delete(s.lastUsed, oldestKey)
	return oldestKey
}

func (s *historyStore) SessionIDs() []string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	return ids
}

func bashOutputSessionDir(sessionID string) string {
	return filepath.Join(bashOutputBaseDir(), sanitizePathComponent(sessionID))
}

func cleanupBashOutputSessionDir(sessionID string) error {
	return os.RemoveAll(bashOutputSessionDir(sessionID))
}

func toolOutputSessionDir(sessionID string) string {
	return filepath.Join(toolOutputBaseDir(), sanitizePathComponent(sessionID))
}

func cleanupToolOutputSessionDir(sessionID string) error {
	return os.RemoveAll(toolOutputSessionDir(sessionID))
}

func sanitizePathComponent(value string) string {
	const fallback = "default"
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	sanitized := strings.Trim(b.String(), "-")
	if sanitized == "" {
		return fallback
	}
	return sanitized
}

func snapshotSandbox(mgr *sandbox.Manager) SandboxReport {
	if mgr == nil {
		return SandboxReport{}
	}
	return SandboxReport{ResourceLimits: mgr.Limits()}
}

type sessionGate struct {
	gates sync.Map // map[string]chan struct{}
}

func newSessionGate() *sessionGate {
	return &sessionGate{}
}

func (g *sessionGate) Acquire(ctx context.Context, sessionID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		gate := make(chan struct{})
		existing, loaded := g.gates.LoadOrStore(sessionID, gate)
		if !loaded {
			if err := ctx.Err(); err != nil {
				g.Release(sessionID)
				return err
			}
			return nil
		}

		held := existing.(chan struct{}) //nolint:errcheck // sync.Map guarantees type safety for stored values
		select {
		case <-held:
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *sessionGate) Release(sessionID string) {
	if g == nil {
		return
	}
	existing, ok := g.gates.LoadAndDelete(sessionID)
	if !ok {
		return
	}
	close(existing.(chan struct{})) //nolint:errcheck // sync.Map guarantees type safety for stored values
}
