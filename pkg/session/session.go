// Package session implements the durable, listable, resumable conversation
// state: a JSON document per session under $CLAUDE_HOME/sessions/{uuid}.json,
// written via temp-file-and-rename so concurrent readers never see a torn
// file. Two processes writing the same session concurrently is accepted as
// last-writer-wins.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hearthlabs/agentloop/pkg/agenterr"
	"github.com/hearthlabs/agentloop/pkg/message"
)

// TodoItem mirrors the TodoWrite tool's list entry.
type TodoItem struct {
	Content    string `json:"content"`
	Status     string `json:"status"`
	ActiveForm string `json:"activeForm,omitempty"`
}

// Usage tracks per-model token accounting and aggregate cost/duration.
type Usage struct {
	PerModelTokens map[string]int `json:"modelUsage,omitempty"`
	TotalCostUSD   float64        `json:"totalCostUSD"`
	TotalAPIMs     int64          `json:"totalAPIDuration"`
}

// Metadata is the listing-friendly summary persisted alongside a session.
type Metadata struct {
	GitBranch    string `json:"gitBranch,omitempty"`
	CustomTitle  string `json:"customTitle,omitempty"`
	FirstPrompt  string `json:"firstPrompt,omitempty"`
	ProjectPath  string `json:"projectPath,omitempty"`
	CreatedAt    int64  `json:"created"`
	ModifiedAt   int64  `json:"modified"`
	MessageCount int    `json:"messageCount"`
}

// Session is the in-memory conversation object persisted as one JSON
// document per id.
type Session struct {
	ID        string            `json:"sessionId"`
	CWD       string            `json:"cwd"`
	StartTime int64             `json:"startTime"`
	Usage     Usage             `json:"usage"`
	Todos     []TodoItem        `json:"todos"`
	Messages  []message.Message `json:"messages"`
	Metadata  Metadata          `json:"metadata"`
}

// onDisk is the literal {state, messages, metadata} wire shape; Session is
// flattened for callers' convenience and folded into/out of this on
// save/load.
type onDisk struct {
	State struct {
		SessionID        string         `json:"sessionId"`
		CWD              string         `json:"cwd"`
		StartTime        int64          `json:"startTime"`
		TotalCostUSD     float64        `json:"totalCostUSD"`
		TotalAPIDuration int64          `json:"totalAPIDuration"`
		ModelUsage       map[string]int `json:"modelUsage,omitempty"`
		Todos            []TodoItem     `json:"todos"`
	} `json:"state"`
	Messages []message.Message `json:"messages"`
	Metadata Metadata          `json:"metadata"`
}

// Summary is one row of List()'s result.
type Summary struct {
	ID          string `json:"id"`
	StartTime   int64  `json:"startTime"`
	CWD         string `json:"cwd"`
	FirstPrompt string `json:"firstPrompt,omitempty"`
}

// Store manages sessions under a root directory, normally
// $CLAUDE_HOME/sessions.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir. dir is created lazily on first
// write, not here.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// New creates a fresh in-memory Session for cwd. It is not persisted until
// Save is called.
func (s *Store) New(cwd string) *Session {
	now := time.Now().UTC()
	branch := detectGitBranch(cwd)
	id := uuid.NewString()
	return &Session{
		ID:        id,
		CWD:       cwd,
		StartTime: now.UnixMilli(),
		Usage:     Usage{PerModelTokens: map[string]int{}},
		Todos:     nil,
		Messages:  nil,
		Metadata: Metadata{
			GitBranch:   branch,
			ProjectPath: cwd,
			CreatedAt:   now.UnixMilli(),
			ModifiedAt:  now.UnixMilli(),
		},
	}
}

// Save whole-file-replaces the session's JSON document, returning the path
// written.
func (s *Store) Save(sess *Session) (string, error) {
	if sess == nil {
		return "", errors.New("session: nil session")
	}
	if strings.TrimSpace(sess.ID) == "" {
		return "", errors.New("session: empty id")
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return "", agenterr.Wrap(agenterr.SessionIOError, fmt.Errorf("session: create sessions dir: %w", err))
	}

	sess.Metadata.ModifiedAt = time.Now().UTC().UnixMilli()
	sess.Metadata.MessageCount = len(sess.Messages)

	var doc onDisk
	doc.State.SessionID = sess.ID
	doc.State.CWD = sess.CWD
	doc.State.StartTime = sess.StartTime
	doc.State.TotalCostUSD = sess.Usage.TotalCostUSD
	doc.State.TotalAPIDuration = sess.Usage.TotalAPIMs
	doc.State.ModelUsage = sess.Usage.PerModelTokens
	doc.State.Todos = sess.Todos
	doc.Messages = message.CloneMessages(sess.Messages)
	doc.Metadata = sess.Metadata

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("session: marshal: %w", err)
	}

	path := s.path(sess.ID)
	if err := atomicWriteFile(path, data, 0o600); err != nil {
		return "", agenterr.Wrap(agenterr.SessionIOError, fmt.Errorf("session: write: %w", err))
	}
	return path, nil
}

// Load reads a session by id. A missing or corrupt file returns (nil, nil):
// reads tolerate absence, they do not error on it.
func (s *Store) Load(id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, agenterr.Wrap(agenterr.SessionIOError, fmt.Errorf("session: read: %w", err))
	}
	var doc onDisk
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil // corrupt file: tolerated, treated as absent
	}
	sess := &Session{
		ID:        doc.State.SessionID,
		CWD:       doc.State.CWD,
		StartTime: doc.State.StartTime,
		Usage: Usage{
			PerModelTokens: doc.State.ModelUsage,
			TotalCostUSD:   doc.State.TotalCostUSD,
			TotalAPIMs:     doc.State.TotalAPIDuration,
		},
		Todos:    doc.State.Todos,
		Messages: message.CloneMessages(doc.Messages),
		Metadata: doc.Metadata,
	}
	if sess.ID == "" {
		sess.ID = id
	}
	return sess, nil
}

// List returns every session's summary, sorted by startTime descending.
// Unreadable or corrupt files are skipped, not errors.
func (s *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, agenterr.Wrap(agenterr.SessionIOError, fmt.Errorf("session: list dir: %w", err))
	}
	var out []Summary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		sess, err := s.Load(id)
		if err != nil || sess == nil {
			continue
		}
		out = append(out, Summary{
			ID:          sess.ID,
			StartTime:   sess.StartTime,
			CWD:         sess.CWD,
			FirstPrompt: sess.Metadata.FirstPrompt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime > out[j].StartTime })
	return out, nil
}

// ResumeLast loads the most recently started session, or (nil, nil) when
// none exist.
func (s *Store) ResumeLast() (*Session, error) {
	summaries, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, nil
	}
	return s.Load(summaries[0].ID)
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, sanitizeID(id)+".json")
}

func sanitizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "session"
	}
	return b.String()
}

// detectGitBranch is best-effort and non-fatal: failure (not a repo, no git
// binary, detached HEAD edge cases) yields an empty branch, never an error.
func detectGitBranch(cwd string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = cwd
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	branch := strings.TrimSpace(string(out))
	if branch == "HEAD" {
		return ""
	}
	return branch
}

func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	writeErr := func() error {
		if err := tmp.Chmod(perm); err != nil {
			return err
		}
		if _, err := tmp.Write(data); err != nil {
			return err
		}
		return tmp.Close()
	}()
	if writeErr != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return writeErr
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(path)
		if retry := os.Rename(tmpName, path); retry != nil {
			_ = os.Remove(tmpName)
			return retry
		}
	}
	return nil
}
