package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthlabs/agentloop/pkg/message"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "sessions"))
}

func TestNewSeedsIdentityAndMetadata(t *testing.T) {
	store := newTestStore(t)
	sess := store.New("/tmp/project")
	require.NotEmpty(t, sess.ID)
	assert.Equal(t, "/tmp/project", sess.CWD)
	assert.Equal(t, "/tmp/project", sess.Metadata.ProjectPath)
	assert.NotZero(t, sess.StartTime)
	assert.Equal(t, sess.Metadata.CreatedAt, sess.Metadata.ModifiedAt)

	other := store.New("/tmp/project")
	assert.NotEqual(t, sess.ID, other.ID)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	sess := store.New(t.TempDir())
	sess.Messages = []message.Message{
		{Role: "user", Content: "read the file"},
		{Role: "assistant", Content: "", ToolCalls: []message.ToolCall{
			{ID: "t1", Name: "Read", Arguments: map[string]any{"file_path": "/tmp/a.txt"}},
		}},
		{Role: "user", Content: "tool result: hello"},
		{Role: "assistant", Content: "the file says hello"},
	}
	sess.Todos = []TodoItem{{Content: "summarize", Status: "in_progress", ActiveForm: "Summarizing"}}
	sess.Usage.TotalCostUSD = 0.42
	sess.Usage.PerModelTokens = map[string]int{"claude-sonnet-4-5": 1234}
	sess.Metadata.FirstPrompt = "read the file"
	want := message.CloneMessages(sess.Messages)

	path, err := store.Save(sess)
	require.NoError(t, err)
	assert.FileExists(t, path)

	loaded, err := store.Load(sess.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, sess.ID, loaded.ID)
	assert.Equal(t, sess.CWD, loaded.CWD)
	assert.Equal(t, want, loaded.Messages)
	assert.Equal(t, sess.Todos, loaded.Todos)
	assert.InDelta(t, 0.42, loaded.Usage.TotalCostUSD, 1e-9)
	assert.Equal(t, 1234, loaded.Usage.PerModelTokens["claude-sonnet-4-5"])
	assert.Equal(t, "read the file", loaded.Metadata.FirstPrompt)
	assert.Equal(t, 4, loaded.Metadata.MessageCount)
}

func TestSaveWritesStateMessagesMetadataShape(t *testing.T) {
	store := newTestStore(t)
	sess := store.New(t.TempDir())
	sess.Messages = []message.Message{{Role: "user", Content: "hi"}}

	path, err := store.Save(sess)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "state")
	assert.Contains(t, doc, "messages")
	assert.Contains(t, doc, "metadata")

	var state map[string]any
	require.NoError(t, json.Unmarshal(doc["state"], &state))
	assert.Equal(t, sess.ID, state["sessionId"])
}

func TestSaveRejectsEmptyID(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Save(&Session{ID: "   "})
	assert.Error(t, err)
	_, err = store.Save(nil)
	assert.Error(t, err)
}

func TestLoadMissingReturnsNilNil(t *testing.T) {
	store := newTestStore(t)
	sess, err := store.Load("no-such-id")
	assert.NoError(t, err)
	assert.Nil(t, sess)

	sess, err = store.Load("")
	assert.NoError(t, err)
	assert.Nil(t, sess)
}

func TestLoadCorruptFileTreatedAsAbsent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.MkdirAll(store.dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(store.dir, "broken.json"), []byte("{not json"), 0o600))

	sess, err := store.Load("broken")
	assert.NoError(t, err)
	assert.Nil(t, sess)
}

func TestListSortsByStartTimeDescendingAndSkipsCorrupt(t *testing.T) {
	store := newTestStore(t)

	older := store.New(t.TempDir())
	older.StartTime = time.Now().Add(-time.Hour).UnixMilli()
	older.Metadata.FirstPrompt = "first question"
	_, err := store.Save(older)
	require.NoError(t, err)

	newer := store.New(t.TempDir())
	newer.StartTime = time.Now().UnixMilli()
	newer.Metadata.FirstPrompt = "second question"
	_, err = store.Save(newer)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(store.dir, "junk.json"), []byte("]["), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(store.dir, "README.txt"), []byte("not a session"), 0o600))

	summaries, err := store.List()
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, newer.ID, summaries[0].ID)
	assert.Equal(t, older.ID, summaries[1].ID)
	assert.Equal(t, "second question", summaries[0].FirstPrompt)
}

func TestListEmptyDirIsNotAnError(t *testing.T) {
	store := newTestStore(t)
	summaries, err := store.List()
	assert.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestResumeLastReturnsMostRecent(t *testing.T) {
	store := newTestStore(t)

	resumed, err := store.ResumeLast()
	require.NoError(t, err)
	assert.Nil(t, resumed)

	first := store.New(t.TempDir())
	first.StartTime = time.Now().Add(-time.Minute).UnixMilli()
	_, err = store.Save(first)
	require.NoError(t, err)

	second := store.New(t.TempDir())
	second.StartTime = time.Now().UnixMilli()
	second.Messages = []message.Message{{Role: "user", Content: "continue"}}
	_, err = store.Save(second)
	require.NoError(t, err)

	resumed, err = store.ResumeLast()
	require.NoError(t, err)
	require.NotNil(t, resumed)
	assert.Equal(t, second.ID, resumed.ID)
	assert.Equal(t, message.CloneMessages(second.Messages), resumed.Messages)
}

func TestSaveIsWholeFileReplacement(t *testing.T) {
	store := newTestStore(t)
	sess := store.New(t.TempDir())
	sess.Messages = []message.Message{{Role: "user", Content: "one"}}
	path, err := store.Save(sess)
	require.NoError(t, err)

	sess.Messages = append(sess.Messages, message.Message{Role: "assistant", Content: "two"})
	path2, err := store.Save(sess)
	require.NoError(t, err)
	assert.Equal(t, path, path2)

	loaded, err := store.Load(sess.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Len(t, loaded.Messages, 2)

	// No temp files left behind by the rename.
	entries, err := os.ReadDir(store.dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, ".json", filepath.Ext(e.Name()))
	}
}

func TestSanitizeIDStripsPathCharacters(t *testing.T) {
	assert.Equal(t, "abc-123", sanitizeID("abc-123"))
	assert.Equal(t, "etcpasswd", sanitizeID("../../etc/passwd"))
	assert.Equal(t, "session", sanitizeID("///"))
}

func TestSaveUpdatesModifiedTimeAndCount(t *testing.T) {
	store := newTestStore(t)
	sess := store.New(t.TempDir())
	created := sess.Metadata.CreatedAt

	sess.Messages = []message.Message{{Role: "user", Content: "hi"}}
	_, err := store.Save(sess)
	require.NoError(t, err)
	assert.Equal(t, created, sess.Metadata.CreatedAt)
	assert.GreaterOrEqual(t, sess.Metadata.ModifiedAt, created)
	assert.Equal(t, 1, sess.Metadata.MessageCount)
}
